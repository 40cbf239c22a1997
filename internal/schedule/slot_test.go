package schedule

import (
	"testing"
	"time"
	_ "time/tzdata"
)

func everyDay() Settings {
	return Settings{
		AutoPublish: true,
		MaxPerDay:   1,
		Times:       []string{"09:00"},
		Timezone:    "UTC",
	}
}

func TestNextSlot(t *testing.T) {
	// Wednesday 2030-01-02.
	morning := time.Date(2030, 1, 2, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2030, 1, 2, 20, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		settings func() Settings
		occupied []time.Time
		now      time.Time
		want     time.Time
		wantOK   bool
	}{
		{
			name:     "same day when still ahead",
			settings: everyDay,
			now:      morning,
			want:     time.Date(2030, 1, 2, 9, 0, 0, 0, time.UTC),
			wantOK:   true,
		},
		{
			name:     "next day when today's slot passed",
			settings: everyDay,
			now:      evening,
			want:     time.Date(2030, 1, 3, 9, 0, 0, 0, time.UTC),
			wantOK:   true,
		},
		{
			name:     "skips day at cap",
			settings: everyDay,
			occupied: []time.Time{time.Date(2030, 1, 2, 15, 0, 0, 0, time.UTC)},
			now:      morning,
			want:     time.Date(2030, 1, 3, 9, 0, 0, 0, time.UTC),
			wantOK:   true,
		},
		{
			name: "skips taken instant below cap",
			settings: func() Settings {
				s := everyDay()
				s.MaxPerDay = 2
				s.Times = []string{"18:00", "09:00"}
				return s
			},
			occupied: []time.Time{time.Date(2030, 1, 2, 9, 0, 0, 0, time.UTC)},
			now:      morning,
			want:     time.Date(2030, 1, 2, 18, 0, 0, 0, time.UTC),
			wantOK:   true,
		},
		{
			name: "allowed weekdays only",
			settings: func() Settings {
				s := everyDay()
				s.Days = []int{1}
				return s
			},
			now:    morning,
			want:   time.Date(2030, 1, 7, 9, 0, 0, 0, time.UTC),
			wantOK: true,
		},
		{
			name: "timezone applied",
			settings: func() Settings {
				s := everyDay()
				s.Timezone = "America/New_York"
				return s
			},
			now:    morning,
			want:   time.Date(2030, 1, 2, 14, 0, 0, 0, time.UTC),
			wantOK: true,
		},
		{
			name: "auto publish disabled",
			settings: func() Settings {
				s := everyDay()
				s.AutoPublish = false
				return s
			},
			now: morning,
		},
		{
			name: "zero cap",
			settings: func() Settings {
				s := everyDay()
				s.MaxPerDay = 0
				return s
			},
			now: morning,
		},
		{
			name: "no valid times",
			settings: func() Settings {
				s := everyDay()
				s.Times = []string{"25:99", "noon"}
				return s
			},
			now: morning,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NextSlot(tt.settings(), Occupancy{Times: tt.occupied}, tt.now)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v (got %s)", ok, tt.wantOK, got)
			}
			if ok && !got.Equal(tt.want) {
				t.Fatalf("slot = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNextSlotHorizon(t *testing.T) {
	now := time.Date(2030, 1, 2, 8, 0, 0, 0, time.UTC)
	settings := everyDay()
	var occupied []time.Time
	for day := 0; day < HorizonDays; day++ {
		occupied = append(occupied, time.Date(2030, 1, 2+day, 9, 0, 0, 0, time.UTC))
	}
	if got, ok := NextSlot(settings, Occupancy{Times: occupied}, now); ok {
		t.Fatalf("expected no slot inside the horizon, got %s", got)
	}
}

func TestNextSlotProperties(t *testing.T) {
	settings := Settings{
		AutoPublish: true,
		MaxPerDay:   2,
		Days:        []int{2, 4, 6},
		Times:       []string{"07:30", "12:00", "21:15"},
		Timezone:    "Europe/Berlin",
	}
	loc := Location(settings.Timezone)
	now := time.Date(2030, 3, 1, 10, 0, 0, 0, time.UTC)
	var occupied []time.Time
	perDay := map[string]int{}
	for i := 0; i < 20; i++ {
		slot, ok := NextSlot(settings, Occupancy{Times: occupied}, now)
		if !ok {
			t.Fatalf("iteration %d: expected slot", i)
		}
		if !slot.After(now) {
			t.Fatalf("slot %s is not in the future", slot)
		}
		local := slot.In(loc)
		switch local.Weekday() {
		case time.Tuesday, time.Thursday, time.Saturday:
		default:
			t.Fatalf("slot %s falls on disallowed %s", slot, local.Weekday())
		}
		key := local.Format("2006-01-02")
		perDay[key]++
		if perDay[key] > settings.MaxPerDay {
			t.Fatalf("day %s exceeds cap", key)
		}
		occupied = append(occupied, slot)
	}
}

func TestDayBounds(t *testing.T) {
	now := time.Date(2030, 1, 2, 3, 0, 0, 0, time.UTC)
	start, end := DayBounds(now, "America/New_York")
	if want := time.Date(2030, 1, 1, 5, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Fatalf("start = %s, want %s", start, want)
	}
	if !end.Equal(start.Add(24 * time.Hour)) {
		t.Fatalf("end = %s", end)
	}
}
