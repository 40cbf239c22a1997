package schedule

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"storyloom/internal/queue"
)

// HorizonDays bounds how far ahead NextSlot searches.
const HorizonDays = 60

// Settings are the publishing constraints of one project.
type Settings struct {
	AutoPublish bool
	MaxPerDay   int
	// Days holds allowed weekdays, 0 = Sunday. Empty allows every day.
	Days     []int
	Times    []string
	Timezone string
}

// Occupancy lists instants already scheduled or published.
type Occupancy struct {
	Times []time.Time
}

// SettingsFromProject extracts publishing settings from a project row.
func SettingsFromProject(p *queue.Project) Settings {
	if p == nil {
		return Settings{}
	}
	return Settings{
		AutoPublish: p.AutoPublish,
		MaxPerDay:   p.MaxPublicationsPerDay,
		Days:        append([]int(nil), p.PublicationDays...),
		Times:       append([]string(nil), p.PublicationTimes...),
		Timezone:    p.PublicationTimezone,
	}
}

// NextSlot returns the earliest future instant on an allowed weekday, at an
// allowed time of day, whose local date is below the daily cap and that is
// not already taken. ok is false when auto-publish is off or nothing fits
// within HorizonDays.
func NextSlot(settings Settings, occupied Occupancy, now time.Time) (time.Time, bool) {
	if !settings.AutoPublish {
		return time.Time{}, false
	}
	return FindSlot(settings, occupied, now)
}

// FindSlot is NextSlot without the auto-publish gate. Manual approval uses it.
func FindSlot(settings Settings, occupied Occupancy, now time.Time) (time.Time, bool) {
	if settings.MaxPerDay <= 0 {
		return time.Time{}, false
	}
	loc := Location(settings.Timezone)
	slots := parseTimes(settings.Times)
	if len(slots) == 0 {
		return time.Time{}, false
	}
	allowed := weekdaySet(settings.Days)

	perDay := make(map[string]int)
	taken := make(map[int64]struct{}, len(occupied.Times))
	for _, at := range occupied.Times {
		perDay[dateKey(at.In(loc))]++
		taken[at.Unix()] = struct{}{}
	}

	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	for offset := 0; offset < HorizonDays; offset++ {
		day := start.AddDate(0, 0, offset)
		if !allowed[day.Weekday()] {
			continue
		}
		if perDay[dateKey(day)] >= settings.MaxPerDay {
			continue
		}
		for _, slot := range slots {
			candidate := time.Date(day.Year(), day.Month(), day.Day(), slot.hour, slot.minute, 0, 0, loc)
			if !candidate.After(now) {
				continue
			}
			if _, ok := taken[candidate.Unix()]; ok {
				continue
			}
			return candidate.UTC(), true
		}
	}
	return time.Time{}, false
}

type timeOfDay struct {
	hour   int
	minute int
}

// ParseTimeOfDay parses an "HH:MM" string.
func ParseTimeOfDay(value string) (int, int, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q: want HH:MM", value)
	}
	return parsed.Hour(), parsed.Minute(), nil
}

func parseTimes(values []string) []timeOfDay {
	seen := make(map[timeOfDay]struct{}, len(values))
	slots := make([]timeOfDay, 0, len(values))
	for _, value := range values {
		hour, minute, err := ParseTimeOfDay(value)
		if err != nil {
			continue
		}
		slot := timeOfDay{hour: hour, minute: minute}
		if _, dup := seen[slot]; dup {
			continue
		}
		seen[slot] = struct{}{}
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].hour != slots[j].hour {
			return slots[i].hour < slots[j].hour
		}
		return slots[i].minute < slots[j].minute
	})
	return slots
}

func weekdaySet(days []int) map[time.Weekday]bool {
	set := make(map[time.Weekday]bool, 7)
	for _, day := range days {
		if day >= 0 && day <= 6 {
			set[time.Weekday(day)] = true
		}
	}
	if len(set) == 0 {
		for day := time.Sunday; day <= time.Saturday; day++ {
			set[day] = true
		}
	}
	return set
}

// Location resolves an IANA zone name, falling back to UTC.
func Location(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DayBounds returns the start of the local calendar day containing now and
// the start of the following day, both in UTC.
func DayBounds(now time.Time, timezone string) (time.Time, time.Time) {
	local := now.In(Location(timezone))
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
