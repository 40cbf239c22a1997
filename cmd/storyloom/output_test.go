package main

import (
	"reflect"
	"testing"
)

func TestParseDays(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		want    []int
		wantErr bool
	}{
		{name: "short names", input: []string{"mon", "Wed"}, want: []int{1, 3}},
		{name: "full names", input: []string{"Sunday", "saturday"}, want: []int{0, 6}},
		{name: "numbers", input: []string{"2", " 4 "}, want: []int{2, 4}},
		{name: "blank entries skipped", input: []string{"", "fri"}, want: []int{5}},
		{name: "empty", input: nil, want: nil},
		{name: "out of range", input: []string{"7"}, wantErr: true},
		{name: "unknown name", input: []string{"someday"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDays(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %v", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseDays failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("parseDays(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatDays(t *testing.T) {
	if got := formatDays(nil); got != "every day" {
		t.Fatalf("formatDays(nil) = %q", got)
	}
	if got := formatDays([]int{0, 5, 9}); got != "Sun,Fri" {
		t.Fatalf("formatDays = %q, want Sun,Fri", got)
	}
}

func TestShortID(t *testing.T) {
	tests := map[string]string{
		"3f2a9c1e-7b4d-4c1a-9e2f-0a1b2c3d4e5f": "3f2a9c1e",
		"job-1":                                "job-1",
		"":                                     "",
	}
	for input, want := range tests {
		if got := shortID(input); got != want {
			t.Fatalf("shortID(%q) = %q, want %q", input, got, want)
		}
	}
}
