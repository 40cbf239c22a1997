package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"storyloom/internal/queue"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

// shortID trims identifiers to their first block for table output.
func shortID(id string) string {
	if idx := strings.IndexByte(id, '-'); idx > 0 && len(id) > 12 {
		return id[:idx]
	}
	return id
}

func formatWhen(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatWhenPtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatWhen(*t)
}

func statusColor(out io.Writer, status queue.JobStatus) string {
	var colors text.Colors
	switch status {
	case queue.JobCompleted:
		colors = text.Colors{text.FgGreen}
	case queue.JobFailed:
		colors = text.Colors{text.FgRed}
	case queue.JobProcessing:
		colors = text.Colors{text.FgCyan}
	case queue.JobCancelled:
		colors = text.Colors{text.FgHiBlack}
	default:
		return string(status)
	}
	return colorize(out, string(status), colors)
}

// parseDays converts comma-separated weekday numbers or names into 0-6 values
// with Sunday as 0.
func parseDays(values []string) ([]int, error) {
	names := map[string]int{
		"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
	}
	var days []int
	for _, raw := range values {
		value := strings.ToLower(strings.TrimSpace(raw))
		if value == "" {
			continue
		}
		if day, ok := names[value]; ok {
			days = append(days, day)
			continue
		}
		if len(value) > 3 {
			if day, ok := names[value[:3]]; ok {
				days = append(days, day)
				continue
			}
		}
		day, err := strconv.Atoi(value)
		if err != nil || day < 0 || day > 6 {
			return nil, fmt.Errorf("invalid weekday %q", raw)
		}
		days = append(days, day)
	}
	return days, nil
}

func formatDays(days []int) string {
	if len(days) == 0 {
		return "every day"
	}
	labels := make([]string, 0, len(days))
	for _, day := range days {
		if day >= 0 && day <= 6 {
			labels = append(labels, time.Weekday(day).String()[:3])
		}
	}
	return strings.Join(labels, ",")
}
