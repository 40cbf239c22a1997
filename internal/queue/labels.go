package queue

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Label renders a stage for humans, e.g. "Queued For Publishing".
func (s TopicStage) Label() string {
	if s == "" {
		return "Unknown"
	}
	return humanize(string(s))
}

// Label renders a job type for humans, e.g. "Generate Visual Asset".
func (t JobType) Label() string {
	if t == "" {
		return "Unknown"
	}
	return humanize(string(t))
}

// humanize title-cases an identifier. Casers are stateful, so each call gets its own.
func humanize(value string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(value, "_", " "))
}
