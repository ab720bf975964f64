package enricher

import (
	"strings"

	"github.com/jenian/iswith/internal/model"
)

// Entry is an observed statistic joined with the input's declaration, if any
type Entry struct {
	model.InputStatistic
	Declared *model.WorkflowInput `json:"declared,omitempty"`
}

// Observed reports whether the input showed up in any run
func (e Entry) Observed() bool {
	return e.RunsFound > 0
}

// Enrich joins statistics with the declared inputs of the workflow.
// Statistics keep their ranking; declared inputs never observed follow in
// declaration order with zero usage.
func Enrich(stats []model.InputStatistic, declared []model.WorkflowInput) []Entry {
	byName := make(map[string]int, len(declared))
	for i, in := range declared {
		byName[strings.ToLower(in.Name)] = i
	}

	entries := make([]Entry, 0, len(stats)+len(declared))
	seen := make(map[int]bool, len(declared))
	for _, s := range stats {
		e := Entry{InputStatistic: s}
		if i, ok := byName[strings.ToLower(s.Name)]; ok {
			in := declared[i]
			e.Declared = &in
			seen[i] = true
		}
		entries = append(entries, e)
	}

	for i, in := range declared {
		if seen[i] {
			continue
		}
		entries = append(entries, Entry{
			InputStatistic: model.InputStatistic{Name: strings.ToLower(in.Name), Examples: []string{}},
			Declared:       &in,
		})
	}
	return entries
}

// Undeclared returns the observed inputs that the workflow file does not declare
func Undeclared(entries []Entry) []string {
	var names []string
	for _, e := range entries {
		if e.Declared == nil && e.Observed() {
			names = append(names, e.Name)
		}
	}
	return names
}
