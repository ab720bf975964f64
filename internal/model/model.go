package model

import (
	"strings"
	"time"
)

// Source identifies where an input was discovered
type Source string

const (
	SourceInputsSection    Source = "inputs_section"
	SourceWorkflowDispatch Source = "workflow_dispatch"
	SourceWorkflowCall     Source = "workflow_call"
	SourceStepLogs         Source = "step_logs"
)

// MaxContexts is the number of unique context lines kept per input within one run
const MaxContexts = 3

// ExtractedInput is one occurrence of a candidate input found in log text
type ExtractedInput struct {
	Name       string `json:"name"`
	Value      string `json:"value,omitempty"`
	Source     Source `json:"source"`
	LineNumber int    `json:"line_number"`
}

// Key returns the normalized name used to index the input
func (in ExtractedInput) Key() string {
	return strings.ToLower(in.Name)
}

// RunInputSet holds the inputs of one run or job keyed by normalized name.
// A later Put for an existing key replaces the value but keeps its position.
type RunInputSet struct {
	index  map[string]int
	inputs []ExtractedInput
}

// NewRunInputSet creates an empty set
func NewRunInputSet() *RunInputSet {
	return &RunInputSet{index: make(map[string]int)}
}

// Put stores the input, overwriting any earlier entry with the same key
func (s *RunInputSet) Put(in ExtractedInput) {
	key := in.Key()
	if i, ok := s.index[key]; ok {
		s.inputs[i] = in
		return
	}
	s.index[key] = len(s.inputs)
	s.inputs = append(s.inputs, in)
}

// Get looks up an input by name, case-insensitively
func (s *RunInputSet) Get(name string) (ExtractedInput, bool) {
	if s == nil {
		return ExtractedInput{}, false
	}
	i, ok := s.index[strings.ToLower(name)]
	if !ok {
		return ExtractedInput{}, false
	}
	return s.inputs[i], true
}

// Len returns the number of distinct inputs
func (s *RunInputSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.inputs)
}

// Inputs returns a copy of the inputs in first-emission order
func (s *RunInputSet) Inputs() []ExtractedInput {
	if s == nil {
		return nil
	}
	out := make([]ExtractedInput, len(s.inputs))
	copy(out, s.inputs)
	return out
}

// Usage converts resolved values into the usage shape so value-mode runs
// can be aggregated like mined runs: each input counts once per run.
func (s *RunInputSet) Usage() UsageSet {
	var us UsageSet
	for _, in := range s.Inputs() {
		us.Observe(in.Key(), in.Name+": "+in.Value)
	}
	return us
}

// Usage counts how often one input name was referenced within a run
type Usage struct {
	Name     string   `json:"name"`
	Count    int      `json:"count"`
	Contexts []string `json:"contexts"`
}

// UsageSet maps name to usage while preserving first-seen order
type UsageSet struct {
	index map[string]int
	items []Usage
}

// Observe records one reference to name with the line it was found on
func (u *UsageSet) Observe(name, context string) {
	if u.index == nil {
		u.index = make(map[string]int)
	}
	i, ok := u.index[name]
	if !ok {
		i = len(u.items)
		u.index[name] = i
		u.items = append(u.items, Usage{Name: name})
	}
	item := &u.items[i]
	item.Count++

	context = strings.TrimSpace(context)
	if context == "" || len(item.Contexts) >= MaxContexts {
		return
	}
	for _, c := range item.Contexts {
		if c == context {
			return
		}
	}
	item.Contexts = append(item.Contexts, context)
}

// Get returns the usage recorded for name
func (u UsageSet) Get(name string) (Usage, bool) {
	i, ok := u.index[name]
	if !ok {
		return Usage{}, false
	}
	return u.items[i], true
}

// Len returns the number of distinct names
func (u UsageSet) Len() int {
	return len(u.items)
}

// Items returns the usages in first-seen order
func (u UsageSet) Items() []Usage {
	out := make([]Usage, len(u.items))
	copy(out, u.items)
	return out
}

// InputStatistic is the aggregate view of one input across a batch of runs
type InputStatistic struct {
	Name       string   `json:"name"`
	TotalUsage int      `json:"total_usage"`
	RunsFound  int      `json:"runs_found"`
	Frequency  float64  `json:"frequency"`
	Examples   []string `json:"examples"`
}

// WorkflowInput is an input declared in a workflow definition
type WorkflowInput struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required"`
	Default     string   `json:"default,omitempty"`
	Options     []string `json:"options,omitempty"`
	Sources     []Source `json:"sources"`
}

// SourceLabel joins the declaring triggers, e.g. "workflow_dispatch, workflow_call"
func (w WorkflowInput) SourceLabel() string {
	parts := make([]string, len(w.Sources))
	for i, s := range w.Sources {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}

// Workflow is a workflow registered in a repository
type Workflow struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Path  string `json:"path"`
	State string `json:"state"`
}

// Run is one execution of a workflow
type Run struct {
	ID         int64     `json:"id"`
	RunNumber  int       `json:"run_number"`
	Status     string    `json:"status"`
	Conclusion string    `json:"conclusion"`
	CreatedAt  time.Time `json:"created_at"`
	Event      string    `json:"event"`
}

// Job is one job of a workflow run
type Job struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
}

// Repository identifies an owner/repo pair
type Repository struct {
	Owner string
	Name  string
}

// ParseRepository splits "owner/repo"
func ParseRepository(s string) (Repository, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repository{}, ErrInvalidRepository
	}
	return Repository{Owner: owner, Name: name}, nil
}

func (r Repository) String() string {
	return r.Owner + "/" + r.Name
}

// LogRef points at the log of a run or of a single job
type LogRef struct {
	Repo  Repository
	RunID int64
	JobID int64
}

// IsJob reports whether the reference targets a job log
func (r LogRef) IsJob() bool {
	return r.JobID != 0
}
