package renderer

import (
	"encoding/json"
	"io"

	"github.com/jenian/iswith/internal/analyzer"
	"github.com/jenian/iswith/internal/enricher"
	"github.com/jenian/iswith/internal/model"
)

type usageJSON struct {
	Workflow       model.Workflow        `json:"workflow"`
	RunsConsidered int                   `json:"runs_considered"`
	RunsSkipped    int                   `json:"runs_skipped"`
	RunsSilent     int                   `json:"runs_silent"`
	Inputs         []enricher.Entry      `json:"inputs"`
	Declared       []model.WorkflowInput `json:"declared"`
	Errors         []string              `json:"errors,omitempty"`
}

type jobJSON struct {
	Job        model.Job              `json:"job"`
	Found      bool                   `json:"inputs_section_found"`
	Inputs     []model.ExtractedInput `json:"inputs"`
	Referenced []model.ExtractedInput `json:"referenced,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

type jobsJSON struct {
	Workflow model.Workflow        `json:"workflow"`
	Run      *model.Run            `json:"run"`
	Declared []model.WorkflowInput `json:"declared"`
	Jobs     []jobJSON             `json:"jobs"`
}

// UsageJSON is the JSON view of a usage result
func UsageJSON(res *analyzer.UsageResult) any {
	v := usageJSON{
		Workflow:       res.Workflow,
		RunsConsidered: res.Report.Attempted,
		RunsSkipped:    res.Report.Skipped(),
		RunsSilent:     res.Report.Silent,
		Inputs:         res.Entries,
		Declared:       []model.WorkflowInput{},
		Errors:         errorStrings(res.Report.Err()),
	}
	if v.Inputs == nil {
		v.Inputs = []enricher.Entry{}
	}
	if res.Definition != nil && res.Definition.Inputs != nil {
		v.Declared = res.Definition.Inputs
	}
	return v
}

// JobsJSON is the JSON view of a jobs result
func JobsJSON(res *analyzer.JobsResult) any {
	v := jobsJSON{
		Workflow: res.Workflow,
		Run:      res.Run,
		Declared: []model.WorkflowInput{},
		Jobs:     make([]jobJSON, 0, len(res.Jobs)),
	}
	if res.Definition != nil && res.Definition.Inputs != nil {
		v.Declared = res.Definition.Inputs
	}
	for _, jr := range res.Jobs {
		j := jobJSON{Job: jr.Job, Found: jr.Found, Inputs: jr.Inputs, Referenced: jr.Referenced}
		if j.Inputs == nil {
			j.Inputs = []model.ExtractedInput{}
		}
		if jr.Err != nil {
			j.Error = jr.Err.Error()
		}
		v.Jobs = append(v.Jobs, j)
	}
	return v
}

// WriteJSON writes v as indented JSON
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func errorStrings(err error) []string {
	if err == nil {
		return nil
	}
	type wrapped interface{ WrappedErrors() []error }
	if me, ok := err.(wrapped); ok {
		var out []string
		for _, e := range me.WrappedErrors() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
