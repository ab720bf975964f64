package analyzer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/jenian/iswith/internal/ingestor"
	"github.com/jenian/iswith/internal/model"
)

type fakeSource struct {
	workflows []model.Workflow
	runs      []model.Run
	jobs      map[int64][]model.Job
	files     map[string]string

	mu        sync.Mutex
	pagesRead int
}

func (f *fakeSource) ListWorkflows(ctx context.Context, owner, repo string) ([]model.Workflow, error) {
	return f.workflows, nil
}

func (f *fakeSource) ListRuns(ctx context.Context, owner, repo string, workflowID int64, page, perPage int) ([]model.Run, error) {
	f.mu.Lock()
	f.pagesRead++
	f.mu.Unlock()
	start := (page - 1) * perPage
	if start >= len(f.runs) {
		return nil, nil
	}
	end := min(start+perPage, len(f.runs))
	return f.runs[start:end], nil
}

func (f *fakeSource) ListJobs(ctx context.Context, owner, repo string, runID int64) ([]model.Job, error) {
	return f.jobs[runID], nil
}

func (f *fakeSource) FetchWorkflowFile(ctx context.Context, owner, repo, path string) (string, error) {
	content, ok := f.files[path]
	if !ok {
		return "", fmt.Errorf("%w: %s", model.ErrNotFound, path)
	}
	return content, nil
}

type fakeLogs struct {
	runs    map[int64]string
	runErrs map[int64]error
	jobs    map[int64]string
	jobErrs map[int64]error
}

func (f *fakeLogs) FetchRunLog(ctx context.Context, ref model.LogRef) (*ingestor.Log, error) {
	if err := f.runErrs[ref.RunID]; err != nil {
		return nil, err
	}
	return &ingestor.Log{Text: f.runs[ref.RunID]}, nil
}

func (f *fakeLogs) FetchJobLog(ctx context.Context, ref model.LogRef) (*ingestor.Log, error) {
	if err := f.jobErrs[ref.JobID]; err != nil {
		return nil, err
	}
	return &ingestor.Log{Text: f.jobs[ref.JobID]}, nil
}

var testRepo = model.Repository{Owner: "octo", Name: "app"}

func runs(n int) []model.Run {
	out := make([]model.Run, n)
	for i := range out {
		out[i] = model.Run{ID: int64(i + 1), RunNumber: n - i}
	}
	return out
}

func TestSelectWorkflows(t *testing.T) {
	all := []model.Workflow{
		{ID: 1, Name: "CI", Path: ".github/workflows/ci.yml"},
		{ID: 2, Name: "Deploy Production", Path: ".github/workflows/deploy.yml"},
		{ID: 3, Name: "Release", Path: ".github/workflows/release-drafter.yml"},
	}
	tests := []struct {
		query string
		want  []int64
	}{
		{"deploy", []int64{2}},
		{"DEPLOY", []int64{2}},
		{"workflows", []int64{1, 2, 3}},
		{"release-*.yml", []int64{3}},
		{"**/*.yml", []int64{1, 2, 3}},
		{".github/workflows/{ci,deploy}.yml", []int64{1, 2}},
		{"nothing", nil},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var got []int64
			for _, w := range SelectWorkflows(all, tt.query) {
				got = append(got, w.ID)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SelectWorkflows(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestRecentRuns(t *testing.T) {
	src := &fakeSource{runs: runs(25)}
	a := New(src, &fakeLogs{})
	wf := model.Workflow{ID: 9}

	got, err := a.RecentRuns(context.Background(), testRepo, wf, 12, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 12 || got[11].ID != 12 {
		t.Errorf("Expected the 12 most recent runs, got %d", len(got))
	}
	if src.pagesRead != 2 {
		t.Errorf("Expected 2 pages read, got %d", src.pagesRead)
	}

	got, err = a.RecentRuns(context.Background(), testRepo, wf, 100, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 25 {
		t.Errorf("Expected all 25 runs, got %d", len(got))
	}
}

const deployFile = `
name: Deploy
on:
  workflow_dispatch:
    inputs:
      environment:
        type: choice
        options: [staging, production]
      dry_run:
        type: boolean
`

func usageFixture() (*fakeSource, *fakeLogs) {
	src := &fakeSource{
		runs:  runs(5),
		files: map[string]string{".github/workflows/deploy.yml": deployFile},
	}
	logs := &fakeLogs{
		runs: map[int64]string{
			1: "2024-05-01T10:00:00.0000000Z echo ${{ inputs.environment }}\nversion=${{ inputs.version }}\n",
			2: "deploying github.event.inputs.environment\n",
			4: "nothing to see here\n",
			5: "Input environment: production\n",
		},
		runErrs: map[int64]error{
			3: fmt.Errorf("%w: blob store answered 403 Forbidden", model.ErrLogUnavailable),
		},
	}
	return src, logs
}

func TestAnalyzeUsage(t *testing.T) {
	src, logs := usageFixture()
	var calls []int
	a := New(src, logs, WithConcurrency(3), WithProgress(func(done, total int) {
		if total != 5 {
			t.Errorf("Expected total 5, got %d", total)
		}
		calls = append(calls, done)
	}))
	wf := model.Workflow{ID: 9, Name: "Deploy", Path: ".github/workflows/deploy.yml"}

	res, err := a.AnalyzeUsage(context.Background(), testRepo, wf, 5, 10)
	if err != nil {
		t.Fatalf("AnalyzeUsage() error = %v", err)
	}

	if len(res.Statistics) != 2 {
		t.Fatalf("Expected 2 statistics, got %+v", res.Statistics)
	}
	env := res.Statistics[0]
	if env.Name != "environment" || env.RunsFound != 3 || env.Frequency != 0.6 {
		t.Errorf("Unexpected environment statistic: %+v", env)
	}
	version := res.Statistics[1]
	if version.Name != "version" || version.RunsFound != 1 || version.Frequency != 0.2 {
		t.Errorf("Unexpected version statistic: %+v", version)
	}

	if res.Report.Attempted != 5 || res.Report.Skipped() != 1 || res.Report.Silent != 1 {
		t.Errorf("Unexpected report: attempted=%d skipped=%d silent=%d", res.Report.Attempted, res.Report.Skipped(), res.Report.Silent)
	}
	if !errors.Is(res.Report.Err(), model.ErrLogUnavailable) {
		t.Errorf("Expected the skipped run's error in the report, got %v", res.Report.Err())
	}

	if res.Definition == nil || len(res.Definition.Inputs) != 2 {
		t.Fatalf("Expected the workflow definition, got %+v", res.Definition)
	}
	if len(res.Entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(res.Entries))
	}
	if res.Entries[0].Declared == nil || res.Entries[1].Declared != nil || res.Entries[2].Name != "dry_run" {
		t.Errorf("Unexpected entries: %+v", res.Entries)
	}

	if len(calls) != 5 || calls[4] != 5 {
		t.Errorf("Expected 5 progress calls ending at 5, got %v", calls)
	}
}

func TestAnalyzeUsage_Deterministic(t *testing.T) {
	src, logs := usageFixture()
	wf := model.Workflow{ID: 9, Path: ".github/workflows/deploy.yml"}

	first, err := New(src, logs, WithConcurrency(4)).AnalyzeUsage(context.Background(), testRepo, wf, 5, 2)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := New(src, logs, WithConcurrency(4)).AnalyzeUsage(context.Background(), testRepo, wf, 5, 2)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first.Statistics, again.Statistics) {
			t.Fatalf("Statistics differ between runs:\n%+v\n%+v", first.Statistics, again.Statistics)
		}
	}
}

func TestAnalyzeUsage_AuthFailureIsFatal(t *testing.T) {
	src, logs := usageFixture()
	logs.runErrs[2] = fmt.Errorf("%w: token expired", model.ErrAuth)
	a := New(src, logs)

	_, err := a.AnalyzeUsage(context.Background(), testRepo, model.Workflow{ID: 9, Path: "missing.yml"}, 5, 10)
	if !errors.Is(err, model.ErrAuth) {
		t.Errorf("Expected ErrAuth, got %v", err)
	}
}

func TestAnalyzeUsage_NoRuns(t *testing.T) {
	a := New(&fakeSource{}, &fakeLogs{})
	res, err := a.AnalyzeUsage(context.Background(), testRepo, model.Workflow{ID: 9, Path: "missing.yml"}, 10, 10)
	if err != nil {
		t.Fatalf("AnalyzeUsage() error = %v", err)
	}
	if len(res.Statistics) != 0 || res.Definition != nil || res.Report.Attempted != 0 {
		t.Errorf("Expected an empty result, got %+v", res)
	}
}

const calledJobLog = `2024-05-01T10:00:00.0000000Z ##[group]Operating System
2024-05-01T10:00:00.0000000Z Ubuntu
2024-05-01T10:00:00.0000000Z ##[endgroup]
2024-05-01T10:00:00.1000000Z ##[group] Inputs
2024-05-01T10:00:00.1000000Z   PAYLOAD: {"a":1}
2024-05-01T10:00:00.1000000Z   ref: main
2024-05-01T10:00:00.1000000Z ##[endgroup]
`

func TestAnalyzeJobs(t *testing.T) {
	src := &fakeSource{
		runs: runs(3),
		jobs: map[int64][]model.Job{
			1: {{ID: 10, Name: "call"}, {ID: 11, Name: "trigger"}, {ID: 12, Name: "broken"}},
		},
	}
	logs := &fakeLogs{
		jobs: map[int64]string{
			10: calledJobLog,
			11: "2024-05-01T10:00:00.0000000Z Run echo ${{ inputs.target }}\n",
		},
		jobErrs: map[int64]error{12: fmt.Errorf("%w: gone", model.ErrLogUnavailable)},
	}
	a := New(src, logs, WithConcurrency(2))

	res, err := a.AnalyzeJobs(context.Background(), testRepo, model.Workflow{ID: 9, Path: "missing.yml"}, 0)
	if err != nil {
		t.Fatalf("AnalyzeJobs() error = %v", err)
	}
	if res.Run == nil || res.Run.ID != 1 {
		t.Fatalf("Expected the latest run, got %+v", res.Run)
	}
	if len(res.Jobs) != 3 {
		t.Fatalf("Expected 3 job results, got %d", len(res.Jobs))
	}

	called := res.Jobs[0]
	if !called.Found || len(called.Inputs) != 2 {
		t.Fatalf("Expected two inputs from the called job, got %+v", called)
	}
	if called.Inputs[0].Name != "PAYLOAD" || called.Inputs[0].Value != `{"a":1}` || called.Inputs[1].Value != "main" {
		t.Errorf("Unexpected inputs: %+v", called.Inputs)
	}

	trigger := res.Jobs[1]
	if trigger.Found || len(trigger.Referenced) != 1 || trigger.Referenced[0].Name != "target" {
		t.Errorf("Expected a referenced input on the trigger job, got %+v", trigger)
	}

	if !errors.Is(res.Jobs[2].Err, model.ErrLogUnavailable) {
		t.Errorf("Expected the broken job to carry its error, got %v", res.Jobs[2].Err)
	}
	if res.Report.Skipped() != 1 || res.Report.Silent != 1 || res.Report.Attempted != 3 {
		t.Errorf("Unexpected report: %+v", res.Report)
	}
}

func TestAnalyzeJobs_GivenRunAndNoRuns(t *testing.T) {
	src := &fakeSource{jobs: map[int64][]model.Job{42: {{ID: 1, Name: "only"}}}}
	logs := &fakeLogs{jobs: map[int64]string{1: calledJobLog}}
	a := New(src, logs)

	res, err := a.AnalyzeJobs(context.Background(), testRepo, model.Workflow{ID: 9}, 42)
	if err != nil {
		t.Fatal(err)
	}
	if res.Run.ID != 42 || len(res.Jobs) != 1 || !res.Jobs[0].Found {
		t.Errorf("Unexpected result for explicit run: %+v", res)
	}

	res, err = a.AnalyzeJobs(context.Background(), testRepo, model.Workflow{ID: 9}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Run != nil || len(res.Jobs) != 0 {
		t.Errorf("Expected no run for a workflow without runs, got %+v", res)
	}
}
