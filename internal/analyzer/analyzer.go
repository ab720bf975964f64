// Package analyzer drives input discovery for a repository: it selects
// workflows, fetches run and job logs concurrently, mines them and reduces
// the results into statistics.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/errgroup"

	"github.com/jenian/iswith/internal/aggregator"
	"github.com/jenian/iswith/internal/enricher"
	"github.com/jenian/iswith/internal/extractor"
	"github.com/jenian/iswith/internal/ingestor"
	"github.com/jenian/iswith/internal/model"
	"github.com/jenian/iswith/internal/scanner"
	"github.com/jenian/iswith/internal/workflow"
)

// DefaultConcurrency is the number of logs fetched at once
const DefaultConcurrency = 4

// Source lists repository objects from the GitHub API
type Source interface {
	ListWorkflows(ctx context.Context, owner, repo string) ([]model.Workflow, error)
	ListRuns(ctx context.Context, owner, repo string, workflowID int64, page, perPage int) ([]model.Run, error)
	ListJobs(ctx context.Context, owner, repo string, runID int64) ([]model.Job, error)
	FetchWorkflowFile(ctx context.Context, owner, repo, path string) (string, error)
}

// LogFetcher retrieves decoded logs
type LogFetcher interface {
	FetchRunLog(ctx context.Context, ref model.LogRef) (*ingestor.Log, error)
	FetchJobLog(ctx context.Context, ref model.LogRef) (*ingestor.Log, error)
}

// ProgressFunc is called after each run or job completes. Calls are serialized.
type ProgressFunc func(done, total int)

// Analyzer coordinates the API source, log retrieval and the mining passes
type Analyzer struct {
	src         Source
	logs        LogFetcher
	log         zerolog.Logger
	concurrency int
	progress    ProgressFunc
}

// Option configures an Analyzer
type Option func(*Analyzer)

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(a *Analyzer) { a.log = l }
}

// WithConcurrency bounds the number of concurrent log fetches
func WithConcurrency(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithProgress registers a progress callback
func WithProgress(fn ProgressFunc) Option {
	return func(a *Analyzer) { a.progress = fn }
}

// New creates an Analyzer
func New(src Source, logs LogFetcher, opts ...Option) *Analyzer {
	a := &Analyzer{
		src:         src,
		logs:        logs,
		log:         zerolog.Nop(),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Report accounts for the runs or jobs of one batch
type Report struct {
	Attempted int
	// Silent counts items that were read successfully but yielded no inputs
	Silent int
	errs   *multierror.Error
}

func (r *Report) skip(kind string, id int64, err error) {
	r.errs = multierror.Append(r.errs, fmt.Errorf("%s %d: %w", kind, id, err))
}

// Skipped returns the number of items that failed
func (r *Report) Skipped() int {
	if r.errs == nil {
		return 0
	}
	return len(r.errs.Errors)
}

// Err returns the collected failures, or nil
func (r *Report) Err() error {
	return r.errs.ErrorOrNil()
}

// Workflows lists the workflows of a repository
func (a *Analyzer) Workflows(ctx context.Context, repo model.Repository) ([]model.Workflow, error) {
	return a.src.ListWorkflows(ctx, repo.Owner, repo.Name)
}

// SelectWorkflows filters workflows by query. A query holding glob meta
// characters is matched against the workflow path and file name; anything
// else is a case-insensitive substring of the name or path.
func SelectWorkflows(all []model.Workflow, query string) []model.Workflow {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	glob := strings.ContainsAny(query, "*?[{")
	lower := strings.ToLower(query)

	var selected []model.Workflow
	for _, w := range all {
		var ok bool
		if glob {
			ok = matchGlob(query, w.Path) || matchGlob(query, path.Base(w.Path))
		} else {
			ok = strings.Contains(strings.ToLower(w.Name), lower) || strings.Contains(strings.ToLower(w.Path), lower)
		}
		if ok {
			selected = append(selected, w)
		}
	}
	return selected
}

func matchGlob(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}

// Definition fetches and parses the workflow file
func (a *Analyzer) Definition(ctx context.Context, repo model.Repository, wf model.Workflow) (*workflow.Definition, error) {
	content, err := a.src.FetchWorkflowFile(ctx, repo.Owner, repo.Name, wf.Path)
	if err != nil {
		return nil, err
	}
	return workflow.Parse([]byte(content))
}

// RecentRuns returns up to n of the most recent runs of a workflow
func (a *Analyzer) RecentRuns(ctx context.Context, repo model.Repository, wf model.Workflow, n, perPage int) ([]model.Run, error) {
	if perPage <= 0 {
		perPage = n
	}
	var runs []model.Run
	for page := 1; len(runs) < n; page++ {
		batch, err := a.src.ListRuns(ctx, repo.Owner, repo.Name, wf.ID, page, perPage)
		if err != nil {
			return nil, err
		}
		runs = append(runs, batch...)
		if len(batch) < perPage {
			break
		}
	}
	if len(runs) > n {
		runs = runs[:n]
	}
	return runs, nil
}

// UsageResult is the outcome of mining the recent runs of one workflow
type UsageResult struct {
	Workflow   model.Workflow
	Runs       []model.Run
	Statistics []model.InputStatistic
	// Definition is nil when the workflow file could not be read
	Definition *workflow.Definition
	Entries    []enricher.Entry
	Report     *Report
}

type runOutcome struct {
	index int
	run   model.Run
	set   model.UsageSet
	err   error
}

// AnalyzeUsage mines the n most recent runs of a workflow and aggregates the
// inputs they reference. Failed runs are skipped and still count as
// considered; only authentication failures abort the batch.
func (a *Analyzer) AnalyzeUsage(ctx context.Context, repo model.Repository, wf model.Workflow, n, perPage int) (*UsageResult, error) {
	result := &UsageResult{Workflow: wf, Report: &Report{}}

	def, err := a.Definition(ctx, repo, wf)
	if err != nil {
		if errors.Is(err, model.ErrAuth) {
			return nil, err
		}
		a.log.Warn().Err(err).Str("workflow", wf.Path).Msg("could not read workflow definition")
	}
	result.Definition = def

	runs, err := a.RecentRuns(ctx, repo, wf, n, perPage)
	if err != nil {
		return nil, err
	}
	result.Runs = runs
	result.Report.Attempted = len(runs)

	outcomes := a.mineRuns(ctx, repo, runs)

	agg := aggregator.New()
	for _, o := range outcomes {
		switch {
		case o.err != nil && !model.IsSkippable(o.err):
			return nil, o.err
		case o.err != nil:
			a.log.Warn().Err(o.err).Int64("run_id", o.run.ID).Str("workflow", wf.Name).Msg("skipping run")
			result.Report.skip("run", o.run.ID, o.err)
			agg.Skip()
		case o.set.Len() == 0:
			a.log.Info().Int64("run_id", o.run.ID).Msg("no input references in run log")
			result.Report.Silent++
			agg.Skip()
		default:
			agg.Add(o.set)
		}
	}
	result.Statistics = agg.Statistics()

	var declared []model.WorkflowInput
	if def != nil {
		declared = def.Inputs
	}
	result.Entries = enricher.Enrich(result.Statistics, declared)
	return result, nil
}

// mineRuns fetches and mines every run on a bounded pool and returns the
// outcomes in submission order
func (a *Analyzer) mineRuns(ctx context.Context, repo model.Repository, runs []model.Run) []runOutcome {
	tick := a.ticker(len(runs))
	p := pool.NewWithResults[runOutcome]().WithMaxGoroutines(a.concurrency)
	for i, run := range runs {
		p.Go(func() runOutcome {
			defer tick()
			o := runOutcome{index: i, run: run}
			log, err := a.logs.FetchRunLog(ctx, model.LogRef{Repo: repo, RunID: run.ID})
			if err != nil {
				o.err = err
				return o
			}
			o.set = extractor.UsageString(log.Text)
			return o
		})
	}
	outcomes := p.Wait()
	slices.SortFunc(outcomes, func(x, y runOutcome) int { return x.index - y.index })
	return outcomes
}

// ticker returns a function reporting one finished item to the progress callback
func (a *Analyzer) ticker(total int) func() {
	if a.progress == nil {
		return func() {}
	}
	var done atomic.Int32
	var mu sync.Mutex
	return func() {
		mu.Lock()
		defer mu.Unlock()
		a.progress(int(done.Add(1)), total)
	}
}

// JobResult holds what was read from one job's log
type JobResult struct {
	Job model.Job
	// Inputs are the values of the job's Inputs group
	Inputs []model.ExtractedInput
	// Found reports whether the log had an Inputs group at all
	Found bool
	// Referenced lists input names referenced in the log when no Inputs group exists
	Referenced []model.ExtractedInput
	Err        error
}

// JobsResult is the outcome of reading the jobs of one run
type JobsResult struct {
	Workflow model.Workflow
	// Run is nil when the workflow has no runs
	Run        *model.Run
	Definition *workflow.Definition
	Jobs       []JobResult
	Report     *Report
}

// AnalyzeJobs reads the resolved input values of every job in a run. A zero
// runID selects the latest run of the workflow.
func (a *Analyzer) AnalyzeJobs(ctx context.Context, repo model.Repository, wf model.Workflow, runID int64) (*JobsResult, error) {
	result := &JobsResult{Workflow: wf, Report: &Report{}}

	def, err := a.Definition(ctx, repo, wf)
	if err != nil {
		if errors.Is(err, model.ErrAuth) {
			return nil, err
		}
		a.log.Warn().Err(err).Str("workflow", wf.Path).Msg("could not read workflow definition")
	}
	result.Definition = def

	run := model.Run{ID: runID}
	if runID == 0 {
		runs, err := a.src.ListRuns(ctx, repo.Owner, repo.Name, wf.ID, 1, 1)
		if err != nil {
			return nil, err
		}
		if len(runs) == 0 {
			return result, nil
		}
		run = runs[0]
	}
	result.Run = &run

	jobs, err := a.src.ListJobs(ctx, repo.Owner, repo.Name, run.ID)
	if err != nil {
		return nil, err
	}
	result.Report.Attempted = len(jobs)
	result.Jobs = make([]JobResult, len(jobs))

	tick := a.ticker(len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			defer tick()
			jr := a.readJob(gctx, repo, job)
			result.Jobs[i] = jr
			if jr.Err != nil && !model.IsSkippable(jr.Err) {
				return jr.Err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, jr := range result.Jobs {
		switch {
		case jr.Err != nil:
			a.log.Warn().Err(jr.Err).Int64("job_id", jr.Job.ID).Msg("skipping job")
			result.Report.skip("job", jr.Job.ID, jr.Err)
		case !jr.Found:
			a.log.Info().Int64("job_id", jr.Job.ID).Str("job", jr.Job.Name).Msg("no Inputs section in job log")
			result.Report.Silent++
		}
	}
	return result, nil
}

func (a *Analyzer) readJob(ctx context.Context, repo model.Repository, job model.Job) JobResult {
	jr := JobResult{Job: job}
	log, err := a.logs.FetchJobLog(ctx, model.LogRef{Repo: repo, JobID: job.ID})
	if err != nil {
		jr.Err = err
		return jr
	}
	res := scanner.ScanString(log.Text)
	jr.Found = res.Found
	jr.Inputs = res.Inputs.Inputs()
	if !res.Found {
		jr.Referenced, jr.Err = extractor.StepInputs(strings.NewReader(log.Text))
	}
	return jr
}
