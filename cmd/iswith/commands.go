package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jenian/iswith/internal/aggregator"
	"github.com/jenian/iswith/internal/analyzer"
	"github.com/jenian/iswith/internal/auth"
	"github.com/jenian/iswith/internal/config"
	"github.com/jenian/iswith/internal/enricher"
	"github.com/jenian/iswith/internal/extractor"
	"github.com/jenian/iswith/internal/ghclient"
	"github.com/jenian/iswith/internal/ingestor"
	"github.com/jenian/iswith/internal/model"
	"github.com/jenian/iswith/internal/sanitizer"
	"github.com/jenian/iswith/internal/scanner"
	"github.com/jenian/iswith/pkg/renderer"
)

func newWorkflowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workflows owner/repo",
		Short: "List the workflows of a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := e.context(cmd)
			defer cancel()

			repo, an, err := e.connect(ctx, args[0], nil)
			if err != nil {
				return err
			}
			workflows, err := an.Workflows(ctx, repo)
			if err != nil {
				return err
			}
			if e.cfg.Format == config.FormatJSON {
				if workflows == nil {
					workflows = []model.Workflow{}
				}
				return renderer.WriteJSON(e.out, workflows)
			}
			return renderer.Write(e.out, e.cfg.Format, renderer.WorkflowsMarkdown(repo.String(), workflows))
		},
	}
}

func newInputsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inputs owner/repo",
		Short: "Show the input values the jobs of a workflow run received",
		Long: "Reads the Inputs section runners print for called workflows in the jobs of the\n" +
			"latest run (or --run) of the selected workflow.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := e.context(cmd)
			defer cancel()

			s := e.progress("Reading job logs...")
			repo, an, err := e.connect(ctx, args[0], s)
			if err != nil {
				return err
			}
			selected, err := e.selectWorkflows(ctx, an, repo)
			if err != nil || len(selected) == 0 {
				return err
			}

			startSpinner(s)
			res, err := an.AnalyzeJobs(ctx, repo, selected[0], e.cfg.RunID)
			stopSpinner(s)
			if err != nil {
				return err
			}
			e.log.Debug().Int("jobs", res.Report.Attempted).Int("skipped", res.Report.Skipped()).Msg("jobs read")

			if r := e.redactor(); r != nil {
				n := 0
				for i := range res.Jobs {
					n += sanitizer.RedactInputs(r, res.Jobs[i].Inputs)
				}
				if res.Definition != nil {
					n += sanitizer.RedactDefaults(r, res.Definition.Inputs)
				}
				e.reportRedactions(n)
			}

			if e.cfg.Format == config.FormatJSON {
				return renderer.WriteJSON(e.out, renderer.JobsJSON(res))
			}
			return renderer.Write(e.out, e.cfg.Format, renderer.JobsMarkdown(res))
		},
	}
	cmd.Flags().StringP("workflow", "w", "", "Workflow name, path substring or path glob")
	cmd.Flags().Int64("run", 0, "Run id to read instead of the latest run")
	return cmd
}

func newUsageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage owner/repo",
		Short: "Rank the inputs referenced across recent runs of a workflow",
		Long: "Downloads the logs of the most recent runs of every matching workflow, counts\n" +
			"the input references in them and ranks inputs by how many runs used them.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := e.context(cmd)
			defer cancel()

			s := e.progress("Fetching run logs...")
			repo, an, err := e.connect(ctx, args[0], s)
			if err != nil {
				return err
			}
			selected, err := e.selectWorkflows(ctx, an, repo)
			if err != nil || len(selected) == 0 {
				return err
			}

			redactor := e.redactor()

			var results []any
			for _, wf := range selected {
				startSpinner(s)
				res, err := an.AnalyzeUsage(ctx, repo, wf, e.cfg.Runs, e.cfg.PerPage)
				stopSpinner(s)
				if err != nil {
					return err
				}
				if skipped := res.Report.Skipped(); skipped > 0 {
					e.log.Warn().Int("skipped", skipped).Str("workflow", wf.Name).Msg("some runs could not be read")
				}

				if redactor != nil {
					n := sanitizer.RedactStatistics(redactor, res.Statistics)
					var declared []model.WorkflowInput
					if res.Definition != nil {
						n += sanitizer.RedactDefaults(redactor, res.Definition.Inputs)
						declared = res.Definition.Inputs
					}
					res.Entries = enricher.Enrich(res.Statistics, declared)
					e.reportRedactions(n)
				}

				if e.cfg.Format == config.FormatJSON {
					results = append(results, renderer.UsageJSON(res))
					continue
				}
				if err := renderer.Write(e.out, e.cfg.Format, renderer.UsageMarkdown(res)); err != nil {
					return err
				}
			}
			if e.cfg.Format == config.FormatJSON {
				return renderer.WriteJSON(e.out, results)
			}
			return nil
		},
	}
	cmd.Flags().StringP("workflow", "w", "", "Workflow name, path substring or path glob")
	cmd.Flags().IntP("runs", "n", 10, "Number of recent runs to analyze per workflow")
	cmd.Flags().Int("per-page", 10, "Runs requested per API page")
	return cmd
}

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [file|-]",
		Short: "Read inputs from a log saved locally or piped on stdin",
		Long: "Reads a job or run log (plain, gzip or zip) without calling the API. By default\n" +
			"prints the Inputs section values; --usage counts input references instead.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			in, closeIn, err := openInput(cmd, args)
			if err != nil {
				return err
			}
			defer closeIn()

			log, err := ingestor.IngestFromReader(in)
			if err != nil {
				return err
			}
			if log.Truncated {
				e.log.Warn().Int("bytes", log.Bytes).Msg("log truncated")
			}

			redactor := e.redactor()

			usage, _ := cmd.Flags().GetBool("usage")
			if usage {
				return e.scanUsage(log.Text, redactor)
			}
			return e.scanInputs(log.Text, redactor)
		},
	}
	cmd.Flags().Bool("usage", false, "Count input references instead of reading the Inputs section")
	return cmd
}

func (e *env) scanInputs(text string, redactor config.Redactor) error {
	res := scanner.ScanString(text)
	inputs := res.Inputs.Inputs()
	if redactor != nil {
		e.reportRedactions(sanitizer.RedactInputs(redactor, inputs))
	}

	var referenced []model.ExtractedInput
	if !res.Found {
		referenced, _ = extractor.StepInputs(strings.NewReader(text))
	}
	jr := analyzer.JobResult{
		Job:        model.Job{Name: "log"},
		Inputs:     inputs,
		Found:      res.Found,
		Referenced: referenced,
	}
	if e.cfg.Format == config.FormatJSON {
		return renderer.WriteJSON(e.out, renderer.JobsJSON(&analyzer.JobsResult{Jobs: []analyzer.JobResult{jr}}))
	}

	var b strings.Builder
	b.WriteString("# Inputs\n\n")
	switch {
	case res.Found:
		b.WriteString(renderer.InputsTable(inputs))
		if !res.Closed {
			b.WriteString("\nThe Inputs section was not closed; every value up to the end of the log was kept.\n")
		}
	default:
		b.WriteString("No \"Inputs\" section found in the log.\n")
		if len(referenced) > 0 {
			names := make([]string, len(referenced))
			for i, in := range referenced {
				names[i] = in.Name
			}
			fmt.Fprintf(&b, "\nInputs referenced in step output: %s\n", strings.Join(names, ", "))
		}
	}
	return renderer.Write(e.out, e.cfg.Format, b.String())
}

func (e *env) scanUsage(text string, redactor config.Redactor) error {
	set := extractor.UsageString(text)
	stats := aggregator.Aggregate([]model.UsageSet{set}, 1)
	if redactor != nil {
		e.reportRedactions(sanitizer.RedactStatistics(redactor, stats))
	}
	entries := enricher.Enrich(stats, nil)
	if e.cfg.Format == config.FormatJSON {
		return renderer.WriteJSON(e.out, entries)
	}

	var b strings.Builder
	b.WriteString("# Input references\n\n")
	if len(stats) == 0 {
		b.WriteString(renderer.EmptyUsage(""))
	} else {
		b.WriteString(renderer.UsageTable(entries))
	}
	return renderer.Write(e.out, e.cfg.Format, b.String())
}

func openInput(cmd *cobra.Command, args []string) (io.Reader, func(), error) {
	if len(args) == 0 || args[0] == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

// connect resolves credentials for the repository owner and builds the
// API client, log retriever and analyzer
func (e *env) connect(ctx context.Context, arg string, s *spinner.Spinner) (model.Repository, *analyzer.Analyzer, error) {
	repo, err := model.ParseRepository(arg)
	if err != nil {
		return repo, nil, err
	}

	authOpts := []auth.Option{auth.WithLogger(e.log)}
	if base, err := ghclient.ParseBaseURL(e.cfg.APIURL); err == nil {
		authOpts = append(authOpts, auth.WithBaseURL(base))
	}
	ts, err := auth.Resolve(ctx, repo.Owner, e.cfg.Credentials, authOpts...)
	if err != nil {
		return repo, nil, err
	}
	if ts == nil {
		e.log.Warn().Msg("no credentials configured, using unauthenticated access")
	}

	gh, err := ghclient.New(ctx, ts, e.cfg.APIURL, ghclient.WithLogger(e.log))
	if err != nil {
		return repo, nil, err
	}
	retriever := ingestor.NewRetriever(gh, ingestor.WithLogger(e.log))

	opts := []analyzer.Option{
		analyzer.WithLogger(e.log),
		analyzer.WithConcurrency(e.cfg.Concurrency),
	}
	if s != nil {
		base := s.Suffix
		opts = append(opts, analyzer.WithProgress(func(done, total int) {
			s.Lock()
			s.Suffix = fmt.Sprintf("%s %d/%d", base, done, total)
			s.Unlock()
		}))
	}
	return repo, analyzer.New(gh, retriever, opts...), nil
}

// selectWorkflows applies --workflow. Without a match it lists what is
// available and returns no workflows.
func (e *env) selectWorkflows(ctx context.Context, an *analyzer.Analyzer, repo model.Repository) ([]model.Workflow, error) {
	all, err := an.Workflows(ctx, repo)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		fmt.Fprintln(e.errOut, "No workflows found in this repository.")
		return nil, nil
	}

	query := e.cfg.Workflow
	selected := analyzer.SelectWorkflows(all, query)
	if len(selected) > 0 {
		for _, wf := range selected {
			color.New(color.FgGreen).Fprintf(e.errOut, "Analyzing workflow: %q\n", wf.Name)
		}
		return selected, nil
	}

	if query == "" {
		fmt.Fprintln(e.errOut, "Please specify a workflow name using --workflow or -w")
	} else {
		fmt.Fprintf(e.errOut, "No workflows found matching %q.\n", query)
	}
	fmt.Fprintln(e.errOut, "Available workflows:")
	for _, wf := range all {
		fmt.Fprintf(e.errOut, "  - %s (%s)\n", wf.Name, wf.Path)
	}
	if query != "" {
		return nil, fmt.Errorf("no workflow matches %q", query)
	}
	return nil, nil
}

// redactor returns nil when --no-redact is set. Findings are logged at
// debug level, visible with --verbose.
func (e *env) redactor() config.Redactor {
	if e.cfg.NoRedact {
		return nil
	}
	return sanitizer.WithFindingLog(sanitizer.NewRedactor(), e.log)
}

func (e *env) reportRedactions(n int) {
	if n > 0 {
		fmt.Fprintf(e.errOut, "Redacted %d potential secrets\n", n)
	}
}

func startSpinner(s *spinner.Spinner) {
	if s != nil {
		s.Start()
	}
}

func stopSpinner(s *spinner.Spinner) {
	if s != nil {
		s.Stop()
	}
}
