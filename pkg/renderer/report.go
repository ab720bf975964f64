package renderer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jenian/iswith/internal/analyzer"
	"github.com/jenian/iswith/internal/enricher"
	"github.com/jenian/iswith/internal/model"
	"github.com/jenian/iswith/internal/workflow"
)

// ExampleWidth is the number of characters of an example context shown in tables
const ExampleWidth = 45

// UsageMarkdown builds the usage report of one workflow
func UsageMarkdown(res *analyzer.UsageResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Workflow input usage: %s\n\n", orDefault(res.Workflow.Name, res.Workflow.Path))
	fmt.Fprintf(&b, "Analyzed %d run(s)", res.Report.Attempted)
	if skipped := res.Report.Skipped(); skipped > 0 || res.Report.Silent > 0 {
		fmt.Fprintf(&b, " (%d skipped, %d without input references)", skipped, res.Report.Silent)
	}
	b.WriteString(".\n\n")

	if len(res.Statistics) == 0 {
		b.WriteString(EmptyUsage(res.Workflow.Name))
	} else {
		b.WriteString(UsageTable(res.Entries))
		b.WriteString("\n")
		b.WriteString(Summary(res.Statistics))
	}

	if unseen := declaredUnseen(res.Entries); len(unseen) > 0 {
		fmt.Fprintf(&b, "\nDeclared but never observed: %s\n", strings.Join(unseen, ", "))
	}
	if undeclared := enricher.Undeclared(res.Entries); len(undeclared) > 0 && res.Definition != nil {
		fmt.Fprintf(&b, "\nObserved but not declared: %s\n", strings.Join(undeclared, ", "))
	}
	if res.Definition != nil {
		b.WriteString("\n")
		b.WriteString(DefinitionMarkdown(res.Definition))
	}
	return b.String()
}

// EmptyUsage explains why no inputs were found
func EmptyUsage(workflowName string) string {
	scope := "the analyzed workflows"
	if workflowName != "" {
		scope = fmt.Sprintf("the %q workflow", workflowName)
	}
	return fmt.Sprintf("No workflow inputs found in %s. This could mean:\n\n"+
		"- The workflow doesn't use inputs\n"+
		"- The workflow has no recent runs\n"+
		"- The workflow uses inputs in a pattern not detected\n", scope)
}

// UsageTable renders statistics joined with declarations as a markdown table
func UsageTable(entries []enricher.Entry) string {
	var b strings.Builder
	b.WriteString("| Input Name | Total Usage | Runs Found | Frequency | Example Context | Declared |\n")
	b.WriteString("|---|---:|---:|---:|---|---|\n")
	for _, e := range entries {
		example := "No context available"
		if len(e.Examples) > 0 {
			example = Truncate(e.Examples[0], ExampleWidth)
		}
		declared := "no"
		if e.Declared != nil {
			declared = e.Declared.Type
		}
		fmt.Fprintf(&b, "| %s | %d | %d | %s | %s | %s |\n",
			cell(e.Name), e.TotalUsage, e.RunsFound, Percent(e.Frequency), cell(example), cell(declared))
	}
	return b.String()
}

// Summary names the most and least common inputs
func Summary(stats []model.InputStatistic) string {
	if len(stats) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Found %d unique input(s)\n", len(stats))
	fmt.Fprintf(&b, "- Most common: %s (%s of runs)\n", stats[0].Name, Percent(stats[0].Frequency))
	if len(stats) > 1 {
		last := stats[len(stats)-1]
		fmt.Fprintf(&b, "- Least common: %s (%s of runs)\n", last.Name, Percent(last.Frequency))
	}
	return b.String()
}

// JobsMarkdown builds the report of the resolved inputs of a run's jobs
func JobsMarkdown(res *analyzer.JobsResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Workflow inputs: %s\n\n", orDefault(res.Workflow.Name, res.Workflow.Path))
	if res.Definition != nil {
		b.WriteString(DefinitionMarkdown(res.Definition))
		b.WriteString("\n")
	}
	if res.Run == nil {
		b.WriteString("No recent workflow runs found.\n")
		return b.String()
	}

	run := res.Run
	if run.RunNumber > 0 {
		fmt.Fprintf(&b, "## Run #%d\n\n", run.RunNumber)
		fmt.Fprintf(&b, "- Status: %s | Conclusion: %s\n", run.Status, orDefault(run.Conclusion, "N/A"))
		fmt.Fprintf(&b, "- Triggered: %s\n", run.CreatedAt.Format("2006-01-02 15:04:05 MST"))
		fmt.Fprintf(&b, "- Event: %s\n\n", run.Event)
	} else {
		fmt.Fprintf(&b, "## Run %d\n\n", run.ID)
	}

	if len(res.Jobs) == 0 {
		b.WriteString("No jobs found for this run.\n")
		return b.String()
	}
	for _, jr := range res.Jobs {
		fmt.Fprintf(&b, "### %s\n\n", jr.Job.Name)
		switch {
		case jr.Err != nil:
			fmt.Fprintf(&b, "Could not read the job log: %s\n\n", jr.Err)
		case jr.Found:
			b.WriteString(InputsTable(jr.Inputs))
			b.WriteString("\n")
		default:
			b.WriteString("No \"Inputs\" section found in the job log. This is normal for parent workflows; inputs only appear in called workflows.\n\n")
			if len(jr.Referenced) > 0 {
				names := make([]string, len(jr.Referenced))
				for i, in := range jr.Referenced {
					names[i] = in.Name
				}
				fmt.Fprintf(&b, "Inputs referenced in step output: %s\n\n", strings.Join(names, ", "))
			}
		}
	}
	return b.String()
}

// InputsTable renders resolved input values
func InputsTable(inputs []model.ExtractedInput) string {
	if len(inputs) == 0 {
		return "The Inputs section is empty.\n"
	}
	var b strings.Builder
	b.WriteString("| Input | Value | Line |\n")
	b.WriteString("|---|---|---:|\n")
	for _, in := range inputs {
		fmt.Fprintf(&b, "| %s | %s | %d |\n", cell(in.Name), cell(in.Value), in.LineNumber)
	}
	return b.String()
}

// DefinitionMarkdown lists the inputs a workflow declares
func DefinitionMarkdown(def *workflow.Definition) string {
	var b strings.Builder
	b.WriteString("## Workflow definition\n\n")
	if len(def.Triggers) > 0 {
		fmt.Fprintf(&b, "Triggers: %s\n\n", strings.Join(def.Triggers, ", "))
	}
	if len(def.Inputs) == 0 {
		b.WriteString("No inputs defined in this workflow.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Found %d defined input(s):\n\n", len(def.Inputs))
	for _, in := range def.Inputs {
		fmt.Fprintf(&b, "- **%s** (%s)", in.Name, in.Type)
		if in.Description != "" {
			fmt.Fprintf(&b, " - %s", in.Description)
		}
		b.WriteString("\n")
		if in.Required {
			b.WriteString("  - Required: true\n")
		}
		if in.Default != "" {
			fmt.Fprintf(&b, "  - Default: `%s`\n", in.Default)
		}
		if len(in.Options) > 0 {
			fmt.Fprintf(&b, "  - Options: %s\n", strings.Join(in.Options, ", "))
		}
		fmt.Fprintf(&b, "  - Declared by: %s\n", in.SourceLabel())
	}
	return b.String()
}

// WorkflowsMarkdown lists the workflows of a repository
func WorkflowsMarkdown(repo string, workflows []model.Workflow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Workflows in %s\n\n", repo)
	if len(workflows) == 0 {
		b.WriteString("No workflows found in this repository.\n")
		return b.String()
	}
	b.WriteString("| Name | Path | State |\n")
	b.WriteString("|---|---|---|\n")
	for _, w := range workflows {
		fmt.Fprintf(&b, "| %s | %s | %s |\n", cell(w.Name), cell(w.Path), w.State)
	}
	b.WriteString("\nPick one with `--workflow <name or path>`.\n")
	return b.String()
}

// Percent formats a ratio with one decimal
func Percent(f float64) string {
	return fmt.Sprintf("%.1f%%", f*100)
}

// Truncate shortens s to n characters and marks the cut
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func declaredUnseen(entries []enricher.Entry) []string {
	var names []string
	for _, e := range entries {
		if e.Declared != nil && !e.Observed() {
			names = append(names, e.Declared.Name)
		}
	}
	return names
}

// cell makes text safe inside a markdown table cell
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.Join(strings.Fields(s), " ")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
