package pipeline

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/eastgenomics/configci/pkg/github"
)

// Outputs are the step outputs later workflow steps can use.
func (r Result) Outputs() map[string]string {
	var failed []string
	for _, f := range r.Failed {
		failed = append(failed, f.ID)
	}
	out := map[string]string{
		"state":       string(r.State),
		"reason":      r.Reason,
		"config_file": r.ConfigFile,
		"assay":       r.Assay,
		"project":     r.Workspace.ProjectID,
		"folder":      r.Workspace.Folder,
		"config_id":   r.ConfigFileID,
		"job_id":      r.Launch.JobID,
		"failed_jobs": strings.Join(failed, ","),
	}
	if r.WorkflowBranch != "" {
		out["workflow_branch"] = r.WorkflowBranch
	}
	if r.Err != nil {
		out["error"] = r.Err.Error()
	}
	return out
}

// Summary is a markdown account of the run, for the workflow summary.
func (r Result) Summary() string {
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "## Config test: %s\n\n", r.State)
	switch r.State {
	case Skipped:
		fmt.Fprintf(buf, "Nothing tested: %s.\n", r.Reason)
		return buf.String()
	case Failed:
		if r.Err != nil {
			fmt.Fprintf(buf, "```\n%s\n```\n\n", r.Err)
		}
	}

	row := func(k, v string) {
		if v != "" {
			fmt.Fprintf(buf, "| %s | `%s` |\n", k, v)
		}
	}
	buf.WriteString("| | |\n|---|---|\n")
	row("Config file", r.ConfigFile)
	row("Assay", r.Assay)
	row("Production job", r.TemplateJob)
	row("Project", r.Workspace.ProjectName)
	row("Folder", r.Workspace.String())
	row("Test job", r.Launch.JobID)
	row("Workflow version", r.Launch.PipelineVersion)
	row("Workflow branch", r.WorkflowBranch)
	if r.Launch.CNVJob != "" {
		row("CNV calling reused from", r.Launch.CNVJob)
	}
	if len(r.Terminated) > 0 {
		row("Stale jobs terminated", strings.Join(r.Terminated, ", "))
	}

	if len(r.Failed) > 0 {
		buf.WriteString("\n### Failed jobs\n\n| Job | Name | State | Reason |\n|---|---|---|---|\n")
		for _, f := range r.Failed {
			fmt.Fprintf(buf, "| `%s` | %s | %s | %s |\n", f.ID, f.Name, f.State, f.Reason)
		}
	}
	if r.Diff != nil {
		buf.WriteString("\n")
		buf.WriteString(r.Diff.Markdown())
	}
	return buf.String()
}

// Publish writes the outputs and summary of the run where the
// workflow environment says to; either may be unset.
func Publish(env github.Env, r Result) error {
	if env.OutputPath != "" {
		if err := github.WriteOutputs(env.OutputPath, r.Outputs()); err != nil {
			return err
		}
	}
	if env.SummaryPath != "" {
		if err := github.AppendSummary(env.SummaryPath, r.Summary()); err != nil {
			return err
		}
	}
	return nil
}
