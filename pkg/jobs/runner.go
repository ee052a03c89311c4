package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/eastgenomics/configci/pkg/dx"
	cierr "github.com/eastgenomics/configci/pkg/errors"
	"github.com/eastgenomics/configci/pkg/workspace"
)

const (
	multiQCGlob        = "*multiqc*html"
	singleWorkflowGlob = "dias_single_*"
	cnvJobMarker       = "GATKgCNV"
)

// Runner launches the test job: the production batch job again, in
// the testing project, with the updated config.
type Runner struct {
	API    dx.API
	Logger log.Logger
	// PipelineVersion is the current release of the single sample
	// workflow; data made with any other version gets a warning
	PipelineVersion string
	// BatchApp is run if the template doesn't say what it ran
	BatchApp string
}

type RunRequest struct {
	Template      dx.ExecutionDescription
	Workspace     workspace.Workspace
	ConfigFileID  string
	SampleLimit   int
	RunCNVCalling bool
	// RunID is the CI run, for tagging the job
	RunID string
}

// Launch is what was run.
type Launch struct {
	JobID string
	App   string
	Input map[string]interface{}
	// PipelineVersion made the data being tested on
	PipelineVersion string
	MultiQCReport   string
	// CNVJob is the production CNV calling job whose output is
	// reused, if any
	CNVJob string
}

func (r *Runner) logger() log.Logger {
	if r.Logger == nil {
		return log.NewNopLogger()
	}
	return r.Logger
}

func (r *Runner) Run(ctx context.Context, req RunRequest) (Launch, error) {
	tmpl := req.Template
	launch := Launch{App: tmpl.ExecutableName}
	if launch.App == "" {
		launch.App = r.BatchApp
	}

	multiQC, err := r.findMultiQCReport(ctx, tmpl.Project)
	if err != nil {
		return Launch{}, err
	}
	launch.MultiQCReport = multiQC.QualifiedID()

	if launch.PipelineVersion, err = r.checkPipelineVersion(ctx, tmpl.Project); err != nil {
		return Launch{}, err
	}

	input := map[string]interface{}{}
	for k, v := range tmpl.Input {
		input[k] = v
	}
	input[InputSingleOutputDir] = path.Join(req.Workspace.Folder, tmpl.StringInput(InputSingleOutputDir))
	input[InputConfigFile] = dx.Link{ID: req.ConfigFileID}
	input[InputMultiQCReport] = dx.Link{ID: multiQC.ID}
	input[InputSampleLimit] = req.SampleLimit

	if req.RunCNVCalling {
		input[InputCNVCall] = true
		delete(input, InputCNVCallJobID)
	} else {
		if launch.CNVJob, err = r.findCNVJob(ctx, tmpl); err != nil {
			return Launch{}, err
		}
		input[InputCNVCall] = false
		if launch.CNVJob != "" {
			input[InputCNVCallJobID] = launch.CNVJob
		} else {
			delete(input, InputCNVCallJobID)
		}
	}
	launch.Input = input

	if pretty, err := json.MarshalIndent(input, "", "  "); err == nil {
		r.logger().Log("app", launch.App, "project", req.Workspace.ProjectID, "folder", req.Workspace.Folder, "input", string(pretty))
	}
	launch.JobID, err = r.API.RunApp(ctx, launch.App, dx.RunRequest{
		Project: req.Workspace.ProjectID,
		Folder:  req.Workspace.Folder,
		Input:   input,
	})
	if err != nil {
		return Launch{}, errors.Wrapf(err, "running %s in %s", launch.App, req.Workspace.ProjectID)
	}
	if err := r.API.AddTags(ctx, launch.JobID, []string{RunTag(req.RunID)}); err != nil {
		return launch, errors.Wrapf(err, "tagging %s", launch.JobID)
	}
	r.logger().Log("launched", launch.JobID)
	return launch, nil
}

// RunTag is the tag put on a test job.
func RunTag(runID string) string {
	return "GitHub Actions run ID: " + runID
}

// findMultiQCReport finds the MultiQC report of the production run.
// The test job is given it, since there's no MultiQC job in the
// testing project for it to find.
func (r *Runner) findMultiQCReport(ctx context.Context, projectID string) (dx.DataObject, error) {
	reports, err := r.API.FindDataObjects(ctx, dx.FindDataObjectsRequest{Project: projectID, NameGlob: multiQCGlob})
	if err != nil {
		return dx.DataObject{}, errors.Wrapf(err, "finding MultiQC report in %s", projectID)
	}
	if len(reports) != 1 {
		return dx.DataObject{}, cierr.Userf("expected one MultiQC report (%s) in %s, found %d", multiQCGlob, projectID, len(reports))
	}
	return reports[0], nil
}

// checkPipelineVersion gives the version of the single sample
// workflow that made the data in the project. There must be exactly
// one.
func (r *Runner) checkPipelineVersion(ctx context.Context, projectID string) (string, error) {
	analyses, err := r.API.FindAnalyses(ctx, dx.FindAnalysesRequest{Project: projectID, NameGlob: singleWorkflowGlob})
	if err != nil {
		return "", errors.Wrapf(err, "finding %s analyses in %s", singleWorkflowGlob, projectID)
	}
	seen := map[string]bool{}
	var versions []string
	for _, a := range analyses {
		v := strings.TrimPrefix(a.Describe.ExecutableName, strings.TrimSuffix(singleWorkflowGlob, "*"))
		if !seen[v] {
			seen[v] = true
			versions = append(versions, v)
		}
	}
	sort.Strings(versions)
	switch len(versions) {
	case 0:
		return "", cierr.Userf("no %s analysis found in %s", singleWorkflowGlob, projectID)
	case 1:
	default:
		return "", cierr.Userf("%d versions of the single sample workflow made the data in %s (%s); change the production job for this assay",
			len(versions), projectID, strings.Join(versions, ", "))
	}
	if r.PipelineVersion != "" && versions[0] != r.PipelineVersion {
		r.logger().Log("warning", fmt.Sprintf("data in %s was made with %s, not the current release %s; check the production job for this assay", projectID, versions[0], r.PipelineVersion))
	}
	return versions[0], nil
}

// findCNVJob finds the CNV calling job the template launched, if any.
func (r *Runner) findCNVJob(ctx context.Context, tmpl dx.ExecutionDescription) (string, error) {
	var found []string
	for _, id := range LaunchedJobs(tmpl) {
		if !dx.IsJob(id) {
			continue
		}
		desc, err := r.API.DescribeExecution(ctx, id)
		if err != nil {
			return "", errors.Wrapf(err, "describing %s, launched by %s", id, tmpl.ID)
		}
		if strings.Contains(desc.Name, cnvJobMarker) {
			found = append(found, id)
		}
	}
	switch len(found) {
	case 0:
		if boolInput(tmpl, InputCNVCall) {
			return "", cierr.Userf("production job %s asked for CNV calling, but launched no %s job to reuse", tmpl.ID, cnvJobMarker)
		}
		return "", nil
	case 1:
		r.logger().Log("cnv_job", found[0], "reused", true)
		return found[0], nil
	}
	return "", cierr.Userf("production job %s launched %d CNV calling jobs: %s", tmpl.ID, len(found), strings.Join(found, ", "))
}
