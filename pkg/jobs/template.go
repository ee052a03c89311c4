// Package jobs looks after the DNAnexus jobs of a config check run:
// the production job used as a template, stale jobs left in the
// testing project, launching the test job, and waiting on what it
// launches.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/eastgenomics/configci/pkg/dx"
	cierr "github.com/eastgenomics/configci/pkg/errors"
)

// Job input and output fields of the batch app.
const (
	InputSingleOutputDir = "single_output_dir"
	InputConfigFile      = "assay_config_file"
	InputMultiQCReport   = "multiqc_report"
	InputSampleLimit     = "sample_limit"
	InputCNVCall         = "cnv_call"
	InputCNVCallJobID    = "cnv_call_job_id"

	OutputLaunchedJobs = "launched_jobs"
)

// DescribeTemplate fetches the production job to re-run. It must have
// finished successfully, so that its inputs and outputs are all there.
func DescribeTemplate(ctx context.Context, api dx.API, jobID string) (dx.ExecutionDescription, error) {
	desc, err := api.DescribeExecution(ctx, jobID)
	if err != nil {
		if cierr.IsMissing(err) {
			return dx.ExecutionDescription{}, &cierr.Error{
				Type: cierr.Missing,
				Err:  err,
				Help: fmt.Sprintf(`The production job %s could not be found. Check PROD_JOBS gives
a job ID from a 002 project for each assay, and that the token given
can see that project.
`, jobID),
			}
		}
		return dx.ExecutionDescription{}, errors.Wrapf(err, "describing production job %s", jobID)
	}
	if desc.State != dx.StateDone {
		return dx.ExecutionDescription{}, &cierr.Error{
			Type: cierr.User,
			Err:  fmt.Errorf("production job %s is %s, not %s", jobID, desc.State, dx.StateDone),
			Help: fmt.Sprintf(`The production job given for the assay (%s) did not complete
successfully; it is in state %q. Provide instead a job within a 002
project for the assay which did complete successfully.
`, jobID, desc.State),
		}
	}
	return desc, nil
}

// LaunchedJobs gives the jobs and analyses a batch job launched, from
// its comma-separated launched_jobs output.
func LaunchedJobs(desc dx.ExecutionDescription) []string {
	var ids []string
	for _, id := range strings.Split(desc.StringOutput(OutputLaunchedJobs), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// boolInput reads a boolean input, which may be missing.
func boolInput(desc dx.ExecutionDescription, name string) bool {
	raw, ok := desc.Input[name]
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false
	}
	return b
}
