package jobs

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eastgenomics/configci/pkg/await"
	"github.com/eastgenomics/configci/pkg/dx"
	"github.com/eastgenomics/configci/pkg/dx/dxtest"
	cierr "github.com/eastgenomics/configci/pkg/errors"
	"github.com/eastgenomics/configci/pkg/workspace"
)

func raw(t *testing.T, v interface{}) json.RawMessage {
	bytes, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes
}

func TestDescribeTemplate(t *testing.T) {
	p := dxtest.New()
	done := p.AddExecution(dx.ExecutionDescription{Name: "eggd_dias_batch"}, dx.StateDone)
	failed := p.AddExecution(dx.ExecutionDescription{Name: "eggd_dias_batch"}, dx.StateFailed)
	ctx := context.Background()

	desc, err := DescribeTemplate(ctx, p, done)
	require.NoError(t, err)
	assert.Equal(t, done, desc.ID)

	_, err = DescribeTemplate(ctx, p, failed)
	require.Error(t, err)
	assert.True(t, cierr.IsUser(err))

	_, err = DescribeTemplate(ctx, p, "job-nope")
	require.Error(t, err)
	assert.True(t, cierr.IsMissing(err))
}

func TestLaunchedJobs(t *testing.T) {
	desc := dx.ExecutionDescription{Output: map[string]json.RawMessage{
		OutputLaunchedJobs: raw(t, "job-1, analysis-2,,job-3"),
	}}
	assert.Equal(t, []string{"job-1", "analysis-2", "job-3"}, LaunchedJobs(desc))
	assert.Empty(t, LaunchedJobs(dx.ExecutionDescription{}))
}

func TestTerminateStale(t *testing.T) {
	p := dxtest.New()
	project := p.AddProject("004_test", time.Now())
	other := p.AddProject("004_other", time.Now())
	running := p.AddExecution(dx.ExecutionDescription{Project: project}, dx.StateRunning)
	idle := p.AddExecution(dx.ExecutionDescription{Project: project}, dx.StateIdle)
	analysis := p.AddExecution(dx.ExecutionDescription{Project: project, Executable: "workflow-x"}, dx.StateRunnable)
	p.AddExecution(dx.ExecutionDescription{Project: project}, dx.StateDone)
	p.AddExecution(dx.ExecutionDescription{Project: project}, dx.StateFailed)
	p.AddExecution(dx.ExecutionDescription{Project: project}, dx.StateTerminated)
	terminating := p.AddExecution(dx.ExecutionDescription{Project: project}, dx.StateTerminating)
	elsewhere := p.AddExecution(dx.ExecutionDescription{Project: other}, dx.StateRunning)

	term := &Terminator{API: p}
	stopped, err := term.TerminateStale(context.Background(), project)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{running, idle, analysis, terminating}, stopped)
	assert.ElementsMatch(t, []string{running, idle, analysis, terminating}, p.Terminated)
	assert.Empty(t, p.Active(project))
	assert.Equal(t, dx.StateRunning, p.Execution(elsewhere).State)

	stopped, err = term.TerminateStale(context.Background(), project)
	require.NoError(t, err)
	assert.Empty(t, stopped)
}

func TestTerminateStale_PartiallyFailedAnalysis(t *testing.T) {
	p := dxtest.New()
	project := p.AddProject("004_test", time.Now())
	analysis := p.AddExecution(dx.ExecutionDescription{Project: project, Executable: "workflow-x"}, dx.StatePartiallyFailed)
	require.Equal(t, []string{analysis}, p.Active(project))

	stopped, err := (&Terminator{API: p}).TerminateStale(context.Background(), project)
	require.NoError(t, err)
	assert.Equal(t, []string{analysis}, stopped)
	assert.Equal(t, dx.StateTerminated, p.Execution(analysis).State)
	assert.Empty(t, p.Active(project))
}

type failingTerminate struct {
	*dxtest.Platform
}

func (f failingTerminate) Terminate(ctx context.Context, id string) error {
	return dx.NewAPIError("PermissionDenied", "not yours")
}

func TestTerminateStale_Errors(t *testing.T) {
	p := dxtest.New()
	project := p.AddProject("004_test", time.Now())
	p.AddExecution(dx.ExecutionDescription{Project: project}, dx.StateRunning)
	_, err := (&Terminator{API: failingTerminate{p}}).TerminateStale(context.Background(), project)
	assert.Error(t, err)
}

type runFixture struct {
	platform *dxtest.Platform
	source   string
	ws       workspace.Workspace
	template dx.ExecutionDescription
	multiQC  string
}

func newRunFixture(t *testing.T) *runFixture {
	p := dxtest.New()
	f := &runFixture{platform: p}
	f.source = p.AddProject("002_241001_CEN", time.Now())
	test := p.AddProject("004_241017_GitHub_Actions_CEN_config_testing", time.Now())
	f.ws = workspace.Workspace{ProjectID: test, Folder: "/GitHub_Actions_run-42_241017_1200"}
	f.multiQC = p.AddFile(f.source, "/output/CEN-1/multiqc", "241001_CEN-multiqc.html", []byte("<html/>"))
	p.AddExecution(dx.ExecutionDescription{Project: f.source, Name: "dias_single_v2.4.0", ExecutableName: "dias_single_v2.4.0", Executable: "workflow-a"}, dx.StateDone)
	p.AddExecution(dx.ExecutionDescription{Project: f.source, Name: "dias_single_v2.4.0", ExecutableName: "dias_single_v2.4.0", Executable: "workflow-a"}, dx.StateDone)

	f.template = dx.ExecutionDescription{
		ID:             "job-template",
		Name:           "eggd_dias_batch",
		State:          dx.StateDone,
		Project:        f.source,
		ExecutableName: "eggd_dias_batch",
		Input: map[string]json.RawMessage{
			InputSingleOutputDir: raw(t, "/output/CEN-1"),
			InputSampleLimit:     raw(t, 100),
			InputCNVCall:         raw(t, true),
			"assay":              raw(t, "CEN"),
		},
		Output: map[string]json.RawMessage{},
	}
	return f
}

func (f *runFixture) request(cnv bool) RunRequest {
	return RunRequest{
		Template:      f.template,
		Workspace:     f.ws,
		ConfigFileID:  "file-config",
		SampleLimit:   5,
		RunCNVCalling: cnv,
		RunID:         "42",
	}
}

func TestRun_ReusesCNVJob(t *testing.T) {
	f := newRunFixture(t)
	cnv := f.platform.AddExecution(dx.ExecutionDescription{Name: "GATKgCNV_call"}, dx.StateDone)
	reports := f.platform.AddExecution(dx.ExecutionDescription{Name: "eggd_generate_variant_workbook"}, dx.StateDone)
	f.template.Output[OutputLaunchedJobs] = raw(t, strings.Join([]string{cnv, reports, "analysis-reports"}, ","))

	r := &Runner{API: f.platform, PipelineVersion: "v2.4.0"}
	launch, err := r.Run(context.Background(), f.request(false))
	require.NoError(t, err)
	assert.Equal(t, cnv, launch.CNVJob)
	assert.Equal(t, "v2.4.0", launch.PipelineVersion)

	job := f.platform.Execution(launch.JobID)
	assert.Equal(t, cnv, job.StringInput(InputCNVCallJobID))
	assert.Equal(t, "false", string(job.Input[InputCNVCall]))
}

func TestRun_TwoCNVJobs(t *testing.T) {
	f := newRunFixture(t)
	one := f.platform.AddExecution(dx.ExecutionDescription{Name: "GATKgCNV_call"}, dx.StateDone)
	two := f.platform.AddExecution(dx.ExecutionDescription{Name: "GATKgCNV_call"}, dx.StateDone)
	f.template.Output[OutputLaunchedJobs] = raw(t, one+","+two)

	_, err := (&Runner{API: f.platform}).Run(context.Background(), f.request(false))
	require.Error(t, err)
	assert.True(t, cierr.IsUser(err))
}

func TestRun_Inputs(t *testing.T) {
	f := newRunFixture(t)
	r := &Runner{API: f.platform, PipelineVersion: "v2.4.0", BatchApp: "eggd_dias_batch"}
	f.template.Input[InputCNVCall] = raw(t, false)
	f.template.Input[InputCNVCallJobID] = raw(t, "job-stale")

	launch, err := r.Run(context.Background(), f.request(false))
	require.NoError(t, err)
	assert.Equal(t, "eggd_dias_batch", launch.App)
	assert.Empty(t, launch.CNVJob)
	assert.Equal(t, f.source+":"+f.multiQC, launch.MultiQCReport)

	require.Len(t, f.platform.Runs, 1)
	run := f.platform.Runs[0]
	assert.Equal(t, "eggd_dias_batch", run.App)
	assert.Equal(t, f.ws.ProjectID, run.Request.Project)
	assert.Equal(t, f.ws.Folder, run.Request.Folder)

	job := f.platform.Execution(launch.JobID)
	assert.Equal(t, f.ws.Folder+"/output/CEN-1", job.StringInput(InputSingleOutputDir))
	assert.JSONEq(t, `{"$dnanexus_link": "file-config"}`, string(job.Input[InputConfigFile]))
	assert.JSONEq(t, `{"$dnanexus_link": "`+f.multiQC+`"}`, string(job.Input[InputMultiQCReport]))
	assert.Equal(t, "5", string(job.Input[InputSampleLimit]))
	assert.Equal(t, "false", string(job.Input[InputCNVCall]))
	assert.NotContains(t, job.Input, InputCNVCallJobID)
	assert.Equal(t, "CEN", job.StringInput("assay"))
	assert.Equal(t, []string{"GitHub Actions run ID: 42"}, job.Tags)
}

func TestRun_RunCNVCalling(t *testing.T) {
	f := newRunFixture(t)
	f.template.Input[InputCNVCallJobID] = raw(t, "job-old")
	launch, err := (&Runner{API: f.platform}).Run(context.Background(), f.request(true))
	require.NoError(t, err)
	job := f.platform.Execution(launch.JobID)
	assert.Equal(t, "true", string(job.Input[InputCNVCall]))
	assert.NotContains(t, job.Input, InputCNVCallJobID)
}

func TestRun_CNVRequestedButNotLaunched(t *testing.T) {
	f := newRunFixture(t)
	_, err := (&Runner{API: f.platform}).Run(context.Background(), f.request(false))
	require.Error(t, err)
	assert.True(t, cierr.IsUser(err))
	assert.Empty(t, f.platform.Runs)
}

func TestRun_NeedsOneMultiQCReport(t *testing.T) {
	f := newRunFixture(t)
	f.platform.AddFile(f.source, "/other", "old-multiqc.html", nil)
	_, err := (&Runner{API: f.platform}).Run(context.Background(), f.request(true))
	require.Error(t, err)
	assert.True(t, cierr.IsUser(err))
}

func TestRun_PipelineVersions(t *testing.T) {
	f := newRunFixture(t)
	// a mismatch with the current release is only a warning
	launch, err := (&Runner{API: f.platform, PipelineVersion: "v2.5.0"}).Run(context.Background(), f.request(true))
	require.NoError(t, err)
	assert.Equal(t, "v2.4.0", launch.PipelineVersion)

	f.platform.AddExecution(dx.ExecutionDescription{Project: f.source, Name: "dias_single_v2.3.0", ExecutableName: "dias_single_v2.3.0", Executable: "workflow-b"}, dx.StateDone)
	_, err = (&Runner{API: f.platform}).Run(context.Background(), f.request(true))
	require.Error(t, err)
	assert.True(t, cierr.IsUser(err))

	empty := newRunFixture(t)
	empty.source = empty.platform.AddProject("002_no_analyses", time.Now())
	empty.template.Project = empty.source
	empty.platform.AddFile(empty.source, "/", "multiqc.html", nil)
	_, err = (&Runner{API: empty.platform}).Run(context.Background(), empty.request(true))
	assert.Error(t, err)
}

func testGate(p dx.API) *Gate {
	return &Gate{
		API:  p,
		Poll: await.Backoff{InitialDelay: time.Second, Factor: 2, MaxDelay: time.Minute, Sleep: await.NoSleep},
	}
}

func TestGate_Passes(t *testing.T) {
	p := dxtest.New()
	a := p.AddExecution(dx.ExecutionDescription{Name: "eggd_artemis"}, dx.StateRunnable, dx.StateRunning, dx.StateDone)
	b := p.AddExecution(dx.ExecutionDescription{Name: "reports", Executable: "workflow-r"}, dx.StateRunning, dx.StateDone)
	batch := p.AddExecution(dx.ExecutionDescription{
		Name:   "eggd_dias_batch",
		Output: map[string]json.RawMessage{OutputLaunchedJobs: raw(t, a+","+b)},
	}, dx.StateIdle, dx.StateRunning, dx.StateDone)

	g := testGate(p)
	g.Progress = ioutil.Discard
	out, err := g.Wait(context.Background(), batch)
	require.NoError(t, err)
	assert.True(t, out.Passed())
	assert.NoError(t, out.Err())
	assert.Equal(t, []string{a, b}, out.Launched)
	assert.Equal(t, dx.StateDone, out.Batch.State)
}

func TestGate_LaunchedJobFails(t *testing.T) {
	p := dxtest.New()
	good := p.AddExecution(dx.ExecutionDescription{Name: "eggd_artemis"}, dx.StateDone)
	bad := p.AddExecution(dx.ExecutionDescription{
		Name:           "eggd_generate_variant_workbook",
		FailureReason:  "AppError",
		FailureMessage: "config key missing",
	}, dx.StateRunning, dx.StateFailed)
	batch := p.AddExecution(dx.ExecutionDescription{
		Output: map[string]json.RawMessage{OutputLaunchedJobs: raw(t, good+","+bad)},
	}, dx.StateDone)

	out, err := testGate(p).Wait(context.Background(), batch)
	require.NoError(t, err)
	assert.False(t, out.Passed())
	require.Len(t, out.Failed, 1)
	assert.Equal(t, bad, out.Failed[0].ID)
	assert.Equal(t, dx.StateFailed, out.Failed[0].State)
	assert.Equal(t, "AppError: config key missing", out.Failed[0].Reason)

	err = out.Err()
	require.Error(t, err)
	assert.True(t, cierr.IsUser(err))
	assert.Contains(t, err.(*cierr.Error).Help, bad)
}

func TestGate_BatchJobFails(t *testing.T) {
	p := dxtest.New()
	batch := p.AddExecution(dx.ExecutionDescription{Name: "eggd_dias_batch", FailureReason: "AppError"}, dx.StateRunning, dx.StateTerminated)
	out, err := testGate(p).Wait(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, out.Failed, 1)
	assert.Equal(t, batch, out.Failed[0].ID)
	assert.Empty(t, out.Launched)
}

func TestGate_Timeout(t *testing.T) {
	p := dxtest.New()
	batch := p.AddExecution(dx.ExecutionDescription{}, dx.StateRunning)

	start := time.Now()
	clock := start
	g := testGate(p)
	g.Poll.Timeout = 10 * time.Minute
	g.Poll.Now = func() time.Time { return clock }
	g.Poll.Sleep = func(ctx context.Context, d time.Duration) error {
		clock = clock.Add(d)
		return nil
	}
	_, err := g.Wait(context.Background(), batch)
	require.Error(t, err)
	assert.Equal(t, await.ErrTimeout, errors.Cause(err))
}

func TestGate_OneTimeoutForBothPhases(t *testing.T) {
	p := dxtest.New()
	launched := p.AddExecution(dx.ExecutionDescription{Name: "eggd_artemis"}, dx.StateRunning)
	batchStates := []string{}
	for i := 0; i < 8; i++ {
		batchStates = append(batchStates, dx.StateRunning)
	}
	batch := p.AddExecution(dx.ExecutionDescription{
		Name:   "eggd_dias_batch",
		Output: map[string]json.RawMessage{OutputLaunchedJobs: raw(t, launched)},
	}, append(batchStates, dx.StateDone)...)

	start := time.Now()
	clock := start
	g := testGate(p)
	g.Poll.Timeout = 10 * time.Minute
	g.Poll.Now = func() time.Time { return clock }
	g.Poll.Sleep = func(ctx context.Context, d time.Duration) error {
		clock = clock.Add(d)
		return nil
	}
	out, err := g.Wait(context.Background(), batch)
	require.Error(t, err)
	assert.Equal(t, await.ErrTimeout, errors.Cause(err))
	assert.Equal(t, []string{launched}, out.Launched)
	assert.True(t, clock.Sub(start) <= 10*time.Minute, "waited %s", clock.Sub(start))
}

func TestCommand(t *testing.T) {
	input := map[string]json.RawMessage{
		"single_output_dir": raw(t, "/run/output/CEN-1"),
		"sample_limit":      raw(t, 5),
		"assay_config_file": raw(t, dx.Link{ID: "file-1"}),
	}
	assert.Equal(t, `dx run eggd_dias_batch \
-iassay_config_file={"$dnanexus_link":"file-1"} \
-isample_limit=5 \
-isingle_output_dir=/run/output/CEN-1
`, Command("eggd_dias_batch", input))

	dir, err := ioutil.TempDir("", "configci-jobs")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	p, err := WriteCommand(dir, "eggd_dias_batch", input)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, CommandFile), p)
	bytes, err := ioutil.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, Command("eggd_dias_batch", input), string(bytes))
}
