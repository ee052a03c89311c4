// Package pipeline runs the steps of a config check, for one pull
// request, from counting the changed files through to waiting on the
// test jobs.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/eastgenomics/configci/pkg/assay"
	"github.com/eastgenomics/configci/pkg/await"
	"github.com/eastgenomics/configci/pkg/changes"
	"github.com/eastgenomics/configci/pkg/config"
	"github.com/eastgenomics/configci/pkg/configdiff"
	"github.com/eastgenomics/configci/pkg/dx"
	"github.com/eastgenomics/configci/pkg/github"
	"github.com/eastgenomics/configci/pkg/jobs"
	"github.com/eastgenomics/configci/pkg/metrics"
	"github.com/eastgenomics/configci/pkg/reference"
	"github.com/eastgenomics/configci/pkg/stage"
	"github.com/eastgenomics/configci/pkg/workspace"
)

const StatusContext = "configci/config-test"

// StatusPoster sets the commit status shown on the pull request.
type StatusPoster interface {
	PostStatus(ctx context.Context, sha, state, description, targetURL, statusContext string) error
}

type Pipeline struct {
	Config config.Config
	API    dx.API
	Source changes.Source
	// ReadFile reads a changed file from the checkout; if nil, files
	// are read relative to the working directory.
	ReadFile func(name string) ([]byte, error)
	RunID    string
	RunURL   string
	Logger   log.Logger
	Now      func() time.Time

	// These replace the default polling, for tests
	Poll    *await.Backoff
	Closing *await.Backoff

	Progress io.Writer
	// Status and HeadSHA are for posting a commit status; Status may
	// be nil
	Status  StatusPoster
	HeadSHA string
}

// Result is how a run ended.
type Result struct {
	State      State
	Reason     string
	Changed    []string
	ConfigFile string
	Assay      string
	Workspace  workspace.Workspace
	// WorkflowBranch is the branch of the workflow definition the
	// caller pinned
	WorkflowBranch string

	ConfigFileID string
	TemplateJob  string
	Diff         *configdiff.Report
	Artifacts    []string
	Staged       stage.Result
	Terminated   []string
	Launch       jobs.Launch
	Failed       []jobs.Failure

	Err error
}

type run struct {
	*Pipeline
	ctx    context.Context
	logger log.Logger
	res    Result
}

func (p *Pipeline) now() time.Time {
	if p.Now == nil {
		return time.Now().UTC()
	}
	return p.Now()
}

// Run takes one pull request through every step. The error returned is
// that of the step that failed, if any; it is also in the Result.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	logger := p.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	r := &run{Pipeline: p, ctx: ctx, logger: logger}
	r.res.State = Triggered
	r.res.WorkflowBranch = p.Config.WorkflowBranch
	r.logger.Log("state", Triggered, "run", p.RunID, "workflow_branch", p.Config.WorkflowBranch)

	err := r.steps()
	if err != nil {
		r.res.Err = err
		r.moveTo(Failed)
		r.logger.Log("state", Failed, "err", err)
	}
	runsTotal.With(metrics.LabelState, string(r.res.State)).Add(1)
	r.postStatus()
	return r.res, err
}

func (r *run) moveTo(s State) {
	if !r.res.State.CanMoveTo(s) {
		panic(fmt.Sprintf("run cannot go from %s to %s", r.res.State, s))
	}
	r.logger.Log("from", r.res.State, "to", s)
	r.res.State = s
}

// step moves to the state given, then does the work for it.
func (r *run) step(s State, f func() error) error {
	r.moveTo(s)
	started := time.Now()
	err := f()
	stepDuration.With(metrics.LabelStep, string(s), metrics.LabelSuccess, fmt.Sprint(err == nil)).Observe(time.Since(started).Seconds())
	return err
}

func (r *run) steps() error {
	var (
		updated    assay.Config
		content    []byte
		templateID string
		template   dx.ExecutionDescription
	)

	if err := r.step(CountingChanges, func() error {
		pattern := changes.NewPattern(r.Config.ConfigPattern)
		found, err := changes.Detect(r.ctx, r.Source, pattern)
		if err != nil {
			return errors.Wrapf(err, "listing changed files from %s", r.Source)
		}
		r.res.Changed = found.Changed
		r.logger.Log("source", r.Source, "changed", len(found.Changed), "matched", fmt.Sprint(found.Matched))
		if !found.Proceed() {
			r.res.Reason = found.Reason()
			return nil
		}
		r.res.ConfigFile = found.ConfigFile()

		read := r.ReadFile
		if read == nil {
			read = ioutil.ReadFile
		}
		if content, err = read(r.res.ConfigFile); err != nil {
			return errors.Wrapf(err, "reading %s", r.res.ConfigFile)
		}
		if updated, err = assay.Parse(r.res.ConfigFile, content); err != nil {
			return err
		}
		r.res.Assay = updated.Assay
		templateID, err = r.Config.ProdJobs.For(updated.Assay)
		r.res.TemplateJob = templateID
		return err
	}); err != nil {
		return err
	}
	if r.res.ConfigFile == "" {
		r.moveTo(Skipped)
		r.logger.Log("state", Skipped, "reason", r.res.Reason)
		return nil
	}

	if err := r.step(Provisioning, func() error {
		prov := r.provisioner()
		ws, err := prov.Provision(r.ctx, workspace.Request{
			Assay:       updated.Assay,
			Development: r.Config.Development,
			RunID:       r.RunID,
			ConfigName:  updated.Name,
			RunURL:      r.RunURL,
		})
		r.res.Workspace = ws
		return err
	}); err != nil {
		return err
	}

	if err := r.step(Uploading, func() error {
		id, err := r.provisioner().Upload(r.ctx, r.res.Workspace, r.res.ConfigFile, content)
		r.res.ConfigFileID = id
		updated.FileID = id
		return err
	}); err != nil {
		return err
	}

	// Problems with the diff are logged, and the run goes on.
	r.step(Diffing, func() error {
		err := r.diff(updated)
		if err != nil {
			r.logger.Log("warning", "could not make config diff", "err", err)
		}
		return err
	})

	if err := r.step(Staging, func() error {
		var err error
		if template, err = jobs.DescribeTemplate(r.ctx, r.API, templateID); err != nil {
			return err
		}
		stager := &stage.Stager{API: r.API, Logger: log.With(r.logger, "component", "stage")}
		r.res.Staged, err = stager.Stage(r.ctx, template, r.res.Workspace.ProjectID, r.res.Workspace.Folder)
		return err
	}); err != nil {
		return err
	}

	if err := r.step(TerminatingStale, func() error {
		term := &jobs.Terminator{API: r.API, Logger: log.With(r.logger, "component", "terminate")}
		var err error
		r.res.Terminated, err = term.TerminateStale(r.ctx, r.res.Workspace.ProjectID)
		return err
	}); err != nil {
		return err
	}

	if err := r.step(Running, func() error {
		runner := &jobs.Runner{
			API:             r.API,
			Logger:          log.With(r.logger, "component", "runner"),
			PipelineVersion: r.Config.PipelineVersion,
			BatchApp:        r.Config.BatchApp,
		}
		var err error
		r.res.Launch, err = runner.Run(r.ctx, jobs.RunRequest{
			Template:      template,
			Workspace:     r.res.Workspace,
			ConfigFileID:  r.res.ConfigFileID,
			SampleLimit:   r.Config.SampleLimit,
			RunCNVCalling: r.Config.RunCNVCalling,
			RunID:         r.RunID,
		})
		return err
	}); err != nil {
		return err
	}

	var outcome jobs.Outcome
	if err := r.step(Polling, func() error {
		gate := &jobs.Gate{
			API:      r.API,
			Logger:   log.With(r.logger, "component", "gate"),
			Poll:     jobs.DefaultPoll(r.Config.PollTimeout),
			Progress: r.Progress,
		}
		if r.Poll != nil {
			gate.Poll = *r.Poll
		}
		var err error
		if outcome, err = gate.Wait(r.ctx, r.res.Launch.JobID); err != nil {
			return err
		}
		if path, err := jobs.WriteCommand(r.Config.ArtifactDir, r.res.Launch.App, outcome.Batch.Input); err != nil {
			r.logger.Log("warning", "could not write batch job command", "err", err)
		} else {
			r.res.Artifacts = append(r.res.Artifacts, path)
		}
		r.res.Failed = outcome.Failed
		return outcome.Err()
	}); err != nil {
		return err
	}

	r.moveTo(Passed)
	r.logger.Log("state", Passed, "job", r.res.Launch.JobID)
	return nil
}

func (r *run) provisioner() *workspace.Provisioner {
	prov := &workspace.Provisioner{
		API:         r.API,
		Logger:      log.With(r.logger, "component", "workspace"),
		Invitees:    r.Config.Invitees,
		InviteLevel: r.Config.InviteLevel,
		Now:         r.now,
		Closing:     workspace.DefaultClosing,
	}
	if r.Closing != nil {
		prov.Closing = *r.Closing
	}
	return prov
}

func (r *run) diff(updated assay.Config) error {
	finder := &reference.Finder{API: r.API, Logger: log.With(r.logger, "component", "reference")}
	prod, err := finder.Highest(r.ctx, r.Config.ConfigPath, updated.Assay)
	if err != nil {
		return err
	}
	report, err := configdiff.Compute(prod, updated)
	if err != nil {
		return err
	}
	r.res.Diff = &report
	r.logger.Log("prod", prod, "updated", updated, "changes", len(report.Changes))
	paths, err := configdiff.Write(r.Config.ArtifactDir, report)
	r.res.Artifacts = append(r.res.Artifacts, paths...)
	return err
}

func (r *run) postStatus() {
	if r.Status == nil || r.HeadSHA == "" {
		return
	}
	state, description := github.StatusSuccess, "Config test passed"
	switch r.res.State {
	case Skipped:
		description = "Skipped: " + r.res.Reason
	case Failed:
		state, description = github.StatusFailure, "Config test failed"
		if len(r.res.Failed) > 0 {
			description = fmt.Sprintf("%d test jobs failed", len(r.res.Failed))
		}
	}
	// the status has to be posted even if the run was cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.Status.PostStatus(ctx, r.HeadSHA, state, description, r.RunURL, StatusContext); err != nil {
		r.logger.Log("warning", "could not post commit status", "err", err)
	}
}
