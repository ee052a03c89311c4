package main

import (
	"io/ioutil"
	"path/filepath"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/spf13/cobra"

	"github.com/eastgenomics/configci/pkg/config"
	"github.com/eastgenomics/configci/pkg/pipeline"
)

type runOpts struct {
	*rootOpts
	noProgress bool
}

func newRun(parent *rootOpts) *runOpts {
	return &runOpts{rootOpts: parent}
}

func (opts *runOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "test the config changed by a pull request, and wait for the result",
		Example: makeExample(
			"configci run",
			"configci run --changed-file TWE_config_v3.0.0.json --sample-limit 2",
			"configci run --settings configci.yaml --post-status",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "don't show a progress bar while waiting for the test jobs")
	return cmd
}

func (opts *runOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	if err := opts.Config.Validate(config.NeedsToken, config.NeedsConfigPath, config.NeedsProdJobs); err != nil {
		return err
	}
	ctx, cancel := opts.signalContext()
	defer cancel()
	defer opts.writeMetrics()

	api, err := opts.newAPI(opts.Config, opts.Logger)
	if err != nil {
		return err
	}
	source, pr, err := opts.changeSource(ctx)
	if err != nil {
		return err
	}

	runID := opts.GitHub.RunID
	if runID == "" {
		runID = "local-" + time.Now().UTC().Format("150405")
	}
	p := &pipeline.Pipeline{
		Config:   opts.Config,
		API:      api,
		Source:   source,
		ReadFile: opts.readRepoFile,
		RunID:    runID,
		RunURL:   opts.GitHub.RunURL(),
		Logger:   log.With(opts.Logger, "component", "pipeline"),
	}
	if !opts.noProgress {
		p.Progress = cmd.ErrOrStderr()
	}
	if opts.Config.PostStatus {
		client, err := opts.githubClient(ctx)
		if err != nil {
			return err
		}
		p.Status = client
		p.HeadSHA = pr.HeadSHA
		if p.HeadSHA == "" {
			p.HeadSHA = opts.GitHub.SHA
		}
	}
	opts.Logger.Log("run", runID, "source", source, "development", opts.Config.Development, "workflow_branch", opts.Config.WorkflowBranch)

	res, err := p.Run(ctx)
	if perr := pipeline.Publish(opts.GitHub, res); perr != nil {
		opts.Logger.Log("publishing", "outputs", "err", perr)
	}
	return err
}

func (opts *rootOpts) readRepoFile(name string) ([]byte, error) {
	return ioutil.ReadFile(filepath.Join(opts.repoDir, filepath.FromSlash(name)))
}
