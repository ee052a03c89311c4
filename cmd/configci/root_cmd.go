package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/eastgenomics/configci/pkg/changes"
	"github.com/eastgenomics/configci/pkg/config"
	"github.com/eastgenomics/configci/pkg/dx"
	"github.com/eastgenomics/configci/pkg/git"
	"github.com/eastgenomics/configci/pkg/github"
)

const dxRequestTimeout = 5 * time.Minute

type rootOpts struct {
	flags       *config.Flags
	metricsFile string
	repoDir     string

	// set in PersistentPreRunE
	Config config.Config
	GitHub github.Env
	Logger log.Logger

	// these are swapped out in tests
	getenv func(string) string
	stderr io.Writer
	newAPI func(cfg config.Config, logger log.Logger) (dx.API, error)
}

func newRoot() *rootOpts {
	return &rootOpts{
		getenv: os.Getenv,
		stderr: os.Stderr,
		newAPI: newDXClient,
	}
}

var rootLongHelp = strings.TrimSpace(`
configci tests a changed assay config by re-running a production job
with it in a DNAnexus testing project.

Workflow:
  configci detect                         # Which config did the pull request change?
  configci diff TWE_config_v3.0.0.json    # How does it differ from production?
  configci run                            # Test it, and wait for the result.
  configci await job-xxxx                 # Wait on a test job launched earlier.

Settings come from the environment (DX_TOKEN, CONFIG_PATH, PROD_JOBS,
TEST_SAMPLE_LIMIT, RUN_CNV_CALLING, DEVELOPMENT, WORKFLOW_BRANCH), from
a settings file given with --settings, or from flags; flags win.
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "configci",
		Long:              rootLongHelp,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: opts.PersistentPreRunE,
	}
	opts.flags = config.DefineFlags(cmd.PersistentFlags())
	cmd.PersistentFlags().StringVar(&opts.metricsFile, "metrics-file", "", "write metrics in the Prometheus text format to this file on exit")
	cmd.PersistentFlags().StringVar(&opts.repoDir, "repo", ".", "local checkout of the configs repository")

	cmd.AddCommand(
		newRun(opts).Command(),
		newDetect(opts).Command(),
		newDiff(opts).Command(),
		newAwait(opts).Command(),
		newVersionCommand(),
	)
	return cmd
}

func (opts *rootOpts) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	var err error
	if opts.Config, err = opts.flags.Load(opts.getenv); err != nil {
		return err
	}
	opts.GitHub = github.EnvFrom(opts.getenv)

	logger := log.NewLogfmtLogger(log.NewSyncWriter(opts.stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	logger = log.With(logger, "caller", log.DefaultCaller)
	opts.Logger = logger
	return nil
}

func newDXClient(cfg config.Config, logger log.Logger) (dx.API, error) {
	limiters := &dx.RateLimiters{
		RPS:    cfg.DXRPS,
		Burst:  cfg.DXBurst,
		Logger: log.With(logger, "component", "ratelimiter"),
	}
	hc, err := dx.NewHTTPClient(cfg.DXAPIURL, limiters, dxRequestTimeout)
	if err != nil {
		return nil, err
	}
	return dx.New(hc, cfg.DXAPIURL, dx.Token(cfg.DXToken), log.With(logger, "component", "dnanexus")), nil
}

// signalContext is cancelled on SIGINT or SIGTERM, as when the
// workflow run is cancelled.
func (opts *rootOpts) signalContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-c:
			opts.Logger.Log("signal", sig, "cancelling", true)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(c)
		cancel()
	}
}

// repoOwnerAndName works out the GitHub repository, from the
// environment if in a workflow, or else from the checkout's remote.
func (opts *rootOpts) repoOwnerAndName(ctx context.Context) (string, string, error) {
	if opts.GitHub.Repository != "" {
		return opts.GitHub.OwnerAndName()
	}
	remote, err := git.NewRepo(opts.repoDir).Remote(ctx, git.DefaultRemote)
	if err != nil {
		return "", "", err
	}
	return remote.OwnerAndName()
}

func (opts *rootOpts) githubClient(ctx context.Context) (*github.Client, error) {
	owner, name, err := opts.repoOwnerAndName(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "working out the GitHub repository")
	}
	return github.NewClient(ctx, opts.GitHub.Token, opts.GitHub.APIURL, owner, name)
}

// changeSource picks where to get the changed files from: the flags
// if any are given, then the pull request that triggered the
// workflow, then git.
func (opts *rootOpts) changeSource(ctx context.Context) (changes.Source, github.PullRequest, error) {
	if len(opts.Config.ChangedFiles) > 0 {
		return changes.Static(opts.Config.ChangedFiles), github.PullRequest{}, nil
	}
	if opts.GitHub.EventPath != "" && strings.HasPrefix(opts.GitHub.EventName, "pull_request") {
		pr, err := github.ReadEvent(opts.GitHub.EventPath)
		if err != nil {
			return nil, github.PullRequest{}, err
		}
		client, err := opts.githubClient(ctx)
		if err != nil {
			return nil, github.PullRequest{}, err
		}
		return changes.PullRequest{Client: client, Number: pr.Number}, pr, nil
	}
	if opts.Config.BaseRef != "" {
		base := opts.Config.BaseRef
		if !strings.Contains(base, "/") {
			base = git.DefaultRemote + "/" + base
		}
		return changes.Git{Repo: git.NewRepo(opts.repoDir), Base: base}, github.PullRequest{}, nil
	}
	return nil, github.PullRequest{}, errorNoChangeSource
}

func (opts *rootOpts) writeMetrics() {
	if opts.metricsFile == "" {
		return
	}
	if err := prometheus.WriteToTextfile(opts.metricsFile, prometheus.DefaultGatherer); err != nil {
		opts.Logger.Log("metrics", opts.metricsFile, "err", err)
	}
}
