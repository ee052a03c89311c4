package main

import (
	"fmt"

	"github.com/go-kit/kit/log"
	"github.com/spf13/cobra"

	"github.com/eastgenomics/configci/pkg/config"
	"github.com/eastgenomics/configci/pkg/jobs"
)

type awaitOpts struct {
	*rootOpts
	noProgress bool
}

func newAwait(parent *rootOpts) *awaitOpts {
	return &awaitOpts{rootOpts: parent}
}

func (opts *awaitOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "await <job ID>",
		Short: "wait for a test job, and every job it launched, to finish",
		Example: makeExample(
			"configci await job-GpfQ1PQ4fj3QzGV8p1y3jY3f",
			"configci await job-GpfQ1PQ4fj3QzGV8p1y3jY3f --poll-timeout 2h",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "don't show a progress bar")
	return cmd
}

func (opts *awaitOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return newUsageError("expected exactly one job ID")
	}
	if err := opts.Config.Validate(config.NeedsToken); err != nil {
		return err
	}
	ctx, cancel := opts.signalContext()
	defer cancel()
	defer opts.writeMetrics()

	api, err := opts.newAPI(opts.Config, opts.Logger)
	if err != nil {
		return err
	}
	gate := &jobs.Gate{
		API:    api,
		Logger: log.With(opts.Logger, "component", "gate"),
		Poll:   jobs.DefaultPoll(opts.Config.PollTimeout),
	}
	if !opts.noProgress {
		gate.Progress = cmd.ErrOrStderr()
	}
	outcome, err := gate.Wait(ctx, args[0])
	if err != nil {
		return err
	}
	if path, err := jobs.WriteCommand(opts.Config.ArtifactDir, outcome.Batch.ExecutableName, outcome.Batch.Input); err != nil {
		opts.Logger.Log("warning", "could not write batch job command", "err", err)
	} else {
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", path)
	}
	if err := outcome.Err(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s and the %d jobs it launched completed successfully\n", args[0], len(outcome.Launched))
	return nil
}
