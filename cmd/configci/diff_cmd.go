package main

import (
	"fmt"
	"io/ioutil"
	"path/filepath"

	"github.com/go-kit/kit/log"
	"github.com/spf13/cobra"

	"github.com/eastgenomics/configci/pkg/assay"
	"github.com/eastgenomics/configci/pkg/config"
	"github.com/eastgenomics/configci/pkg/configdiff"
	"github.com/eastgenomics/configci/pkg/reference"
)

type diffOpts struct {
	*rootOpts
}

func newDiff(parent *rootOpts) *diffOpts {
	return &diffOpts{rootOpts: parent}
}

func (opts *diffOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <config file>",
		Short: "compare a config file with the highest version production config for its assay",
		Example: makeExample(
			"configci diff TWE_config_v3.0.0.json --config-path project-xxxx:/dynamic_files/dias_batch_configs",
		),
		RunE: opts.RunE,
	}
	return cmd
}

func (opts *diffOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return newUsageError("expected exactly one config file")
	}
	if err := opts.Config.Validate(config.NeedsToken, config.NeedsConfigPath); err != nil {
		return err
	}
	ctx, cancel := opts.signalContext()
	defer cancel()
	defer opts.writeMetrics()

	raw, err := ioutil.ReadFile(args[0])
	if err != nil {
		return err
	}
	updated, err := assay.Parse(filepath.Base(args[0]), raw)
	if err != nil {
		return err
	}

	api, err := opts.newAPI(opts.Config, opts.Logger)
	if err != nil {
		return err
	}
	finder := &reference.Finder{API: api, Logger: log.With(opts.Logger, "component", "reference")}
	prod, err := finder.Highest(ctx, opts.Config.ConfigPath, updated.Assay)
	if err != nil {
		return err
	}
	report, err := configdiff.Compute(prod, updated)
	if err != nil {
		return err
	}
	paths, err := configdiff.Write(opts.Config.ArtifactDir, report)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), report.Markdown())
	for _, p := range paths {
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", p)
	}
	return nil
}
