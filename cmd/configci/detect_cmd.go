package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/eastgenomics/configci/pkg/changes"
	"github.com/eastgenomics/configci/pkg/github"
)

type detectOpts struct {
	*rootOpts
	verbose bool
}

func newDetect(parent *rootOpts) *detectOpts {
	return &detectOpts{rootOpts: parent}
}

func (opts *detectOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "say which config file, if any, a pull request changes",
		Example: makeExample(
			"configci detect",
			"configci detect --changed-file a.json --changed-file README.md",
			"configci detect --base-ref main -v",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "list every changed file, and whether it matched")
	return cmd
}

func (opts *detectOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	if err := opts.Config.Validate(); err != nil {
		return err
	}
	ctx, cancel := opts.signalContext()
	defer cancel()

	source, _, err := opts.changeSource(ctx)
	if err != nil {
		return err
	}
	pattern := changes.NewPattern(opts.Config.ConfigPattern)
	res, err := changes.Detect(ctx, source, pattern)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.verbose {
		matched := map[string]bool{}
		for _, m := range res.Matched {
			matched[m] = true
		}
		w := newTabwriter(out)
		fmt.Fprintln(w, "FILE\tCONFIG")
		for _, f := range res.Changed {
			fmt.Fprintf(w, "%s\t%v\n", f, matched[f])
		}
		w.Flush()
	}
	if res.Proceed() {
		fmt.Fprintln(out, res.ConfigFile())
	} else {
		fmt.Fprintf(cmd.ErrOrStderr(), "Nothing to test: %s\n", res.Reason())
	}

	return github.WriteOutputs(opts.GitHub.OutputPath, map[string]string{
		"proceed":     strconv.FormatBool(res.Proceed()),
		"config_file": res.ConfigFile(),
		"reason":      res.Reason(),
	})
}
