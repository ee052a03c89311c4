package main

import (
	"fmt"
	"os"

	cierr "github.com/eastgenomics/configci/pkg/errors"
)

func main() {
	rootCmd := newRoot().Command()
	if cmd, err := rootCmd.ExecuteC(); err != nil {
		switch err := err.(type) {
		case usageError:
			cmd.PrintErrln("Error:", err)
			cmd.PrintErrln("")
			cmd.PrintErrln(cmd.UsageString())
		default:
			fmt.Fprintln(os.Stderr, "Error:", err)
			if help := cierr.CoverAllError(err).Help; help != "" {
				fmt.Fprintln(os.Stderr, "")
				fmt.Fprint(os.Stderr, help)
			}
		}
		os.Exit(1)
	}
}
