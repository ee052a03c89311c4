package github

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// WriteOutputs appends step outputs to the file at GITHUB_OUTPUT.
// Values with newlines are written with a heredoc-style delimiter.
func WriteOutputs(path string, outputs map[string]string) error {
	if path == "" {
		return nil
	}
	var keys []string
	for k := range outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v := outputs[k]
		if strings.Contains(v, "\n") {
			delim := "configci_" + k + "_EOF"
			fmt.Fprintf(&b, "%s<<%s\n%s\n%s\n", k, delim, v, delim)
		} else {
			fmt.Fprintf(&b, "%s=%s\n", k, v)
		}
	}
	return appendFile(path, b.String())
}

// AppendSummary adds markdown to the job summary at
// GITHUB_STEP_SUMMARY.
func AppendSummary(path, markdown string) error {
	if path == "" {
		return nil
	}
	if !strings.HasSuffix(markdown, "\n") {
		markdown += "\n"
	}
	return appendFile(path, markdown)
}

func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	if _, err := f.WriteString(s); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	return f.Close()
}
