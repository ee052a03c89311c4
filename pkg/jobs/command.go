package jobs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

const CommandFile = "batch_job_command.txt"

// Command gives the `dx run` command line that would run the app with
// the input given, one input to a line.
func Command(app string, input map[string]json.RawMessage) string {
	var keys []string
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "dx run %s \\\n", app)
	for i, k := range keys {
		v := string(input[k])
		var s string
		if err := json.Unmarshal(input[k], &s); err == nil {
			v = s
		}
		fmt.Fprintf(buf, "-i%s=%s", k, v)
		if i < len(keys)-1 {
			buf.WriteString(" \\")
		}
		buf.WriteString("\n")
	}
	return buf.String()
}

// WriteCommand writes the command line into the directory given,
// returning the file's path.
func WriteCommand(dir, app string, input map[string]json.RawMessage) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "creating %s", dir)
	}
	p := filepath.Join(dir, CommandFile)
	if err := ioutil.WriteFile(p, []byte(Command(app, input)), 0644); err != nil {
		return "", errors.Wrap(err, "writing batch job command")
	}
	return p, nil
}
