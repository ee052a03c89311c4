package configdiff

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	JSONArtifact     = "config_diff.json"
	MarkdownArtifact = "config_diff.md"
)

// Write puts the report in the directory given, as JSON and as a
// markdown summary, and returns the paths written.
func Write(dir string, r Report) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating artifact directory %s", dir)
	}
	bytes, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return nil, errors.Wrap(err, "encoding config diff")
	}
	jsonPath := filepath.Join(dir, JSONArtifact)
	if err := ioutil.WriteFile(jsonPath, append(bytes, '\n'), 0644); err != nil {
		return nil, errors.Wrapf(err, "writing %s", jsonPath)
	}
	mdPath := filepath.Join(dir, MarkdownArtifact)
	if err := ioutil.WriteFile(mdPath, []byte(r.Markdown()), 0644); err != nil {
		return []string{jsonPath}, errors.Wrapf(err, "writing %s", mdPath)
	}
	return []string{jsonPath, mdPath}, nil
}
