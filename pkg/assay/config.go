// Package assay models the assay config files a pull request
// changes: JSON documents which name the assay they configure and
// carry a version.
package assay

import (
	"fmt"
	"strings"

	"github.com/Jeffail/gabs"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"

	cierr "github.com/eastgenomics/configci/pkg/errors"
)

// The fields every config must have, whatever else is in it.
const schema = `{
  "type": "object",
  "required": ["assay", "version"],
  "properties": {
    "assay": {"type": "string", "minLength": 1},
    "version": {"type": "string", "minLength": 1}
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(schema)

// Config is an assay config file, either from the pull request or
// from the production config folder in DNAnexus.
type Config struct {
	// Name is the file name
	Name string
	// FileID is the DNAnexus file ID, once there is one
	FileID  string
	Assay   string
	Version string
	Raw     []byte

	doc *gabs.Container
}

// Ref is how a config is identified in the diff report.
type Ref struct {
	Name    string `json:"name"`
	Assay   string `json:"assay"`
	Version string `json:"version"`
	DXID    string `json:"dxid,omitempty"`
}

func (c Config) Ref() Ref {
	return Ref{Name: c.Name, Assay: c.Assay, Version: c.Version, DXID: c.FileID}
}

func (c Config) String() string {
	return fmt.Sprintf("%s (%s v%s)", c.Name, c.Assay, c.Version)
}

// Document gives the parsed JSON, for walking.
func (c Config) Document() *gabs.Container {
	return c.doc
}

// Parse reads a config file. A file which is not JSON, or lacks a
// string assay or version, is a User error, since nothing else can be
// done with it.
func Parse(name string, raw []byte) (Config, error) {
	doc, err := gabs.ParseJSON(raw)
	if err != nil {
		return Config{}, &cierr.Error{
			Type: cierr.User,
			Err:  errors.Wrapf(err, "parsing %s", name),
			Help: fmt.Sprintf("The config file %s is not valid JSON:\n\n    %s\n", name, err.Error()),
		}
	}

	res, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return Config{}, errors.Wrapf(err, "validating %s", name)
	}
	if !res.Valid() {
		var problems []string
		for _, e := range res.Errors() {
			problems = append(problems, "    "+e.String())
		}
		return Config{}, &cierr.Error{
			Type: cierr.User,
			Err:  fmt.Errorf("%s is not a valid assay config: %s", name, strings.Join(problems, "; ")),
			Help: fmt.Sprintf(`The config file %s is missing something every assay config needs:

%s

Every config must have string fields "assay" and "version".
`, name, strings.Join(problems, "\n")),
		}
	}

	return Config{
		Name:    name,
		Assay:   doc.Path("assay").Data().(string),
		Version: doc.Path("version").Data().(string),
		Raw:     raw,
		doc:     doc,
	}, nil
}

// PeekAssay gives the assay a document claims to be for, without
// insisting it is a valid config; "" if it has none.
func PeekAssay(raw []byte) string {
	doc, err := gabs.ParseJSON(raw)
	if err != nil {
		return ""
	}
	s, _ := doc.Path("assay").Data().(string)
	return s
}
