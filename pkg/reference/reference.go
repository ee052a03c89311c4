// Package reference finds the production config a changed config is
// compared with: the highest version config for the same assay in the
// production config folder.
package reference

import (
	"context"
	"fmt"
	"regexp"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/eastgenomics/configci/pkg/assay"
	"github.com/eastgenomics/configci/pkg/dx"
	cierr "github.com/eastgenomics/configci/pkg/errors"
)

var configPathRegexp = regexp.MustCompile(`^(project-\w+):(/.*)$`)

// ParseConfigPath splits a `project-xxxx:/folder` path.
func ParseConfigPath(s string) (project, folder string, err error) {
	m := configPathRegexp.FindStringSubmatch(s)
	if m == nil {
		return "", "", cierr.Userf("config path %q is not of the form project-xxxx:/folder", s)
	}
	return m[1], m[2], nil
}

type Finder struct {
	API    dx.API
	Logger log.Logger
}

// Highest returns the highest version config for the assay found
// under the config path. Archived files are skipped, since they can't
// be read.
func (f *Finder) Highest(ctx context.Context, configPath, assayName string) (assay.Config, error) {
	project, folder, err := ParseConfigPath(configPath)
	if err != nil {
		return assay.Config{}, err
	}
	logger := f.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	objects, err := f.API.FindDataObjects(ctx, dx.FindDataObjectsRequest{
		Project:    project,
		Folder:     folder,
		Recurse:    true,
		NameRegexp: `\.json$`,
	})
	if err != nil {
		return assay.Config{}, errors.Wrapf(err, "finding configs in %s", configPath)
	}

	var candidates []assay.Config
	for _, obj := range objects {
		desc := obj.Describe
		if desc.ArchivalState != "" && desc.ArchivalState != dx.ArchivalLive {
			logger.Log("skipping", desc.Name, "file", obj.ID, "archivalState", desc.ArchivalState)
			continue
		}
		raw, err := f.API.ReadFile(ctx, project, obj.ID)
		if err != nil {
			return assay.Config{}, errors.Wrapf(err, "reading %s (%s)", desc.Name, obj.ID)
		}
		if assay.PeekAssay(raw) != assayName {
			continue
		}
		c, err := assay.Parse(desc.Name, raw)
		if err != nil {
			return assay.Config{}, err
		}
		c.FileID = obj.ID
		candidates = append(candidates, c)
	}

	if len(candidates) == 0 {
		return assay.Config{}, &cierr.Error{
			Type: cierr.Missing,
			Err:  fmt.Errorf("no live config for assay %s in %s", assayName, configPath),
			Help: fmt.Sprintf(`There are no production configs for assay %s in %s.

Either the assay name in the changed config is wrong, or CONFIG_PATH
points at the wrong folder, or the configs there have been archived.
`, assayName, configPath),
		}
	}
	highest, err := assay.Highest(candidates)
	if err != nil {
		return assay.Config{}, err
	}
	logger.Log("reference", highest.Name, "file", highest.FileID, "version", highest.Version, "candidates", len(candidates))
	return highest, nil
}
