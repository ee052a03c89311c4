// Package configdiff describes how a changed config differs from the
// production config for its assay, as a build artifact for reviewers.
package configdiff

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/Jeffail/gabs"
	"github.com/evanphx/json-patch"
	jsonyaml "github.com/ghodss/yaml"
	"github.com/pkg/errors"

	"github.com/eastgenomics/configci/pkg/assay"
)

// Kinds of leaf change.
const (
	Added   = "added"
	Removed = "removed"
	Changed = "changed"
)

// Change is a difference at one leaf of the config document.
type Change struct {
	Kind string      `json:"kind"`
	Path string      `json:"path"`
	Old  interface{} `json:"old,omitempty"`
	New  interface{} `json:"new,omitempty"`
}

// Report compares an updated config with the production config.
type Report struct {
	Assay   string    `json:"assay"`
	Updated assay.Ref `json:"updated"`
	Prod    assay.Ref `json:"prod"`
	// MergePatch is the JSON merge patch (RFC 7386) that turns the
	// production config into the updated config.
	MergePatch     json.RawMessage `json:"merge_patch"`
	MergePatchYAML string          `json:"merge_patch_yaml"`
	Changes        []Change        `json:"changes"`
}

// Identical says whether the configs have the same content.
func (r Report) Identical() bool {
	return len(r.Changes) == 0
}

// Compute makes the report for an updated config against the
// production config.
func Compute(prod, updated assay.Config) (Report, error) {
	r := Report{
		Assay:   updated.Assay,
		Updated: updated.Ref(),
		Prod:    prod.Ref(),
		Changes: []Change{},
	}

	patch, err := jsonpatch.CreateMergePatch(prod.Raw, updated.Raw)
	if err != nil {
		return r, errors.Wrap(err, "creating merge patch")
	}
	r.MergePatch = patch

	y, err := jsonyaml.JSONToYAML(patch)
	if err != nil {
		return r, errors.Wrap(err, "rendering merge patch as YAML")
	}
	r.MergePatchYAML = string(y)

	before, after := prod.Document(), updated.Document()
	if before == nil || after == nil {
		return r, errors.New("configs have not been parsed")
	}
	changes, err := leafChanges("", before, after)
	if err != nil {
		return r, err
	}
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	r.Changes = append(r.Changes, changes...)
	return r, nil
}

func isObject(c *gabs.Container) bool {
	_, ok := c.Data().(map[string]interface{})
	return ok
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// leafChanges walks two documents together. Objects are descended
// into; anything else (including arrays) is compared as a whole.
func leafChanges(prefix string, before, after *gabs.Container) ([]Change, error) {
	if !isObject(before) || !isObject(after) {
		if reflect.DeepEqual(before.Data(), after.Data()) {
			return nil, nil
		}
		return []Change{{Kind: Changed, Path: prefix, Old: before.Data(), New: after.Data()}}, nil
	}

	beforeChildren, err := before.ChildrenMap()
	if err != nil {
		return nil, errors.Wrapf(err, "walking %q", prefix)
	}
	afterChildren, err := after.ChildrenMap()
	if err != nil {
		return nil, errors.Wrapf(err, "walking %q", prefix)
	}

	var changes []Change
	for key, b := range beforeChildren {
		a, ok := afterChildren[key]
		if !ok {
			changes = append(changes, Change{Kind: Removed, Path: join(prefix, key), Old: b.Data()})
			continue
		}
		sub, err := leafChanges(join(prefix, key), b, a)
		if err != nil {
			return nil, err
		}
		changes = append(changes, sub...)
	}
	for key, a := range afterChildren {
		if _, ok := beforeChildren[key]; !ok {
			changes = append(changes, Change{Kind: Added, Path: join(prefix, key), New: a.Data()})
		}
	}
	return changes, nil
}

// maxRendered is the most runes of a value shown in the summary table.
const maxRendered = 80

func render(v interface{}) string {
	s := fmt.Sprint(v)
	if bytes, err := json.Marshal(v); err == nil {
		s = string(bytes)
	}
	if runes := []rune(s); len(runes) > maxRendered {
		s = string(runes[:maxRendered-3]) + "..."
	}
	s = strings.Replace(s, "`", "'", -1)
	// a bare pipe ends the table cell, even inside a code span
	s = strings.Replace(s, "|", `\|`, -1)
	return "`" + s + "`"
}

// Markdown is a summary of the report, for the job summary.
func (r Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "### Config diff for %s\n\n", r.Assay)
	fmt.Fprintf(&b, "| | name | version | file |\n|---|---|---|---|\n")
	fmt.Fprintf(&b, "| updated | %s | %s | %s |\n", r.Updated.Name, r.Updated.Version, r.Updated.DXID)
	fmt.Fprintf(&b, "| production | %s | %s | %s |\n\n", r.Prod.Name, r.Prod.Version, r.Prod.DXID)
	if r.Identical() {
		b.WriteString("The configs have the same content.\n")
		return b.String()
	}
	b.WriteString("| change | path | production | updated |\n|---|---|---|---|\n")
	for _, c := range r.Changes {
		var was, is string
		if c.Kind != Added {
			was = render(c.Old)
		}
		if c.Kind != Removed {
			is = render(c.New)
		}
		fmt.Fprintf(&b, "| %s | `%s` | %s | %s |\n", c.Kind, c.Path, was, is)
	}
	return b.String()
}
