// Package changes finds the config file a pull request changes, if
// it changes exactly one.
package changes

import (
	"context"
	"fmt"

	cierr "github.com/eastgenomics/configci/pkg/errors"
	"github.com/eastgenomics/configci/pkg/git"
	"github.com/eastgenomics/configci/pkg/github"
)

// Source gives the files changed by a pull request.
type Source interface {
	ChangedFiles(ctx context.Context) ([]string, error)
	String() string
}

// Static is a list of changed files given up front.
type Static []string

func (s Static) ChangedFiles(context.Context) ([]string, error) {
	return s, nil
}

func (s Static) String() string {
	return "command line"
}

// PullRequest asks the GitHub API.
type PullRequest struct {
	Client *github.Client
	Number int
}

func (s PullRequest) ChangedFiles(ctx context.Context) ([]string, error) {
	return s.Client.ChangedFiles(ctx, s.Number)
}

func (s PullRequest) String() string {
	return fmt.Sprintf("pull request #%d", s.Number)
}

// Git diffs a local checkout against the base branch.
type Git struct {
	Repo *git.Repo
	Base string
}

func (s Git) ChangedFiles(ctx context.Context) ([]string, error) {
	return s.Repo.ChangedFiles(ctx, s.Base)
}

func (s Git) String() string {
	return "git diff against " + s.Base
}

// Result is the outcome of looking for a changed config file.
type Result struct {
	Changed []string
	Matched []string
}

// Proceed is true when there is exactly one config file to test.
func (r Result) Proceed() bool {
	return len(r.Matched) == 1
}

// ConfigFile is the one config file to test, or "".
func (r Result) ConfigFile() string {
	if !r.Proceed() {
		return ""
	}
	return r.Matched[0]
}

// Reason says why a run will not proceed, for the log and summary.
func (r Result) Reason() string {
	switch len(r.Matched) {
	case 0:
		return "no config files changed"
	case 1:
		return ""
	default:
		return fmt.Sprintf("%d config files changed; only one config can be tested at a time", len(r.Matched))
	}
}

// Detect counts the changed files matching the pattern.
func Detect(ctx context.Context, src Source, pattern Pattern) (Result, error) {
	if !pattern.Valid() {
		return Result{}, cierr.Userf("config file pattern %q is not valid", pattern.String())
	}
	files, err := src.ChangedFiles(ctx)
	if err != nil {
		return Result{}, err
	}
	res := Result{Changed: files}
	seen := map[string]bool{}
	for _, f := range files {
		if seen[f] {
			continue
		}
		seen[f] = true
		if pattern.Matches(f) {
			res.Matched = append(res.Matched, f)
		}
	}
	return res, nil
}
