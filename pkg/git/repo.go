package git

import (
	"context"

	"github.com/pkg/errors"
)

const DefaultRemote = "origin"

// Repo is a local checkout, as made by actions/checkout in a workflow.
type Repo struct {
	dir string
}

func NewRepo(dir string) *Repo {
	return &Repo{dir: dir}
}

func (r *Repo) Dir() string {
	return r.dir
}

// ChangedFiles lists the files a pull request of HEAD into the base
// given would add or modify. The base must be a ref git knows about,
// e.g., `origin/main`; for a shallow checkout it has to be fetched
// first.
func (r *Repo) ChangedFiles(ctx context.Context, base string) ([]string, error) {
	files, err := changed(ctx, r.dir, base)
	if err != nil {
		return nil, errors.Wrapf(err, "listing files changed since %s", base)
	}
	return files, nil
}

// HeadRevision gives the commit SHA checked out.
func (r *Repo) HeadRevision(ctx context.Context) (string, error) {
	return refRevision(ctx, r.dir, "HEAD")
}

// Remote gives the remote with the name given.
func (r *Repo) Remote(ctx context.Context, name string) (Remote, error) {
	u, err := remoteURL(ctx, r.dir, name)
	if err != nil {
		return Remote{}, errors.Wrapf(err, "getting URL of remote %s", name)
	}
	return Remote{URL: u}, nil
}
