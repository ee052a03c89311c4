package github

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v28/github"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// Commit status states.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusError   = "error"
)

const perPage = 100

type Client struct {
	gh          *gh.Client
	owner, repo string
}

// NewClient makes an API client for the repository given, using the
// token given. If apiURL is not empty it is used in place of
// https://api.github.com/.
func NewClient(ctx context.Context, token, apiURL, owner, repo string) (*Client, error) {
	var hc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(ctx, ts)
	}
	client := gh.NewClient(hc)
	if apiURL != "" {
		u, err := url.Parse(strings.TrimSuffix(apiURL, "/") + "/")
		if err != nil {
			return nil, errors.Wrap(err, "parsing GitHub API URL")
		}
		client.BaseURL = u
	}
	return &Client{gh: client, owner: owner, repo: repo}, nil
}

// ChangedFiles lists the files a pull request adds or modifies;
// i.e., everything in the pull request except files it removes.
func (c *Client) ChangedFiles(ctx context.Context, number int) ([]string, error) {
	var files []string
	opts := &gh.ListOptions{PerPage: perPage}
	for {
		page, resp, err := c.gh.PullRequests.ListFiles(ctx, c.owner, c.repo, number, opts)
		if err != nil {
			return nil, errors.Wrapf(err, "listing files of pull request #%d", number)
		}
		for _, f := range page {
			if f.GetStatus() == "removed" {
				continue
			}
			files = append(files, f.GetFilename())
		}
		if resp.NextPage == 0 {
			return files, nil
		}
		opts.Page = resp.NextPage
	}
}

// PostStatus sets a commit status on the revision given.
func (c *Client) PostStatus(ctx context.Context, sha, state, description, targetURL, statusContext string) error {
	status := &gh.RepoStatus{
		State:       gh.String(state),
		Description: gh.String(description),
		Context:     gh.String(statusContext),
	}
	if targetURL != "" {
		status.TargetURL = gh.String(targetURL)
	}
	if _, _, err := c.gh.Repositories.CreateStatus(ctx, c.owner, c.repo, sha, status); err != nil {
		return errors.Wrapf(err, "posting %s status for %s", state, sha)
	}
	return nil
}
