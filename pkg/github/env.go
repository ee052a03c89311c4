// Package github has what configci needs from GitHub: the context a
// workflow run is given in the environment, the pull request that
// triggered it, and the API for listing pull request files and
// posting commit statuses.
package github

import (
	"fmt"
	"strings"
)

// Env is the default environment GitHub Actions gives every step.
type Env struct {
	Token       string
	Repository  string
	RunID       string
	ServerURL   string
	APIURL      string
	EventName   string
	EventPath   string
	OutputPath  string
	SummaryPath string
	SHA         string
	HeadRef     string
	BaseRef     string
}

// EnvFrom reads the environment using the func given (usually
// os.Getenv).
func EnvFrom(getenv func(string) string) Env {
	e := Env{
		Token:       getenv("GITHUB_TOKEN"),
		Repository:  getenv("GITHUB_REPOSITORY"),
		RunID:       getenv("GITHUB_RUN_ID"),
		ServerURL:   getenv("GITHUB_SERVER_URL"),
		APIURL:      getenv("GITHUB_API_URL"),
		EventName:   getenv("GITHUB_EVENT_NAME"),
		EventPath:   getenv("GITHUB_EVENT_PATH"),
		OutputPath:  getenv("GITHUB_OUTPUT"),
		SummaryPath: getenv("GITHUB_STEP_SUMMARY"),
		SHA:         getenv("GITHUB_SHA"),
		HeadRef:     getenv("GITHUB_HEAD_REF"),
		BaseRef:     getenv("GITHUB_BASE_REF"),
	}
	if e.ServerURL == "" {
		e.ServerURL = "https://github.com"
	}
	return e
}

// InActions says whether we're running in a workflow at all.
func (e Env) InActions() bool {
	return e.RunID != "" && e.Repository != ""
}

// OwnerAndName splits GITHUB_REPOSITORY.
func (e Env) OwnerAndName() (string, string, error) {
	parts := strings.Split(e.Repository, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository %q is not of the form owner/name", e.Repository)
	}
	return parts[0], parts[1], nil
}

// RunURL is the web page for the workflow run.
func (e Env) RunURL() string {
	if !e.InActions() {
		return ""
	}
	return fmt.Sprintf("%s/%s/actions/runs/%s", strings.TrimSuffix(e.ServerURL, "/"), e.Repository, e.RunID)
}
