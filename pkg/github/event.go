package github

import (
	"encoding/json"
	"io/ioutil"

	gh "github.com/google/go-github/v28/github"
	"github.com/pkg/errors"
)

// PullRequest is what a run needs to know about the pull request
// that triggered it.
type PullRequest struct {
	Number  int
	Action  string
	HeadSHA string
	HeadRef string
	BaseRef string
	HTMLURL string
}

// ReadEvent reads the webhook payload of a `pull_request` event, as
// found at GITHUB_EVENT_PATH.
func ReadEvent(path string) (PullRequest, error) {
	bytes, err := ioutil.ReadFile(path)
	if err != nil {
		return PullRequest{}, errors.Wrap(err, "reading event payload")
	}
	return ParseEvent(bytes)
}

func ParseEvent(payload []byte) (PullRequest, error) {
	var event gh.PullRequestEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return PullRequest{}, errors.Wrap(err, "decoding event payload")
	}
	if event.PullRequest == nil {
		return PullRequest{}, errors.New("event payload is not for a pull request")
	}
	pr := event.GetPullRequest()
	number := event.GetNumber()
	if number == 0 {
		number = pr.GetNumber()
	}
	return PullRequest{
		Number:  number,
		Action:  event.GetAction(),
		HeadSHA: pr.GetHead().GetSHA(),
		HeadRef: pr.GetHead().GetRef(),
		BaseRef: pr.GetBase().GetRef(),
		HTMLURL: pr.GetHTMLURL(),
	}, nil
}
