package git

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/whilp/git-urls"
)

// Remote points at a git repo somewhere.
type Remote struct {
	// URL is where we clone from
	URL string `json:"url"`
}

func (r Remote) SafeURL() string {
	u, err := giturls.Parse(r.URL)
	if err != nil {
		return fmt.Sprintf("<unparseable: %s>", r.URL)
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}

// OwnerAndName gives the owner (user or organisation) and repository
// name for a remote on a GitHub-like host, regardless of protocol and
// any `.git` suffix; e.g., for git@github.com:eastgenomics/dias_batch_configs.git
// it gives "eastgenomics", "dias_batch_configs".
func (r Remote) OwnerAndName() (string, string, error) {
	u, err := giturls.Parse(r.URL)
	if err != nil {
		return "", "", err
	}
	p := strings.TrimSuffix(strings.Trim(u.Path, "/"), ".git")
	parts := strings.Split(p, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("git remote %s does not look like owner/repository", r.SafeURL())
	}
	return parts[0], parts[1], nil
}
