package git

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// Only these are passed through from the environment; in particular,
// nothing that would make git prompt for credentials.
var inheritedEnv = []string{
	"http_proxy", "https_proxy", "no_proxy", "HTTPS_PROXY", "NO_PROXY", "GIT_PROXY_COMMAND",
	"HOME", "XDG_CONFIG_HOME",
}

// changed lists the files that differ between the merge base of
// base and HEAD, and HEAD; i.e., what a pull request from HEAD into
// base would change.
func changed(ctx context.Context, dir, base string) ([]string, error) {
	// --diff-filter leaves out deletions, since a deleted config is
	// not something that can be tested
	out, err := gitOutput(ctx, dir, "diff", "--name-only", "--diff-filter=ACMRT", base+"...HEAD", "--")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

func refRevision(ctx context.Context, dir, ref string) (string, error) {
	out, err := gitOutput(ctx, dir, "rev-list", "--max-count", "1", ref, "--")
	return strings.TrimSpace(out), err
}

func remoteURL(ctx context.Context, dir, remote string) (string, error) {
	out, err := gitOutput(ctx, dir, "remote", "get-url", remote)
	return strings.TrimSpace(out), err
}

func splitLines(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{}
	}
	return strings.Split(s, "\n")
}

// gitOutput runs git in the directory given and returns what it
// printed to stdout. When git fails, the error carries the most
// useful line of its stderr.
func gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	c := exec.CommandContext(ctx, "git", args...)
	c.Dir = dir
	c.Env = gitEnv()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	c.Stdout = stdout
	c.Stderr = stderr

	err := c.Run()
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		return "", errors.Wrapf(ctx.Err(), "running git %s", strings.Join(args, " "))
	case ctx.Err() == context.Canceled:
		return "", errors.Wrapf(ctx.Err(), "cancelled while running git %s", strings.Join(args, " "))
	case err != nil:
		if msg := firstErrorLine(stderr.String()); msg != "" {
			return "", fmt.Errorf("git %s: %s", args[0], msg)
		}
		return "", errors.Wrapf(err, "git %s", args[0])
	}
	return stdout.String(), nil
}

func gitEnv() []string {
	env := []string{"GIT_TERMINAL_PROMPT=0"}
	for _, k := range inheritedEnv {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}
	return env
}

func firstErrorLine(output string) string {
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "fatal: "):
			return strings.TrimPrefix(line, "fatal: ")
		case strings.HasPrefix(line, "error: "):
			return strings.TrimPrefix(line, "error: ")
		}
	}
	return strings.TrimSpace(output)
}
