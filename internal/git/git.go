// Package git runs the read-only git queries the snapshot engine needs.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrUnknownRevision is returned when a commit is not present in a repository.
var ErrUnknownRevision = errors.New("unknown revision")

// Client runs git against arbitrary working trees.
type Client struct {
	Binary string
	Log    logrus.FieldLogger
}

func NewClient(log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{Binary: "git", Log: log}
}

// Run executes git with args in dir and returns stdout.
func (c *Client) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	c.Log.WithField("dir", dir).Debugf("git %s", strings.Join(args, " "))
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("git %s: %w", args[0], err)
		}
		return "", fmt.Errorf("git %s: %s: %w", args[0], msg, err)
	}
	return string(out), nil
}

func (c *Client) runTrimmed(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := c.Run(ctx, dir, args...)
	return strings.TrimSpace(out), err
}

// CurrentBranch returns the checked-out branch, or "HEAD" when detached.
func (c *Client) CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := c.runTrimmed(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}
	return out, nil
}

// CurrentCommit returns the full sha of HEAD.
func (c *Client) CurrentCommit(ctx context.Context, dir string) (string, error) {
	out, err := c.runTrimmed(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get current commit: %w", err)
	}
	return validateSha(out)
}

// RemoteURL returns the fetch URL of origin.
func (c *Client) RemoteURL(ctx context.Context, dir string) (string, error) {
	out, err := c.runTrimmed(ctx, dir, "remote", "get-url", "origin")
	if err != nil {
		return "", fmt.Errorf("failed to get remote url: %w", err)
	}
	return out, nil
}

// StashCount returns the number of stash entries.
func (c *Client) StashCount(ctx context.Context, dir string) (int, error) {
	out, err := c.Run(ctx, dir, "stash", "list")
	if err != nil {
		return 0, fmt.Errorf("failed to list stashes: %w", err)
	}
	return len(nonEmptyLines(out)), nil
}

// FileChangeCount returns how many files differ between from and to.
// It returns ErrUnknownRevision if from does not resolve to a commit.
func (c *Client) FileChangeCount(ctx context.Context, dir, from, to string) (int, error) {
	if _, err := c.Run(ctx, dir, "rev-parse", "--verify", "--quiet", from+"^{commit}"); err != nil {
		return 0, fmt.Errorf("%s: %w", from, ErrUnknownRevision)
	}
	out, err := c.Run(ctx, dir, "diff", "--numstat", from+".."+to)
	if err != nil {
		return 0, fmt.Errorf("failed to diff %s..%s: %w", from, to, err)
	}
	return len(nonEmptyLines(out)), nil
}

// Status is the branch and cleanliness summary of a work tree.
type Status struct {
	Branch string
	Commit string
	Dirty  bool
	Ahead  int
	Behind int
}

// Status reads porcelain v2 output in a single git invocation.
func (c *Client) Status(ctx context.Context, dir string) (*Status, error) {
	out, err := c.Run(ctx, dir, "status", "--porcelain=v2", "--branch")
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	return parseStatus(out), nil
}

func parseStatus(out string) *Status {
	st := &Status{}
	for _, line := range nonEmptyLines(out) {
		if !strings.HasPrefix(line, "# ") {
			st.Dirty = true
			continue
		}
		fields := strings.Fields(line[2:])
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "branch.oid":
			if fields[1] != "(initial)" {
				st.Commit = fields[1]
			}
		case "branch.head":
			if fields[1] == "(detached)" {
				st.Branch = "HEAD"
			} else {
				st.Branch = fields[1]
			}
		case "branch.ab":
			if len(fields) == 3 {
				st.Ahead, _ = strconv.Atoi(strings.TrimPrefix(fields[1], "+"))
				st.Behind, _ = strconv.Atoi(strings.TrimPrefix(fields[2], "-"))
			}
		}
	}
	return st
}

// validateSha accepts sha1 and sha256 object names.
func validateSha(sha string) (string, error) {
	if len(sha) != 40 && len(sha) != 64 {
		return "", fmt.Errorf("sha not 40 or 64 characters: %q", sha)
	}
	for _, r := range sha {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return "", fmt.Errorf("sha has non-hex characters: %q", sha)
		}
	}
	return sha, nil
}

func nonEmptyLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
