package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func BuildTestBinary(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()

	binaryPath := filepath.Join(tmpDir, "reposnap")
	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/reposnap")
	cmd.Dir = findProjectRoot(t)

	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to build test binary: %v\n%s", err, output)
	}

	return binaryPath
}

func findProjectRoot(t *testing.T) string {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}

	for {
		if _, err := os.Stat(filepath.Join(wd, "go.mod")); err == nil {
			return wd
		}
		parent := filepath.Dir(wd)
		if parent == wd {
			t.Fatalf("could not find project root (go.mod)")
		}
		wd = parent
	}
}

// RequireGit skips the test when no git binary is available.
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

// TempGitRepo is a throwaway git repository with one initial commit.
type TempGitRepo struct {
	Path string
	T    *testing.T
}

// NewTempGitRepo creates a repository named name under parent.
// An empty parent uses a fresh temp dir.
func NewTempGitRepo(t *testing.T, parent, name string) *TempGitRepo {
	t.Helper()
	RequireGit(t)

	if parent == "" {
		parent = t.TempDir()
	}
	dir := filepath.Join(parent, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create repo dir: %v", err)
	}

	r := &TempGitRepo{Path: dir, T: t}
	r.Git("init", "-q", "-b", "main")
	r.Git("config", "user.name", "Test User")
	r.Git("config", "user.email", "test@example.com")
	r.Git("config", "commit.gpgsign", "false")

	r.CreateFile("README.md", "# "+name+"\n")
	r.Commit("Initial commit")
	return r
}

// Git runs a git subcommand in the repository and returns trimmed stdout.
func (r *TempGitRepo) Git(args ...string) string {
	r.T.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = r.Path
	output, err := cmd.CombinedOutput()
	if err != nil {
		r.T.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, output)
	}
	return strings.TrimSpace(string(output))
}

// CreateFile writes a file relative to the repository root.
func (r *TempGitRepo) CreateFile(name, content string) {
	r.T.Helper()
	path := filepath.Join(r.Path, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		r.T.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		r.T.Fatalf("failed to create file: %v", err)
	}
}

// Commit stages and commits all changes.
func (r *TempGitRepo) Commit(message string) {
	r.T.Helper()
	r.Git("add", "-A")
	r.Git("commit", "-q", "-m", message)
}

// Head returns the current commit sha.
func (r *TempGitRepo) Head() string {
	r.T.Helper()
	return r.Git("rev-parse", "HEAD")
}

// Stash creates a stash entry from a scratch change.
func (r *TempGitRepo) Stash(file string) {
	r.T.Helper()
	r.CreateFile(file, "stashed\n")
	r.Git("add", file)
	r.Git("stash", "push", "-q", "-m", "wip "+file)
}

// WriteScript installs an executable shell script into dir.
func WriteScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("failed to write script %s: %v", name, err)
	}
	return path
}
