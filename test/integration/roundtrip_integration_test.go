//go:build integration

package integration

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbootdotdev/reposnap/internal/catalog"
	"github.com/openbootdotdev/reposnap/internal/snapshot"
	"github.com/openbootdotdev/reposnap/testutil"
)

type harness struct {
	binary string
	home   string
	store  string
	work   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	testutil.RequireGit(t)
	return &harness{
		binary: testutil.BuildTestBinary(t),
		home:   t.TempDir(),
		store:  t.TempDir(),
		work:   t.TempDir(),
	}
}

func (h *harness) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := exec.Command(h.binary, args...)
	cmd.Dir = h.work
	cmd.Env = append(os.Environ(),
		"HOME="+h.home,
		"REPOSNAP_STORE_KIND=file",
		"REPOSNAP_STORE_DIR="+h.store,
		"REPOSNAP_BUCKET=integration",
	)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// TestIntegration_CreateDiffRestoreDelete drives the built binary through a
// full snapshot lifecycle against a file-backed bucket.
func TestIntegration_CreateDiffRestoreDelete(t *testing.T) {
	h := newHarness(t)
	api := testutil.NewTempGitRepo(t, h.work, "api")
	web := testutil.NewTempGitRepo(t, h.work, "web")
	web.CreateFile("node_modules/left-pad/index.js", "module.exports = 1\n")
	web.CreateFile("debug.log", "noise\n")
	api.Stash("scratch.txt")

	require.NoError(t, os.WriteFile(filepath.Join(h.work, ".reposnap.yml"), []byte(`version: "1.0"
repositories:
  - api
  - web
`), 0644))

	stdout, stderr, err := h.run(t, "create", "nightly", "--json")
	require.NoError(t, err, stderr)
	var created struct {
		ID       string            `json:"id"`
		Metadata snapshot.Metadata `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &created))
	require.Len(t, created.Metadata.Repositories, 2)
	assert.Equal(t, 1, created.Metadata.Repositories[0].StashCount)
	assert.Equal(t, snapshot.PresetMedium, created.Metadata.Preset)

	// No drift yet.
	stdout, stderr, err = h.run(t, "diff", created.ID, "--json")
	require.NoError(t, err, stderr)
	var d snapshot.DiffResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &d))
	assert.True(t, d.Summary.IsMatch)

	// Drift: new commit on a new branch, one more stash.
	api.Git("checkout", "-q", "-b", "feature")
	api.CreateFile("handler.go", "package api\n")
	api.Commit("add handler")
	api.Stash("more.txt")

	stdout, stderr, err = h.run(t, "diff", created.ID, "--json")
	require.NoError(t, err, stderr)
	d = snapshot.DiffResult{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &d))
	assert.False(t, d.Summary.IsMatch)
	assert.Equal(t, 1, d.Summary.ReposChanged)
	require.Len(t, d.Repositories, 2)
	apiDiff := d.Repositories[0]
	require.NotNil(t, apiDiff.BranchDiff)
	assert.Equal(t, "main", apiDiff.BranchDiff.Snapshot)
	assert.Equal(t, "feature", apiDiff.BranchDiff.Current)
	assert.Equal(t, 1, apiDiff.FilesChanged)
	assert.Equal(t, 1, apiDiff.NewStashes)

	// Medium keeps node_modules but drops logs.
	target := filepath.Join(t.TempDir(), "restored")
	_, stderr, err = h.run(t, "restore", created.ID, "-t", target)
	require.NoError(t, err, stderr)
	assert.FileExists(t, filepath.Join(target, "web", "node_modules", "left-pad", "index.js"))
	assert.NoFileExists(t, filepath.Join(target, "web", "debug.log"))
	assert.FileExists(t, snapshot.LocalPath(target, created.ID))

	_, _, err = h.run(t, "restore", created.ID, "-t", target)
	assert.Error(t, err)

	_, stderr, err = h.run(t, "restore", created.ID, "-t", target, "--overwrite")
	require.NoError(t, err, stderr)

	// Offline diff of the restored tree against its recorded metadata.
	stdout, stderr, err = h.run(t, "diff", "--metadata-file", snapshot.LocalPath(target, created.ID),
		"--path", filepath.Join(target, "api"), "--path", filepath.Join(target, "web"), "--json")
	require.NoError(t, err, stderr)
	d = snapshot.DiffResult{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &d))
	assert.True(t, d.Summary.IsMatch)

	_, stderr, err = h.run(t, "delete", created.ID, "-y")
	require.NoError(t, err, stderr)
	for _, key := range []string{catalog.ArchiveKey("nightly", created.ID), catalog.MetadataKey("nightly", created.ID)} {
		assert.NoFileExists(t, filepath.Join(h.store, "integration", key))
	}

	_, _, err = h.run(t, "delete", created.ID, "-y")
	assert.Error(t, err)
}

func TestIntegration_LightPresetAndEmptyCreate(t *testing.T) {
	h := newHarness(t)
	web := testutil.NewTempGitRepo(t, h.work, "web")
	web.CreateFile("dist/bundle.js", "x\n")
	web.CreateFile("node_modules/pkg/index.js", "x\n")

	stdout, stderr, err := h.run(t, "create", "light", "-p", "light", "--path", "web", "--json")
	require.NoError(t, err, stderr)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &created))

	target := filepath.Join(t.TempDir(), "restored")
	_, stderr, err = h.run(t, "restore", created.ID, "-t", target)
	require.NoError(t, err, stderr)
	assert.FileExists(t, filepath.Join(target, "web", "README.md"))
	assert.NoDirExists(t, filepath.Join(target, "web", "dist"))
	assert.NoDirExists(t, filepath.Join(target, "web", "node_modules"))

	require.NoError(t, os.MkdirAll(filepath.Join(h.work, "plain"), 0755))
	_, stderr, err = h.run(t, "create", "empty", "--path", "plain")
	assert.Error(t, err)
	assert.Contains(t, stderr, "no repositories to snapshot")
}
