package inspect

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbootdotdev/reposnap/internal/git"
	"github.com/openbootdotdev/reposnap/testutil"
)

type fakeVCS struct {
	mu        sync.Mutex
	statusErr map[string]error
	commitErr error
	remoteErr error
	stashErr  error
	calls     []string
}

func (f *fakeVCS) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeVCS) Status(ctx context.Context, dir string) (*git.Status, error) {
	f.record("status")
	if err := f.statusErr[dir]; err != nil {
		return nil, err
	}
	return &git.Status{Branch: "main", Dirty: true, Ahead: 1, Behind: 2}, nil
}

func (f *fakeVCS) CurrentCommit(ctx context.Context, dir string) (string, error) {
	f.record("commit")
	return "abc123", f.commitErr
}

func (f *fakeVCS) RemoteURL(ctx context.Context, dir string) (string, error) {
	f.record("remote")
	if f.remoteErr != nil {
		return "", f.remoteErr
	}
	return "git@example.com:" + filepath.Base(dir), nil
}

func (f *fakeVCS) StashCount(ctx context.Context, dir string) (int, error) {
	f.record("stash")
	if f.stashErr != nil {
		return 0, f.stashErr
	}
	return 3, nil
}

func newTestInspector(vcs VCS) (*Inspector, *test.Hook) {
	logger, hook := test.NewNullLogger()
	return New(vcs, logger), hook
}

func TestInspect_AllQueriesSucceed(t *testing.T) {
	in, _ := newTestInspector(&fakeVCS{})

	out := in.Inspect(context.Background(), "/work/api")
	require.False(t, out.IsDegraded())

	s := out.Value
	assert.Equal(t, "/work/api", s.Path)
	assert.Equal(t, "api", s.Name)
	assert.Equal(t, "main", s.Branch)
	assert.Equal(t, "abc123", s.Commit)
	assert.True(t, s.Dirty)
	assert.Equal(t, 3, s.StashCount)
	assert.Equal(t, "git@example.com:api", s.RemoteURL)
	assert.Equal(t, 1, s.Ahead)
	assert.Equal(t, 2, s.Behind)
}

func TestInspect_StatusFailureDegradesToDefaults(t *testing.T) {
	vcs := &fakeVCS{statusErr: map[string]error{"/work/gone": errors.New("not a git repository")}}
	in, hook := newTestInspector(vcs)

	out := in.Inspect(context.Background(), "/work/gone")
	require.True(t, out.IsDegraded())

	s := out.Value
	assert.Equal(t, "gone", s.Name)
	assert.Empty(t, s.Branch)
	assert.Empty(t, s.Commit)
	assert.False(t, s.Dirty)
	assert.Zero(t, s.StashCount)
	assert.Zero(t, s.Ahead)
	assert.Zero(t, s.Behind)
	assert.Equal(t, []string{"status"}, vcs.calls)
	assert.NotEmpty(t, hook.AllEntries())
}

func TestInspect_SubQueriesDegradeIndependently(t *testing.T) {
	vcs := &fakeVCS{remoteErr: errors.New("no such remote"), stashErr: errors.New("stash broken")}
	in, _ := newTestInspector(vcs)

	out := in.Inspect(context.Background(), "/work/api")
	assert.True(t, out.IsDegraded())
	assert.Equal(t, "abc123", out.Value.Commit)
	assert.Empty(t, out.Value.RemoteURL)
	assert.Zero(t, out.Value.StashCount)
	assert.Equal(t, "main", out.Value.Branch)
}

func TestInspect_MissingRemoteIsNotDegraded(t *testing.T) {
	in, _ := newTestInspector(&fakeVCS{remoteErr: errors.New("no such remote")})

	out := in.Inspect(context.Background(), "/work/api")
	assert.False(t, out.IsDegraded())
	assert.Empty(t, out.Value.RemoteURL)
}

func TestInspectAll_PreservesOrder(t *testing.T) {
	vcs := &fakeVCS{statusErr: map[string]error{"/w/b": errors.New("boom")}}
	in, _ := newTestInspector(vcs)
	in.Concurrency = 2

	dirs := []string{"/w/a", "/w/b", "/w/c", "/w/d", "/w/e"}
	outs := in.InspectAll(context.Background(), dirs)
	require.Len(t, outs, len(dirs))

	for i, dir := range dirs {
		assert.Equal(t, dir, outs[i].Value.Path)
	}
	assert.True(t, outs[1].IsDegraded())
	assert.False(t, outs[0].IsDegraded())
}

func TestResolveName(t *testing.T) {
	t.Run("package.json", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "web")
		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"@acme/web"}`), 0644))
		assert.Equal(t, "@acme/web", ResolveName(dir))
	})

	t.Run("go.mod", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "svc")
		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module github.com/acme/billing\n\ngo 1.22\n"), 0644))
		assert.Equal(t, "billing", ResolveName(dir))
	})

	t.Run("package.json without name falls through", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "tools")
		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"private":true}`), 0644))
		assert.Equal(t, "tools", ResolveName(dir))
	})

	t.Run("basename", func(t *testing.T) {
		assert.Equal(t, "missing", ResolveName("/does/not/exist/missing/"))
	})
}

func TestInspect_RealRepository(t *testing.T) {
	repo := testutil.NewTempGitRepo(t, "", "real")
	in, _ := newTestInspector(git.NewClient(nil))

	out := in.Inspect(context.Background(), repo.Path)
	require.False(t, out.IsDegraded(), "%v", out.Cause)
	assert.Equal(t, "main", out.Value.Branch)
	assert.Equal(t, repo.Head(), out.Value.Commit)
	assert.False(t, out.Value.Dirty)
	assert.Equal(t, "real", out.Value.Name)
}
