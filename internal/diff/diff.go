// Package diff compares live repositories against a stored snapshot.
package diff

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/iter"
	"github.com/spf13/afero"

	"github.com/openbootdotdev/reposnap/internal/snapshot"
)

// VCS is the subset of the git client the diff engine queries.
type VCS interface {
	CurrentBranch(ctx context.Context, dir string) (string, error)
	CurrentCommit(ctx context.Context, dir string) (string, error)
	StashCount(ctx context.Context, dir string) (int, error)
	FileChangeCount(ctx context.Context, dir, from, to string) (int, error)
}

type Engine struct {
	vcs         VCS
	fs          afero.Fs
	log         logrus.FieldLogger
	Concurrency int
}

func New(vcs VCS, fs afero.Fs, log logrus.FieldLogger) *Engine {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{vcs: vcs, fs: fs, log: log, Concurrency: 8}
}

// Compare diffs paths against f. With no paths every recorded repository is
// checked. Paths with no recorded repository are left out of the result.
// Per-repository failures never fail the comparison.
func (e *Engine) Compare(ctx context.Context, f *snapshot.Finalized, paths []string) snapshot.DiffResult {
	meta := f.Metadata()
	if len(paths) == 0 {
		for _, r := range meta.Repositories {
			paths = append(paths, r.Path)
		}
	}

	type checked struct {
		diff snapshot.RepositoryDiff
		ok   bool
	}
	mapper := iter.Mapper[string, checked]{MaxGoroutines: e.Concurrency}
	results := mapper.Map(paths, func(p *string) checked {
		recorded, ok := meta.FindRepository(*p)
		if !ok {
			e.log.WithField("path", *p).Debug("path not recorded in snapshot, skipping")
			return checked{}
		}
		return checked{diff: e.compareOne(ctx, *p, recorded), ok: true}
	})

	repos := []snapshot.RepositoryDiff{}
	for _, r := range results {
		if r.ok {
			repos = append(repos, r.diff)
		}
	}
	return snapshot.DiffResult{
		SnapshotMetadata: meta,
		Repositories:     repos,
		Summary:          snapshot.Summarize(repos),
	}
}

func (e *Engine) compareOne(ctx context.Context, path string, recorded snapshot.RepositoryState) snapshot.RepositoryDiff {
	d := snapshot.RepositoryDiff{Path: path}
	log := e.log.WithField("path", path)

	if ok, _ := afero.Exists(e.fs, path); !ok {
		log.Warn("repository missing on disk")
		d.FilesChanged = snapshot.FilesUnknown
		return d
	}

	if err := e.fill(ctx, &d, path, recorded); err != nil {
		log.WithError(err).Warn("repository comparison failed")
		return snapshot.RepositoryDiff{Path: path, FilesChanged: snapshot.FilesUnknown}
	}
	return d
}

func (e *Engine) fill(ctx context.Context, d *snapshot.RepositoryDiff, path string, recorded snapshot.RepositoryState) error {
	branch, err := e.vcs.CurrentBranch(ctx, path)
	if err != nil {
		return err
	}
	commit, err := e.vcs.CurrentCommit(ctx, path)
	if err != nil {
		return err
	}
	stashes, err := e.vcs.StashCount(ctx, path)
	if err != nil {
		return err
	}

	if branch != recorded.Branch {
		d.BranchDiff = &snapshot.Mismatch{Current: branch, Snapshot: recorded.Branch}
	}
	if commit != recorded.Commit {
		d.CommitDiff = &snapshot.Mismatch{Current: commit, Snapshot: recorded.Commit}
		n, err := e.vcs.FileChangeCount(ctx, path, recorded.Commit, "HEAD")
		if err != nil {
			e.log.WithField("path", path).WithError(err).Info("snapshot commit not resolvable, file count unknown")
			n = snapshot.FilesUnknown
		}
		d.FilesChanged = n
	}
	d.NewStashes = stashes - recorded.StashCount
	return nil
}
