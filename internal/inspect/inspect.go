// Package inspect reads the live state of repositories without ever failing
// the enclosing operation.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/iter"
	"golang.org/x/mod/modfile"

	"github.com/openbootdotdev/reposnap/internal/git"
	"github.com/openbootdotdev/reposnap/internal/snapshot"
)

// VCS is the subset of the git client the inspector depends on.
type VCS interface {
	Status(ctx context.Context, dir string) (*git.Status, error)
	CurrentCommit(ctx context.Context, dir string) (string, error)
	RemoteURL(ctx context.Context, dir string) (string, error)
	StashCount(ctx context.Context, dir string) (int, error)
}

// DefaultConcurrency bounds parallel inspections in InspectAll.
const DefaultConcurrency = 8

type Inspector struct {
	VCS         VCS
	Log         logrus.FieldLogger
	Concurrency int
}

func New(vcs VCS, log logrus.FieldLogger) *Inspector {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Inspector{VCS: vcs, Log: log, Concurrency: DefaultConcurrency}
}

// Inspect captures one repository. A failing status query degrades the whole
// state to defaults; commit, remote and stash queries degrade independently.
func (i *Inspector) Inspect(ctx context.Context, dir string) snapshot.Outcome[snapshot.RepositoryState] {
	state := snapshot.RepositoryState{
		Path: dir,
		Name: ResolveName(dir),
	}
	log := i.Log.WithField("path", dir)

	st, err := i.VCS.Status(ctx, dir)
	if err != nil {
		log.WithError(err).Warn("repository inspection degraded")
		return snapshot.Degraded(state, fmt.Errorf("inspect %s: %w", dir, err))
	}
	state.Branch = st.Branch
	state.Dirty = st.Dirty
	state.Ahead = st.Ahead
	state.Behind = st.Behind

	var causes []error
	if commit, err := i.VCS.CurrentCommit(ctx, dir); err != nil {
		log.WithError(err).Warn("commit query failed")
		causes = append(causes, err)
	} else {
		state.Commit = commit
	}

	// A missing origin is common and not worth reporting as degraded.
	if url, err := i.VCS.RemoteURL(ctx, dir); err != nil {
		log.WithError(err).Debug("no origin remote")
	} else {
		state.RemoteURL = url
	}

	if n, err := i.VCS.StashCount(ctx, dir); err != nil {
		log.WithError(err).Warn("stash query failed")
		causes = append(causes, err)
	} else {
		state.StashCount = n
	}

	if len(causes) > 0 {
		return snapshot.Degraded(state, errors.Join(causes...))
	}
	return snapshot.Ok(state)
}

// InspectAll inspects dirs concurrently and returns outcomes in input order.
func (i *Inspector) InspectAll(ctx context.Context, dirs []string) []snapshot.Outcome[snapshot.RepositoryState] {
	mapper := iter.Mapper[string, snapshot.Outcome[snapshot.RepositoryState]]{
		MaxGoroutines: i.Concurrency,
	}
	return mapper.Map(dirs, func(dir *string) snapshot.Outcome[snapshot.RepositoryState] {
		return i.Inspect(ctx, *dir)
	})
}

// ResolveName returns the package name declared in package.json, the last
// segment of the go.mod module path, or the directory's base name.
func ResolveName(dir string) string {
	if data, err := os.ReadFile(filepath.Join(dir, "package.json")); err == nil {
		var pkg struct {
			Name string `json:"name"`
		}
		if json.Unmarshal(data, &pkg) == nil && pkg.Name != "" {
			return pkg.Name
		}
	}
	if data, err := os.ReadFile(filepath.Join(dir, "go.mod")); err == nil {
		if mod := modfile.ModulePath(data); mod != "" {
			return path.Base(mod)
		}
	}
	return filepath.Base(filepath.Clean(dir))
}
