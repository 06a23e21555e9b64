// Package engine sequences the snapshot lifecycle: create, list, restore,
// diff and delete.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/openbootdotdev/reposnap/internal/archive"
	"github.com/openbootdotdev/reposnap/internal/catalog"
	"github.com/openbootdotdev/reposnap/internal/diff"
	"github.com/openbootdotdev/reposnap/internal/git"
	"github.com/openbootdotdev/reposnap/internal/inspect"
	"github.com/openbootdotdev/reposnap/internal/restore"
	"github.com/openbootdotdev/reposnap/internal/snapshot"
	"github.com/openbootdotdev/reposnap/internal/store"
	"github.com/openbootdotdev/reposnap/internal/system"
	"github.com/openbootdotdev/reposnap/internal/transfer"
)

// Prober captures the host identity recorded in each snapshot.
type Prober interface {
	Probe(ctx context.Context) snapshot.EnvironmentIdentity
}

type Options struct {
	Store store.ObjectStore
	// Git defaults to a client running the git binary.
	Git   *git.Client
	Fs    afero.Fs
	Clock system.Clock
	Env   system.EnvReader
	// Prober defaults to system.NewProber(Env).
	Prober  Prober
	Log     logrus.FieldLogger
	Metrics metrics.Registry

	// DefaultPaths are used by create and diff when a request names none.
	// With no defaults the working directory is used.
	DefaultPaths []string
	// Excludes are extra substring tokens applied to light and medium archives.
	Excludes           []string
	InspectConcurrency int
	TempRoot           string
	Encoding           transfer.Encoding
	OnStep             func(Step)
}

type Engine struct {
	store     store.ObjectStore
	fs        afero.Fs
	clock     system.Clock
	env       system.EnvReader
	prober    Prober
	log       logrus.FieldLogger
	catalog   *catalog.Catalog
	transfer  *transfer.Coordinator
	inspector *inspect.Inspector
	builder   *archive.Builder
	differ    *diff.Engine
	restorer  *restore.Coordinator

	defaultPaths []string
	tempRoot     string
	onStep       func(Step)
}

func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine requires an object store")
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Clock == nil {
		opts.Clock = system.SystemClock
	}
	if opts.Env == nil {
		opts.Env = system.OSEnv
	}
	if opts.Git == nil {
		opts.Git = git.NewClient(opts.Log)
	}
	if opts.Prober == nil {
		opts.Prober = system.NewProber(opts.Env)
	}
	if opts.Encoding == "" {
		opts.Encoding = transfer.EncodingRaw
	}
	if opts.TempRoot == "" {
		opts.TempRoot = os.TempDir()
	}

	e := &Engine{
		store:        opts.Store,
		fs:           opts.Fs,
		clock:        opts.Clock,
		env:          opts.Env,
		prober:       opts.Prober,
		log:          opts.Log,
		catalog:      catalog.New(opts.Store, opts.Log),
		transfer:     transfer.NewCoordinator(opts.Store, opts.Log, opts.Metrics),
		inspector:    inspect.New(opts.Git, opts.Log),
		builder:      archive.NewBuilder(opts.Fs, opts.Log, opts.Excludes...),
		differ:       diff.New(opts.Git, opts.Fs, opts.Log),
		defaultPaths: opts.DefaultPaths,
		tempRoot:     opts.TempRoot,
		onStep:       opts.OnStep,
	}
	if opts.InspectConcurrency > 0 {
		e.inspector.Concurrency = opts.InspectConcurrency
		e.differ.Concurrency = opts.InspectConcurrency
	}
	e.restorer = restore.New(e.catalog, e.transfer, opts.Fs, opts.Log)
	e.restorer.TempRoot = opts.TempRoot
	e.restorer.Encoding = opts.Encoding
	return e, nil
}

// resolvePaths returns absolute, de-duplicated paths in request order.
func (e *Engine) resolvePaths(paths []string) ([]string, error) {
	if len(paths) == 0 {
		paths = e.defaultPaths
	}
	wd, err := e.env.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	if len(paths) == 0 {
		paths = []string{wd}
	}

	seen := make(map[string]bool)
	var out []string
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(wd, p)
		}
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

func validateName(name string) error {
	if name == "" {
		return errors.New("snapshot name is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid snapshot name %q: must not contain path separators", name)
	}
	return nil
}

type CreateRequest struct {
	Name        string
	Preset      snapshot.Preset
	Bucket      string
	Paths       []string
	Description string
}

type CreateResult struct {
	ID             string            `json:"id"`
	Location       string            `json:"location"`
	Metadata       snapshot.Metadata `json:"metadata"`
	UploadDuration time.Duration     `json:"uploadDuration"`
	// Skipped lists requested paths that were not archived.
	Skipped []string `json:"skipped,omitempty"`
}

// Create inspects the requested repositories, archives them, and uploads the
// archive followed by its finalized metadata document.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	r := newRun(e.log, "create", e.onStep)
	res, err := e.create(ctx, r, req)
	return res, r.finish(err)
}

func (e *Engine) create(ctx context.Context, r *run, req CreateRequest) (*CreateResult, error) {
	if err := validateName(req.Name); err != nil {
		return nil, err
	}
	preset, err := snapshot.ParsePreset(string(req.Preset))
	if err != nil {
		return nil, err
	}
	if req.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	paths, err := e.resolvePaths(req.Paths)
	if err != nil {
		return nil, err
	}

	createdAt := e.clock.Now()
	id := snapshot.NewID(req.Name, createdAt)
	r.with("snapshot_id", id)

	workDir, err := e.workDir("snapshot-" + id + "-")
	if err != nil {
		return nil, err
	}
	defer e.removeAll(workDir)

	r.enter(StagePreparing)
	r.begin("Inspecting repositories")
	env := e.prober.Probe(ctx)
	outcomes := e.inspector.InspectAll(ctx, paths)
	degraded := 0
	for _, o := range outcomes {
		if o.IsDegraded() {
			degraded++
		}
	}
	if degraded > 0 {
		r.log.WithField("degraded", degraded).Warn("some repositories were only partially inspected")
	}
	r.done(len(outcomes))

	r.enter(StageBuilding)
	r.begin("Building archive")
	archivePath := filepath.Join(workDir, id+catalog.ArchiveSuffix)
	built, err := e.builder.Build(paths, preset, archivePath)
	if err != nil {
		return nil, fmt.Errorf("build archive: %w", err)
	}
	if len(built.Included) == 0 {
		return nil, fmt.Errorf("%w: none of %d path(s) is a repository", snapshot.ErrEmptySnapshot, len(paths))
	}
	r.done(built.Files)

	included := make(map[string]bool, len(built.Included))
	for _, p := range built.Included {
		included[p] = true
	}
	var repos []snapshot.RepositoryState
	var skipped []string
	for _, o := range outcomes {
		if included[o.Value.Path] {
			repos = append(repos, o.Value)
		} else {
			skipped = append(skipped, o.Value.Path)
		}
	}

	data, err := afero.ReadFile(e.fs, archivePath)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	draft := snapshot.NewDraft(id, req.Name, preset, createdAt, env, repos, req.Description)
	final, err := draft.Finalize(archive.ChecksumBytes(data), built.Size)
	if err != nil {
		return nil, err
	}
	doc, err := final.Encode()
	if err != nil {
		return nil, err
	}

	r.enter(StageTransferring)
	r.begin("Uploading snapshot")
	if ensurer, ok := e.store.(store.BucketEnsurer); ok {
		if err := ensurer.EnsureBucket(ctx, req.Bucket); err != nil {
			return nil, &snapshot.TransferError{Op: "ensure bucket", Key: req.Bucket, Err: err}
		}
	}
	uploadStart := time.Now()
	archiveKey := catalog.ArchiveKey(req.Name, id)
	up, err := e.transfer.Upload(ctx, req.Bucket, archiveKey, data, catalog.ArchiveContentType, map[string]string{
		"snapshot-id":   id,
		"snapshot-name": req.Name,
		"preset":        preset.String(),
		"checksum":      final.Checksum(),
	})
	if err != nil {
		return nil, err
	}
	if _, err := e.transfer.Upload(ctx, req.Bucket, catalog.MetadataKey(req.Name, id), doc, catalog.MetadataContentType, nil); err != nil {
		return nil, err
	}
	uploadDuration := time.Since(uploadStart)
	r.done(up.Parts)

	r.enter(StageFinalizing)
	r.log.WithFields(logrus.Fields{"repositories": len(repos), "size": built.Size}).Info("snapshot created")
	return &CreateResult{
		ID:             id,
		Location:       fmt.Sprintf("s3://%s/%s", req.Bucket, archiveKey),
		Metadata:       final.Metadata(),
		UploadDuration: uploadDuration,
		Skipped:        skipped,
	}, nil
}

func (e *Engine) workDir(prefix string) (string, error) {
	if err := e.fs.MkdirAll(e.tempRoot, 0755); err != nil {
		return "", fmt.Errorf("create temp root: %w", err)
	}
	dir, err := afero.TempDir(e.fs, e.tempRoot, prefix)
	if err != nil {
		return "", fmt.Errorf("create working directory: %w", err)
	}
	return dir, nil
}

func (e *Engine) removeAll(dir string) {
	if err := e.fs.RemoveAll(dir); err != nil {
		e.log.WithError(err).WithField("dir", dir).Warn("failed to remove working directory")
	}
}

type ListRequest struct {
	Bucket     string
	Prefix     string
	MaxResults int
}

// List enumerates snapshots newest first.
func (e *Engine) List(ctx context.Context, req ListRequest) (*catalog.ListResult, error) {
	if req.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return e.catalog.List(ctx, req.Bucket, req.Prefix, req.MaxResults)
}

type RestoreRequest = restore.Request
type RestoreResult = restore.Result

var restoreSteps = map[string]string{
	restore.StageFetching:     "Fetching metadata",
	restore.StageTransferring: "Downloading archive",
	restore.StageVerifying:    "Verifying checksum",
	restore.StageExtracting:   "Extracting repositories",
}

// Restore downloads and extracts a snapshot under the request's target.
func (e *Engine) Restore(ctx context.Context, req RestoreRequest) (*RestoreResult, error) {
	r := newRun(e.log, "restore", e.onStep)
	r.with("snapshot_id", req.ID)
	if req.Bucket == "" {
		return nil, r.finish(errors.New("bucket is required"))
	}

	r.enter(StagePreparing)
	rc := *e.restorer
	rc.OnStage = func(stage string) {
		switch stage {
		case restore.StageFetching:
			r.enter(StageFetching)
		case restore.StageTransferring:
			r.enter(StageTransferring)
		case restore.StageFinalizing:
			r.enter(StageFinalizing)
			r.done(0)
			return
		}
		if name, ok := restoreSteps[stage]; ok {
			r.begin(name)
		}
	}

	res, err := rc.Restore(ctx, req)
	if err == nil {
		r.log.WithField("restored", len(res.RestoredPaths)).Info("snapshot restored")
	}
	return res, r.finish(err)
}

type DiffRequest struct {
	ID     string
	Bucket string
	Paths  []string
	// MetadataFile diffs against a local metadata document instead of the store.
	MetadataFile string
}

// Diff compares live repositories with a snapshot.
func (e *Engine) Diff(ctx context.Context, req DiffRequest) (*snapshot.DiffResult, error) {
	r := newRun(e.log, "diff", e.onStep)
	r.with("snapshot_id", req.ID)
	res, err := e.diff(ctx, r, req)
	return res, r.finish(err)
}

func (e *Engine) diff(ctx context.Context, r *run, req DiffRequest) (*snapshot.DiffResult, error) {
	r.enter(StageFetching)
	r.begin("Fetching metadata")
	var f *snapshot.Finalized
	var err error
	if req.MetadataFile != "" {
		f, err = snapshot.LoadFile(req.MetadataFile)
	} else {
		if req.Bucket == "" {
			return nil, errors.New("bucket is required")
		}
		f, _, err = e.catalog.Lookup(ctx, req.Bucket, req.ID)
	}
	if err != nil {
		return nil, err
	}
	if req.ID != "" && f.ID() != req.ID {
		return nil, fmt.Errorf("metadata file describes %s, not %s", f.ID(), req.ID)
	}

	var paths []string
	if len(req.Paths) > 0 {
		if paths, err = e.resolvePaths(req.Paths); err != nil {
			return nil, err
		}
	}

	r.enter(StagePreparing)
	r.begin("Comparing repositories")
	res := e.differ.Compare(ctx, f, paths)
	r.done(len(res.Repositories))
	return &res, nil
}

type DeleteRequest struct {
	ID     string
	Bucket string
}

type DeleteResult struct {
	Deleted bool     `json:"deleted"`
	ID      string   `json:"id"`
	Keys    []string `json:"keys"`
}

// Delete removes every object belonging to a snapshot.
func (e *Engine) Delete(ctx context.Context, req DeleteRequest) (*DeleteResult, error) {
	r := newRun(e.log, "delete", e.onStep)
	r.with("snapshot_id", req.ID)
	res, err := e.delete(ctx, req)
	return res, r.finish(err)
}

func (e *Engine) delete(ctx context.Context, req DeleteRequest) (*DeleteResult, error) {
	if req.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if req.ID == "" {
		return nil, errors.New("snapshot id is required")
	}
	keys, err := e.catalog.ObjectsFor(ctx, req.Bucket, req.ID)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, &snapshot.NotFoundError{ID: req.ID}
	}
	for _, key := range keys {
		if err := e.store.Delete(ctx, req.Bucket, key); err != nil {
			return nil, &snapshot.TransferError{Op: "delete", Key: key, Err: err}
		}
	}
	return &DeleteResult{Deleted: true, ID: req.ID, Keys: keys}, nil
}
