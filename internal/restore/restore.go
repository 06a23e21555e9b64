// Package restore downloads a snapshot archive and extracts it under a
// target directory.
package restore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/openbootdotdev/reposnap/internal/archive"
	"github.com/openbootdotdev/reposnap/internal/catalog"
	"github.com/openbootdotdev/reposnap/internal/snapshot"
	"github.com/openbootdotdev/reposnap/internal/transfer"
)

// ErrLocked is returned when another restore holds the target lock.
var ErrLocked = errors.New("restore target is locked by another process")

// MetadataSource resolves a snapshot id to its metadata and metadata key.
type MetadataSource interface {
	Lookup(ctx context.Context, bucket, id string) (*snapshot.Finalized, string, error)
}

type Downloader interface {
	Download(ctx context.Context, bucket, key string, enc transfer.Encoding) ([]byte, error)
}

type Request struct {
	ID     string
	Bucket string
	// TargetPath defaults to the working directory, which is then kept.
	TargetPath string
	Overwrite  bool
	// SkipVerify disables the archive checksum check.
	SkipVerify bool
}

type Result struct {
	Metadata         snapshot.Metadata `json:"metadata"`
	TargetPath       string            `json:"targetPath"`
	RestoredPaths    []string          `json:"restoredPaths"`
	Verified         bool              `json:"verified"`
	DownloadDuration time.Duration     `json:"downloadDuration"`
	ExtractDuration  time.Duration     `json:"extractDuration"`
}

// Stage names reported through Coordinator.OnStage.
const (
	StageFetching     = "fetching"
	StageTransferring = "transferring"
	StageVerifying    = "verifying"
	StageExtracting   = "extracting"
	StageFinalizing   = "finalizing"
)

type Coordinator struct {
	source     MetadataSource
	downloader Downloader
	fs         afero.Fs
	log        logrus.FieldLogger

	// TempRoot is where working directories are created; empty uses the OS default.
	TempRoot string
	Encoding transfer.Encoding
	LockWait time.Duration
	OnStage  func(stage string)
}

func New(source MetadataSource, downloader Downloader, fs afero.Fs, log logrus.FieldLogger) *Coordinator {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Coordinator{
		source:     source,
		downloader: downloader,
		fs:         fs,
		log:        log,
		Encoding:   transfer.EncodingRaw,
		LockWait:   5 * time.Second,
	}
}

func (c *Coordinator) stage(name string) {
	c.log.WithField("stage", name).Debug("restore stage")
	if c.OnStage != nil {
		c.OnStage(name)
	}
}

// Restore fetches, verifies and extracts one snapshot. The working
// directory is removed on every exit unless it is also the target.
func (c *Coordinator) Restore(ctx context.Context, req Request) (*Result, error) {
	tempRoot := c.TempRoot
	if tempRoot == "" {
		tempRoot = os.TempDir()
	}
	if err := c.fs.MkdirAll(tempRoot, 0755); err != nil {
		return nil, fmt.Errorf("create temp root: %w", err)
	}
	workDir, err := afero.TempDir(c.fs, tempRoot, "restore-"+req.ID+"-")
	if err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}
	target := req.TargetPath
	if target == "" {
		target = workDir
	}
	defer func() {
		if filepath.Clean(workDir) == filepath.Clean(target) {
			return
		}
		if rmErr := c.fs.RemoveAll(workDir); rmErr != nil {
			c.log.WithError(rmErr).WithField("dir", workDir).Warn("failed to remove working directory")
		}
	}()

	c.stage(StageFetching)
	downloadStart := time.Now()
	f, key, err := c.source.Lookup(ctx, req.Bucket, req.ID)
	if err != nil {
		return nil, err
	}

	c.stage(StageTransferring)
	data, err := c.downloader.Download(ctx, req.Bucket, catalog.ArchiveKeyFor(key), c.Encoding)
	if err != nil {
		return nil, err
	}
	downloadDuration := time.Since(downloadStart)

	verified := false
	if !req.SkipVerify {
		c.stage(StageVerifying)
		if err := archive.Verify(data, f.Checksum()); err != nil {
			return nil, err
		}
		verified = true
	}

	archivePath := filepath.Join(workDir, req.ID+catalog.ArchiveSuffix)
	if err := afero.WriteFile(c.fs, archivePath, data, 0600); err != nil {
		return nil, fmt.Errorf("write archive: %w", err)
	}

	c.stage(StageExtracting)
	extractStart := time.Now()
	repos := f.Repositories()
	if !req.Overwrite {
		if err := c.preflight(target, repos); err != nil {
			return nil, err
		}
	}
	if err := c.fs.MkdirAll(target, 0755); err != nil {
		return nil, fmt.Errorf("create target %s: %w", target, err)
	}
	unlock, err := c.lock(ctx, target)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if _, err := archive.Unpack(c.fs, archivePath, target); err != nil {
		return nil, fmt.Errorf("extract archive: %w", err)
	}
	extractDuration := time.Since(extractStart)

	c.stage(StageFinalizing)
	if target == workDir {
		_ = c.fs.Remove(archivePath)
	}
	restored := []string{}
	for _, r := range repos {
		p := filepath.Join(target, r.DirName())
		if ok, _ := afero.DirExists(c.fs, p); ok {
			restored = append(restored, p)
		}
	}
	if _, err := snapshot.SaveLocal(c.fs, target, f); err != nil {
		c.log.WithError(err).Warn("failed to record restored snapshot metadata")
	}

	return &Result{
		Metadata:         f.Metadata(),
		TargetPath:       target,
		RestoredPaths:    restored,
		Verified:         verified,
		DownloadDuration: downloadDuration,
		ExtractDuration:  extractDuration,
	}, nil
}

// preflight fails on the first repository whose directory already exists
// under target.
func (c *Coordinator) preflight(target string, repos []snapshot.RepositoryState) error {
	for _, r := range repos {
		for _, name := range uniq(r.DirName(), r.Name) {
			p := filepath.Join(target, name)
			if ok, _ := afero.Exists(c.fs, p); ok {
				return &snapshot.ConflictError{Path: p}
			}
		}
	}
	return nil
}

func uniq(a, b string) []string {
	if a == b || b == "" {
		return []string{a}
	}
	return []string{a, b}
}

// lock takes an advisory file lock on target. Only the OS filesystem can be
// locked; other filesystems are single-process.
func (c *Coordinator) lock(ctx context.Context, target string) (func(), error) {
	if _, ok := c.fs.(*afero.OsFs); !ok {
		return func() {}, nil
	}
	dir := filepath.Join(target, snapshot.LocalDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(filepath.Join(dir, "restore.lock"))

	lockCtx, cancel := context.WithTimeout(ctx, c.LockWait)
	defer cancel()
	locked, err := fl.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil || !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, target)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			c.log.WithError(err).Warn("failed to release restore lock")
		}
		_ = os.Remove(fl.Path())
	}, nil
}
