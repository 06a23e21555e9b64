// Package catalog addresses snapshot objects in a store and reads their
// metadata documents.
package catalog

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/openbootdotdev/reposnap/internal/snapshot"
	"github.com/openbootdotdev/reposnap/internal/store"
)

const (
	Prefix         = "snapshots/"
	MetadataSuffix = snapshot.MetadataSuffix
	ArchiveSuffix  = ".tar.gz"

	MetadataContentType = "application/json"
	ArchiveContentType  = "application/gzip"
)

// DefaultMaxResults caps List when the caller passes no limit.
const DefaultMaxResults = 100

// ArchiveKey is snapshots/<name>/<id>.tar.gz.
func ArchiveKey(name, id string) string {
	return Prefix + name + "/" + id + ArchiveSuffix
}

// MetadataKey is snapshots/<name>/<id>.metadata.json.
func MetadataKey(name, id string) string {
	return Prefix + name + "/" + id + MetadataSuffix
}

// ArchiveKeyFor derives the archive key from a metadata key.
func ArchiveKeyFor(metadataKey string) string {
	return strings.TrimSuffix(metadataKey, MetadataSuffix) + ArchiveSuffix
}

// IDFromKey returns the id of a snapshot object key and whether the key
// belongs to a snapshot at all.
func IDFromKey(key string) (string, bool) {
	base := path.Base(key)
	for _, suffix := range []string{MetadataSuffix, ArchiveSuffix} {
		if id, ok := strings.CutSuffix(base, suffix); ok && id != "" {
			return id, true
		}
	}
	return "", false
}

type Catalog struct {
	store store.ObjectStore
	log   logrus.FieldLogger
}

func New(s store.ObjectStore, log logrus.FieldLogger) *Catalog {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Catalog{store: s, log: log}
}

// Locate returns the metadata key for id. Only a key whose final segment is
// exactly <id>.metadata.json matches; the first one in listing order wins.
func (c *Catalog) Locate(ctx context.Context, bucket, id string) (string, error) {
	res, err := c.store.List(ctx, bucket, Prefix, 0)
	if err != nil {
		return "", &snapshot.TransferError{Op: "list", Key: Prefix, Err: err}
	}
	want := id + MetadataSuffix
	for _, obj := range res.Entries {
		if path.Base(obj.Key) == want {
			return obj.Key, nil
		}
	}
	return "", &snapshot.NotFoundError{ID: id}
}

// Fetch downloads and parses the metadata document at key.
func (c *Catalog) Fetch(ctx context.Context, bucket, key string) (*snapshot.Finalized, error) {
	data, err := c.store.Get(ctx, bucket, key)
	if err != nil {
		return nil, &snapshot.TransferError{Op: "get", Key: key, Err: err}
	}
	f, err := snapshot.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", key, err)
	}
	return f, nil
}

// Lookup locates and fetches the metadata for id.
func (c *Catalog) Lookup(ctx context.Context, bucket, id string) (*snapshot.Finalized, string, error) {
	key, err := c.Locate(ctx, bucket, id)
	if err != nil {
		return nil, "", err
	}
	f, err := c.Fetch(ctx, bucket, key)
	if err != nil {
		return nil, "", err
	}
	return f, key, nil
}

type ListResult struct {
	Snapshots []snapshot.ListEntry `json:"snapshots"`
	Count     int                  `json:"count"`
	// Skipped counts metadata documents that could not be read.
	Skipped int `json:"skipped,omitempty"`
}

// List enumerates snapshots under an optional name prefix, newest first.
// Each snapshot has an archive and a metadata object, so twice maxResults
// keys are requested. Unreadable documents are skipped.
func (c *Catalog) List(ctx context.Context, bucket, namePrefix string, maxResults int) (*ListResult, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	prefix := Prefix + namePrefix
	res, err := c.store.List(ctx, bucket, prefix, maxResults*2)
	if err != nil {
		return nil, &snapshot.TransferError{Op: "list", Key: prefix, Err: err}
	}

	var keys []string
	for _, obj := range res.Entries {
		if strings.HasSuffix(obj.Key, MetadataSuffix) {
			keys = append(keys, obj.Key)
		}
	}
	if len(keys) > maxResults {
		keys = keys[:maxResults]
	}

	out := &ListResult{Snapshots: []snapshot.ListEntry{}}
	for _, key := range keys {
		entry := c.entry(ctx, bucket, key)
		if entry.IsDegraded() {
			c.log.WithField("key", key).WithError(entry.Cause).Warn("skipping unreadable snapshot metadata")
			out.Skipped++
			continue
		}
		out.Snapshots = append(out.Snapshots, entry.Value)
	}

	sort.SliceStable(out.Snapshots, func(i, j int) bool {
		return out.Snapshots[i].CreatedAt.After(out.Snapshots[j].CreatedAt)
	})
	out.Count = len(out.Snapshots)
	return out, nil
}

func (c *Catalog) entry(ctx context.Context, bucket, key string) snapshot.Outcome[snapshot.ListEntry] {
	f, err := c.Fetch(ctx, bucket, key)
	if err != nil {
		return snapshot.Degraded(snapshot.ListEntry{}, err)
	}
	return snapshot.Ok(f.ListEntry())
}

// ObjectsFor returns every key belonging to snapshot id.
func (c *Catalog) ObjectsFor(ctx context.Context, bucket, id string) ([]string, error) {
	res, err := c.store.List(ctx, bucket, Prefix, 0)
	if err != nil {
		return nil, &snapshot.TransferError{Op: "list", Key: Prefix, Err: err}
	}
	var keys []string
	for _, obj := range res.Entries {
		if got, ok := IDFromKey(obj.Key); ok && got == id {
			keys = append(keys, obj.Key)
		}
	}
	return keys, nil
}
