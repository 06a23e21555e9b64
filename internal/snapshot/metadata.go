package snapshot

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID derives a snapshot id from its name, creation time and a random
// suffix so that identical names created in the same millisecond still differ.
func NewID(name string, createdAt time.Time) string {
	return fmt.Sprintf("%s-%d-%s", name, createdAt.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// Draft is metadata still under construction: the archive has not been
// built, so there is no checksum yet. Drafts are never uploaded.
type Draft struct {
	meta Metadata
}

func NewDraft(id, name string, preset Preset, createdAt time.Time, env EnvironmentIdentity, repos []RepositoryState, description string) *Draft {
	return &Draft{meta: Metadata{
		ID:           id,
		Name:         name,
		Preset:       preset,
		CreatedAt:    createdAt.UTC(),
		Environment:  env,
		Repositories: append([]RepositoryState(nil), repos...),
		Description:  description,
	}}
}

func (d *Draft) ID() string {
	return d.meta.ID
}

// Finalize seals the draft with the archive checksum and size.
func (d *Draft) Finalize(checksum string, archiveSize int64) (*Finalized, error) {
	m := d.meta
	m.Checksum = checksum
	m.ArchiveSize = archiveSize
	return Finalize(m)
}

// Finalized is metadata whose archive checksum is known. It is the only form
// that is persisted, listed, diffed against or restored.
type Finalized struct {
	meta Metadata
}

// Finalize validates m and wraps it.
func Finalize(m Metadata) (*Finalized, error) {
	if m.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrNotFinalized)
	}
	if m.Checksum == "" {
		return nil, fmt.Errorf("%w: %s has no checksum", ErrNotFinalized, m.ID)
	}
	if m.ArchiveSize < 0 {
		return nil, fmt.Errorf("%w: %s has negative archive size", ErrNotFinalized, m.ID)
	}
	m.Repositories = append([]RepositoryState(nil), m.Repositories...)
	return &Finalized{meta: m}, nil
}

// Metadata returns a copy of the sealed document.
func (f *Finalized) Metadata() Metadata {
	m := f.meta
	m.Repositories = append([]RepositoryState(nil), f.meta.Repositories...)
	return m
}

func (f *Finalized) ID() string {
	return f.meta.ID
}

func (f *Finalized) Name() string {
	return f.meta.Name
}

func (f *Finalized) Checksum() string {
	return f.meta.Checksum
}

func (f *Finalized) Repositories() []RepositoryState {
	return append([]RepositoryState(nil), f.meta.Repositories...)
}

func (f *Finalized) ListEntry() ListEntry {
	return ListEntry{
		ID:        f.meta.ID,
		Name:      f.meta.Name,
		Preset:    f.meta.Preset,
		CreatedAt: f.meta.CreatedAt,
		Size:      f.meta.ArchiveSize,
		OS:        f.meta.Environment.OS,
	}
}

func (f *Finalized) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.meta)
}

// Encode renders the metadata document as indented UTF-8 JSON.
func (f *Finalized) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(f.meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return data, nil
}

// Parse decodes a metadata document. Documents without a checksum describe
// snapshots that never finished and are rejected with ErrNotFinalized.
func Parse(data []byte) (*Finalized, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return Finalize(m)
}
