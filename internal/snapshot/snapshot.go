package snapshot

import (
	"path/filepath"
	"time"
)

// RepositoryState is one inspected repository at a point in time.
type RepositoryState struct {
	Path       string `json:"path"`
	Name       string `json:"name"`
	Branch     string `json:"branch"`
	Commit     string `json:"commit"`
	Dirty      bool   `json:"dirty"`
	StashCount int    `json:"stashCount"`
	RemoteURL  string `json:"remoteUrl,omitempty"`
	Ahead      int    `json:"ahead"`
	Behind     int    `json:"behind"`
}

// DirName is the directory the repository occupies inside an archive and
// under a restore target.
func (r RepositoryState) DirName() string {
	return filepath.Base(filepath.Clean(r.Path))
}

// EnvironmentIdentity describes the host a snapshot was created on.
type EnvironmentIdentity struct {
	OS                    string `json:"os"`
	RuntimeVersion        string `json:"runtimeVersion"`
	PackageManagerVersion string `json:"packageManagerVersion"`
	GoVersion             string `json:"goVersion,omitempty"`
	Username              string `json:"username"`
	Hostname              string `json:"hostname"`
}

// Metadata is the durable record of one snapshot. Values handed to the
// store, the diff engine or the restore path are always wrapped in a
// Finalized, which guarantees Checksum is set.
type Metadata struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Preset       Preset              `json:"preset"`
	CreatedAt    time.Time           `json:"createdAt"`
	Environment  EnvironmentIdentity `json:"environment"`
	Repositories []RepositoryState   `json:"repositories"`
	Checksum     string              `json:"checksum"`
	ArchiveSize  int64               `json:"archiveSize"`
	Description  string              `json:"description,omitempty"`
}

// FindRepository returns the first recorded repository matching path exactly,
// or whose name equals the path's final segment.
func (m Metadata) FindRepository(path string) (RepositoryState, bool) {
	base := filepath.Base(filepath.Clean(path))
	for _, r := range m.Repositories {
		if r.Path == path || r.Name == base {
			return r, true
		}
	}
	return RepositoryState{}, false
}

// ListEntry is the summary row returned when enumerating snapshots.
type ListEntry struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Preset    Preset    `json:"preset"`
	CreatedAt time.Time `json:"createdAt"`
	Size      int64     `json:"size"`
	OS        string    `json:"os"`
}
