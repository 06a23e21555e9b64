package snapshot

// FilesUnknown is the FilesChanged sentinel for a repository that is missing
// or whose snapshot commit cannot be resolved locally.
const FilesUnknown = -1

// Mismatch pairs a live value with the value recorded in the snapshot.
type Mismatch struct {
	Current  string `json:"current"`
	Snapshot string `json:"snapshot"`
}

// RepositoryDiff is the delta for one repository path.
type RepositoryDiff struct {
	Path         string    `json:"path"`
	BranchDiff   *Mismatch `json:"branchDiff,omitempty"`
	CommitDiff   *Mismatch `json:"commitDiff,omitempty"`
	FilesChanged int       `json:"filesChanged"`
	NewStashes   int       `json:"newStashes"`
}

// Changed reports whether the repository counts towards DiffSummary.ReposChanged.
func (d RepositoryDiff) Changed() bool {
	return d.BranchDiff != nil ||
		d.CommitDiff != nil ||
		d.FilesChanged != 0 ||
		d.NewStashes > 0
}

type DiffSummary struct {
	ReposChanged      int  `json:"reposChanged"`
	TotalFilesChanged int  `json:"totalFilesChanged"`
	IsMatch           bool `json:"isMatch"`
}

// DiffResult compares live repository state against one snapshot.
type DiffResult struct {
	SnapshotMetadata Metadata         `json:"snapshotMetadata"`
	Repositories     []RepositoryDiff `json:"repositories"`
	Summary          DiffSummary      `json:"summary"`
}

// Summarize aggregates per-repository diffs. Unknown (negative) file counts
// are not added to the total.
func Summarize(repos []RepositoryDiff) DiffSummary {
	var s DiffSummary
	for _, r := range repos {
		if r.Changed() {
			s.ReposChanged++
		}
		if r.FilesChanged > 0 {
			s.TotalFilesChanged += r.FilesChanged
		}
	}
	s.IsMatch = s.ReposChanged == 0
	return s
}
