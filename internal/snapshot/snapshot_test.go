package snapshot

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePreset(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Preset
		wantErr  bool
	}{
		{name: "empty defaults to medium", input: "", expected: PresetMedium},
		{name: "light", input: "light", expected: PresetLight},
		{name: "medium", input: "medium", expected: PresetMedium},
		{name: "heavy", input: "heavy", expected: PresetHeavy},
		{name: "unknown", input: "huge", wantErr: true},
		{name: "case sensitive", input: "Light", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePreset(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, p)
		})
	}
}

func TestNewID_UniqueForSameNameAndTime(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	a := NewID("ws", now)
	b := NewID("ws", now)

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "ws-1700000000000-"))
	assert.Len(t, strings.TrimPrefix(a, "ws-1700000000000-"), 8)
}

func TestDraft_Finalize(t *testing.T) {
	repos := []RepositoryState{{Path: "/src/api", Name: "api"}}
	d := NewDraft("id-1", "ws", PresetLight, time.Now(), EnvironmentIdentity{OS: "linux"}, repos, "nightly")

	_, err := d.Finalize("", 10)
	assert.ErrorIs(t, err, ErrNotFinalized)

	f, err := d.Finalize("abc123", 10)
	require.NoError(t, err)
	m := f.Metadata()
	assert.Equal(t, "id-1", m.ID)
	assert.Equal(t, "abc123", m.Checksum)
	assert.Equal(t, int64(10), m.ArchiveSize)
	assert.Equal(t, "nightly", m.Description)
	assert.Equal(t, repos, m.Repositories)
}

func TestFinalized_MetadataIsACopy(t *testing.T) {
	f := testFinalized(t)
	m := f.Metadata()
	m.Repositories[0].Branch = "mutated"

	assert.Equal(t, "main", f.Metadata().Repositories[0].Branch)
}

func TestFinalized_EncodeParse(t *testing.T) {
	f := testFinalized(t)
	data, err := f.Encode()
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "createdAt")
	assert.Contains(t, raw, "archiveSize")
	assert.NotContains(t, raw, "description")

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, f.Metadata(), parsed.Metadata())
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("nope"))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"id":"a","checksum":""}`))
	assert.ErrorIs(t, err, ErrNotFinalized)
}

func TestMetadata_FindRepository(t *testing.T) {
	m := Metadata{Repositories: []RepositoryState{
		{Path: "/src/api", Name: "api-service"},
		{Path: "/src/web", Name: "web"},
	}}

	r, ok := m.FindRepository("/src/api")
	require.True(t, ok)
	assert.Equal(t, "api-service", r.Name)

	r, ok = m.FindRepository("/elsewhere/web")
	require.True(t, ok)
	assert.Equal(t, "/src/web", r.Path)

	_, ok = m.FindRepository("/src/docs")
	assert.False(t, ok)
}

func TestRepositoryState_DirName(t *testing.T) {
	assert.Equal(t, "api", RepositoryState{Path: "/src/api/"}.DirName())
	assert.Equal(t, "web", RepositoryState{Path: "web"}.DirName())
}

func TestSummarize(t *testing.T) {
	repos := []RepositoryDiff{
		{Path: "a"},
		{Path: "b", FilesChanged: 3, CommitDiff: &Mismatch{Current: "2", Snapshot: "1"}},
		{Path: "c", FilesChanged: FilesUnknown},
		{Path: "d", NewStashes: -1},
		{Path: "e", NewStashes: 2},
	}

	s := Summarize(repos)
	assert.Equal(t, 3, s.ReposChanged)
	assert.Equal(t, 3, s.TotalFilesChanged)
	assert.False(t, s.IsMatch)

	assert.True(t, Summarize([]RepositoryDiff{{Path: "a"}}).IsMatch)
	assert.True(t, Summarize(nil).IsMatch)
}

func TestOutcome(t *testing.T) {
	ok := Ok(3)
	assert.False(t, ok.IsDegraded())
	assert.Equal(t, 3, ok.Value)

	deg := Degraded(0, errors.New("no remote"))
	assert.True(t, deg.IsDegraded())
	assert.Equal(t, 0, deg.Value)

	assert.Equal(t, []int{3, 0}, Values([]Outcome[int]{ok, deg}))
}

func TestErrorTypes(t *testing.T) {
	var err error = &ConflictError{Path: "/t/api"}
	assert.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "/t/api")

	err = &NotFoundError{ID: "x"}
	assert.ErrorIs(t, err, ErrNotFound)

	cause := errors.New("boom")
	err = &TransferError{Op: "put", Key: "k", Err: cause}
	assert.ErrorIs(t, err, ErrTransfer)
	assert.ErrorIs(t, err, cause)
}
