package snapshot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// LocalDir is the directory under a restore target that records which
// snapshot was restored there.
const LocalDir = ".reposnap"

// MetadataSuffix ends every metadata document name, in the bucket and on disk.
const MetadataSuffix = ".metadata.json"

func LocalPath(root, id string) string {
	return filepath.Join(root, LocalDir, id+MetadataSuffix)
}

// SaveLocal writes the metadata document under root atomically (temp file + rename).
func SaveLocal(fs afero.Fs, root string, f *Finalized) (string, error) {
	path := LocalPath(root, f.ID())

	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create metadata directory: %w", err)
	}

	data, err := f.Encode()
	if err != nil {
		return "", err
	}

	tmpPath := path + ".tmp"
	if err := afero.WriteFile(fs, tmpPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write metadata file: %w", err)
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		_ = fs.Remove(tmpPath)
		return "", fmt.Errorf("failed to rename metadata file: %w", err)
	}

	return path, nil
}

// LoadFile reads a metadata document from disk.
func LoadFile(path string) (*Finalized, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("metadata file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}

	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse metadata file %s: %w", path, err)
	}
	return f, nil
}
