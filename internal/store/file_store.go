package store

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const multipartDir = ".multipart"

// FileStore keeps each bucket as a directory tree under root. Objects are
// written through a temp file and renamed into place.
// User metadata is not persisted.
type FileStore struct {
	fs   afero.Fs
	root string

	mu sync.Mutex
}

// NewFileStore returns a store rooted at dir on fsys. A nil fsys uses the OS filesystem.
func NewFileStore(fsys afero.Fs, dir string) *FileStore {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	log.Infof("Making new FileStore at dir: %s", dir)
	return &FileStore{fs: fsys, root: dir}
}

// NewMemoryStore returns a FileStore over an in-memory filesystem.
func NewMemoryStore() *FileStore {
	return &FileStore{fs: afero.NewMemMapFs(), root: "/"}
}

func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) bucketPath(bucket string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || strings.HasPrefix(bucket, ".") {
		return "", fmt.Errorf("invalid bucket %q", bucket)
	}
	return filepath.Join(s.root, bucket), nil
}

func (s *FileStore) objectPath(bucket, key string) (string, error) {
	base, err := s.bucketPath(bucket)
	if err != nil {
		return "", err
	}
	if err := validateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(base, filepath.FromSlash(key)), nil
}

func (s *FileStore) List(ctx context.Context, bucket, prefix string, maxKeys int) (*ListResult, error) {
	base, err := s.bucketPath(bucket)
	if err != nil {
		return nil, err
	}

	var entries []Object
	err = afero.Walk(s.fs, base, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(path.Base(key), ".tmp-") || !strings.HasPrefix(key, prefix) {
			return nil
		}
		entries = append(entries, Object{Key: key, Size: info.Size(), LastModified: info.ModTime().UTC()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	if maxKeys > 0 && len(entries) > maxKeys {
		entries = entries[:maxKeys]
	}
	return &ListResult{Entries: entries, Count: len(entries)}, nil
}

func (s *FileStore) Put(ctx context.Context, bucket, key string, body []byte, contentType string, meta map[string]string) error {
	p, err := s.objectPath(bucket, key)
	if err != nil {
		return err
	}
	return s.writeAtomic(p, body)
}

func (s *FileStore) writeAtomic(p string, body []byte) error {
	if err := s.fs.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp := filepath.Join(filepath.Dir(p), ".tmp-"+uuid.NewString())
	if err := afero.WriteFile(s.fs, tmp, body, 0644); err != nil {
		return fmt.Errorf("write object: %w", err)
	}
	if err := s.fs.Rename(tmp, p); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("rename object: %w", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	p, err := s.objectPath(bucket, key)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
		}
		return nil, err
	}
	return data, nil
}

func (s *FileStore) Delete(ctx context.Context, bucket, key string) error {
	p, err := s.objectPath(bucket, key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", key, ErrObjectNotFound)
		}
		return err
	}
	return nil
}

func (s *FileStore) uploadDir(uploadID string) string {
	return filepath.Join(s.root, multipartDir, uploadID)
}

func (s *FileStore) checkUpload(uploadID string) (string, error) {
	if uploadID == "" || strings.ContainsAny(uploadID, `/\.`) {
		return "", fmt.Errorf("%w: %q", ErrNoSuchUpload, uploadID)
	}
	dir := s.uploadDir(uploadID)
	if ok, _ := afero.DirExists(s.fs, dir); !ok {
		return "", fmt.Errorf("%w: %s", ErrNoSuchUpload, uploadID)
	}
	return dir, nil
}

func (s *FileStore) MultipartInit(ctx context.Context, bucket, key, contentType string) (string, error) {
	if _, err := s.objectPath(bucket, key); err != nil {
		return "", err
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := s.fs.MkdirAll(s.uploadDir(id), 0755); err != nil {
		return "", fmt.Errorf("init upload: %w", err)
	}
	return id, nil
}

func partName(n int) string {
	return fmt.Sprintf("part-%05d", n)
}

func (s *FileStore) MultipartPutPart(ctx context.Context, bucket, key, uploadID string, partNumber int, body []byte) (Part, error) {
	dir, err := s.checkUpload(uploadID)
	if err != nil {
		return Part{}, err
	}
	if partNumber < 1 {
		return Part{}, fmt.Errorf("invalid part number %d", partNumber)
	}
	if err := afero.WriteFile(s.fs, filepath.Join(dir, partName(partNumber)), body, 0644); err != nil {
		return Part{}, fmt.Errorf("write part %d: %w", partNumber, err)
	}
	sum := md5.Sum(body)
	return Part{ETag: hex.EncodeToString(sum[:]), PartNumber: partNumber}, nil
}

// MultipartComplete requires parts numbered 1..n in order with matching etags.
func (s *FileStore) MultipartComplete(ctx context.Context, bucket, key, uploadID string, parts []Part) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.objectPath(bucket, key)
	if err != nil {
		return err
	}
	dir, err := s.checkUpload(uploadID)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return fmt.Errorf("complete %s: no parts", key)
	}

	var body []byte
	for i, part := range parts {
		if part.PartNumber != i+1 {
			return fmt.Errorf("complete %s: part %d out of order at position %d", key, part.PartNumber, i+1)
		}
		data, err := afero.ReadFile(s.fs, filepath.Join(dir, partName(part.PartNumber)))
		if err != nil {
			return fmt.Errorf("complete %s: read part %d: %w", key, part.PartNumber, err)
		}
		sum := md5.Sum(data)
		if hex.EncodeToString(sum[:]) != part.ETag {
			return fmt.Errorf("complete %s: etag mismatch for part %d", key, part.PartNumber)
		}
		body = append(body, data...)
	}

	if err := s.writeAtomic(p, body); err != nil {
		return err
	}
	return s.fs.RemoveAll(dir)
}

func (s *FileStore) MultipartAbort(ctx context.Context, bucket, key, uploadID string) error {
	dir, err := s.checkUpload(uploadID)
	if err != nil {
		return err
	}
	return s.fs.RemoveAll(dir)
}

// PendingUploads returns the ids of multipart uploads that were neither
// completed nor aborted.
func (s *FileStore) PendingUploads() ([]string, error) {
	infos, err := afero.ReadDir(s.fs, filepath.Join(s.root, multipartDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, info := range infos {
		if info.IsDir() {
			ids = append(ids, info.Name())
		}
	}
	return ids, nil
}
