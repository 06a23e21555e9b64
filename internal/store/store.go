// Package store provides the object stores snapshots are persisted in.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrObjectNotFound is returned by Get and Delete for missing keys.
	ErrObjectNotFound = errors.New("object not found")
	// ErrNoSuchUpload is returned for unknown multipart upload ids.
	ErrNoSuchUpload = errors.New("multipart upload not found")
	// ErrInvalidKey is returned for keys that are empty or escape the bucket.
	ErrInvalidKey = errors.New("invalid object key")
)

// Object is one listed entry.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

type ListResult struct {
	Entries []Object `json:"entries"`
	Count   int      `json:"count"`
}

// Part identifies one uploaded multipart chunk.
type Part struct {
	ETag       string `json:"etag"`
	PartNumber int    `json:"partNumber"`
}

// ObjectStore is the minimal S3-style surface snapshots need. Keys are
// listed in lexical order; maxKeys <= 0 means no limit.
type ObjectStore interface {
	List(ctx context.Context, bucket, prefix string, maxKeys int) (*ListResult, error)
	Put(ctx context.Context, bucket, key string, body []byte, contentType string, meta map[string]string) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Delete(ctx context.Context, bucket, key string) error

	MultipartInit(ctx context.Context, bucket, key, contentType string) (string, error)
	MultipartPutPart(ctx context.Context, bucket, key, uploadID string, partNumber int, body []byte) (Part, error)
	MultipartComplete(ctx context.Context, bucket, key, uploadID string, parts []Part) error
	MultipartAbort(ctx context.Context, bucket, key, uploadID string) error
}

// BucketEnsurer is implemented by stores that can create buckets on demand.
type BucketEnsurer interface {
	EnsureBucket(ctx context.Context, bucket string) error
}

// Kinds accepted by Open.
const (
	KindMinio  = "minio"
	KindFile   = "file"
	KindMemory = "memory"
)

type Config struct {
	Kind       string
	Endpoint   string
	AccessKey  string
	SecretKey  string
	UseSSL     bool
	Region     string
	Dir        string
	MaxRetries int
}

// Open builds the store described by cfg.
func Open(cfg Config) (ObjectStore, error) {
	switch cfg.Kind {
	case KindMinio, "":
		return NewMinioStore(MinioConfig{
			Endpoint:   cfg.Endpoint,
			AccessKey:  cfg.AccessKey,
			SecretKey:  cfg.SecretKey,
			UseSSL:     cfg.UseSSL,
			Region:     cfg.Region,
			MaxRetries: cfg.MaxRetries,
		})
	case KindFile:
		if cfg.Dir == "" {
			return nil, errors.New("file store requires a directory")
		}
		return NewFileStore(nil, cfg.Dir), nil
	case KindMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store kind %q (want %s, %s or %s)", cfg.Kind, KindMinio, KindFile, KindMemory)
	}
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
