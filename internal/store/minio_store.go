package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cenkalti/backoff"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"
)

// MinioConfig holds the connection parameters for an S3-compatible endpoint.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	// MaxRetries bounds retries of idempotent calls (list, get, delete, abort).
	MaxRetries int
}

// MinioStore implements ObjectStore on minio-go. Multipart calls go through
// the low-level Core API so part boundaries stay under the caller's control.
type MinioStore struct {
	core       *minio.Core
	region     string
	maxRetries uint64
}

func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	log.Debugf("Initializing MinIO client for endpoint %s", cfg.Endpoint)
	core, err := minio.NewCore(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &MinioStore{core: core, region: cfg.Region, maxRetries: uint64(retries)}, nil
}

func isNoSuchKey(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey"
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func isNoSuchUpload(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchUpload"
}

// retry runs op with exponential backoff. Not-found style errors are permanent.
func (s *MinioStore) retry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries), ctx)
	try := 1
	return backoff.Retry(func() error {
		err := op()
		if err != nil {
			log.Debugf("minio try #%d failed: %v", try, err)
		}
		try++
		if isNoSuchKey(err) || isNoSuchUpload(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

// EnsureBucket creates bucket when it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.core.Client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", bucket, err)
	}
	if exists {
		return nil
	}
	log.Infof("Bucket %q not found, creating", bucket)
	if err := s.core.Client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("create bucket %q: %w", bucket, err)
	}
	return nil
}

func (s *MinioStore) List(ctx context.Context, bucket, prefix string, maxKeys int) (*ListResult, error) {
	var entries []Object
	err := s.retry(ctx, func() error {
		entries = entries[:0]
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		for obj := range s.core.Client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
			if obj.Err != nil {
				return obj.Err
			}
			entries = append(entries, Object{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified})
			if maxKeys > 0 && len(entries) >= maxKeys {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
	}
	return &ListResult{Entries: entries, Count: len(entries)}, nil
}

func (s *MinioStore) Put(ctx context.Context, bucket, key string, body []byte, contentType string, meta map[string]string) error {
	_, err := s.core.Client.PutObject(ctx, bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: meta,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *MinioStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	var data []byte
	err := s.retry(ctx, func() error {
		obj, err := s.core.Client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return err
		}
		defer obj.Close()
		data, err = io.ReadAll(obj)
		return err
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return data, nil
}

// Delete checks existence first since S3 deletes of missing keys succeed.
func (s *MinioStore) Delete(ctx context.Context, bucket, key string) error {
	err := s.retry(ctx, func() error {
		if _, err := s.core.Client.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err != nil {
			return err
		}
		return s.core.Client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
	})
	if err != nil {
		if isNoSuchKey(err) {
			return fmt.Errorf("%s: %w", key, ErrObjectNotFound)
		}
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *MinioStore) MultipartInit(ctx context.Context, bucket, key, contentType string) (string, error) {
	id, err := s.core.NewMultipartUpload(ctx, bucket, key, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("init multipart %s: %w", key, err)
	}
	return id, nil
}

func (s *MinioStore) MultipartPutPart(ctx context.Context, bucket, key, uploadID string, partNumber int, body []byte) (Part, error) {
	part, err := s.core.PutObjectPart(ctx, bucket, key, uploadID, partNumber, bytes.NewReader(body), int64(len(body)), minio.PutObjectPartOptions{})
	if err != nil {
		return Part{}, fmt.Errorf("upload part %d of %s: %w", partNumber, key, err)
	}
	return Part{ETag: part.ETag, PartNumber: part.PartNumber}, nil
}

func (s *MinioStore) MultipartComplete(ctx context.Context, bucket, key, uploadID string, parts []Part) error {
	complete := make([]minio.CompletePart, len(parts))
	for i, p := range parts {
		complete[i] = minio.CompletePart{ETag: p.ETag, PartNumber: p.PartNumber}
	}
	if _, err := s.core.CompleteMultipartUpload(ctx, bucket, key, uploadID, complete, minio.PutObjectOptions{}); err != nil {
		return fmt.Errorf("complete multipart %s: %w", key, err)
	}
	return nil
}

func (s *MinioStore) MultipartAbort(ctx context.Context, bucket, key, uploadID string) error {
	err := s.retry(ctx, func() error {
		return s.core.AbortMultipartUpload(ctx, bucket, key, uploadID)
	})
	if err != nil {
		if isNoSuchUpload(err) {
			return fmt.Errorf("%s: %w", uploadID, ErrNoSuchUpload)
		}
		return fmt.Errorf("abort multipart %s: %w", key, err)
	}
	return nil
}
