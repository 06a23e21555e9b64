// Package transfer moves archive bytes between the local process and an
// object store.
package transfer

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"

	"github.com/openbootdotdev/reposnap/internal/snapshot"
	"github.com/openbootdotdev/reposnap/internal/store"
)

const (
	// MultipartThreshold is the largest body sent as a single put.
	MultipartThreshold = 5 * 1024 * 1024
	// ChunkSize is the part size of a multipart upload, the store minimum.
	ChunkSize = 5 * 1024 * 1024
)

// Encoding describes how a store returns object bodies.
type Encoding string

const (
	EncodingRaw    Encoding = "raw"
	EncodingBase64 Encoding = "base64"
)

// Metric names registered by a Coordinator.
const (
	MetricUploadBytes     = "transfer.upload.bytes"
	MetricUploadParts     = "transfer.upload.parts"
	MetricUploadLatency   = "transfer.upload.latency"
	MetricMultipartAborts = "transfer.multipart.aborts"
	MetricDownloadBytes   = "transfer.download.bytes"
	MetricDownloadLatency = "transfer.download.latency"
)

type Coordinator struct {
	store     store.ObjectStore
	log       logrus.FieldLogger
	threshold int
	chunkSize int

	uploadBytes     metrics.Counter
	uploadParts     metrics.Counter
	uploadLatency   metrics.Timer
	aborts          metrics.Counter
	downloadBytes   metrics.Counter
	downloadLatency metrics.Timer
}

// NewCoordinator registers its metrics in registry; a nil registry gets a private one.
func NewCoordinator(s store.ObjectStore, log logrus.FieldLogger, registry metrics.Registry) *Coordinator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	return &Coordinator{
		store:     s,
		log:       log,
		threshold: MultipartThreshold,
		chunkSize: ChunkSize,

		uploadBytes:     metrics.GetOrRegisterCounter(MetricUploadBytes, registry),
		uploadParts:     metrics.GetOrRegisterCounter(MetricUploadParts, registry),
		uploadLatency:   metrics.GetOrRegisterTimer(MetricUploadLatency, registry),
		aborts:          metrics.GetOrRegisterCounter(MetricMultipartAborts, registry),
		downloadBytes:   metrics.GetOrRegisterCounter(MetricDownloadBytes, registry),
		downloadLatency: metrics.GetOrRegisterTimer(MetricDownloadLatency, registry),
	}
}

type UploadResult struct {
	Key       string
	Size      int64
	Parts     int
	Multipart bool
	Duration  time.Duration
}

// Upload stores body under key. Bodies up to the threshold go in one put;
// larger ones are sent as sequential fixed-size parts. A failed multipart
// upload is aborted before the error is returned.
func (c *Coordinator) Upload(ctx context.Context, bucket, key string, body []byte, contentType string, meta map[string]string) (*UploadResult, error) {
	start := time.Now()
	res := &UploadResult{Key: key, Size: int64(len(body))}

	if len(body) <= c.threshold {
		if err := c.store.Put(ctx, bucket, key, body, contentType, meta); err != nil {
			return nil, &snapshot.TransferError{Op: "put", Key: key, Err: err}
		}
		res.Parts = 1
	} else {
		parts, err := c.multipart(ctx, bucket, key, body, contentType)
		if err != nil {
			return nil, err
		}
		res.Parts = parts
		res.Multipart = true
	}

	res.Duration = time.Since(start)
	c.uploadLatency.Update(res.Duration)
	c.uploadBytes.Inc(res.Size)
	c.uploadParts.Inc(int64(res.Parts))
	c.log.WithFields(logrus.Fields{"key": key, "size": res.Size, "parts": res.Parts}).Debug("upload complete")
	return res, nil
}

func (c *Coordinator) multipart(ctx context.Context, bucket, key string, body []byte, contentType string) (int, error) {
	uploadID, err := c.store.MultipartInit(ctx, bucket, key, contentType)
	if err != nil {
		return 0, &snapshot.TransferError{Op: "multipart init", Key: key, Err: err}
	}

	var parts []store.Part
	for offset, n := 0, 1; offset < len(body); offset, n = offset+c.chunkSize, n+1 {
		end := min(offset+c.chunkSize, len(body))
		part, err := c.store.MultipartPutPart(ctx, bucket, key, uploadID, n, body[offset:end])
		if err != nil {
			c.abort(ctx, bucket, key, uploadID)
			return 0, &snapshot.TransferError{Op: fmt.Sprintf("multipart part %d", n), Key: key, Err: err}
		}
		parts = append(parts, part)
	}

	if err := c.store.MultipartComplete(ctx, bucket, key, uploadID, parts); err != nil {
		c.abort(ctx, bucket, key, uploadID)
		return 0, &snapshot.TransferError{Op: "multipart complete", Key: key, Err: err}
	}
	return len(parts), nil
}

// abort runs even if ctx was cancelled. Its own failure is logged, not returned.
func (c *Coordinator) abort(ctx context.Context, bucket, key, uploadID string) {
	c.aborts.Inc(1)
	if err := c.store.MultipartAbort(context.WithoutCancel(ctx), bucket, key, uploadID); err != nil {
		c.log.WithFields(logrus.Fields{"key": key, "upload_id": uploadID}).WithError(err).Warn("failed to abort multipart upload")
	}
}

// Download fetches key. Failures are returned without retry.
func (c *Coordinator) Download(ctx context.Context, bucket, key string, enc Encoding) ([]byte, error) {
	start := time.Now()
	data, err := c.store.Get(ctx, bucket, key)
	if err != nil {
		return nil, &snapshot.TransferError{Op: "get", Key: key, Err: err}
	}
	if enc == EncodingBase64 {
		decoded := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
		n, err := base64.StdEncoding.Decode(decoded, data)
		if err != nil {
			return nil, &snapshot.TransferError{Op: "decode", Key: key, Err: err}
		}
		data = decoded[:n]
	}
	c.downloadLatency.UpdateSince(start)
	c.downloadBytes.Inc(int64(len(data)))
	return data, nil
}
