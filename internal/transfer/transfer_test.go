package transfer

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/openbootdotdev/reposnap/internal/snapshot"
	"github.com/openbootdotdev/reposnap/internal/store"
)

// MockStore is a mock for store.ObjectStore.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) List(ctx context.Context, bucket, prefix string, maxKeys int) (*store.ListResult, error) {
	args := m.Called(ctx, bucket, prefix, maxKeys)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	return ret.(*store.ListResult), args.Error(1)
}

func (m *MockStore) Put(ctx context.Context, bucket, key string, body []byte, contentType string, meta map[string]string) error {
	return m.Called(ctx, bucket, key, body, contentType, meta).Error(0)
}

func (m *MockStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	args := m.Called(ctx, bucket, key)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	return ret.([]byte), args.Error(1)
}

func (m *MockStore) Delete(ctx context.Context, bucket, key string) error {
	return m.Called(ctx, bucket, key).Error(0)
}

func (m *MockStore) MultipartInit(ctx context.Context, bucket, key, contentType string) (string, error) {
	args := m.Called(ctx, bucket, key, contentType)
	return args.String(0), args.Error(1)
}

func (m *MockStore) MultipartPutPart(ctx context.Context, bucket, key, uploadID string, partNumber int, body []byte) (store.Part, error) {
	args := m.Called(ctx, bucket, key, uploadID, partNumber, body)
	return args.Get(0).(store.Part), args.Error(1)
}

func (m *MockStore) MultipartComplete(ctx context.Context, bucket, key, uploadID string, parts []store.Part) error {
	return m.Called(ctx, bucket, key, uploadID, parts).Error(0)
}

func (m *MockStore) MultipartAbort(ctx context.Context, bucket, key, uploadID string) error {
	return m.Called(ctx, bucket, key, uploadID).Error(0)
}

func newTestCoordinator(s store.ObjectStore) (*Coordinator, metrics.Registry) {
	logger, _ := test.NewNullLogger()
	registry := metrics.NewRegistry()
	return NewCoordinator(s, logger, registry), registry
}

func partOK(n int) store.Part {
	return store.Part{ETag: "etag", PartNumber: n}
}

func TestUpload_AtThresholdUsesSinglePut(t *testing.T) {
	m := new(MockStore)
	c, registry := newTestCoordinator(m)
	body := bytes.Repeat([]byte("a"), MultipartThreshold)
	meta := map[string]string{"snapshot-id": "x"}

	m.On("Put", mock.Anything, "b", "k", body, "application/gzip", meta).Return(nil).Once()

	res, err := c.Upload(context.Background(), "b", "k", body, "application/gzip", meta)
	require.NoError(t, err)
	assert.False(t, res.Multipart)
	assert.Equal(t, 1, res.Parts)
	assert.Equal(t, int64(MultipartThreshold), res.Size)
	m.AssertExpectations(t)
	m.AssertNotCalled(t, "MultipartInit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	assert.Equal(t, int64(MultipartThreshold), registry.Get(MetricUploadBytes).(metrics.Counter).Count())
}

func TestUpload_OneByteAboveThresholdUsesMultipart(t *testing.T) {
	m := new(MockStore)
	c, _ := newTestCoordinator(m)
	body := bytes.Repeat([]byte("a"), MultipartThreshold+1)

	m.On("MultipartInit", mock.Anything, "b", "k", "application/gzip").Return("up-1", nil).Once()
	m.On("MultipartPutPart", mock.Anything, "b", "k", "up-1", 1, body[:ChunkSize]).Return(partOK(1), nil).Once()
	m.On("MultipartPutPart", mock.Anything, "b", "k", "up-1", 2, body[ChunkSize:]).Return(partOK(2), nil).Once()
	m.On("MultipartComplete", mock.Anything, "b", "k", "up-1", []store.Part{partOK(1), partOK(2)}).Return(nil).Once()

	res, err := c.Upload(context.Background(), "b", "k", body, "application/gzip", nil)
	require.NoError(t, err)
	assert.True(t, res.Multipart)
	assert.Equal(t, 2, res.Parts)
	m.AssertExpectations(t)
	m.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	m.AssertNotCalled(t, "MultipartAbort", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUpload_PartFailureAbortsExactlyOnce(t *testing.T) {
	m := new(MockStore)
	c, registry := newTestCoordinator(m)
	body := bytes.Repeat([]byte("z"), 3*ChunkSize)
	partErr := errors.New("connection reset")

	m.On("MultipartInit", mock.Anything, "b", "k", "application/gzip").Return("up-2", nil).Once()
	m.On("MultipartPutPart", mock.Anything, "b", "k", "up-2", 1, mock.Anything).Return(partOK(1), nil).Once()
	m.On("MultipartPutPart", mock.Anything, "b", "k", "up-2", 2, mock.Anything).Return(store.Part{}, partErr).Once()
	m.On("MultipartAbort", mock.Anything, "b", "k", "up-2").Return(nil).Once()

	_, err := c.Upload(context.Background(), "b", "k", body, "application/gzip", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, snapshot.ErrTransfer)
	assert.ErrorIs(t, err, partErr)

	var terr *snapshot.TransferError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "k", terr.Key)

	m.AssertExpectations(t)
	m.AssertNumberOfCalls(t, "MultipartAbort", 1)
	m.AssertNumberOfCalls(t, "MultipartPutPart", 2)
	m.AssertNotCalled(t, "MultipartComplete", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, int64(1), registry.Get(MetricMultipartAborts).(metrics.Counter).Count())
}

func TestUpload_CompleteFailureAborts(t *testing.T) {
	m := new(MockStore)
	c, _ := newTestCoordinator(m)
	body := bytes.Repeat([]byte("z"), ChunkSize+10)

	m.On("MultipartInit", mock.Anything, "b", "k", "").Return("up-3", nil).Once()
	m.On("MultipartPutPart", mock.Anything, "b", "k", "up-3", mock.Anything, mock.Anything).Return(partOK(1), nil).Twice()
	m.On("MultipartComplete", mock.Anything, "b", "k", "up-3", mock.Anything).Return(errors.New("invalid part order")).Once()
	m.On("MultipartAbort", mock.Anything, "b", "k", "up-3").Return(nil).Once()

	_, err := c.Upload(context.Background(), "b", "k", body, "", nil)
	assert.ErrorIs(t, err, snapshot.ErrTransfer)
	m.AssertExpectations(t)
}

func TestUpload_AbortRunsAfterCancellation(t *testing.T) {
	m := new(MockStore)
	c, _ := newTestCoordinator(m)
	body := bytes.Repeat([]byte("z"), ChunkSize+1)
	ctx, cancel := context.WithCancel(context.Background())

	m.On("MultipartInit", mock.Anything, "b", "k", "").Return("up-4", nil).Once()
	m.On("MultipartPutPart", mock.Anything, "b", "k", "up-4", 1, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(store.Part{}, context.Canceled).Once()
	m.On("MultipartAbort", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }), "b", "k", "up-4").Return(nil).Once()

	_, err := c.Upload(ctx, "b", "k", body, "", nil)
	assert.ErrorIs(t, err, context.Canceled)
	m.AssertExpectations(t)
}

func TestUpload_InitFailureDoesNotAbort(t *testing.T) {
	m := new(MockStore)
	c, _ := newTestCoordinator(m)

	m.On("MultipartInit", mock.Anything, "b", "k", "").Return("", errors.New("denied")).Once()

	_, err := c.Upload(context.Background(), "b", "k", make([]byte, ChunkSize+1), "", nil)
	assert.ErrorIs(t, err, snapshot.ErrTransfer)
	m.AssertNotCalled(t, "MultipartAbort", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUpload_PutFailure(t *testing.T) {
	m := new(MockStore)
	c, _ := newTestCoordinator(m)
	m.On("Put", mock.Anything, "b", "k", mock.Anything, "", mock.Anything).Return(errors.New("503")).Once()

	_, err := c.Upload(context.Background(), "b", "k", []byte("small"), "", nil)
	assert.ErrorIs(t, err, snapshot.ErrTransfer)
}

func TestUpload_MemoryStoreRoundTrip(t *testing.T) {
	s := store.NewMemoryStore()
	c, _ := newTestCoordinator(s)
	body := bytes.Repeat([]byte("0123456789"), (2*ChunkSize)/10+7)

	res, err := c.Upload(context.Background(), "b", "snapshots/x/id.tar.gz", body, "application/gzip", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Parts)

	got, err := c.Download(context.Background(), "b", "snapshots/x/id.tar.gz", EncodingRaw)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	pending, err := s.PendingUploads()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDownload(t *testing.T) {
	m := new(MockStore)
	c, registry := newTestCoordinator(m)

	m.On("Get", mock.Anything, "b", "raw").Return([]byte("hello"), nil).Once()
	m.On("Get", mock.Anything, "b", "b64").Return([]byte(base64.StdEncoding.EncodeToString([]byte("hello"))), nil).Once()
	m.On("Get", mock.Anything, "b", "bad").Return([]byte("!!!"), nil).Once()
	m.On("Get", mock.Anything, "b", "missing").Return(nil, store.ErrObjectNotFound).Once()

	data, err := c.Download(context.Background(), "b", "raw", EncodingRaw)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	data, err = c.Download(context.Background(), "b", "b64", EncodingBase64)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = c.Download(context.Background(), "b", "bad", EncodingBase64)
	assert.ErrorIs(t, err, snapshot.ErrTransfer)

	_, err = c.Download(context.Background(), "b", "missing", EncodingRaw)
	assert.ErrorIs(t, err, store.ErrObjectNotFound)
	assert.ErrorIs(t, err, snapshot.ErrTransfer)

	m.AssertNumberOfCalls(t, "Get", 4)
	assert.Equal(t, int64(10), registry.Get(MetricDownloadBytes).(metrics.Counter).Count())
}
