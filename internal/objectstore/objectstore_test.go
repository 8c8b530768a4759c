// Package objectstore_test tests the object store backends.
package objectstore_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/book-expert/voice-render/internal/core"
	"github.com/book-expert/voice-render/internal/objectstore"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ core.ObjectStore = (*objectstore.NatsObjectStore)(nil)
	_ core.ObjectStore = (*objectstore.S3Store)(nil)
	_ core.ObjectStore = (*objectstore.MemoryStore)(nil)
	_ objectstore.S3Client = (*s3.Client)(nil)
)

// StartTestServer starts an in-memory NATS server for testing purposes.
func StartTestServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	return natsServer, natsConnection
}

func exerciseStore(t *testing.T, store core.ObjectStore) {
	t.Helper()

	ctx := context.Background()
	key := "jobs/abc/input"
	first := []byte("RIFF first take")
	second := []byte("RIFF second take, longer")

	_, err := store.Download(ctx, key)
	require.ErrorIs(t, err, objectstore.ErrObjectNotFound)

	require.NoError(t, store.Upload(ctx, key, first))

	downloaded, err := store.Download(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, first, downloaded)

	require.NoError(t, store.Upload(ctx, key, second))

	downloaded, err = store.Download(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, second, downloaded)

	other := "jobs/abc/scratch"
	require.NoError(t, store.Upload(ctx, other, first))
	require.NoError(t, store.Delete(ctx, other))

	_, err = store.Download(ctx, other)
	require.ErrorIs(t, err, objectstore.ErrObjectNotFound)

	require.NoError(t, store.Delete(ctx, other), "deleting a missing object succeeds")
}

func TestNatsObjectStore_UploadDownload(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.New(jetstreamContext, "audio-test")
	require.NoError(t, err)

	exerciseStore(t, store)

	// Binding to an existing bucket sees the same objects.
	rebound, err := objectstore.New(jetstreamContext, "audio-test")
	require.NoError(t, err)

	data, err := rebound.Download(context.Background(), "jobs/abc/input")
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF second take, longer"), data)
}

func TestMemoryStore_UploadDownload(t *testing.T) {
	t.Parallel()

	store := objectstore.NewMemoryStore()
	exerciseStore(t, store)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_CopiesData(t *testing.T) {
	t.Parallel()

	store := objectstore.NewMemoryStore()
	data := []byte("abc")
	require.NoError(t, store.Upload(context.Background(), "k", data))

	data[0] = 'x'

	got, err := store.Download(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

// apiError implements smithy.APIError for the mock client.
type apiError struct {
	code string
}

func (e *apiError) Error() string                 { return e.code }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.code }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

type mockS3Client struct {
	mu         sync.Mutex
	objects    map[string][]byte
	shouldFail bool
}

func newMockS3Client() *mockS3Client {
	return &mockS3Client{mu: sync.Mutex{}, objects: make(map[string][]byte), shouldFail: false}
}

func (m *mockS3Client) GetObject(
	_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options),
) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shouldFail {
		return nil, &apiError{code: "AccessDenied"}
	}

	data, found := m.objects[*params.Bucket+"/"+*params.Key]
	if !found {
		return nil, &apiError{code: "NoSuchKey"}
	}

	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3Client) PutObject(
	_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options),
) (*s3.PutObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shouldFail {
		return nil, errors.New("mock s3 put failure")
	}

	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	m.objects[*params.Bucket+"/"+*params.Key] = data

	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) DeleteObject(
	_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options),
) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shouldFail {
		return nil, &apiError{code: "AccessDenied"}
	}

	delete(m.objects, *params.Bucket+"/"+*params.Key)

	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store_UploadDownload(t *testing.T) {
	t.Parallel()

	client := newMockS3Client()
	exerciseStore(t, objectstore.NewS3(client, "renders", "voice"))

	_, found := client.objects["renders/voice/jobs/abc/input"]
	assert.True(t, found, "key should be placed under the prefix")
}

func TestS3Store_Failures(t *testing.T) {
	t.Parallel()

	client := newMockS3Client()
	client.shouldFail = true
	store := objectstore.NewS3(client, "renders", "")

	_, err := store.Download(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, objectstore.ErrObjectNotFound)

	require.Error(t, store.Upload(context.Background(), "k", []byte("x")))
	require.Error(t, store.Delete(context.Background(), "k"))
}

func TestNewS3Client(t *testing.T) {
	t.Parallel()

	client := objectstore.NewS3Client(objectstore.S3Options{
		Region:          "us-east-1",
		Endpoint:        "http://127.0.0.1:9000",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		UsePathStyle:    true,
	})
	require.NotNil(t, client)

	options := client.Options()
	assert.Equal(t, "us-east-1", options.Region)
	assert.True(t, options.UsePathStyle)
	require.NotNil(t, options.BaseEndpoint)
	assert.Equal(t, "http://127.0.0.1:9000", *options.BaseEndpoint)
}
