package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/book-expert/voice-render/internal/core"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NatsKVStore implements core.JobStore on a JetStream key-value bucket.
// Revisions are the bucket's sequence numbers and compare-and-set uses the
// server's last-sequence check. Values are JSON so they stay readable from
// the nats CLI.
type NatsKVStore struct {
	bucket string
	kv     nats.KeyValue
}

// NewNatsKVStore creates the bucket, or binds to it if it already exists.
func NewNatsKVStore(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsKVStore, error) {
	kv, err := jetstreamContext.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:      bucketName,
		Description: "Render job records.",
		History:     1,
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create key-value bucket '%s': %w", bucketName, err)
		}

		kv, err = jetstreamContext.KeyValue(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing key-value bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsKVStore{bucket: bucketName, kv: kv}, nil
}

// Get implements core.JobStore.
func (n *NatsKVStore) Get(_ context.Context, id string) (core.RenderJob, uint64, error) {
	entry, err := n.kv.Get(id)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return core.RenderJob{}, 0, fmt.Errorf("%w: %s", core.ErrNotFound, id)
		}

		return core.RenderJob{}, 0, fmt.Errorf("failed to get job '%s' from bucket '%s': %w", id, n.bucket, err)
	}

	job, err := decodeJSON(entry.Value())
	if err != nil {
		return core.RenderJob{}, 0, err
	}

	return job, entry.Revision(), nil
}

// Put implements core.JobStore.
func (n *NatsKVStore) Put(_ context.Context, job core.RenderJob) (uint64, error) {
	data, err := encodeJSON(job)
	if err != nil {
		return 0, err
	}

	revision, err := n.kv.Put(job.ID, data)
	if err != nil {
		return 0, fmt.Errorf("failed to put job '%s' to bucket '%s': %w", job.ID, n.bucket, err)
	}

	return revision, nil
}

// CompareAndSet implements core.JobStore.
func (n *NatsKVStore) CompareAndSet(ctx context.Context, job core.RenderJob, expected uint64) (uint64, error) {
	data, err := encodeJSON(job)
	if err != nil {
		return 0, err
	}

	revision, err := n.kv.Update(job.ID, data, expected)
	if err == nil {
		return revision, nil
	}

	if !isWrongSequence(err) {
		return 0, fmt.Errorf("failed to update job '%s' in bucket '%s': %w", job.ID, n.bucket, err)
	}

	_, current, getErr := n.Get(ctx, job.ID)
	if getErr != nil {
		return 0, getErr
	}

	return 0, fmt.Errorf("%w: job %s is at revision %d, expected %d", core.ErrRevisionConflict, job.ID, current, expected)
}

// List implements core.JobStore.
func (n *NatsKVStore) List(ctx context.Context) ([]core.RenderJob, error) {
	keys, err := n.kv.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return []core.RenderJob{}, nil
		}

		return nil, fmt.Errorf("failed to list keys of bucket '%s': %w", n.bucket, err)
	}

	jobs := make([]core.RenderJob, 0, len(keys))

	for _, key := range keys {
		job, _, getErr := n.Get(ctx, key)
		if errors.Is(getErr, core.ErrNotFound) {
			continue
		}

		if getErr != nil {
			return nil, getErr
		}

		jobs = append(jobs, job)
	}

	sortJobs(jobs)

	return jobs, nil
}

func isWrongSequence(err error) bool {
	if errors.Is(err, nats.ErrKeyExists) {
		return true
	}

	var apiErr *nats.APIError

	return errors.As(err, &apiErr) && apiErr.ErrorCode == nats.JSErrCodeStreamWrongLastSequence
}

func encodeJSON(job core.RenderJob) ([]byte, error) {
	validationErr := job.Validate()
	if validationErr != nil {
		return nil, fmt.Errorf("refusing to store job %s: %w", job.ID, validationErr)
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}

	return data, nil
}

func decodeJSON(data []byte) (core.RenderJob, error) {
	var job core.RenderJob

	err := json.Unmarshal(data, &job)
	if err != nil {
		return core.RenderJob{}, fmt.Errorf("failed to decode job record: %w", err)
	}

	return normalizeTimes(job), nil
}
