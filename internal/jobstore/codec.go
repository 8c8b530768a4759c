// Package jobstore provides core.JobStore backends: in-memory, NATS
// JetStream key-value and BadgerDB. Every backend stores whole records and
// supports compare-and-set on a per-record revision.
package jobstore

import (
	"fmt"

	"github.com/book-expert/voice-render/internal/core"
	"github.com/vmihailenco/msgpack/v5"
)

// record is the stored envelope: the job snapshot and the revision it was
// written at.
type record struct {
	Revision uint64         `msgpack:"revision"`
	Job      core.RenderJob `msgpack:"job"`
}

func encodeRecord(job core.RenderJob, revision uint64) ([]byte, error) {
	validationErr := job.Validate()
	if validationErr != nil {
		return nil, fmt.Errorf("refusing to store job %s: %w", job.ID, validationErr)
	}

	data, err := msgpack.Marshal(record{Revision: revision, Job: job})
	if err != nil {
		return nil, fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}

	return data, nil
}

func decodeRecord(data []byte) (record, error) {
	var stored record

	err := msgpack.Unmarshal(data, &stored)
	if err != nil {
		return record{}, fmt.Errorf("failed to decode job record: %w", err)
	}

	stored.Job = normalizeTimes(stored.Job)

	return stored, nil
}

// normalizeTimes pins decoded timestamps to UTC so snapshots compare the
// same regardless of backend.
func normalizeTimes(job core.RenderJob) core.RenderJob {
	job.CreatedAt = job.CreatedAt.UTC()
	job.StartedAt = job.StartedAt.UTC()
	job.CompletedAt = job.CompletedAt.UTC()

	return job
}
