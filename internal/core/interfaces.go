// Package core defines the render-job model, the error kinds and the
// interfaces between the job manager and its collaborators.
package core

import (
	"context"

	"github.com/book-expert/voice-render/internal/audio"
	"github.com/book-expert/voice-render/internal/params"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
// Deleting a missing key is not an error.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// ConversionEngine turns an input asset into converted audio. Implementations
// may be slow and may fail; failures should wrap ErrConversionFailed.
type ConversionEngine interface {
	Convert(ctx context.Context, input audio.Asset, parameters params.Set) (audio.Asset, error)
}

// JobStore persists job records keyed by id. Every write is a whole record.
// Revisions increase with each write so callers can compare-and-set.
type JobStore interface {
	// Get returns the latest committed record and its revision, or ErrNotFound.
	Get(ctx context.Context, id string) (RenderJob, uint64, error)
	// Put writes job unconditionally and returns the new revision.
	Put(ctx context.Context, job RenderJob) (uint64, error)
	// CompareAndSet writes job only if the stored revision equals expected,
	// otherwise it returns ErrRevisionConflict.
	CompareAndSet(ctx context.Context, job RenderJob, expected uint64) (uint64, error)
	// List returns every stored record.
	List(ctx context.Context) ([]RenderJob, error)
}

// ScreenRequest describes a submission to the content screen.
type ScreenRequest struct {
	TargetIdentity string
	Label          string
	OwnerID        string
}

// ContentScreen rejects requests that target disallowed identity cloning.
// A nil error allows the request.
type ContentScreen interface {
	Screen(ctx context.Context, request ScreenRequest) error
}

// Watermarker applies the tier-dependent watermark policy to engine output.
type Watermarker interface {
	Apply(asset audio.Asset, tier Tier) (audio.Asset, error)
}

// HealthChecker is implemented by collaborators that can report readiness.
type HealthChecker interface {
	Health(ctx context.Context) error
}
