package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/voice-render/internal/params"
)

// Status is the lifecycle state of a render job.
type Status string

// Job states. A job moves strictly queued -> processing -> completed|failed.
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Tier is the account plan of the submitter. It decides watermarking.
type Tier string

// Supported tiers.
const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// ParseTier accepts "free" and "pro" in any case. An empty tier is free.
func ParseTier(raw string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(TierFree):
		return TierFree, nil
	case string(TierPro):
		return TierPro, nil
	default:
		return "", fmt.Errorf("%w: unknown tier %q", ErrValidation, raw)
	}
}

// AssetRef points at an audio payload held in the object store.
type AssetRef struct {
	Key         string        `json:"key"                   msgpack:"key"`
	Label       string        `json:"label,omitempty"       msgpack:"label"`
	MIMEType    string        `json:"mimeType"              msgpack:"mime_type"`
	Size        int64         `json:"size"                  msgpack:"size"`
	Duration    time.Duration `json:"duration"              msgpack:"duration"`
	Watermarked bool          `json:"watermarked,omitempty" msgpack:"watermarked"`
}

// RenderJob is one tracked conversion from submission to a terminal state.
// Values are snapshots: transitions return a new RenderJob and never modify
// the receiver.
type RenderJob struct {
	ID               string     `json:"id"                     msgpack:"id"`
	Label            string     `json:"label"                  msgpack:"label"`
	OwnerID          string     `json:"ownerId,omitempty"      msgpack:"owner_id"`
	Worker           string     `json:"worker,omitempty"       msgpack:"worker"`
	InputAsset       AssetRef   `json:"inputAsset"             msgpack:"input_asset"`
	Parameters       params.Set `json:"parameters"             msgpack:"parameters"`
	ConsentConfirmed bool       `json:"consentConfirmed"       msgpack:"consent_confirmed"`
	Tier             Tier       `json:"tier"                   msgpack:"tier"`
	Status           Status     `json:"status"                 msgpack:"status"`
	OutputAsset      *AssetRef  `json:"outputAsset,omitempty"  msgpack:"output_asset"`
	ErrorReason      string     `json:"errorReason,omitempty"  msgpack:"error_reason"`
	CreatedAt        time.Time  `json:"createdAt"              msgpack:"created_at"`
	StartedAt        time.Time  `json:"startedAt,omitzero"     msgpack:"started_at"`
	CompletedAt      time.Time  `json:"completedAt,omitzero"   msgpack:"completed_at"`
}

// Clone returns a deep copy.
func (j RenderJob) Clone() RenderJob {
	if j.OutputAsset != nil {
		output := *j.OutputAsset
		j.OutputAsset = &output
	}

	return j
}

// Start moves a queued job to processing.
func (j RenderJob) Start(now time.Time) (RenderJob, error) {
	if j.Status != StatusQueued {
		return RenderJob{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, j.Status, StatusProcessing)
	}

	next := j.Clone()
	next.Status = StatusProcessing
	next.StartedAt = now

	return next, nil
}

// Complete moves a processing job to completed with its output.
func (j RenderJob) Complete(output AssetRef, now time.Time) (RenderJob, error) {
	if j.Status != StatusProcessing {
		return RenderJob{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, j.Status, StatusCompleted)
	}

	if output.Key == "" {
		return RenderJob{}, fmt.Errorf("%w: completed job needs an output key", ErrIllegalTransition)
	}

	next := j.Clone()
	next.Status = StatusCompleted
	next.OutputAsset = &output
	next.ErrorReason = ""
	next.CompletedAt = now

	return next, nil
}

// Fail moves a processing job to failed with a reason.
func (j RenderJob) Fail(reason string, now time.Time) (RenderJob, error) {
	if j.Status != StatusProcessing {
		return RenderJob{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, j.Status, StatusFailed)
	}

	if strings.TrimSpace(reason) == "" {
		reason = "unknown failure"
	}

	next := j.Clone()
	next.Status = StatusFailed
	next.OutputAsset = nil
	next.ErrorReason = reason
	next.CompletedAt = now

	return next, nil
}

// Validate checks that the fields agree with the status: output only when
// completed, a reason only when failed, a completion time only when terminal.
func (j RenderJob) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("%w: job id is empty", ErrValidation)
	}

	switch j.Status {
	case StatusQueued, StatusProcessing:
		if j.OutputAsset != nil || j.ErrorReason != "" || !j.CompletedAt.IsZero() {
			return fmt.Errorf("%w: %s job carries terminal fields", ErrValidation, j.Status)
		}
	case StatusCompleted:
		if j.OutputAsset == nil || j.ErrorReason != "" || j.CompletedAt.IsZero() {
			return fmt.Errorf("%w: completed job must have output and no error", ErrValidation)
		}
	case StatusFailed:
		if j.OutputAsset != nil || j.ErrorReason == "" || j.CompletedAt.IsZero() {
			return fmt.Errorf("%w: failed job must have a reason and no output", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrValidation, j.Status)
	}

	return nil
}
