package worker

import (
	"github.com/book-expert/events"
	"github.com/book-expert/voice-render/internal/core"
	"github.com/book-expert/voice-render/internal/params"
)

// Health states reported on the health subject.
const (
	HealthOK          = "ok"
	HealthUnavailable = "unavailable"
)

// ErrorReply carries a failed operation: a stable kind and a readable reason.
type ErrorReply struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// SubmitRequest asks for a new render job. Small inputs may travel inline
// in Audio, base64-encoded. Anything near the NATS payload limit is staged
// in the object store and named by InputKey instead.
type SubmitRequest struct {
	Header           events.EventHeader `json:"header"`
	Audio            []byte             `json:"audio,omitempty"`
	InputKey         string             `json:"inputKey,omitempty"`
	MIMEType         string             `json:"mimeType"`
	Filename         string             `json:"filename"`
	TargetIdentity   string             `json:"targetIdentity,omitempty"`
	Parameters       params.Raw         `json:"parameters"`
	ConsentConfirmed bool               `json:"consentConfirmed"`
	Tier             string             `json:"tier,omitempty"`
}

// SubmitReply answers a SubmitRequest with the new job id or an error.
type SubmitReply struct {
	Header events.EventHeader `json:"header"`
	JobID  string             `json:"jobId,omitempty"`
	Status core.Status        `json:"status,omitempty"`
	Error  *ErrorReply        `json:"error,omitempty"`
}

// StatusRequest asks for the latest snapshot of a job.
type StatusRequest struct {
	Header events.EventHeader `json:"header"`
	JobID  string             `json:"jobId"`
}

// StatusReply carries the job snapshot. On completion Job.OutputAsset.Key
// names the output object; on failure Job.ErrorReason holds the reason.
type StatusReply struct {
	Header events.EventHeader `json:"header"`
	Job    *core.RenderJob    `json:"job,omitempty"`
	Error  *ErrorReply        `json:"error,omitempty"`
}

// HealthRequest asks whether the service can render.
type HealthRequest struct {
	Header events.EventHeader `json:"header"`
}

// HealthReply reports service readiness.
type HealthReply struct {
	Header events.EventHeader `json:"header"`
	Status string             `json:"status"`
	Detail string             `json:"detail,omitempty"`
}

func errorReply(err error) *ErrorReply {
	if err == nil {
		return nil
	}

	return &ErrorReply{Kind: core.ErrorKind(err), Message: err.Error()}
}
