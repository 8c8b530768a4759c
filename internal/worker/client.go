package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/voice-render/internal/core"
	"github.com/book-expert/voice-render/internal/jobs"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// ErrRemote wraps error replies whose kind has no local sentinel.
var ErrRemote = errors.New("render service error")

// Client sends requests to a NatsGateway.
type Client struct {
	natsConnection *nats.Conn
	subjects       Subjects
	userID         string
	assets         core.ObjectStore
}

// NewClient creates a client. userID is sent in every event header and
// becomes the owner of submitted jobs. With assets set, Submit stages the
// audio in the object store the service reads from; with nil assets the
// audio is sent inline and must fit in one NATS message.
func NewClient(natsConnection *nats.Conn, subjects Subjects, userID string, assets core.ObjectStore) *Client {
	return &Client{natsConnection: natsConnection, subjects: subjects, userID: userID, assets: assets}
}

// Submit sends a render submission and returns the new job id. A staged
// upload is deleted again when the service rejects the submission.
func (c *Client) Submit(ctx context.Context, request SubmitRequest) (string, error) {
	request.Header = c.header(request.Header.WorkflowID)

	staged := c.assets != nil && len(request.Audio) > 0 && request.InputKey == ""
	if staged {
		request.InputKey = jobs.UploadKey(uuid.NewString())

		err := c.assets.Upload(ctx, request.InputKey, request.Audio)
		if err != nil {
			return "", fmt.Errorf("failed to stage input audio: %w", err)
		}

		request.Audio = nil
	}

	var reply SubmitReply

	err := c.request(ctx, c.subjects.Submit, request, &reply)
	if err != nil {
		return "", err
	}

	if reply.Error != nil {
		if staged {
			_ = c.assets.Delete(context.WithoutCancel(ctx), request.InputKey)
		}

		return "", reply.Error.asError()
	}

	return reply.JobID, nil
}

// Status fetches the latest snapshot of a job.
func (c *Client) Status(ctx context.Context, jobID string) (core.RenderJob, error) {
	var reply StatusReply

	err := c.request(ctx, c.subjects.Status, StatusRequest{Header: c.header(jobID), JobID: jobID}, &reply)
	if err != nil {
		return core.RenderJob{}, err
	}

	if reply.Error != nil {
		return core.RenderJob{}, reply.Error.asError()
	}

	if reply.Job == nil {
		return core.RenderJob{}, fmt.Errorf("%w: status reply carries no job", ErrRemote)
	}

	return *reply.Job, nil
}

// Health asks the service whether it can render.
func (c *Client) Health(ctx context.Context) (HealthReply, error) {
	var reply HealthReply

	err := c.request(ctx, c.subjects.Health, HealthRequest{Header: c.header("")}, &reply)
	if err != nil {
		return HealthReply{}, err
	}

	return reply, nil
}

func (c *Client) header(workflowID string) events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		EventID:    uuid.NewString(),
		UserID:     c.userID,
		TenantID:   "",
	}
}

func (c *Client) request(ctx context.Context, subject string, payload, reply any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request for %s: %w", subject, err)
	}

	msg, err := c.natsConnection.RequestWithContext(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("request on %s failed: %w", subject, err)
	}

	err = json.Unmarshal(msg.Data, reply)
	if err != nil {
		return fmt.Errorf("failed to decode reply from %s: %w", subject, err)
	}

	return nil
}

// asError maps the reply back onto the matching core sentinel so callers
// can use errors.Is across the wire.
func (e *ErrorReply) asError() error {
	sentinel := core.KindError(e.Kind)
	if sentinel == nil {
		return fmt.Errorf("%w: %s", ErrRemote, e.Message)
	}

	return fmt.Errorf("%w: %s", sentinel, e.Message)
}
