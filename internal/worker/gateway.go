// Package worker exposes the render job manager over NATS request/reply:
// submit, status and health subjects, each answered with a JSON reply that
// carries a book-expert/events header.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/voice-render/internal/core"
	"github.com/book-expert/voice-render/internal/jobs"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	handleMessageTimeout = 30 * time.Second
	// QueueGroup lets several service instances share the subjects.
	QueueGroup = "voice-render"
)

// ErrJobIDEmpty indicates a status request without a job id.
var ErrJobIDEmpty = errors.New("job id cannot be empty")

// JobService is the part of jobs.Manager the gateway serves.
type JobService interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (core.RenderJob, error)
	Status(ctx context.Context, id string) (core.RenderJob, error)
	Health(ctx context.Context) error
}

// Subjects names the NATS subjects the gateway listens on.
type Subjects struct {
	Submit string
	Status string
	Health string
}

// NatsGateway answers render requests arriving on NATS.
type NatsGateway struct {
	natsConnection *nats.Conn
	subjects       Subjects
	service        JobService
	log            *logger.Logger
	now            func() time.Time
}

// NewNatsGateway creates a gateway over an open connection.
func NewNatsGateway(
	natsConnection *nats.Conn,
	subjects Subjects,
	service JobService,
	log *logger.Logger,
) *NatsGateway {
	return &NatsGateway{
		natsConnection: natsConnection,
		subjects:       subjects,
		service:        service,
		log:            log,
		now:            time.Now,
	}
}

// Run subscribes to every subject and serves until ctx is cancelled, then
// drains the subscriptions.
func (g *NatsGateway) Run(ctx context.Context) error {
	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{g.subjects.Submit, g.handleSubmit},
		{g.subjects.Status, g.handleStatus},
		{g.subjects.Health, g.handleHealth},
	}

	subscriptions := make([]*nats.Subscription, 0, len(handlers))

	for _, entry := range handlers {
		sub, err := g.natsConnection.QueueSubscribe(entry.subject, QueueGroup, entry.handler)
		if err != nil {
			_ = drainAll(subscriptions)

			return fmt.Errorf("failed to subscribe to subject %s: %w", entry.subject, err)
		}

		subscriptions = append(subscriptions, sub)
	}

	g.log.System("Gateway listening on %s, %s and %s", g.subjects.Submit, g.subjects.Status, g.subjects.Health)

	<-ctx.Done()

	drainErr := drainAll(subscriptions)
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscriptions: %w", drainErr)
	}

	return nil
}

func drainAll(subscriptions []*nats.Subscription) error {
	var drainErr error

	for _, sub := range subscriptions {
		drainErr = errors.Join(drainErr, sub.Drain())
	}

	return drainErr
}

func (g *NatsGateway) handleSubmit(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var request SubmitRequest

	reply := SubmitReply{Header: events.EventHeader{}, JobID: "", Status: "", Error: nil}

	err := json.Unmarshal(msg.Data, &request)
	if err != nil {
		reply.Header = g.replyHeader(events.EventHeader{}, "")
		reply.Error = errorReply(fmt.Errorf("%w: malformed submit request: %w", core.ErrValidation, err))
		g.respond(msg, reply)

		return
	}

	job, submitErr := g.service.Submit(ctx, jobs.SubmitRequest{
		Audio:            request.Audio,
		InputKey:         request.InputKey,
		MIMEType:         request.MIMEType,
		Label:            request.Filename,
		OwnerID:          request.Header.UserID,
		TargetIdentity:   request.TargetIdentity,
		Parameters:       request.Parameters,
		ConsentConfirmed: request.ConsentConfirmed,
		Tier:             request.Tier,
	})
	if submitErr != nil {
		g.log.Warn("Submit for workflow %s rejected: %v", request.Header.WorkflowID, submitErr)

		reply.Error = errorReply(submitErr)
	} else {
		reply.JobID = job.ID
		reply.Status = job.Status
	}

	reply.Header = g.replyHeader(request.Header, job.ID)
	g.respond(msg, reply)
}

func (g *NatsGateway) handleStatus(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var request StatusRequest

	reply := StatusReply{Header: events.EventHeader{}, Job: nil, Error: nil}

	err := json.Unmarshal(msg.Data, &request)
	if err != nil {
		reply.Error = errorReply(fmt.Errorf("%w: malformed status request: %w", core.ErrValidation, err))
	} else if request.JobID == "" {
		reply.Error = errorReply(fmt.Errorf("%w: %w", core.ErrValidation, ErrJobIDEmpty))
	} else {
		job, statusErr := g.service.Status(ctx, request.JobID)
		if statusErr != nil {
			reply.Error = errorReply(statusErr)
		} else {
			reply.Job = &job
		}
	}

	reply.Header = g.replyHeader(request.Header, request.JobID)
	g.respond(msg, reply)
}

func (g *NatsGateway) handleHealth(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var request HealthRequest

	// A health request with an empty or odd body still gets an answer.
	_ = json.Unmarshal(msg.Data, &request)

	reply := HealthReply{Header: g.replyHeader(request.Header, ""), Status: HealthOK, Detail: ""}

	healthErr := g.service.Health(ctx)
	if healthErr != nil {
		reply.Status = HealthUnavailable
		reply.Detail = healthErr.Error()
	}

	g.respond(msg, reply)
}

// replyHeader keeps the caller's workflow and user, and stamps a fresh
// event id and time.
func (g *NatsGateway) replyHeader(request events.EventHeader, jobID string) events.EventHeader {
	header := request
	header.EventID = uuid.NewString()
	header.Timestamp = g.now().UTC()

	if header.WorkflowID == "" {
		header.WorkflowID = jobID
	}

	return header
}

func (g *NatsGateway) respond(msg *nats.Msg, reply any) {
	replyData, err := json.Marshal(reply)
	if err != nil {
		g.log.Error("Failed to marshal reply on %s: %v", msg.Subject, err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		g.log.Error("Failed to publish reply on %s: %v", msg.Subject, err)
	}
}
