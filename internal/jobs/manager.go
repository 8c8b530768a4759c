// Package jobs implements the render job manager: it gates submissions,
// persists job records through a core.JobStore and drives each job from
// queued to a terminal state on a bounded pool of workers.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-render/internal/audio"
	"github.com/book-expert/voice-render/internal/core"
	"github.com/book-expert/voice-render/internal/params"
	"github.com/book-expert/voice-render/internal/policy"
	"github.com/google/uuid"
)

const (
	// DefaultWorkers bounds concurrent conversions when Options.Workers is zero.
	DefaultWorkers = 4
	// DefaultConversionTimeout bounds one engine call when Options.ConversionTimeout is zero.
	DefaultConversionTimeout = 5 * time.Minute
	// DefaultStoreRetry is the first backoff after a failed job store write
	// when Options.StoreRetry is zero.
	DefaultStoreRetry = 50 * time.Millisecond
	// DefaultInstanceID names the manager when Options.InstanceID is empty
	// and the host name is unavailable.
	DefaultInstanceID = "voice-render"
	// RecoveryReason is recorded on jobs found unfinished at startup.
	RecoveryReason = "interrupted by service restart"
	// UploadPrefix is the key prefix under which clients stage input audio.
	UploadPrefix = "uploads/"

	maxStoreRetry = 2 * time.Second
	storeTimeout  = 30 * time.Second
	waitPoll      = 100 * time.Millisecond
)

var (
	// ErrMissingDependency indicates that a required collaborator was not supplied.
	ErrMissingDependency = errors.New("missing manager dependency")
	// ErrManagerClosed indicates a submission after Shutdown.
	ErrManagerClosed = errors.New("render job manager is shut down")
)

// Options wires the manager to its collaborators.
type Options struct {
	Store             core.JobStore
	Assets            core.ObjectStore
	Engine            core.ConversionEngine
	Watermark         core.Watermarker
	Screen            core.ContentScreen
	Workers           int
	ConversionTimeout time.Duration
	// StoreRetry is the first backoff of the unbounded retry applied to job
	// store operations of running jobs.
	StoreRetry time.Duration
	// InstanceID identifies this manager on a shared job store. Recover only
	// fails jobs recorded under the same id. It defaults to the host name.
	InstanceID string
	Log        *logger.Logger
	// Now and NewID default to time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

// SubmitRequest is one inbound render submission. The input audio is
// either inline in Audio or staged in the object store under InputKey.
type SubmitRequest struct {
	Audio            []byte
	InputKey         string
	MIMEType         string
	Label            string
	OwnerID          string
	TargetIdentity   string
	Parameters       params.Raw
	ConsentConfirmed bool
	Tier             string
}

// Manager owns render jobs from submission to a terminal state.
type Manager struct {
	store     core.JobStore
	assets    core.ObjectStore
	engine    core.ConversionEngine
	watermark core.Watermarker
	screen    core.ContentScreen
	consent   policy.ConsentGate
	timeout   time.Duration
	retry     time.Duration
	instance  string
	log       *logger.Logger
	now       func() time.Time
	newID     func() string

	slots chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	done   map[string]chan struct{}
	closed bool
}

// NewManager validates opts and returns a ready manager.
func NewManager(opts Options) (*Manager, error) {
	switch {
	case opts.Store == nil:
		return nil, fmt.Errorf("%w: job store", ErrMissingDependency)
	case opts.Assets == nil:
		return nil, fmt.Errorf("%w: object store", ErrMissingDependency)
	case opts.Engine == nil:
		return nil, fmt.Errorf("%w: conversion engine", ErrMissingDependency)
	case opts.Watermark == nil:
		return nil, fmt.Errorf("%w: watermark policy", ErrMissingDependency)
	case opts.Screen == nil:
		return nil, fmt.Errorf("%w: content screen", ErrMissingDependency)
	case opts.Log == nil:
		return nil, fmt.Errorf("%w: logger", ErrMissingDependency)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	timeout := opts.ConversionTimeout
	if timeout <= 0 {
		timeout = DefaultConversionTimeout
	}

	retry := opts.StoreRetry
	if retry <= 0 {
		retry = DefaultStoreRetry
	}

	instance := opts.InstanceID
	if instance == "" {
		instance = defaultInstanceID()
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	return &Manager{
		store:     opts.Store,
		assets:    opts.Assets,
		engine:    opts.Engine,
		watermark: opts.Watermark,
		screen:    opts.Screen,
		consent:   policy.ConsentGate{},
		timeout:   timeout,
		retry:     retry,
		instance:  instance,
		log:       opts.Log,
		now:       now,
		newID:     newID,
		slots:     make(chan struct{}, workers),
		wg:        sync.WaitGroup{},
		mu:        sync.Mutex{},
		done:      make(map[string]chan struct{}),
		closed:    false,
	}, nil
}

// Submit gates the request, records a queued job and schedules it. Gate
// failures return an error and leave no job behind.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (core.RenderJob, error) {
	consentErr := m.consent.Require(req.ConsentConfirmed)
	if consentErr != nil {
		m.log.Warn("Rejected submission %q: %v", req.Label, consentErr)

		return core.RenderJob{}, consentErr
	}

	tier, tierErr := core.ParseTier(req.Tier)
	if tierErr != nil {
		return core.RenderJob{}, tierErr
	}

	screenErr := policy.Evaluate(ctx, m.screen, core.ScreenRequest{
		TargetIdentity: req.TargetIdentity,
		Label:          req.Label,
		OwnerID:        req.OwnerID,
	})
	if screenErr != nil {
		m.log.Warn("Rejected submission %q: %v", req.Label, screenErr)

		return core.RenderJob{}, screenErr
	}

	label := SanitizeLabel(req.Label)

	input, staged, inputErr := m.loadInput(ctx, req, label)
	if inputErr != nil {
		return core.RenderJob{}, inputErr
	}

	reserveErr := m.reserve()
	if reserveErr != nil {
		return core.RenderJob{}, reserveErr
	}

	job := core.RenderJob{
		ID:               m.newID(),
		Label:            label,
		OwnerID:          req.OwnerID,
		Worker:           m.instance,
		InputAsset:       core.AssetRef{},
		Parameters:       params.Normalize(req.Parameters),
		ConsentConfirmed: true,
		Tier:             tier,
		Status:           core.StatusQueued,
		OutputAsset:      nil,
		ErrorReason:      "",
		CreatedAt:        m.now().UTC(),
		StartedAt:        time.Time{},
		CompletedAt:      time.Time{},
	}

	if staged {
		job.InputAsset = assetRef(req.InputKey, input, false)
	} else {
		job.InputAsset = assetRef(InputKey(job.ID), input, false)

		uploadErr := m.assets.Upload(ctx, job.InputAsset.Key, input.Bytes())
		if uploadErr != nil {
			m.wg.Done()

			return core.RenderJob{}, fmt.Errorf("failed to store input audio: %w", uploadErr)
		}
	}

	_, putErr := m.store.Put(ctx, job)
	if putErr != nil {
		m.wg.Done()
		m.discardInput(ctx, job.InputAsset.Key)

		return core.RenderJob{}, fmt.Errorf("failed to record job: %w", putErr)
	}

	m.dispatch(job.ID, input)
	m.log.Info("Job %s queued: label=%q tier=%s", job.ID, job.Label, job.Tier)

	return job, nil
}

// loadInput decodes the submitted audio. Staged input is read back from the
// object store and must sit under UploadPrefix.
func (m *Manager) loadInput(ctx context.Context, req SubmitRequest, label string) (audio.Asset, bool, error) {
	data := req.Audio
	staged := req.InputKey != ""

	if staged {
		if len(req.Audio) > 0 {
			return audio.Asset{}, false, fmt.Errorf("%w: audio and input key are mutually exclusive", core.ErrValidation)
		}

		if !IsUploadKey(req.InputKey) {
			return audio.Asset{}, false, fmt.Errorf("%w: input key %q is not an upload", core.ErrValidation, req.InputKey)
		}

		downloaded, downloadErr := m.assets.Download(ctx, req.InputKey)
		if downloadErr != nil {
			return audio.Asset{}, false, fmt.Errorf("%w: input audio %q: %w", core.ErrValidation, req.InputKey, downloadErr)
		}

		data = downloaded
	}

	input, err := audio.NewAsset(data, req.MIMEType, label)
	if err != nil {
		return audio.Asset{}, false, fmt.Errorf("%w: input audio: %w", core.ErrValidation, err)
	}

	if input.Duration() <= 0 {
		return audio.Asset{}, false, fmt.Errorf("%w: input audio contains no samples", core.ErrValidation)
	}

	return input, staged, nil
}

// discardInput removes the input of a submission that left no job record.
func (m *Manager) discardInput(ctx context.Context, key string) {
	cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	deleteErr := m.assets.Delete(cleanup, key)
	if deleteErr != nil {
		m.log.Warn("Input %s of an unrecorded submission was not deleted: %v", key, deleteErr)
	}
}

// Status returns the latest committed snapshot of a job, or core.ErrNotFound.
// It never waits for an in-flight conversion.
func (m *Manager) Status(ctx context.Context, id string) (core.RenderJob, error) {
	job, _, err := m.store.Get(ctx, id)
	if err != nil {
		return core.RenderJob{}, err
	}

	return job, nil
}

// Wait blocks until the job reaches a terminal state or ctx ends.
func (m *Manager) Wait(ctx context.Context, id string) (core.RenderJob, error) {
	m.mu.Lock()
	done, tracked := m.done[id]
	m.mu.Unlock()

	if tracked {
		select {
		case <-done:
		case <-ctx.Done():
			return core.RenderJob{}, fmt.Errorf("waiting for job %s: %w", id, ctx.Err())
		}
	}

	ticker := time.NewTicker(waitPoll)
	defer ticker.Stop()

	for {
		job, err := m.Status(ctx, id)
		if err != nil {
			return core.RenderJob{}, err
		}

		if job.Status.IsTerminal() {
			return job, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return core.RenderJob{}, fmt.Errorf("waiting for job %s: %w", id, ctx.Err())
		}
	}
}

// Result returns the output audio of a completed job.
func (m *Manager) Result(ctx context.Context, id string) (audio.Asset, error) {
	job, err := m.Status(ctx, id)
	if err != nil {
		return audio.Asset{}, err
	}

	if job.Status != core.StatusCompleted || job.OutputAsset == nil {
		return audio.Asset{}, fmt.Errorf("%w: job %s is %s", core.ErrNotCompleted, id, job.Status)
	}

	data, downloadErr := m.assets.Download(ctx, job.OutputAsset.Key)
	if downloadErr != nil {
		return audio.Asset{}, fmt.Errorf("failed to fetch output of job %s: %w", id, downloadErr)
	}

	output, assetErr := audio.NewAsset(data, job.OutputAsset.MIMEType, job.OutputAsset.Label)
	if assetErr != nil {
		return audio.Asset{}, fmt.Errorf("stored output of job %s is unreadable: %w", id, assetErr)
	}

	return output, nil
}

// Recover fails every job this instance left queued or processing in a
// previous run. Jobs of other instances sharing the store are left alone;
// records without an instance are treated as this instance's. Jobs are
// never re-run, so each one is attempted at most once.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	stored, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list jobs for recovery: %w", err)
	}

	recovered := 0

	for _, job := range stored {
		if job.Status.IsTerminal() || !m.owns(job) {
			continue
		}

		failed, recoverErr := m.recoverJob(ctx, job.ID)
		if recoverErr != nil {
			m.log.Error("Failed to recover job %s: %v", job.ID, recoverErr)

			continue
		}

		if failed {
			recovered++
		}
	}

	if recovered > 0 {
		m.log.System("Recovered %d interrupted job(s).", recovered)
	}

	return recovered, nil
}

// Instance returns the id this manager records on its jobs.
func (m *Manager) Instance() string {
	return m.instance
}

func (m *Manager) owns(job core.RenderJob) bool {
	return job.Worker == "" || job.Worker == m.instance
}

func (m *Manager) recoverJob(ctx context.Context, id string) (bool, error) {
	job, revision, err := m.store.Get(ctx, id)
	if err != nil {
		return false, err
	}

	if job.Status.IsTerminal() || !m.owns(job) {
		return false, nil
	}

	if job.Status == core.StatusQueued {
		job, err = job.Start(m.now().UTC())
		if err != nil {
			return false, err
		}
	}

	failed, err := job.Fail(RecoveryReason, m.now().UTC())
	if err != nil {
		return false, err
	}

	_, err = m.store.CompareAndSet(ctx, failed, revision)
	if err != nil {
		return false, err
	}

	return true, nil
}

// Health reports whether the engine is ready, when it can tell.
func (m *Manager) Health(ctx context.Context) error {
	checker, ok := m.engine.(core.HealthChecker)
	if !ok {
		return nil
	}

	return checker.Health(ctx)
}

// Shutdown stops accepting submissions and waits for scheduled jobs to
// reach a terminal state, or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	finished := make(chan struct{})

	go func() {
		m.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown interrupted with jobs in flight: %w", ctx.Err())
	}
}

// reserve counts a submission as in flight so Shutdown waits for it. The
// caller must balance it with wg.Done, which dispatch does on success.
func (m *Manager) reserve() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}

	m.wg.Add(1)

	return nil
}

// InputKey is the object key of a job's input audio.
func InputKey(id string) string {
	return "jobs/" + id + "/input"
}

// UploadKey is the object key under which a client stages input audio.
func UploadKey(id string) string {
	return UploadPrefix + id
}

// IsUploadKey reports whether key names staged client input.
func IsUploadKey(key string) bool {
	name, found := strings.CutPrefix(key, UploadPrefix)

	return found && name != "" && !strings.Contains(name, "/")
}

// OutputKey is the object key of a job's rendered audio.
func OutputKey(id string) string {
	return "jobs/" + id + "/output.wav"
}

func assetRef(key string, asset audio.Asset, watermarked bool) core.AssetRef {
	return core.AssetRef{
		Key:         key,
		Label:       asset.Label(),
		MIMEType:    asset.MIMEType(),
		Size:        asset.Size(),
		Duration:    asset.Duration(),
		Watermarked: watermarked,
	}
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return DefaultInstanceID
	}

	return host
}
