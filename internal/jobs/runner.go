package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/voice-render/internal/audio"
	"github.com/book-expert/voice-render/internal/core"
	"github.com/book-expert/voice-render/internal/policy"
	"github.com/cenkalti/backoff/v4"
)

type conversionResult struct {
	output audio.Asset
	err    error
}

// dispatch runs the job on the worker pool. The WaitGroup slot was taken by
// reserve.
func (m *Manager) dispatch(id string, input audio.Asset) {
	done := make(chan struct{})

	m.mu.Lock()
	m.done[id] = done
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.done, id)
			m.mu.Unlock()
			close(done)
		}()

		m.slots <- struct{}{}

		defer func() { <-m.slots }()

		m.process(id, input)
	}()
}

// process moves one job through processing to its terminal state. Store
// failures are retried until they succeed, so a job that started always
// ends in a terminal record.
func (m *Manager) process(id string, input audio.Asset) {
	processing, revision, err := m.start(id)
	if err != nil {
		m.log.Warn("Job %s not started: %v", id, err)

		return
	}

	m.log.Info("Job %s processing", id)

	output, renderErr := m.render(processing, input)

	var final core.RenderJob

	if renderErr != nil {
		final, err = processing.Fail(renderErr.Error(), m.now().UTC())
	} else {
		final, err = processing.Complete(output, m.now().UTC())
	}

	if err != nil {
		m.log.Error("Job %s has no valid terminal state: %v", id, err)

		return
	}

	commitErr := m.commit(final, revision)
	if commitErr != nil {
		m.log.Error("Job %s terminal state was not recorded: %v", id, commitErr)

		return
	}

	if final.Status == core.StatusFailed {
		m.log.Warn("Job %s failed: %s", id, final.ErrorReason)

		return
	}

	m.log.Info("Job %s completed: output=%s watermarked=%t", id, output.Key, output.Watermarked)
}

// start loads the queued job and marks it processing. It stops retrying
// when the job is gone or has already left the queued state.
func (m *Manager) start(id string) (core.RenderJob, uint64, error) {
	var (
		processing core.RenderJob
		revision   uint64
	)

	err := m.withStoreRetry(id, "start", func(ctx context.Context) error {
		queued, current, getErr := m.store.Get(ctx, id)
		if getErr != nil {
			if errors.Is(getErr, core.ErrNotFound) {
				return backoff.Permanent(getErr)
			}

			return getErr
		}

		started, startErr := queued.Start(m.now().UTC())
		if startErr != nil {
			return backoff.Permanent(startErr)
		}

		next, casErr := m.store.CompareAndSet(ctx, started, current)
		if casErr != nil {
			return casErr
		}

		processing, revision = started, next

		return nil
	})

	return processing, revision, err
}

// render converts, watermarks and stores the output. Every error it
// returns becomes the job's failure reason.
func (m *Manager) render(job core.RenderJob, input audio.Asset) (core.AssetRef, error) {
	converted, err := m.convert(job, input)
	if err != nil {
		return core.AssetRef{}, err
	}

	marked, err := m.watermark.Apply(converted, job.Tier)
	if err != nil {
		return core.AssetRef{}, fmt.Errorf("%w: watermark: %w", core.ErrConversionFailed, err)
	}

	key := OutputKey(job.ID)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	uploadErr := m.assets.Upload(ctx, key, marked.Bytes())
	if uploadErr != nil {
		return core.AssetRef{}, fmt.Errorf("failed to store output audio: %w", uploadErr)
	}

	return assetRef(key, marked, policy.Required(job.Tier)), nil
}

// convert calls the engine under the conversion timeout. An engine that
// ignores its context is abandoned at the deadline and its late result is
// dropped.
func (m *Manager) convert(job core.RenderJob, input audio.Asset) (audio.Asset, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	results := make(chan conversionResult, 1)

	go func() {
		output, err := m.engine.Convert(ctx, input, job.Parameters)
		results <- conversionResult{output: output, err: err}
	}()

	var result conversionResult

	select {
	case result = <-results:
	case <-ctx.Done():
		return audio.Asset{}, m.timeoutError()
	}

	if result.err != nil {
		if errors.Is(result.err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return audio.Asset{}, m.timeoutError()
		}

		if errors.Is(result.err, core.ErrConversionFailed) {
			return audio.Asset{}, result.err
		}

		return audio.Asset{}, fmt.Errorf("%w: %w", core.ErrConversionFailed, result.err)
	}

	if result.output.IsZero() {
		return audio.Asset{}, fmt.Errorf("%w: engine returned no audio", core.ErrConversionFailed)
	}

	return result.output, nil
}

func (m *Manager) timeoutError() error {
	return fmt.Errorf("%w: conversion timed out after %s", core.ErrConversionFailed, m.timeout)
}

// commit writes a terminal record with compare-and-set. It gives up only
// if another writer already finished the job.
func (m *Manager) commit(final core.RenderJob, revision uint64) error {
	return m.withStoreRetry(final.ID, "terminal write", func(ctx context.Context) error {
		_, err := m.store.CompareAndSet(ctx, final, revision)
		if err == nil || !errors.Is(err, core.ErrRevisionConflict) {
			return err
		}

		current, currentRevision, getErr := m.store.Get(ctx, final.ID)
		if getErr != nil {
			return getErr
		}

		if current.Status != core.StatusProcessing {
			return backoff.Permanent(fmt.Errorf("job was moved to %s by another writer: %w", current.Status, err))
		}

		revision = currentRevision

		return err
	})
}

// withStoreRetry runs op with exponential backoff and no attempt limit
// until it succeeds or returns a backoff.Permanent error.
func (m *Manager) withStoreRetry(id, step string, op func(ctx context.Context) error) error {
	schedule := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(m.retry),
		backoff.WithMaxInterval(max(m.retry, maxStoreRetry)),
		backoff.WithMaxElapsedTime(0),
	)

	attempt := 0

	return backoff.RetryNotify(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()

		return op(ctx)
	}, schedule, func(err error, wait time.Duration) {
		attempt++
		m.log.Warn("Job %s %s attempt %d failed, retrying in %s: %v", id, step, attempt, wait, err)
	})
}
