package main

import (
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-render/internal/config"
	"github.com/book-expert/voice-render/internal/conversion"
	"github.com/book-expert/voice-render/internal/core"
	"github.com/book-expert/voice-render/internal/jobstore"
	"github.com/book-expert/voice-render/internal/objectstore"
	"github.com/book-expert/voice-render/internal/worker"
	"github.com/nats-io/nats.go"
)

// newJobStore opens the configured job store. The returned func releases it.
func newJobStore(
	cfg *config.Config,
	jetstreamContext nats.JetStreamContext,
	log *logger.Logger,
) (core.JobStore, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return jobstore.NewMemoryStore(), func() {}, nil
	case config.BackendBadger:
		store, err := jobstore.NewBadgerStore(jobstore.BadgerOptions{
			Dir:      cfg.Store.BadgerDir,
			InMemory: false,
			Log:      log,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open badger job store: %w", err)
		}

		return store, func() {
			closeErr := store.Close()
			if closeErr != nil {
				log.Error("Failed to close badger job store: %v", closeErr)
			}
		}, nil
	case config.BackendNATS:
		store, err := jobstore.NewNatsKVStore(jetstreamContext, cfg.NATS.JobsBucket)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open NATS job store: %w", err)
		}

		return store, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Store.Backend)
	}
}

// newObjectStore opens the configured audio asset store.
func newObjectStore(cfg *config.Config, jetstreamContext nats.JetStreamContext) (core.ObjectStore, error) {
	switch cfg.Assets.Backend {
	case config.BackendMemory:
		return objectstore.NewMemoryStore(), nil
	case config.BackendS3:
		s3Cfg := cfg.Assets.S3
		client := objectstore.NewS3Client(objectstore.S3Options{
			Region:          s3Cfg.Region,
			Endpoint:        s3Cfg.Endpoint,
			AccessKeyID:     s3Cfg.AccessKeyID,
			SecretAccessKey: s3Cfg.SecretAccessKey,
			UsePathStyle:    s3Cfg.UsePathStyle,
		})

		return objectstore.NewS3(client, s3Cfg.Bucket, s3Cfg.Prefix), nil
	case config.BackendNATS:
		store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
		if err != nil {
			return nil, fmt.Errorf("failed to open NATS object store: %w", err)
		}

		return store, nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Assets.Backend)
	}
}

// newEngine builds the configured conversion engine.
func newEngine(cfg *config.Config, log *logger.Logger) (core.ConversionEngine, error) {
	engineCfg := cfg.Render.Engine

	switch engineCfg.Kind {
	case config.EngineDSP:
		engine, err := conversion.NewDSPEngine(cfg.Render.Output, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create dsp engine: %w", err)
		}

		return engine, nil
	case config.EngineExec:
		engine, err := conversion.NewExecEngine(engineCfg.BinaryPath, engineCfg.ModelPath, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create exec engine: %w", err)
		}

		return engine, nil
	case config.EngineHTTP:
		timeout := time.Duration(engineCfg.TimeoutSeconds) * time.Second

		return conversion.NewHTTPEngine(engineCfg.ServiceURL, timeout, log), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownEngine, engineCfg.Kind)
	}
}

func subjectsFrom(cfg *config.Config) worker.Subjects {
	return worker.Subjects{
		Submit: cfg.NATS.SubmitSubject,
		Status: cfg.NATS.StatusSubject,
		Health: cfg.NATS.HealthSubject,
	}
}
