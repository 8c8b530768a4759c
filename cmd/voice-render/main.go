// main package for the voice-render service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-render/internal/config"
	"github.com/book-expert/voice-render/internal/jobs"
	"github.com/book-expert/voice-render/internal/policy"
	"github.com/book-expert/voice-render/internal/worker"
	"github.com/nats-io/nats.go"
)

const shutdownTimeout = 30 * time.Second

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), "voice-render-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, "voice-render.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	return serve(cfg, finalLog)
}

func serve(cfg *config.Config, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to open JetStream context: %w", err)
	}

	store, closeStore, err := newJobStore(cfg, jetstreamContext, log)
	if err != nil {
		return err
	}
	defer closeStore()

	assets, err := newObjectStore(cfg, jetstreamContext)
	if err != nil {
		return err
	}

	engine, err := newEngine(cfg, log)
	if err != nil {
		return err
	}

	manager, err := jobs.NewManager(jobs.Options{
		Store:             store,
		Assets:            assets,
		Engine:            engine,
		Watermark:         policy.NewWatermarkPolicy(cfg.Render.Output.BitDepth),
		Screen:            policy.NewDenylistScreen(cfg.Render.BlockedIdentities),
		Workers:           cfg.Render.Workers,
		ConversionTimeout: time.Duration(cfg.Render.ConversionTimeoutSeconds) * time.Second,
		StoreRetry:        0,
		InstanceID:        cfg.Render.InstanceID,
		Log:               log,
		Now:               nil,
		NewID:             nil,
	})
	if err != nil {
		return fmt.Errorf("failed to create job manager: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, recoverErr := manager.Recover(ctx)
	if recoverErr != nil {
		log.Error("Startup recovery failed: %v", recoverErr)
	}

	gateway := worker.NewNatsGateway(natsConnection, subjectsFrom(cfg), manager, log)

	log.System("Voice-render initialized: instance=%s engine=%s store=%s assets=%s workers=%d",
		manager.Instance(), cfg.Render.Engine.Kind, cfg.Store.Backend, cfg.Assets.Backend, cfg.Render.Workers)

	runErr := gateway.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := manager.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		log.Warn("Job manager shutdown: %v", shutdownErr)
	}

	log.System("Voice-render stopped.")

	return runErr
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
