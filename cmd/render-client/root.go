package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-render/internal/config"
	"github.com/book-expert/voice-render/internal/objectstore"
	"github.com/book-expert/voice-render/internal/worker"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

const logFileName = "render-client.log"

// globalFlags are shared by every command.
type globalFlags struct {
	natsURL       string
	userID        string
	timeout       time.Duration
	logDir        string
	submitSubject string
	statusSubject string
	healthSubject string
	audioBucket   string
}

// session holds what a command needs once the flags are parsed.
type session struct {
	flags *globalFlags
	log   *logger.Logger
	conn  *nats.Conn
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "render-client",
		Short: "Client for the voice-render service",
		Long: `Client for the voice-render service.

Submits recordings for rendering over NATS, follows job status, downloads
rendered audio and plays quick local previews of a parameter set.`,
		SilenceUsage: true,
	}

	persistent := root.PersistentFlags()
	persistent.StringVar(&flags.natsURL, "nats-url", config.DefaultNATSURL, "NATS server URL")
	persistent.StringVar(&flags.userID, "user", "", "user id recorded as job owner")
	persistent.DurationVar(&flags.timeout, "timeout", 30*time.Second, "request timeout")
	persistent.StringVar(&flags.logDir, "log-dir", "", "log directory (defaults to the temp dir)")
	persistent.StringVar(&flags.submitSubject, "submit-subject", config.DefaultSubmitSubject, "submit subject")
	persistent.StringVar(&flags.statusSubject, "status-subject", config.DefaultStatusSubject, "status subject")
	persistent.StringVar(&flags.healthSubject, "health-subject", config.DefaultHealthSubject, "health subject")
	persistent.StringVar(&flags.audioBucket, "audio-bucket", config.DefaultAudioBucket, "NATS object store bucket")

	root.AddCommand(
		newSubmitCommand(flags),
		newStatusCommand(flags),
		newFetchCommand(flags),
		newPreviewCommand(flags),
		newHealthCommand(flags),
	)

	return root
}

func (f *globalFlags) subjects() worker.Subjects {
	return worker.Subjects{Submit: f.submitSubject, Status: f.statusSubject, Health: f.healthSubject}
}

func openLogger(flags *globalFlags) (*logger.Logger, error) {
	dir := flags.logDir
	if dir == "" {
		dir = os.TempDir()
	}

	log, err := logger.New(dir, logFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return log, nil
}

// connect opens the logger and the NATS connection. Close releases both.
func connect(flags *globalFlags) (*session, error) {
	log, err := openLogger(flags)
	if err != nil {
		return nil, err
	}

	conn, err := nats.Connect(flags.natsURL, nats.Timeout(flags.timeout))
	if err != nil {
		log.Error("Failed to connect to %s: %v", flags.natsURL, err)
		_ = log.Close()

		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", flags.natsURL, err)
	}

	return &session{flags: flags, log: log, conn: conn}, nil
}

// client sends status and health requests. Submissions use submitClient.
func (s *session) client() *worker.Client {
	return worker.NewClient(s.conn, s.flags.subjects(), s.flags.userID, nil)
}

// submitClient stages input audio in the service's object store bucket.
func (s *session) submitClient() (*worker.Client, error) {
	store, err := s.assets()
	if err != nil {
		return nil, err
	}

	return worker.NewClient(s.conn, s.flags.subjects(), s.flags.userID, store), nil
}

func (s *session) assets() (*objectstore.NatsObjectStore, error) {
	jetstreamContext, err := s.conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to open JetStream context: %w", err)
	}

	return objectstore.New(jetstreamContext, s.flags.audioBucket)
}

func (s *session) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.flags.timeout)
}

func (s *session) Close() {
	s.conn.Close()
	_ = s.log.Close()
}
