// Package config provides the configuration structure for the voice-render service.
package config

import (
	"errors"
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/book-expert/voice-render/internal/audio"
)

// Backend and engine names accepted in the configuration file.
const (
	BackendNATS   = "nats"
	BackendBadger = "badger"
	BackendMemory = "memory"
	BackendS3     = "s3"

	EngineDSP  = "dsp"
	EngineExec = "exec"
	EngineHTTP = "http"

	PreviewOutputDevice = "device"
	PreviewOutputWAV    = "wav"
	PreviewOutputNull   = "null"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultNATSURL                  = "nats://127.0.0.1:4222"
	DefaultSubmitSubject            = "render.submit"
	DefaultStatusSubject            = "render.status"
	DefaultHealthSubject            = "render.health"
	DefaultJobsBucket               = "RENDER_JOBS"
	DefaultAudioBucket              = "RENDER_AUDIO"
	DefaultWorkers                  = 4
	DefaultConversionTimeoutSeconds = 300
	DefaultEngineTimeoutSeconds     = 120
	DefaultPreviewPath              = "preview.wav"
)

var (
	// ErrUnknownBackend indicates an unsupported store or asset backend.
	ErrUnknownBackend = errors.New("unknown backend")
	// ErrUnknownEngine indicates an unsupported conversion engine kind.
	ErrUnknownEngine = errors.New("unknown conversion engine")
	// ErrMissingSetting indicates a setting required by the chosen backend is empty.
	ErrMissingSetting = errors.New("missing required setting")
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	SubmitSubject          string `toml:"submit_subject"`
	StatusSubject          string `toml:"status_subject"`
	HealthSubject          string `toml:"health_subject"`
	JobsBucket             string `toml:"jobs_bucket"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// EngineConfig selects and configures the conversion engine.
type EngineConfig struct {
	Kind           string `toml:"kind"`
	BinaryPath     string `toml:"binary_path"`
	ModelPath      string `toml:"model_path"`
	ServiceURL     string `toml:"service_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// RenderConfig holds the render pipeline settings.
type RenderConfig struct {
	// InstanceID names this service on a shared job store. Empty means the
	// host name.
	InstanceID               string        `toml:"instance_id"`
	Workers                  int           `toml:"workers"`
	ConversionTimeoutSeconds int           `toml:"conversion_timeout_seconds"`
	BlockedIdentities        []string      `toml:"blocked_identities"`
	Output                   audio.Quality `toml:"output"`
	Engine                   EngineConfig  `toml:"engine"`
}

// StoreConfig selects the job store backend.
type StoreConfig struct {
	Backend   string `toml:"backend"`
	BadgerDir string `toml:"badger_dir"`
}

// S3Config holds the S3 asset backend settings.
type S3Config struct {
	Bucket          string `toml:"bucket"`
	Prefix          string `toml:"prefix"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UsePathStyle    bool   `toml:"use_path_style"`
}

// AssetsConfig selects the audio asset backend.
type AssetsConfig struct {
	Backend string   `toml:"backend"`
	S3      S3Config `toml:"s3"`
}

// PreviewConfig configures the local preview output used by the client.
type PreviewConfig struct {
	Output   string `toml:"output"`
	Path     string `toml:"path"`
	Realtime bool   `toml:"realtime"`
	BitDepth int    `toml:"bit_depth"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS    NATSConfig    `toml:"nats"`
	Render  RenderConfig  `toml:"render"`
	Store   StoreConfig   `toml:"store"`
	Assets  AssetsConfig  `toml:"assets"`
	Preview PreviewConfig `toml:"preview"`
	Paths   PathsConfig   `toml:"paths"`
}

// Load loads the configuration for the voice-render service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return &cfg, nil
}

// ApplyDefaults fills every zero-valued setting with its default.
func (c *Config) ApplyDefaults() {
	setDefault(&c.NATS.URL, DefaultNATSURL)
	setDefault(&c.NATS.SubmitSubject, DefaultSubmitSubject)
	setDefault(&c.NATS.StatusSubject, DefaultStatusSubject)
	setDefault(&c.NATS.HealthSubject, DefaultHealthSubject)
	setDefault(&c.NATS.JobsBucket, DefaultJobsBucket)
	setDefault(&c.NATS.AudioObjectStoreBucket, DefaultAudioBucket)

	if c.Render.Workers <= 0 {
		c.Render.Workers = DefaultWorkers
	}

	if c.Render.ConversionTimeoutSeconds <= 0 {
		c.Render.ConversionTimeoutSeconds = DefaultConversionTimeoutSeconds
	}

	defaults := audio.NewDefaultQuality()
	if c.Render.Output.SampleRate == 0 {
		c.Render.Output.SampleRate = defaults.SampleRate
	}

	if c.Render.Output.BitDepth == 0 {
		c.Render.Output.BitDepth = defaults.BitDepth
	}

	if c.Render.Output.Channels == 0 {
		c.Render.Output.Channels = defaults.Channels
	}

	setDefault(&c.Render.Engine.Kind, EngineDSP)

	if c.Render.Engine.TimeoutSeconds <= 0 {
		c.Render.Engine.TimeoutSeconds = DefaultEngineTimeoutSeconds
	}

	setDefault(&c.Store.Backend, BackendNATS)
	setDefault(&c.Assets.Backend, BackendNATS)
	setDefault(&c.Preview.Output, PreviewOutputDevice)
	setDefault(&c.Preview.Path, DefaultPreviewPath)

	if c.Preview.BitDepth == 0 {
		c.Preview.BitDepth = defaults.BitDepth
	}
}

// Validate rejects unknown backends and missing backend settings.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendNATS, BackendMemory:
	case BackendBadger:
		if c.Store.BadgerDir == "" {
			return fmt.Errorf("%w: store.badger_dir", ErrMissingSetting)
		}
	default:
		return fmt.Errorf("%w: store.backend %q", ErrUnknownBackend, c.Store.Backend)
	}

	switch c.Assets.Backend {
	case BackendNATS, BackendMemory:
	case BackendS3:
		if c.Assets.S3.Bucket == "" {
			return fmt.Errorf("%w: assets.s3.bucket", ErrMissingSetting)
		}
	default:
		return fmt.Errorf("%w: assets.backend %q", ErrUnknownBackend, c.Assets.Backend)
	}

	switch c.Render.Engine.Kind {
	case EngineDSP:
	case EngineExec:
		if c.Render.Engine.BinaryPath == "" {
			return fmt.Errorf("%w: render.engine.binary_path", ErrMissingSetting)
		}
	case EngineHTTP:
		if c.Render.Engine.ServiceURL == "" {
			return fmt.Errorf("%w: render.engine.service_url", ErrMissingSetting)
		}
	default:
		return fmt.Errorf("%w: render.engine.kind %q", ErrUnknownEngine, c.Render.Engine.Kind)
	}

	switch c.Preview.Output {
	case PreviewOutputDevice, PreviewOutputWAV, PreviewOutputNull:
	default:
		return fmt.Errorf("%w: preview.output %q", ErrUnknownBackend, c.Preview.Output)
	}

	qualityErr := c.Render.Output.Validate()
	if qualityErr != nil {
		return fmt.Errorf("render.output: %w", qualityErr)
	}

	return nil
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
