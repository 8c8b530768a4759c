package conversion

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-render/internal/audio"
	"github.com/book-expert/voice-render/internal/core"
	"github.com/book-expert/voice-render/internal/params"
)

// HealthCheckTimeout bounds a single health check.
const HealthCheckTimeout = 10 * time.Second

// HTTPEngine implements core.ConversionEngine on top of a remote model
// server.
type HTTPEngine struct {
	client *HTTPClient
	log    *logger.Logger
}

// NewHTTPEngine creates an engine for the server at serviceURL.
func NewHTTPEngine(serviceURL string, timeout time.Duration, log *logger.Logger) *HTTPEngine {
	return NewHTTPEngineWithClient(NewHTTPClient(serviceURL, timeout), log)
}

// NewHTTPEngineWithClient creates an engine with a custom client.
func NewHTTPEngineWithClient(client *HTTPClient, log *logger.Logger) *HTTPEngine {
	return &HTTPEngine{client: client, log: log}
}

// Convert sends the input and parameters to the server and validates the
// returned audio.
func (e *HTTPEngine) Convert(ctx context.Context, input audio.Asset, parameters params.Set) (audio.Asset, error) {
	data, err := e.client.Convert(ctx, ConvertRequest{
		Audio:      input.Bytes(),
		MIMEType:   input.MIMEType(),
		Label:      input.Label(),
		Parameters: parameters.Normalize(),
	})
	if err != nil {
		return audio.Asset{}, fmt.Errorf("%w: %w", core.ErrConversionFailed, err)
	}

	asset, err := audio.NewAsset(data, audio.MIMEWAV, outputLabelPrefix+input.Label())
	if err != nil {
		return audio.Asset{}, fmt.Errorf("%w: model service returned unusable audio: %w", core.ErrConversionFailed, err)
	}

	e.log.Info("Remote render finished: %d bytes", asset.Size())

	return asset, nil
}

// Health checks that the model server answers.
func (e *HTTPEngine) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	healthErr := e.client.HealthCheck(ctx)
	if healthErr != nil {
		return fmt.Errorf("model service health check failed: %w", healthErr)
	}

	return nil
}
