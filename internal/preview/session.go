package preview

import (
	"context"
	"fmt"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-render/internal/audio"
	"github.com/book-expert/voice-render/internal/core"
	"github.com/book-expert/voice-render/internal/params"
)

// Session owns at most one active playback. Starting a preview stops the
// previous one before the new one produces output.
type Session struct {
	mu        sync.Mutex
	current   *Playback
	newOutput OutputFactory
	log       *logger.Logger
}

// NewSession creates a session that plays each preview into a fresh output
// from newOutput.
func NewSession(newOutput OutputFactory, log *logger.Logger) *Session {
	return &Session{
		mu:        sync.Mutex{},
		current:   nil,
		newOutput: newOutput,
		log:       log,
	}
}

// Preview decodes data and plays it with parameters. A decode failure is
// returned as core.ErrDecodeFailure and leaves any running preview alone.
func (s *Session) Preview(ctx context.Context, data []byte, mimeType string, parameters params.Set) (*Playback, error) {
	buffer, err := audio.Decode(data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrDecodeFailure, err)
	}

	return s.PreviewBuffer(ctx, buffer, parameters)
}

// PreviewBuffer plays an already decoded buffer.
func (s *Session) PreviewBuffer(ctx context.Context, buffer *audio.Buffer, parameters params.Set) (*Playback, error) {
	graph, err := Build(buffer, parameters)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	output, err := s.newOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to create preview output: %w", err)
	}

	playback, err := graph.Play(ctx, output)
	if err != nil {
		return nil, err
	}

	chain := graph.Chain()
	s.log.Info("Preview started: rate %.3f, detune %.0f cents, shelf %.1f dB, gain %.2f",
		chain.PlaybackRate, chain.DetuneCents, chain.LowShelfGainDB, chain.OutputGain)

	s.current = playback

	return playback, nil
}

// Current returns the active playback, or nil.
func (s *Session) Current() *Playback {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current
}

// Stop stops the active playback, if any.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
}

func (s *Session) stopLocked() {
	if s.current == nil {
		return
	}

	s.current.Stop()
	s.current = nil
}
