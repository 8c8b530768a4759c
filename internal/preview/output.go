package preview

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/book-expert/voice-render/internal/audio"
)

// FrameDuration is the pacing unit of real-time output.
const FrameDuration = 20 * time.Millisecond

// ErrOutputClosed indicates a write after Close.
var ErrOutputClosed = errors.New("output closed")

// Output receives rendered interleaved samples. Open is called once before
// the first Write and Close once after the last.
type Output interface {
	Open(sampleRate, channels int) error
	Write(ctx context.Context, samples []float64) error
	Close() error
}

// OutputFactory creates a fresh Output for each preview.
type OutputFactory func() (Output, error)

// MemoryOutput collects everything written to it.
type MemoryOutput struct {
	mu         sync.Mutex
	sampleRate int
	channels   int
	samples    []float64
	closed     bool
}

// NewMemoryOutput creates an empty in-memory output.
func NewMemoryOutput() *MemoryOutput {
	return &MemoryOutput{}
}

// Open implements Output.
func (m *MemoryOutput) Open(sampleRate, channels int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sampleRate = sampleRate
	m.channels = channels

	return nil
}

// Write implements Output.
func (m *MemoryOutput) Write(_ context.Context, samples []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrOutputClosed
	}

	m.samples = append(m.samples, samples...)

	return nil
}

// Close implements Output.
func (m *MemoryOutput) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	return nil
}

// Buffer returns a copy of what has been written so far.
func (m *MemoryOutput) Buffer() *audio.Buffer {
	m.mu.Lock()
	defer m.mu.Unlock()

	samples := make([]float64, len(m.samples))
	copy(samples, m.samples)

	return &audio.Buffer{SampleRate: m.sampleRate, Channels: m.channels, Samples: samples, Extra: nil}
}

// Closed reports whether Close has been called.
func (m *MemoryOutput) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

// DiscardOutput drops all samples.
type DiscardOutput struct{}

// Open implements Output.
func (DiscardOutput) Open(int, int) error { return nil }

// Write implements Output.
func (DiscardOutput) Write(context.Context, []float64) error { return nil }

// Close implements Output.
func (DiscardOutput) Close() error { return nil }

// WAVFileOutput writes the rendered preview to a WAV file on Close.
type WAVFileOutput struct {
	path     string
	bitDepth int
	memory   *MemoryOutput
}

// NewWAVFileOutput creates an output that writes path at bitDepth.
func NewWAVFileOutput(path string, bitDepth int) *WAVFileOutput {
	return &WAVFileOutput{path: path, bitDepth: bitDepth, memory: NewMemoryOutput()}
}

// Open implements Output.
func (w *WAVFileOutput) Open(sampleRate, channels int) error {
	return w.memory.Open(sampleRate, channels)
}

// Write implements Output.
func (w *WAVFileOutput) Write(ctx context.Context, samples []float64) error {
	return w.memory.Write(ctx, samples)
}

// Close encodes what was written, including a partial preview that was
// stopped early, and writes the file.
func (w *WAVFileOutput) Close() error {
	closeErr := w.memory.Close()
	if closeErr != nil {
		return closeErr
	}

	data, err := audio.EncodeWAV(w.memory.Buffer(), w.bitDepth)
	if err != nil {
		return fmt.Errorf("failed to encode preview: %w", err)
	}

	err = os.WriteFile(w.path, data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write preview file %s: %w", w.path, err)
	}

	return nil
}

// RealtimeOutput paces writes to another Output at playback speed, releasing
// one FrameDuration of audio per tick.
type RealtimeOutput struct {
	inner       Output
	frameLength int
	pending     []float64
	ticker      *time.Ticker
}

// NewRealtimeOutput wraps inner with real-time pacing.
func NewRealtimeOutput(inner Output) *RealtimeOutput {
	return &RealtimeOutput{inner: inner}
}

// Open implements Output.
func (r *RealtimeOutput) Open(sampleRate, channels int) error {
	frames := max(1, int(int64(sampleRate)*int64(FrameDuration)/int64(time.Second)))
	r.frameLength = frames * channels
	r.ticker = time.NewTicker(FrameDuration)

	return r.inner.Open(sampleRate, channels)
}

// Write implements Output. It blocks until the audio has been released or
// ctx is done.
func (r *RealtimeOutput) Write(ctx context.Context, samples []float64) error {
	r.pending = append(r.pending, samples...)

	for len(r.pending) >= r.frameLength {
		err := r.release(ctx, r.pending[:r.frameLength])
		if err != nil {
			return err
		}

		r.pending = r.pending[r.frameLength:]
	}

	return nil
}

// Close flushes the partial frame and closes the inner output.
func (r *RealtimeOutput) Close() error {
	if r.ticker != nil {
		defer r.ticker.Stop()
	}

	if len(r.pending) > 0 {
		err := r.inner.Write(context.Background(), r.pending)
		r.pending = nil

		if err != nil {
			closeErr := r.inner.Close()

			return errors.Join(err, closeErr)
		}
	}

	return r.inner.Close()
}

func (r *RealtimeOutput) release(ctx context.Context, frame []float64) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("realtime output: %w", ctx.Err())
	case <-r.ticker.C:
	}

	out := make([]float64, len(frame))
	copy(out, frame)

	return r.inner.Write(ctx, out)
}
