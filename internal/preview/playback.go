package preview

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/book-expert/voice-render/internal/dsp"
)

// BlockFrames is the number of source frames processed per step.
const BlockFrames = 1024

// ErrStopped is reported by a playback that was stopped or superseded
// before it finished.
var ErrStopped = errors.New("preview stopped")

// Playback is a running preview. It is safe for concurrent use.
type Playback struct {
	chain  Chain
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Play opens output and starts streaming the graph to it in the background.
// Output errors during Open are returned and nothing plays.
func (g *Graph) Play(ctx context.Context, output Output) (*Playback, error) {
	openErr := output.Open(g.buffer.SampleRate, g.buffer.Channels)
	if openErr != nil {
		return nil, fmt.Errorf("failed to open preview output: %w", openErr)
	}

	playCtx, cancel := context.WithCancel(ctx)
	playback := &Playback{
		chain:  g.chain,
		cancel: cancel,
		done:   make(chan struct{}),
		mu:     sync.Mutex{},
		err:    nil,
	}

	go playback.run(playCtx, g, output)

	return playback, nil
}

// Stop cancels the playback and waits for the output to be released.
func (p *Playback) Stop() {
	p.cancel()
	<-p.done
}

// Done is closed once the playback has finished and its output is closed.
func (p *Playback) Done() <-chan struct{} {
	return p.done
}

// Err returns nil for a playback that ran to the end, ErrStopped when it was
// cut short, or the output error that ended it. It is only meaningful after
// Done is closed.
func (p *Playback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.err
}

// Chain returns the settings being played.
func (p *Playback) Chain() Chain {
	return p.chain
}

func (p *Playback) run(ctx context.Context, graph *Graph, output Output) {
	defer close(p.done)
	defer p.cancel()

	err := stream(ctx, graph, output)

	closeErr := output.Close()
	if err == nil {
		err = closeErr
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = ErrStopped
	}

	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// stream pushes the buffer through source rate change, low shelf and gain
// in blocks, writing each processed block to output. The resampler tail is
// cut at the expected output length.
func stream(ctx context.Context, graph *Graph, output Output) error {
	buffer := graph.buffer
	chain := graph.chain
	channels := buffer.Channels
	sampleRate := float64(buffer.SampleRate)

	converter, err := dsp.NewRateConverter(sampleRate*chain.EffectiveRate(), sampleRate, channels)
	if err != nil {
		return err
	}

	shelf := dsp.NewLowShelf(sampleRate, chain.LowShelfFrequency, chain.LowShelfGainDB)
	step := BlockFrames * channels
	remaining := int(math.Round(float64(buffer.Frames())/chain.EffectiveRate())) * channels

	emit := func(block []float64) error {
		block = block[:min(len(block), remaining)]
		if len(block) == 0 {
			return nil
		}

		remaining -= len(block)

		shelf.Process(block, channels)
		dsp.Gain(block, chain.OutputGain)

		return output.Write(ctx, block)
	}

	for start := 0; start < len(buffer.Samples); start += step {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return ctxErr
		}

		end := min(start+step, len(buffer.Samples))

		block, convertErr := converter.Process(buffer.Samples[start:end])
		if convertErr != nil {
			return convertErr
		}

		writeErr := emit(block)
		if writeErr != nil {
			return writeErr
		}
	}

	tail, err := converter.Flush()
	if err != nil {
		return err
	}

	return emit(tail)
}
