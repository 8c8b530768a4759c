// Package preview renders a fast, approximate local preview of a parameter
// set. It maps parameters onto a small signal graph (rate/detune source,
// low shelf, output gain) and streams the result to an Output.
package preview

import (
	"fmt"
	"math"
	"time"

	"github.com/book-expert/voice-render/internal/audio"
	"github.com/book-expert/voice-render/internal/core"
	"github.com/book-expert/voice-render/internal/params"
)

// Mapping constants from parameters to graph settings.
const (
	CentsPerSemitone  = 25.0
	ShelfFrequency    = 350.0
	ShelfGainPerDepth = 0.6
	ShelfGainMinDB    = -12.0
	ShelfGainMaxDB    = 12.0
	OutputGainMin     = 0.6
	OutputGainMax     = 1.4
	PlaybackRateMin   = params.SpeedMin
	PlaybackRateMax   = params.SpeedMax
)

// NodeKind names a stage of the preview graph.
type NodeKind string

// Graph stages in signal order.
const (
	NodeSource      NodeKind = "source"
	NodeLowShelf    NodeKind = "lowshelf"
	NodeGain        NodeKind = "gain"
	NodeDestination NodeKind = "destination"
)

// Reserved lists the parameters the preview accepts but does not render.
// They only take effect in the full conversion engine.
var Reserved = []string{"timbre", "emotion", "morph", "noiseReduction"}

// Chain is the set of graph settings derived from a parameter set.
type Chain struct {
	PlaybackRate      float64
	DetuneCents       float64
	LowShelfFrequency float64
	LowShelfGainDB    float64
	OutputGain        float64
	Nodes             []NodeKind
	Reserved          []string
}

// BuildChain maps parameters onto graph settings. Speed is clamped to the
// playback range here even when the caller bypassed normalisation.
func BuildChain(parameters params.Set) Chain {
	normalized := parameters.Normalize()

	return Chain{
		PlaybackRate:      params.Clamp(normalized.Speed, PlaybackRateMin, PlaybackRateMax),
		DetuneCents:       normalized.Pitch * CentsPerSemitone,
		LowShelfFrequency: ShelfFrequency,
		LowShelfGainDB:    params.Clamp(normalized.Depth*ShelfGainPerDepth, ShelfGainMinDB, ShelfGainMaxDB),
		OutputGain:        params.Clamp(normalized.Clarity/100, OutputGainMin, OutputGainMax),
		Nodes:             []NodeKind{NodeSource, NodeLowShelf, NodeGain, NodeDestination},
		Reserved:          append([]string(nil), Reserved...),
	}
}

// EffectiveRate is the resampling ratio of the source: playback rate times
// the detune factor, as a browser buffer source applies both.
func (c Chain) EffectiveRate() float64 {
	return c.PlaybackRate * math.Pow(2, c.DetuneCents/1200)
}

// Graph is a chain bound to a decoded buffer, ready to play.
type Graph struct {
	chain  Chain
	buffer *audio.Buffer
}

// Build binds parameters to a decoded buffer. An empty or malformed buffer
// is a decode failure.
func Build(buffer *audio.Buffer, parameters params.Set) (*Graph, error) {
	if buffer == nil || buffer.SampleRate <= 0 || buffer.Channels <= 0 || buffer.Frames() == 0 {
		return nil, fmt.Errorf("%w: preview buffer holds no playable audio", core.ErrDecodeFailure)
	}

	return &Graph{chain: BuildChain(parameters), buffer: buffer.Clone()}, nil
}

// Chain returns the graph settings.
func (g *Graph) Chain() Chain {
	return g.chain
}

// Duration is the expected output length after the rate change.
func (g *Graph) Duration() time.Duration {
	return time.Duration(float64(g.buffer.Duration()) / g.chain.EffectiveRate())
}
