package dsp

import (
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

// tailPadding is the silence fed after the last block so the resampler's
// filter delay is flushed into the output.
const tailPadding = 0.1

// RateConverter streams interleaved samples from one sample rate to another.
// Equal rates pass samples through unchanged.
type RateConverter struct {
	inRate    float64
	outRate   float64
	channels  int
	resampler resampling.Resampler
}

// NewRateConverter creates a converter for interleaved audio.
func NewRateConverter(inRate, outRate float64, channels int) (*RateConverter, error) {
	if inRate <= 0 || outRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid rate conversion %.1f -> %.1f Hz with %d channels", inRate, outRate, channels)
	}

	converter := &RateConverter{
		inRate:    inRate,
		outRate:   outRate,
		channels:  channels,
		resampler: nil,
	}

	if inRate == outRate {
		return converter, nil
	}

	resampler, err := resampling.New(&resampling.Config{
		InputRate:  inRate,
		OutputRate: outRate,
		Channels:   channels,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	converter.resampler = resampler

	return converter, nil
}

// Process converts one block. Output length varies with the resampler's
// internal buffering.
func (c *RateConverter) Process(block []float64) ([]float64, error) {
	if c.resampler == nil {
		out := make([]float64, len(block))
		copy(out, block)

		return out, nil
	}

	out, err := c.resampler.Process(block)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}

	return out, nil
}

// Flush pushes trailing silence through the resampler and returns what it
// releases.
func (c *RateConverter) Flush() ([]float64, error) {
	if c.resampler == nil {
		return nil, nil
	}

	frames := int(math.Ceil(c.inRate * tailPadding))

	return c.Process(make([]float64, frames*c.channels))
}

// Resample converts a whole interleaved signal and trims the result to the
// exact expected length.
func Resample(samples []float64, channels int, inRate, outRate float64) ([]float64, error) {
	converter, err := NewRateConverter(inRate, outRate, channels)
	if err != nil {
		return nil, err
	}

	head, err := converter.Process(samples)
	if err != nil {
		return nil, err
	}

	tail, err := converter.Flush()
	if err != nil {
		return nil, err
	}

	frames := int(math.Round(float64(len(samples)/channels) * outRate / inRate))
	out := make([]float64, frames*channels)
	copied := copy(out, head)
	copy(out[copied:], tail)

	return out, nil
}
