// Package conversion provides ConversionEngine implementations: an
// in-process signal-processing stand-in, an external model binary and a
// remote model server.
package conversion

import (
	"context"
	"fmt"
	"math"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-render/internal/audio"
	"github.com/book-expert/voice-render/internal/core"
	"github.com/book-expert/voice-render/internal/dsp"
	"github.com/book-expert/voice-render/internal/params"
)

// Render chain constants.
const (
	minStretchSpeed   = 0.5
	morphPerSemitone  = 25.0
	timbreCutoff      = 2800.0
	timbreGainDivisor = 80.0
	depthCutoff       = 180.0
	depthGainDivisor  = 60.0
	emotionDivisor    = 120.0
	clarityCutoff     = 3200.0
	clarityDivisor    = 120.0
	outputLabelPrefix = "converted-"
)

// DSPEngine approximates voice conversion with classic signal processing:
// time stretch, pitch shift, filtering, saturation and gating on a mono
// signal at the output sample rate.
type DSPEngine struct {
	quality audio.Quality
	log     *logger.Logger
}

// NewDSPEngine creates an engine that writes output at quality.
func NewDSPEngine(quality audio.Quality, log *logger.Logger) (*DSPEngine, error) {
	err := quality.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid output quality: %w", err)
	}

	return &DSPEngine{quality: quality, log: log}, nil
}

type renderStage struct {
	name  string
	apply func(samples []float64) ([]float64, error)
}

// Convert implements core.ConversionEngine. Cancellation is checked between
// stages.
func (e *DSPEngine) Convert(ctx context.Context, input audio.Asset, parameters params.Set) (audio.Asset, error) {
	buffer, err := input.Decode()
	if err != nil {
		return audio.Asset{}, fmt.Errorf("%w: cannot decode input: %w", core.ErrConversionFailed, err)
	}

	mono := buffer.Mono()
	sampleRate := e.quality.SampleRate

	samples, err := dsp.Resample(mono.Samples, 1, float64(mono.SampleRate), float64(sampleRate))
	if err != nil {
		return audio.Asset{}, fmt.Errorf("%w: %w", core.ErrConversionFailed, err)
	}

	for _, stage := range e.stages(parameters.Normalize()) {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return audio.Asset{}, fmt.Errorf("%w: interrupted before %s: %w", core.ErrConversionFailed, stage.name, ctxErr)
		}

		samples, err = stage.apply(samples)
		if err != nil {
			return audio.Asset{}, fmt.Errorf("%w: %s: %w", core.ErrConversionFailed, stage.name, err)
		}
	}

	output := audio.NewBuffer(sampleRate, e.quality.Channels, len(samples))
	for frame, sample := range samples {
		for channel := range e.quality.Channels {
			output.Samples[frame*e.quality.Channels+channel] = sample
		}
	}

	asset, err := audio.AssetFromBuffer(output, e.quality.BitDepth, outputLabelPrefix+input.Label())
	if err != nil {
		return audio.Asset{}, fmt.Errorf("%w: %w", core.ErrConversionFailed, err)
	}

	e.log.Info("DSP render finished: %s -> %s", input.Duration(), asset.Duration())

	return asset, nil
}

func (e *DSPEngine) stages(p params.Set) []renderStage {
	sampleRate := float64(e.quality.SampleRate)
	inPlace := func(fn func([]float64)) func([]float64) ([]float64, error) {
		return func(samples []float64) ([]float64, error) {
			fn(samples)

			return samples, nil
		}
	}

	stages := []renderStage{
		{name: "time stretch", apply: func(samples []float64) ([]float64, error) {
			if p.Speed == 1 {
				return samples, nil
			}

			return dsp.TimeStretch(samples, e.quality.SampleRate, 1/math.Max(minStretchSpeed, p.Speed))
		}},
		{name: "pitch shift", apply: func(samples []float64) ([]float64, error) {
			return dsp.PitchShift(samples, e.quality.SampleRate, p.Pitch+p.Morph/morphPerSemitone)
		}},
	}

	if p.Timbre != 0 {
		stages = append(stages, renderStage{name: "timbre", apply: inPlace(func(samples []float64) {
			dsp.AddFiltered(samples, dsp.NewHighPass(sampleRate, timbreCutoff), p.Timbre/timbreGainDivisor)
		})})
	}

	if p.Depth != 0 {
		stages = append(stages, renderStage{name: "depth", apply: inPlace(func(samples []float64) {
			dsp.AddFiltered(samples, dsp.NewLowPass(sampleRate, depthCutoff), p.Depth/depthGainDivisor)
		})})
	}

	if p.Emotion > 0 {
		stages = append(stages, renderStage{name: "emotion", apply: func(samples []float64) ([]float64, error) {
			return samples, dsp.Saturate(samples, sampleRate, 1+p.Emotion/emotionDivisor)
		}})
	}

	if p.NoiseReduction > 0 {
		stages = append(stages, renderStage{name: "noise gate", apply: inPlace(func(samples []float64) {
			dsp.NoiseGate(samples, p.NoiseReduction/100)
		})})
	}

	if p.Clarity > 0 {
		stages = append(stages, renderStage{name: "clarity", apply: inPlace(func(samples []float64) {
			dsp.AddFiltered(samples, dsp.NewHighPass(sampleRate, clarityCutoff), p.Clarity/clarityDivisor)
		})})
	}

	return append(stages, renderStage{name: "normalize", apply: inPlace(dsp.PeakNormalize)})
}

// Health always succeeds; the engine has no external dependency.
func (e *DSPEngine) Health(context.Context) error {
	return nil
}
