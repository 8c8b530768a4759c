package dsp

import (
	"fmt"
	"math"
	"slices"

	"github.com/cwbudde/algo-dsp/dsp/effects"
	"github.com/cwbudde/algo-dsp/dsp/effects/pitch"
)

// Gain multiplies every sample by factor in place.
func Gain(samples []float64, factor float64) {
	for i := range samples {
		samples[i] *= factor
	}
}

// DecibelsToGain converts a level in dB to a linear factor.
func DecibelsToGain(db float64) float64 {
	return math.Pow(10, db/20)
}

// AddFiltered mixes a filtered copy of a mono signal back onto itself:
// x + filter(x) * gain. The filter starts from rest.
func AddFiltered(samples []float64, filter *Biquad, gain float64) {
	filtered := slices.Clone(samples)
	filter.Reset()
	filter.Process(filtered, 1)

	for i := range samples {
		samples[i] += filtered[i] * gain
	}
}

// Saturate applies tanh soft clipping with the given input drive.
func Saturate(samples []float64, sampleRate, drive float64) error {
	shaper, err := effects.NewDistortion(
		sampleRate,
		effects.WithDistortionMode(effects.DistortionModeTanh),
		effects.WithDistortionDrive(drive),
		effects.WithDistortionMix(1),
	)
	if err != nil {
		return fmt.Errorf("failed to create saturator: %w", err)
	}

	shaper.ProcessInPlace(samples)

	return nil
}

// NoiseGate attenuates samples whose magnitude is below the 20th percentile
// of all magnitudes scaled by (1 + strength). Gated samples keep 10% of their
// level.
func NoiseGate(samples []float64, strength float64) {
	if len(samples) == 0 {
		return
	}

	magnitudes := make([]float64, len(samples))
	for i, x := range samples {
		magnitudes[i] = math.Abs(x)
	}

	threshold := Percentile(magnitudes, 20) * (1 + strength)

	for i, x := range samples {
		if math.Abs(x) < threshold {
			samples[i] = x * 0.1
		}
	}
}

// Percentile returns the p-th percentile of values using linear interpolation
// between closest ranks. values is not modified.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	weight := rank - float64(lower)

	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// PeakNormalize scales samples so the loudest one has magnitude 1. Silence is
// left untouched.
func PeakNormalize(samples []float64) {
	peak := Peak(samples)
	if peak == 0 {
		return
	}

	Gain(samples, 1/peak)
}

// Peak returns the largest absolute sample value.
func Peak(samples []float64) float64 {
	peak := 0.0
	for _, x := range samples {
		peak = math.Max(peak, math.Abs(x))
	}

	return peak
}

// PitchShift moves a mono signal by semitones while keeping its duration,
// using a WSOLA shifter.
func PitchShift(samples []float64, sampleRate int, semitones float64) ([]float64, error) {
	if semitones == 0 || len(samples) == 0 {
		return slices.Clone(samples), nil
	}

	shifter, err := pitch.NewPitchShifter(float64(sampleRate))
	if err != nil {
		return nil, fmt.Errorf("failed to create pitch shifter: %w", err)
	}

	err = shifter.SetPitchSemitones(semitones)
	if err != nil {
		return nil, fmt.Errorf("invalid pitch shift: %w", err)
	}

	return shifter.Process(samples), nil
}

// TimeStretch changes the duration of a mono signal by factor (2 doubles the
// length) without changing pitch: the signal is pitch-shifted by factor and
// then resampled to the new length, which brings the pitch back down.
func TimeStretch(samples []float64, sampleRate int, factor float64) ([]float64, error) {
	if factor == 1 || len(samples) == 0 {
		return slices.Clone(samples), nil
	}

	shifter, err := pitch.NewPitchShifter(float64(sampleRate))
	if err != nil {
		return nil, fmt.Errorf("failed to create time stretcher: %w", err)
	}

	err = shifter.SetPitchRatio(factor)
	if err != nil {
		return nil, fmt.Errorf("invalid stretch factor: %w", err)
	}

	rate := float64(sampleRate)

	return Resample(shifter.Process(samples), 1, rate, rate*factor)
}
