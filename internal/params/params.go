// Package params defines the expressive voice-shaping controls and the
// normalisation that clamps raw client input into their declared ranges.
package params

import "math"

// Declared bounds for each control. Out-of-range input is coerced into these
// ranges, never rejected.
const (
	PitchMin = -12.0
	PitchMax = 12.0

	TimbreMin = -50.0
	TimbreMax = 50.0

	DepthMin = -30.0
	DepthMax = 30.0

	SpeedMin = 0.5
	SpeedMax = 1.8

	EmotionMin = 0.0
	EmotionMax = 100.0

	MorphMin = -50.0
	MorphMax = 50.0

	NoiseReductionMin = 0.0
	NoiseReductionMax = 100.0

	ClarityMin = 0.0
	ClarityMax = 100.0
)

// Front-end slider range for speed. It is narrower than [SpeedMin, SpeedMax]
// and is only an input affordance; the signal chain honours the wider range.
const (
	SpeedUIMin = 0.6
	SpeedUIMax = 1.6
)

// Defaults applied when a field is missing from the raw input.
const (
	DefaultPitch          = 0.0
	DefaultTimbre         = 0.0
	DefaultDepth          = 0.0
	DefaultSpeed          = 1.0
	DefaultEmotion        = 50.0
	DefaultMorph          = 0.0
	DefaultNoiseReduction = 40.0
	DefaultClarity        = 60.0
)

// Set is a validated bundle of expressive controls. Every field lies within
// its declared bound once produced by Normalize.
type Set struct {
	Pitch          float64 `json:"pitch"          msgpack:"pitch"`
	Timbre         float64 `json:"timbre"         msgpack:"timbre"`
	Depth          float64 `json:"depth"          msgpack:"depth"`
	Speed          float64 `json:"speed"          msgpack:"speed"`
	Emotion        float64 `json:"emotion"        msgpack:"emotion"`
	Morph          float64 `json:"morph"          msgpack:"morph"`
	NoiseReduction float64 `json:"noiseReduction" msgpack:"noise_reduction"`
	Clarity        float64 `json:"clarity"        msgpack:"clarity"`
}

// Raw is client-supplied parameter input. A nil field means "not provided".
// The JSON names match the form fields of the upload endpoint.
type Raw struct {
	Pitch          *float64 `json:"pitch,omitempty"`
	Timbre         *float64 `json:"timbre,omitempty"`
	Depth          *float64 `json:"depth,omitempty"`
	Speed          *float64 `json:"speed,omitempty"`
	Emotion        *float64 `json:"emotion,omitempty"`
	Morph          *float64 `json:"morph,omitempty"`
	NoiseReduction *float64 `json:"noiseReduction,omitempty"`
	Clarity        *float64 `json:"clarity,omitempty"`
}

// Defaults returns the Set used when no input is provided at all.
func Defaults() Set {
	return Set{
		Pitch:          DefaultPitch,
		Timbre:         DefaultTimbre,
		Depth:          DefaultDepth,
		Speed:          DefaultSpeed,
		Emotion:        DefaultEmotion,
		Morph:          DefaultMorph,
		NoiseReduction: DefaultNoiseReduction,
		Clarity:        DefaultClarity,
	}
}

// Normalize clamps every provided field into its bound and substitutes the
// default for every missing one. It never fails.
func Normalize(raw Raw) Set {
	return Set{
		Pitch:          field(raw.Pitch, DefaultPitch, PitchMin, PitchMax),
		Timbre:         field(raw.Timbre, DefaultTimbre, TimbreMin, TimbreMax),
		Depth:          field(raw.Depth, DefaultDepth, DepthMin, DepthMax),
		Speed:          field(raw.Speed, DefaultSpeed, SpeedMin, SpeedMax),
		Emotion:        field(raw.Emotion, DefaultEmotion, EmotionMin, EmotionMax),
		Morph:          field(raw.Morph, DefaultMorph, MorphMin, MorphMax),
		NoiseReduction: field(raw.NoiseReduction, DefaultNoiseReduction, NoiseReductionMin, NoiseReductionMax),
		Clarity:        field(raw.Clarity, DefaultClarity, ClarityMin, ClarityMax),
	}
}

// Normalize re-clamps an existing Set. Applying it to an already normalised
// Set returns the same value.
func (s Set) Normalize() Set {
	return Normalize(s.Raw())
}

// Raw converts the Set back into fully-populated raw input.
func (s Set) Raw() Raw {
	return Raw{
		Pitch:          Float(s.Pitch),
		Timbre:         Float(s.Timbre),
		Depth:          Float(s.Depth),
		Speed:          Float(s.Speed),
		Emotion:        Float(s.Emotion),
		Morph:          Float(s.Morph),
		NoiseReduction: Float(s.NoiseReduction),
		Clarity:        Float(s.Clarity),
	}
}

// Clamp bounds value to [lo, hi].
func Clamp(value, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, value))
}

// Float returns a pointer to value, for building Raw literals.
func Float(value float64) *float64 {
	return &value
}

func field(value *float64, fallback, lo, hi float64) float64 {
	if value == nil || math.IsNaN(*value) {
		return fallback
	}

	return Clamp(*value, lo, hi)
}
