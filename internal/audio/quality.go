package audio

import (
	"errors"
	"fmt"
)

// Default output quality of rendered audio.
const (
	DefaultSampleRate = 44100
	DefaultBitDepth   = 16
	DefaultChannels   = 1
)

// Supported integer PCM bit depths.
const (
	BitDepth8  = 8
	BitDepth16 = 16
	BitDepth24 = 24
	BitDepth32 = 32
)

// Limits for quality validation.
const (
	MaxSampleRate = 192000
	MaxChannels   = 8
	MinSampleRate = 8000
)

const (
	errFmtSampleRateRange = "%w: sample rate must be between %d and %d Hz, got %d"
	errFmtBitDepthValues  = "%w: bit depth must be 8, 16, 24, or 32, got %d"
	errFmtChannelsRange   = "%w: channels must be between 1 and %d, got %d"
)

// ErrInvalidQuality indicates quality settings outside the supported limits.
var ErrInvalidQuality = errors.New("invalid quality settings")

// Quality describes the PCM encoding of rendered output.
type Quality struct {
	SampleRate int `json:"sampleRate" toml:"sample_rate"`
	BitDepth   int `json:"bitDepth"   toml:"bit_depth"`
	Channels   int `json:"channels"   toml:"channels"`
}

// NewDefaultQuality returns 44.1 kHz, 16-bit mono, the format the render
// chain has always produced.
func NewDefaultQuality() Quality {
	return Quality{
		SampleRate: DefaultSampleRate,
		BitDepth:   DefaultBitDepth,
		Channels:   DefaultChannels,
	}
}

// Validate checks if quality settings are within reasonable bounds.
func (q Quality) Validate() error {
	sampleRateErr := validateSampleRate(q.SampleRate)
	if sampleRateErr != nil {
		return sampleRateErr
	}

	bitDepthErr := validateBitDepth(q.BitDepth)
	if bitDepthErr != nil {
		return bitDepthErr
	}

	channelsErr := validateChannels(q.Channels)
	if channelsErr != nil {
		return channelsErr
	}

	return nil
}

func validateSampleRate(sampleRate int) error {
	if sampleRate < MinSampleRate || sampleRate > MaxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidQuality, MinSampleRate, MaxSampleRate, sampleRate)
	}

	return nil
}

func validateBitDepth(bitDepth int) error {
	switch bitDepth {
	case BitDepth8, BitDepth16, BitDepth24, BitDepth32:
		return nil
	default:
		return fmt.Errorf(errFmtBitDepthValues, ErrInvalidQuality, bitDepth)
	}
}

func validateChannels(channels int) error {
	if channels <= 0 || channels > MaxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrInvalidQuality, MaxChannels, channels)
	}

	return nil
}
