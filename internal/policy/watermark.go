package policy

import (
	"fmt"
	"math"

	"github.com/book-expert/voice-render/internal/audio"
	"github.com/book-expert/voice-render/internal/core"
)

// Watermark marker written into free-tier output.
const (
	WatermarkChunkID  = "vrwm"
	PilotFrequency    = 18500.0
	PilotAmplitude    = 0.003
	pilotNyquistShare = 0.42
	watermarkPayload  = "voice-render/free"
)

// WatermarkPolicy embeds a marker in free-tier output: a low-level pilot tone
// mixed into every channel plus a RIFF chunk that records it. Pro output is
// passed through.
type WatermarkPolicy struct {
	bitDepth int
}

// NewWatermarkPolicy creates a policy that writes marked output at bitDepth.
func NewWatermarkPolicy(bitDepth int) *WatermarkPolicy {
	if bitDepth == 0 {
		bitDepth = audio.DefaultBitDepth
	}

	return &WatermarkPolicy{bitDepth: bitDepth}
}

// Required reports whether output for tier must be watermarked.
func Required(tier core.Tier) bool {
	return tier != core.TierPro
}

// Apply implements core.Watermarker. Marking an already marked asset returns
// it unchanged.
func (p *WatermarkPolicy) Apply(asset audio.Asset, tier core.Tier) (audio.Asset, error) {
	if !Required(tier) {
		return asset, nil
	}

	buffer, err := asset.Decode()
	if err != nil {
		return audio.Asset{}, fmt.Errorf("%w: cannot watermark output: %w", core.ErrDecodeFailure, err)
	}

	if buffer.HasChunk(WatermarkChunkID) {
		return asset, nil
	}

	addPilot(buffer)
	buffer.Extra = append(buffer.Extra, audio.Chunk{ID: WatermarkChunkID, Data: []byte(watermarkPayload)})

	marked, err := audio.AssetFromBuffer(buffer, p.bitDepth, asset.Label())
	if err != nil {
		return audio.Asset{}, fmt.Errorf("failed to encode watermarked output: %w", err)
	}

	return marked, nil
}

// IsWatermarked reports whether asset carries the watermark chunk.
func IsWatermarked(asset audio.Asset) bool {
	buffer, err := asset.Decode()
	if err != nil {
		return false
	}

	return buffer.HasChunk(WatermarkChunkID)
}

// PilotFrequencyFor keeps the pilot tone below Nyquist for low sample rates.
func PilotFrequencyFor(sampleRate int) float64 {
	return math.Min(PilotFrequency, pilotNyquistShare*float64(sampleRate))
}

func addPilot(buffer *audio.Buffer) {
	if buffer.Channels <= 0 || buffer.SampleRate <= 0 {
		return
	}

	step := 2 * math.Pi * PilotFrequencyFor(buffer.SampleRate) / float64(buffer.SampleRate)

	for frame := range buffer.Frames() {
		pilot := PilotAmplitude * math.Sin(step*float64(frame))

		for channel := range buffer.Channels {
			index := frame*buffer.Channels + channel
			buffer.Samples[index] = math.Max(-1, math.Min(1, buffer.Samples[index]+pilot))
		}
	}
}
