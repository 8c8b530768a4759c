// Package audio provides the immutable audio asset, decoded sample buffers,
// the WAV / L16 codecs and the MP3, FLAC and Ogg Vorbis input decoders used
// by the preview chain, the conversion engines and the watermark policy.
package audio

import (
	"errors"
	"time"
)

// Common errors for the audio package.
var (
	// ErrEmptyAudio indicates that no audio bytes were supplied.
	ErrEmptyAudio = errors.New("audio data is empty")
	// ErrUnsupportedFormat indicates a MIME type or encoding this package cannot decode.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrInvalidWAV indicates a malformed RIFF/WAVE container.
	ErrInvalidWAV = errors.New("invalid wav data")
	// ErrCorruptAudio indicates an MP3, FLAC or Ogg Vorbis stream that fails to decode.
	ErrCorruptAudio = errors.New("compressed audio cannot be decoded")
)

// Chunk is a RIFF chunk other than "fmt " and "data". Decoding keeps them so
// that markers such as the watermark tag survive a decode/encode round trip.
type Chunk struct {
	ID   string
	Data []byte
}

// Buffer holds decoded, interleaved samples normalised to [-1, 1].
type Buffer struct {
	SampleRate int
	Channels   int
	Samples    []float64
	Extra      []Chunk
}

// NewBuffer allocates a silent buffer with the given number of frames.
func NewBuffer(sampleRate, channels, frames int) *Buffer {
	return &Buffer{
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    make([]float64, frames*channels),
		Extra:      nil,
	}
}

// Frames returns the number of sample frames (samples per channel).
func (b *Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}

	return len(b.Samples) / b.Channels
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}

	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Mono returns a single-channel copy, averaging channels when needed.
func (b *Buffer) Mono() *Buffer {
	if b.Channels == 1 {
		return b.Clone()
	}

	frames := b.Frames()
	mono := NewBuffer(b.SampleRate, 1, frames)
	mono.Extra = cloneChunks(b.Extra)

	for frame := range frames {
		sum := 0.0
		for channel := range b.Channels {
			sum += b.Samples[frame*b.Channels+channel]
		}

		mono.Samples[frame] = sum / float64(b.Channels)
	}

	return mono
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	samples := make([]float64, len(b.Samples))
	copy(samples, b.Samples)

	return &Buffer{
		SampleRate: b.SampleRate,
		Channels:   b.Channels,
		Samples:    samples,
		Extra:      cloneChunks(b.Extra),
	}
}

// HasChunk reports whether an extra chunk with the given id is present.
func (b *Buffer) HasChunk(id string) bool {
	for _, chunk := range b.Extra {
		if chunk.ID == id {
			return true
		}
	}

	return false
}

func cloneChunks(chunks []Chunk) []Chunk {
	if chunks == nil {
		return nil
	}

	out := make([]Chunk, len(chunks))
	for i, chunk := range chunks {
		data := make([]byte, len(chunk.Data))
		copy(data, chunk.Data)
		out[i] = Chunk{ID: chunk.ID, Data: data}
	}

	return out
}
