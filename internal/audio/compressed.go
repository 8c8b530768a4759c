package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	mp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	"github.com/mewkiz/flac"
)

// Canonical MIME types of the compressed formats accepted as input. They
// are decoded only; rendered output is always WAV.
const (
	MIMEMP3  = "audio/mpeg"
	MIMEFLAC = "audio/flac"
	MIMEOgg  = "audio/ogg"
)

const (
	// go-mp3 always yields interleaved 16-bit little-endian stereo.
	mp3Channels      = 2
	mp3BytesPerFrame = mp3Channels * 2
	// maxPrealloc bounds the sample slice sized from a FLAC header.
	maxPrealloc = 1 << 24
)

// sniffMIME guesses the container from its magic bytes.
func sniffMIME(data []byte) (string, bool) {
	switch {
	case bytes.HasPrefix(data, []byte("RIFF")):
		return MIMEWAV, true
	case bytes.HasPrefix(data, []byte("fLaC")):
		return MIMEFLAC, true
	case bytes.HasPrefix(data, []byte("OggS")):
		return MIMEOgg, true
	case bytes.HasPrefix(data, []byte("ID3")):
		return MIMEMP3, true
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return MIMEMP3, true
	default:
		return "", false
	}
}

func decodeMP3(data []byte) (*Buffer, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: mp3: %w", ErrCorruptAudio, err)
	}

	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("%w: mp3: %w", ErrCorruptAudio, err)
	}

	frames := len(pcm) / mp3BytesPerFrame
	if frames == 0 {
		return nil, fmt.Errorf("%w: mp3 stream holds no samples", ErrEmptyAudio)
	}

	samples := make([]float64, frames*mp3Channels)
	for i := range samples {
		samples[i] = float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}

	return &Buffer{SampleRate: decoder.SampleRate(), Channels: mp3Channels, Samples: samples, Extra: nil}, nil
}

func decodeFLAC(data []byte) (*Buffer, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: flac: %w", ErrCorruptAudio, err)
	}

	info := stream.Info
	channels := int(info.NChannels)

	if info.SampleRate == 0 || channels == 0 {
		return nil, fmt.Errorf("%w: flac stream info has no rate or channels", ErrCorruptAudio)
	}

	samples := make([]float64, 0, min(int(info.NSamples)*channels, maxPrealloc))

	for {
		frame, frameErr := stream.ParseNext()
		if errors.Is(frameErr, io.EOF) {
			break
		}

		if frameErr != nil {
			return nil, fmt.Errorf("%w: flac: %w", ErrCorruptAudio, frameErr)
		}

		if len(frame.Subframes) != channels {
			return nil, fmt.Errorf("%w: flac frame has %d channels, stream has %d",
				ErrCorruptAudio, len(frame.Subframes), channels)
		}

		depth := frame.BitsPerSample
		if depth == 0 {
			depth = info.BitsPerSample
		}

		if depth == 0 {
			return nil, fmt.Errorf("%w: flac frame has no bit depth", ErrCorruptAudio)
		}

		scale := float64(int64(1) << (depth - 1))
		blockSize := int(frame.BlockSize)

		for _, subframe := range frame.Subframes {
			if len(subframe.Samples) < blockSize {
				return nil, fmt.Errorf("%w: flac subframe is short", ErrCorruptAudio)
			}
		}

		for i := range blockSize {
			for _, subframe := range frame.Subframes {
				samples = append(samples, float64(subframe.Samples[i])/scale)
			}
		}
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: flac stream holds no samples", ErrEmptyAudio)
	}

	return &Buffer{SampleRate: int(info.SampleRate), Channels: channels, Samples: samples, Extra: nil}, nil
}

func decodeOgg(data []byte) (*Buffer, error) {
	pcm, format, err := oggvorbis.ReadAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: ogg vorbis: %w", ErrCorruptAudio, err)
	}

	if format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: ogg vorbis header has no rate or channels", ErrCorruptAudio)
	}

	frames := len(pcm) / format.Channels
	if frames == 0 {
		return nil, fmt.Errorf("%w: ogg vorbis stream holds no samples", ErrEmptyAudio)
	}

	samples := make([]float64, frames*format.Channels)
	for i := range samples {
		samples[i] = float64(pcm[i])
	}

	return &Buffer{SampleRate: format.SampleRate, Channels: format.Channels, Samples: samples, Extra: nil}, nil
}
