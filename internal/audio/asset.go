package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"mime"
	"strconv"
	"strings"
	"time"
)

// Canonical MIME types.
const (
	MIMEWAV = "audio/wav"
	MIMEL16 = "audio/L16"
)

const (
	defaultL16Rate     = 16000
	defaultL16Channels = 1
)

// Asset is an immutable audio payload together with its declared MIME type,
// a source label (usually the uploaded filename) and the decoded duration.
type Asset struct {
	data     []byte
	mimeType string
	label    string
	duration time.Duration
}

// NewAsset copies data, verifies that it decodes under mimeType and records
// the decoded duration. An empty mimeType is sniffed from the payload.
func NewAsset(data []byte, mimeType, label string) (Asset, error) {
	buffer, canonical, err := decode(data, mimeType)
	if err != nil {
		return Asset{}, err
	}

	owned := make([]byte, len(data))
	copy(owned, data)

	return Asset{
		data:     owned,
		mimeType: canonical,
		label:    label,
		duration: buffer.Duration(),
	}, nil
}

// AssetFromBuffer encodes buffer as a WAV asset at the given bit depth.
func AssetFromBuffer(buffer *Buffer, bitDepth int, label string) (Asset, error) {
	data, err := EncodeWAV(buffer, bitDepth)
	if err != nil {
		return Asset{}, fmt.Errorf("failed to encode wav: %w", err)
	}

	return Asset{
		data:     data,
		mimeType: MIMEWAV,
		label:    label,
		duration: buffer.Duration(),
	}, nil
}

// Bytes returns a copy of the payload.
func (a Asset) Bytes() []byte {
	out := make([]byte, len(a.data))
	copy(out, a.data)

	return out
}

// Reader returns a reader over the payload without copying it.
func (a Asset) Reader() *bytes.Reader {
	return bytes.NewReader(a.data)
}

// Size returns the payload length in bytes.
func (a Asset) Size() int64 {
	return int64(len(a.data))
}

// MIMEType returns the canonical MIME type.
func (a Asset) MIMEType() string {
	return a.mimeType
}

// Label returns the source label.
func (a Asset) Label() string {
	return a.label
}

// Duration returns the decoded playback length.
func (a Asset) Duration() time.Duration {
	return a.duration
}

// IsZero reports whether the asset holds no payload.
func (a Asset) IsZero() bool {
	return len(a.data) == 0
}

// Decode decodes the payload into samples.
func (a Asset) Decode() (*Buffer, error) {
	buffer, _, err := decode(a.data, a.mimeType)

	return buffer, err
}

// Decode decodes data declared as mimeType. WAV, audio/L16, MP3, FLAC and
// Ogg Vorbis are supported.
func Decode(data []byte, mimeType string) (*Buffer, error) {
	buffer, _, err := decode(data, mimeType)

	return buffer, err
}

// CanonicalMIME maps the accepted aliases to the canonical type, keeping L16
// parameters. It returns ErrUnsupportedFormat for anything else.
func CanonicalMIME(mimeType string) (string, error) {
	mediaType, mediaParams, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrUnsupportedFormat, mimeType, err)
	}

	switch mediaType {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return MIMEWAV, nil
	case "audio/l16":
		return mime.FormatMediaType(MIMEL16, mediaParams), nil
	case "audio/mpeg", "audio/mp3", "audio/mpeg3", "audio/x-mpeg-3":
		return MIMEMP3, nil
	case "audio/flac", "audio/x-flac":
		return MIMEFLAC, nil
	case "audio/ogg", "audio/vorbis", "audio/x-vorbis+ogg", "application/ogg":
		return MIMEOgg, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, mimeType)
	}
}

func decode(data []byte, mimeType string) (*Buffer, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyAudio
	}

	if strings.TrimSpace(mimeType) == "" {
		sniffed, ok := sniffMIME(data)
		if !ok {
			return nil, "", fmt.Errorf("%w: no MIME type and payload has no known signature", ErrUnsupportedFormat)
		}

		mimeType = sniffed
	}

	canonical, err := CanonicalMIME(mimeType)
	if err != nil {
		return nil, "", err
	}

	var buffer *Buffer

	switch canonical {
	case MIMEWAV:
		buffer, err = DecodeWAV(data)
	case MIMEMP3:
		buffer, err = decodeMP3(data)
	case MIMEFLAC:
		buffer, err = decodeFLAC(data)
	case MIMEOgg:
		buffer, err = decodeOgg(data)
	default:
		buffer, err = decodeL16(data, canonical)
	}

	if err != nil {
		return nil, "", err
	}

	return buffer, canonical, nil
}

// decodeL16 decodes raw 16-bit PCM. Per RFC 2586 samples are big-endian unless
// the type carries endianness=little-endian.
func decodeL16(data []byte, mimeType string) (*Buffer, error) {
	_, mediaParams, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}

	rate, err := intParam(mediaParams, "rate", defaultL16Rate)
	if err != nil {
		return nil, err
	}

	channels, err := intParam(mediaParams, "channels", defaultL16Channels)
	if err != nil {
		return nil, err
	}

	var order binary.ByteOrder = binary.BigEndian
	if strings.EqualFold(mediaParams["endianness"], "little-endian") {
		order = binary.LittleEndian
	}

	count := len(data) / 2
	count -= count % channels

	if count == 0 {
		return nil, fmt.Errorf("%w: l16 payload holds no complete frame", ErrEmptyAudio)
	}

	samples := make([]float64, count)
	for i := range samples {
		samples[i] = float64(int16(order.Uint16(data[i*2:]))) / 32768
	}

	return &Buffer{SampleRate: rate, Channels: channels, Samples: samples, Extra: nil}, nil
}

func intParam(mediaParams map[string]string, name string, fallback int) (int, error) {
	raw, ok := mediaParams[name]
	if !ok {
		return fallback, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%w: l16 %s=%q", ErrUnsupportedFormat, name, raw)
	}

	return value, nil
}
