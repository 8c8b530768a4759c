package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE

	riffHeaderSize  = 12
	chunkHeaderSize = 8
	fmtChunkSize    = 16
)

// DecodeWAV parses a RIFF/WAVE container holding integer PCM (8/16/24/32-bit)
// or IEEE float (32/64-bit) samples.
func DecodeWAV(data []byte) (*Buffer, error) {
	if len(data) < riffHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than a RIFF header", ErrInvalidWAV, len(data))
	}

	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE signature", ErrInvalidWAV)
	}

	var (
		spec     wavSpec
		haveFmt  bool
		pcm      []byte
		haveData bool
		extra    []Chunk
	)

	offset := riffHeaderSize
	for offset+chunkHeaderSize <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		start := offset + chunkHeaderSize

		end := start + size
		if end > len(data) {
			// Streaming writers leave the size unset; take what is there.
			end = len(data)
		}

		body := data[start:end]

		switch id {
		case "fmt ":
			parsed, err := parseFmtChunk(body)
			if err != nil {
				return nil, err
			}

			spec = parsed
			haveFmt = true
		case "data":
			pcm = body
			haveData = true
		default:
			chunk := make([]byte, len(body))
			copy(chunk, body)
			extra = append(extra, Chunk{ID: id, Data: chunk})
		}

		offset = end + (end-start)%2
	}

	if !haveFmt {
		return nil, fmt.Errorf("%w: no fmt chunk", ErrInvalidWAV)
	}

	if !haveData {
		return nil, fmt.Errorf("%w: no data chunk", ErrInvalidWAV)
	}

	samples, err := spec.decodeSamples(pcm)
	if err != nil {
		return nil, err
	}

	return &Buffer{
		SampleRate: spec.sampleRate,
		Channels:   spec.channels,
		Samples:    samples,
		Extra:      extra,
	}, nil
}

// EncodeWAV writes the buffer as integer PCM at the given bit depth. Extra
// chunks are written between the fmt and data chunks.
func EncodeWAV(buffer *Buffer, bitDepth int) ([]byte, error) {
	if buffer.Channels <= 0 || buffer.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: %d channels at %d Hz", ErrInvalidWAV, buffer.Channels, buffer.SampleRate)
	}

	bytesPerSample, err := bytesForDepth(bitDepth)
	if err != nil {
		return nil, err
	}

	dataSize := len(buffer.Samples) * bytesPerSample
	extraSize := 0

	for _, chunk := range buffer.Extra {
		extraSize += chunkHeaderSize + len(chunk.Data) + len(chunk.Data)%2
	}

	riffSize := 4 + chunkHeaderSize + fmtChunkSize + extraSize + chunkHeaderSize + dataSize

	out := bytes.NewBuffer(make([]byte, 0, riffSize+chunkHeaderSize))
	out.WriteString("RIFF")
	writeUint32(out, uint32(riffSize))
	out.WriteString("WAVE")

	blockAlign := buffer.Channels * bytesPerSample
	out.WriteString("fmt ")
	writeUint32(out, fmtChunkSize)
	writeUint16(out, wavFormatPCM)
	writeUint16(out, uint16(buffer.Channels))
	writeUint32(out, uint32(buffer.SampleRate))
	writeUint32(out, uint32(buffer.SampleRate*blockAlign))
	writeUint16(out, uint16(blockAlign))
	writeUint16(out, uint16(bitDepth))

	for _, chunk := range buffer.Extra {
		out.WriteString(chunkID(chunk.ID))
		writeUint32(out, uint32(len(chunk.Data)))
		out.Write(chunk.Data)

		if len(chunk.Data)%2 == 1 {
			out.WriteByte(0)
		}
	}

	out.WriteString("data")
	writeUint32(out, uint32(dataSize))

	frame := make([]byte, 4)
	for _, sample := range buffer.Samples {
		encodeSample(frame, sample, bitDepth)
		out.Write(frame[:bytesPerSample])
	}

	return out.Bytes(), nil
}

type wavSpec struct {
	format     int
	channels   int
	sampleRate int
	bitDepth   int
}

func parseFmtChunk(body []byte) (wavSpec, error) {
	if len(body) < fmtChunkSize {
		return wavSpec{}, fmt.Errorf("%w: fmt chunk is %d bytes", ErrInvalidWAV, len(body))
	}

	spec := wavSpec{
		format:     int(binary.LittleEndian.Uint16(body[0:2])),
		channels:   int(binary.LittleEndian.Uint16(body[2:4])),
		sampleRate: int(binary.LittleEndian.Uint32(body[4:8])),
		bitDepth:   int(binary.LittleEndian.Uint16(body[14:16])),
	}

	// WAVE_FORMAT_EXTENSIBLE carries the real format code in the sub-format GUID.
	if spec.format == wavFormatExtensible && len(body) >= 26 {
		spec.format = int(binary.LittleEndian.Uint16(body[24:26]))
	}

	if spec.channels <= 0 || spec.sampleRate <= 0 {
		return wavSpec{}, fmt.Errorf("%w: %d channels at %d Hz", ErrInvalidWAV, spec.channels, spec.sampleRate)
	}

	return spec, nil
}

func (s wavSpec) decodeSamples(pcm []byte) ([]float64, error) {
	switch {
	case s.format == wavFormatPCM:
		bytesPerSample, err := bytesForDepth(s.bitDepth)
		if err != nil {
			return nil, err
		}

		count := len(pcm) / bytesPerSample
		count -= count % s.channels
		samples := make([]float64, count)

		for i := range samples {
			samples[i] = decodeSample(pcm[i*bytesPerSample:], s.bitDepth)
		}

		return samples, nil
	case s.format == wavFormatFloat && s.bitDepth == 32:
		count := len(pcm) / 4
		count -= count % s.channels
		samples := make([]float64, count)

		for i := range samples {
			samples[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(pcm[i*4:])))
		}

		return samples, nil
	case s.format == wavFormatFloat && s.bitDepth == 64:
		count := len(pcm) / 8
		count -= count % s.channels
		samples := make([]float64, count)

		for i := range samples {
			samples[i] = math.Float64frombits(binary.LittleEndian.Uint64(pcm[i*8:]))
		}

		return samples, nil
	default:
		return nil, fmt.Errorf("%w: wav format %d at %d bits", ErrUnsupportedFormat, s.format, s.bitDepth)
	}
}

func bytesForDepth(bitDepth int) (int, error) {
	switch bitDepth {
	case BitDepth8, BitDepth16, BitDepth24, BitDepth32:
		return bitDepth / 8, nil
	default:
		return 0, fmt.Errorf("%w: %d-bit pcm", ErrUnsupportedFormat, bitDepth)
	}
}

func decodeSample(b []byte, bitDepth int) float64 {
	switch bitDepth {
	case BitDepth8:
		return (float64(b[0]) - 128) / 128
	case BitDepth16:
		return float64(int16(binary.LittleEndian.Uint16(b))) / 32768
	case BitDepth24:
		value := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		if value&0x800000 != 0 {
			value -= 1 << 24
		}

		return float64(value) / 8388608
	default:
		return float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648
	}
}

func encodeSample(b []byte, sample float64, bitDepth int) {
	sample = math.Max(-1, math.Min(1, sample))

	switch bitDepth {
	case BitDepth8:
		b[0] = byte(math.Round(sample*127) + 128)
	case BitDepth16:
		binary.LittleEndian.PutUint16(b, uint16(int16(math.Round(sample*32767))))
	case BitDepth24:
		value := int32(math.Round(sample * 8388607))
		b[0] = byte(value)
		b[1] = byte(value >> 8)
		b[2] = byte(value >> 16)
	default:
		binary.LittleEndian.PutUint32(b, uint32(int32(math.Round(sample*2147483647))))
	}
}

func chunkID(id string) string {
	padded := id + "    "

	return padded[:4]
}

func writeUint16(out *bytes.Buffer, value uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], value)
	out.Write(b[:])
}

func writeUint32(out *bytes.Buffer, value uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], value)
	out.Write(b[:])
}
