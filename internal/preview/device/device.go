// Package device plays preview audio on the default output device through
// PortAudio. Building it needs the PortAudio headers (portaudio-2.0 via
// pkg-config).
package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// DefaultFramesPerBuffer is the block size handed to the device per write.
const DefaultFramesPerBuffer = 1024

// ErrNotOpen indicates a write before Open or after Close.
var ErrNotOpen = errors.New("device output is not open")

// Stream is a started-on-demand blocking output stream. Each Write plays the
// buffer that was registered when the stream was opened.
type Stream interface {
	Start() error
	Write() error
	Stop() error
	Close() error
}

// Opener opens a blocking output stream bound to buffer.
type Opener func(sampleRate float64, channels, framesPerBuffer int, buffer *[]float32) (Stream, error)

// Output implements preview.Output on top of a blocking device stream.
type Output struct {
	open            Opener
	framesPerBuffer int
	buffer          []float32
	fill            int
	stream          Stream
}

// New returns an output bound to the system's default device.
func New() *Output {
	return NewWithOpener(OpenDefault, DefaultFramesPerBuffer)
}

// NewWithOpener returns an output that opens its stream through open.
func NewWithOpener(open Opener, framesPerBuffer int) *Output {
	if framesPerBuffer <= 0 {
		framesPerBuffer = DefaultFramesPerBuffer
	}

	return &Output{
		open:            open,
		framesPerBuffer: framesPerBuffer,
		buffer:          nil,
		fill:            0,
		stream:          nil,
	}
}

// Open implements preview.Output: it opens and starts the device stream.
func (o *Output) Open(sampleRate, channels int) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("invalid device format: %d Hz, %d channels", sampleRate, channels)
	}

	o.buffer = make([]float32, o.framesPerBuffer*channels)
	o.fill = 0

	stream, err := o.open(float64(sampleRate), channels, o.framesPerBuffer, &o.buffer)
	if err != nil {
		return fmt.Errorf("failed to open output device: %w", err)
	}

	err = stream.Start()
	if err != nil {
		closeErr := stream.Close()

		return errors.Join(fmt.Errorf("failed to start output device: %w", err), closeErr)
	}

	o.stream = stream

	return nil
}

// Write implements preview.Output. It blocks while the device drains each
// full buffer, which paces the preview at playback speed.
func (o *Output) Write(ctx context.Context, samples []float64) error {
	if o.stream == nil {
		return ErrNotOpen
	}

	for _, sample := range samples {
		o.buffer[o.fill] = float32(sample)
		o.fill++

		if o.fill < len(o.buffer) {
			continue
		}

		err := ctx.Err()
		if err != nil {
			o.fill = 0

			return fmt.Errorf("device output: %w", err)
		}

		err = o.flush()
		if err != nil {
			return err
		}
	}

	return nil
}

// Close plays any partial buffer padded with silence, then stops and closes
// the stream.
func (o *Output) Close() error {
	if o.stream == nil {
		return nil
	}

	var flushErr error
	if o.fill > 0 {
		clear(o.buffer[o.fill:])
		flushErr = o.flush()
	}

	stopErr := o.stream.Stop()
	closeErr := o.stream.Close()
	o.stream = nil

	return errors.Join(flushErr, stopErr, closeErr)
}

func (o *Output) flush() error {
	o.fill = 0

	err := o.stream.Write()
	if err != nil {
		return fmt.Errorf("failed to write to output device: %w", err)
	}

	return nil
}

// OpenDefault opens the default PortAudio output device. PortAudio is
// initialised per stream and terminated when the stream closes.
func OpenDefault(sampleRate float64, channels, framesPerBuffer int, buffer *[]float32) (Stream, error) {
	err := portaudio.Initialize()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise portaudio: %w", err)
	}

	stream, err := portaudio.OpenDefaultStream(0, channels, sampleRate, framesPerBuffer, buffer)
	if err != nil {
		termErr := portaudio.Terminate()

		return nil, errors.Join(err, termErr)
	}

	return &portaudioStream{Stream: stream}, nil
}

type portaudioStream struct {
	*portaudio.Stream
}

func (s *portaudioStream) Close() error {
	closeErr := s.Stream.Close()
	termErr := portaudio.Terminate()

	return errors.Join(closeErr, termErr)
}
