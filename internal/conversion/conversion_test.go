// Package conversion_test tests the conversion engines.
package conversion_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-render/internal/audio"
	"github.com/book-expert/voice-render/internal/conversion"
	"github.com/book-expert/voice-render/internal/core"
	"github.com/book-expert/voice-render/internal/dsp"
	"github.com/book-expert/voice-render/internal/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "conversion-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func voiceAsset(t *testing.T, sampleRate, channels, frames int) audio.Asset {
	t.Helper()

	buffer := audio.NewBuffer(sampleRate, channels, frames)
	for frame := range frames {
		value := 0.3*math.Sin(2*math.Pi*180*float64(frame)/float64(sampleRate)) +
			0.1*math.Sin(2*math.Pi*2400*float64(frame)/float64(sampleRate))
		for channel := range channels {
			buffer.Samples[frame*channels+channel] = value
		}
	}

	asset, err := audio.AssetFromBuffer(buffer, audio.BitDepth16, "take.wav")
	require.NoError(t, err)

	return asset
}

func newDSPEngine(t *testing.T) *conversion.DSPEngine {
	t.Helper()

	engine, err := conversion.NewDSPEngine(audio.NewDefaultQuality(), createTestLogger(t))
	require.NoError(t, err)

	return engine
}

func TestDSPEngine_DefaultsKeepDuration(t *testing.T) {
	t.Parallel()

	out, err := newDSPEngine(t).Convert(context.Background(), voiceAsset(t, 22050, 2, 11025), params.Defaults())
	require.NoError(t, err)

	decoded, err := out.Decode()
	require.NoError(t, err)

	assert.Equal(t, audio.MIMEWAV, out.MIMEType())
	assert.Equal(t, "converted-take.wav", out.Label())
	assert.Equal(t, audio.DefaultSampleRate, decoded.SampleRate)
	assert.Equal(t, 1, decoded.Channels)
	assert.Equal(t, 500*time.Millisecond, out.Duration())
	assert.InDelta(t, 1, dsp.Peak(decoded.Samples), 1e-3, "output is peak normalised")
}

func TestDSPEngine_SpeedChangesDuration(t *testing.T) {
	t.Parallel()

	engine := newDSPEngine(t)
	input := voiceAsset(t, 44100, 1, 22050)

	slow := params.Defaults()
	slow.Speed = 0.5

	out, err := engine.Convert(context.Background(), input, slow)
	require.NoError(t, err)
	assert.Equal(t, time.Second, out.Duration())

	fast := params.Defaults()
	fast.Speed = 1.8
	fast.Pitch = 4
	fast.Morph = 25

	out, err = engine.Convert(context.Background(), input, fast)
	require.NoError(t, err)

	decoded, err := out.Decode()
	require.NoError(t, err)
	assert.Equal(t, 12250, decoded.Frames())
}

func TestDSPEngine_AllStages(t *testing.T) {
	t.Parallel()

	set := params.Set{
		Pitch: -3, Timbre: 30, Depth: -20, Speed: 1.2, Emotion: 80, Morph: -10, NoiseReduction: 70, Clarity: 90,
	}

	out, err := newDSPEngine(t).Convert(context.Background(), voiceAsset(t, 16000, 1, 8000), set)
	require.NoError(t, err)

	decoded, err := out.Decode()
	require.NoError(t, err)

	for _, sample := range decoded.Samples {
		require.False(t, math.IsNaN(sample))
		require.LessOrEqual(t, math.Abs(sample), 1.0)
	}
}

func TestDSPEngine_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newDSPEngine(t).Convert(ctx, voiceAsset(t, 44100, 1, 4410), params.Defaults())
	require.ErrorIs(t, err, core.ErrConversionFailed)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDSPEngine_RejectsBadQuality(t *testing.T) {
	t.Parallel()

	_, err := conversion.NewDSPEngine(audio.Quality{SampleRate: 44100, BitDepth: 12, Channels: 1}, createTestLogger(t))
	require.ErrorIs(t, err, audio.ErrInvalidQuality)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "model.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o700))

	return path
}

const copyScript = `
while [ $# -gt 0 ]; do
  case "$1" in
    --input) in="$2"; shift ;;
    --output) out="$2"; shift ;;
  esac
  shift
done
cp "$in" "$out"
`

func TestExecEngine_RunsBinary(t *testing.T) {
	t.Parallel()

	engine, err := conversion.NewExecEngine(writeScript(t, copyScript), "", createTestLogger(t))
	require.NoError(t, err)
	require.NoError(t, engine.Health(context.Background()))

	input := voiceAsset(t, 16000, 1, 1600)

	out, err := engine.Convert(context.Background(), input, params.Defaults())
	require.NoError(t, err)

	assert.Equal(t, input.Bytes(), out.Bytes())
	assert.Equal(t, "converted-take.wav", out.Label())
}

func TestExecEngine_TranscodesRawPCM(t *testing.T) {
	t.Parallel()

	engine, err := conversion.NewExecEngine(writeScript(t, copyScript), "model.bin", createTestLogger(t))
	require.NoError(t, err)

	input, err := audio.NewAsset([]byte{0x10, 0x00, 0x20, 0x00}, "audio/L16; rate=8000", "raw.pcm")
	require.NoError(t, err)

	out, err := engine.Convert(context.Background(), input, params.Defaults())
	require.NoError(t, err)
	assert.Equal(t, audio.MIMEWAV, out.MIMEType())
}

func TestExecEngine_Failures(t *testing.T) {
	t.Parallel()

	log := createTestLogger(t)

	_, err := conversion.NewExecEngine("", "", log)
	require.ErrorIs(t, err, conversion.ErrBinaryPathEmpty)

	crashing, err := conversion.NewExecEngine(writeScript(t, "echo 'model crashed' >&2\nexit 3\n"), "", log)
	require.NoError(t, err)

	_, err = crashing.Convert(context.Background(), voiceAsset(t, 16000, 1, 160), params.Defaults())
	require.ErrorIs(t, err, core.ErrConversionFailed)
	assert.Contains(t, err.Error(), "model crashed")

	silent, err := conversion.NewExecEngine(writeScript(t, "exit 0\n"), "", log)
	require.NoError(t, err)

	_, err = silent.Convert(context.Background(), voiceAsset(t, 16000, 1, 160), params.Defaults())
	require.ErrorIs(t, err, core.ErrConversionFailed, "an empty output file is not audio")

	slow, err := conversion.NewExecEngine(writeScript(t, "sleep 5\n"), "", log)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = slow.Convert(ctx, voiceAsset(t, 16000, 1, 160), params.Defaults())
	require.ErrorIs(t, err, core.ErrConversionFailed)

	missing, err := conversion.NewExecEngine(filepath.Join(t.TempDir(), "absent"), "", log)
	require.NoError(t, err)
	require.Error(t, missing.Health(context.Background()))
}
