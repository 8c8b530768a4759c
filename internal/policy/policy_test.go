// Package policy_test tests consent, screening and watermark policies.
package policy_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/book-expert/voice-render/internal/audio"
	"github.com/book-expert/voice-render/internal/core"
	"github.com/book-expert/voice-render/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMockScreen = errors.New("mock screen backend unavailable")

type mockScreen struct {
	shouldFail bool
}

func (m *mockScreen) Screen(_ context.Context, _ core.ScreenRequest) error {
	if m.shouldFail {
		return errMockScreen
	}

	return nil
}

func testAsset(t *testing.T, sampleRate int) audio.Asset {
	t.Helper()

	buffer := audio.NewBuffer(sampleRate, 2, sampleRate/4)
	for i := range buffer.Samples {
		buffer.Samples[i] = 0.4 * math.Sin(2*math.Pi*220*float64(i/2)/float64(sampleRate))
	}

	asset, err := audio.AssetFromBuffer(buffer, audio.BitDepth16, "converted.wav")
	require.NoError(t, err)

	return asset
}

func TestConsentGate(t *testing.T) {
	t.Parallel()

	gate := policy.ConsentGate{}

	assert.Equal(t, policy.Allow, gate.Check(true))
	assert.Equal(t, policy.Deny, gate.Check(false))
	assert.Equal(t, "deny", gate.Check(false).String())

	require.NoError(t, gate.Require(true))
	require.ErrorIs(t, gate.Require(false), core.ErrConsentDenied)
}

func TestWatermark_FreeTierIsMarked(t *testing.T) {
	t.Parallel()

	original := testAsset(t, 44100)
	watermarker := policy.NewWatermarkPolicy(audio.BitDepth16)

	marked, err := watermarker.Apply(original, core.TierFree)
	require.NoError(t, err)

	assert.True(t, policy.IsWatermarked(marked))
	assert.False(t, policy.IsWatermarked(original))
	assert.Equal(t, original.Duration(), marked.Duration())
	assert.Equal(t, "converted.wav", marked.Label())

	before, err := original.Decode()
	require.NoError(t, err)
	after, err := marked.Decode()
	require.NoError(t, err)
	require.Len(t, after.Samples, len(before.Samples))

	for i := range before.Samples {
		require.InDelta(t, before.Samples[i], after.Samples[i], policy.PilotAmplitude+2.0/32767)
	}
}

func TestWatermark_Idempotent(t *testing.T) {
	t.Parallel()

	watermarker := policy.NewWatermarkPolicy(0)

	once, err := watermarker.Apply(testAsset(t, 22050), core.TierFree)
	require.NoError(t, err)

	twice, err := watermarker.Apply(once, core.TierFree)
	require.NoError(t, err)

	assert.Equal(t, once.Bytes(), twice.Bytes())
	assert.Equal(t, policy.IsWatermarked(once), policy.IsWatermarked(twice))
	assert.True(t, policy.Required(core.TierFree))
}

func TestWatermark_ProTierUnchanged(t *testing.T) {
	t.Parallel()

	original := testAsset(t, 44100)

	out, err := policy.NewWatermarkPolicy(audio.BitDepth16).Apply(original, core.TierPro)
	require.NoError(t, err)

	assert.Equal(t, original.Bytes(), out.Bytes())
	assert.False(t, policy.IsWatermarked(out))
	assert.False(t, policy.Required(core.TierPro))
}

func TestWatermark_UndecodableOutput(t *testing.T) {
	t.Parallel()

	_, err := policy.NewWatermarkPolicy(audio.BitDepth16).Apply(audio.Asset{}, core.TierFree)
	require.ErrorIs(t, err, core.ErrDecodeFailure)
	assert.False(t, policy.IsWatermarked(audio.Asset{}))
}

func TestPilotFrequencyStaysBelowNyquist(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, policy.PilotFrequency, policy.PilotFrequencyFor(48000), 1e-9)
	assert.InDelta(t, 3360, policy.PilotFrequencyFor(8000), 1e-9)
}

func TestDenylistScreen(t *testing.T) {
	t.Parallel()

	screen := policy.NewDenylistScreen([]string{" Famous Singer ", "", "head of state"})
	ctx := context.Background()

	require.NoError(t, screen.Screen(ctx, core.ScreenRequest{TargetIdentity: "my own voice"}))
	require.NoError(t, screen.Screen(ctx, core.ScreenRequest{}))
	require.ErrorIs(t, screen.Screen(ctx, core.ScreenRequest{TargetIdentity: "famous singer"}), core.ErrBlockedContent)
	require.ErrorIs(t, screen.Screen(ctx, core.ScreenRequest{TargetIdentity: "HEAD OF STATE"}), core.ErrBlockedContent)
}

func TestEvaluate_RejectsWhenScreenCannotRun(t *testing.T) {
	t.Parallel()

	request := core.ScreenRequest{TargetIdentity: "anyone"}

	err := policy.Evaluate(context.Background(), &mockScreen{shouldFail: true}, request)
	require.ErrorIs(t, err, core.ErrBlockedContent)
	require.ErrorIs(t, err, errMockScreen)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	err = policy.Evaluate(cancelled, policy.NewDenylistScreen(nil), request)
	require.ErrorIs(t, err, core.ErrBlockedContent)

	require.NoError(t, policy.Evaluate(context.Background(), &mockScreen{shouldFail: false}, request))

	err = policy.Evaluate(context.Background(), nil, request)
	require.ErrorIs(t, err, core.ErrBlockedContent)
}
