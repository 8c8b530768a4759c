package main

import (
	"context"
	"fmt"
	"os"

	"github.com/book-expert/voice-render/internal/audio"
	"github.com/book-expert/voice-render/internal/config"
	"github.com/book-expert/voice-render/internal/params"
	"github.com/book-expert/voice-render/internal/preview"
	"github.com/book-expert/voice-render/internal/preview/device"
	"github.com/spf13/cobra"
)

// previewFlags select where the local preview is played.
type previewFlags struct {
	output   string
	path     string
	realtime bool
	bitDepth int
}

func (p previewFlags) factory() (preview.OutputFactory, string, error) {
	var (
		build       preview.OutputFactory
		destination string
	)

	switch p.output {
	case config.PreviewOutputDevice:
		return func() (preview.Output, error) { return device.New(), nil }, "default output device", nil
	case config.PreviewOutputWAV:
		build = func() (preview.Output, error) { return preview.NewWAVFileOutput(p.path, p.bitDepth), nil }
		destination = p.path
	case config.PreviewOutputNull:
		build = func() (preview.Output, error) { return preview.DiscardOutput{}, nil }
		destination = "discarded"
	default:
		return nil, "", fmt.Errorf("%w: preview output %q", config.ErrUnknownBackend, p.output)
	}

	if !p.realtime {
		return build, destination, nil
	}

	return func() (preview.Output, error) {
		inner, err := build()
		if err != nil {
			return nil, err
		}

		return preview.NewRealtimeOutput(inner), nil
	}, destination + " (real time)", nil
}

func newPreviewCommand(flags *globalFlags) *cobra.Command {
	outputFlags := previewFlags{}

	var mimeType string

	cmd := &cobra.Command{
		Use:   "preview FILE",
		Short: "Render a fast local preview of a parameter set",
		Long: `Render a fast local preview of a parameter set.

The preview plays on the default output device. Use --output wav or
--output null on machines without one.

The preview applies speed, pitch (as detune), depth (as a low shelf) and
clarity (as output gain). Timbre, emotion, morph and noise reduction are
only applied by a full render.

Example:
  render-client preview take-1.wav --pitch 12 --depth 10 --clarity 80
  render-client preview take-1.wav --output wav --path preview.wav`,
		Args: cobra.ExactArgs(1),
	}

	parameters := addParameterFlags(cmd.Flags())
	cmd.Flags().StringVar(&outputFlags.output, "output", config.PreviewOutputDevice, "preview output: device, wav or null")
	cmd.Flags().StringVar(&outputFlags.path, "path", config.DefaultPreviewPath, "WAV file for the wav output")
	cmd.Flags().BoolVar(&outputFlags.realtime, "realtime", false, "pace wav or null output at playback speed")
	cmd.Flags().IntVar(&outputFlags.bitDepth, "bit-depth", audio.BitDepth16, "bit depth of the WAV output")
	cmd.Flags().StringVar(&mimeType, "mime", "", "MIME type (guessed from the extension when empty)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		path := args[0]

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		if mimeType == "" {
			mimeType = mimeForPath(path)
		}

		factory, destination, err := outputFlags.factory()
		if err != nil {
			return err
		}

		log, err := openLogger(flags)
		if err != nil {
			return err
		}
		defer func() { _ = log.Close() }()

		chain, err := playPreview(cmd.Context(), preview.NewSession(factory, log), data, mimeType,
			params.Normalize(parameters.raw(cmd.Flags())))
		if err != nil {
			log.Error("Preview of %s failed: %v", path, err)

			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), renderChain(chain, destination))

		return nil
	}

	return cmd
}

// playPreview starts a preview and blocks until it has been fully played.
func playPreview(
	ctx context.Context,
	session *preview.Session,
	data []byte,
	mimeType string,
	parameters params.Set,
) (preview.Chain, error) {
	playback, err := session.Preview(ctx, data, mimeType, parameters)
	if err != nil {
		return preview.Chain{}, err
	}

	select {
	case <-playback.Done():
	case <-ctx.Done():
		session.Stop()
	}

	playErr := playback.Err()
	if playErr != nil {
		return playback.Chain(), fmt.Errorf("preview playback: %w", playErr)
	}

	return playback.Chain(), nil
}
