package conversion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-render/internal/audio"
	"github.com/book-expert/voice-render/internal/core"
	"github.com/book-expert/voice-render/internal/params"
)

// ErrBinaryPathEmpty indicates that no model binary was configured.
var ErrBinaryPathEmpty = errors.New("model binary path cannot be empty")

// ExecEngine implements core.ConversionEngine by running an external model
// binary that reads a WAV file and writes a WAV file.
type ExecEngine struct {
	binaryPath string
	modelPath  string
	log        *logger.Logger
}

// NewExecEngine creates an engine around binaryPath. modelPath is passed
// through when set.
func NewExecEngine(binaryPath, modelPath string, log *logger.Logger) (*ExecEngine, error) {
	if binaryPath == "" {
		return nil, ErrBinaryPathEmpty
	}

	return &ExecEngine{binaryPath: binaryPath, modelPath: modelPath, log: log}, nil
}

// Convert writes the input to a temp file, runs the binary and reads its
// output. The process is killed when ctx ends.
func (e *ExecEngine) Convert(ctx context.Context, input audio.Asset, parameters params.Set) (audio.Asset, error) {
	inputPath, err := e.writeInput(input)
	if err != nil {
		return audio.Asset{}, err
	}
	defer e.remove(inputPath)

	outputFile, err := os.CreateTemp("", "voice-render-output-*.wav")
	if err != nil {
		return audio.Asset{}, fmt.Errorf("failed to create temp file for model output: %w", err)
	}

	outputPath := outputFile.Name()
	defer e.remove(outputPath)

	closeErr := outputFile.Close()
	if closeErr != nil {
		return audio.Asset{}, fmt.Errorf("failed to close temp output file: %w", closeErr)
	}

	// #nosec G204 -- the binary comes from service configuration and every argument is a path or a formatted number
	cmd := exec.CommandContext(ctx, e.binaryPath, e.args(inputPath, outputPath, parameters.Normalize())...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return audio.Asset{}, fmt.Errorf("%w: model binary execution failed: %w - output: %s",
			core.ErrConversionFailed, err, string(output))
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return audio.Asset{}, fmt.Errorf("%w: failed to read model output: %w", core.ErrConversionFailed, err)
	}

	asset, err := audio.NewAsset(data, audio.MIMEWAV, outputLabelPrefix+input.Label())
	if err != nil {
		return audio.Asset{}, fmt.Errorf("%w: model produced unusable audio: %w", core.ErrConversionFailed, err)
	}

	return asset, nil
}

// writeInput stores the input as WAV, transcoding raw PCM and compressed
// formats so the binary only ever sees one container format.
func (e *ExecEngine) writeInput(input audio.Asset) (string, error) {
	data := input.Bytes()

	if input.MIMEType() != audio.MIMEWAV {
		buffer, err := input.Decode()
		if err != nil {
			return "", fmt.Errorf("%w: cannot decode input: %w", core.ErrConversionFailed, err)
		}

		data, err = audio.EncodeWAV(buffer, audio.BitDepth16)
		if err != nil {
			return "", fmt.Errorf("%w: cannot transcode input: %w", core.ErrConversionFailed, err)
		}
	}

	inputFile, err := os.CreateTemp("", "voice-render-input-*.wav")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file for model input: %w", err)
	}

	_, writeErr := inputFile.Write(data)
	closeErr := inputFile.Close()

	if writeErr != nil || closeErr != nil {
		e.remove(inputFile.Name())

		return "", fmt.Errorf("failed to write model input: %w", errors.Join(writeErr, closeErr))
	}

	return inputFile.Name(), nil
}

func (e *ExecEngine) args(inputPath, outputPath string, p params.Set) []string {
	args := []string{"--input", inputPath, "--output", outputPath}

	if e.modelPath != "" {
		args = append(args, "--model", e.modelPath)
	}

	format := func(value float64) string {
		return strconv.FormatFloat(value, 'f', 2, 64)
	}

	return append(args,
		"--pitch", format(p.Pitch),
		"--timbre", format(p.Timbre),
		"--depth", format(p.Depth),
		"--speed", format(p.Speed),
		"--emotion", format(p.Emotion),
		"--morph", format(p.Morph),
		"--noise-reduction", format(p.NoiseReduction),
		"--clarity", format(p.Clarity),
	)
}

func (e *ExecEngine) remove(path string) {
	removeErr := os.Remove(path)
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		e.log.Warn("Failed to remove temp file '%s': %v", path, removeErr)
	}
}

// Health checks that the binary can be found and executed.
func (e *ExecEngine) Health(context.Context) error {
	_, err := exec.LookPath(e.binaryPath)
	if err != nil {
		return fmt.Errorf("model binary unavailable: %w", err)
	}

	return nil
}
