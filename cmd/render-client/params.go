package main

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/book-expert/voice-render/internal/audio"
	"github.com/book-expert/voice-render/internal/params"
	"github.com/spf13/pflag"
)

// Parameter flag names. They match the JSON names of params.Raw.
const (
	flagPitch          = "pitch"
	flagTimbre         = "timbre"
	flagDepth          = "depth"
	flagSpeed          = "speed"
	flagEmotion        = "emotion"
	flagMorph          = "morph"
	flagNoiseReduction = "noise-reduction"
	flagClarity        = "clarity"
)

type parameterFlags struct {
	values map[string]*float64
}

func addParameterFlags(flags *pflag.FlagSet) *parameterFlags {
	defaults := params.Defaults()
	entries := []struct {
		name  string
		value float64
		usage string
	}{
		{flagPitch, defaults.Pitch, "pitch shift in semitones [-12, 12]"},
		{flagTimbre, defaults.Timbre, "timbre offset [-50, 50]"},
		{flagDepth, defaults.Depth, "depth offset [-30, 30]"},
		{flagSpeed, defaults.Speed, "speed multiplier [0.5, 1.8]"},
		{flagEmotion, defaults.Emotion, "emotion intensity percent [0, 100]"},
		{flagMorph, defaults.Morph, "male to female morph [-50, 50]"},
		{flagNoiseReduction, defaults.NoiseReduction, "noise reduction percent [0, 100]"},
		{flagClarity, defaults.Clarity, "clarity percent [0, 100]"},
	}

	parsed := &parameterFlags{values: make(map[string]*float64, len(entries))}

	for _, entry := range entries {
		parsed.values[entry.name] = flags.Float64(entry.name, entry.value, entry.usage)
	}

	return parsed
}

// raw returns only the parameters set on the command line, so the service
// applies its own defaults to the rest.
func (p *parameterFlags) raw(flags *pflag.FlagSet) params.Raw {
	pick := func(name string) *float64 {
		if !flags.Changed(name) {
			return nil
		}

		return params.Float(*p.values[name])
	}

	return params.Raw{
		Pitch:          pick(flagPitch),
		Timbre:         pick(flagTimbre),
		Depth:          pick(flagDepth),
		Speed:          pick(flagSpeed),
		Emotion:        pick(flagEmotion),
		Morph:          pick(flagMorph),
		NoiseReduction: pick(flagNoiseReduction),
		Clarity:        pick(flagClarity),
	}
}

// mimeForPath guesses the MIME type of an audio file from its extension.
// An empty result lets the service sniff the payload.
func mimeForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".wav", ".wave":
		return audio.MIMEWAV
	case ".l16", ".pcm":
		return audio.MIMEL16
	case ".mp3":
		return audio.MIMEMP3
	case ".flac":
		return audio.MIMEFLAC
	case ".ogg", ".oga":
		return audio.MIMEOgg
	}

	guessed := mime.TypeByExtension(ext)
	if canonical, err := audio.CanonicalMIME(guessed); err == nil {
		return canonical
	}

	return ""
}
