// Package dsp holds the signal-processing kernels shared by the preview chain,
// the stand-in conversion engine and the watermark policy. All kernels work on
// interleaved float64 samples in [-1, 1].
package dsp

import (
	"math"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
)

// ButterworthQ is the quality factor of a second-order Butterworth section.
// Used as the shelf Q it gives shelf slope 1.
const ButterworthQ = 1 / math.Sqrt2

// Biquad is a second-order IIR section with independent state per channel.
type Biquad struct {
	coeffs   biquad.Coefficients
	sections []*biquad.Section
}

// NewLowShelf builds a low-shelf filter with shelf slope 1, matching the
// "lowshelf" node of browser audio graphs.
func NewLowShelf(sampleRate, freq, gainDB float64) *Biquad {
	return newBiquad(design.LowShelf(freq, gainDB, ButterworthQ, sampleRate))
}

// NewLowPass builds a second-order Butterworth low-pass filter.
func NewLowPass(sampleRate, cutoff float64) *Biquad {
	return newBiquad(design.Lowpass(cutoff, ButterworthQ, sampleRate))
}

// NewHighPass builds a second-order Butterworth high-pass filter.
func NewHighPass(sampleRate, cutoff float64) *Biquad {
	return newBiquad(design.Highpass(cutoff, ButterworthQ, sampleRate))
}

func newBiquad(coeffs biquad.Coefficients) *Biquad {
	return &Biquad{coeffs: coeffs, sections: nil}
}

// Process filters interleaved samples in place. State carries over between
// calls, so a stream can be fed block by block.
func (f *Biquad) Process(samples []float64, channels int) {
	if channels <= 0 {
		return
	}

	if len(f.sections) != channels {
		f.sections = make([]*biquad.Section, channels)
		for i := range f.sections {
			f.sections[i] = biquad.NewSection(f.coeffs)
		}
	}

	if channels == 1 {
		f.sections[0].ProcessBlock(samples)

		return
	}

	for i, x := range samples {
		samples[i] = f.sections[i%channels].ProcessSample(x)
	}
}

// Reset clears the filter history.
func (f *Biquad) Reset() {
	f.sections = nil
}

// MagnitudeAt returns the filter's linear gain at freq.
func (f *Biquad) MagnitudeAt(sampleRate, freq float64) float64 {
	return math.Sqrt(f.coeffs.MagnitudeSquared(freq, sampleRate))
}
