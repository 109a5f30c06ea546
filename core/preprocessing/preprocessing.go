// Package preprocessing conditions captured microphone audio before it is
// sent upstream: a high-pass filter against low frequency rumble, a noise
// gate, automatic gain control, and an optional spectral denoise stage.
package preprocessing

import (
	"log"
	"math"

	"github.com/koscakluka/aura-core/core/audio"
)

const (
	DefaultHighPassCutoff = 80.0

	DefaultNoiseGateThreshold   = 0.008
	DefaultNoiseGateAttenuation = 0.01

	DefaultAGCTargetRMS = 0.15
	DefaultAGCMaxGain   = 10.0
	DefaultAGCSmoothing = 0.95
)

// Denoiser reduces stationary noise in a chunk of normalized samples. An
// error from Denoise permanently disables the stage for the session.
type Denoiser interface {
	Denoise(samples []float64, sampleRate int) ([]float64, error)
}

// Preprocessor runs the conditioning pipeline over consecutive audio chunks.
// It is stateful: filter registers and the applied gain carry across chunks,
// so feed it one session's audio in order and make a fresh one per session.
type Preprocessor struct {
	sampleRate int

	filter *biquad

	gateThreshold   float64
	gateAttenuation float64

	agcTarget    float64
	agcMaxGain   float64
	agcSmoothing float64
	gain         float64

	denoiser        Denoiser
	denoiseDisabled bool
}

type Option func(*Preprocessor)

func WithHighPassCutoff(hz float64) Option {
	return func(p *Preprocessor) { p.filter = newHighPass(hz, p.sampleRate) }
}

func WithNoiseGate(threshold, attenuation float64) Option {
	return func(p *Preprocessor) {
		p.gateThreshold = threshold
		p.gateAttenuation = attenuation
	}
}

func WithAGC(targetRMS, maxGain, smoothing float64) Option {
	return func(p *Preprocessor) {
		p.agcTarget = targetRMS
		p.agcMaxGain = maxGain
		p.agcSmoothing = smoothing
	}
}

func WithDenoiser(d Denoiser) Option {
	return func(p *Preprocessor) { p.denoiser = d }
}

func New(sampleRate int, opts ...Option) *Preprocessor {
	p := &Preprocessor{
		sampleRate:      sampleRate,
		gateThreshold:   DefaultNoiseGateThreshold,
		gateAttenuation: DefaultNoiseGateAttenuation,
		agcTarget:       DefaultAGCTargetRMS,
		agcMaxGain:      DefaultAGCMaxGain,
		agcSmoothing:    DefaultAGCSmoothing,
		gain:            1.0,
	}
	p.filter = newHighPass(DefaultHighPassCutoff, sampleRate)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process conditions one linear16 chunk and returns a chunk of the same
// length and format.
func (p *Preprocessor) Process(chunk []byte) []byte {
	samples := audio.Samples(chunk)
	if len(samples) == 0 {
		return chunk
	}

	samples = p.filter.apply(samples)
	samples = p.gate(samples)
	samples = p.agc(samples)
	samples = p.denoise(samples)

	return audio.Bytes(samples)
}

// Gain reports the currently applied AGC gain.
func (p *Preprocessor) Gain() float64 {
	return p.gain
}

func (p *Preprocessor) denoise(samples []float64) []float64 {
	if p.denoiser == nil || p.denoiseDisabled {
		return samples
	}

	out, err := p.denoiser.Denoise(samples, p.sampleRate)
	if err != nil {
		log.Printf("Disabling denoise stage after failure: %v", err)
		p.denoiseDisabled = true
		return samples
	}
	return out
}

func (p *Preprocessor) gate(samples []float64) []float64 {
	if rms(samples) >= p.gateThreshold {
		return samples
	}
	for i := range samples {
		samples[i] *= p.gateAttenuation
	}
	return samples
}

func (p *Preprocessor) agc(samples []float64) []float64 {
	level := rms(samples)
	if level > 0 {
		desired := p.agcTarget / level
		if desired > p.agcMaxGain {
			desired = p.agcMaxGain
		}
		p.gain = p.agcSmoothing*p.gain + (1-p.agcSmoothing)*desired
	}

	for i := range samples {
		v := samples[i] * p.gain
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		samples[i] = v
	}
	return samples
}

func rms(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}
