// Package filter implements the per-deck three-band cut-only EQ.
//
// The signal is split into three bands with one-pole IIR filters - a
// low-pass at 200 Hz and a high-pass at 2000 Hz, with the mid band taken as
// the residual - and recombined through three independent gain controls in
// [0,1]. There is no boost mode: 1.0 passes a band unchanged, 0.0 removes it
// entirely. Gain changes are smoothed over a short envelope to avoid zipper
// noise when the mixer automates EQ quickly.
package filter

import "math"

// Band identifies one of the three EQ bands.
type Band int

const (
	Low Band = iota
	Mid
	High
	numBands
)

const (
	lowCutoffHz  = 200.0
	highCutoffHz = 2000.0

	// defaultSmoothMs is the gain-ramp duration SetGain uses for every
	// change.
	defaultSmoothMs = 50.0

	numChannels = 2 // stereo, interleaved L/R
)

// onePole holds the running state of a single one-pole IIR low-pass used
// both directly (the low band) and as the complement source for the high
// band (high = input - lowpass(input, highCutoffHz)).
type onePole struct {
	state float32
	coeff float32
}

func newOnePole(cutoffHz, sampleRate float64) onePole {
	// Standard one-pole coefficient: a = 1 - e^(-2*pi*fc/fs).
	a := 1 - math.Exp(-2*math.Pi*cutoffHz/sampleRate)
	return onePole{coeff: float32(a)}
}

func (p *onePole) step(x float32) float32 {
	p.state += p.coeff * (x - p.state)
	return p.state
}

// gainRamp moves a single band's current gain toward its target value
// over a fixed number of samples, set by the sample rate and smoothing time.
type gainRamp struct {
	current float32
	target  float32
	step    float32 // per-sample delta toward target, sign applied each tick
	left    int     // samples remaining in the current ramp
}

func (r *gainRamp) setTarget(target float32, rampSamples int) {
	target = clamp01(target)
	if rampSamples <= 0 {
		r.current = target
		r.target = target
		r.left = 0
		return
	}
	r.target = target
	delta := target - r.current
	r.step = delta / float32(rampSamples)
	r.left = rampSamples
}

func (r *gainRamp) tick() float32 {
	if r.left > 0 {
		r.current += r.step
		r.left--
		if r.left == 0 {
			r.current = r.target
		}
	}
	return r.current
}

// GainFromPercent maps a 0-100 percentage to the linear [0,1] gain used by
// SetGain. The source's own percent-to-gain curve isn't documented beyond
// three checked sample points (0%->0.0, 50%->0.5, 100%->1.0); a straight
// linear map satisfies all three exactly and needs no further assumptions.
func GainFromPercent(percent float64) float32 {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return float32(percent / 100.0)
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// perChannelState is the IIR memory for one audio channel (L or R).
type perChannelState struct {
	low  onePole
	high onePole
}

// Bank is a per-deck three-band filter instance. It owns its own IIR state
// and gain ramps and is not safe for concurrent use - each Deck owns
// exactly one Bank and serialises SetGain (control context) and Process
// (audio context) under the deck's mutex.
type Bank struct {
	channels   [numChannels]perChannelState
	gains      [numBands]gainRamp
	sampleRate float64
	smoothMs   float64
	enabled    bool
	backend    backend
}

// backend is the shared contract for the two interchangeable DSP
// implementations (sample-loop and block-vectorized). Selecting between
// them happens once, at construction, never through a runtime type switch
// on the hot path.
type backend interface {
	process(b *Bank, chunk []float32, frames int)
}

// NewBank constructs a filter bank for one deck. optimized selects the
// block-vectorized backend; both backends are mathematically identical, so
// the choice only affects throughput.
func NewBank(sampleRate float64, optimized bool) *Bank {
	b := &Bank{sampleRate: sampleRate, smoothMs: defaultSmoothMs, enabled: true}
	b.resetIIR()
	for band := range b.gains {
		b.gains[band] = gainRamp{current: 1, target: 1}
	}
	if optimized {
		b.backend = blockBackend{}
	} else {
		b.backend = sampleLoopBackend{}
	}
	return b
}

func (b *Bank) resetIIR() {
	low := newOnePole(lowCutoffHz, b.sampleRate)
	high := newOnePole(highCutoffHz, b.sampleRate)
	for i := range b.channels {
		b.channels[i] = perChannelState{low: low, high: high}
	}
}

// SetEnabled toggles whether Process applies the filter at all. When
// disabled, Process is a no-op copy-through, matching the "EQ globally
// disabled" performance-mode bypass in the mix path.
func (b *Bank) SetEnabled(enabled bool) { b.enabled = enabled }

// SetGain clamps value to [0,1] and smooths the named band toward it over
// the bank's configured smoothing time.
func (b *Bank) SetGain(band Band, value float32) {
	rampSamples := int(b.smoothMs / 1000 * b.sampleRate)
	b.gains[band].setTarget(value, rampSamples)
}

// Gain returns the band's current (possibly mid-ramp) gain value.
func (b *Bank) Gain(band Band) float32 { return b.gains[band].current }

// Process applies the filter in place to an interleaved stereo chunk of
// `frames` sample pairs. It is a pure function of the bank's state plus the
// input and performs no allocation.
func (b *Bank) Process(chunk []float32, frames int) {
	if !b.enabled {
		return
	}
	b.backend.process(b, chunk, frames)
}

// mix computes one output sample for one channel given its current IIR
// state and the three (already-ticked) band gains. Shared by both backends
// so their numerical output is identical by construction.
func mix(ch *perChannelState, x float32, lowGain, midGain, highGain float32) float32 {
	low := ch.low.step(x)
	highLP := ch.high.step(x)
	high := x - highLP
	mid := x - low - high
	return lowGain*low + midGain*mid + highGain*high
}

// sampleLoopBackend is the portable baseline: one function call per sample,
// per channel.
type sampleLoopBackend struct{}

func (sampleLoopBackend) process(b *Bank, chunk []float32, frames int) {
	for i := 0; i < frames; i++ {
		lowGain := b.gains[Low].tick()
		midGain := b.gains[Mid].tick()
		highGain := b.gains[High].tick()
		base := i * numChannels
		for c := 0; c < numChannels; c++ {
			chunk[base+c] = mix(&b.channels[c], chunk[base+c], lowGain, midGain, highGain)
		}
	}
}

// blockBackend processes the same recurrence over the whole chunk with the
// gain ramp pre-ticked once per frame and both channels advanced together
// in one unrolled pass, avoiding the inner per-channel loop of
// sampleLoopBackend while producing bit-for-bit-equivalent output (within
// float32 rounding) because it runs the identical `mix` recurrence.
type blockBackend struct{}

func (blockBackend) process(b *Bank, chunk []float32, frames int) {
	ch0 := &b.channels[0]
	ch1 := &b.channels[1]
	for i := 0; i < frames; i++ {
		lowGain := b.gains[Low].tick()
		midGain := b.gains[Mid].tick()
		highGain := b.gains[High].tick()
		base := i * numChannels
		chunk[base] = mix(ch0, chunk[base], lowGain, midGain, highGain)
		chunk[base+1] = mix(ch1, chunk[base+1], lowGain, midGain, highGain)
	}
}
