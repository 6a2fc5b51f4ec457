// Package mixer implements the Mixing Core: it pulls a chunk from every
// deck, applies crossfade weighting and master gain, and hands the host
// audio driver an interleaved stereo buffer.
package mixer

import (
	"log"
	"math"
	"sync/atomic"
	"time"

	"github.com/crowdstream/mixerengine/internal/buffer"
	"github.com/crowdstream/mixerengine/internal/clock"
	"github.com/crowdstream/mixerengine/internal/deck"
	"github.com/crowdstream/mixerengine/internal/tempo"
)

// statsWindow is the budget-monitoring window the callback timing stats
// are aggregated and warned over.
const statsWindow = 10 * time.Second

// Mixer owns the per-callback render path. Render is the only method
// called from the audio context; everything else may be called from the
// control context.
type Mixer struct {
	Decks   [4]*deck.Deck
	Weights *deck.Weights
	Store   *buffer.Store
	Tempo   *tempo.Governor
	Clock   clock.Clock

	sampleRate float64

	masterGainBits atomic.Uint32 // float32 bits, lock-free

	scratch [4][]float32 // per-deck render scratch, reused across callbacks

	// Budget monitoring state - touched only from the audio context, never
	// under a lock, since it is purely additive bookkeeping.
	windowStart  time.Time
	windowMax    time.Duration
	windowCount  int
	lastWarnedAt time.Time
}

// New constructs a Mixer over four decks sharing a buffer store, tempo
// governor, and engine clock.
func New(decks [4]*deck.Deck, weights *deck.Weights, store *buffer.Store, tg *tempo.Governor, c clock.Clock, sampleRate float64) *Mixer {
	m := &Mixer{
		Decks:      decks,
		Weights:    weights,
		Store:      store,
		Tempo:      tg,
		Clock:      c,
		sampleRate: sampleRate,
	}
	m.masterGainBits.Store(math.Float32bits(1.0))
	m.windowStart = time.Now()
	return m
}

// SetMasterGain stores the master output gain, read lock-free by Render.
func (m *Mixer) SetMasterGain(g float32) {
	m.masterGainBits.Store(math.Float32bits(g))
}

func (m *Mixer) masterGain() float32 {
	return math.Float32frombits(m.masterGainBits.Load())
}

// Render fills out (length frames*2, interleaved stereo float32) with one
// callback's worth of mixed audio. It performs no allocation on a steady
// state call: per-deck scratch buffers are grown once and reused. Callers
// provide the wall-clock budget for the callback so Render can track it;
// Render itself never sleeps or blocks on I/O.
func (m *Mixer) Render(out []float32, frames int, budget time.Duration) {
	start := time.Now()

	for i := range out {
		out[i] = 0
	}

	now := m.Clock.Now()
	ratio := m.Tempo.CurrentRatio()

	for i, d := range m.Decks {
		if d == nil {
			continue
		}
		if len(m.scratch[i]) < frames*2 {
			m.scratch[i] = make([]float32, frames*2)
		}
		buf := m.scratch[i][:frames*2]
		d.Render(frames, now, m.Store, ratio, buf)

		weight := float32(m.Weights.Get(d.Label))
		for j := range buf {
			out[j] += buf[j] * weight
		}
	}

	gain := m.masterGain()
	for i := range out {
		v := out[i] * gain
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		out[i] = v
	}

	m.recordTiming(time.Since(start), budget)
}

// recordTiming maintains running per-window stats, with a throttled
// warning only when the window's max overran the budget or came within
// 90% of it.
func (m *Mixer) recordTiming(elapsed, budget time.Duration) {
	m.windowCount++
	if elapsed > m.windowMax {
		m.windowMax = elapsed
	}

	if time.Since(m.windowStart) < statsWindow {
		return
	}

	threshold := time.Duration(float64(budget) * 0.9)
	if m.windowMax >= threshold && time.Since(m.lastWarnedAt) > statsWindow {
		log.Printf("mixer: callback budget warning: max=%v budget=%v count=%d", m.windowMax, budget, m.windowCount)
		m.lastWarnedAt = time.Now()
	}

	m.windowStart = time.Now()
	m.windowMax = 0
	m.windowCount = 0
}
