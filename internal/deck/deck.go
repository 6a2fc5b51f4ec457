// Package deck implements the four-deck state machine: per-deck playhead,
// rate, cue/play/stop transitions, fade envelopes, and the process-wide
// crossfade weights.
package deck

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/crowdstream/mixerengine/internal/buffer"
	"github.com/crowdstream/mixerengine/internal/clock"
	"github.com/crowdstream/mixerengine/internal/filter"
)

// State is one of the four deck lifecycle states from the data model.
type State int32

const (
	Idle State = iota
	Cued
	Playing
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Cued:
		return "CUED"
	case Playing:
		return "PLAYING"
	case Stopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrNoBufferCued is returned by Play when no buffer has been cued.
	ErrNoBufferCued = errors.New("deck: no buffer cued")
	// ErrBufferNotLoaded describes a cued buffer id that is not (or no
	// longer) loaded in the store. No Deck method returns it: Play does not
	// consult the store, and Render drops such a deck back to IDLE.
	ErrBufferNotLoaded = errors.New("deck: buffer not loaded")
)

const (
	minRate = 0.25
	maxRate = 4.0

	rampInMillis  = 10.0
	rampOutMillis = 20.0
	glideMillis   = 10.0 // not referenced: SetVolume and SetRate apply their value with no glide
)

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampRate(r float64) float64 {
	if r <= 0 {
		return minRate
	}
	if r < minRate {
		return minRate
	}
	if r > maxRate {
		return maxRate
	}
	return r
}

// fadeEnvelope is a linear ramp applied on top of deck.volume, used for
// smooth starts, stops, and glides.
type fadeEnvelope struct {
	startGain     float64
	endGain       float64
	durationFrame int
	elapsed       int
}

func newFade(start, end float64, durationFrames int) fadeEnvelope {
	if durationFrames <= 0 {
		durationFrames = 1
	}
	return fadeEnvelope{startGain: start, endGain: end, durationFrame: durationFrames}
}

// tick returns the envelope's value for the current frame and advances it.
func (f *fadeEnvelope) tick() float64 {
	if f.durationFrame <= 0 {
		return f.endGain
	}
	t := float64(f.elapsed) / float64(f.durationFrame)
	if t > 1 {
		t = 1
	}
	v := f.startGain + (f.endGain-f.startGain)*t
	if f.elapsed < f.durationFrame {
		f.elapsed++
	}
	return v
}

func (f *fadeEnvelope) done() bool { return f.elapsed >= f.durationFrame }

// pendingPlay captures a /play_stem request received while the deck is
// STOPPING, applied once the stop ramp completes (the DeckBusy policy).
type pendingPlay struct {
	rate, volume float64
	loop         bool
	startFrame   int
}

// Deck is one of the four logical playback channels. Render is the only
// method called from the audio context; every other method is called from
// the control context.
type Deck struct {
	Label  string
	Filter *filter.Bank

	engineSampleRate float64

	mu             sync.Mutex
	state          State
	bufferID       int
	hasBuffer      bool
	playhead       float64
	fade           fadeEnvelope
	queuedStart    clock.EngineTime
	hasQueuedStart bool
	pending        *pendingPlay

	volumeBits atomic.Uint32 // float32 bits, lock-free
	rateBits   atomic.Uint32
	loopFlag   atomic.Bool
}

// New constructs an idle deck. engineSampleRate is the mixing core's fixed
// output rate, used to scale playback of buffers recorded at a different
// native rate.
func New(label string, engineSampleRate float64, optimizedFilter bool) *Deck {
	d := &Deck{
		Label:            label,
		Filter:           filter.NewBank(engineSampleRate, optimizedFilter),
		engineSampleRate: engineSampleRate,
		bufferID:         -1,
	}
	d.volumeBits.Store(math.Float32bits(1.0))
	d.rateBits.Store(math.Float32bits(1.0))
	return d
}

func (d *Deck) Volume() float64 { return float64(math.Float32frombits(d.volumeBits.Load())) }
func (d *Deck) Rate() float64   { return float64(math.Float32frombits(d.rateBits.Load())) }
func (d *Deck) Loop() bool      { return d.loopFlag.Load() }

// SetVolume clamps to [0,1] and takes effect immediately, from the next
// rendered frame; there is no glide between the old and the new value.
func (d *Deck) SetVolume(v float64) {
	d.volumeBits.Store(math.Float32bits(float32(clampVolume(v))))
}

// SetRate clamps to [0.25, 4.0] (non-positive rates become 0.25) and takes
// effect immediately.
func (d *Deck) SetRate(r float64) {
	d.rateBits.Store(math.Float32bits(float32(clampRate(r))))
}

func (d *Deck) SetLoop(loop bool) { d.loopFlag.Store(loop) }

// SetFilterGain routes a band gain to the deck's owned filter bank. It holds
// the deck mutex so it never runs concurrently with Render's Filter.Process.
func (d *Deck) SetFilterGain(band filter.Band, value float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Filter.SetGain(band, value)
}

// State returns the deck's current lifecycle state.
func (d *Deck) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// BufferID returns the id currently bound to the deck and whether one is
// bound at all.
func (d *Deck) BufferID() (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bufferID, d.hasBuffer
}

// Cue binds bufferID to the deck and sets the playhead, transitioning to
// CUED. The caller (the OSC router) is responsible for ensuring the buffer
// is already loaded before calling Cue - Cue itself never touches disk.
func (d *Deck) Cue(bufferID int, positionFrames int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bufferID = bufferID
	d.hasBuffer = true
	d.playhead = float64(positionFrames)
	d.state = Cued
	d.hasQueuedStart = false
	d.pending = nil
}

// Play transitions IDLE/CUED -> PLAYING with a ramp-in fade. If the deck is
// currently STOPPING, the request is queued (DeckBusy) and applied once the
// stop ramp completes, instead of being dropped.
func (d *Deck) Play(rate, volume float64, loop bool, startFrame int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.hasBuffer {
		return ErrNoBufferCued
	}

	if d.state == Stopping {
		d.pending = &pendingPlay{rate: rate, volume: volume, loop: loop, startFrame: startFrame}
		return nil
	}

	d.activatePlayLocked(rate, volume, loop, startFrame)
	return nil
}

func (d *Deck) activatePlayLocked(rate, volume float64, loop bool, startFrame int) {
	d.SetRate(rate)
	d.SetVolume(volume)
	d.SetLoop(loop)
	if startFrame > 0 {
		d.playhead = float64(startFrame)
	}
	d.state = Playing
	rampFrames := int(rampInMillis / 1000 * d.engineSampleRate)
	d.fade = newFade(0, 1, rampFrames)
}

// QueueStart arms a sample-accurate start: the deck stays CUED until
// Render observes the engine clock reaching t, at which point it
// transitions to PLAYING using whatever rate/volume/loop are already set.
func (d *Deck) QueueStart(t clock.EngineTime) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queuedStart = t
	d.hasQueuedStart = true
}

// Stop begins the ramp-out; Render finishes the transition to IDLE once
// the ramp completes (non-blocking, asynchronous per the concurrency
// model).
func (d *Deck) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Playing {
		return
	}
	d.state = Stopping
	rampFrames := int(rampOutMillis / 1000 * d.engineSampleRate)
	d.fade = newFade(1, 0, rampFrames)
}

// ForceIdle immediately stops the deck with no ramp, releasing its buffer
// reference. Used by /mixer_cleanup and by the router before freeing a
// buffer a deck might still hold.
func (d *Deck) ForceIdle() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = Idle
	d.hasBuffer = false
	d.bufferID = -1
	d.hasQueuedStart = false
	d.pending = nil
}

// Render produces `frames` stereo frames into out (length frames*2,
// overwritten, not summed) and advances the deck's playhead. It is the only
// Deck method called from the audio context. If the deck's mutex is
// currently held by a control-context mutation, Render skips this chunk
// entirely (writes silence) rather than blocking - per the concurrency
// model, silence is preferred to a missed real-time deadline.
func (d *Deck) Render(frames int, now clock.EngineTime, store *buffer.Store, tempoRatio float64, out []float32) {
	if !d.mu.TryLock() {
		zero(out)
		return
	}
	defer d.mu.Unlock()

	if d.state == Cued && d.hasQueuedStart && !now.Before(d.queuedStart) {
		d.hasQueuedStart = false
		d.activatePlayLocked(d.Rate(), d.Volume(), d.Loop(), int(d.playhead))
	}

	if d.state != Playing && d.state != Stopping {
		zero(out)
		return
	}

	buf, ok := store.Get(d.bufferID)
	if !ok || !buf.Loaded || buf.Frames() == 0 {
		zero(out)
		d.state = Idle
		d.hasBuffer = false
		return
	}

	effRate := d.Rate() * tempoRatio * (float64(buf.SampleRate) / d.engineSampleRate)
	frameCount := buf.Frames()

	rendered := frames
	for i := 0; i < frames; i++ {
		l, r := interpolate(buf.Samples, d.playhead, frameCount)
		out[i*2] = l
		out[i*2+1] = r

		d.playhead += effRate
		if d.playhead >= float64(frameCount) {
			if d.Loop() {
				d.playhead = math.Mod(d.playhead, float64(frameCount))
			} else {
				d.playhead = 0
				d.state = Cued
				rendered = i + 1
				zeroFrom(out, rendered, frames)
				break
			}
		}
	}

	d.Filter.Process(out, frames)

	for i := 0; i < rendered; i++ {
		gain := d.Volume() * d.fade.tick()
		out[i*2] *= float32(gain)
		out[i*2+1] *= float32(gain)
	}

	if d.state == Stopping && d.fade.done() {
		d.state = Idle
		d.hasBuffer = false
		if p := d.pending; p != nil {
			d.pending = nil
			d.activatePlayLocked(p.rate, p.volume, p.loop, p.startFrame)
		}
	}
}

func zero(out []float32) {
	for i := range out {
		out[i] = 0
	}
}

func zeroFrom(out []float32, fromFrame, frames int) {
	for i := fromFrame; i < frames; i++ {
		out[i*2] = 0
		out[i*2+1] = 0
	}
}

// interpolate linearly resamples the interleaved stereo buffer at a
// fractional frame position, with zero-order-hold at the final frame.
func interpolate(samples []float32, pos float64, frameCount int) (float32, float32) {
	i0 := int(pos)
	if i0 >= frameCount {
		i0 = frameCount - 1
	}
	frac := float32(pos - float64(i0))
	i1 := i0 + 1
	if i1 >= frameCount {
		i1 = i0
	}
	l := samples[i0*2] + frac*(samples[i1*2]-samples[i0*2])
	r := samples[i0*2+1] + frac*(samples[i1*2+1]-samples[i0*2+1])
	return l, r
}
