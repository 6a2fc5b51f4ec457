// Package tempo implements the movement-driven Tempo Governor: a threshold
// table mapping a combined movement signal to a target BPM, smoothed
// asymmetrically, and exposed as a lock-free tempo ratio for the mixing
// core.
package tempo

import (
	"math"
	"sync/atomic"
	"time"
)

// Thresholds mirrors the default target-BPM table from the movement
// control law, every value overridable by configuration.
type Thresholds struct {
	VeryVeryLow   float64 // m below this -> BPMVeryVeryLow
	VeryLow       float64
	Low           float64
	Medium        float64 // medium_threshold
	MovementMax   float64 // movement_max_value
	BPMVeryVeryLow float64
	BPMVeryLow    float64
	BPMLow        float64
	BPMMedium     float64
	BPMHighMax    float64
}

// DefaultThresholds returns the engine's out-of-the-box movement-to-BPM
// threshold table.
func DefaultThresholds() Thresholds {
	return Thresholds{
		VeryVeryLow:    0.02,
		VeryLow:        0.05,
		Low:            0.10,
		Medium:         0.10,
		MovementMax:    0.6,
		BPMVeryVeryLow: 105,
		BPMVeryLow:     110,
		BPMLow:         115,
		BPMMedium:      118,
		BPMHighMax:     130,
	}
}

// Smoothing configures the asymmetric exponential smoothing applied to
// current_bpm on every update.
type Smoothing struct {
	TransitionTimeSeconds float64
	AudioLoopRateHz       float64 // update rate; alpha is recomputed if this changes
	// FactorUp/FactorDown override the computed alphas directly when
	// non-zero (from bpm_config.json); otherwise alpha is derived from
	// TransitionTimeSeconds so ~99% of a step completes in that time.
	FactorUp   float64
	FactorDown float64
}

// DefaultSmoothing returns parameters chosen so ~99% of a BPM step
// completes in ~30 seconds at a 10Hz movement update rate.
func DefaultSmoothing() Smoothing {
	return Smoothing{TransitionTimeSeconds: 30, AudioLoopRateHz: 10}
}

// alpha derives the per-update smoothing coefficient from a settling time:
// each update keeps the fraction alpha of the remaining gap to the target,
// so after n = rate*seconds updates alpha^n should remain (1-0.99)=0.01,
// i.e. alpha = 0.01^(1/n).
func alpha(seconds, rateHz float64) float64 {
	if seconds <= 0 || rateHz <= 0 {
		return 0
	}
	n := seconds * rateHz
	if n < 1 {
		n = 1
	}
	return math.Pow(0.01, 1/n)
}

// Config bundles everything bpm_config.json can override.
type Config struct {
	BaseBPM    float64
	Thresholds Thresholds
	Smoothing  Smoothing
	// Combine computes total_movement from head/arms/legs; defaults to the
	// mean of whichever channels have been fed at least once.
	Combine func(head, arms, legs float64, has [3]bool) float64
}

// DefaultConfig returns the engine's out-of-the-box tempo configuration.
func DefaultConfig(baseBPM float64) Config {
	return Config{
		BaseBPM:    baseBPM,
		Thresholds: DefaultThresholds(),
		Smoothing:  DefaultSmoothing(),
		Combine:    meanCombine,
	}
}

func meanCombine(head, arms, legs float64, has [3]bool) float64 {
	sum, n := 0.0, 0.0
	if has[0] {
		sum += head
		n++
	}
	if has[1] {
		sum += arms
		n++
	}
	if has[2] {
		sum += legs
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / n
}

// Governor owns the current/target BPM and the raw movement inputs. All
// mutation happens on the control context; CurrentRatio is read lock-free
// by the mixing core.
type Governor struct {
	cfg Config

	currentBits atomic.Uint64 // float64 bits
	targetBits  atomic.Uint64

	head, arms, legs float64
	hasHead, hasArms, hasLegs bool

	alphaUp, alphaDown float64

	overrideUntil     atomic.Int64 // unix nanos; 0 = no override active
	overrideBits      atomic.Uint64
	overrideUntilNext atomic.Bool // true: cleared by the next movement update rather than by time
}

// New constructs a Governor starting at cfg.BaseBPM.
func New(cfg Config) *Governor {
	g := &Governor{cfg: cfg}
	g.currentBits.Store(math.Float64bits(cfg.BaseBPM))
	g.targetBits.Store(math.Float64bits(cfg.BaseBPM))
	g.recomputeAlphas()
	return g
}

func (g *Governor) recomputeAlphas() {
	s := g.cfg.Smoothing
	if s.FactorUp > 0 {
		g.alphaUp = s.FactorUp
	} else {
		g.alphaUp = alpha(s.TransitionTimeSeconds, s.AudioLoopRateHz)
	}
	if s.FactorDown > 0 {
		g.alphaDown = s.FactorDown
	} else {
		// Down transitions track faster than up by convention; use half
		// the settling time unless the caller overrides it explicitly.
		g.alphaDown = alpha(s.TransitionTimeSeconds/2, s.AudioLoopRateHz)
	}
}

// SetAudioLoopRate updates the update-rate used to derive alpha and
// recomputes it, per "alpha is recomputed if rate changes".
func (g *Governor) SetAudioLoopRate(hz float64) {
	g.cfg.Smoothing.AudioLoopRateHz = hz
	g.recomputeAlphas()
}

func (g *Governor) currentBPM() float64 { return math.Float64frombits(g.currentBits.Load()) }
func (g *Governor) targetBPM() float64  { return math.Float64frombits(g.targetBits.Load()) }

// CurrentBPM returns the smoothed BPM value.
func (g *Governor) CurrentBPM() float64 { return g.currentBPM() }

// TargetBPM returns the most recently computed target BPM.
func (g *Governor) TargetBPM() float64 { return g.targetBPM() }

// CurrentRatio returns tempo_ratio = current_bpm / base_bpm, read lock-free
// by the mixing core on every callback.
func (g *Governor) CurrentRatio() float64 {
	if now := g.overrideUntil.Load(); now != 0 && time.Now().UnixNano() < now {
		return math.Float64frombits(g.overrideBits.Load()) / g.cfg.BaseBPM
	}
	return g.currentBPM() / g.cfg.BaseBPM
}

// targetBPMFor implements the movement control law's piecewise table.
func (g *Governor) targetBPMFor(m float64) float64 {
	th := g.cfg.Thresholds
	switch {
	case m < th.VeryVeryLow:
		return th.BPMVeryVeryLow
	case m < th.VeryLow:
		return th.BPMVeryLow
	case m < th.Low:
		return th.BPMLow
	case m < th.Medium:
		return th.BPMMedium
	default:
		if th.MovementMax <= th.Medium {
			return th.BPMHighMax
		}
		t := (m - th.Medium) / (th.MovementMax - th.Medium)
		if t > 1 {
			t = 1
		}
		return th.BPMMedium + t*(th.BPMHighMax-th.BPMMedium)
	}
}

// update recomputes total_movement, the target BPM, and smooths
// current_bpm toward it with the asymmetric alpha. Must only be called
// from the control context.
func (g *Governor) update() {
	m := g.cfg.Combine(g.head, g.arms, g.legs, [3]bool{g.hasHead, g.hasArms, g.hasLegs})
	target := g.targetBPMFor(m)
	g.targetBits.Store(math.Float64bits(target))

	current := g.currentBPM()
	var a float64
	if target > current {
		a = g.alphaUp
	} else {
		a = g.alphaDown
	}
	next := a*current + (1-a)*target
	g.currentBits.Store(math.Float64bits(next))
}

// normalize accepts values in [0,1] directly; values in (1,100] are
// interpreted as percentages and divided by 100.
func normalize(v float64) float64 {
	if v > 1 {
		return v / 100
	}
	return v
}

// clearIfUntilNextUpdate implements the default /set_tempo hold policy:
// "until next movement update".
func (g *Governor) clearIfUntilNextUpdate() {
	if g.overrideUntilNext.Load() {
		g.ClearOverride()
	}
}

// UpdateHead feeds a /dance/head(_movement) sample and recomputes tempo.
func (g *Governor) UpdateHead(v float64) {
	g.clearIfUntilNextUpdate()
	g.head, g.hasHead = normalize(v), true
	g.update()
}

// UpdateArms feeds a /dance/arms(_movement) sample and recomputes tempo.
func (g *Governor) UpdateArms(v float64) {
	g.clearIfUntilNextUpdate()
	g.arms, g.hasArms = normalize(v), true
	g.update()
}

// UpdateLegs feeds a /dance/legs(_movement) sample and recomputes tempo.
func (g *Governor) UpdateLegs(v float64) {
	g.clearIfUntilNextUpdate()
	g.legs, g.hasLegs = normalize(v), true
	g.update()
}

// TotalMovement exposes the most recently combined movement value, used by
// the external mixer client for EQ suggestions.
func (g *Governor) TotalMovement() float64 {
	return g.cfg.Combine(g.head, g.arms, g.legs, [3]bool{g.hasHead, g.hasArms, g.hasLegs})
}

// SetTempo forces the ratio to bpm/base_bpm for hold, overriding automatic
// governance until the hold expires or the next movement update arrives
// (whichever the caller chooses). A hold <= 0 means "until next movement
// update": UpdateHead/UpdateArms/UpdateLegs clear such an override
// themselves before recomputing tempo.
func (g *Governor) SetTempo(bpm float64, hold time.Duration) {
	g.overrideBits.Store(math.Float64bits(bpm))
	if hold <= 0 {
		g.overrideUntilNext.Store(true)
		g.overrideUntil.Store(time.Now().Add(24 * time.Hour).UnixNano())
		return
	}
	g.overrideUntilNext.Store(false)
	g.overrideUntil.Store(time.Now().Add(hold).UnixNano())
}

// ClearOverride cancels any active /set_tempo override, letting automatic
// governance resume on the next CurrentRatio read.
func (g *Governor) ClearOverride() {
	g.overrideUntil.Store(0)
	g.overrideUntilNext.Store(false)
}
