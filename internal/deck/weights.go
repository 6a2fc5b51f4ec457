package deck

import (
	"math"
	"sync/atomic"
)

// Labels is the fixed deck ordering used throughout the engine.
var Labels = [4]string{"A", "B", "C", "D"}

func indexOf(label string) (int, bool) {
	for i, l := range Labels {
		if l == label {
			return i, true
		}
	}
	return -1, false
}

// Weights holds the process-wide crossfade coefficients, one per deck,
// updated by /crossfade_levels and read lock-free by the mixing core every
// callback.
type Weights struct {
	bits [4]atomic.Uint32
}

// NewWeights returns weights initialised to 1.0 for every deck (no
// attenuation until the mixer client sends /crossfade_levels).
func NewWeights() *Weights {
	w := &Weights{}
	for i := range w.bits {
		w.bits[i].Store(math.Float32bits(1.0))
	}
	return w
}

// Set clamps value to [0,1] and stores it for the named deck. Unknown
// labels are ignored.
func (w *Weights) Set(label string, value float64) {
	i, ok := indexOf(label)
	if !ok {
		return
	}
	if value < 0 {
		value = 0
	}
	if value > 1 {
		value = 1
	}
	w.bits[i].Store(math.Float32bits(float32(value)))
}

// Get returns the current weight for the named deck, or 1.0 if unknown.
func (w *Weights) Get(label string) float64 {
	i, ok := indexOf(label)
	if !ok {
		return 1.0
	}
	return float64(math.Float32frombits(w.bits[i].Load()))
}
