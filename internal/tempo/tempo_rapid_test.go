package tempo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

// TestCurrentBPMStaysWithinThresholdTableRange property-checks that no
// sequence of movement updates can push current_bpm outside the threshold
// table's [BPMVeryVeryLow, BPMHighMax] range: current_bpm is always an
// asymmetric exponential smooth toward a target drawn from that same table,
// so it can never overshoot either end of it.
func TestCurrentBPMStaysWithinThresholdTableRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		g := New(DefaultConfig(120))
		th := g.cfg.Thresholds

		steps := rapid.IntRange(0, 50).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			m := rapid.Float64Range(0, 1).Draw(t, "movement")
			switch rapid.IntRange(0, 2).Draw(t, "channel") {
			case 0:
				g.UpdateHead(m)
			case 1:
				g.UpdateArms(m)
			default:
				g.UpdateLegs(m)
			}
			cur := g.CurrentBPM()
			assert.GreaterOrEqualf(t, cur, th.BPMVeryVeryLow-1e-6, "CurrentBPM() = %v below table floor %v", cur, th.BPMVeryVeryLow)
			assert.LessOrEqualf(t, cur, th.BPMHighMax+1e-6, "CurrentBPM() = %v above table ceiling %v", cur, th.BPMHighMax)
		}
	})
}

// TestCurrentRatioIsAlwaysPositive property-checks that the ratio the mixing
// core multiplies every deck's playback rate by can never go zero or
// negative, regardless of /set_tempo input or movement history.
func TestCurrentRatioIsAlwaysPositive(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		g := New(DefaultConfig(120))
		if rapid.Bool().Draw(t, "override") {
			bpm := rapid.Float64Range(1, 300).Draw(t, "bpm")
			g.SetTempo(bpm, 0)
		}
		m := rapid.Float64Range(0, 1).Draw(t, "movement")
		g.UpdateArms(m)
		assert.Greater(t, g.CurrentRatio(), 0.0)
	})
}
