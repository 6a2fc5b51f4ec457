package tempo

import (
	"math"
	"testing"
	"time"
)

func TestTargetBPMTable(t *testing.T) {
	g := New(DefaultConfig(120))
	cases := []struct {
		m    float64
		want float64
	}{
		{0.0, 105},
		{0.019, 105},
		{0.02, 110},
		{0.049, 110},
		{0.05, 115},
		{0.6, 130},
	}
	for _, c := range cases {
		if got := g.targetBPMFor(c.m); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("targetBPMFor(%v) = %v, want %v", c.m, got, c.want)
		}
	}
}

func TestTargetBPMRampsLinearlyAboveMedium(t *testing.T) {
	g := New(DefaultConfig(120))
	mid := g.targetBPMFor(0.35) // halfway between 0.10 and 0.6
	want := 118 + (130-118)*0.5
	if math.Abs(mid-want) > 0.5 {
		t.Errorf("targetBPMFor(0.35) = %v, want ~%v", mid, want)
	}
}

// TestTempoMonotonicResponse checks that holding movement above the medium
// threshold with current_bpm below target never decreases current_bpm
// across updates.
func TestTempoMonotonicResponse(t *testing.T) {
	g := New(DefaultConfig(120))
	prev := g.CurrentBPM()
	for i := 0; i < 600; i++ { // 60s @ 10Hz
		g.UpdateArms(0.6)
		cur := g.CurrentBPM()
		if cur < prev-1e-9 {
			t.Fatalf("current_bpm decreased: %v -> %v at update %d", prev, cur, i)
		}
		prev = cur
	}
}

// TestTempoApproaches130Within30Seconds checks that continuous high-movement
// input at 10Hz brings current_bpm within 1 BPM of the table ceiling inside
// 30 seconds.
func TestTempoApproaches130Within30Seconds(t *testing.T) {
	g := New(DefaultConfig(120))
	for i := 0; i < 300; i++ { // 30s @ 10Hz
		g.UpdateArms(0.6)
	}
	if math.Abs(g.CurrentBPM()-130) > 1 {
		t.Errorf("CurrentBPM() after 30s = %v, want within 1 of 130", g.CurrentBPM())
	}
}

func TestCurrentRatioTracksBaseBPM(t *testing.T) {
	g := New(DefaultConfig(120))
	if r := g.CurrentRatio(); math.Abs(r-1.0) > 1e-9 {
		t.Errorf("CurrentRatio() at rest = %v, want 1.0", r)
	}
}

func TestSetTempoOverridesUntilNextMovementUpdate(t *testing.T) {
	g := New(DefaultConfig(120))
	g.SetTempo(140, 0)
	if r := g.CurrentRatio(); math.Abs(r-140.0/120.0) > 1e-9 {
		t.Fatalf("CurrentRatio() after SetTempo = %v, want %v", r, 140.0/120.0)
	}
	g.UpdateArms(0) // next movement update clears the override
	if r := g.CurrentRatio(); math.Abs(r-140.0/120.0) < 1e-9 {
		t.Fatalf("override still active after a movement update")
	}
}

func TestSetTempoHoldsForFixedWindow(t *testing.T) {
	g := New(DefaultConfig(120))
	g.SetTempo(140, 5*time.Millisecond)
	g.UpdateArms(0.6) // should NOT clear a fixed-duration hold
	if r := g.CurrentRatio(); math.Abs(r-140.0/120.0) > 1e-9 {
		t.Fatalf("fixed-duration override cleared early: ratio=%v", r)
	}
	time.Sleep(10 * time.Millisecond)
	if r := g.CurrentRatio(); math.Abs(r-140.0/120.0) < 1e-9 {
		t.Fatalf("fixed-duration override never expired")
	}
}

func TestNormalizePercentageInputs(t *testing.T) {
	g := New(DefaultConfig(120))
	g.UpdateArms(60) // 0-100 scale -> 0.6
	if math.Abs(g.TotalMovement()-0.6) > 1e-9 {
		t.Errorf("TotalMovement() = %v, want 0.6 after percentage input", g.TotalMovement())
	}
}
