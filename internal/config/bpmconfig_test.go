package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/crowdstream/mixerengine/internal/tempo"
)

func TestLoadBPMConfigOverlaysPresentFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bpm_config.json")
	const body = `{
		"movement_bpm": {
			"movement_max_value": 0.8,
			"thresholds": {"medium": 0.15},
			"bpm_targets": {"high_max": 140},
			"smoothing": {"transition_time_seconds": 10}
		}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	base := tempo.DefaultConfig(120)
	cfg, err := LoadBPMConfig(path, base)
	if err != nil {
		t.Fatalf("LoadBPMConfig() error = %v", err)
	}

	if cfg.Thresholds.MovementMax != 0.8 {
		t.Errorf("MovementMax = %v, want 0.8", cfg.Thresholds.MovementMax)
	}
	if cfg.Thresholds.Medium != 0.15 {
		t.Errorf("Medium = %v, want 0.15", cfg.Thresholds.Medium)
	}
	if cfg.Thresholds.BPMHighMax != 140 {
		t.Errorf("BPMHighMax = %v, want 140", cfg.Thresholds.BPMHighMax)
	}
	if cfg.Smoothing.TransitionTimeSeconds != 10 {
		t.Errorf("TransitionTimeSeconds = %v, want 10", cfg.Smoothing.TransitionTimeSeconds)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Thresholds.VeryVeryLow != base.Thresholds.VeryVeryLow {
		t.Errorf("VeryVeryLow changed despite being absent from the file")
	}
}

func TestLoadBPMConfigMissingFileReturnsError(t *testing.T) {
	_, err := LoadBPMConfig(filepath.Join(t.TempDir(), "missing.json"), tempo.DefaultConfig(120))
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
