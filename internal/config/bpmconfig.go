// Package config loads bpm_config.json overrides for the tempo governor.
package config

import (
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/crowdstream/mixerengine/internal/tempo"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// movementBPMFile mirrors the on-disk bpm_config.json schema.
type movementBPMFile struct {
	MovementBPM struct {
		MovementMaxValue float64 `json:"movement_max_value"`
		Thresholds       struct {
			VeryVeryLow float64 `json:"very_very_low"`
			VeryLow     float64 `json:"very_low"`
			Low         float64 `json:"low"`
			Medium      float64 `json:"medium"`
		} `json:"thresholds"`
		BPMTargets struct {
			VeryVeryLow float64 `json:"very_very_low"`
			VeryLow     float64 `json:"very_low"`
			Low         float64 `json:"low"`
			Medium      float64 `json:"medium"`
			HighMax     float64 `json:"high_max"`
		} `json:"bpm_targets"`
		Smoothing struct {
			TransitionTimeSeconds float64 `json:"transition_time_seconds"`
			AudioLoopRateHz       float64 `json:"audio_loop_rate_hz"`
			SmoothingFactorUp     float64 `json:"smoothing_factor_up"`
			SmoothingFactorDown   float64 `json:"smoothing_factor_down"`
		} `json:"smoothing"`
	} `json:"movement_bpm"`
}

// LoadBPMConfig reads path and overlays any present, non-zero fields onto
// base, leaving fields absent from the file at their base (default) values.
// A field given as 0 is treated like an absent one and also keeps its base
// value.
func LoadBPMConfig(path string, base tempo.Config) (tempo.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, err
	}

	var file movementBPMFile
	if err := json.Unmarshal(data, &file); err != nil {
		return base, err
	}

	cfg := base
	m := file.MovementBPM

	if m.MovementMaxValue != 0 {
		cfg.Thresholds.MovementMax = m.MovementMaxValue
	}
	if m.Thresholds.VeryVeryLow != 0 {
		cfg.Thresholds.VeryVeryLow = m.Thresholds.VeryVeryLow
	}
	if m.Thresholds.VeryLow != 0 {
		cfg.Thresholds.VeryLow = m.Thresholds.VeryLow
	}
	if m.Thresholds.Low != 0 {
		cfg.Thresholds.Low = m.Thresholds.Low
	}
	if m.Thresholds.Medium != 0 {
		cfg.Thresholds.Medium = m.Thresholds.Medium
	}
	if m.BPMTargets.VeryVeryLow != 0 {
		cfg.Thresholds.BPMVeryVeryLow = m.BPMTargets.VeryVeryLow
	}
	if m.BPMTargets.VeryLow != 0 {
		cfg.Thresholds.BPMVeryLow = m.BPMTargets.VeryLow
	}
	if m.BPMTargets.Low != 0 {
		cfg.Thresholds.BPMLow = m.BPMTargets.Low
	}
	if m.BPMTargets.Medium != 0 {
		cfg.Thresholds.BPMMedium = m.BPMTargets.Medium
	}
	if m.BPMTargets.HighMax != 0 {
		cfg.Thresholds.BPMHighMax = m.BPMTargets.HighMax
	}
	if m.Smoothing.TransitionTimeSeconds != 0 {
		cfg.Smoothing.TransitionTimeSeconds = m.Smoothing.TransitionTimeSeconds
	}
	if m.Smoothing.AudioLoopRateHz != 0 {
		cfg.Smoothing.AudioLoopRateHz = m.Smoothing.AudioLoopRateHz
	}
	if m.Smoothing.SmoothingFactorUp != 0 {
		cfg.Smoothing.FactorUp = m.Smoothing.SmoothingFactorUp
	}
	if m.Smoothing.SmoothingFactorDown != 0 {
		cfg.Smoothing.FactorDown = m.Smoothing.SmoothingFactorDown
	}
	return cfg, nil
}
