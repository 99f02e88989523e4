// Package stats implements the online estimators behind the feature pipeline:
// a Hawkes-style self-exciting intensity for burst detection, a CUSUM
// change-point detector, robust (median/MAD) z-scores, a serializable
// quantile digest for trade-size tails, and rolling window statistics.
//
// Every estimator is a small value object that is cheap to update, cheap to
// query, and safe to serialize round-trip: state is hydrated from the store,
// mutated within a job, and written back.
package stats

import (
	"encoding/json"
	"fmt"
	"math"
)

// Hawkes default parameters: baseline intensity in events/second, the jump
// added per event, and the exponential decay rate back toward baseline.
const (
	DefaultHawkesBaseline = 0.1
	DefaultHawkesAlpha    = 0.5
	DefaultHawkesBeta     = 0.1
)

// Hawkes is a self-exciting arrival-rate proxy. Each event bumps the
// intensity by Alpha; between events the excess over Baseline decays
// exponentially at rate Beta (per second). Times are epoch milliseconds.
type Hawkes struct {
	Baseline      float64 `json:"baselineIntensity"` // events/sec
	Alpha         float64 `json:"alpha"`
	Beta          float64 `json:"beta"`
	Intensity     float64 `json:"intensity"`
	LastEventTime int64   `json:"lastEventTime"` // epoch ms, 0 = no events yet
	EventCount    int64   `json:"eventCount"`
}

// NewHawkes creates a Hawkes estimator resting at its baseline.
func NewHawkes(baseline, alpha, beta float64) *Hawkes {
	return &Hawkes{
		Baseline:  baseline,
		Alpha:     alpha,
		Beta:      beta,
		Intensity: baseline,
	}
}

// Record registers an event at tMs: decay since the previous event, then jump.
func (h *Hawkes) Record(tMs int64) {
	h.Intensity = h.decayed(tMs)
	h.Intensity += h.Alpha
	h.LastEventTime = tMs
	h.EventCount++
}

// CurrentIntensity returns the decayed intensity at tMs without recording
// an event.
func (h *Hawkes) CurrentIntensity(tMs int64) float64 {
	return h.decayed(tMs)
}

// IsBurst reports whether the current intensity exceeds k times the baseline.
func (h *Hawkes) IsBurst(tMs int64, k float64) bool {
	if h.Baseline <= 0 {
		return false
	}
	return h.decayed(tMs) > k*h.Baseline
}

// BurstScore maps the intensity ratio onto [0, 1]: 0 at baseline, saturating
// when intensity reaches 5× baseline.
func (h *Hawkes) BurstScore(tMs int64) float64 {
	if h.Baseline <= 0 {
		return 0
	}
	ratio := h.decayed(tMs) / h.Baseline
	return clamp01((ratio - 1) / 4)
}

func (h *Hawkes) decayed(tMs int64) float64 {
	if h.LastEventTime == 0 || tMs <= h.LastEventTime {
		return h.Intensity
	}
	dtSec := float64(tMs-h.LastEventTime) / 1000
	return h.Baseline + (h.Intensity-h.Baseline)*math.Exp(-h.Beta*dtSec)
}

// Serialize encodes the state as JSON.
func (h *Hawkes) Serialize() (string, error) {
	data, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("marshal hawkes: %w", err)
	}
	return string(data), nil
}

// DeserializeHawkes restores a Hawkes estimator from its JSON form.
func DeserializeHawkes(data string) (*Hawkes, error) {
	var h Hawkes
	if err := json.Unmarshal([]byte(data), &h); err != nil {
		return nil, fmt.Errorf("unmarshal hawkes: %w", err)
	}
	return &h, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
