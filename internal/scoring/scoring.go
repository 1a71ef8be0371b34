// Package scoring implements statistical risk scoring for security events.
//
// Every event is scored from two kinds of signal: a fixed weight for the
// categorical event type, and robust z-score anomaly terms for numeric
// features measured against caller-supplied median/MAD baselines. Scores
// range from 0.0 (benign) to 1.0 (critical). Scoring is pure and total:
// malformed or missing inputs degrade to a neutral contribution.
package scoring

import (
	"context"
	"time"
)

// Label classifies a score into the severity bands the dashboard renders.
type Label string

const (
	LabelLow      Label = "low"
	LabelMedium   Label = "medium"
	LabelHigh     Label = "high"
	LabelCritical Label = "critical"
)

// Label thresholds. Business constants, not statistically derived.
const (
	CriticalThreshold = 0.85
	HighThreshold     = 0.70
	MediumThreshold   = 0.45
)

// Baseline is the robust location/spread pair for one numeric feature.
type Baseline struct {
	Median float64 `json:"median"`
	MAD    float64 `json:"mad"`
}

// Input carries the features of a single event. Owned by the caller,
// never retained across calls.
type Input struct {
	Type      string              // categorical event type (e.g. "phishing")
	Features  map[string]float64  // numeric features by name
	Baselines map[string]Baseline // baselines by feature name
}

// Score is the result of evaluating one event.
type Score struct {
	Value float64            `json:"score"`
	Label Label              `json:"label"`
	Terms map[string]float64 `json:"terms,omitempty"` // per-signal contributions, pre-weight
}

// Assessment is a recorded scoring result, kept as a best-effort audit trail.
type Assessment struct {
	ID          string             `json:"id"`
	EventType   string             `json:"eventType"`
	Value       float64            `json:"score"`
	Label       Label              `json:"label"`
	Terms       map[string]float64 `json:"terms"`
	EvaluatedAt time.Time          `json:"evaluatedAt"`
}

// Store persists assessments for audit trail.
type Store interface {
	Record(ctx context.Context, a *Assessment) error
	ListRecent(ctx context.Context, limit int) ([]*Assessment, error)
}
