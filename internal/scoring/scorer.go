package scoring

import (
	"context"
	"math"
	"time"

	"github.com/securex-labs/securex/internal/idgen"
	"github.com/securex-labs/securex/internal/metrics"
)

// Category weights in [0,1]. Unknown categories get defaultTypeWeight
// rather than zero so unseen attack types are not under-scored.
var typeWeights = map[string]float64{
	"phishing":       0.7,
	"brute_force":    0.6,
	"sql_injection":  0.8,
	"zero_day":       0.9,
	"insider_threat": 0.85,
	"ddos":           0.5,
	"malware":        0.6,
}

const defaultTypeWeight = 0.3

// madSigma converts MAD to an estimated standard deviation for
// normally distributed data.
const madSigma = 1.4826

// zCap bounds the exponent so extreme outliers saturate instead of
// over/underflowing the exponential.
const zCap = 6.0

// Convex combination weights. The two canonical numeric channels are
// an attempt-count-like signal and an amount-like signal.
const (
	weightType     = 0.45
	weightAttempts = 0.30
	weightAmount   = 0.25

	FeatureLoginAttempts = "loginAttempts"
	FeatureAmount        = "amount"
)

// Scorer evaluates events and optionally records assessments.
type Scorer struct {
	store Store
}

// NewScorer creates a scorer backed by the given audit store (may be nil).
func NewScorer(store Store) *Scorer {
	return &Scorer{store: store}
}

// TypeWeight returns the categorical weight for an event type.
func TypeWeight(eventType string) float64 {
	if w, ok := typeWeights[eventType]; ok {
		return w
	}
	return defaultTypeWeight
}

// robustZ computes |value - median| / (1.4826 * MAD). A zero or
// non-finite MAD means the spread is unknown, so no anomaly can be
// claimed and the z-score is 0.
func robustZ(value float64, b Baseline, ok bool) float64 {
	if !ok || b.MAD == 0 {
		return 0
	}
	if math.IsNaN(value) || math.IsNaN(b.Median) || math.IsNaN(b.MAD) || math.IsInf(b.MAD, 0) {
		return 0
	}
	return math.Abs((value - b.Median) / (madSigma * b.MAD))
}

// squash maps a z-score into [0,1] with saturation: 1 - e^(-min(z, 6)).
func squash(z float64) float64 {
	if math.IsNaN(z) || z <= 0 {
		return 0
	}
	return clamp01(1 - math.Exp(-math.Min(z, zCap)))
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(0, math.Min(1, x))
}

// anomalyTerm computes the squashed anomaly contribution for one
// named numeric feature. Missing feature or baseline contributes 0.
func anomalyTerm(in Input, name string) float64 {
	value, haveValue := in.Features[name]
	if !haveValue {
		return 0
	}
	baseline, haveBaseline := in.Baselines[name]
	return squash(robustZ(value, baseline, haveBaseline))
}

// Evaluate scores an event. Pure, total, no I/O, never fails.
func Evaluate(in Input) Score {
	typeWeight := TypeWeight(in.Type)
	attemptsAnomaly := anomalyTerm(in, FeatureLoginAttempts)
	amountAnomaly := anomalyTerm(in, FeatureAmount)

	value := clamp01(weightType*typeWeight +
		weightAttempts*attemptsAnomaly +
		weightAmount*amountAnomaly)

	return Score{
		Value: value,
		Label: LabelFor(value),
		Terms: map[string]float64{
			"type":       typeWeight,
			"attempts_z": attemptsAnomaly,
			"amount_z":   amountAnomaly,
		},
	}
}

// LabelFor maps a score value to its severity label.
func LabelFor(value float64) Label {
	switch {
	case value >= CriticalThreshold:
		return LabelCritical
	case value >= HighThreshold:
		return LabelHigh
	case value >= MediumThreshold:
		return LabelMedium
	default:
		return LabelLow
	}
}

// Score evaluates an event and records the assessment asynchronously.
// The audit write is best-effort: scoring itself never fails.
func (s *Scorer) Score(ctx context.Context, in Input) Score {
	result := Evaluate(in)
	metrics.RiskScores.Observe(result.Value)

	if s.store != nil {
		a := &Assessment{
			ID:          idgen.WithPrefix("score_"),
			EventType:   in.Type,
			Value:       result.Value,
			Label:       result.Label,
			Terms:       result.Terms,
			EvaluatedAt: time.Now(),
		}
		go func() {
			_ = s.store.Record(context.Background(), a)
		}()
	}

	return result
}

// Recent returns the most recent assessments from the audit store.
func (s *Scorer) Recent(ctx context.Context, limit int) ([]*Assessment, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.ListRecent(ctx, limit)
}
