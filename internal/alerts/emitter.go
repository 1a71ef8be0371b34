package alerts

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/securex-labs/securex/internal/scoring"
)

var alertsEmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "securex",
	Subsystem: "alerts",
	Name:      "emitted_total",
	Help:      "Total real-time alerts emitted by severity.",
}, []string{"severity"})

func init() {
	prometheus.MustRegister(alertsEmittedTotal)
}

// Broadcaster fans an event out to a room's members. Satisfied by the
// realtime gateway.
type Broadcaster interface {
	BroadcastToRoom(room, event string, data interface{})
}

// Emitter runs the policy and publishes the result. All methods are
// fire-and-forget: an alert to an empty room is absorbed silently.
type Emitter struct {
	policy      *Policy
	broadcaster Broadcaster
	logger      *slog.Logger
}

// NewEmitter creates an alert emitter.
func NewEmitter(policy *Policy, b Broadcaster, logger *slog.Logger) *Emitter {
	return &Emitter{policy: policy, broadcaster: b, logger: logger}
}

// Emit evaluates the policy for a scored event and broadcasts when it
// passes. Returns the payload for response enrichment, or nil when no
// alert was emitted.
func (e *Emitter) Emit(ev Event, score scoring.Score) *Payload {
	payload, ok := e.policy.Decide(ev, score)
	if !ok {
		return nil
	}

	alertsEmittedTotal.WithLabelValues(string(payload.Severity)).Inc()
	if e.broadcaster != nil {
		e.broadcaster.BroadcastToRoom(payload.Room, EventName, payload)
	}
	e.logger.Info("threat alert emitted",
		"threat_id", payload.ThreatID,
		"severity", payload.Severity,
		"room", payload.Room,
	)
	return payload
}
