// Package alerts decides which scored events become real-time alerts.
//
// The policy is one-shot and synchronous: it runs at event-creation
// time, emits only for high/critical labels, and never batches or
// deduplicates. Delivery is fire-and-forget through the gateway.
package alerts

import (
	"unicode/utf8"

	"github.com/securex-labs/securex/internal/scoring"
)

// EventName is the socket event carrying alert payloads.
const EventName = "threat_alert"

// maxMessageLen bounds the free-text prefix carried in a broadcast so
// payloads stay small and don't leak full descriptions into a shared
// channel.
const maxMessageLen = 140

// Event is the slice of a domain record the policy needs.
type Event struct {
	ID          string
	Type        string
	Description string
	Room        string // optional narrower scope; empty means default
}

// Payload is the alert delivered to room members. Ownership transfers
// to the gateway on emit; it is not retained after send.
type Payload struct {
	Title    string        `json:"title"`
	Message  string        `json:"message"`
	Severity scoring.Label `json:"severity"`
	ThreatID string        `json:"threatId"`
	Room     string        `json:"room"`
}

// Policy decides alert emission for scored events.
type Policy struct {
	defaultRoom string
}

// NewPolicy creates an alert policy targeting defaultRoom when events
// carry no narrower scope.
func NewPolicy(defaultRoom string) *Policy {
	return &Policy{defaultRoom: defaultRoom}
}

// Decide returns the alert payload for an event, or ok=false when the
// score does not warrant a broadcast.
func (p *Policy) Decide(ev Event, score scoring.Score) (*Payload, bool) {
	if score.Label != scoring.LabelHigh && score.Label != scoring.LabelCritical {
		return nil, false
	}

	room := ev.Room
	if room == "" {
		room = p.defaultRoom
	}

	return &Payload{
		Title:    "High Risk Threat (" + string(score.Label) + ")",
		Message:  ev.Type + " - " + truncate(ev.Description, maxMessageLen),
		Severity: score.Label,
		ThreatID: ev.ID,
		Room:     room,
	}, true
}

// truncate bounds s to max bytes without splitting a multi-byte rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
