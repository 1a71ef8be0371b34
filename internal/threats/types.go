// Package threats implements threat record management for the dashboard.
// Creating a record triggers risk scoring and, when warranted, a
// real-time alert to connected dashboard clients.
package threats

import (
	"errors"
	"time"

	"github.com/securex-labs/securex/internal/scoring"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	ErrThreatNotFound = errors.New("threats: threat not found")
	ErrInvalidStatus  = errors.New("threats: invalid status")
)

// -----------------------------------------------------------------------------
// Core Types
// -----------------------------------------------------------------------------

// Valid lifecycle statuses for a threat record.
const (
	StatusOpen          = "open"
	StatusInvestigating = "investigating"
	StatusResolved      = "resolved"
	StatusFalsePositive = "false_positive"
)

// ValidStatus reports whether s is a recognised threat status.
func ValidStatus(s string) bool {
	switch s {
	case StatusOpen, StatusInvestigating, StatusResolved, StatusFalsePositive:
		return true
	}
	return false
}

// Threat is a recorded security event with its computed risk assessment.
type Threat struct {
	ID          string `json:"id"`
	Type        string `json:"type"`        // category: "phishing", "brute_force", etc.
	Description string `json:"description"` // analyst-facing detail
	Source      string `json:"source,omitempty"`
	Status      string `json:"status"`
	Room        string `json:"room,omitempty"` // alert scope; empty means default

	// Risk assessment attached at creation time
	RiskScore float64            `json:"riskScore"`
	RiskLabel scoring.Label      `json:"riskLabel"`
	RiskTerms map[string]float64 `json:"riskTerms,omitempty"`

	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// Query filters threat listings.
type Query struct {
	Type   string // filter by category, empty means all
	Status string // filter by status, empty means all
	Label  string // filter by risk label, empty means all
	Limit  int
	Offset int
}

// Stats summarizes the threat corpus for the dashboard header.
type Stats struct {
	Total      int64            `json:"total"`
	Open       int64            `json:"open"`
	BySeverity map[string]int64 `json:"bySeverity"`
	ByType     map[string]int64 `json:"byType"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}
