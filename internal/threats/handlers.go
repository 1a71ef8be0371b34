package threats

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/securex-labs/securex/internal/alerts"
	"github.com/securex-labs/securex/internal/idgen"
	"github.com/securex-labs/securex/internal/logging"
	"github.com/securex-labs/securex/internal/metrics"
	"github.com/securex-labs/securex/internal/scoring"
	"github.com/securex-labs/securex/internal/traces"
	"github.com/securex-labs/securex/internal/validation"
)

// Handler provides HTTP handlers for threat records.
type Handler struct {
	store   Store
	scorer  *scoring.Scorer
	emitter *alerts.Emitter
}

// NewHandler creates a new threats handler.
func NewHandler(store Store, scorer *scoring.Scorer, emitter *alerts.Emitter) *Handler {
	return &Handler{store: store, scorer: scorer, emitter: emitter}
}

// RegisterRoutes sets up the threat routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/threats", h.CreateThreat)
	r.GET("/threats", h.ListThreats)
	r.GET("/threats/stats", h.GetStats)
	r.GET("/threats/:id", h.GetThreat)
	r.PATCH("/threats/:id/status", h.UpdateStatus)
}

// CreateThreatRequest is the payload for recording a threat.
type CreateThreatRequest struct {
	Type        string                      `json:"type" binding:"required"`
	Description string                      `json:"description"`
	Source      string                      `json:"source"`
	Room        string                      `json:"room"`
	Features    map[string]float64          `json:"features"`
	Baselines   map[string]scoring.Baseline `json:"baselines"`
	Metadata    map[string]interface{}      `json:"metadata"`
}

// CreateThreat handles POST /threats.
// The record is scored on the way in; high and critical results also
// fan out as a real-time alert.
func (h *Handler) CreateThreat(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)

	var req CreateThreatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if req.Room != "" && !validation.IsValidRoom(req.Room) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid room name",
		})
		return
	}

	ctx, span := traces.StartSpan(ctx, "threats.create", traces.ThreatType(req.Type))
	defer span.End()

	score := h.scorer.Score(ctx, scoring.Input{
		Type:      req.Type,
		Features:  req.Features,
		Baselines: req.Baselines,
	})

	t := &Threat{
		ID:          idgen.WithPrefix("thr_"),
		Type:        req.Type,
		Description: validation.SanitizeString(req.Description, validation.MaxStringLength),
		Source:      validation.SanitizeString(req.Source, 256),
		Status:      StatusOpen,
		Room:        req.Room,
		RiskScore:   score.Value,
		RiskLabel:   score.Label,
		RiskTerms:   score.Terms,
		Metadata:    req.Metadata,
	}

	span.SetAttributes(traces.ThreatID(t.ID), traces.Severity(string(t.RiskLabel)), traces.RiskScore(t.RiskScore))

	if err := h.store.Create(ctx, t); err != nil {
		logger.Error("failed to create threat", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create threat",
		})
		return
	}

	metrics.ThreatsCreatedTotal.WithLabelValues(string(t.RiskLabel)).Inc()

	alert := h.emitter.Emit(alerts.Event{
		ID:          t.ID,
		Type:        t.Type,
		Description: t.Description,
		Room:        t.Room,
	}, score)

	logger.Info("threat created",
		"threat_id", t.ID,
		"type", t.Type,
		"score", t.RiskScore,
		"label", t.RiskLabel,
		"alerted", alert != nil,
	)

	c.JSON(http.StatusCreated, gin.H{
		"threat":  t,
		"alerted": alert != nil,
	})
}

// ListThreats handles GET /threats.
func (h *Handler) ListThreats(c *gin.Context) {
	ctx := c.Request.Context()

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := Query{
		Type:   c.Query("type"),
		Status: c.Query("status"),
		Label:  c.Query("label"),
		Limit:  limit,
		Offset: offset,
	}

	list, err := h.store.List(ctx, q)
	if err != nil {
		logging.L(ctx).Error("failed to list threats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list threats",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"threats": list,
		"count":   len(list),
		"limit":   limit,
		"offset":  offset,
	})
}

// GetThreat handles GET /threats/:id.
func (h *Handler) GetThreat(c *gin.Context) {
	t, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrThreatNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Threat not found",
			})
			return
		}
		logging.L(c.Request.Context()).Error("failed to get threat", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to get threat",
		})
		return
	}
	c.JSON(http.StatusOK, t)
}

// UpdateStatusRequest is the payload for a status transition.
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus handles PATCH /threats/:id/status.
func (h *Handler) UpdateStatus(c *gin.Context) {
	ctx := c.Request.Context()

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	t, err := h.store.UpdateStatus(ctx, c.Param("id"), req.Status)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidStatus):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Invalid status value",
			})
		case errors.Is(err, ErrThreatNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Threat not found",
			})
		default:
			logging.L(ctx).Error("failed to update threat status", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to update threat",
			})
		}
		return
	}

	c.JSON(http.StatusOK, t)
}

// GetStats handles GET /threats/stats.
func (h *Handler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()

	stats, err := h.store.GetStats(ctx)
	if err != nil {
		logging.L(ctx).Error("failed to compute threat stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to compute stats",
		})
		return
	}
	c.JSON(http.StatusOK, stats)
}
