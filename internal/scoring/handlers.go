package scoring

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler exposes scoring over HTTP.
type Handler struct {
	scorer *Scorer
}

// NewHandler creates a scoring HTTP handler.
func NewHandler(scorer *Scorer) *Handler {
	return &Handler{scorer: scorer}
}

// RegisterRoutes registers scoring routes on the given group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/score", h.ScoreEvent)
	rg.GET("/score/recent", h.RecentAssessments)
}

// scoreRequest mirrors the dashboard client's payload: a loose feature
// map (the "type" entry is the categorical signal, everything else
// numeric) plus structured baselines.
type scoreRequest struct {
	Features  map[string]interface{} `json:"features"`
	Baselines map[string]Baseline    `json:"baselines"`
}

// toInput converts the wire payload into a scoring Input. Non-numeric
// feature values are dropped — scoring degrades, it does not reject.
func (r *scoreRequest) toInput() Input {
	in := Input{
		Features:  make(map[string]float64, len(r.Features)),
		Baselines: r.Baselines,
	}
	for name, raw := range r.Features {
		if name == "type" {
			if t, ok := raw.(string); ok {
				in.Type = t
			}
			continue
		}
		switch v := raw.(type) {
		case float64:
			in.Features[name] = v
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				in.Features[name] = f
			}
		}
	}
	return in
}

// ScoreEvent handles POST /score
func (h *Handler) ScoreEvent(c *gin.Context) {
	var req scoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be valid JSON",
		})
		return
	}

	result := h.scorer.Score(c.Request.Context(), req.toInput())

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"score":   result.Value,
		"label":   result.Label,
	})
}

// RecentAssessments handles GET /score/recent
func (h *Handler) RecentAssessments(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	assessments, err := h.scorer.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list assessments",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"count":   len(assessments),
		"data":    assessments,
	})
}
