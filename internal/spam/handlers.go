package spam

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// maxBatchSize caps one classification request; larger batches should be
// chunked by the caller.
const maxBatchSize = 500

// Handler exposes spam classification over HTTP.
type Handler struct {
	client *Client
}

// NewHandler creates a spam classification HTTP handler.
func NewHandler(client *Client) *Handler {
	return &Handler{client: client}
}

// RegisterRoutes registers classification routes on the given group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/spam/predict", h.Predict)
}

type predictRequest struct {
	Texts []string `json:"texts"`
}

// Predict handles POST /spam/predict
func (h *Handler) Predict(c *gin.Context) {
	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be valid JSON",
		})
		return
	}

	if len(req.Texts) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": "texts array is required",
		})
		return
	}
	if len(req.Texts) > maxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "batch_too_large",
			"message": "texts array exceeds the batch limit",
		})
		return
	}

	labels, err := h.client.Predict(c.Request.Context(), req.Texts)
	if err != nil {
		var ue *UpstreamError
		if errors.As(err, &ue) && ue.Status != 0 {
			// Forward the upstream status and body verbatim for diagnostics
			c.JSON(ue.Status, gin.H{
				"error":   "upstream_error",
				"message": ue.Body,
			})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "upstream_unreachable",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"labels":  labels,
	})
}
