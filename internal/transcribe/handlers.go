package transcribe

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/securex-labs/securex/internal/validation"
)

// Handler exposes direct transcription over HTTP, mirroring the
// dashboard's speech capture flow.
type Handler struct {
	client *Client
}

// NewHandler creates a transcription HTTP handler.
func NewHandler(client *Client) *Handler {
	return &Handler{client: client}
}

// RegisterRoutes registers transcription routes on the given group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/transcribe", h.Transcribe)
}

type transcribeRequest struct {
	AudioBase64 string `json:"audioBase64"`
	MimeType    string `json:"mimeType"`
}

// Transcribe handles POST /transcribe
func (h *Handler) Transcribe(c *gin.Context) {
	var req transcribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be valid JSON",
		})
		return
	}

	verrs := validation.Validate(
		validation.Required("audioBase64", req.AudioBase64),
		validation.Required("mimeType", req.MimeType),
	)
	if len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": "audioBase64 and mimeType are required",
			"details": verrs,
		})
		return
	}

	audio, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_audio",
			"message": "audioBase64 must be valid base64",
		})
		return
	}

	text, err := h.client.Transcribe(c.Request.Context(), audio, req.MimeType)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "not_configured",
				"message": "Transcription API key is not configured on the server",
			})
			return
		}
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
		"data":    gin.H{"text": text},
	})
}
