package session

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/securex-labs/securex/internal/validation"
)

// Handler exposes call control over HTTP.
type Handler struct {
	coordinator *Coordinator
	defaultRoom string
}

// NewHandler creates a call control handler.
func NewHandler(c *Coordinator, defaultRoom string) *Handler {
	return &Handler{coordinator: c, defaultRoom: defaultRoom}
}

// RegisterRoutes registers call control routes on the given group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/call/start", h.StartCall)
	rg.POST("/call/end", h.EndCall)
	rg.POST("/call/audio", h.AppendAudio)
}

type callSignalRequest struct {
	Room     string                 `json:"room"`
	Metadata map[string]interface{} `json:"metadata"`
}

func (h *Handler) bindSignal(c *gin.Context) (callSignalRequest, bool) {
	var req callSignalRequest
	// Empty body is fine: default room, no metadata
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Request body must be valid JSON",
			})
			return req, false
		}
	}
	if req.Room == "" {
		req.Room = h.defaultRoom
	}
	if !validation.IsValidRoom(req.Room) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_room",
			"message": "room must be 1-64 characters: letters, digits, '-', '_'",
		})
		return req, false
	}
	return req, true
}

// StartCall handles POST /call/start
func (h *Handler) StartCall(c *gin.Context) {
	req, ok := h.bindSignal(c)
	if !ok {
		return
	}

	started := h.coordinator.Start(req.Room, req.Metadata)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"room":    req.Room,
		"started": started,
	})
}

// EndCall handles POST /call/end
func (h *Handler) EndCall(c *gin.Context) {
	req, ok := h.bindSignal(c)
	if !ok {
		return
	}

	ended := h.coordinator.End(req.Room, req.Metadata)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"room":    req.Room,
		"ended":   ended,
	})
}

type audioChunkRequest struct {
	Room        string `json:"room"`
	AudioBase64 string `json:"audioBase64"`
	MimeType    string `json:"mimeType"`
}

// AppendAudio handles POST /call/audio
func (h *Handler) AppendAudio(c *gin.Context) {
	var req audioChunkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be valid JSON",
		})
		return
	}
	if req.Room == "" {
		req.Room = h.defaultRoom
	}

	verrs := validation.Validate(
		validation.Required("audioBase64", req.AudioBase64),
		validation.Required("mimeType", req.MimeType),
	)
	if len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
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

	if err := h.coordinator.AppendAudio(req.Room, audio, req.MimeType); err != nil {
		status := http.StatusConflict
		if errors.Is(err, ErrBufferFull) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{
			"error":   "audio_rejected",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "room": req.Room})
}
