package handlers

import (
	"net/http"
	"time"

	"shockstream"
	"shockstream/internal/service"

	"github.com/gin-gonic/gin"
)

const errInvalidBodyPref = "invalid body: "

// Request DTO for command submission.
type commandRequest struct {
	Type       string         `json:"type" binding:"required"` // Shock | Vibrate | Sound
	DeviceID   string         `json:"device_id" binding:"required"`
	Intensity  int            `json:"intensity" binding:"required"`
	DurationMs int            `json:"duration_ms" binding:"required"`
	UserID     string         `json:"user_id,omitempty"`
	Source     string         `json:"source,omitempty"`
	SourceData map[string]any `json:"source_data,omitempty"`

	UserContext shockstream.UserContext `json:"user_context,omitempty"`

	Priority    int        `json:"priority,omitempty"` // 1..10, 10 most urgent
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	ExecutionID string     `json:"execution_id,omitempty"`
	StepIndex   int        `json:"step_index,omitempty"`
}

// SubmitCommandRequest is an exported model for Swagger docs of the submit payload.
type SubmitCommandRequest struct {
	// Command type. Allowed: Shock, Vibrate, Sound
	Type string `json:"type" example:"Vibrate"`
	// Target device id
	DeviceID string `json:"device_id" example:"f7c1a2b3"`
	// Intensity 1..100
	Intensity int `json:"intensity" example:"40"`
	// Duration in milliseconds, 300..30000
	DurationMs int `json:"duration_ms" example:"2000"`
	// Originating viewer id
	UserID string `json:"user_id,omitempty" example:"viewer42"`
	// Trigger source, e.g. gift, chat, channel_points, manual
	Source string `json:"source,omitempty" example:"channel_points"`
	// Queue priority 1..10 (10 most urgent); 0 uses the default
	Priority int `json:"priority,omitempty" example:"5"`
}

// @Summary      Submit command
// @Description  Runs the safety admission check and queues the command for dispatch.
// @Tags         commands
// @Accept       json
// @Produce      json
// @Param        body  body   SubmitCommandRequest  true  "Command payload"
// @Success      202   {object}  map[string]interface{}  "queued, queue_id, position"
// @Failure      400   {object}  map[string]string
// @Failure      409   {object}  map[string]interface{}  "policy rejection with reason"
// @Failure      429   {object}  map[string]string       "queue backpressure"
// @Router       /api/v1/commands [post]
func (h *Handler) submitCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}

	out := h.services.Commands.Submit(c.Request.Context(), service.SubmitRequest{
		Command: shockstream.Command{
			Type:       shockstream.CommandType(req.Type),
			DeviceID:   req.DeviceID,
			Intensity:  req.Intensity,
			DurationMs: req.DurationMs,
			UserID:     req.UserID,
			Source:     req.Source,
			SourceData: req.SourceData,
		},
		UserContext: req.UserContext,
		Priority:    req.Priority,
		Timestamp:   req.Timestamp,
		ExecutionID: req.ExecutionID,
		StepIndex:   req.StepIndex,
	})

	switch {
	case out.Rejected:
		c.JSON(http.StatusConflict, gin.H{
			"rejected":     true,
			"reason":       out.Reason,
			"remaining_ms": out.RemainingMs,
		})
	case !out.Queued:
		c.JSON(http.StatusTooManyRequests, gin.H{"error": out.Message})
	default:
		c.JSON(http.StatusAccepted, gin.H{
			"queued":   true,
			"queue_id": out.QueueID,
			"position": out.Position,
		})
	}
}
