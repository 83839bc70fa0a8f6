package handlers

import (
	"net/http"

	"shockstream/internal/safety"

	"github.com/gin-gonic/gin"
)

const (
	errUpdatePolicy = "failed to update policy"
	errPersistStop  = "failed to persist emergency stop"
)

// @Summary      Get safety policy
// @Tags         policy
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/v1/policy [get]
func (h *Handler) getPolicy(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.PolicyAdmin.Policy(c.Request.Context()))
}

// @Summary      Patch safety policy
// @Description  Partial update: only fields present in the body are changed. The emergency-stop block has dedicated endpoints.
// @Tags         policy
// @Accept       json
// @Produce      json
// @Success      200   {object}  map[string]interface{}  "resulting policy"
// @Failure      400   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/policy [patch]
func (h *Handler) patchPolicy(c *gin.Context) {
	var patch safety.PolicyPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}

	updated, err := h.services.PolicyAdmin.UpdatePolicy(c.Request.Context(), patch)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errUpdatePolicy, "policy_update_failed", err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

type emergencyStopRequest struct {
	Reason string `json:"reason,omitempty"`
}

// @Summary      Trigger emergency stop
// @Description  Rejects every new command until cleared. Survives restarts.
// @Tags         policy
// @Accept       json
// @Produce      json
// @Param        body  body   emergencyStopRequest  false  "Optional reason"
// @Success      200   {object}  map[string]interface{}
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/policy/emergency-stop [post]
func (h *Handler) triggerEmergencyStop(c *gin.Context) {
	var req emergencyStopRequest
	_ = c.ShouldBindJSON(&req) // body optional

	stop, err := h.services.PolicyAdmin.TriggerEmergencyStop(c.Request.Context(), req.Reason)
	if err != nil {
		// The stop is active in memory even when persistence failed; say so.
		if h.log != nil {
			h.log.Errorw("emergency_stop_persist_failed", "err", err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"emergency_stop": stop,
			"error":          errPersistStop + "; the stop is active but will not survive a restart",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"emergency_stop": stop})
}

// @Summary      Clear emergency stop
// @Tags         policy
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/policy/emergency-stop [delete]
func (h *Handler) clearEmergencyStop(c *gin.Context) {
	if err := h.services.PolicyAdmin.ClearEmergencyStop(c.Request.Context()); err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errPersistStop, "emergency_stop_persist_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}
