package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// @Summary      List devices
// @Description  Controllable devices owned by the configured account, flattened out of the hub nesting.
// @Tags         devices
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "count, devices"
// @Failure      502  {object}  map[string]string
// @Router       /api/v1/devices [get]
func (h *Handler) listDevices(c *gin.Context) {
	devices, err := h.services.Devices.List(c.Request.Context())
	if err != nil {
		h.logAndJSONError(c, http.StatusBadGateway, "failed to list devices: "+err.Error(), "device_list_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(devices),
		"devices": devices,
	})
}
