package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// @Summary      List queue items
// @Tags         queue
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "count, items"
// @Router       /api/v1/queue [get]
func (h *Handler) getQueue(c *gin.Context) {
	items := h.services.QueueAdmin.Items()
	c.JSON(http.StatusOK, gin.H{
		"count": len(items),
		"items": items,
	})
}

// @Summary      Clear queue
// @Description  Cancels every pending item; the item currently processing finishes.
// @Tags         queue
// @Produce      json
// @Success      200  {object}  map[string]int  "cleared"
// @Router       /api/v1/queue [delete]
func (h *Handler) clearQueue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cleared": h.services.QueueAdmin.Clear()})
}

// @Summary      Pause queue
// @Tags         queue
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /api/v1/queue/pause [post]
func (h *Handler) pauseQueue(c *gin.Context) {
	h.services.QueueAdmin.Pause()
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

// @Summary      Resume queue
// @Tags         queue
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /api/v1/queue/resume [post]
func (h *Handler) resumeQueue(c *gin.Context) {
	h.services.QueueAdmin.Resume()
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

// @Summary      Cancel queue item
// @Description  Only pending items can be cancelled.
// @Tags         queue
// @Produce      json
// @Param        id   path      string  true  "Queue item id"
// @Success      200  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/queue/items/{id} [delete]
func (h *Handler) cancelItem(c *gin.Context) {
	id := c.Param("id")
	if !h.services.QueueAdmin.Cancel(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found or not pending"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled", "id": id})
}

// @Summary      Pipeline statistics
// @Description  Scheduler throughput plus safety usage counters.
// @Tags         queue
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/v1/stats [get]
func (h *Handler) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.QueueAdmin.Stats())
}
