package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shockstream/internal/repository"

	"github.com/gin-gonic/gin"
)

const (
	errFromInvalid = "invalid 'from' time; use RFC3339 or YYYY-MM-DD"
	errToInvalid   = "invalid 'to' time; use RFC3339 or YYYY-MM-DD"

	layoutDateTime = "2006-01-02 15:04:05"
	layoutDate     = "2006-01-02"
)

// isDateOnly reports whether the query string represents a date without time component.
func isDateOnly(s string) bool {
	return !strings.ContainsAny(s, "T ")
}

// @Summary      List command history
// @Description  Persisted terminal commands, most recent first. Filter by date (RFC3339, 'YYYY-MM-DD HH:MM:SS', or 'YYYY-MM-DD'; date-only 'to' is end-of-day inclusive), device, user, status, and limit.
// @Tags         history
// @Produce      json
// @Param        from       query  string  false  "Start of range"  example(2025-08-01)
// @Param        to         query  string  false  "End of range. Date-only treated as end of day."  example(2025-08-31)
// @Param        device_id  query  string  false  "Device id"
// @Param        user_id    query  string  false  "Viewer id"
// @Param        status     query  string  false  "Terminal status"  Enums(completed,failed,cancelled)
// @Param        limit      query  int     false  "Max rows (default 100)"
// @Success      200   {object}  map[string]interface{}  "count, records"
// @Failure      400   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/history [get]
func (h *Handler) getHistory(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		from time.Time
		to   time.Time
		err  error
	)
	// Parse 'from' (optional)
	if qs := c.Query("from"); qs != "" {
		from, err = parseQueryTime(qs)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errFromInvalid})
			return
		}
	}
	// Parse 'to' (optional). If only a date is provided, make it end-of-day inclusive.
	if qs := c.Query("to"); qs != "" {
		to, err = parseQueryTime(qs)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errToInvalid})
			return
		}
		if isDateOnly(qs) {
			to = to.Add(24*time.Hour - time.Nanosecond).UTC()
		}
	}
	// Validate range if both provided
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "'from' must be <= 'to'"})
		return
	}

	limit := 0
	if qs := c.Query("limit"); qs != "" {
		v, err := strconv.Atoi(qs)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit'"})
			return
		}
		limit = v
	}

	records, err := h.services.History.List(ctx, repository.HistoryFilter{
		From:     from,
		To:       to,
		DeviceID: c.Query("device_id"),
		UserID:   c.Query("user_id"),
		Status:   strings.ToLower(strings.TrimSpace(c.Query("status"))),
		Limit:    limit,
	})
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to load history", "history_list_failed", err,
			"from", from, "to", to)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(records),
		"records": records,
	})
}

func parseQueryTime(s string) (time.Time, error) {
	// Try multiple accepted formats, normalizing to UTC.
	for _, layout := range []string{time.RFC3339, layoutDateTime, layoutDate} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf(
		"invalid time format %q, expected one of: "+
			"RFC3339 (e.g. 2025-08-27T15:04:05Z), "+
			"'YYYY-MM-DD HH:MM:SS', "+
			"'YYYY-MM-DD'",
		s,
	)
}
