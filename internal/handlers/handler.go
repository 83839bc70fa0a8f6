package handlers

import (
	"net/http"

	"shockstream/internal/logger"
	"shockstream/internal/service"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger) *Handler {
	return &Handler{services: services, log: log}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health endpoint
	router.GET("/health", h.health)

	// Versioned API endpoints
	h.registerAPIRoutes(router)

	// Minimal WebSocket connection (HTTP upgrade) — same port
	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/commands", h.submitCommand)
		h.registerPolicyRoutes(api)
		h.registerQueueRoutes(api)
		api.GET("/stats", h.getStats)
		api.GET("/history", h.getHistory)
		api.GET("/devices", h.listDevices)
	}
}

func (h *Handler) registerPolicyRoutes(api *gin.RouterGroup) {
	policy := api.Group("/policy")
	{
		policy.GET("", h.getPolicy)
		policy.PATCH("", h.patchPolicy)
		policy.POST("/emergency-stop", h.triggerEmergencyStop)
		policy.DELETE("/emergency-stop", h.clearEmergencyStop)
	}
}

func (h *Handler) registerQueueRoutes(api *gin.RouterGroup) {
	queue := api.Group("/queue")
	{
		queue.GET("", h.getQueue)
		queue.DELETE("", h.clearQueue)
		queue.POST("/pause", h.pauseQueue)
		queue.POST("/resume", h.resumeQueue)
		queue.DELETE("/items/:id", h.cancelItem)
	}
}

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}
