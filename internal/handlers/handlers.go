package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"support-mail-ai-go/internal/metrics"
	"support-mail-ai-go/internal/queue"
	"support-mail-ai-go/internal/scheduler"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	db        *gorm.DB
	queue     *queue.Queue
	scheduler *scheduler.Scheduler
	metrics   *metrics.Metrics
}

// NewHandlers creates new HTTP handlers
func NewHandlers(db *gorm.DB, q *queue.Queue, s *scheduler.Scheduler, m *metrics.Metrics) *Handlers {
	return &Handlers{db: db, queue: q, scheduler: s, metrics: m}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.GET("/queue/stats", h.GetQueueStats)
		api.GET("/queue/dead-letter", h.GetDeadLetterJobs)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once/:task", h.RunTask)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}
