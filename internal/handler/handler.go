package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"inquiry-relay-go/internal/model"
	"inquiry-relay-go/internal/queue"
	"inquiry-relay-go/internal/service"
)

const healthCheckTimeout = 5 * time.Second

// InquiryStore is the read side of the inquiry store
type InquiryStore interface {
	Recent(ctx context.Context, n int) ([]model.InquiryRecord, error)
	Get(ctx context.Context, externalID string) (*model.InquiryRecord, error)
	Stats(ctx context.Context) (model.StatusStats, error)
	Ping(ctx context.Context) error
}

// QueueInspector exposes the queue snapshot
type QueueInspector interface {
	Status() queue.Status
}

// Poller controls the poll scheduler
type Poller interface {
	Start() error
	Stop() error
	IsRunning() bool
	RunOnce(ctx context.Context) (service.CheckResult, error)
	NextRun() time.Time
	LastRun() (time.Time, error)
	Schedule() string
}

// Pinger checks a dependency
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers contains all HTTP handlers
type Handlers struct {
	store      InquiryStore
	queue      QueueInspector
	poller     Poller
	generation Pinger
	gatherer   prometheus.Gatherer
}

// NewHandlers creates new HTTP handlers
func NewHandlers(store InquiryStore, q QueueInspector, poller Poller, generation Pinger, gatherer prometheus.Gatherer) *Handlers {
	return &Handlers{
		store:      store,
		queue:      q,
		poller:     poller,
		generation: generation,
		gatherer:   gatherer,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/status", h.Status)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		api.GET("/inquiries", h.ListInquiries)
		api.GET("/inquiries/:external_id", h.GetInquiry)

		api.POST("/poller/start", h.StartPoller)
		api.POST("/poller/stop", h.StopPoller)
		api.POST("/poller/run-once", h.RunOnce)
		api.GET("/poller/status", h.GetPollerStatus)
	}
}

// Status reports the queue, poller and store state
func (h *Handlers) Status(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		logrus.Errorf("Failed to get inquiry stats: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to get inquiry stats",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, StatusResponse{
		Queue:  h.queue.Status(),
		Poller: h.pollerStatus(),
		Store:  stats,
	})
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	response := HealthResponse{
		Status:            "ok",
		Timestamp:         time.Now(),
		Store:             "ok",
		GenerationService: "ok",
		Poller:            "stopped",
		Queue:             "idle",
	}

	if err := h.store.Ping(ctx); err != nil {
		response.Status = "error"
		response.Store = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	if h.generation != nil {
		if err := h.generation.Ping(ctx); err != nil {
			response.GenerationService = "error"
			logrus.Warnf("Generation service health check failed: %v", err)
		}
	}

	if h.poller.IsRunning() {
		response.Poller = "running"
	}
	if h.queue.Status().IsProcessing {
		response.Queue = "processing"
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

func (h *Handlers) pollerStatus() PollerStatus {
	status := PollerStatus{
		IsRunning: h.poller.IsRunning(),
		Schedule:  h.poller.Schedule(),
	}
	if next := h.poller.NextRun(); !next.IsZero() {
		status.NextRun = &next
	}
	last, err := h.poller.LastRun()
	if !last.IsZero() {
		status.LastRun = &last
	}
	if err != nil {
		status.LastError = err.Error()
	}
	return status
}
