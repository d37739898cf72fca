package handlers

import (
	"context"
	"loyalty-app/internal/api/response"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const readinessTimeout = 2 * time.Second

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// HealthHandlers serves liveness and readiness probes
type HealthHandlers struct {
	store Pinger
	now   func() time.Time
}

// NewHealthHandlers creates a new HealthHandlers. store may be nil.
func NewHealthHandlers(store Pinger) *HealthHandlers {
	return &HealthHandlers{store: store, now: time.Now}
}

// HealthHandler answers connectivity probes. It never touches the database.
func (hh *HealthHandlers) HealthHandler(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   hh.now().UTC().Format(time.RFC3339),
	})
}

// ReadyHandler reports 503 while the database is unreachable
func (hh *HealthHandlers) ReadyHandler(c *gin.Context) {
	c.Header("Cache-Control", "no-store")

	if hh.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()

		if err := hh.store.Ping(ctx); err != nil {
			response.SendRetryableError(c, http.StatusServiceUnavailable, "database_unavailable", "Database is not reachable.", 5, err)
			return
		}
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status: "ready",
		Time:   hh.now().UTC().Format(time.RFC3339),
	})
}
