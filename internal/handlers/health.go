package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"pcbrecon-backend/internal/models"
)

// Checker is a dependency checked by the readiness endpoint.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// Pinger is satisfied by database.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

type pingChecker struct {
	name   string
	pinger Pinger
}

// NewPingChecker adapts anything with Ping to a Checker.
func NewPingChecker(name string, p Pinger) Checker {
	return &pingChecker{name: name, pinger: p}
}

func (c *pingChecker) Name() string { return c.name }

func (c *pingChecker) Check(ctx context.Context) error {
	return c.pinger.Ping(ctx)
}

type HealthHandler struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{timeout: 5 * time.Second}
}

func (h *HealthHandler) RegisterChecker(c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, c)
}

// Health godoc
// @Summary     Health check
// @Description Returns ok while the process is running
// @Tags        health
// @Produce     json
// @Success     200 {object} models.HealthResponse
// @Router      /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, models.HealthResponse{Status: "ok"})
}

// Ready godoc
// @Summary     Readiness check
// @Description Pings the database and other registered dependencies
// @Tags        health
// @Produce     json
// @Success     200 {object} models.HealthResponse
// @Failure     503 {object} models.HealthResponse
// @Router      /ready [get]
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	h.mu.RLock()
	checkers := make([]Checker, len(h.checkers))
	copy(checkers, h.checkers)
	h.mu.RUnlock()

	resp := models.HealthResponse{Status: "ready", Checks: make(map[string]string, len(checkers))}
	status := http.StatusOK
	for _, checker := range checkers {
		if err := checker.Check(ctx); err != nil {
			resp.Checks[checker.Name()] = err.Error()
			resp.Status = "not_ready"
			status = http.StatusServiceUnavailable
		} else {
			resp.Checks[checker.Name()] = "ok"
		}
	}
	c.JSON(status, resp)
}
