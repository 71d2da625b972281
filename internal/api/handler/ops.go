package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/planmail/internal/logger"
)

// Switches are the operator controls shared with the scheduler and worker.
type Switches interface {
	EmergencyStopped(ctx context.Context) bool
	SetEmergencyStop(ctx context.Context, active bool) error
	SchedulerHeartbeat(ctx context.Context) (time.Time, bool, error)
}

// Throttle reads and resets the pause between sends.
type Throttle interface {
	Current(ctx context.Context) time.Duration
	Reset(ctx context.Context) error
}

// OpsHandler serves the emergency stop, throttle and liveness endpoints.
type OpsHandler struct {
	switches Switches
	throttle Throttle
}

// NewOpsHandler creates a new ops handler.
func NewOpsHandler(switches Switches, throttle Throttle) *OpsHandler {
	return &OpsHandler{switches: switches, throttle: throttle}
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	SchedulerAlive     bool       `json:"scheduler_alive"`
	SchedulerHeartbeat *time.Time `json:"scheduler_heartbeat,omitempty"`
	EmergencyStop      bool       `json:"emergency_stop"`
	ThrottleSeconds    float64    `json:"throttle_seconds"`
}

// Status handles GET /api/v1/status.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *OpsHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()

	beat, alive, err := h.switches.SchedulerHeartbeat(ctx)
	if err != nil {
		logger.CtxError(ctx, "Failed to read scheduler heartbeat: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read scheduler heartbeat"})
		return
	}

	resp := StatusResponse{
		SchedulerAlive:  alive,
		EmergencyStop:   h.switches.EmergencyStopped(ctx),
		ThrottleSeconds: h.throttle.Current(ctx).Seconds(),
	}
	if alive {
		resp.SchedulerHeartbeat = &beat
	}
	c.JSON(http.StatusOK, resp)
}

// EmergencyStopRequest is the body of POST /api/v1/emergency-stop.
type EmergencyStopRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// EmergencyStop handles POST /api/v1/emergency-stop.
func (h *OpsHandler) EmergencyStop(c *gin.Context) {
	ctx := c.Request.Context()

	var req EmergencyStopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.switches.SetEmergencyStop(ctx, *req.Active); err != nil {
		logger.CtxError(ctx, "Failed to set emergency stop: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update emergency stop"})
		return
	}

	if *req.Active {
		logger.CtxWarn(ctx, "Emergency stop activated: client_ip=%s", c.ClientIP())
	} else {
		logger.CtxInfo(ctx, "Emergency stop released: client_ip=%s", c.ClientIP())
	}
	c.JSON(http.StatusOK, gin.H{"emergency_stop": *req.Active})
}

// ResetThrottle handles POST /api/v1/throttle/reset.
func (h *OpsHandler) ResetThrottle(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.throttle.Reset(ctx); err != nil {
		logger.CtxError(ctx, "Failed to reset throttle: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset throttle"})
		return
	}
	logger.CtxInfo(ctx, "Throttle reset: client_ip=%s", c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"throttle_seconds": h.throttle.Current(ctx).Seconds()})
}
