package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/planmail/internal/domain"
	"github.com/timmy/planmail/internal/logger"
	"github.com/timmy/planmail/internal/repository"
	"github.com/timmy/planmail/internal/service"
)

// ExecutionReader reads executions and their items.
type ExecutionReader interface {
	Get(ctx context.Context, id uint) (*domain.Execution, error)
	Items(ctx context.Context, executionID uint) ([]domain.ExecutionItem, error)
}

// FailedResender resends the failed items of an execution.
type FailedResender interface {
	RetryFailed(ctx context.Context, executionID uint) (*service.RetryResult, error)
}

// retryState is the outcome of the last resend of one execution.
type retryState struct {
	Running    bool                 `json:"running"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
	Result     *service.RetryResult `json:"result,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// ExecutionHandler serves execution progress and resends failed items.
type ExecutionHandler struct {
	executions ExecutionReader
	resender   FailedResender

	mu      sync.Mutex
	retries map[uint]*retryState
	wg      sync.WaitGroup
}

// NewExecutionHandler creates a new execution handler.
func NewExecutionHandler(executions ExecutionReader, resender FailedResender) *ExecutionHandler {
	return &ExecutionHandler{
		executions: executions,
		resender:   resender,
		retries:    make(map[uint]*retryState),
	}
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid execution ID"})
		return 0, false
	}
	return uint(id), true
}

// GetExecution handles GET /api/v1/executions/:id.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response with the execution, its items and the last resend).
func (h *ExecutionHandler) GetExecution(c *gin.Context) {
	ctx := c.Request.Context()
	id, ok := parseID(c)
	if !ok {
		return
	}

	exec, err := h.executions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Execution not found"})
			return
		}
		logger.CtxError(ctx, "Failed to load execution %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load execution"})
		return
	}
	items, err := h.executions.Items(ctx, id)
	if err != nil {
		logger.CtxError(ctx, "Failed to load items of execution %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load execution items"})
		return
	}

	resp := gin.H{"execution": exec, "items": items}
	h.mu.Lock()
	if st, ok := h.retries[id]; ok {
		cp := *st
		resp["retry"] = cp
	}
	h.mu.Unlock()
	c.JSON(http.StatusOK, resp)
}

// RetryFailed handles POST /api/v1/executions/:id/retry-failed. The resend
// runs in the background; progress is visible on GetExecution.
func (h *ExecutionHandler) RetryFailed(c *gin.Context) {
	ctx := c.Request.Context()
	id, ok := parseID(c)
	if !ok {
		return
	}

	exec, err := h.executions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Execution not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load execution"})
		return
	}
	if exec.Status == domain.ExecutionRunning {
		c.JSON(http.StatusConflict, gin.H{"error": "Execution is still running"})
		return
	}

	h.mu.Lock()
	if st, ok := h.retries[id]; ok && st.Running {
		h.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "A resend for this execution is already running"})
		return
	}
	st := &retryState{Running: true, StartedAt: time.Now()}
	h.retries[id] = st
	h.mu.Unlock()

	logger.CtxInfo(ctx, "Resend of failed items started: execution_id=%d, client_ip=%s", id, c.ClientIP())

	// Detach from the request so the resend outlives the HTTP call.
	bg := logger.ForExecution(context.WithoutCancel(ctx), id)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		start := time.Now()
		result, err := h.resender.RetryFailed(bg, id)

		finished := time.Now()
		h.mu.Lock()
		st.Running = false
		st.FinishedAt = &finished
		st.Result = result
		if err != nil {
			st.Error = err.Error()
		}
		h.mu.Unlock()

		entry := logger.With(logger.Fields{logger.FieldDurationMs: time.Since(start).Milliseconds()})
		if err != nil {
			entry.Error(bg, "Resend of failed items ended with error: %v", err)
			return
		}
		entry.Info(bg, "Resend of failed items finished: retried=%d, succeeded=%d, failed=%d, skipped=%d",
			result.Retried, result.Succeeded, result.Failed, result.Skipped)
	}()

	c.JSON(http.StatusAccepted, gin.H{"message": "Resend started", "execution_id": id})
}

// Wait blocks until background resends finish. Used on shutdown.
func (h *ExecutionHandler) Wait() {
	h.wg.Wait()
}
