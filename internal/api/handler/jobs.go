package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/planmail/internal/domain"
	"github.com/timmy/planmail/internal/logger"
	"github.com/timmy/planmail/internal/repository"
)

// JobStore is the job storage behind the job endpoints.
type JobStore interface {
	ListByDate(ctx context.Context, date string) ([]domain.Job, error)
	CreateIfAbsent(ctx context.Context, job *domain.Job) error
}

// PlanGetter loads a plan.
type PlanGetter interface {
	Get(ctx context.Context, id uint) (*domain.Plan, error)
}

// JobHandler lists jobs and creates manual sends.
type JobHandler struct {
	jobs       JobStore
	plans      PlanGetter
	loc        *time.Location
	maxRetries int
	now        func() time.Time
}

// NewJobHandler creates a new job handler.
// Parameters:
//   - jobs: job storage.
//   - plans: plan lookup used to validate manual sends.
//   - loc: timezone that defines "today".
//   - maxRetries: retry budget of manual jobs.
//
// Returns:
//   - *JobHandler: initialized handler.
func NewJobHandler(jobs JobStore, plans PlanGetter, loc *time.Location, maxRetries int) *JobHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &JobHandler{jobs: jobs, plans: plans, loc: loc, maxRetries: maxRetries, now: time.Now}
}

func (h *JobHandler) today() string {
	return h.now().In(h.loc).Format(domain.DateLayout)
}

// ListJobs handles GET /api/v1/jobs?date=YYYY-MM-DD. The date defaults to today.
func (h *JobHandler) ListJobs(c *gin.Context) {
	ctx := c.Request.Context()

	date := c.DefaultQuery("date", h.today())
	if _, err := time.Parse(domain.DateLayout, date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}

	jobs, err := h.jobs.ListByDate(ctx, date)
	if err != nil {
		logger.CtxError(ctx, "Failed to list jobs: date=%s, error=%v", date, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "total": len(jobs), "jobs": jobs})
}

// SendRequest is the body of POST /api/v1/plans/:id/send.
type SendRequest struct {
	RecipientID *uint  `json:"recipient_id"`
	Prompt      string `json:"prompt"`
}

// TriggerSend handles POST /api/v1/plans/:id/send. It queues a manual job
// for today; the worker picks it up on its next poll.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *JobHandler) TriggerSend(c *gin.Context) {
	ctx := c.Request.Context()

	planID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid plan ID"})
		return
	}

	var req SendRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	plan, err := h.plans.Get(ctx, uint(planID))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Plan not found"})
			return
		}
		logger.CtxError(ctx, "Failed to load plan %d: %v", planID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load plan"})
		return
	}

	job := &domain.Job{
		PlanID:            plan.ID,
		Date:              h.today(),
		SendType:          domain.SendTypeManual,
		Status:            domain.JobStatusPending,
		MaxRetries:        h.maxRetries,
		TargetRecipientID: req.RecipientID,
		PromptOverride:    req.Prompt,
	}
	if err := h.jobs.CreateIfAbsent(ctx, job); err != nil {
		if errors.Is(err, repository.ErrJobExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "A manual send for this plan is already queued"})
			return
		}
		logger.CtxError(ctx, "Failed to create manual job for plan %d: %v", plan.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job"})
		return
	}

	logger.With(logger.Fields{logger.FieldJobID: job.ID, logger.FieldPlanID: plan.ID}).
		Info(ctx, "Manual send queued: plan=%s, client_ip=%s", plan.Name, c.ClientIP())
	c.JSON(http.StatusAccepted, job)
}
