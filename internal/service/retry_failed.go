package service

import (
	"context"
	"errors"

	"github.com/timmy/planmail/internal/domain"
	"github.com/timmy/planmail/internal/errs"
	"github.com/timmy/planmail/internal/logger"
	"github.com/timmy/planmail/internal/repository"
)

// ErrExecutionRunning is returned when a retry targets an execution that is still in progress.
var ErrExecutionRunning = errs.New("execution is still running")

// RetryResult summarizes a resend of failed items.
type RetryResult struct {
	Retried   int `json:"retried"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// RetryFailed resends the failed items of a finished execution. Each resend
// overwrites its failed item, and the execution counts and status are
// recomputed. Recipients that are no longer deliverable are skipped.
func (e *Engine) RetryFailed(ctx context.Context, executionID uint) (*RetryResult, error) {
	exec, err := e.deps.Executions.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status == domain.ExecutionRunning {
		return nil, ErrExecutionRunning
	}
	ctx = logger.ForExecution(logger.WithField(ctx, logger.FieldPlanID, exec.PlanID), exec.ID)

	items, err := e.deps.Executions.FailedItems(ctx, exec.ID)
	if err != nil {
		return nil, errs.Wrap(err, "list failed items")
	}
	result := &RetryResult{}
	if len(items) == 0 {
		return result, nil
	}

	plan, err := e.deps.Plans.Get(ctx, exec.PlanID)
	if err != nil {
		return nil, errs.Wrapf(err, "load plan %d", exec.PlanID)
	}
	questions, err := e.deps.Plans.Questions(ctx, plan.ID)
	if err != nil {
		return nil, errs.Wrap(err, "load plan questions")
	}
	payload, err := e.loadData(ctx, plan)
	if err != nil {
		return nil, err
	}

	hasVars := HasRecipientVariables(plan.Prompt, questions)
	mode := SelectMode(hasVars, payload.Split(), plan.BatchSendEnabled)
	r := e.newRun(ctx, plan, exec, mode, plan.Prompt, questions, payload)
	r.subjectSet = exec.Subject != ""

	logger.With(logger.Fields{logger.FieldCount: len(items)}).Info(ctx, "Retrying failed items")

	var stopped bool
	for _, item := range items {
		if e.deps.Stop.EmergencyStopped(ctx) || ctx.Err() != nil {
			logger.CtxWarn(ctx, "Retry halted by stop request")
			stopped = true
			break
		}

		rec, err := e.deps.Recipients.Get(ctx, item.RecipientID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				result.Skipped++
				continue
			}
			return nil, errs.Wrapf(err, "load recipient %d", item.RecipientID)
		}
		if !rec.IsActive || !rec.Deliverable || !rec.EmailVerified {
			result.Skipped++
			continue
		}

		var in *recipientInput
		if hasVars {
			in, err = r.recipientInput(ctx, *rec)
			if err != nil {
				return nil, err
			}
		}

		before := r.success
		recCtx := logger.ForRecipient(ctx, rec.ID, item.ItemKey)
		switch item.ItemKey {
		case "":
			err = r.deliverScalar(recCtx, *rec, in)
		case domain.ItemKeyBatch:
			err = r.deliverBatch(recCtx, *rec, in)
		default:
			split, ok := payload.Item(item.ItemKey)
			if !ok {
				logger.CtxWarn(recCtx, "Item %s no longer exists in external data, skipping", item.ItemKey)
				result.Skipped++
				continue
			}
			err = r.deliverItem(recCtx, *rec, in, split)
		}
		if err != nil {
			if ctx.Err() != nil {
				stopped = true
				break
			}
			return nil, err
		}

		result.Retried++
		if r.success > before {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	success := exec.SuccessCount + result.Succeeded
	fail := exec.FailCount - result.Succeeded
	if fail < 0 {
		fail = 0
	}
	status := domain.TerminalStatus(success, fail)
	if stopped && exec.Status == domain.ExecutionStopped {
		status = domain.ExecutionStopped
	}
	if err := e.deps.Executions.Finish(context.WithoutCancel(ctx), exec.ID, status, success, fail, e.deps.Now()); err != nil {
		return nil, errs.Wrap(err, "update execution")
	}

	logger.With(logger.Fields{
		"retried":          result.Retried,
		"succeeded":        result.Succeeded,
		logger.FieldStatus: string(status),
	}).Info(ctx, "Retry of failed items finished")

	if stopped {
		return result, ErrStopped
	}
	return result, nil
}
