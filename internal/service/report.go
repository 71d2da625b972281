package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/timmy/planmail/internal/domain"
	"github.com/timmy/planmail/internal/errs"
	"github.com/timmy/planmail/internal/logger"
)

// ReportState remembers the last day a report was sent. One instance is
// created per scheduler process and shared by every report trigger.
type ReportState struct {
	mu   sync.Mutex
	last string
}

// NewReportState creates an empty ReportState.
func NewReportState() *ReportState {
	return &ReportState{}
}

// TryMark records day as reported and reports whether it was not already.
func (s *ReportState) TryMark(day string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == day {
		return false
	}
	s.last = day
	return true
}

// Unmark forgets day so a failed report can be retried.
func (s *ReportState) Unmark(day string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == day {
		s.last = ""
	}
}

// ExecutionHistory lists executions started in a time range.
type ExecutionHistory interface {
	ListStartedBetween(ctx context.Context, from, to time.Time) ([]domain.Execution, error)
}

// PlanCatalog resolves plan names.
type PlanCatalog interface {
	ListByIDs(ctx context.Context, ids []uint) ([]domain.Plan, error)
}

// EventCounter counts system log rows by level.
type EventCounter interface {
	CountByLevel(ctx context.Context, from, to time.Time) (map[domain.LogLevel]int64, error)
}

// DailyReport is the summary of one day's deliveries.
type DailyReport struct {
	Day        string
	Executions int
	Success    int
	Fail       int
	Stopped    int
	Plans      []PlanReport
	Errors     int64
	Warnings   int64
}

// PlanReport is one execution line of the report.
type PlanReport struct {
	PlanID   uint
	PlanName string
	Status   domain.ExecutionStatus
	Success  int
	Fail     int
	Duration time.Duration
}

// Level is the report's status prefix.
func (r *DailyReport) Level() string {
	switch {
	case r.Fail > 0 && r.Success == 0:
		return "[ERROR]"
	case r.Fail > 0 || r.Stopped > 0 || r.Errors > 0:
		return "[WARN]"
	default:
		return "[OK]"
	}
}

// DailyReporter emails a summary of the day's executions to the operators.
type DailyReporter struct {
	executions ExecutionHistory
	plans      PlanCatalog
	events     EventCounter
	sender     EmailSender
	recipients []string
	siteName   string
	loc        *time.Location
	state      *ReportState
}

// NewDailyReporter creates a reporter. state guards against sending twice a day.
func NewDailyReporter(executions ExecutionHistory, plans PlanCatalog, events EventCounter, sender EmailSender,
	recipients []string, siteName string, loc *time.Location, state *ReportState) *DailyReporter {
	if loc == nil {
		loc = time.UTC
	}
	if state == nil {
		state = NewReportState()
	}
	return &DailyReporter{
		executions: executions,
		plans:      plans,
		events:     events,
		sender:     sender,
		recipients: recipients,
		siteName:   siteName,
		loc:        loc,
		state:      state,
	}
}

// Build collects the report for the local day containing now.
func (d *DailyReporter) Build(ctx context.Context, now time.Time) (*DailyReport, error) {
	local := now.In(d.loc)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, d.loc)
	to := from.AddDate(0, 0, 1)

	execs, err := d.executions.ListStartedBetween(ctx, from, to)
	if err != nil {
		return nil, errs.Wrap(err, "list executions")
	}

	ids := make([]uint, 0, len(execs))
	for _, e := range execs {
		ids = append(ids, e.PlanID)
	}
	names := map[uint]string{}
	if len(ids) > 0 {
		plans, err := d.plans.ListByIDs(ctx, ids)
		if err != nil {
			return nil, errs.Wrap(err, "load plans")
		}
		for _, p := range plans {
			names[p.ID] = p.Name
		}
	}

	report := &DailyReport{Day: from.Format(domain.DateLayout), Executions: len(execs)}
	for _, e := range execs {
		report.Success += e.SuccessCount
		report.Fail += e.FailCount
		if e.Status == domain.ExecutionStopped {
			report.Stopped++
		}
		line := PlanReport{
			PlanID:   e.PlanID,
			PlanName: names[e.PlanID],
			Status:   e.Status,
			Success:  e.SuccessCount,
			Fail:     e.FailCount,
		}
		if line.PlanName == "" {
			line.PlanName = fmt.Sprintf("plan #%d", e.PlanID)
		}
		if e.StartedAt != nil && e.CompletedAt != nil {
			line.Duration = e.CompletedAt.Sub(*e.StartedAt).Truncate(time.Second)
		}
		report.Plans = append(report.Plans, line)
	}
	sort.SliceStable(report.Plans, func(i, j int) bool { return report.Plans[i].PlanID < report.Plans[j].PlanID })

	counts, err := d.events.CountByLevel(ctx, from, to)
	if err != nil {
		return nil, errs.Wrap(err, "count system logs")
	}
	report.Errors = counts[domain.LogError]
	report.Warnings = counts[domain.LogWarning]
	return report, nil
}

// SendOnce builds and mails the report unless today's was already sent.
// It returns false when the guard suppressed the send.
func (d *DailyReporter) SendOnce(ctx context.Context, now time.Time) (bool, error) {
	day := now.In(d.loc).Format(domain.DateLayout)
	if !d.state.TryMark(day) {
		logger.CtxInfo(ctx, "Daily report for %s already sent", day)
		return false, nil
	}

	report, err := d.Build(ctx, now)
	if err != nil {
		d.state.Unmark(day)
		return false, err
	}

	if len(d.recipients) == 0 {
		logger.CtxWarn(ctx, "No report recipients configured")
		return true, nil
	}

	subject := fmt.Sprintf("%s【%s】日次レポート %s", report.Level(), d.siteName, report.Day)
	body := renderReport(report)
	var failed int
	for _, to := range d.recipients {
		if _, err := d.sender.Send(ctx, Message{To: to, Subject: subject, Body: body}); err != nil {
			failed++
			logger.CtxError(ctx, "Failed to send daily report to %s: %v", to, err)
		}
	}
	if failed == len(d.recipients) {
		d.state.Unmark(day)
		return false, errs.Newf("daily report could not be sent to any of %d recipients", failed)
	}

	logger.With(logger.Fields{logger.FieldCount: report.Executions, logger.FieldStatus: report.Level()}).
		Info(ctx, "Daily report sent for %s", report.Day)
	return true, nil
}

func renderReport(r *DailyReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "日次レポート %s\n\n", r.Day)
	fmt.Fprintf(&b, "配信回数: %d\n送信成功: %d\n送信失敗: %d\n停止: %d\n", r.Executions, r.Success, r.Fail, r.Stopped)
	fmt.Fprintf(&b, "エラーログ: %d / 警告ログ: %d\n", r.Errors, r.Warnings)

	b.WriteString("\nプラン別実行結果\n")
	if len(r.Plans) == 0 {
		b.WriteString("  本日の配信なし\n")
	}
	for _, p := range r.Plans {
		fmt.Fprintf(&b, "  %s: %s (成功 %d / 失敗 %d, %s)\n", p.PlanName, p.Status, p.Success, p.Fail, p.Duration)
	}
	return b.String()
}
