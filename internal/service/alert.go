package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/timmy/planmail/internal/logger"
	"github.com/timmy/planmail/internal/metrics"
	"github.com/timmy/planmail/internal/prompts"
)

// Alert is an operator notification.
type Alert struct {
	PlanID   uint
	PlanName string
	Message  string
	Details  map[string]interface{}
}

// AlertNotifier delivers operator alerts. Implementations never fail the caller.
type AlertNotifier interface {
	Notify(ctx context.Context, alert Alert)
}

// MailAlertNotifier emails alerts to a fixed operator list.
type MailAlertNotifier struct {
	sender     EmailSender
	recipients []string
	siteName   string
	now        func() time.Time
}

// NewMailAlertNotifier creates a notifier. With no recipients, alerts are only logged.
func NewMailAlertNotifier(sender EmailSender, recipients []string, siteName string) *MailAlertNotifier {
	return &MailAlertNotifier{sender: sender, recipients: recipients, siteName: siteName, now: time.Now}
}

func (n *MailAlertNotifier) Notify(ctx context.Context, alert Alert) {
	metrics.Alerts.Inc()
	logger.With(logger.Fields{
		logger.FieldPlanID: alert.PlanID,
		"alert":            alert.Message,
	}).Error(ctx, "Operator alert raised")

	if len(n.recipients) == 0 {
		logger.CtxWarn(ctx, "No alert recipients configured, alert not mailed")
		return
	}

	subject := alertSubject(n.siteName, alert.PlanName)
	body := alertBody(alert, n.now())
	for _, to := range n.recipients {
		if _, err := n.sender.Send(ctx, Message{To: to, Subject: subject, Body: body}); err != nil {
			logger.CtxError(ctx, "Failed to send alert to %s: %v", to, err)
		}
	}
}

func alertSubject(siteName, planName string) string {
	target := "システムエラー"
	if planName != "" {
		target = planName
	}
	return fmt.Sprintf("%s【%s】%s", prompts.AlertSubjectPrefix, siteName, target)
}

func alertBody(alert Alert, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "発生時刻: %s\n", at.Format("2006-01-02 15:04:05 MST"))
	if alert.PlanID != 0 {
		fmt.Fprintf(&b, "プラン: %s (ID: %d)\n", alert.PlanName, alert.PlanID)
	}
	fmt.Fprintf(&b, "\n%s\n", alert.Message)

	if len(alert.Details) > 0 {
		keys := make([]string, 0, len(alert.Details))
		for k := range alert.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n詳細:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %v\n", k, alert.Details[k])
		}
	}
	return b.String()
}
