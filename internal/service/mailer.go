package service

import (
	"bytes"
	"context"
	"html/template"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/timmy/planmail/internal/errs"
	"github.com/timmy/planmail/internal/metrics"
	"github.com/timmy/planmail/internal/prompts"
)

// Message is one outbound email.
type Message struct {
	To             string
	Subject        string
	Body           string // plain text
	UnsubscribeURL string // optional
}

// EmailSender delivers a message and returns the provider message id.
type EmailSender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// MailerConfig holds configuration for the Resend client.
type MailerConfig struct {
	BaseURL           string
	APIKey            string
	FromEmail         string
	SiteName          string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// ResendSender sends through the Resend HTTP API.
type ResendSender struct {
	client   *resty.Client
	from     string
	siteName string
	limiter  *rate.Limiter
}

// NewResendSender creates a sender. RequestsPerSecond caps the client-side
// request rate across all goroutines sharing the sender.
func NewResendSender(cfg *MailerConfig) *ResendSender {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client.SetTimeout(timeout)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.resend.com"
	}
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}

	from := cfg.FromEmail
	if cfg.SiteName != "" && !strings.Contains(from, "<") {
		from = cfg.SiteName + " <" + from + ">"
	}

	return &ResendSender{
		client:   client,
		from:     from,
		siteName: cfg.SiteName,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
	}
}

type resendRequest struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	Text    string            `json:"text"`
	HTML    string            `json:"html"`
	Headers map[string]string `json:"headers,omitempty"`
}

type resendResponse struct {
	ID string `json:"id"`
}

type resendError struct {
	StatusCode int    `json:"statusCode"`
	Name       string `json:"name"`
	Message    string `json:"message"`
}

var emailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html><body style="font-family:sans-serif;line-height:1.7">
<div style="white-space:pre-wrap">{{.Body}}</div>
{{if .UnsubscribeURL}}<hr><p style="font-size:12px;color:#888">{{.SiteName}} <a href="{{.UnsubscribeURL}}">配信停止</a></p>{{end}}
</body></html>`))

func (s *ResendSender) render(msg Message) (string, error) {
	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, struct {
		Body, UnsubscribeURL, SiteName string
	}{msg.Body, msg.UnsubscribeURL, s.siteName})
	return buf.String(), err
}

// Send delivers msg. 429 is rate limited, other 4xx are permanent, 5xx and
// network errors are transient.
func (s *ResendSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	html, err := s.render(msg)
	if err != nil {
		return "", errs.Mark(errs.Wrap(err, "render email"), errs.KindPermanent)
	}

	req := resendRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.Body,
		HTML:    html,
	}
	if msg.UnsubscribeURL != "" {
		req.Text += prompts.UnsubscribeFooter + msg.UnsubscribeURL
		req.Headers = map[string]string{"List-Unsubscribe": "<" + msg.UnsubscribeURL + ">"}
	}

	var (
		out    resendResponse
		apiErr resendError
	)
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		ForceContentType("application/json").
		Post("/emails")
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if resp == nil || resp.StatusCode() == 0 {
			metrics.Attempts.WithLabelValues("send", string(errs.KindTransient)).Inc()
			return "", errs.Mark(errs.Wrap(err, "failed to call mail API"), errs.KindTransient)
		}
	}

	if err := classifyStatus(resp, &apiError{Message: apiErr.Message, Type: apiErr.Name}); err != nil {
		metrics.Attempts.WithLabelValues("send", string(errs.KindOf(err))).Inc()
		return "", errs.Wrapf(err, "mail API rejected message to %s", msg.To)
	}
	if out.ID == "" {
		metrics.Attempts.WithLabelValues("send", string(errs.KindInvalidResponse)).Inc()
		return "", errs.Markf(errs.KindInvalidResponse, "mail API accepted message to %s without an id (status: %d)", msg.To, resp.StatusCode())
	}
	metrics.Attempts.WithLabelValues("send", "ok").Inc()
	return out.ID, nil
}
