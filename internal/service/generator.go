package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/planmail/internal/errs"
	"github.com/timmy/planmail/internal/logger"
	"github.com/timmy/planmail/internal/metrics"
	"github.com/timmy/planmail/internal/prompts"
)

// GenerateRequest is one content generation call.
type GenerateRequest struct {
	Prompt       string
	SystemPrompt string
	Model        string
}

// Content is a generated email.
type Content struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// ContentGenerator turns a resolved prompt into a subject and body.
type ContentGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Content, error)
}

// GeneratorConfig holds configuration for the chat completion client.
type GeneratorConfig struct {
	BaseURL      string
	APIKey       string
	DefaultModel string
	Temperature  float64
	Timeout      time.Duration
}

// OpenAIGenerator calls an OpenAI-compatible chat completion endpoint in JSON mode.
type OpenAIGenerator struct {
	client       *resty.Client
	endpoint     string
	defaultModel string
	temperature  float64
}

// NewOpenAIGenerator creates a generator client.
// Parameters:
//   - cfg: endpoint, key, default model and request timeout.
//
// Returns:
//   - *OpenAIGenerator: initialized client wrapper.
func NewOpenAIGenerator(cfg *GeneratorConfig) *OpenAIGenerator {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 240 * time.Second
	}
	client.SetTimeout(timeout)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &OpenAIGenerator{
		client:       client,
		endpoint:     strings.TrimRight(baseURL, "/") + "/chat/completions",
		defaultModel: model,
		temperature:  cfg.Temperature,
	}
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
	Temperature    *float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// supportsTemperature is false for reasoning model families that reject the parameter.
func supportsTemperature(model string) bool {
	m := strings.ToLower(model)
	for _, p := range []string{"o1", "o3", "gpt-5"} {
		if strings.HasPrefix(m, p) {
			return false
		}
	}
	return true
}

// Generate performs one generation call. Retrying is the caller's job;
// the only internal retry drops an unsupported temperature parameter.
func (g *OpenAIGenerator) Generate(ctx context.Context, req GenerateRequest) (*Content, error) {
	model := req.Model
	if model == "" {
		model = g.defaultModel
	}

	body := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: prompts.SystemPrompt(req.SystemPrompt, req.Prompt)},
			{Role: "user", Content: req.Prompt},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
	}
	if supportsTemperature(model) && g.temperature > 0 {
		t := g.temperature
		body.Temperature = &t
	}

	content, err := g.call(ctx, body)
	if err != nil && body.Temperature != nil && strings.Contains(err.Error(), "temperature") {
		logger.CtxWarn(ctx, "Model %s rejected temperature, retrying without it", model)
		body.Temperature = nil
		content, err = g.call(ctx, body)
	}
	if err != nil {
		metrics.Attempts.WithLabelValues("generate", string(errs.KindOf(err))).Inc()
		return nil, err
	}
	metrics.Attempts.WithLabelValues("generate", "ok").Inc()
	return content, nil
}

func (g *OpenAIGenerator) call(ctx context.Context, body chatRequest) (*Content, error) {
	var resp chatResponse
	httpResp, err := g.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&resp).
		SetError(&resp).
		ForceContentType("application/json").
		Post(g.endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// A body that fails to decode still has a usable status code.
		if httpResp == nil || httpResp.StatusCode() == 0 {
			return nil, errs.Mark(errs.Wrap(err, "failed to call generator API"), errs.KindTransient)
		}
	}

	if err := classifyStatus(httpResp, resp.Error); err != nil {
		return nil, errs.Wrap(err, "generator API returned error")
	}

	if len(resp.Choices) == 0 {
		return nil, errs.Markf(errs.KindInvalidResponse, "no choices in generator response (status: %d)", httpResp.StatusCode())
	}

	var content Content
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &content); err != nil {
		return nil, errs.Mark(errs.Wrap(err, "generator response is not JSON"), errs.KindInvalidResponse)
	}
	if strings.TrimSpace(content.Subject) == "" || strings.TrimSpace(content.Body) == "" {
		return nil, errs.Markf(errs.KindInvalidResponse, "generator response missing subject or body")
	}
	return &content, nil
}

// classifyStatus maps a non-2xx response to an error kind.
func classifyStatus(resp *resty.Response, apiErr *apiError) error {
	code := resp.StatusCode()
	if code >= 200 && code < 300 {
		return nil
	}
	msg := fmt.Sprintf("HTTP %d", code)
	if apiErr != nil && apiErr.Message != "" {
		msg = fmt.Sprintf("HTTP %d: %s", code, apiErr.Message)
	} else if len(resp.Body()) > 0 {
		msg = fmt.Sprintf("HTTP %d: %s", code, string(resp.Body()))
	}

	switch {
	case code == http.StatusTooManyRequests:
		return errs.Markf(errs.KindRateLimited, "%s", msg)
	case code >= 500:
		return errs.Markf(errs.KindTransient, "%s", msg)
	default:
		return errs.Markf(errs.KindPermanent, "%s", msg)
	}
}
