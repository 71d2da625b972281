// Package sheets reads send dates from a Google spreadsheet.
//
// The calendar is the first column (A1:A100) of the first sheet found among
// "配信日程", "Sheet1" and "シート1", falling back to the spreadsheet's first
// sheet. Cells hold one date each in any of the accepted layouts.
package sheets

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/planmail/internal/errs"
	"github.com/timmy/planmail/internal/source"
)

const cellRange = "A1:A100"

// sheetNames are tried in order before falling back to the first sheet.
var sheetNames = []string{"配信日程", "Sheet1", "シート1"}

var dateLayouts = []string{
	"2006-1-2",
	"2006/1/2",
	"2006年1月2日",
	"1/2/2006",
	"1-2-2006",
}

// Config holds the Sheets API settings.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Calendar implements source.CalendarProvider with the Sheets v4 values API.
type Calendar struct {
	client *resty.Client
	apiKey string
}

var _ source.CalendarProvider = (*Calendar)(nil)

type valuesResponse struct {
	Range  string     `json:"range"`
	Values [][]string `json:"values"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewCalendar creates a Calendar client.
func NewCalendar(cfg *Config) *Calendar {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://sheets.googleapis.com"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Calendar{client: client, apiKey: cfg.APIKey}
}

// IsScheduled reports whether day's calendar date appears in the sheet.
func (c *Calendar) IsScheduled(ctx context.Context, ref string, day time.Time) (bool, error) {
	dates, err := c.Dates(ctx, ref)
	if err != nil {
		return false, err
	}
	want := day.Format("2006-01-02")
	for _, d := range dates {
		if d == want {
			return true, nil
		}
	}
	return false, nil
}

// Dates returns every parseable date in the calendar column as YYYY-MM-DD,
// in sheet order. Unparseable cells are skipped.
func (c *Calendar) Dates(ctx context.Context, ref string) ([]string, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, errs.Markf(errs.KindConfig, "calendar reference is empty")
	}

	var lastErr error
	for _, name := range sheetNames {
		values, status, err := c.fetch(ctx, ref, fmt.Sprintf("'%s'!%s", name, cellRange))
		if err == nil {
			return parseColumn(values), nil
		}
		// 400 means the sheet name does not exist; try the next one.
		if status != http.StatusBadRequest {
			return nil, err
		}
		lastErr = err
	}

	values, _, err := c.fetch(ctx, ref, cellRange)
	if err != nil {
		if lastErr != nil {
			return nil, errs.WithDetailf(err, "named sheets also failed: %v", lastErr)
		}
		return nil, err
	}
	return parseColumn(values), nil
}

func (c *Calendar) fetch(ctx context.Context, spreadsheetID, a1 string) ([][]string, int, error) {
	var resp valuesResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"id": spreadsheetID, "range": a1}).
		SetQueryParam("key", c.apiKey).
		SetResult(&resp).
		SetError(&resp).
		Get("/v4/spreadsheets/{id}/values/{range}")
	if err != nil {
		return nil, 0, errs.Wrap(err, "failed to call Sheets API")
	}

	if httpResp.IsError() {
		msg := string(httpResp.Body())
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		err := errs.Newf("Sheets API returned HTTP %d: %s", httpResp.StatusCode(), msg)
		if httpResp.StatusCode() < 500 && httpResp.StatusCode() != http.StatusTooManyRequests {
			err = errs.Mark(err, errs.KindPermanent)
		}
		return nil, httpResp.StatusCode(), err
	}
	return resp.Values, httpResp.StatusCode(), nil
}

func parseColumn(values [][]string) []string {
	var dates []string
	for i, row := range values {
		if i >= 100 {
			break
		}
		if len(row) == 0 {
			continue
		}
		if d, ok := ParseDate(row[0]); ok {
			dates = append(dates, d.Format("2006-01-02"))
		}
	}
	return dates
}

// ParseDate parses a calendar cell in any accepted layout.
func ParseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
