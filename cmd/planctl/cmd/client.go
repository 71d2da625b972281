package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/viper"
)

func newClient() *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimSuffix(viper.GetString("url"), "/")).
		SetTimeout(15*time.Second).
		SetHeader("Content-Type", "application/json")
}

// call performs a request against the ops API and decodes a JSON object reply.
func call(method, path string, body interface{}) (map[string]interface{}, error) {
	var out map[string]interface{}
	req := newClient().R().SetResult(&out).SetError(&out)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		if msg, ok := out["error"].(string); ok {
			return out, fmt.Errorf("%s (HTTP %d)", msg, resp.StatusCode())
		}
		return out, fmt.Errorf("request failed with status code %d", resp.StatusCode())
	}
	return out, nil
}

func pretty(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
