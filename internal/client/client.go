// Package client is a small HTTP client for the churn inference API.
package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"churn-service/internal/serving"
)

// APIError is a non-2xx response from the inference API.
type APIError struct {
	Status int
	// Message is the "error" field of the body when present, otherwise the raw body.
	Message string
	Field   string
	Detail  string
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("churn api: %d %s (%s: %s)", e.Status, e.Message, e.Field, e.Detail)
	}
	return fmt.Sprintf("churn api: %d %s", e.Status, e.Message)
}

type errorResp struct {
	Error  string `json:"error"`
	Field  string `json:"field"`
	Detail string `json:"detail"`
}

type Client struct {
	base string
	rest *resty.Client
}

func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	r.SetHeader("Accept", "application/json")
	return &Client{base: strings.TrimRight(base, "/"), rest: r}
}

// SampleAccount is a reference account with every request field set.
func SampleAccount() map[string]any {
	return map[string]any{
		"accountlength":              120,
		"internationalplan":          "no",
		"voicemailplan":              "yes",
		"numbervmailmessages":        20,
		"totaldayminutes":            250,
		"totaldaycalls":              100,
		"totaldaycharge":             40,
		"totaleveminutes":            180,
		"totalevecalls":              90,
		"totalevecharge":             15,
		"totalnightminutes":          200,
		"totalnightcalls":            80,
		"totalnightcharge":           9,
		"totalintlminutes":           10,
		"totalintlcalls":             3,
		"totalintlcharge":            2.5,
		"numbercustomerservicecalls": 2,
	}
}

// Predict scores one account.
func (c *Client) Predict(ctx context.Context, account map[string]any) (serving.Prediction, error) {
	var out serving.Prediction
	err := c.do(ctx, "POST", "/predict", account, &out)
	return out, err
}

// Metrics fetches the request metrics.
func (c *Client) Metrics(ctx context.Context) (serving.MetricsSnapshot, error) {
	var out serving.MetricsSnapshot
	err := c.do(ctx, "GET", "/metrics", nil, &out)
	return out, err
}

// Health returns the decoded health document. A service without a model answers
// with an *APIError carrying status 503.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	out := make(map[string]any)
	err := c.do(ctx, "GET", "/health", nil, &out)
	return out, err
}

// ModelInfo returns the manifest summary of the served run.
func (c *Client) ModelInfo(ctx context.Context) (map[string]any, error) {
	out := make(map[string]any)
	err := c.do(ctx, "GET", "/model/info", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	apiErr := &errorResp{}
	req := c.rest.R().
		SetContext(ctx).
		SetResult(result).
		SetError(apiErr)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, c.base+path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		msg := apiErr.Error
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return &APIError{Status: resp.StatusCode(), Message: msg, Field: apiErr.Field, Detail: apiErr.Detail}
	}
	return nil
}
