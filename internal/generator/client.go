// Package generator talks to the external image-generation webhook and owns
// the style presets and prompt templates sent to it.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"example.com/planwidget/internal/config"
)

const maxResponseBytes = 4 << 20

// ErrNoResult means the webhook answered successfully without a usable image URL.
var ErrNoResult = errors.New("generation response has no image url")

// StatusError reports a non-2xx webhook response.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("generation webhook responded with %s", e.Status)
}

// Request is the payload posted to the generation webhook.
type Request struct {
	Kind           string `json:"action"`
	Target         string `json:"target,omitempty"`
	Prompt         string `json:"prompt"`
	StylePreset    string `json:"stylePreset,omitempty"`
	SourceImageURL string `json:"imageUrl"`
	SessionID      string `json:"sessionId,omitempty"`
	BuilderSlug    string `json:"builderSlug,omitempty"`
	PlanID         string `json:"planId,omitempty"`
}

// Result carries the generated image URL.
type Result struct {
	URL string `json:"url"`
}

// Client captures the HTTP calls issued toward the generation webhook.
type Client struct {
	httpClient *http.Client
	webhookURL string
	extractor  Extractor
}

type Option func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithResultKeys replaces the ordered result-URL keys.
func WithResultKeys(keys []string) Option {
	return func(c *Client) {
		c.extractor = NewExtractor(keys)
	}
}

// NewClient configures a client with a generous timeout since image
// generation routinely takes tens of seconds.
func NewClient(webhookURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		webhookURL: webhookURL,
		extractor:  NewExtractor(config.DefaultResultKeys),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateImage posts req to the webhook and extracts the result URL.
func (c *Client) GenerateImage(ctx context.Context, req Request) (Result, error) {
	if c.webhookURL == "" {
		return Result{}, errors.New("generation webhook url not configured")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("encode generation request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return Result{}, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var payload any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return Result{}, fmt.Errorf("decode generation response: %w", err)
	}
	url, ok := c.extractor.Extract(payload)
	if !ok {
		return Result{}, ErrNoResult
	}
	return Result{URL: url}, nil
}
