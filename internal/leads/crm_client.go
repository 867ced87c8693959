// Package leads delivers captured leads to the builder's CRM webhook and
// notifies the builder's sales team by email, either through a Temporal
// workflow or directly in-process.
package leads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"example.com/planwidget/internal/capture"
)

// StatusError reports a non-2xx CRM response.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("crm responded with %s", e.Status)
}

// Permanent reports whether retrying the same payload cannot succeed.
func (e *StatusError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 &&
		e.StatusCode != http.StatusRequestTimeout && e.StatusCode != http.StatusTooManyRequests
}

// CRMClient captures the HTTP calls issued toward the CRM webhook.
type CRMClient struct {
	httpClient *http.Client
	webhookURL string
}

// NewCRMClient configures a client with sane defaults. An empty webhookURL
// yields a client that reports itself unconfigured.
func NewCRMClient(webhookURL string, timeout time.Duration) *CRMClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CRMClient{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		webhookURL: webhookURL,
	}
}

func (c *CRMClient) Configured() bool {
	return c != nil && c.webhookURL != ""
}

// LeadPayload is the JSON document posted to the CRM.
type LeadPayload struct {
	Event string       `json:"event"`
	Lead  capture.Lead `json:"lead"`
}

// PostLead sends lead to the CRM webhook. The contact id travels as an
// idempotency key so CRMs can drop retried deliveries.
func (c *CRMClient) PostLead(ctx context.Context, lead capture.Lead) error {
	body, err := json.Marshal(LeadPayload{Event: "lead.captured", Lead: lead})
	if err != nil {
		return fmt.Errorf("encode lead: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", lead.ContactID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return nil
}
