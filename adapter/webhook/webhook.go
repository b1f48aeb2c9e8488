// Package webhook delivers artifact events as signed JSON HTTP POSTs.
//
// Each delivery carries the event type, run id and artifact kind as
// headers so receivers can route without decoding the body. With a secret
// configured the body is signed with HMAC-SHA256. 5xx, 429 and network
// errors are retried with exponential backoff; other 4xx fail at once.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/babi2707/segmark/adapter"
	"github.com/babi2707/segmark/iox"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// Delivery headers.
const (
	HeaderEvent     = "X-Segmark-Event"
	HeaderRunID     = "X-Segmark-Run-Id"
	HeaderKind      = "X-Segmark-Kind"
	HeaderSignature = "X-Segmark-Signature"
)

// Config configures the webhook adapter.
type Config struct {
	// URL is the HTTP endpoint to POST to (required).
	URL string
	// Headers are custom HTTP headers added to each request.
	Headers map[string]string
	// Secret signs each body when set.
	Secret string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// Retries is the number of retry attempts after the first failure.
	Retries int
}

// Adapter publishes artifact events via HTTP POST.
type Adapter struct {
	config Config
	client *http.Client
}

// New creates a webhook adapter from the given config.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Adapter{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Sign returns the signature header value for body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Publish delivers the event. The body is encoded once and every attempt
// sends the same bytes and signature.
func (a *Adapter) Publish(ctx context.Context, event *adapter.ArtifactGeneratedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	headers := http.Header{}
	for k, v := range a.config.Headers {
		headers.Set(k, v)
	}
	headers.Set("Content-Type", "application/json")
	headers.Set(HeaderEvent, event.EventType)
	headers.Set(HeaderRunID, event.RunID)
	headers.Set(HeaderKind, event.Kind)
	if a.config.Secret != "" {
		headers.Set(HeaderSignature, Sign(a.config.Secret, body))
	}

	return adapter.Retry(ctx, "webhook", a.config.Retries, func(ctx context.Context) error {
		return a.deliver(ctx, headers, body)
	}, retriable)
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// retriable reports whether a failed delivery may succeed later.
func retriable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500 || statusErr.Code == http.StatusTooManyRequests
	}
	return true
}

// deliver performs one POST and returns nil on 2xx.
func (a *Adapter) deliver(ctx context.Context, headers http.Header, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header = headers.Clone()

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Close releases idle connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
