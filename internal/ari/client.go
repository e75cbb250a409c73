// Package ari talks to the PBX's Asterisk REST Interface: outbound REST
// calls that control channels (answer, external media, hangup) and the
// WebSocket event stream that delivers Stasis lifecycle events.
package ari

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/arivox/arivox/internal/faults"
	"github.com/arivox/arivox/internal/observe"
	"github.com/arivox/arivox/internal/resilience"
)

// ControlPlane is the channel-control surface the session manager programs
// against. *Client implements it; tests substitute a mock.
type ControlPlane interface {
	Answer(ctx context.Context, channelID string) error
	StartExternalMedia(ctx context.Context, channelID, externalHost string) error
	Hangup(ctx context.Context, channelID string) error
}

// Compile-time check.
var _ ControlPlane = (*Client)(nil)

const (
	defaultRequestTimeout = 10 * time.Second

	// breakerMaxFailures and breakerResetTimeout guard the REST endpoint:
	// after 5 consecutive failures the breaker opens for 30 s.
	breakerMaxFailures  = 5
	breakerResetTimeout = 30 * time.Second
)

// ClientOption is a functional option for configuring a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Primarily used in
// tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithRetry overrides the per-call retry policy.
func WithRetry(cfg resilience.RetryConfig) ClientOption {
	return func(c *Client) { c.retry = cfg }
}

// WithMetrics records per-operation request latency and outcome on m.
func WithMetrics(m *observe.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// Client issues channel-control REST calls against the ARI base URL with
// basic auth. Every call is retried once after a short backoff and runs
// through a circuit breaker so a dead PBX fails fast instead of piling up
// 10 s timeouts.
type Client struct {
	baseURL   string
	username  string
	password  string
	stasisApp string

	http    *http.Client
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	metrics *observe.Metrics
}

// NewClient creates an ARI REST client. stasisApp is echoed in the
// externalMedia request body so the media leg lands back in our application.
func NewClient(baseURL, username, password, stasisApp string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   baseURL,
		username:  username,
		password:  password,
		stasisApp: stasisApp,
		http:      &http.Client{Timeout: defaultRequestTimeout},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "ari-rest",
			MaxFailures:  breakerMaxFailures,
			ResetTimeout: breakerResetTimeout,
		}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Answer answers the inbound channel.
func (c *Client) Answer(ctx context.Context, channelID string) error {
	return c.do(ctx, "answer", http.MethodPost, fmt.Sprintf("/channels/%s/answer", channelID), nil)
}

// externalMediaRequest is the body of POST /channels/{id}/externalMedia.
type externalMediaRequest struct {
	App          string `json:"app"`
	ExternalHost string `json:"external_host"`
	Format       string `json:"format"`
	Direction    string `json:"direction"`
}

// StartExternalMedia asks the PBX to open a bidirectional slin16 media leg
// to externalHost ("host:port" of our external-media server).
func (c *Client) StartExternalMedia(ctx context.Context, channelID, externalHost string) error {
	body := externalMediaRequest{
		App:          c.stasisApp,
		ExternalHost: externalHost,
		Format:       "slin16",
		Direction:    "both",
	}
	return c.do(ctx, "external_media", http.MethodPost, fmt.Sprintf("/channels/%s/externalMedia", channelID), body)
}

// Hangup tears down the channel.
func (c *Client) Hangup(ctx context.Context, channelID string) error {
	return c.do(ctx, "hangup", http.MethodDelete, fmt.Sprintf("/channels/%s", channelID), nil)
}

// BreakerState exposes the circuit breaker state for health reporting.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// do runs one REST call through the breaker and retry policy, recording
// latency and outcome under the operation name.
func (c *Client) do(ctx context.Context, op, method, path string, body any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return faults.Wrap(faults.Internal, err, "ari: encoding request body")
		}
	}

	began := time.Now()
	err := resilience.Retry(ctx, c.retry, func(ctx context.Context) error {
		return c.breaker.Execute(func() error {
			return c.once(ctx, method, path, payload)
		})
	})
	if c.metrics != nil {
		status := "ok"
		if err != nil {
			status = string(faults.KindOf(err))
		}
		c.metrics.RecordARIRequest(ctx, op, status, time.Since(began).Seconds())
	}
	return err
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte) error {
	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return faults.Wrap(faults.Internal, err, "ari: building request")
	}
	req.SetBasicAuth(c.username, c.password)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return faults.Wrap(faults.NetworkUnavailable, err, "ari: "+method+" "+path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := fmt.Sprintf("ari: %s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(detail))
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return faults.New(faults.SessionNotFound, "%s", msg)
	case resp.StatusCode >= 500:
		return faults.New(faults.NetworkUnavailable, "%s", msg)
	default:
		return faults.New(faults.ProtocolViolation, "%s", msg)
	}
}
