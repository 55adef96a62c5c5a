// Package gateway talks JSON over HTTP to the tax authority's submission
// service and classifies every answer.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
)

const (
	// DefaultTimeout bounds a single request.
	DefaultTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20
	keptBodyBytes  = 4 << 10
)

// Sender sends one request body to an endpoint.
type Sender interface {
	Send(ctx context.Context, endpoint string, body []byte) Outcome
}

// Observer receives the outcome and latency of every Send.
type Observer interface {
	ObserveGateway(endpoint, outcome string, elapsed time.Duration)
}

// Client is the HTTP gateway client of one tenant branch.
type Client struct {
	tenant   fiscal.Tenant
	http     *http.Client
	tracer   trace.Tracer
	logger   *slog.Logger
	observer Observer
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithTimeout overrides DefaultTimeout. A client given through
// WithHTTPClient is copied, never modified.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			c := *cl.http
			c.Timeout = d
			cl.http = &c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// WithObserver reports every Send to o.
func WithObserver(o Observer) Option {
	return func(cl *Client) {
		cl.observer = o
	}
}

// New constructs a client for tenant.
func New(tenant fiscal.Tenant, opts ...Option) (*Client, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		tenant: tenant,
		http:   &http.Client{Timeout: DefaultTimeout},
		tracer: otel.Tracer("github.com/odyssey-erp/fiscalbridge/internal/gateway"),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Send posts body to endpoint and classifies the answer. It never returns
// an error: every failure is an Unreachable outcome.
func (c *Client) Send(ctx context.Context, endpoint string, body []byte) Outcome {
	ctx, span := c.tracer.Start(ctx, "gateway.send", trace.WithAttributes(
		attribute.String("gateway.endpoint", endpoint),
		attribute.String("gateway.tenant", c.tenant.Key()),
	))
	defer span.End()

	start := time.Now()
	outcome := c.send(ctx, endpoint, body)
	if c.observer != nil {
		c.observer.ObserveGateway(endpoint, outcome.Kind.String(), time.Since(start))
	}
	span.SetAttributes(attribute.String("gateway.outcome", outcome.Kind.String()))
	if outcome.Code != "" {
		span.SetAttributes(attribute.String("gateway.result_code", outcome.Code))
	}
	if outcome.Kind == Unreachable {
		if outcome.Err != nil {
			span.RecordError(outcome.Err)
		}
		span.SetStatus(otelcodes.Error, outcome.Detail())
	}
	c.logger.DebugContext(ctx, "gateway call",
		slog.String("endpoint", endpoint),
		slog.String("outcome", outcome.Kind.String()),
		slog.String("code", outcome.Code),
		slog.Int("status", outcome.Status),
	)
	return outcome
}

func (c *Client) send(ctx context.Context, endpoint string, body []byte) Outcome {
	url := strings.TrimRight(c.tenant.BaseURL, "/") + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Outcome{Kind: Unreachable, Err: fmt.Errorf("gateway: build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.tenant.DeviceSerial != "" {
		req.Header.Set("X-Device-Serial", c.tenant.DeviceSerial)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Outcome{Kind: Unreachable, Err: fmt.Errorf("gateway: %s: %w", endpoint, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Outcome{Kind: Unreachable, Status: resp.StatusCode, Err: fmt.Errorf("gateway: read response: %w", err)}
	}
	return Classify(resp.StatusCode, raw)
}

// Classify maps an HTTP status and response body to an Outcome. Only a 2xx
// answer whose body carries a result code counts as a gateway decision.
func Classify(status int, raw []byte) Outcome {
	if status < 200 || status >= 300 {
		return Outcome{Kind: Unreachable, Status: status, Body: clip(raw)}
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Outcome{Kind: Unreachable, Status: status, Body: clip(raw), Err: fmt.Errorf("gateway: malformed response: %w", err)}
	}
	if env.ResultCode == nil || strings.TrimSpace(*env.ResultCode) == "" {
		return Outcome{Kind: Unreachable, Status: status, Body: clip(raw), Err: errors.New("gateway: response has no result code")}
	}
	code := strings.TrimSpace(*env.ResultCode)
	if code == CodeSuccess {
		return Outcome{Kind: Acknowledged, Code: code, Message: env.ResultMessage, Data: env.Data, Status: status}
	}
	return Outcome{Kind: Rejected, Code: code, Message: env.ResultMessage, Status: status}
}

// Call sends an arbitrary request with the tenant identity merged in and
// returns the data object of a successful answer.
func (c *Client) Call(ctx context.Context, endpoint string, fields map[string]any) (json.RawMessage, error) {
	merged := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		merged[k] = v
	}
	merged["tin"] = c.tenant.TIN
	merged["bhfId"] = c.tenant.BranchID
	body, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode %s: %w", endpoint, err)
	}
	outcome := c.Send(ctx, endpoint, body)
	switch outcome.Kind {
	case Acknowledged:
		return outcome.Data, nil
	case Rejected:
		return nil, fmt.Errorf("gateway: %s rejected: %s", endpoint, outcome.Detail())
	default:
		return nil, fmt.Errorf("gateway: %s unreachable: %s", endpoint, outcome.Detail())
	}
}

func clip(raw []byte) string {
	if len(raw) > keptBodyBytes {
		raw = raw[:keptBodyBytes]
	}
	return string(raw)
}

var _ Sender = (*Client)(nil)
