// Package crm is the HTTP client for the backend member-record service. It
// issues one call per record category and returns the service's uniform
// envelope unchanged.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"memberportal/api/internal/member"
)

var ErrUnauthorized = errors.New("crm: token rejected")

// TransportError wraps a failure to reach the service at all.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("crm %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// ServiceError is a response the service produced but marked as failed,
// either by status code or by success:false in the envelope.
type ServiceError struct {
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("crm: status %d", e.Status)
	}
	return fmt.Sprintf("crm: %s (status %d)", e.Message, e.Status)
}

// TokenSource supplies the bearer token for CRM calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed service token taken from configuration.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(t)) == "" {
		return "", ErrUnauthorized
	}
	return string(t), nil
}

// Classification is the body of the member category endpoint.
type Classification struct {
	Category member.Tier    `json:"category"`
	Details  map[string]any `json:"details"`
}

// Client talks to the CRM record service.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	logger  *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		tokens:  tokens,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch reads one category of a member record.
func (c *Client) Fetch(ctx context.Context, id member.ID, category member.Category) (member.Envelope, error) {
	return c.do(ctx, http.MethodGet, c.recordURL(id, string(category)), nil)
}

// Update writes one category of a member record.
func (c *Client) Update(ctx context.Context, id member.ID, category member.Category, payload any) (member.Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return member.Envelope{}, fmt.Errorf("encode %s payload: %w", category, err)
	}
	return c.do(ctx, http.MethodPut, c.recordURL(id, string(category)), body)
}

// Classify asks the service which tier the member belongs to. The endpoint
// answers either with a bare {category, details} body or wrapped in the
// usual envelope; both are accepted.
func (c *Client) Classify(ctx context.Context, id member.ID) (Classification, error) {
	raw, err := c.roundTrip(ctx, http.MethodGet, c.recordURL(id, "category"), nil)
	if err != nil {
		return Classification{}, err
	}

	var wrapped struct {
		Success *bool           `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return Classification{}, fmt.Errorf("decode classification: %w", err)
	}
	body := raw
	if wrapped.Success != nil {
		if !*wrapped.Success {
			return Classification{}, &ServiceError{Status: http.StatusOK, Message: wrapped.Error}
		}
		body = wrapped.Data
	}

	var out Classification
	if err := json.Unmarshal(body, &out); err != nil {
		return Classification{}, fmt.Errorf("decode classification: %w", err)
	}
	if strings.TrimSpace(string(out.Category)) == "" {
		return Classification{}, &ServiceError{Status: http.StatusOK, Message: "classification missing category"}
	}
	return out, nil
}

func (c *Client) recordURL(id member.ID, leaf string) string {
	return c.baseURL + "/member/" + url.PathEscape(string(id)) + "/" + leaf
}

func (c *Client) do(ctx context.Context, method, target string, body []byte) (member.Envelope, error) {
	raw, err := c.roundTrip(ctx, method, target, body)
	if err != nil {
		return member.Envelope{}, err
	}
	var env member.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return member.Envelope{}, fmt.Errorf("decode crm envelope: %w", err)
	}
	if !env.Success {
		return member.Envelope{}, &ServiceError{Status: http.StatusOK, Message: env.Error}
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	return env, nil
}

// roundTrip performs one authenticated call and returns the body of a
// successful (2xx) response.
func (c *Client) roundTrip(ctx context.Context, method, target string, body []byte) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("crm token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build crm request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: method + " " + target, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("crm request",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(started)),
	)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrUnauthorized
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &TransportError{Op: "read " + target, Err: err}
	}
	if resp.StatusCode >= 400 {
		var env member.Envelope
		_ = json.Unmarshal(raw, &env)
		return nil, &ServiceError{Status: resp.StatusCode, Message: env.Error}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &ServiceError{Status: resp.StatusCode, Message: "empty response"}
	}
	return raw, nil
}
