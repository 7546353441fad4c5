package api

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

	"github.com/thruflo/ppgcam/internal/logging"
)

// DefaultTimeout bounds each request.
const DefaultTimeout = 30 * time.Second

const maxErrorBody = 512

var (
	// ErrServer is matched by every *StatusError.
	ErrServer = errors.New("server error")
	// ErrUnsuccessful is returned when a 2xx response reports success=false
	// or lacks the expected payload.
	ErrUnsuccessful = errors.New("request unsuccessful")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Is reports ErrServer so callers can match any status failure.
func (e *StatusError) Is(target error) bool {
	return target == ErrServer
}

// Client talks to the REST service.
type Client struct {
	baseURL string
	token   string
	hc      *http.Client
	logger  *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken authorizes requests with a bearer token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.hc = hc
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.hc = &http.Client{Timeout: d}
		}
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client for baseURL, e.g. https://host/api.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: DefaultTimeout},
		logger:  logging.Component("api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListSubjects returns every subject.
func (c *Client) ListSubjects(ctx context.Context) ([]Subject, error) {
	var resp subjectsResponse
	if err := c.do(ctx, http.MethodGet, "/subjects", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}
	if !resp.Success || resp.Subjects == nil {
		return nil, fmt.Errorf("failed to list subjects: %w", ErrUnsuccessful)
	}
	return resp.Subjects, nil
}

// CreateSubject registers a new subject and returns it as stored.
func (c *Client) CreateSubject(ctx context.Context, req CreateSubjectRequest) (*Subject, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.New("failed to create subject: name is required")
	}
	var resp subjectsResponse
	if err := c.do(ctx, http.MethodPost, "/subjects", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to create subject: %w", err)
	}
	if !resp.Success || resp.Subject == nil {
		return nil, fmt.Errorf("failed to create subject: %w", ErrUnsuccessful)
	}
	return resp.Subject, nil
}

// SubjectHistory returns a subject's measurements and summary stats.
func (c *Client) SubjectHistory(ctx context.Context, subjectID string) (*History, error) {
	if subjectID == "" {
		return nil, errors.New("failed to get history: subject id is required")
	}
	var resp historyResponse
	path := "/subjects/" + url.PathEscape(subjectID) + "/history"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	if !resp.Success || resp.Measurements == nil {
		return nil, fmt.Errorf("failed to get history: %w", ErrUnsuccessful)
	}
	return &resp.History, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	target := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	c.logger.Debug("api request",
		"method", method,
		"url", target,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := strings.TrimSpace(string(data))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return &StatusError{Method: method, URL: target, Code: resp.StatusCode, Body: text}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
