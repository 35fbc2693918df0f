package apiclient

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

	"techclinic/internal/models"
)

// APIError is a non-2xx response from the TechClinic API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("techclinic api %d: %s", e.StatusCode, e.Message)
}

// StatusCode returns the remote status carried by err, or 502 when the API
// could not be reached or answered with something unusable.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 {
		return apiErr.StatusCode
	}
	return http.StatusBadGateway
}

// Message returns the server's error message carried by err, or fallback.
func Message(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

// Client talks to the TechClinic REST API. A Client is safe for concurrent
// use; WithToken returns a copy bound to one session's bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout. It applies to a copy of the
// HTTP client, whichever option supplied it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the API rooted at baseURL (e.g. https://host/api).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c
}

// WithToken returns a copy of c that authenticates with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.baseURL }

// do sends a JSON request and decodes a 2xx body into out (when non-nil).
// fallback is the error message used when the server gives none.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, fallback string) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("api request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%s: %w", fallback, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read body: %w", fallback, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data, fallback)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", fallback, err)
	}
	return nil
}

// errorMessage extracts the server's {"error": "..."} message.
func errorMessage(body []byte, fallback string) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return fallback
}

// getList fetches a JSON array. A non-array 2xx body decodes as an empty list.
func getList[T any](ctx context.Context, c *Client, path, fallback string) ([]T, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw, fallback); err != nil {
		return nil, err
	}
	items := []T{}
	if len(raw) == 0 || raw[0] != '[' {
		return items, nil
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%s: decode list: %w", fallback, err)
	}
	return items, nil
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/login", body, &out, "Login failed"); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", &APIError{StatusCode: http.StatusBadGateway, Message: "Login response carried no token"}
	}
	return out.Token, nil
}

func (c *Client) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	return getList[models.Customer](ctx, c, "/customers", "Failed to fetch customers")
}

func (c *Client) ListParts(ctx context.Context) ([]models.Part, error) {
	return getList[models.Part](ctx, c, "/parts", "Failed to fetch parts")
}

func (c *Client) ListBoxes(ctx context.Context) ([]models.Box, error) {
	return getList[models.Box](ctx, c, "/boxes", "Failed to fetch boxes")
}

// ListBoxParts fetches the per-box stock entries for one box.
func (c *Client) ListBoxParts(ctx context.Context, boxID string) ([]models.BoxPart, error) {
	return getList[models.BoxPart](ctx, c, "/boxes/"+url.PathEscape(boxID)+"/parts", "Failed to fetch box parts")
}

func (c *Client) ListBoxAlerts(ctx context.Context) ([]models.BoxAlert, error) {
	return getList[models.BoxAlert](ctx, c, "/boxes/alerts", "Failed to fetch alerts")
}

// Count returns GET /{resource}/count.
func (c *Client) Count(ctx context.Context, resource string) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/"+url.PathEscape(resource)+"/count", nil, &out, "Failed to fetch counts"); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *Client) ListRepairJobs(ctx context.Context) ([]models.RepairJob, error) {
	return getList[models.RepairJob](ctx, c, "/repair-jobs", "Failed to fetch repair jobs")
}

// CreateRepairJob posts a new job; the server assigns id and created_at.
func (c *Client) CreateRepairJob(ctx context.Context, job models.NewRepairJob) (models.RepairJob, error) {
	var out models.RepairJob
	err := c.do(ctx, http.MethodPost, "/repair-jobs", job, &out, "Failed to create job")
	return out, err
}

// UpdateRepairJobStatus changes a job's status and notes.
func (c *Client) UpdateRepairJobStatus(ctx context.Context, id string, u models.StatusUpdate) error {
	return c.do(ctx, http.MethodPut, "/repair-jobs/"+url.PathEscape(id)+"/status", u, nil, "Failed to update job")
}

func (c *Client) ListPartsUsed(ctx context.Context, jobID string) ([]models.PartUsage, error) {
	return getList[models.PartUsage](ctx, c, "/repair-jobs/"+url.PathEscape(jobID)+"/parts", "Failed to fetch parts used")
}

// AssignPart records parts consumed by a job.
func (c *Client) AssignPart(ctx context.Context, jobID string, a models.PartAssignment) error {
	return c.do(ctx, http.MethodPost, "/repair-jobs/"+url.PathEscape(jobID)+"/parts", a, nil, "Failed to assign part")
}
