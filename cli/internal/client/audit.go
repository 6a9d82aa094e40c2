package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("not found")

// AuditClient talks to the audit service HTTP API.
type AuditClient struct {
	baseURL string
	client  *http.Client
}

// NewAuditClient creates an AuditClient pointing at the given base URL.
func NewAuditClient(baseURL string, timeout time.Duration) *AuditClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AuditClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response from the audit service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("audit service returned %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// EventRecord is the indexed summary of one event.
type EventRecord struct {
	EventID    string `json:"eventId"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Operation  string `json:"operation"`
	S3Key      string `json:"s3Key"`
	Author     string `json:"author"`
	TS         int64  `json:"ts"`
}

// Query bounds a list call. Zero values are omitted.
type Query struct {
	From  int64
	To    int64
	Limit int
}

func (q Query) values() url.Values {
	v := url.Values{}
	if q.From != 0 {
		v.Set("from", strconv.FormatInt(q.From, 10))
	}
	if q.To != 0 {
		v.Set("to", strconv.FormatInt(q.To, 10))
	}
	if q.Limit != 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

// RouteMatch is one instruction of a dry run.
type RouteMatch struct {
	Rule        string `json:"rule"`
	Target      string `json:"target"`
	TargetIndex int    `json:"target_index"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RouteResponse is the server-side dry run result.
type RouteResponse struct {
	EventID string       `json:"event_id"`
	Matches []RouteMatch `json:"matches"`
}

// ExecutionStep is one workflow step outcome.
type ExecutionStep struct {
	Step       string `json:"step"`
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`
}

// Execution is the latest workflow run of an event.
type Execution struct {
	EventID    string          `json:"event_id"`
	State      string          `json:"state"`
	FailedStep string          `json:"failed_step,omitempty"`
	S3Key      string          `json:"s3_key"`
	Error      string          `json:"error,omitempty"`
	Retryable  bool            `json:"retryable,omitempty"`
	Attempts   int             `json:"attempts,omitempty"`
	Steps      []ExecutionStep `json:"steps"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`
}

// FailedDispatch is a dead-lettered instruction.
type FailedDispatch struct {
	EventID   string    `json:"event_id"`
	Rule      string    `json:"rule"`
	Target    string    `json:"target"`
	Step      string    `json:"step,omitempty"`
	Error     string    `json:"error"`
	Attempts  int       `json:"attempts"`
	Retryable bool      `json:"retryable"`
	FailedAt  time.Time `json:"failed_at"`
}

// DeadLetters is the dead-letter queue summary.
type DeadLetters struct {
	Stats struct {
		Messages uint64 `json:"messages"`
		Bytes    uint64 `json:"bytes"`
	} `json:"stats"`
	Messages []FailedDispatch `json:"messages"`
}

// Publish submits a raw envelope and returns the event id.
func (c *AuditClient) Publish(ctx context.Context, envelope []byte) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/events", nil, envelope, http.StatusAccepted, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Route asks the server which rules an envelope would match.
func (c *AuditClient) Route(ctx context.Context, envelope []byte) (*RouteResponse, error) {
	var resp RouteResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/route", nil, envelope, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetEvent fetches the index record of one event.
func (c *AuditClient) GetEvent(ctx context.Context, id string) (*EventRecord, error) {
	var rec EventRecord
	if err := c.do(ctx, http.MethodGet, "/api/v1/events/"+url.PathEscape(id), nil, nil, http.StatusOK, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListByEntity returns an entity's events ordered by ts.
func (c *AuditClient) ListByEntity(ctx context.Context, entityID string, q Query) ([]EventRecord, error) {
	return c.list(ctx, "/api/v1/entities/"+url.PathEscape(entityID)+"/events", q)
}

// ListByAuthor returns an author's events ordered by ts.
func (c *AuditClient) ListByAuthor(ctx context.Context, author string, q Query) ([]EventRecord, error) {
	return c.list(ctx, "/api/v1/authors/"+url.PathEscape(author)+"/events", q)
}

func (c *AuditClient) list(ctx context.Context, path string, q Query) ([]EventRecord, error) {
	var resp struct {
		Records []EventRecord `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, path, q.values(), nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// GetArchive fetches an archived payload by key.
func (c *AuditClient) GetArchive(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	if err := c.do(ctx, http.MethodGet, "/api/v1/archive", url.Values{"key": {key}}, nil, http.StatusOK, &body); err != nil {
		return nil, err
	}
	return body, nil
}

// GetExecution fetches the latest workflow run of an event.
func (c *AuditClient) GetExecution(ctx context.Context, id string) (*Execution, error) {
	var exec Execution
	if err := c.do(ctx, http.MethodGet, "/api/v1/executions/"+url.PathEscape(id), nil, nil, http.StatusOK, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// DeadLetters lists the oldest dead-lettered instructions.
func (c *AuditClient) DeadLetters(ctx context.Context, limit int) (*DeadLetters, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp DeadLetters
	if err := c.do(ctx, http.MethodGet, "/api/v1/dlq", q, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do performs a request. When out is a *[]byte the raw body is returned.
func (c *AuditClient) do(ctx context.Context, method, path string, query url.Values, body []byte, want int, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != want {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		}
		return apiErr
	}

	if raw, ok := out.(*[]byte); ok {
		*raw = data
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
