package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-audit/audit/internal/executions"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/models"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/repository"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/storage"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/workflow"
	"github.com/telhawk-systems/telhawk-audit/audit/pkg/event"
	"github.com/telhawk-systems/telhawk-audit/audit/pkg/routing"
	"github.com/telhawk-systems/telhawk-audit/common/logging"
)

const deleteEnvelope = `{"id":"E2","detail-type":"Object State Change","source":"books",
	"detail":{"entity-type":"book","entity-id":"B1","operation":"delete","author":"a@x",
	"ts":"1700000000500"}}`

type mockSubmitter struct {
	mu     sync.Mutex
	events []*event.Event
	err    error
}

func (m *mockSubmitter) Submit(ctx context.Context, ev *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, ev)
	return nil
}

type mockDLQ struct {
	failed []models.FailedDispatch
	err    error
}

func (m *mockDLQ) Stats(ctx context.Context) (*models.DLQStats, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.DLQStats{Messages: uint64(len(m.failed))}, nil
}

func (m *mockDLQ) List(ctx context.Context, limit int) ([]models.FailedDispatch, error) {
	if limit < len(m.failed) {
		return m.failed[:limit], nil
	}
	return m.failed, nil
}

type fixture struct {
	submitter *mockSubmitter
	index     *repository.MemoryIndex
	archive   *storage.MemoryArchive
	history   *executions.Memory
	handler   *Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	engine, err := routing.Default()
	require.NoError(t, err)

	f := &fixture{
		submitter: &mockSubmitter{},
		index:     repository.NewMemoryIndex(),
		archive:   storage.NewMemoryArchive(),
		history:   executions.NewMemory(),
	}
	f.handler = New(engine, f.submitter, f.index, f.archive, logging.Discard()).
		WithExecutions(f.history)
	return f
}

func (f *fixture) seed(t *testing.T, recs ...*models.IndexRecord) {
	t.Helper()
	for _, rec := range recs {
		require.NoError(t, f.index.PutRecord(context.Background(), rec))
	}
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rr.Body).Decode(v))
}

func TestSubmitEvent_Accepted(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(deleteEnvelope))
	rr := httptest.NewRecorder()
	f.handler.SubmitEvent(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)
	var resp SubmitResponse
	decode(t, rr, &resp)
	assert.Equal(t, "E2", resp.ID)

	require.Len(t, f.submitter.events, 1)
	ev := f.submitter.events[0]
	assert.Equal(t, "B1", ev.EntityID)
	assert.Equal(t, deleteEnvelope, string(ev.Raw))
}

func TestSubmitEvent_AssignsID(t *testing.T) {
	f := newFixture(t)
	body := `{"detail-type":"Object State Change","source":"books","x-trace":"t1",
		"detail":{"entity-id":"B1","operation":"insert","ts":"1"}}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))
	rr := httptest.NewRecorder()
	f.handler.SubmitEvent(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)
	var resp SubmitResponse
	decode(t, rr, &resp)
	require.NotEmpty(t, resp.ID)

	require.Len(t, f.submitter.events, 1)
	ev := f.submitter.events[0]
	assert.Equal(t, resp.ID, ev.ID)
	assert.Equal(t, "t1", ev.Fields()["x-trace"], "unknown fields survive id assignment")
}

func TestSubmitEvent_NonStringDetailFields(t *testing.T) {
	f := newFixture(t)
	body := `{"id":"E3","detail-type":"Other","source":"legacy",
		"detail":{"entity-id":42,"author":{"name":"x"},"operation":7}}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))
	rr := httptest.NewRecorder()
	f.handler.SubmitEvent(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, f.submitter.events, 1)
	ev := f.submitter.events[0]
	assert.Equal(t, "42", ev.EntityID)
	assert.Empty(t, ev.Author)
	assert.Equal(t, body, string(ev.Raw))
}

func TestSubmitEvent_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		errMsg string
	}{
		{"not json", `nope`, http.StatusBadRequest, "invalid envelope"},
		{"null body", `null`, http.StatusBadRequest, "not a JSON object"},
		{"detail not an object", `{"id":"E1","source":"s","detail-type":"x","detail":"d"}`, http.StatusBadRequest, "invalid envelope"},
		{"missing source", `{"id":"E1","detail-type":"x"}`, http.StatusBadRequest, "source is required"},
		{"missing detail-type", `{"id":"E1","source":"books"}`, http.StatusBadRequest, "detail-type is required"},
		{"bad ts", `{"id":"E1","source":"s","detail-type":"x","detail":{"ts":"soon"}}`, http.StatusBadRequest, "invalid envelope"},
		{"too large", `{"id":"E1","source":"s","detail-type":"x","pad":"` + strings.Repeat("a", 256) + `"}`, http.StatusRequestEntityTooLarge, "exceeds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.handler.WithMaxBodyBytes(128)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			f.handler.SubmitEvent(rr, req)

			assert.Equal(t, tt.status, rr.Code)
			var resp map[string]string
			decode(t, rr, &resp)
			assert.Contains(t, resp["error"], tt.errMsg)
			assert.Empty(t, f.submitter.events)
		})
	}
}

func TestSubmitEvent_SubmitFailure(t *testing.T) {
	f := newFixture(t)
	f.submitter.err = errors.New("bus down")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(deleteEnvelope))
	rr := httptest.NewRecorder()
	f.handler.SubmitEvent(rr, req)

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	var resp map[string]string
	decode(t, rr, &resp)
	assert.Equal(t, "E2", resp["id"])
	assert.Contains(t, resp["error"], "bus down")
}

func TestRouteEvent_DryRun(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/route", strings.NewReader(deleteEnvelope))
	rr := httptest.NewRecorder()
	f.handler.RouteEvent(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp RouteResponse
	decode(t, rr, &resp)

	assert.Equal(t, "E2", resp.EventID)
	require.Len(t, resp.Matches, 3)
	assert.Equal(t, RouteResult{Rule: "all-events", Target: "log"}, resp.Matches[0])
	assert.Equal(t, RouteResult{Rule: "audit-events", Target: "workflow"}, resp.Matches[1])
	assert.Equal(t, "deleted-entities", resp.Matches[2].Rule)
	assert.Equal(t, "Entity with id B1 has been deleted by a@x", resp.Matches[2].Message)
	assert.Empty(t, f.submitter.events, "dry run submits nothing")
}

func TestRouteEvent_TemplateError(t *testing.T) {
	f := newFixture(t)
	body := `{"id":"E3","detail-type":"Object State Change","source":"books",
		"detail":{"entity-id":"B1","operation":"delete","ts":"1"}}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/route", strings.NewReader(body))
	rr := httptest.NewRecorder()
	f.handler.RouteEvent(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp RouteResponse
	decode(t, rr, &resp)
	require.Len(t, resp.Matches, 3)
	assert.Empty(t, resp.Matches[2].Message)
	assert.Contains(t, resp.Matches[2].Error, "detail.author")
}

func TestRouteEvent_CatchAllOnly(t *testing.T) {
	f := newFixture(t)
	body := `{"id":"E4","detail-type":"Heartbeat","source":"books"}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/route", strings.NewReader(body))
	rr := httptest.NewRecorder()
	f.handler.RouteEvent(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp RouteResponse
	decode(t, rr, &resp)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "all-events", resp.Matches[0].Rule)
}

func TestGetEvent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, &models.IndexRecord{EventID: "E1", EntityID: "B1", Author: "a@x", TS: 100, S3Key: "1970/01/01/E1"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/E1", nil)
	req.SetPathValue("id", "E1")
	rr := httptest.NewRecorder()
	f.handler.GetEvent(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var rec models.IndexRecord
	decode(t, rr, &rec)
	assert.Equal(t, "1970/01/01/E1", rec.S3Key)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/events/missing", nil)
	req.SetPathValue("id", "missing")
	rr = httptest.NewRecorder()
	f.handler.GetEvent(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListEntityEvents(t *testing.T) {
	f := newFixture(t)
	f.seed(t,
		&models.IndexRecord{EventID: "E3", EntityID: "B1", Author: "a@x", TS: 300},
		&models.IndexRecord{EventID: "E1", EntityID: "B1", Author: "a@x", TS: 100},
		&models.IndexRecord{EventID: "E2", EntityID: "B1", Author: "b@x", TS: 200},
		&models.IndexRecord{EventID: "E9", EntityID: "B2", Author: "a@x", TS: 150},
	)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"all", "", []string{"E1", "E2", "E3"}},
		{"from", "?from=200", []string{"E2", "E3"}},
		{"window", "?from=100&to=200", []string{"E1", "E2"}},
		{"limit", "?limit=1", []string{"E1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/entities/B1/events"+tt.query, nil)
			req.SetPathValue("entityId", "B1")
			rr := httptest.NewRecorder()
			f.handler.ListEntityEvents(rr, req)

			require.Equal(t, http.StatusOK, rr.Code)
			var resp ListResponse
			decode(t, rr, &resp)
			ids := make([]string, 0, len(resp.Records))
			for _, rec := range resp.Records {
				ids = append(ids, rec.EventID)
			}
			assert.Equal(t, tt.want, ids)
			assert.Equal(t, len(tt.want), resp.Count)
		})
	}
}

func TestListAuthorEvents_Empty(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/authors/nobody/events", nil)
	req.SetPathValue("author", "nobody")
	rr := httptest.NewRecorder()
	f.handler.ListAuthorEvents(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"records":[],"count":0}`, rr.Body.String())
}

func TestList_BadQuery(t *testing.T) {
	f := newFixture(t)

	for _, q := range []string{"?from=x", "?to=-1", "?limit=many", "?from=300&to=100"} {
		t.Run(q, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/authors/a@x/events"+q, nil)
			req.SetPathValue("author", "a@x")
			rr := httptest.NewRecorder()
			f.handler.ListAuthorEvents(rr, req)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestList_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	failing := &failingIndex{err: fmt.Errorf("scan: %w", models.ErrStoreUnavailable)}
	f.handler.index = failing

	req := httptest.NewRequest(http.MethodGet, "/api/v1/entities/B1/events", nil)
	req.SetPathValue("entityId", "B1")
	rr := httptest.NewRecorder()
	f.handler.ListEntityEvents(rr, req)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

type failingIndex struct {
	repository.Index
	err error
}

func (f *failingIndex) ListByEntity(ctx context.Context, entityID string, q models.Query) ([]*models.IndexRecord, error) {
	return nil, f.err
}

func TestGetArchive(t *testing.T) {
	f := newFixture(t)
	key := event.DeriveKey("E1", 1700000000000)
	require.NoError(t, f.archive.Put(context.Background(), key, []byte(`{"name":"x"}`), "application/json"))

	for _, target := range []string{
		"/api/v1/archive?key=" + key,
		"/api/v1/archive?id=E1&ts=1700000000000",
	} {
		t.Run(target, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, target, nil)
			rr := httptest.NewRecorder()
			f.handler.GetArchive(rr, req)

			require.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, `{"name":"x"}`, rr.Body.String())
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			assert.Equal(t, key, rr.Header().Get("X-Archive-Key"))
		})
	}
}

func TestGetArchive_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		target string
		status int
	}{
		{"/api/v1/archive", http.StatusBadRequest},
		{"/api/v1/archive?id=E1", http.StatusBadRequest},
		{"/api/v1/archive?id=E1&ts=later", http.StatusBadRequest},
		{"/api/v1/archive?id=E1&ts=1", http.StatusNotFound},
		{"/api/v1/archive?key=a//b", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			rr := httptest.NewRecorder()
			f.handler.GetArchive(rr, req)
			assert.Equal(t, tt.status, rr.Code)
		})
	}
}

func TestGetExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.history.Record(ctx, &workflow.Execution{EventID: "E1", State: workflow.StateStart}))
	require.NoError(t, f.history.Record(ctx, &workflow.Execution{EventID: "E1", State: workflow.StateDone, S3Key: "k"}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/executions/E1", nil)
	req.SetPathValue("id", "E1")
	rr := httptest.NewRecorder()
	f.handler.GetExecution(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var exec workflow.Execution
	decode(t, rr, &exec)
	assert.Equal(t, workflow.StateDone, exec.State)
	assert.Equal(t, 1, exec.Attempts)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/executions/E9", nil)
	req.SetPathValue("id", "E9")
	rr = httptest.NewRecorder()
	f.handler.GetExecution(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListDeadLetters(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dlq", nil)
	rr := httptest.NewRecorder()
	f.handler.ListDeadLetters(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code, "not configured")

	f.handler.WithDeadLetters(&mockDLQ{failed: []models.FailedDispatch{
		{EventID: "E1", Rule: "audit-events", Target: "workflow", Error: "boom"},
		{EventID: "E2", Rule: "audit-events", Target: "workflow", Error: "boom"},
	}})

	req = httptest.NewRequest(http.MethodGet, "/api/v1/dlq?limit=1", nil)
	rr = httptest.NewRecorder()
	f.handler.ListDeadLetters(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Stats    models.DLQStats         `json:"stats"`
		Messages []models.FailedDispatch `json:"messages"`
	}
	decode(t, rr, &resp)
	assert.Equal(t, uint64(2), resp.Stats.Messages)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "E1", resp.Messages[0].EventID)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/dlq?limit=0", nil)
	rr = httptest.NewRecorder()
	f.handler.ListDeadLetters(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)
	f.handler.WithStats(func() any { return map[string]int{"processed": 3} })

	rr := httptest.NewRecorder()
	f.handler.HealthCheck(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","service":"audit","stats":{"processed":3}}`, rr.Body.String())
}

func TestReadyCheck(t *testing.T) {
	f := newFixture(t)
	f.handler.WithCheck("index", PingCheck(f.index))

	rr := httptest.NewRecorder()
	f.handler.ReadyCheck(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ready","service":"audit","checks":{"index":"ok"}}`, rr.Body.String())

	f.handler.WithCheck("nats", func(ctx context.Context) error { return errors.New("not connected") })
	rr = httptest.NewRecorder()
	f.handler.ReadyCheck(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var resp HealthResponse
	decode(t, rr, &resp)
	assert.Equal(t, "not_ready", resp.Status)
	assert.Equal(t, "not connected", resp.Checks["nats"])
	assert.Equal(t, "ok", resp.Checks["index"])
}
