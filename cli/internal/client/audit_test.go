package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupServer(t *testing.T, handler http.HandlerFunc) *AuditClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAuditClient(srv.URL, time.Second)
}

func TestNewAuditClient(t *testing.T) {
	c := NewAuditClient("http://localhost:8090", 0)

	assert.Equal(t, "http://localhost:8090", c.baseURL)
	assert.Equal(t, 10*time.Second, c.client.Timeout)
}

func TestPublish(t *testing.T) {
	envelope := []byte(`{"id":"E1","source":"books","detail-type":"Object State Change"}`)

	c := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/events", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, envelope, body)

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"id": "E1"})
	})

	id, err := c.Publish(context.Background(), envelope)
	require.NoError(t, err)
	assert.Equal(t, "E1", id)
}

func TestPublish_ErrorMessage(t *testing.T) {
	c := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "source is required"})
	})

	_, err := c.Publish(context.Background(), []byte(`{}`))
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "source is required", apiErr.Message)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestGetEvent(t *testing.T) {
	c := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/events/E1":
			json.NewEncoder(w).Encode(EventRecord{EventID: "E1", EntityID: "B1", S3Key: "2023/11/14/E1", TS: 1700000000000})
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "record missing: not found"})
		}
	})

	rec, err := c.GetEvent(context.Background(), "E1")
	require.NoError(t, err)
	assert.Equal(t, "2023/11/14/E1", rec.S3Key)

	_, err = c.GetEvent(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListByEntity_Query(t *testing.T) {
	c := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/entities/B1/events", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("from"))
		assert.Equal(t, "", r.URL.Query().Get("to"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"records": []EventRecord{{EventID: "E1"}, {EventID: "E2"}},
			"count":   2,
		})
	})

	recs, err := c.ListByEntity(context.Background(), "B1", Query{From: 100, Limit: 5})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "E2", recs[1].EventID)
}

func TestListByAuthor_EscapesPath(t *testing.T) {
	c := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/authors/a b@x/events", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{"records": []EventRecord{}, "count": 0})
	})

	recs, err := c.ListByAuthor(context.Background(), "a b@x", Query{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestGetArchive_Raw(t *testing.T) {
	c := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2023/11/14/E1", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"x"}`))
	})

	body, err := c.GetArchive(context.Background(), "2023/11/14/E1")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"x"}`, string(body))
}

func TestGetExecution(t *testing.T) {
	c := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/executions/E1", r.URL.Path)
		w.Write([]byte(`{"event_id":"E1","state":"FAILED","failed_step":"WRITE_INDEX",
			"error":"index down","retryable":true,"attempts":2,
			"steps":[{"step":"PERSIST_PAYLOAD","status":"success","duration_ms":3}]}`))
	})

	exec, err := c.GetExecution(context.Background(), "E1")
	require.NoError(t, err)
	assert.Equal(t, "FAILED", exec.State)
	assert.Equal(t, "WRITE_INDEX", exec.FailedStep)
	assert.Equal(t, 2, exec.Attempts)
	require.Len(t, exec.Steps, 1)
	assert.Equal(t, "PERSIST_PAYLOAD", exec.Steps[0].Step)
}

func TestRoute(t *testing.T) {
	c := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/route", r.URL.Path)
		w.Write([]byte(`{"event_id":"E2","matches":[{"rule":"deleted-entities","target":"notification","target_index":0,"message":"gone"}]}`))
	})

	resp, err := c.Route(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "gone", resp.Matches[0].Message)
}

func TestDeadLetters(t *testing.T) {
	c := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"stats":{"messages":1,"bytes":42},"messages":[{"event_id":"E1","rule":"audit-events","target":"workflow","error":"boom","attempts":5}]}`))
	})

	dl, err := c.DeadLetters(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), dl.Stats.Messages)
	require.Len(t, dl.Messages, 1)
	assert.Equal(t, 5, dl.Messages[0].Attempts)
}

func TestDo_StatusWithoutBody(t *testing.T) {
	c := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.GetEvent(context.Background(), "E1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Service Unavailable", apiErr.Message)
}
