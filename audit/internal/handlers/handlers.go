// Package handlers provides HTTP request handlers for the audit service.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/telhawk-systems/telhawk-audit/audit/internal/executions"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/models"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/notification"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/repository"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/storage"
	"github.com/telhawk-systems/telhawk-audit/audit/pkg/event"
	"github.com/telhawk-systems/telhawk-audit/audit/pkg/routing"
	"github.com/telhawk-systems/telhawk-audit/common/httputil"
	"github.com/telhawk-systems/telhawk-audit/common/logging"
)

// DefaultMaxBodyBytes caps inbound envelopes when no limit is configured.
const DefaultMaxBodyBytes = 1 << 20

// Submitter accepts a parsed event for processing. The bus producer and the
// in-process dispatcher both satisfy it.
type Submitter interface {
	Submit(ctx context.Context, ev *event.Event) error
}

// DeadLetters reads back the dead-letter queue.
type DeadLetters interface {
	Stats(ctx context.Context) (*models.DLQStats, error)
	List(ctx context.Context, limit int) ([]models.FailedDispatch, error)
}

// Check reports the readiness of one dependency.
type Check func(ctx context.Context) error

// PingCheck adapts a repository.Pinger.
func PingCheck(p repository.Pinger) Check {
	return p.Ping
}

// Handler provides HTTP handlers for the audit service
type Handler struct {
	engine     *routing.Engine
	submitter  Submitter
	index      repository.Index
	archive    storage.Archive
	executions executions.Store
	formatter  *notification.Formatter
	dlq        DeadLetters
	stats      func() any
	checks     map[string]Check
	maxBody    int64
	logger     *logging.Logger
}

// New creates a Handler. Optional collaborators are attached with the With
// methods.
func New(engine *routing.Engine, submitter Submitter, index repository.Index, archive storage.Archive, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		engine:     engine,
		submitter:  submitter,
		index:      index,
		archive:    archive,
		executions: executions.Noop{},
		formatter:  notification.NewFormatter(),
		checks:     make(map[string]Check),
		maxBody:    DefaultMaxBodyBytes,
		logger:     logger,
	}
}

// WithExecutions sets the execution history store.
func (h *Handler) WithExecutions(store executions.Store) *Handler {
	h.executions = store
	return h
}

// WithDeadLetters enables the dead-letter endpoint.
func (h *Handler) WithDeadLetters(dlq DeadLetters) *Handler {
	h.dlq = dlq
	return h
}

// WithStats sets the source of the /healthz counters.
func (h *Handler) WithStats(fn func() any) *Handler {
	h.stats = fn
	return h
}

// WithCheck registers a readiness check under name.
func (h *Handler) WithCheck(name string, check Check) *Handler {
	h.checks[name] = check
	return h
}

// WithMaxBodyBytes sets the inbound envelope size limit.
func (h *Handler) WithMaxBodyBytes(n int64) *Handler {
	if n > 0 {
		h.maxBody = n
	}
	return h
}

// SubmitResponse acknowledges an accepted event.
type SubmitResponse struct {
	ID string `json:"id"`
}

// RouteResult is one instruction of a dry run.
type RouteResult struct {
	Rule        string `json:"rule"`
	Target      string `json:"target"`
	TargetIndex int    `json:"target_index"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RouteResponse is the outcome of a dry run.
type RouteResponse struct {
	EventID string        `json:"event_id"`
	Matches []RouteResult `json:"matches"`
}

// ListResponse wraps an ordered index scan.
type ListResponse struct {
	Records []*models.IndexRecord `json:"records"`
	Count   int                   `json:"count"`
}

// HealthResponse is returned by /healthz and /readyz.
type HealthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Stats   any               `json:"stats,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// SubmitEvent handles POST /api/v1/events
func (h *Handler) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	ev, status, err := h.readEvent(w, r)
	if err != nil {
		httputil.WriteError(w, status, err.Error())
		return
	}

	if err := h.submitter.Submit(r.Context(), ev); err != nil {
		h.logger.ErrorContext(r.Context(), "submit event failed",
			logging.EventID(ev.ID),
			logging.Error(err),
		)
		httputil.WriteJSON(w, http.StatusBadGateway, map[string]string{
			"id":    ev.ID,
			"error": err.Error(),
		})
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, SubmitResponse{ID: ev.ID})
}

// RouteEvent handles POST /api/v1/route. Nothing is executed; templates are
// rendered so rule authors can see the resulting message.
func (h *Handler) RouteEvent(w http.ResponseWriter, r *http.Request) {
	ev, status, err := h.readEvent(w, r)
	if err != nil {
		httputil.WriteError(w, status, err.Error())
		return
	}

	resp := RouteResponse{EventID: ev.ID, Matches: []RouteResult{}}
	for _, d := range h.engine.Route(ev) {
		res := RouteResult{
			Rule:        d.Rule.Name,
			Target:      string(d.Target.Type),
			TargetIndex: d.TargetIndex,
		}
		if d.Target.Type == routing.TargetNotification {
			n, err := h.formatter.Format(d.Rule, d.Target, ev)
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Message = n.Message
			}
		}
		resp.Matches = append(resp.Matches, res)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// readEvent decodes the body into an Event, assigning an id when absent.
// Unknown envelope fields are kept.
func (h *Handler) readEvent(w http.ResponseWriter, r *http.Request) (*event.Event, int, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("envelope exceeds %d bytes", h.maxBody)
		}
		return nil, http.StatusBadRequest, fmt.Errorf("read body: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("invalid envelope: %v", err)
	}
	if fields == nil {
		return nil, http.StatusBadRequest, errors.New("invalid envelope: not a JSON object")
	}
	if id := bytes.TrimSpace(fields["id"]); len(id) == 0 || bytes.Equal(id, []byte("null")) || bytes.Equal(id, []byte(`""`)) {
		var env event.Envelope
		env.EnsureID()
		encoded, err := json.Marshal(env.ID)
		if err != nil {
			return nil, http.StatusInternalServerError, err
		}
		fields["id"] = encoded
		if body, err = json.Marshal(fields); err != nil {
			return nil, http.StatusBadRequest, fmt.Errorf("invalid envelope: %v", err)
		}
	}

	ev, err := event.Parse(body)
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("invalid envelope: %w", err)
	}
	if ev.SourceSystem == "" {
		return nil, http.StatusBadRequest, errors.New("source is required")
	}
	if ev.DetailType == "" {
		return nil, http.StatusBadRequest, errors.New("detail-type is required")
	}
	return ev, 0, nil
}

// GetEvent handles GET /api/v1/events/{id}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		httputil.WriteError(w, http.StatusBadRequest, "event id required")
		return
	}

	rec, err := h.index.GetByEventID(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

// ListEntityEvents handles GET /api/v1/entities/{entityId}/events
func (h *Handler) ListEntityEvents(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, r.PathValue("entityId"), h.index.ListByEntity)
}

// ListAuthorEvents handles GET /api/v1/authors/{author}/events
func (h *Handler) ListAuthorEvents(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, r.PathValue("author"), h.index.ListByAuthor)
}

type listFunc func(ctx context.Context, value string, q models.Query) ([]*models.IndexRecord, error)

func (h *Handler) list(w http.ResponseWriter, r *http.Request, value string, fn listFunc) {
	if value == "" {
		httputil.WriteError(w, http.StatusBadRequest, "path value required")
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := fn(r.Context(), value, q)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if records == nil {
		records = []*models.IndexRecord{}
	}
	httputil.WriteJSON(w, http.StatusOK, ListResponse{Records: records, Count: len(records)})
}

func parseQuery(r *http.Request) (models.Query, error) {
	var q models.Query
	values := r.URL.Query()

	if s := values.Get("from"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			return q, fmt.Errorf("from must be epoch millis")
		}
		q.From = v
	}
	if s := values.Get("to"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			return q, fmt.Errorf("to must be epoch millis")
		}
		q.To = v
	}
	if q.From != 0 && q.To != 0 && q.From > q.To {
		return q, fmt.Errorf("from must not be after to")
	}
	if s := values.Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			return q, fmt.Errorf("limit must be a non-negative integer")
		}
		q.Limit = v
	}
	return q, nil
}

// GetArchive handles GET /api/v1/archive?key= or ?id=&ts=
func (h *Handler) GetArchive(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	key := values.Get("key")
	if key == "" {
		id, ts := values.Get("id"), values.Get("ts")
		if id == "" || ts == "" {
			httputil.WriteError(w, http.StatusBadRequest, "key or id and ts required")
			return
		}
		millis, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "ts must be epoch millis")
			return
		}
		key = event.DeriveKey(id, millis)
	}

	obj, err := h.archive.Get(r.Context(), key)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	if !obj.Modified.IsZero() {
		w.Header().Set("Last-Modified", obj.Modified.UTC().Format(http.TimeFormat))
	}
	w.Header().Set("X-Archive-Key", obj.Key)
	httputil.WriteRaw(w, http.StatusOK, contentType, obj.Body)
}

// GetExecution handles GET /api/v1/executions/{id}
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		httputil.WriteError(w, http.StatusBadRequest, "event id required")
		return
	}

	exec, err := h.executions.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, exec)
}

// ListDeadLetters handles GET /api/v1/dlq?limit=
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.dlq == nil {
		httputil.WriteError(w, http.StatusNotFound, "dead-letter queue not configured")
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			httputil.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = v
	}

	stats, err := h.dlq.Stats(r.Context())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	failed, err := h.dlq.List(r.Context(), limit)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if failed == nil {
		failed = []models.FailedDispatch{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"stats":    stats,
		"messages": failed,
	})
}

// HealthCheck handles GET /healthz
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Service: "audit"}
	if h.stats != nil {
		resp.Stats = h.stats()
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// ReadyCheck handles GET /readyz
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ready", Service: "audit", Checks: make(map[string]string, len(h.checks))}
	status := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "not_ready"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	httputil.WriteJSON(w, status, resp)
}

func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrConstraintViolation):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrStoreUnavailable):
		h.logger.WarnContext(r.Context(), "store unavailable", logging.Error(err))
		httputil.WriteError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "request failed", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
