package repository

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/telhawk-systems/telhawk-audit/audit/internal/models"
)

// OpenSearchConfig holds OpenSearch connection settings.
type OpenSearchConfig struct {
	URL      string
	Username string
	Password string
	Insecure bool
	Index    string
}

// OpenSearchIndex is an Index backed by one OpenSearch index, one document
// per event id.
type OpenSearchIndex struct {
	client *opensearch.Client
	index  string
}

// indexMapping keeps every string field a keyword so term filters are exact.
var indexMapping = map[string]interface{}{
	"settings": map[string]interface{}{
		"number_of_shards":   1,
		"number_of_replicas": 1,
	},
	"mappings": map[string]interface{}{
		"dynamic": "strict",
		"properties": map[string]interface{}{
			"eventId":    map[string]interface{}{"type": "keyword"},
			"entityType": map[string]interface{}{"type": "keyword"},
			"entityId":   map[string]interface{}{"type": "keyword"},
			"operation":  map[string]interface{}{"type": "keyword"},
			"s3Key":      map[string]interface{}{"type": "keyword"},
			"author":     map[string]interface{}{"type": "keyword"},
			"ts":         map[string]interface{}{"type": "long"},
		},
	},
}

func NewOpenSearchIndex(cfg OpenSearchConfig) (*OpenSearchIndex, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.Insecure,
			},
		},
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: httpClient.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	return &OpenSearchIndex{client: client, index: cfg.Index}, nil
}

// Ping checks cluster reachability.
func (s *OpenSearchIndex) Ping(ctx context.Context) error {
	info, err := s.client.Info(s.client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer info.Body.Close()

	if info.IsError() {
		return classifyResponse(info)
	}
	return nil
}

// EnsureIndex creates the index with its mapping when it does not exist.
func (s *OpenSearchIndex) EnsureIndex(ctx context.Context) error {
	exists, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	exists.Body.Close()
	if exists.StatusCode == http.StatusOK {
		return nil
	}

	body, err := json.Marshal(indexMapping)
	if err != nil {
		return err
	}

	res, err := s.client.Indices.Create(
		s.index,
		s.client.Indices.Create.WithBody(bytes.NewReader(body)),
		s.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("failed to create index %s: %w", s.index, classifyResponse(res))
	}
	return nil
}

// PutRecord indexes rec under its event id, replacing any previous version.
func (s *OpenSearchIndex) PutRecord(ctx context.Context, rec *models.IndexRecord) error {
	if rec.EventID == "" {
		return fmt.Errorf("put record: %w: empty event id", models.ErrConstraintViolation)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	res, err := s.client.Index(
		s.index,
		bytes.NewReader(body),
		s.client.Index.WithDocumentID(rec.EventID),
		s.client.Index.WithRefresh("wait_for"),
		s.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("put record %s: %w: %v", rec.EventID, models.ErrStoreUnavailable, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("put record %s: %w", rec.EventID, classifyResponse(res))
	}
	return nil
}

func (s *OpenSearchIndex) GetByEventID(ctx context.Context, eventID string) (*models.IndexRecord, error) {
	res, err := s.client.Get(s.index, eventID, s.client.Get.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w: %v", eventID, models.ErrStoreUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("record %s: %w", eventID, models.ErrNotFound)
	}
	if res.IsError() {
		return nil, fmt.Errorf("get record %s: %w", eventID, classifyResponse(res))
	}

	var doc struct {
		Found  bool               `json:"found"`
		Source models.IndexRecord `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !doc.Found {
		return nil, fmt.Errorf("record %s: %w", eventID, models.ErrNotFound)
	}
	return &doc.Source, nil
}

func (s *OpenSearchIndex) ListByEntity(ctx context.Context, entityID string, q models.Query) ([]*models.IndexRecord, error) {
	return s.list(ctx, "entityId", entityID, q)
}

func (s *OpenSearchIndex) ListByAuthor(ctx context.Context, author string, q models.Query) ([]*models.IndexRecord, error) {
	return s.list(ctx, "author", author, q)
}

func (s *OpenSearchIndex) list(ctx context.Context, field, value string, q models.Query) ([]*models.IndexRecord, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(buildListQuery(field, value, q)); err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(&buf),
		s.client.Search.WithSize(q.EffectiveLimit()),
	)
	if err != nil {
		return nil, fmt.Errorf("search request: %w: %v", models.ErrStoreUnavailable, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search error: %w", classifyResponse(res))
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source models.IndexRecord `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := make([]*models.IndexRecord, 0, len(result.Hits.Hits))
	for i := range result.Hits.Hits {
		out = append(out, &result.Hits.Hits[i].Source)
	}
	return out, nil
}

func buildListQuery(field, value string, q models.Query) map[string]interface{} {
	filters := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{field: value}},
	}
	if q.From != 0 || q.To != 0 {
		rng := map[string]interface{}{}
		if q.From != 0 {
			rng["gte"] = q.From
		}
		if q.To != 0 {
			rng["lte"] = q.To
		}
		filters = append(filters, map[string]interface{}{"range": map[string]interface{}{"ts": rng}})
	}
	return map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"filter": filters},
		},
		"sort": []interface{}{
			map[string]interface{}{"ts": "asc"},
			map[string]interface{}{"eventId": "asc"},
		},
	}
}

// classifyResponse maps an error response onto the store taxonomy.
func classifyResponse(res *opensearchapi.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	switch {
	case res.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", models.ErrNotFound, body)
	case res.StatusCode == http.StatusUnauthorized, res.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s", models.ErrPermissionDenied, res.Status(), body)
	case res.StatusCode == http.StatusBadRequest, res.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s %s", models.ErrConstraintViolation, res.Status(), body)
	default:
		return fmt.Errorf("%w: %s %s", models.ErrStoreUnavailable, res.Status(), body)
	}
}
