package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-audit/audit/internal/models"
)

// runIndexSuite exercises the Index contract against a fresh backend.
func runIndexSuite(t *testing.T, newIndex func(t *testing.T) Index) {
	ctx := context.Background()

	seed := func(t *testing.T, idx Index) {
		t.Helper()
		for _, rec := range []*models.IndexRecord{
			{EventID: "E3", EntityType: "book", EntityID: "B1", Operation: "update", S3Key: "2023/11/14/E3", Author: "a@x", TS: 300},
			{EventID: "E1", EntityType: "book", EntityID: "B1", Operation: "insert", S3Key: "2023/11/14/E1", Author: "a@x", TS: 100},
			{EventID: "E2", EntityType: "book", EntityID: "B1", Operation: "update", S3Key: "2023/11/14/E2", Author: "b@x", TS: 200},
			{EventID: "E0", EntityType: "book", EntityID: "B1", Operation: "update", S3Key: "2023/11/14/E0", Author: "b@x", TS: 200},
			{EventID: "E9", EntityType: "book", EntityID: "B2", Operation: "delete", Author: "a@x", TS: 150},
		} {
			require.NoError(t, idx.PutRecord(ctx, rec))
		}
	}

	ids := func(recs []*models.IndexRecord) []string {
		out := make([]string, len(recs))
		for i, r := range recs {
			out[i] = r.EventID
		}
		return out
	}

	t.Run("point lookup", func(t *testing.T) {
		idx := newIndex(t)
		seed(t, idx)

		rec, err := idx.GetByEventID(ctx, "E9")
		require.NoError(t, err)
		assert.Equal(t, &models.IndexRecord{EventID: "E9", EntityType: "book", EntityID: "B2", Operation: "delete", Author: "a@x", TS: 150}, rec)

		_, err = idx.GetByEventID(ctx, "missing")
		assert.True(t, errors.Is(err, models.ErrNotFound), "got %v", err)
	})

	t.Run("entity scan ordered by ts then id", func(t *testing.T) {
		idx := newIndex(t)
		seed(t, idx)

		recs, err := idx.ListByEntity(ctx, "B1", models.Query{})
		require.NoError(t, err)
		assert.Equal(t, []string{"E1", "E0", "E2", "E3"}, ids(recs))
	})

	t.Run("author scan", func(t *testing.T) {
		idx := newIndex(t)
		seed(t, idx)

		recs, err := idx.ListByAuthor(ctx, "a@x", models.Query{})
		require.NoError(t, err)
		assert.Equal(t, []string{"E1", "E9", "E3"}, ids(recs))
	})

	t.Run("range and limit", func(t *testing.T) {
		idx := newIndex(t)
		seed(t, idx)

		recs, err := idx.ListByEntity(ctx, "B1", models.Query{From: 200, To: 300})
		require.NoError(t, err)
		assert.Equal(t, []string{"E0", "E2", "E3"}, ids(recs))

		recs, err = idx.ListByEntity(ctx, "B1", models.Query{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"E1", "E0"}, ids(recs))

		recs, err = idx.ListByAuthor(ctx, "nobody", models.Query{})
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("upsert is idempotent", func(t *testing.T) {
		idx := newIndex(t)
		rec := &models.IndexRecord{EventID: "E1", EntityType: "book", EntityID: "B1", Operation: "insert", S3Key: "2023/11/14/E1", Author: "a@x", TS: 1700000000000}
		require.NoError(t, idx.PutRecord(ctx, rec))
		require.NoError(t, idx.PutRecord(ctx, rec))

		recs, err := idx.ListByEntity(ctx, "B1", models.Query{})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, rec, recs[0])
	})

	t.Run("empty event id violates constraint", func(t *testing.T) {
		idx := newIndex(t)
		err := idx.PutRecord(ctx, &models.IndexRecord{EntityID: "B1", TS: 1})
		assert.True(t, errors.Is(err, models.ErrConstraintViolation), "got %v", err)
	})
}

func TestMemoryIndex(t *testing.T) {
	runIndexSuite(t, func(t *testing.T) Index { return NewMemoryIndex() })
}

func TestMemoryIndex_FailPuts(t *testing.T) {
	idx := NewMemoryIndex()
	idx.FailPuts(models.ErrStoreUnavailable)

	err := idx.PutRecord(context.Background(), &models.IndexRecord{EventID: "E1"})
	assert.True(t, errors.Is(err, models.ErrStoreUnavailable))
	assert.Equal(t, 1, idx.Puts())
	assert.Zero(t, idx.Len())
}
