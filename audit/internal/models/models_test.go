package models

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuery_EffectiveLimit(t *testing.T) {
	assert.Equal(t, DefaultQueryLimit, Query{}.EffectiveLimit())
	assert.Equal(t, DefaultQueryLimit, Query{Limit: -5}.EffectiveLimit())
	assert.Equal(t, 7, Query{Limit: 7}.EffectiveLimit())
	assert.Equal(t, MaxQueryLimit, Query{Limit: MaxQueryLimit + 1}.EffectiveLimit())
}

func TestQuery_InRange(t *testing.T) {
	q := Query{From: 10, To: 20}
	assert.False(t, q.InRange(9))
	assert.True(t, q.InRange(10))
	assert.True(t, q.InRange(20))
	assert.False(t, q.InRange(21))
	assert.True(t, Query{}.InRange(-100))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("put: %w", ErrStoreUnavailable)))
	assert.False(t, IsTransient(ErrPermissionDenied))
	assert.False(t, IsTransient(ErrConstraintViolation))
	assert.False(t, IsTransient(nil))
}
