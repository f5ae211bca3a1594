package memory

import (
	"context"
	"queue-listener-service/internal/core/domain"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventJournal(t *testing.T) {
	ctx := context.Background()
	j := NewEventJournal()

	order := domain.Event{ID: uuid.New(), Queue: "orders"}
	audit := domain.Event{ID: uuid.New(), Queue: "audit_events"}

	require.NoError(t, j.Save(ctx, order))
	require.NoError(t, j.Save(ctx, audit))
	assert.ErrorIs(t, j.Save(ctx, order), domain.ErrDuplicateEvent)

	exists, err := j.Exists(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = j.Exists(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, exists)

	total, _ := j.Count(ctx, "")
	orders, _ := j.Count(ctx, "orders")
	assert.Equal(t, int64(2), total)
	assert.Equal(t, int64(1), orders)
}
