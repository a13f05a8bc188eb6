package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/txlens/internal/resilience"
)

func dlqEntry(id string, mutate ...func(e *resilience.DLQEntry)) resilience.DLQEntry {
	e := resilience.DLQEntry{
		ID:           id,
		Input:        "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060",
		ChainID:      1,
		Error:        "fetch_transaction: rate_limited",
		ErrorType:    resilience.ErrorTypeTransient,
		MaxRetries:   3,
		NextRetryAt:  time.Now().Add(-time.Minute),
		CreatedAt:    time.Now(),
		LastFailedAt: time.Now(),
	}
	for _, m := range mutate {
		m(&e)
	}
	return e
}

func TestSQLite_DLQ_EnqueueAndDequeue(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.EnqueueDLQ(ctx, dlqEntry("dlq-1", func(e *resilience.DLQEntry) {
		e.FailedStep = "fetch_transaction"
	})))

	entries, err := st.DequeueDLQ(ctx, resilience.DLQFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "dlq-1", entries[0].ID)
	assert.Equal(t, int64(1), entries[0].ChainID)
	assert.Equal(t, "fetch_transaction", entries[0].FailedStep)
	assert.Equal(t, resilience.ErrorTypeTransient, entries[0].ErrorType)
	assert.Equal(t, 0, entries[0].RetryCount)
}

func TestSQLite_DLQ_EnqueueGeneratesID(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.EnqueueDLQ(ctx, dlqEntry("", func(e *resilience.DLQEntry) {
		e.CreatedAt = time.Time{}
		e.LastFailedAt = time.Time{}
	})))

	entries, err := st.DequeueDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)
	assert.False(t, entries[0].CreatedAt.IsZero())
	assert.Empty(t, entries[0].FailedStep)
}

func TestSQLite_DLQ_DequeueFilters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.EnqueueDLQ(ctx, dlqEntry("transient")))
	require.NoError(t, st.EnqueueDLQ(ctx, dlqEntry("permanent", func(e *resilience.DLQEntry) {
		e.ErrorType = resilience.ErrorTypePermanent
	})))
	require.NoError(t, st.EnqueueDLQ(ctx, dlqEntry("future", func(e *resilience.DLQEntry) {
		e.NextRetryAt = time.Now().Add(time.Hour)
	})))
	require.NoError(t, st.EnqueueDLQ(ctx, dlqEntry("exhausted", func(e *resilience.DLQEntry) {
		e.RetryCount = 3
	})))

	entries, err := st.DequeueDLQ(ctx, resilience.DLQFilter{ErrorType: resilience.ErrorTypeTransient})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "transient", entries[0].ID)

	all, err := st.DequeueDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	n, err := st.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestSQLite_DLQ_DequeueOrdersByNextRetry(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.EnqueueDLQ(ctx, dlqEntry("late", func(e *resilience.DLQEntry) {
		e.NextRetryAt = time.Now().Add(-time.Minute)
	})))
	require.NoError(t, st.EnqueueDLQ(ctx, dlqEntry("early", func(e *resilience.DLQEntry) {
		e.NextRetryAt = time.Now().Add(-time.Hour)
	})))

	entries, err := st.DequeueDLQ(ctx, resilience.DLQFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "early", entries[0].ID)
}

func TestSQLite_DLQ_IncrementRetry(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.EnqueueDLQ(ctx, dlqEntry("dlq-inc")))
	require.NoError(t, st.IncrementDLQRetry(ctx, "dlq-inc", time.Now().Add(-time.Second), "fetch_transaction: timeout"))

	entries, err := st.DequeueDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].RetryCount)
	assert.Equal(t, "fetch_transaction: timeout", entries[0].Error)

	err = st.IncrementDLQRetry(ctx, "missing", time.Now(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_DLQ_EnqueueReplaceAndRemove(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.EnqueueDLQ(ctx, dlqEntry("dlq-r")))
	require.NoError(t, st.EnqueueDLQ(ctx, dlqEntry("dlq-r", func(e *resilience.DLQEntry) {
		e.Error = "explain: timeout"
		e.RetryCount = 1
	})))

	entries, err := st.DequeueDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "explain: timeout", entries[0].Error)
	assert.Equal(t, 1, entries[0].RetryCount)

	require.NoError(t, st.RemoveDLQ(ctx, "dlq-r"))
	n, err := st.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
