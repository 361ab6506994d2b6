package booking

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *RedisIdempotencyStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisIdempotencyStore(client, time.Hour)
}

func TestRedisIdempotencyStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, found, err := store.Lookup(ctx, "org-1", "key-1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Record(ctx, "org-1", "key-1", "appt-42"))

	id, found, err := store.Lookup(ctx, "org-1", "key-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "appt-42", id)

	// Keys are tenant-scoped.
	_, found, err = store.Lookup(ctx, "org-2", "key-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIdempotentAdapterReplaysCompletedKey(t *testing.T) {
	store := newTestStore(t)
	inner := &stubAdapter{
		info:   AdapterInfo{ID: "native"},
		result: BookResult{AppointmentID: "appt-1"},
	}
	adapter := WithIdempotency(inner, store, nil)
	ctx := context.Background()

	req := BookRequest{TenantID: "org-1", SlotID: "s1", IdempotencyKey: "idem-1"}

	first, err := adapter.ReserveAndBook(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "appt-1", first.AppointmentID)
	assert.False(t, first.Replayed)

	// The retry must not reach the backend again.
	inner.bookErr = ErrSlotConflict
	second, err := adapter.ReserveAndBook(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "appt-1", second.AppointmentID)
	assert.True(t, second.Replayed)
	assert.Equal(t, 1, inner.calls)
}

func TestIdempotentAdapterDoesNotRecordFailures(t *testing.T) {
	store := newTestStore(t)
	inner := &stubAdapter{info: AdapterInfo{ID: "native"}, bookErr: ErrSlotConflict}
	adapter := WithIdempotency(inner, store, nil)
	ctx := context.Background()

	_, err := adapter.ReserveAndBook(ctx, BookRequest{TenantID: "org-1", SlotID: "s1", IdempotencyKey: "idem-2"})
	require.ErrorIs(t, err, ErrSlotConflict)

	_, found, err := store.Lookup(ctx, "org-1", "idem-2")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIdempotentAdapterWithoutKeyDelegates(t *testing.T) {
	store := newTestStore(t)
	inner := &stubAdapter{info: AdapterInfo{ID: "native"}, result: BookResult{AppointmentID: "appt-9"}}
	adapter := WithIdempotency(inner, store, nil)

	res, err := adapter.ReserveAndBook(context.Background(), BookRequest{TenantID: "org-1", SlotID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "appt-9", res.AppointmentID)

	res, err = adapter.ReserveAndBook(context.Background(), BookRequest{TenantID: "org-1", SlotID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls, "no key means no replay")
}
