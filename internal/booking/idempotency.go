package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-ai-engine/pkg/logging"
)

const idempotencyKeyPrefix = "booking:idem:"

// IdempotencyStore remembers completed bookings by caller-supplied key so a
// retried request returns the original appointment instead of double-booking.
type IdempotencyStore interface {
	// Lookup returns the appointment id recorded for the key, if any.
	Lookup(ctx context.Context, tenantID, key string) (string, bool, error)
	// Record stores the appointment id for the key.
	Record(ctx context.Context, tenantID, key, appointmentID string) error
}

// RedisIdempotencyStore keeps idempotency records in Redis with a TTL.
type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIdempotencyStore creates a Redis-backed store. TTL defaults to 24h,
// comfortably past any realistic client retry horizon.
func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	if client == nil {
		panic("booking: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyStore{client: client, ttl: ttl}
}

func idemKey(tenantID, key string) string {
	return idempotencyKeyPrefix + tenantID + ":" + key
}

// Lookup fetches the recorded appointment id for the key.
func (s *RedisIdempotencyStore) Lookup(ctx context.Context, tenantID, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, idemKey(tenantID, key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("booking: idempotency lookup: %w", err)
	}
	return val, true, nil
}

// Record stores the appointment id under the key.
func (s *RedisIdempotencyStore) Record(ctx context.Context, tenantID, key, appointmentID string) error {
	if err := s.client.Set(ctx, idemKey(tenantID, key), appointmentID, s.ttl).Err(); err != nil {
		return fmt.Errorf("booking: idempotency record: %w", err)
	}
	return nil
}

// IdempotentAdapter wraps a backend adapter with idempotency-key replay. The
// underlying adapter stays oblivious; the wrapper short-circuits repeats of a
// completed key and records fresh successes.
type IdempotentAdapter struct {
	inner  Adapter
	store  IdempotencyStore
	logger *logging.Logger
}

// WithIdempotency decorates an adapter with the store.
func WithIdempotency(inner Adapter, store IdempotencyStore, logger *logging.Logger) *IdempotentAdapter {
	if inner == nil {
		panic("booking: inner adapter cannot be nil")
	}
	if store == nil {
		panic("booking: idempotency store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &IdempotentAdapter{inner: inner, store: store, logger: logger}
}

// Info proxies the backend identity.
func (a *IdempotentAdapter) Info() AdapterInfo { return a.inner.Info() }

// GetAvailability proxies straight through; reads need no replay protection.
func (a *IdempotentAdapter) GetAvailability(ctx context.Context, req AvailabilityRequest) ([]Slot, error) {
	return a.inner.GetAvailability(ctx, req)
}

// ReserveAndBook replays a completed key as a no-op success, otherwise
// delegates and records the outcome. A store read failure degrades to a
// normal attempt: the backend's own conflict detection still prevents a
// double booking of the same slot.
func (a *IdempotentAdapter) ReserveAndBook(ctx context.Context, req BookRequest) (BookResult, error) {
	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		appointmentID, found, err := a.store.Lookup(ctx, req.TenantID, key)
		if err != nil {
			a.logger.Warn("idempotency lookup failed, proceeding without replay", "error", err, "backend", a.inner.Info().ID)
		} else if found {
			return BookResult{AppointmentID: appointmentID, Replayed: true}, nil
		}
	}

	result, err := a.inner.ReserveAndBook(ctx, req)
	if err != nil {
		return BookResult{}, err
	}

	if key != "" {
		if recordErr := a.store.Record(ctx, req.TenantID, key, result.AppointmentID); recordErr != nil {
			a.logger.Warn("failed to record idempotency key", "error", recordErr, "backend", a.inner.Info().ID)
		}
	}
	return result, nil
}
