package security

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/clinic-ai-engine/pkg/logging"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGSink appends events to the security_events table. Writes are best-effort:
// a failed insert is logged but never propagated to the admission path.
type PGSink struct {
	db     execer
	logger *logging.Logger
}

// NewPGSink creates a Postgres-backed sink. db is typically *pgxpool.Pool.
func NewPGSink(db execer, logger *logging.Logger) *PGSink {
	if db == nil {
		panic("security: db cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PGSink{db: db, logger: logger}
}

const insertEventSQL = `
INSERT INTO security_events (tenant_id, client_identity, kind, severity, detail, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

// Emit inserts the event with a short independent timeout so a slow database
// cannot stall the caller's turn.
func (s *PGSink) Emit(ctx context.Context, ev Event) {
	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if _, err := s.db.Exec(insertCtx, insertEventSQL,
		ev.TenantID, ev.ClientIdentity, ev.Kind, string(ev.Severity), ev.Detail, ts,
	); err != nil {
		s.logger.Warn("failed to persist security event", "error", err, "kind", ev.Kind)
	}
}
