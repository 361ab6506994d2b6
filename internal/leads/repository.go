package leads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/clinic-ai-engine/internal/tenancy"
)

// Repository persists leads. Every query is tenant-scoped; the engine never
// reads or writes a lead without a tenant filter.
type Repository interface {
	// Get returns the lead for (tenant, external user), or nil when absent.
	Get(ctx context.Context, tenantID, externalUserID string) (*Lead, error)
	// Save upserts the lead under its tenant.
	Save(ctx context.Context, lead *Lead) error
}

// PGDB is the pgx surface the repository needs; satisfied by *pgxpool.Pool
// and by pgxmock in tests.
type PGDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository stores leads in Postgres with the conversation history as JSONB.
type PGRepository struct {
	db PGDB
}

// NewPGRepository constructs a Postgres-backed lead repository.
func NewPGRepository(db PGDB) *PGRepository {
	if db == nil {
		panic("leads: db cannot be nil")
	}
	return &PGRepository{db: db}
}

const getLeadSQL = `
SELECT id, tenant_id, channel, external_user_id, funnel_state, locale, history, created_at, updated_at
FROM leads
WHERE tenant_id = $1 AND external_user_id = $2`

// Get fetches the lead for the (tenant, external user) pair.
func (r *PGRepository) Get(ctx context.Context, tenantID, externalUserID string) (*Lead, error) {
	if err := guardContextTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	var (
		lead    Lead
		history []byte
	)
	err := r.db.QueryRow(ctx, getLeadSQL, tenantID, externalUserID).Scan(
		&lead.ID, &lead.TenantID, &lead.Channel, &lead.ExternalUserID,
		&lead.FunnelState, &lead.Locale, &history, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("leads: get lead: %w", err)
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &lead.History); err != nil {
			return nil, fmt.Errorf("leads: decode history: %w", err)
		}
	}
	return &lead, nil
}

const saveLeadSQL = `
INSERT INTO leads (id, tenant_id, channel, external_user_id, funnel_state, locale, history, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (tenant_id, external_user_id) DO UPDATE SET
    funnel_state = EXCLUDED.funnel_state,
    locale = EXCLUDED.locale,
    history = EXCLUDED.history,
    updated_at = EXCLUDED.updated_at`

// Save upserts the lead. The conflict target is (tenant_id, external_user_id),
// so a save can only ever touch the row owned by the lead's own tenant.
func (r *PGRepository) Save(ctx context.Context, lead *Lead) error {
	if lead == nil {
		return errors.New("leads: lead cannot be nil")
	}
	if lead.TenantID == "" {
		return fmt.Errorf("%w: lead has no tenant", tenancy.ErrTenantMismatch)
	}
	if err := guardContextTenant(ctx, lead.TenantID); err != nil {
		return err
	}

	history, err := json.Marshal(lead.History)
	if err != nil {
		return fmt.Errorf("leads: encode history: %w", err)
	}

	if _, err := r.db.Exec(ctx, saveLeadSQL,
		lead.ID, lead.TenantID, string(lead.Channel), lead.ExternalUserID,
		string(lead.FunnelState), lead.Locale, history, lead.CreatedAt, lead.UpdatedAt,
	); err != nil {
		return fmt.Errorf("leads: save lead: %w", err)
	}
	return nil
}

// guardContextTenant aborts when the context carries a different tenant than
// the one the caller is operating on. TenantMismatch is fatal: no partial
// writes happen past this point.
func guardContextTenant(ctx context.Context, tenantID string) error {
	if ctxTenant, ok := tenancy.TenantIDFromContext(ctx); ok {
		return tenancy.Guard(ctxTenant, tenantID)
	}
	return nil
}
