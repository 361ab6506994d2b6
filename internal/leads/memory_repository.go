package leads

import (
	"context"
	"errors"
	"sync"

	"github.com/wolfman30/clinic-ai-engine/internal/tenancy"
)

// MemoryRepository is an in-memory Repository used in tests and demo mode.
type MemoryRepository struct {
	mu    sync.RWMutex
	leads map[string]*Lead
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{leads: make(map[string]*Lead)}
}

func memKey(tenantID, externalUserID string) string {
	return tenantID + "|" + externalUserID
}

// Get returns a deep copy of the stored lead, or nil when absent.
func (r *MemoryRepository) Get(ctx context.Context, tenantID, externalUserID string) (*Lead, error) {
	if err := guardContextTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	lead, ok := r.leads[memKey(tenantID, externalUserID)]
	if !ok {
		return nil, nil
	}
	return lead.Clone(), nil
}

// Save stores a deep copy of the lead.
func (r *MemoryRepository) Save(ctx context.Context, lead *Lead) error {
	if lead == nil {
		return errors.New("leads: lead cannot be nil")
	}
	if lead.TenantID == "" {
		return tenancy.ErrTenantMismatch
	}
	if err := guardContextTenant(ctx, lead.TenantID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := memKey(lead.TenantID, lead.ExternalUserID)
	if existing, ok := r.leads[key]; ok {
		if err := tenancy.Guard(existing.TenantID, lead.TenantID); err != nil {
			return err
		}
	}
	r.leads[key] = lead.Clone()
	return nil
}
