package tenancy

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownTenant means no tenant is provisioned for the channel account.
	ErrUnknownTenant = errors.New("tenancy: unknown tenant")
	// ErrTenantMismatch is fatal: an operation touched data belonging to a
	// different tenant. It is never recovered; the operation must abort with
	// no partial writes.
	ErrTenantMismatch = errors.New("tenancy: tenant mismatch")
)

// Tenant is a provisioned clinic customer. Provisioning happens outside this
// engine; tenants are read-only here.
type Tenant struct {
	ID string
	// Locale is the default conversation locale, e.g. "en-US" or "tr-TR".
	Locale string
	// BookingBackendID names the scheduling backend this tenant books
	// against. Resolution is always explicit: a tenant with a backend id
	// that is not registered fails loudly instead of falling back.
	BookingBackendID string
}

// Resolver maps a channel account reference (the clinic-side phone number,
// page id, or widget key the patient wrote to) onto a tenant.
type Resolver struct {
	byAccount map[string]Tenant
}

// NewResolver builds a resolver from provisioning data. Keys are
// "channel:accountRef", values are provisioned tenants.
func NewResolver(tenants map[string]Tenant) *Resolver {
	byAccount := make(map[string]Tenant, len(tenants))
	for key, tenant := range tenants {
		byAccount[strings.ToLower(strings.TrimSpace(key))] = tenant
	}
	return &Resolver{byAccount: byAccount}
}

// Resolve returns the tenant owning the (channel, accountRef) pair.
func (r *Resolver) Resolve(channel, accountRef string) (Tenant, error) {
	key := strings.ToLower(strings.TrimSpace(channel) + ":" + strings.TrimSpace(accountRef))
	tenant, ok := r.byAccount[key]
	if !ok {
		return Tenant{}, fmt.Errorf("%w: channel=%s account=%s", ErrUnknownTenant, channel, accountRef)
	}
	return tenant, nil
}

// Tenants lists every provisioned tenant, deduplicated by id.
func (r *Resolver) Tenants() []Tenant {
	seen := make(map[string]bool, len(r.byAccount))
	out := make([]Tenant, 0, len(r.byAccount))
	for _, tenant := range r.byAccount {
		if seen[tenant.ID] {
			continue
		}
		seen[tenant.ID] = true
		out = append(out, tenant)
	}
	return out
}

// Guard returns ErrTenantMismatch unless got matches want. Every component
// that receives records across a boundary calls this before mutating them.
func Guard(want, got string) error {
	if want == "" || got == "" || want != got {
		return fmt.Errorf("%w: want %q got %q", ErrTenantMismatch, want, got)
	}
	return nil
}
