package tenancy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTenantIDRoundTrip(t *testing.T) {
	ctx := WithTenantID(context.Background(), "org-1")
	got, ok := TenantIDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "org-1", got)
}

func TestTenantIDFromContextMissing(t *testing.T) {
	_, ok := TenantIDFromContext(context.Background())
	assert.False(t, ok)
}

func TestResolve(t *testing.T) {
	r := NewResolver(map[string]Tenant{
		"sms:+15550001111":  {ID: "org-1", Locale: "en-US", BookingBackendID: "fonet"},
		"webchat:clinic-a":  {ID: "org-1", Locale: "en-US", BookingBackendID: "fonet"},
		"sms:+15550002222 ": {ID: "org-2", Locale: "tr-TR", BookingBackendID: "tiga"},
	})

	tenant, err := r.Resolve("sms", "+15550001111")
	require.NoError(t, err)
	assert.Equal(t, "org-1", tenant.ID)
	assert.Equal(t, "fonet", tenant.BookingBackendID)

	// Account refs are trimmed and case-insensitive.
	tenant, err = r.Resolve("SMS", " +15550002222")
	require.NoError(t, err)
	assert.Equal(t, "org-2", tenant.ID)

	_, err = r.Resolve("sms", "+15559999999")
	assert.ErrorIs(t, err, ErrUnknownTenant)
}

func TestTenantsDeduplicates(t *testing.T) {
	r := NewResolver(map[string]Tenant{
		"sms:+15550001111": {ID: "org-1"},
		"webchat:clinic-a": {ID: "org-1"},
		"sms:+15550002222": {ID: "org-2"},
	})
	assert.Len(t, r.Tenants(), 2)
}

func TestGuard(t *testing.T) {
	assert.NoError(t, Guard("org-1", "org-1"))
	assert.ErrorIs(t, Guard("org-1", "org-2"), ErrTenantMismatch)
	assert.ErrorIs(t, Guard("", "org-2"), ErrTenantMismatch)
	assert.ErrorIs(t, Guard("org-1", ""), ErrTenantMismatch)
}
