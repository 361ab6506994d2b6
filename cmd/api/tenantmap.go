package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-ai-engine/internal/tenancy"
)

type tenantEntry struct {
	ID             string `json:"id"`
	Locale         string `json:"locale"`
	BookingBackend string `json:"booking_backend"`
}

// parseTenantMap decodes TENANT_MAP_JSON: keys are "channel:accountRef",
// values describe the provisioned tenant. An empty input yields an empty
// resolver, which makes every inbound message 404 until tenants are
// provisioned.
func parseTenantMap(raw string) (map[string]tenancy.Tenant, error) {
	tenants := make(map[string]tenancy.Tenant)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return tenants, nil
	}

	var entries map[string]tenantEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("parse tenant map: %w", err)
	}
	for key, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("tenant map entry %q has no id", key)
		}
		backend := e.BookingBackend
		if backend == "" {
			backend = "native"
		}
		tenants[key] = tenancy.Tenant{
			ID:               e.ID,
			Locale:           e.Locale,
			BookingBackendID: backend,
		}
	}
	return tenants, nil
}
