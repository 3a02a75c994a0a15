package domain

import "time"

// TenantSettings holds per-tenant analysis configuration. Tenants without a
// stored row fall back to the deployment defaults in Config.
type TenantSettings struct {
	TenantID string `json:"tenantId"`

	// HighRiskCountries is the tenant's high-risk country list
	// (uppercase ISO 3166-1 alpha-2 codes).
	HighRiskCountries []string `json:"highRiskCountries"`

	UpdatedAt time.Time `json:"updatedAt"`
}
