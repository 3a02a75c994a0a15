// Package geo scores the geographic origin of a transaction: locations a
// customer has never transacted from and countries a tenant treats as
// high risk.
package geo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	scoreNewLocation     = 20
	scoreHighRiskCountry = 30
)

// LocationSource provides the customer's recent location set.
// *history.Service satisfies it.
type LocationSource interface {
	RecentLocations(ctx context.Context, tenantID, customerID string, days int, now time.Time) (map[string]struct{}, error)
}

// SettingsSource provides per-tenant settings. domain.Repository satisfies
// it.
type SettingsSource interface {
	GetTenantSettings(ctx context.Context, tenantID string) (*domain.TenantSettings, error)
}

// Evaluator produces the location signal of the scoring pipeline. Its two
// checks are independent and additive: a location the customer has not
// used recently, and a country on the tenant's high-risk list.
type Evaluator struct {
	history  LocationSource
	settings SettingsSource

	windowDays      int
	defaultHighRisk map[string]struct{}
}

// NewEvaluator creates a location evaluator. defaultHighRisk is the
// deployment-wide country list used when a tenant has no settings of its
// own.
func NewEvaluator(history LocationSource, settings SettingsSource, windowDays int, defaultHighRisk []string) *Evaluator {
	if windowDays <= 0 {
		windowDays = 7
	}
	return &Evaluator{
		history:         history,
		settings:        settings,
		windowDays:      windowDays,
		defaultHighRisk: countrySet(defaultHighRisk),
	}
}

// Evaluate scores the transaction's location. A failed location-history
// lookup skips only the new-location check; the high-risk check degrades
// to the default list if tenant settings are unreachable.
func (e *Evaluator) Evaluate(ctx context.Context, tenantID string, tc *domain.TransactionContext, now time.Time) domain.Signal {
	sig := domain.Signal{Source: domain.SourceLocation}
	if tc.Location == nil {
		return sig
	}

	seen, err := e.history.RecentLocations(ctx, tenantID, tc.CustomerID, e.windowDays, now)
	if err != nil {
		slog.Warn("location history lookup failed, skipping new-location check",
			"tenant_id", tenantID,
			"customer_id", tc.CustomerID,
			"error", err)
		sig.Skipped = true
	} else if _, ok := seen[tc.Location.Key()]; !ok {
		sig.Score += scoreNewLocation
		sig.Reasons = append(sig.Reasons, fmt.Sprintf("new location: %s, %s", tc.Location.City, tc.Location.Country))
	}

	country := strings.ToUpper(strings.TrimSpace(tc.Location.Country))
	if _, risky := e.highRiskCountries(ctx, tenantID)[country]; risky {
		sig.Score += scoreHighRiskCountry
		sig.Reasons = append(sig.Reasons, fmt.Sprintf("high-risk country: %s", country))
	}

	return sig
}

// highRiskCountries returns the tenant's configured list, falling back to
// the deployment default when the tenant has none or settings are
// unreachable.
func (e *Evaluator) highRiskCountries(ctx context.Context, tenantID string) map[string]struct{} {
	if e.settings == nil {
		return e.defaultHighRisk
	}

	settings, err := e.settings.GetTenantSettings(ctx, tenantID)
	if errors.Is(err, domain.ErrNotFound) {
		return e.defaultHighRisk
	}
	if err != nil {
		slog.Warn("tenant settings lookup failed, using default high-risk list",
			"tenant_id", tenantID,
			"error", err)
		return e.defaultHighRisk
	}

	return countrySet(settings.HighRiskCountries)
}

func countrySet(countries []string) map[string]struct{} {
	set := make(map[string]struct{}, len(countries))
	for _, c := range countries {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" {
			set[c] = struct{}{}
		}
	}
	return set
}
