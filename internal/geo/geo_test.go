package geo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type fakeLocations struct {
	seen map[string]struct{}
	err  error
}

func (f *fakeLocations) RecentLocations(ctx context.Context, tenantID, customerID string, days int, now time.Time) (map[string]struct{}, error) {
	return f.seen, f.err
}

type fakeSettings struct {
	settings *domain.TenantSettings
	err      error
}

func (f *fakeSettings) GetTenantSettings(ctx context.Context, tenantID string) (*domain.TenantSettings, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.settings == nil {
		return nil, domain.ErrNotFound
	}
	return f.settings, nil
}

func geoTx(country, city string) *domain.TransactionContext {
	tx := &domain.TransactionContext{
		TransactionID: "tx-001",
		CustomerID:    "cust-001",
		AccountID:     "acct-001",
		Amount:        100,
		Currency:      "USD",
		Type:          "payment",
	}
	if country != "" {
		tx.Location = &domain.Location{Country: country, City: city, IP: "203.0.113.7"}
	}
	return tx
}

func locationKey(country, city string) map[string]struct{} {
	loc := domain.Location{Country: country, City: city}
	return map[string]struct{}{loc.Key(): {}}
}

func TestNoLocation(t *testing.T) {
	e := NewEvaluator(&fakeLocations{}, &fakeSettings{}, 7, []string{"KP"})

	sig := e.Evaluate(context.Background(), "tenant-a", geoTx("", ""), time.Now().UTC())
	if sig.Score != 0 || sig.Skipped || len(sig.Reasons) != 0 {
		t.Errorf("locationless transaction must contribute nothing, got %+v", sig)
	}
}

func TestNewLocation(t *testing.T) {
	now := time.Now().UTC()

	t.Run("unseen location scores", func(t *testing.T) {
		e := NewEvaluator(&fakeLocations{seen: locationKey("US", "Boston")}, &fakeSettings{}, 7, nil)
		sig := e.Evaluate(context.Background(), "tenant-a", geoTx("FR", "Paris"), now)
		if sig.Score != 20 {
			t.Errorf("expected score 20, got %d", sig.Score)
		}
		if len(sig.Reasons) != 1 || sig.Reasons[0] != "new location: Paris, FR" {
			t.Errorf("unexpected reasons: %v", sig.Reasons)
		}
	})

	t.Run("known location is quiet", func(t *testing.T) {
		e := NewEvaluator(&fakeLocations{seen: locationKey("FR", "Paris")}, &fakeSettings{}, 7, nil)
		sig := e.Evaluate(context.Background(), "tenant-a", geoTx("FR", "Paris"), now)
		if sig.Score != 0 {
			t.Errorf("expected score 0 for a recent location, got %d (%v)", sig.Score, sig.Reasons)
		}
	})

	t.Run("no history means every location is new", func(t *testing.T) {
		e := NewEvaluator(&fakeLocations{}, &fakeSettings{}, 7, nil)
		sig := e.Evaluate(context.Background(), "tenant-a", geoTx("FR", "Paris"), now)
		if sig.Score != 20 {
			t.Errorf("expected score 20, got %d", sig.Score)
		}
	})
}

func TestHighRiskCountry(t *testing.T) {
	now := time.Now().UTC()
	known := locationKey("KP", "Pyongyang")

	t.Run("default list applies without tenant settings", func(t *testing.T) {
		e := NewEvaluator(&fakeLocations{seen: known}, &fakeSettings{}, 7, []string{"KP", "IR"})
		sig := e.Evaluate(context.Background(), "tenant-a", geoTx("KP", "Pyongyang"), now)
		if sig.Score != 30 {
			t.Errorf("expected score 30, got %d (%v)", sig.Score, sig.Reasons)
		}
		if sig.Reasons[0] != "high-risk country: KP" {
			t.Errorf("unexpected reason: %q", sig.Reasons[0])
		}
	})

	t.Run("country codes are normalized", func(t *testing.T) {
		e := NewEvaluator(&fakeLocations{seen: locationKey("kp", "Pyongyang")}, &fakeSettings{}, 7, []string{"kp"})
		sig := e.Evaluate(context.Background(), "tenant-a", geoTx(" kp ", "Pyongyang"), now)
		if sig.Score != 30 {
			t.Errorf("expected case-insensitive match, got %d", sig.Score)
		}
	})

	t.Run("tenant settings replace the default list", func(t *testing.T) {
		settings := &fakeSettings{settings: &domain.TenantSettings{
			TenantID:          "tenant-a",
			HighRiskCountries: []string{"RU"},
		}}
		e := NewEvaluator(&fakeLocations{seen: known}, settings, 7, []string{"KP"})

		sig := e.Evaluate(context.Background(), "tenant-a", geoTx("KP", "Pyongyang"), now)
		if sig.Score != 0 {
			t.Errorf("tenant list should override the default, got %d (%v)", sig.Score, sig.Reasons)
		}

		sig = e.Evaluate(context.Background(), "tenant-a", geoTx("RU", "Moscow"), now)
		// RU, Moscow is not in the seen set, so both checks fire.
		if sig.Score != 50 {
			t.Errorf("expected 20+30 for new location in tenant-listed country, got %d", sig.Score)
		}
	})

	t.Run("settings outage falls back to the default list", func(t *testing.T) {
		settings := &fakeSettings{err: errors.New("settings store down")}
		e := NewEvaluator(&fakeLocations{seen: known}, settings, 7, []string{"KP"})
		sig := e.Evaluate(context.Background(), "tenant-a", geoTx("KP", "Pyongyang"), now)
		if sig.Score != 30 {
			t.Errorf("expected default list to apply on outage, got %d", sig.Score)
		}
		if sig.Skipped {
			t.Error("settings fallback is not a skip")
		}
	})
}

func TestChecksAreIndependent(t *testing.T) {
	now := time.Now().UTC()

	t.Run("both checks additive", func(t *testing.T) {
		e := NewEvaluator(&fakeLocations{}, &fakeSettings{}, 7, []string{"MM"})
		sig := e.Evaluate(context.Background(), "tenant-a", geoTx("MM", "Yangon"), now)
		if sig.Score != 50 {
			t.Errorf("expected 20+30, got %d (%v)", sig.Score, sig.Reasons)
		}
		if len(sig.Reasons) != 2 {
			t.Errorf("expected both reasons, got %v", sig.Reasons)
		}
	})

	t.Run("history outage keeps the country check alive", func(t *testing.T) {
		e := NewEvaluator(&fakeLocations{err: errors.New("history down")}, &fakeSettings{}, 7, []string{"MM"})
		sig := e.Evaluate(context.Background(), "tenant-a", geoTx("MM", "Yangon"), now)
		if !sig.Skipped {
			t.Error("expected the skipped flag when the location lookup fails")
		}
		if sig.Score != 30 {
			t.Errorf("high-risk check must still contribute, got %d (%v)", sig.Score, sig.Reasons)
		}
	})
}
