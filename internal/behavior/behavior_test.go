package behavior

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type fakeHistory struct {
	points []domain.HistoryPoint
	err    error
}

func (f *fakeHistory) CustomerWindow(ctx context.Context, tenantID, customerID string, days int, now time.Time) ([]domain.HistoryPoint, error) {
	return f.points, f.err
}

var testNow = time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC)

func behaviorTx(amount float64) *domain.TransactionContext {
	return &domain.TransactionContext{
		TransactionID: "tx-001",
		CustomerID:    "cust-001",
		AccountID:     "acct-001",
		Amount:        amount,
		Currency:      "USD",
		Type:          "transfer",
		Timestamp:     testNow,
	}
}

// steadyHistory builds n points of the given amount, spread one per day at
// the same hour as behaviorTx so neither the time nor frequency checks fire.
func steadyHistory(n int, amount float64) []domain.HistoryPoint {
	points := make([]domain.HistoryPoint, 0, n)
	for i := 0; i < n; i++ {
		points = append(points, domain.HistoryPoint{
			Amount:    amount,
			Timestamp: testNow.Add(-time.Duration(i+2) * 24 * time.Hour),
			Type:      "transfer",
		})
	}
	return points
}

func TestNewCustomer(t *testing.T) {
	a := NewAnalyzer(&fakeHistory{}, 30)

	sig := a.Evaluate(context.Background(), "tenant-a", behaviorTx(100), testNow)
	if sig.Score != 15 {
		t.Errorf("expected score 15 for new customer, got %d", sig.Score)
	}
	if len(sig.Reasons) != 1 || sig.Reasons[0] != "new customer, no history" {
		t.Errorf("unexpected reasons: %v", sig.Reasons)
	}
	if sig.Skipped {
		t.Error("empty history is a valid result, not a skip")
	}
}

func TestDeviationTiers(t *testing.T) {
	history := steadyHistory(10, 100)

	cases := []struct {
		name   string
		amount float64
		want   int
	}{
		{"within pattern", 120, 0},
		{"at moderate boundary", 300, 0},     // deviation 2.0, not > 2
		{"moderate", 350, 10},                // deviation 2.5
		{"at significant boundary", 400, 10}, // deviation 3.0 stays moderate
		{"significant", 500, 20},             // deviation 4.0
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := NewAnalyzer(&fakeHistory{points: history}, 30)
			sig := a.Evaluate(context.Background(), "tenant-a", behaviorTx(tc.amount), testNow)
			if sig.Score != tc.want {
				t.Errorf("amount %.0f: expected score %d, got %d (%v)", tc.amount, tc.want, sig.Score, sig.Reasons)
			}
		})
	}
}

func TestUnusualHour(t *testing.T) {
	// History only at 09:00; transaction at 14:00.
	points := []domain.HistoryPoint{
		{Amount: 100, Timestamp: time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)},
		{Amount: 100, Timestamp: time.Date(2025, 6, 11, 9, 30, 0, 0, time.UTC)},
	}
	a := NewAnalyzer(&fakeHistory{points: points}, 30)

	sig := a.Evaluate(context.Background(), "tenant-a", behaviorTx(100), testNow)
	if sig.Score != 10 {
		t.Errorf("expected unusual-time score 10, got %d (%v)", sig.Score, sig.Reasons)
	}
	if len(sig.Reasons) != 1 || sig.Reasons[0] != "unusual time" {
		t.Errorf("unexpected reasons: %v", sig.Reasons)
	}

	// Same hour in history: no bonus.
	points = append(points, domain.HistoryPoint{
		Amount: 100, Timestamp: time.Date(2025, 6, 12, 14, 45, 0, 0, time.UTC),
	})
	a = NewAnalyzer(&fakeHistory{points: points}, 30)
	sig = a.Evaluate(context.Background(), "tenant-a", behaviorTx(100), testNow)
	if sig.Score != 0 {
		t.Errorf("expected no score for a familiar hour, got %d (%v)", sig.Score, sig.Reasons)
	}
}

func TestFrequencySpike(t *testing.T) {
	// 12 points over the window, 8 of them in the trailing 24h:
	// 8 > 3 * (12/30) -> spike.
	points := steadyHistory(4, 100)
	for i := 0; i < 8; i++ {
		points = append(points, domain.HistoryPoint{
			Amount:    100,
			Timestamp: testNow.Add(-time.Duration(i+1) * time.Hour),
		})
	}

	a := NewAnalyzer(&fakeHistory{points: points}, 30)
	sig := a.Evaluate(context.Background(), "tenant-a", behaviorTx(100), testNow)
	if sig.Score != 15 {
		t.Errorf("expected frequency-spike score 15, got %d (%v)", sig.Score, sig.Reasons)
	}
	if len(sig.Reasons) != 1 || sig.Reasons[0] != "unusually high frequency" {
		t.Errorf("unexpected reasons: %v", sig.Reasons)
	}
}

func TestChecksAccumulate(t *testing.T) {
	// History at 09:00 only, all small amounts, mostly within the last 24h:
	// significant deviation (+20), unusual time (+10), spike (+15) = 45.
	points := make([]domain.HistoryPoint, 0, 6)
	for i := 0; i < 6; i++ {
		points = append(points, domain.HistoryPoint{
			Amount:    100,
			Timestamp: time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC).Add(-time.Duration(i) * time.Hour),
		})
	}

	a := NewAnalyzer(&fakeHistory{points: points}, 30)
	sig := a.Evaluate(context.Background(), "tenant-a", behaviorTx(1000), testNow)
	if sig.Score != 45 {
		t.Errorf("expected combined score 45, got %d (%v)", sig.Score, sig.Reasons)
	}
	if len(sig.Reasons) != 3 {
		t.Errorf("expected 3 reasons, got %v", sig.Reasons)
	}
}

func TestHistoryOutageSkips(t *testing.T) {
	a := NewAnalyzer(&fakeHistory{err: errors.New("history store down")}, 30)

	sig := a.Evaluate(context.Background(), "tenant-a", behaviorTx(100), testNow)
	if !sig.Skipped {
		t.Error("expected skipped signal on history outage")
	}
	if sig.Score != 0 || len(sig.Reasons) != 0 {
		t.Errorf("skipped signal must be empty, got %+v", sig)
	}
}
