// Package behavior scores how far a transaction departs from the
// customer's established pattern.
package behavior

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	scoreNoHistory            = 15
	scoreSignificantDeviation = 20
	scoreModerateDeviation    = 10
	scoreUnusualTime          = 10
	scoreFrequencySpike       = 15

	significantDeviationRatio = 3.0
	moderateDeviationRatio    = 2.0

	// spikeMultiplier: trailing-24h count above this multiple of the
	// average daily count is treated as a burst.
	spikeMultiplier = 3.0
)

// HistorySource provides the customer's recent transaction history.
// *history.Service satisfies it.
type HistorySource interface {
	CustomerWindow(ctx context.Context, tenantID, customerID string, days int, now time.Time) ([]domain.HistoryPoint, error)
}

// Analyzer produces the behavioral signal of the scoring pipeline. Checks
// are additive except amount deviation, where only the highest matching
// tier applies.
type Analyzer struct {
	history    HistorySource
	windowDays int
}

// NewAnalyzer creates a behavioral analyzer over the given history window.
func NewAnalyzer(history HistorySource, windowDays int) *Analyzer {
	if windowDays <= 0 {
		windowDays = 30
	}
	return &Analyzer{
		history:    history,
		windowDays: windowDays,
	}
}

// Evaluate scores the transaction against the customer's history. A
// transient history failure yields a skipped signal so the caller can
// fail open.
func (a *Analyzer) Evaluate(ctx context.Context, tenantID string, tc *domain.TransactionContext, now time.Time) domain.Signal {
	sig := domain.Signal{Source: domain.SourceBehavior}

	points, err := a.history.CustomerWindow(ctx, tenantID, tc.CustomerID, a.windowDays, now)
	if err != nil {
		slog.Warn("behavioral history lookup failed, skipping check",
			"tenant_id", tenantID,
			"customer_id", tc.CustomerID,
			"error", err)
		sig.Skipped = true
		return sig
	}

	if len(points) == 0 {
		sig.Score = scoreNoHistory
		sig.Reasons = []string{"new customer, no history"}
		return sig
	}

	if score, reason := deviationTier(tc.Amount, points); score > 0 {
		sig.Score += score
		sig.Reasons = append(sig.Reasons, reason)
	}

	if unusualHour(tc.EffectiveTime(now).UTC().Hour(), points) {
		sig.Score += scoreUnusualTime
		sig.Reasons = append(sig.Reasons, "unusual time")
	}

	if frequencySpike(points, a.windowDays, now) {
		sig.Score += scoreFrequencySpike
		sig.Reasons = append(sig.Reasons, "unusually high frequency")
	}

	return sig
}

// deviationTier returns the highest matching amount-deviation tier.
func deviationTier(amount float64, points []domain.HistoryPoint) (int, string) {
	var sum float64
	for _, p := range points {
		sum += p.Amount
	}
	avg := sum / float64(len(points))
	if avg <= 0 {
		return 0, ""
	}

	deviation := math.Abs(amount-avg) / avg
	switch {
	case deviation > significantDeviationRatio:
		return scoreSignificantDeviation, "significant deviation"
	case deviation > moderateDeviationRatio:
		return scoreModerateDeviation, "moderate deviation"
	}
	return 0, ""
}

// unusualHour reports whether the hour-of-day appears nowhere in history.
func unusualHour(hour int, points []domain.HistoryPoint) bool {
	for _, p := range points {
		if p.Timestamp.UTC().Hour() == hour {
			return false
		}
	}
	return true
}

// frequencySpike reports whether the trailing-24h count exceeds
// spikeMultiplier times the window's average daily count.
func frequencySpike(points []domain.HistoryPoint, windowDays int, now time.Time) bool {
	cutoff := now.Add(-24 * time.Hour)
	recent := 0
	for _, p := range points {
		if p.Timestamp.After(cutoff) {
			recent++
		}
	}

	avgDaily := float64(len(points)) / float64(windowDays)
	return float64(recent) > spikeMultiplier*avgDaily
}
