package analyzer

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// combine sums the signals and merges their reasons in signal order,
// keeping the first occurrence of a duplicate string. It also counts
// signals that were skipped fail-open.
func combine(signals []domain.Signal) (total int, reasons []string, skipped int) {
	reasons = []string{}
	seen := make(map[string]struct{})

	for _, sig := range signals {
		if sig.Skipped {
			skipped++
		}
		total += sig.Score
		for _, reason := range sig.Reasons {
			if _, dup := seen[reason]; dup {
				continue
			}
			seen[reason] = struct{}{}
			reasons = append(reasons, reason)
		}
	}

	return total, reasons, skipped
}

// clampScore bounds a raw additive total to the 0..100 score scale.
func clampScore(total int) int {
	if total < 0 {
		return 0
	}
	if total > 100 {
		return 100
	}
	return total
}

// classify maps a clamped score to its risk level. Boundaries are
// inclusive on the lower edge: 30 is MEDIUM, 60 is HIGH, 80 is CRITICAL.
func classify(score int) domain.RiskLevel {
	switch {
	case score >= 80:
		return domain.RiskCritical
	case score >= 60:
		return domain.RiskHigh
	case score >= 30:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// confidence expresses how well-corroborated a score is on a 0..100 scale:
// the normalized score plus 0.1 per distinct reason, capped at +0.3.
func confidence(score, reasonCount int) float64 {
	c := float64(score)/100 + math.Min(float64(reasonCount)*0.1, 0.3)
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c * 100
}
