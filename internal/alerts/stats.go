package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Statistics recomputes and serves per-tenant daily fraud rollups.
type Statistics struct {
	repo domain.Repository
}

// NewStatistics creates a statistics aggregator.
func NewStatistics(repo domain.Repository) *Statistics {
	return &Statistics{repo: repo}
}

// GenerateDaily recomputes the rollup for the UTC day containing ts from
// that day's alerts and replaces any previously stored row for the day.
// Re-running after reviews is the supported way to keep counts current.
func (s *Statistics) GenerateDaily(ctx context.Context, tenantID string, ts time.Time) (*domain.FraudStatistics, error) {
	day := ts.UTC()
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	alerts, err := s.repo.ListAlerts(ctx, tenantID, domain.AlertFilter{
		From: dayStart,
		To:   dayStart.Add(24 * time.Hour),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load alerts for %s: %w", dayStart.Format(domain.StatsDateFormat), err)
	}

	stats := &domain.FraudStatistics{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		Date:     dayStart.Format(domain.StatsDateFormat),
	}

	scoreSum := 0
	for _, alert := range alerts {
		stats.TotalAlerts++
		scoreSum += alert.RiskScore

		switch alert.RiskLevel {
		case domain.RiskCritical:
			stats.CriticalAlerts++
		case domain.RiskHigh:
			stats.HighAlerts++
		case domain.RiskMedium:
			stats.MediumAlerts++
		default:
			stats.LowAlerts++
		}

		switch alert.Status {
		case domain.AlertBlocked:
			stats.BlockedTransactions++
		case domain.AlertFalsePositive:
			stats.FalsePositives++
		}
	}
	if stats.TotalAlerts > 0 {
		stats.AverageRiskScore = float64(scoreSum) / float64(stats.TotalAlerts)
	}

	if err := s.repo.SaveStatistics(ctx, tenantID, stats); err != nil {
		return nil, fmt.Errorf("failed to save statistics: %w", err)
	}

	return stats, nil
}

// Range returns stored rollups between from and to inclusive, both
// YYYY-MM-DD.
func (s *Statistics) Range(ctx context.Context, tenantID, from, to string) ([]*domain.FraudStatistics, error) {
	fromDay, err := time.Parse(domain.StatsDateFormat, from)
	if err != nil {
		return nil, fmt.Errorf("%w: from must be YYYY-MM-DD", domain.ErrValidation)
	}
	toDay, err := time.Parse(domain.StatsDateFormat, to)
	if err != nil {
		return nil, fmt.Errorf("%w: to must be YYYY-MM-DD", domain.ErrValidation)
	}
	if fromDay.After(toDay) {
		return nil, fmt.Errorf("%w: from is after to", domain.ErrValidation)
	}

	return s.repo.GetStatisticsRange(ctx, tenantID, from, to)
}
