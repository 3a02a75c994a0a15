// Package history provides transaction history lookups for fraud checks.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Service answers recent-count, velocity and history-window questions
// for the scoring pipeline, and records analyzed transactions.
type Service struct {
	repo  domain.Repository
	cache domain.Cache // optional; counters are advisory
}

// NewService creates a new history service. The cache may be nil, in
// which case all reads go to the repository.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// RecentCount returns the number of recorded transactions for an account
// within the trailing window. The count is exact (rolling window over the
// repository); failures surface as ErrTransientLookup so callers can
// fail open.
func (s *Service) RecentCount(ctx context.Context, tenantID, accountID string, window time.Duration, now time.Time) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}
	if accountID == "" {
		return 0, fmt.Errorf("%w: accountID is required", domain.ErrValidation)
	}

	since := now.Add(-window)
	count, err := s.repo.CountTransactionsByAccount(ctx, tenantID, accountID, since)
	if err != nil {
		return 0, fmt.Errorf("%w: count transactions for account: %v", domain.ErrTransientLookup, err)
	}
	return count, nil
}

// DailyVelocity returns the cumulative absolute transaction amount for an
// account in the current UTC day. The day-keyed cache accumulator is
// preferred when warm; a zero total is indistinguishable from a cold
// cache and falls through to the repository.
func (s *Service) DailyVelocity(ctx context.Context, tenantID, accountID string, now time.Time) (float64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}
	if accountID == "" {
		return 0, fmt.Errorf("%w: accountID is required", domain.ErrValidation)
	}

	if s.cache != nil {
		total, err := s.cache.AddAmount(ctx, tenantID, velocityKey(accountID, now), 0, velocityTTL)
		if err == nil && total > 0 {
			return total, nil
		}
		if err != nil {
			slog.Debug("velocity cache read failed, falling back to repository",
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}

	midnight := now.UTC().Truncate(24 * time.Hour)
	sum, err := s.repo.SumTransactionAmountsByAccount(ctx, tenantID, accountID, midnight)
	if err != nil {
		return 0, fmt.Errorf("%w: sum transaction amounts for account: %v", domain.ErrTransientLookup, err)
	}
	return sum, nil
}

// CustomerWindow returns the customer's transaction history points for a
// trailing window of days, newest first.
func (s *Service) CustomerWindow(ctx context.Context, tenantID, customerID string, days int, now time.Time) ([]domain.HistoryPoint, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}
	if customerID == "" {
		return nil, fmt.Errorf("%w: customerID is required", domain.ErrValidation)
	}

	since := now.AddDate(0, 0, -days)
	txs, err := s.repo.GetTransactionsByCustomer(ctx, tenantID, customerID, since)
	if err != nil {
		return nil, fmt.Errorf("%w: get customer history: %v", domain.ErrTransientLookup, err)
	}

	points := make([]domain.HistoryPoint, 0, len(txs))
	for _, tx := range txs {
		points = append(points, domain.HistoryPoint{
			Amount:    tx.Amount,
			Timestamp: tx.Timestamp,
			Type:      tx.Type,
		})
	}
	return points, nil
}

// RecentLocations returns the distinct (country, city) keys the customer
// transacted from during the trailing window of days.
func (s *Service) RecentLocations(ctx context.Context, tenantID, customerID string, days int, now time.Time) (map[string]struct{}, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}
	if customerID == "" {
		return nil, fmt.Errorf("%w: customerID is required", domain.ErrValidation)
	}

	since := now.AddDate(0, 0, -days)
	txs, err := s.repo.GetTransactionsByCustomer(ctx, tenantID, customerID, since)
	if err != nil {
		return nil, fmt.Errorf("%w: get customer locations: %v", domain.ErrTransientLookup, err)
	}

	locations := make(map[string]struct{})
	for _, tx := range txs {
		if tx.Country == "" && tx.City == "" {
			continue
		}
		loc := domain.Location{Country: tx.Country, City: tx.City}
		locations[loc.Key()] = struct{}{}
	}
	return locations, nil
}

// Record persists a scored transaction as a history row and bumps the
// account's frequency counter and velocity accumulator. Counter failures
// are logged, not returned; the repository row is the source of truth.
func (s *Service) Record(ctx context.Context, tenantID string, tc *domain.TransactionContext, now time.Time) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}
	if err := tc.Validate(); err != nil {
		return err
	}

	tx := tc.ToRecord(tenantID, now)
	tx.ID = uuid.New().String()
	if err := s.repo.SaveTransaction(ctx, tenantID, tx); err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}

	if s.cache == nil {
		return nil
	}

	count, err := s.cache.IncrementCounter(ctx, tenantID, frequencyKey(tx.AccountID), time.Hour)
	if err != nil {
		slog.Warn("frequency counter update failed",
			"tenant_id", tenantID,
			"account_id", tx.AccountID,
			"error", err,
		)
	}

	amount := tx.Amount
	if amount < 0 {
		amount = -amount
	}
	velocity, err := s.cache.AddAmount(ctx, tenantID, velocityKey(tx.AccountID, tx.Timestamp), amount, velocityTTL)
	if err != nil {
		slog.Warn("velocity accumulator update failed",
			"tenant_id", tenantID,
			"account_id", tx.AccountID,
			"error", err,
		)
	}

	slog.Debug("transaction recorded",
		"tenant_id", tenantID,
		"transaction_id", tx.TransactionID,
		"account_id", tx.AccountID,
		"hourly_count", count,
		"daily_velocity", velocity,
	)

	return nil
}

// velocityTTL keeps day-keyed accumulators around past midnight so
// late-arriving reads for the previous day still resolve.
const velocityTTL = 48 * time.Hour

func frequencyKey(accountID string) string {
	return "freq:" + accountID
}

// velocityKey is keyed by the transaction's UTC date so each day gets its
// own accumulator and backdated transactions land in the right bucket.
func velocityKey(accountID string, ts time.Time) string {
	return "velocity:" + accountID + ":" + ts.UTC().Format(domain.StatsDateFormat)
}
