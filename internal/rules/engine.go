// Package rules implements the typed fraud-rule engine and the
// tenant-scoped rule store backing it.
package rules

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// defaultRuleScore is contributed by a triggered rule whose actions do not
// set an explicit riskScore.
const defaultRuleScore = 10

// behavioralWindowDays is the history window consulted by BEHAVIORAL rules.
const behavioralWindowDays = 30

// Lookups answers the external questions rule conditions depend on.
// *history.Service satisfies it.
type Lookups interface {
	RecentCount(ctx context.Context, tenantID, accountID string, window time.Duration, now time.Time) (int, error)
	DailyVelocity(ctx context.Context, tenantID, accountID string, now time.Time) (float64, error)
	CustomerWindow(ctx context.Context, tenantID, customerID string, days int, now time.Time) ([]domain.HistoryPoint, error)
}

// Engine evaluates fraud rules against a transaction context. Rules run in
// parallel under a bounded worker pool; outcomes are merged back in the
// caller's rule order so reason lists stay deterministic.
type Engine struct {
	lookups    Lookups
	custom     *celCompiler
	maxWorkers int
}

// NewEngine creates a rule engine. lookups may be nil, in which case
// history-dependent rule types are skipped.
func NewEngine(lookups Lookups, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}

	custom, err := newCELCompiler()
	if err != nil {
		return nil, err
	}

	return &Engine{
		lookups:    lookups,
		custom:     custom,
		maxWorkers: maxWorkers,
	}, nil
}

// ValidateExpression compiles a CUSTOM rule expression without caching it.
// Used by the rule store to reject bad expressions at write time.
func (e *Engine) ValidateExpression(expression string) error {
	_, err := e.custom.compile(expression)
	return err
}

// Evaluate runs the given rules against the transaction in parallel and
// merges the outcomes in input order (callers pass rules ordered by
// descending priority). A rule whose external lookup fails transiently is
// skipped and contributes nothing.
func (e *Engine) Evaluate(ctx context.Context, tenantID string, ruleSet []*domain.FraudRule, tc *domain.TransactionContext, now time.Time) *domain.EngineReport {
	report := &domain.EngineReport{}
	if len(ruleSet) == 0 {
		return report
	}

	outcomes := make([]domain.RuleOutcome, len(ruleSet))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range ruleSet {
		wg.Add(1)
		go func(idx int, r *domain.FraudRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			outcomes[idx] = e.evaluateRule(ctx, tenantID, r, tc, now)
		}(i, rule)
	}

	wg.Wait()

	for _, out := range outcomes {
		report.Outcomes = append(report.Outcomes, out)
		if out.Skipped {
			report.Skipped++
			continue
		}
		report.Evaluated++
		if !out.Triggered {
			continue
		}
		report.Score += out.Score
		report.Reasons = append(report.Reasons, out.Reasons...)
		if out.ShouldBlock {
			report.ShouldBlock = true
		}
	}

	return report
}

func (e *Engine) evaluateRule(ctx context.Context, tenantID string, rule *domain.FraudRule, tc *domain.TransactionContext, now time.Time) domain.RuleOutcome {
	out := domain.RuleOutcome{
		RuleID:   rule.ID,
		RuleName: rule.Name,
	}

	triggered, reasons, err := e.checkConditions(ctx, tenantID, rule, tc, now)
	if err != nil {
		out.Skipped = true
		out.Error = err.Error()
		return out
	}
	if !triggered {
		return out
	}

	out.Triggered = true
	out.Reasons = reasons
	out.Score = rule.Actions.RiskScore
	if out.Score <= 0 {
		out.Score = defaultRuleScore
	}
	out.ShouldBlock = rule.Actions.AutoBlock

	return out
}

// checkConditions dispatches on the rule type. Each type consults exactly
// its own condition fields; an unset threshold leaves the rule dormant.
func (e *Engine) checkConditions(ctx context.Context, tenantID string, rule *domain.FraudRule, tc *domain.TransactionContext, now time.Time) (bool, []string, error) {
	cond := rule.Conditions

	switch rule.RuleType {
	case domain.RuleAmountThreshold:
		if cond.MaxAmount <= 0 {
			return false, nil, nil
		}
		if tc.Amount > cond.MaxAmount {
			return true, []string{fmt.Sprintf("amount %.2f exceeds threshold %.2f", tc.Amount, cond.MaxAmount)}, nil
		}
		return false, nil, nil

	case domain.RuleFrequencyLimit:
		if cond.MaxTransactionsPerHour <= 0 || e.lookups == nil {
			return false, nil, nil
		}
		count, err := e.lookups.RecentCount(ctx, tenantID, tc.AccountID, time.Hour, now)
		if err != nil {
			return false, nil, err
		}
		if count >= cond.MaxTransactionsPerHour {
			return true, []string{fmt.Sprintf("%d transactions in the last hour reached the limit of %d", count, cond.MaxTransactionsPerHour)}, nil
		}
		return false, nil, nil

	case domain.RuleVelocityCheck:
		if cond.MaxVelocityPerDay <= 0 || e.lookups == nil {
			return false, nil, nil
		}
		velocity, err := e.lookups.DailyVelocity(ctx, tenantID, tc.AccountID, now)
		if err != nil {
			return false, nil, err
		}
		if velocity > cond.MaxVelocityPerDay {
			return true, []string{fmt.Sprintf("daily velocity %.2f exceeds the limit of %.2f", velocity, cond.MaxVelocityPerDay)}, nil
		}
		return false, nil, nil

	case domain.RuleLocationBased:
		if tc.Location == nil {
			return false, nil, nil
		}
		country := normalizeCountry(tc.Location.Country)
		for _, blocked := range cond.BlockedCountries {
			if normalizeCountry(blocked) == country {
				return true, []string{fmt.Sprintf("transaction from blocked country %s", country)}, nil
			}
		}
		return false, nil, nil

	case domain.RuleDeviceBased:
		if tc.Device == nil || tc.Device.Fingerprint == "" {
			return false, nil, nil
		}
		for _, blocked := range cond.BlockedFingerprints {
			if blocked == tc.Device.Fingerprint {
				return true, []string{"transaction from blocked device"}, nil
			}
		}
		return false, nil, nil

	case domain.RuleBehavioral:
		if cond.MaxDeviationRatio <= 0 || e.lookups == nil {
			return false, nil, nil
		}
		points, err := e.lookups.CustomerWindow(ctx, tenantID, tc.CustomerID, behavioralWindowDays, now)
		if err != nil {
			return false, nil, err
		}
		if len(points) == 0 {
			return false, nil, nil
		}
		var sum float64
		for _, p := range points {
			sum += p.Amount
		}
		avg := sum / float64(len(points))
		if avg <= 0 {
			return false, nil, nil
		}
		ratio := math.Abs(tc.Amount-avg) / avg
		if ratio > cond.MaxDeviationRatio {
			return true, []string{fmt.Sprintf("amount deviates %.1fx from the customer average of %.2f", ratio, avg)}, nil
		}
		return false, nil, nil

	case domain.RuleCustom:
		return e.evalCustom(ctx, tenantID, rule, tc, now)
	}

	return false, nil, fmt.Errorf("unsupported rule type %q", rule.RuleType)
}

func normalizeCountry(country string) string {
	return strings.ToUpper(strings.TrimSpace(country))
}
