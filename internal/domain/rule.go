package domain

import (
	"fmt"
	"time"
)

// RuleType identifies the typed condition set a rule evaluates.
type RuleType string

const (
	RuleAmountThreshold RuleType = "AMOUNT_THRESHOLD"
	RuleFrequencyLimit  RuleType = "FREQUENCY_LIMIT"
	RuleVelocityCheck   RuleType = "VELOCITY_CHECK"
	RuleLocationBased   RuleType = "LOCATION_BASED"
	RuleDeviceBased     RuleType = "DEVICE_BASED"
	RuleBehavioral      RuleType = "BEHAVIORAL"
	RuleCustom          RuleType = "CUSTOM"
)

// Valid reports whether t is a known rule type.
func (t RuleType) Valid() bool {
	switch t {
	case RuleAmountThreshold, RuleFrequencyLimit, RuleVelocityCheck,
		RuleLocationBased, RuleDeviceBased, RuleBehavioral, RuleCustom:
		return true
	}
	return false
}

// RuleConditions is the closed set of typed predicate parameters.
// Each rule type consults exactly its own fields; the rest are ignored.
// New predicate kinds are added as new fields plus an engine case, never
// as untyped keys.
type RuleConditions struct {
	// AMOUNT_THRESHOLD: triggers when amount > MaxAmount.
	MaxAmount float64 `json:"maxAmount,omitempty"`

	// FREQUENCY_LIMIT: triggers when the account's transaction count in
	// the trailing hour reaches MaxTransactionsPerHour.
	MaxTransactionsPerHour int `json:"maxTransactionsPerHour,omitempty"`

	// VELOCITY_CHECK: triggers when the account's current-day velocity
	// (sum of absolute amounts) exceeds MaxVelocityPerDay.
	MaxVelocityPerDay float64 `json:"maxVelocityPerDay,omitempty"`

	// LOCATION_BASED: triggers when the context country matches an entry.
	BlockedCountries []string `json:"blockedCountries,omitempty"`

	// DEVICE_BASED: triggers when the context fingerprint matches an entry.
	BlockedFingerprints []string `json:"blockedFingerprints,omitempty"`

	// BEHAVIORAL: triggers when |amount - 30d average| / average exceeds
	// MaxDeviationRatio.
	MaxDeviationRatio float64 `json:"maxDeviationRatio,omitempty"`

	// CUSTOM: CEL expression compiled to a boolean predicate.
	Expression string `json:"expression,omitempty"`
}

// RuleActions describes what a triggered rule contributes.
type RuleActions struct {
	RiskScore        int  `json:"riskScore"`
	AutoBlock        bool `json:"autoBlock"`
	RequireReview    bool `json:"requireReview"`
	NotifyCompliance bool `json:"notifyCompliance"`
}

// FraudRule is a tenant-defined predicate-and-action pair. Conditions and
// actions are read-only inputs to evaluation.
type FraudRule struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenantId"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	RuleType    RuleType       `json:"ruleType"`
	Conditions  RuleConditions `json:"conditions"`
	Actions     RuleActions    `json:"actions"`
	IsActive    bool           `json:"isActive"`

	// Priority orders evaluation, highest first. Valid range 1..100.
	Priority int `json:"priority"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks rule structure before persistence.
func (r *FraudRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: rule name is required", ErrValidation)
	}
	if !r.RuleType.Valid() {
		return fmt.Errorf("%w: unknown rule type %q", ErrValidation, r.RuleType)
	}
	if r.Priority < 1 || r.Priority > 100 {
		return fmt.Errorf("%w: priority must be between 1 and 100, got %d", ErrValidation, r.Priority)
	}
	if r.RuleType == RuleCustom && r.Conditions.Expression == "" {
		return fmt.Errorf("%w: custom rules require an expression", ErrValidation)
	}
	return nil
}

// RuleOutcome is the result of evaluating one rule against one transaction.
type RuleOutcome struct {
	RuleID      string   `json:"ruleId"`
	RuleName    string   `json:"ruleName"`
	Triggered   bool     `json:"triggered"`
	Score       int      `json:"score"`
	Reasons     []string `json:"reasons,omitempty"`
	ShouldBlock bool     `json:"shouldBlock"`

	// Skipped marks a rule whose required lookup failed transiently.
	// Skipped rules contribute nothing (fail-open).
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// EngineReport aggregates the outcomes of a full rule pass.
type EngineReport struct {
	Score       int           `json:"score"`
	Reasons     []string      `json:"reasons"`
	ShouldBlock bool          `json:"shouldBlock"`
	Outcomes    []RuleOutcome `json:"outcomes,omitempty"`
	Evaluated   int           `json:"evaluated"`
	Skipped     int           `json:"skipped"`
}
