package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// BuiltinRules returns a conservative starter rule set for a new tenant.
// Deployments seed these once (see cmd/kestrel) and tune them via the API;
// nothing in the engine depends on their presence.
func BuiltinRules() []*domain.FraudRule {
	return []*domain.FraudRule{
		{
			ID:          "builtin-high-amount",
			Name:        "High transaction amount",
			Description: "Flags single transactions above 10,000.",
			RuleType:    domain.RuleAmountThreshold,
			Conditions:  domain.RuleConditions{MaxAmount: 10000},
			Actions:     domain.RuleActions{RiskScore: 30, RequireReview: true},
			IsActive:    true,
			Priority:    90,
		},
		{
			ID:          "builtin-rapid-fire",
			Name:        "Rapid transaction burst",
			Description: "Flags accounts transacting ten or more times in an hour.",
			RuleType:    domain.RuleFrequencyLimit,
			Conditions:  domain.RuleConditions{MaxTransactionsPerHour: 10},
			Actions:     domain.RuleActions{RiskScore: 25},
			IsActive:    true,
			Priority:    80,
		},
		{
			ID:          "builtin-daily-velocity",
			Name:        "Daily velocity ceiling",
			Description: "Flags accounts moving more than 50,000 in a day.",
			RuleType:    domain.RuleVelocityCheck,
			Conditions:  domain.RuleConditions{MaxVelocityPerDay: 50000},
			Actions:     domain.RuleActions{RiskScore: 35, AutoBlock: true, NotifyCompliance: true},
			IsActive:    true,
			Priority:    70,
		},
		{
			ID:          "builtin-night-cash",
			Name:        "Large overnight withdrawal",
			Description: "Flags cash-like transactions over 2,000 between midnight and 5am.",
			RuleType:    domain.RuleCustom,
			Conditions: domain.RuleConditions{
				Expression: `tx_type == "withdrawal" && amount > 2000.0 && hour < 5`,
			},
			Actions:  domain.RuleActions{RiskScore: 20},
			IsActive: true,
			Priority: 60,
		},
	}
}
