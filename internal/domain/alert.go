package domain

import (
	"time"
)

// RiskLevel is the ordinal classification derived from a risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// SeverityLabel returns the lowercase label used for storage and
// correlation (statistics rollups, log fields).
func (l RiskLevel) SeverityLabel() string {
	switch l {
	case RiskCritical:
		return "critical"
	case RiskHigh:
		return "high"
	case RiskMedium:
		return "medium"
	default:
		return "low"
	}
}

// AlertStatus is the state of a fraud alert.
type AlertStatus string

const (
	AlertPending       AlertStatus = "PENDING"
	AlertBlocked       AlertStatus = "BLOCKED"
	AlertApproved      AlertStatus = "APPROVED"
	AlertRejected      AlertStatus = "REJECTED"
	AlertFalsePositive AlertStatus = "FALSE_POSITIVE"
)

// Terminal reports whether s is a final state. Terminal alerts cannot be
// reviewed again.
func (s AlertStatus) Terminal() bool {
	switch s {
	case AlertApproved, AlertRejected, AlertFalsePositive:
		return true
	}
	return false
}

// ReviewStatus reports whether s is a valid review outcome.
func (s AlertStatus) ReviewStatus() bool {
	switch s {
	case AlertApproved, AlertRejected, AlertFalsePositive:
		return true
	}
	return false
}

// FraudAlert is the audit record for a risky transaction. Alerts are never
// deleted; review is the only mutation.
type FraudAlert struct {
	ID            string      `json:"id"`
	TenantID      string      `json:"tenantId"`
	TransactionID string      `json:"transactionId"`
	CustomerID    string      `json:"customerId"`
	AccountID     string      `json:"accountId"`
	RiskScore     int         `json:"riskScore"`
	RiskLevel     RiskLevel   `json:"riskLevel"`
	Reasons       []string    `json:"reasons"`
	Status        AlertStatus `json:"status"`
	ReviewedBy    string      `json:"reviewedBy,omitempty"`
	ReviewNotes   string      `json:"reviewNotes,omitempty"`
	ReviewedAt    *time.Time  `json:"reviewedAt,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// AlertFilter narrows ListAlerts. Zero values mean "no constraint".
type AlertFilter struct {
	Status     AlertStatus `json:"status,omitempty"`
	RiskLevel  RiskLevel   `json:"riskLevel,omitempty"`
	CustomerID string      `json:"customerId,omitempty"`
	AccountID  string      `json:"accountId,omitempty"`
	From       time.Time   `json:"from,omitempty"`
	To         time.Time   `json:"to,omitempty"`
	Limit      int         `json:"limit,omitempty"`
}
