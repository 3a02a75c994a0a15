package domain

// StatsDateFormat is the canonical day key for statistics rows (UTC).
const StatsDateFormat = "2006-01-02"

// FraudStatistics is a daily rollup of a tenant's alerts. Rows are fully
// recomputed from that day's alerts, never incrementally maintained.
type FraudStatistics struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// Date is the rollup day in YYYY-MM-DD (UTC).
	Date string `json:"date"`

	TotalAlerts    int `json:"totalAlerts"`
	CriticalAlerts int `json:"criticalAlerts"`
	HighAlerts     int `json:"highAlerts"`
	MediumAlerts   int `json:"mediumAlerts"`
	LowAlerts      int `json:"lowAlerts"`

	BlockedTransactions int `json:"blockedTransactions"`
	FalsePositives      int `json:"falsePositives"`

	AverageRiskScore float64 `json:"averageRiskScore"`
}
