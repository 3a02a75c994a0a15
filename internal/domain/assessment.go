package domain

// RiskAssessment is the outcome of analyzing one transaction.
type RiskAssessment struct {
	TransactionID string    `json:"transactionId"`
	TenantID      string    `json:"tenantId"`
	RiskScore     int       `json:"riskScore"`
	RiskLevel     RiskLevel `json:"riskLevel"`
	Reasons       []string  `json:"reasons"`
	ShouldBlock   bool      `json:"shouldBlock"`

	// Confidence expresses how well-corroborated the score is, 0..100.
	Confidence float64 `json:"confidence"`

	// AlertID is set when the assessment produced an alert
	// (riskLevel above LOW).
	AlertID string `json:"alertId,omitempty"`

	Metadata AssessmentMetadata `json:"metadata"`
}

// AssessmentMetadata carries processing information for audit and debugging.
type AssessmentMetadata struct {
	TraceID        string `json:"traceId,omitempty"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	RulesSkipped   int    `json:"rulesSkipped,omitempty"`
	ChecksSkipped  int    `json:"checksSkipped,omitempty"`
	TotalMs        int64  `json:"totalMs"`
	EngineVersion  string `json:"engineVersion,omitempty"`
}

// SignalSource labels where a score contribution came from.
type SignalSource string

const (
	SourceRules    SignalSource = "rules"
	SourceBehavior SignalSource = "behavior"
	SourceDevice   SignalSource = "device"
	SourceLocation SignalSource = "location"
)

// Signal is one component's contribution to the aggregate score.
// Contributions are additive; reason order follows signal order.
type Signal struct {
	Source  SignalSource `json:"source"`
	Score   int          `json:"score"`
	Reasons []string     `json:"reasons,omitempty"`

	// Skipped marks a signal whose external read failed transiently and
	// was dropped fail-open.
	Skipped bool `json:"skipped,omitempty"`
}
