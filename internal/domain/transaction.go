package domain

import (
	"fmt"
	"strings"
	"time"
)

// TransactionContext carries the transaction under analysis.
// It is transient and caller-owned; the scoring pipeline never mutates it.
type TransactionContext struct {
	TransactionID string `json:"transactionId"`
	CustomerID    string `json:"customerId"`
	AccountID     string `json:"accountId"`

	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	// Transaction type (e.g., "transfer", "payment", "withdrawal")
	Type string `json:"type"`

	Location *Location `json:"location,omitempty"`
	Device   *Device   `json:"device,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Location is the optional geographic origin of a transaction.
type Location struct {
	Country string `json:"country"`
	City    string `json:"city"`
	IP      string `json:"ip,omitempty"`
}

// Key returns the normalized (country, city) pair used for
// recent-location comparison.
func (l *Location) Key() string {
	return strings.ToUpper(strings.TrimSpace(l.Country)) + "|" + strings.ToLower(strings.TrimSpace(l.City))
}

// Device is the optional device signature of a transaction.
type Device struct {
	Fingerprint string `json:"fingerprint"`
	UserAgent   string `json:"userAgent,omitempty"`
	IsMobile    bool   `json:"isMobile"`
}

// EffectiveTime is the transaction's own timestamp when supplied,
// otherwise the provided evaluation time.
func (c *TransactionContext) EffectiveTime(fallback time.Time) time.Time {
	if c.Timestamp.IsZero() {
		return fallback
	}
	return c.Timestamp
}

// Validate checks the structural requirements for analysis.
// transactionId, customerId, accountId and amount are mandatory.
func (c *TransactionContext) Validate() error {
	if c.TransactionID == "" {
		return fmt.Errorf("%w: transactionId is required", ErrValidation)
	}
	if c.CustomerID == "" {
		return fmt.Errorf("%w: customerId is required", ErrValidation)
	}
	if c.AccountID == "" {
		return fmt.Errorf("%w: accountId is required", ErrValidation)
	}
	if c.Amount == 0 {
		return fmt.Errorf("%w: amount is required", ErrValidation)
	}
	return nil
}

// Transaction is a stored history record. History rows are written by the
// transport layer after scoring so the current transaction never counts
// against itself.
type Transaction struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	TransactionID string `json:"transactionId"`
	CustomerID    string `json:"customerId"`
	AccountID     string `json:"accountId"`

	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Type     string  `json:"type"`

	Country           string `json:"country,omitempty"`
	City              string `json:"city,omitempty"`
	IP                string `json:"ip,omitempty"`
	DeviceFingerprint string `json:"deviceFingerprint,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`
}

// ToRecord converts a context to a history record for persistence.
func (c *TransactionContext) ToRecord(tenantID string, now time.Time) *Transaction {
	tx := &Transaction{
		TenantID:      tenantID,
		TransactionID: c.TransactionID,
		CustomerID:    c.CustomerID,
		AccountID:     c.AccountID,
		Amount:        c.Amount,
		Currency:      c.Currency,
		Type:          c.Type,
		Timestamp:     c.Timestamp,
		CreatedAt:     now,
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = now
	}
	if c.Location != nil {
		tx.Country = c.Location.Country
		tx.City = c.Location.City
		tx.IP = c.Location.IP
	}
	if c.Device != nil {
		tx.DeviceFingerprint = c.Device.Fingerprint
	}
	return tx
}

// HistoryPoint is the minimal history view consumed by behavioral analysis.
type HistoryPoint struct {
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
}
