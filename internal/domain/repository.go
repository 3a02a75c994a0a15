// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Transaction history
	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	CountTransactionsByAccount(ctx context.Context, tenantID string, accountID string, since time.Time) (int, error)
	SumTransactionAmountsByAccount(ctx context.Context, tenantID string, accountID string, since time.Time) (float64, error)
	GetTransactionsByCustomer(ctx context.Context, tenantID string, customerID string, since time.Time) ([]*Transaction, error)

	// Fraud rules
	SaveRule(ctx context.Context, tenantID string, rule *FraudRule) error
	GetRule(ctx context.Context, tenantID string, ruleID string) (*FraudRule, error)
	ListRules(ctx context.Context, tenantID string, activeOnly bool) ([]*FraudRule, error)
	UpdateRule(ctx context.Context, tenantID string, rule *FraudRule) error
	DeleteRule(ctx context.Context, tenantID string, ruleID string) error

	// Fraud alerts (audit records; update is review-only)
	SaveAlert(ctx context.Context, tenantID string, alert *FraudAlert) error
	GetAlert(ctx context.Context, tenantID string, alertID string) (*FraudAlert, error)
	ListAlerts(ctx context.Context, tenantID string, filter AlertFilter) ([]*FraudAlert, error)
	UpdateAlert(ctx context.Context, tenantID string, alert *FraudAlert) error

	// Trusted devices
	SaveDevice(ctx context.Context, tenantID string, device *TrustedDevice) error
	GetDevice(ctx context.Context, tenantID string, deviceID string) (*TrustedDevice, error)
	FindDeviceByFingerprint(ctx context.Context, tenantID string, customerID string, fingerprint string) (*TrustedDevice, error)
	ListDevicesByCustomer(ctx context.Context, tenantID string, customerID string) ([]*TrustedDevice, error)
	UpdateDevice(ctx context.Context, tenantID string, device *TrustedDevice) error

	// Daily statistics (full-replace per day)
	SaveStatistics(ctx context.Context, tenantID string, stats *FraudStatistics) error
	GetStatisticsRange(ctx context.Context, tenantID string, from string, to string) ([]*FraudStatistics, error)

	// Tenant settings
	GetTenantSettings(ctx context.Context, tenantID string) (*TenantSettings, error)
	SaveTenantSettings(ctx context.Context, tenantID string, settings *TenantSettings) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
