// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a history record with tenant isolation.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		INSERT INTO transactions (
			id, tenant_id, transaction_id, customer_id, account_id,
			amount, currency, type, country, city, ip,
			device_fingerprint, timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID, tx.TransactionID, tx.CustomerID, tx.AccountID,
		tx.Amount, tx.Currency, tx.Type,
		tx.Country, tx.City, tx.IP,
		tx.DeviceFingerprint, tx.Timestamp, tx.CreatedAt,
	)
	return err
}

// CountTransactionsByAccount returns the number of history records for an
// account since the given time.
func (r *SQLRepository) CountTransactionsByAccount(ctx context.Context, tenantID string, accountID string, since time.Time) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT COUNT(*)
		FROM transactions
		WHERE tenant_id = ? AND account_id = ? AND timestamp >= ?
	`

	var count int
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, accountID, since).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// SumTransactionAmountsByAccount returns the sum of absolute amounts for an
// account since the given time. Used for daily velocity.
func (r *SQLRepository) SumTransactionAmountsByAccount(ctx context.Context, tenantID string, accountID string, since time.Time) (float64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT COALESCE(SUM(ABS(amount)), 0)
		FROM transactions
		WHERE tenant_id = ? AND account_id = ? AND timestamp >= ?
	`

	var total float64
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, accountID, since).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

// GetTransactionsByCustomer retrieves a customer's history since the given
// time, newest first.
func (r *SQLRepository) GetTransactionsByCustomer(ctx context.Context, tenantID string, customerID string, since time.Time) ([]*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT id, tenant_id, transaction_id, customer_id, account_id,
			   amount, currency, type, country, city, ip,
			   device_fingerprint, timestamp, created_at
		FROM transactions
		WHERE tenant_id = ? AND customer_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, customerID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var country, city, ip, fingerprint sql.NullString

		if err := rows.Scan(
			&tx.ID, &tx.TenantID, &tx.TransactionID, &tx.CustomerID, &tx.AccountID,
			&tx.Amount, &tx.Currency, &tx.Type,
			&country, &city, &ip,
			&fingerprint, &tx.Timestamp, &tx.CreatedAt,
		); err != nil {
			return nil, err
		}

		tx.Country = country.String
		tx.City = city.String
		tx.IP = ip.String
		tx.DeviceFingerprint = fingerprint.String

		transactions = append(transactions, &tx)
	}

	return transactions, rows.Err()
}

// SaveRule stores a fraud rule with tenant isolation. Saving an existing id
// replaces its definition.
func (r *SQLRepository) SaveRule(ctx context.Context, tenantID string, rule *domain.FraudRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	conditions, _ := json.Marshal(rule.Conditions)
	actions, _ := json.Marshal(rule.Actions)

	active := 0
	if rule.IsActive {
		active = 1
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO fraud_rules (
			id, tenant_id, name, description, rule_type, conditions, actions,
			is_active, priority, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			rule_type = excluded.rule_type,
			conditions = excluded.conditions,
			actions = excluded.actions,
			is_active = excluded.is_active,
			priority = excluded.priority,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		string(rule.RuleType), string(conditions), string(actions),
		active, rule.Priority, rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

func scanRule(scan func(dest ...any) error) (*domain.FraudRule, error) {
	var rule domain.FraudRule
	var ruleType, conditions, actions string
	var active int

	if err := scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
		&ruleType, &conditions, &actions,
		&active, &rule.Priority, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.RuleType = domain.RuleType(ruleType)
	rule.IsActive = active == 1
	json.Unmarshal([]byte(conditions), &rule.Conditions)
	json.Unmarshal([]byte(actions), &rule.Actions)

	return &rule, nil
}

const ruleColumns = `id, tenant_id, name, description, rule_type, conditions, actions,
		   is_active, priority, created_at, updated_at`

// GetRule retrieves a fraud rule by id with tenant isolation.
func (r *SQLRepository) GetRule(ctx context.Context, tenantID string, ruleID string) (*domain.FraudRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM fraud_rules
		WHERE tenant_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID)
	rule, err := scanRule(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListRules retrieves a tenant's rules ordered by priority descending.
// With activeOnly, inactive rules are excluded.
func (r *SQLRepository) ListRules(ctx context.Context, tenantID string, activeOnly bool) ([]*domain.FraudRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM fraud_rules
		WHERE tenant_id = ?
	`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY priority DESC, name`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.FraudRule
	for rows.Next() {
		rule, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// UpdateRule updates an existing fraud rule with tenant isolation.
func (r *SQLRepository) UpdateRule(ctx context.Context, tenantID string, rule *domain.FraudRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	conditions, _ := json.Marshal(rule.Conditions)
	actions, _ := json.Marshal(rule.Actions)

	active := 0
	if rule.IsActive {
		active = 1
	}
	rule.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE fraud_rules
		SET name = ?, description = ?, rule_type = ?, conditions = ?,
			actions = ?, is_active = ?, priority = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.Name, rule.Description, string(rule.RuleType), string(conditions),
		string(actions), active, rule.Priority, rule.UpdatedAt,
		tenantID, rule.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// DeleteRule removes a fraud rule with tenant isolation.
func (r *SQLRepository) DeleteRule(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `DELETE FROM fraud_rules WHERE tenant_id = ? AND id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// SaveAlert stores a fraud alert with tenant isolation.
func (r *SQLRepository) SaveAlert(ctx context.Context, tenantID string, alert *domain.FraudAlert) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	reasons, _ := json.Marshal(alert.Reasons)

	query := `
		INSERT INTO fraud_alerts (
			id, tenant_id, transaction_id, customer_id, account_id,
			risk_score, risk_level, reasons, status,
			reviewed_by, review_notes, reviewed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, tenantID, alert.TransactionID, alert.CustomerID, alert.AccountID,
		alert.RiskScore, string(alert.RiskLevel), string(reasons), string(alert.Status),
		alert.ReviewedBy, alert.ReviewNotes, alert.ReviewedAt, alert.CreatedAt,
	)
	return err
}

func scanAlert(scan func(dest ...any) error) (*domain.FraudAlert, error) {
	var alert domain.FraudAlert
	var riskLevel, reasons, status string
	var reviewedBy, reviewNotes sql.NullString
	var reviewedAt sql.NullTime

	if err := scan(
		&alert.ID, &alert.TenantID, &alert.TransactionID, &alert.CustomerID, &alert.AccountID,
		&alert.RiskScore, &riskLevel, &reasons, &status,
		&reviewedBy, &reviewNotes, &reviewedAt, &alert.CreatedAt,
	); err != nil {
		return nil, err
	}

	alert.RiskLevel = domain.RiskLevel(riskLevel)
	alert.Status = domain.AlertStatus(status)
	alert.ReviewedBy = reviewedBy.String
	alert.ReviewNotes = reviewNotes.String
	if reviewedAt.Valid {
		t := reviewedAt.Time
		alert.ReviewedAt = &t
	}
	json.Unmarshal([]byte(reasons), &alert.Reasons)

	return &alert, nil
}

const alertColumns = `id, tenant_id, transaction_id, customer_id, account_id,
		   risk_score, risk_level, reasons, status,
		   reviewed_by, review_notes, reviewed_at, created_at`

// GetAlert retrieves a fraud alert by id with tenant isolation.
func (r *SQLRepository) GetAlert(ctx context.Context, tenantID string, alertID string) (*domain.FraudAlert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT ` + alertColumns + `
		FROM fraud_alerts
		WHERE tenant_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, alertID)
	alert, err := scanAlert(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// ListAlerts retrieves a tenant's alerts matching the filter, newest first.
func (r *SQLRepository) ListAlerts(ctx context.Context, tenantID string, filter domain.AlertFilter) ([]*domain.FraudAlert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT ` + alertColumns + `
		FROM fraud_alerts
		WHERE tenant_id = ?
	`
	args := []any{tenantID}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.RiskLevel != "" {
		query += ` AND risk_level = ?`
		args = append(args, string(filter.RiskLevel))
	}
	if filter.CustomerID != "" {
		query += ` AND customer_id = ?`
		args = append(args, filter.CustomerID)
	}
	if filter.AccountID != "" {
		query += ` AND account_id = ?`
		args = append(args, filter.AccountID)
	}
	if !filter.From.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, filter.To)
	}

	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.FraudAlert
	for rows.Next() {
		alert, err := scanAlert(rows.Scan)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, rows.Err()
}

// UpdateAlert updates an alert's review fields with tenant isolation.
func (r *SQLRepository) UpdateAlert(ctx context.Context, tenantID string, alert *domain.FraudAlert) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		UPDATE fraud_alerts
		SET status = ?, reviewed_by = ?, review_notes = ?, reviewed_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(alert.Status), alert.ReviewedBy, alert.ReviewNotes, alert.ReviewedAt,
		tenantID, alert.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// SaveDevice stores a trusted device with tenant isolation. Registering an
// already-known (tenant, customer, fingerprint) reactivates the existing row
// instead of failing on the unique key; the original row id wins.
func (r *SQLRepository) SaveDevice(ctx context.Context, tenantID string, device *domain.TrustedDevice) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	info, _ := json.Marshal(device.DeviceInfo)

	active := 0
	if device.IsActive {
		active = 1
	}

	query := `
		INSERT INTO trusted_devices (
			id, tenant_id, customer_id, device_fingerprint, device_info,
			is_active, registered_at, last_used_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, customer_id, device_fingerprint) DO UPDATE SET
			device_info = excluded.device_info,
			is_active = excluded.is_active,
			last_used_at = excluded.last_used_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		device.ID, tenantID, device.CustomerID, device.DeviceFingerprint, string(info),
		active, device.RegisteredAt, device.LastUsedAt,
	)
	return err
}

func scanDevice(scan func(dest ...any) error) (*domain.TrustedDevice, error) {
	var device domain.TrustedDevice
	var info sql.NullString
	var active int

	if err := scan(
		&device.ID, &device.TenantID, &device.CustomerID, &device.DeviceFingerprint,
		&info, &active, &device.RegisteredAt, &device.LastUsedAt,
	); err != nil {
		return nil, err
	}

	device.IsActive = active == 1
	if info.Valid && info.String != "" {
		json.Unmarshal([]byte(info.String), &device.DeviceInfo)
	}

	return &device, nil
}

const deviceColumns = `id, tenant_id, customer_id, device_fingerprint, device_info,
		   is_active, registered_at, last_used_at`

// GetDevice retrieves a trusted device by id with tenant isolation.
func (r *SQLRepository) GetDevice(ctx context.Context, tenantID string, deviceID string) (*domain.TrustedDevice, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT ` + deviceColumns + `
		FROM trusted_devices
		WHERE tenant_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, deviceID)
	device, err := scanDevice(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return device, nil
}

// FindDeviceByFingerprint retrieves a device by its logical key regardless
// of active state. Callers check IsActive.
func (r *SQLRepository) FindDeviceByFingerprint(ctx context.Context, tenantID string, customerID string, fingerprint string) (*domain.TrustedDevice, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT ` + deviceColumns + `
		FROM trusted_devices
		WHERE tenant_id = ? AND customer_id = ? AND device_fingerprint = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, customerID, fingerprint)
	device, err := scanDevice(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return device, nil
}

// ListDevicesByCustomer retrieves a customer's active devices ordered by
// last use, most recent first.
func (r *SQLRepository) ListDevicesByCustomer(ctx context.Context, tenantID string, customerID string) ([]*domain.TrustedDevice, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT ` + deviceColumns + `
		FROM trusted_devices
		WHERE tenant_id = ? AND customer_id = ? AND is_active = 1
		ORDER BY last_used_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*domain.TrustedDevice
	for rows.Next() {
		device, err := scanDevice(rows.Scan)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}

	return devices, rows.Err()
}

// UpdateDevice updates a trusted device with tenant isolation.
func (r *SQLRepository) UpdateDevice(ctx context.Context, tenantID string, device *domain.TrustedDevice) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	info, _ := json.Marshal(device.DeviceInfo)

	active := 0
	if device.IsActive {
		active = 1
	}

	query := `
		UPDATE trusted_devices
		SET device_info = ?, is_active = ?, last_used_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(info), active, device.LastUsedAt,
		tenantID, device.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// SaveStatistics stores a daily rollup, replacing any existing row for the
// same tenant and day.
func (r *SQLRepository) SaveStatistics(ctx context.Context, tenantID string, stats *domain.FraudStatistics) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		INSERT INTO fraud_statistics (
			id, tenant_id, date, total_alerts,
			critical_alerts, high_alerts, medium_alerts, low_alerts,
			blocked_transactions, false_positives, average_risk_score
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, date) DO UPDATE SET
			total_alerts = excluded.total_alerts,
			critical_alerts = excluded.critical_alerts,
			high_alerts = excluded.high_alerts,
			medium_alerts = excluded.medium_alerts,
			low_alerts = excluded.low_alerts,
			blocked_transactions = excluded.blocked_transactions,
			false_positives = excluded.false_positives,
			average_risk_score = excluded.average_risk_score
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		stats.ID, tenantID, stats.Date, stats.TotalAlerts,
		stats.CriticalAlerts, stats.HighAlerts, stats.MediumAlerts, stats.LowAlerts,
		stats.BlockedTransactions, stats.FalsePositives, stats.AverageRiskScore,
	)
	return err
}

// GetStatisticsRange retrieves daily rollups between from and to inclusive
// (YYYY-MM-DD), date ascending.
func (r *SQLRepository) GetStatisticsRange(ctx context.Context, tenantID string, from string, to string) ([]*domain.FraudStatistics, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT id, tenant_id, date, total_alerts,
			   critical_alerts, high_alerts, medium_alerts, low_alerts,
			   blocked_transactions, false_positives, average_risk_score
		FROM fraud_statistics
		WHERE tenant_id = ? AND date >= ? AND date <= ?
		ORDER BY date
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.FraudStatistics
	for rows.Next() {
		var s domain.FraudStatistics
		if err := rows.Scan(
			&s.ID, &s.TenantID, &s.Date, &s.TotalAlerts,
			&s.CriticalAlerts, &s.HighAlerts, &s.MediumAlerts, &s.LowAlerts,
			&s.BlockedTransactions, &s.FalsePositives, &s.AverageRiskScore,
		); err != nil {
			return nil, err
		}
		results = append(results, &s)
	}

	return results, rows.Err()
}

// GetTenantSettings retrieves a tenant's analysis settings.
func (r *SQLRepository) GetTenantSettings(ctx context.Context, tenantID string) (*domain.TenantSettings, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT tenant_id, high_risk_countries, updated_at
		FROM tenant_settings
		WHERE tenant_id = ?
	`

	var settings domain.TenantSettings
	var countries string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID).Scan(
		&settings.TenantID, &countries, &settings.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(countries), &settings.HighRiskCountries)

	return &settings, nil
}

// SaveTenantSettings stores a tenant's analysis settings.
func (r *SQLRepository) SaveTenantSettings(ctx context.Context, tenantID string, settings *domain.TenantSettings) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	countries, _ := json.Marshal(settings.HighRiskCountries)
	settings.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO tenant_settings (tenant_id, high_risk_countries, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			high_risk_countries = excluded.high_risk_countries,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tenantID, string(countries), settings.UpdatedAt,
	)
	return err
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
