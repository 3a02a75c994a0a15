package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    type TEXT NOT NULL,
    country TEXT,
    city TEXT,
    ip TEXT,
    device_fingerprint TEXT,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_tenant ON transactions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(tenant_id, account_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_customer ON transactions(tenant_id, customer_id, timestamp);
`

const schemaFraudRules = `
CREATE TABLE IF NOT EXISTS fraud_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    rule_type TEXT NOT NULL,
    conditions TEXT NOT NULL,
    actions TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    priority INTEGER NOT NULL DEFAULT 50,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_fraud_rules_tenant ON fraud_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_fraud_rules_active ON fraud_rules(tenant_id, is_active);
`

// Alerts are append-then-review audit records; there is no delete path.
const schemaFraudAlerts = `
CREATE TABLE IF NOT EXISTS fraud_alerts (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    risk_score INTEGER NOT NULL,
    risk_level TEXT NOT NULL,
    reasons TEXT NOT NULL,
    status TEXT NOT NULL,
    reviewed_by TEXT,
    review_notes TEXT,
    reviewed_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_alerts_tenant ON fraud_alerts(tenant_id);
CREATE INDEX IF NOT EXISTS idx_fraud_alerts_status ON fraud_alerts(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_fraud_alerts_level ON fraud_alerts(tenant_id, risk_level);
CREATE INDEX IF NOT EXISTS idx_fraud_alerts_customer ON fraud_alerts(tenant_id, customer_id);
CREATE INDEX IF NOT EXISTS idx_fraud_alerts_created ON fraud_alerts(tenant_id, created_at);
`

// The unique key makes concurrent first-use registration an idempotent
// upsert instead of a duplicate-key failure.
const schemaTrustedDevices = `
CREATE TABLE IF NOT EXISTS trusted_devices (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    device_fingerprint TEXT NOT NULL,
    device_info TEXT,
    is_active INTEGER NOT NULL DEFAULT 1,
    registered_at TIMESTAMP NOT NULL,
    last_used_at TIMESTAMP NOT NULL,
    UNIQUE (tenant_id, customer_id, device_fingerprint)
);

CREATE INDEX IF NOT EXISTS idx_trusted_devices_customer ON trusted_devices(tenant_id, customer_id, is_active);
`

const schemaFraudStatistics = `
CREATE TABLE IF NOT EXISTS fraud_statistics (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    date TEXT NOT NULL,
    total_alerts INTEGER NOT NULL DEFAULT 0,
    critical_alerts INTEGER NOT NULL DEFAULT 0,
    high_alerts INTEGER NOT NULL DEFAULT 0,
    medium_alerts INTEGER NOT NULL DEFAULT 0,
    low_alerts INTEGER NOT NULL DEFAULT 0,
    blocked_transactions INTEGER NOT NULL DEFAULT 0,
    false_positives INTEGER NOT NULL DEFAULT 0,
    average_risk_score REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (tenant_id, date)
);
`

const schemaTenantSettings = `
CREATE TABLE IF NOT EXISTS tenant_settings (
    tenant_id TEXT PRIMARY KEY,
    high_risk_countries TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaFraudRules,
		schemaFraudAlerts,
		schemaTrustedDevices,
		schemaFraudStatistics,
		schemaTenantSettings,
	}
}
