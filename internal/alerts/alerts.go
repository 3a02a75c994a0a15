// Package alerts manages the fraud-alert lifecycle and the daily
// statistics derived from it.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Manager owns the alert state machine. Alerts enter as PENDING or BLOCKED
// and leave through exactly one review into a terminal status; terminal
// alerts are immutable.
type Manager struct {
	repo domain.Repository
	bus  domain.EventBus
}

// NewManager creates an alert manager. bus may be nil, which disables
// lifecycle events.
func NewManager(repo domain.Repository, bus domain.EventBus) *Manager {
	return &Manager{
		repo: repo,
		bus:  bus,
	}
}

// FromAssessment builds the alert record for a scored transaction. The
// initial status is BLOCKED when the assessment voted to block, otherwise
// PENDING.
func FromAssessment(a *domain.RiskAssessment, tc *domain.TransactionContext, now time.Time) *domain.FraudAlert {
	status := domain.AlertPending
	if a.ShouldBlock {
		status = domain.AlertBlocked
	}

	return &domain.FraudAlert{
		ID:            uuid.New().String(),
		TenantID:      a.TenantID,
		TransactionID: a.TransactionID,
		CustomerID:    tc.CustomerID,
		AccountID:     tc.AccountID,
		RiskScore:     a.RiskScore,
		RiskLevel:     a.RiskLevel,
		Reasons:       a.Reasons,
		Status:        status,
		CreatedAt:     now,
	}
}

// Create validates and persists a new alert, then announces it on the bus.
// Alerts exist only for MEDIUM risk and above; LOW assessments never leave
// an audit record.
func (m *Manager) Create(ctx context.Context, tenantID string, alert *domain.FraudAlert) error {
	if alert.TransactionID == "" {
		return fmt.Errorf("%w: transactionId is required", domain.ErrValidation)
	}
	if alert.CustomerID == "" {
		return fmt.Errorf("%w: customerId is required", domain.ErrValidation)
	}
	if alert.AccountID == "" {
		return fmt.Errorf("%w: accountId is required", domain.ErrValidation)
	}

	switch alert.RiskLevel {
	case domain.RiskMedium, domain.RiskHigh, domain.RiskCritical:
	default:
		return fmt.Errorf("%w: alerts require risk level MEDIUM or above, got %q", domain.ErrValidation, alert.RiskLevel)
	}

	if alert.Status == "" {
		alert.Status = domain.AlertPending
	}
	if alert.Status != domain.AlertPending && alert.Status != domain.AlertBlocked {
		return fmt.Errorf("%w: new alerts start as PENDING or BLOCKED, got %q", domain.ErrValidation, alert.Status)
	}

	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	alert.TenantID = tenantID
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	if err := m.repo.SaveAlert(ctx, tenantID, alert); err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}

	m.publish(ctx, tenantID, domain.TopicAlertCreated, alert)
	return nil
}

// Get returns a single alert.
func (m *Manager) Get(ctx context.Context, tenantID, alertID string) (*domain.FraudAlert, error) {
	return m.repo.GetAlert(ctx, tenantID, alertID)
}

// List returns the tenant's alerts matching the filter, newest first.
func (m *Manager) List(ctx context.Context, tenantID string, filter domain.AlertFilter) ([]*domain.FraudAlert, error) {
	return m.repo.ListAlerts(ctx, tenantID, filter)
}

// Review moves an alert into a terminal status. Reviewing an alert that
// already reached a terminal status is a conflict, never a silent
// overwrite.
func (m *Manager) Review(ctx context.Context, tenantID, alertID string, status domain.AlertStatus, reviewer, notes string, now time.Time) (*domain.FraudAlert, error) {
	if !status.ReviewStatus() {
		return nil, fmt.Errorf("%w: invalid review status %q", domain.ErrValidation, status)
	}
	if reviewer == "" {
		return nil, fmt.Errorf("%w: reviewedBy is required", domain.ErrValidation)
	}

	alert, err := m.repo.GetAlert(ctx, tenantID, alertID)
	if err != nil {
		return nil, err
	}

	if alert.Status.Terminal() {
		return nil, fmt.Errorf("%w: alert %s already reviewed as %s", domain.ErrConflict, alertID, alert.Status)
	}

	alert.Status = status
	alert.ReviewedBy = reviewer
	alert.ReviewNotes = notes
	alert.ReviewedAt = &now

	if err := m.repo.UpdateAlert(ctx, tenantID, alert); err != nil {
		return nil, fmt.Errorf("failed to update alert: %w", err)
	}

	m.publish(ctx, tenantID, domain.TopicAlertReviewed, alert)
	return alert, nil
}

// publish announces a lifecycle event. Bus trouble is logged, never
// surfaced: the persisted alert is the source of truth.
func (m *Manager) publish(ctx context.Context, tenantID, topic string, alert *domain.FraudAlert) {
	if m.bus == nil {
		return
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return
	}

	if err := m.bus.Publish(ctx, tenantID, topic, payload); err != nil {
		slog.Warn("failed to publish alert event",
			"tenant_id", tenantID,
			"topic", topic,
			"alert_id", alert.ID,
			"error", err)
	}
}
