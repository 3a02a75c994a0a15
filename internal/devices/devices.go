// Package devices maintains the trusted-device registry and scores
// transactions arriving from devices a customer has never used.
package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// scoreUnrecognized is added when a transaction carries a fingerprint not
// registered as an active trusted device for the customer.
const scoreUnrecognized = 25

// Registry is the trusted-device store and the device-trust evaluator of
// the scoring pipeline.
type Registry struct {
	repo domain.Repository
}

// NewRegistry creates a device registry.
func NewRegistry(repo domain.Repository) *Registry {
	return &Registry{repo: repo}
}

// Register marks a device as trusted for a customer. Registering a
// fingerprint that already exists reactivates the stored device and
// refreshes its metadata instead of creating a duplicate.
func (r *Registry) Register(ctx context.Context, tenantID, customerID, fingerprint string, info domain.DeviceInfo, now time.Time) (*domain.TrustedDevice, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customerId is required", domain.ErrValidation)
	}
	if fingerprint == "" {
		return nil, fmt.Errorf("%w: deviceFingerprint is required", domain.ErrValidation)
	}

	existing, err := r.repo.FindDeviceByFingerprint(ctx, tenantID, customerID, fingerprint)
	if err == nil {
		existing.IsActive = true
		existing.DeviceInfo = info
		existing.LastUsedAt = now
		if err := r.repo.UpdateDevice(ctx, tenantID, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	device := &domain.TrustedDevice{
		ID:                uuid.New().String(),
		TenantID:          tenantID,
		CustomerID:        customerID,
		DeviceFingerprint: fingerprint,
		DeviceInfo:        info,
		IsActive:          true,
		RegisteredAt:      now,
		LastUsedAt:        now,
	}
	if err := r.repo.SaveDevice(ctx, tenantID, device); err != nil {
		return nil, err
	}

	// SaveDevice upserts on (customer, fingerprint); under concurrent
	// first-time registration the original row id wins, so re-read to
	// return the canonical device.
	return r.repo.FindDeviceByFingerprint(ctx, tenantID, customerID, fingerprint)
}

// List returns a customer's active trusted devices, most recently used
// first.
func (r *Registry) List(ctx context.Context, tenantID, customerID string) ([]*domain.TrustedDevice, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customerId is required", domain.ErrValidation)
	}
	return r.repo.ListDevicesByCustomer(ctx, tenantID, customerID)
}

// Revoke deactivates a trusted device. Revoked devices score as
// unrecognized again.
func (r *Registry) Revoke(ctx context.Context, tenantID, deviceID string, now time.Time) error {
	device, err := r.repo.GetDevice(ctx, tenantID, deviceID)
	if err != nil {
		return err
	}

	device.IsActive = false
	device.LastUsedAt = now
	return r.repo.UpdateDevice(ctx, tenantID, device)
}

// Evaluate produces the device-trust signal for a transaction. A known
// active device contributes nothing and has its lastUsedAt refreshed; an
// unknown or revoked device adds the unrecognized penalty. Lookup failures
// skip the check (fail-open).
func (r *Registry) Evaluate(ctx context.Context, tenantID string, tc *domain.TransactionContext, now time.Time) domain.Signal {
	sig := domain.Signal{Source: domain.SourceDevice}
	if tc.Device == nil || tc.Device.Fingerprint == "" {
		return sig
	}

	device, err := r.repo.FindDeviceByFingerprint(ctx, tenantID, tc.CustomerID, tc.Device.Fingerprint)
	if errors.Is(err, domain.ErrNotFound) {
		sig.Score = scoreUnrecognized
		sig.Reasons = []string{"unrecognized device"}
		return sig
	}
	if err != nil {
		slog.Warn("device lookup failed, skipping check",
			"tenant_id", tenantID,
			"customer_id", tc.CustomerID,
			"error", err)
		sig.Skipped = true
		return sig
	}

	if !device.IsActive {
		sig.Score = scoreUnrecognized
		sig.Reasons = []string{"unrecognized device"}
		return sig
	}

	// Trusted device seen again; refresh recency. Not worth failing the
	// analysis over.
	device.LastUsedAt = now
	if err := r.repo.UpdateDevice(ctx, tenantID, device); err != nil {
		slog.Warn("failed to refresh device last_used_at",
			"tenant_id", tenantID,
			"device_id", device.ID,
			"error", err)
	}

	return sig
}
