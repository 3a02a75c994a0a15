// Package worker provides async transaction analysis for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/analyzer"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
)

// Worker drains ingested transactions from the EventBus and runs them
// through the scoring pipeline. Each message is isolated: a bad payload, a
// failed analysis or a panic is logged and never stops the subscription.
type Worker struct {
	bus      domain.EventBus
	analyzer *analyzer.Analyzer
	history  *history.Service

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via the
	// global subscription).
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, pipeline *analyzer.Analyzer, historySvc *history.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		analyzer: pipeline,
		history:  historySvc,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants. Messages
// must carry their own tenant ID.
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts a worker for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicTransactionIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processTransaction(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicTransactionIngested,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processTransaction(ctx, msg.TenantID, msg)
}

// processTransaction scores one ingested transaction and records it to
// history afterwards so it never counts against itself.
func (w *Worker) processTransaction(ctx context.Context, tenantID string, msg *domain.Message) (err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while processing transaction",
				"message_id", msg.ID,
				"tenant_id", tenantID,
				"panic", r,
			)
			err = fmt.Errorf("panic while processing transaction: %v", r)
		}
	}()

	var tc domain.TransactionContext
	if err := json.Unmarshal(msg.Payload, &tc); err != nil {
		slog.Error("failed to parse ingested transaction",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if msg.TenantID != "" {
		tenantID = msg.TenantID
	}

	assessment, err := w.analyzer.AnalyzeTransaction(ctx, tenantID, &tc)
	if err != nil {
		slog.Error("async analysis failed",
			"tenant_id", tenantID,
			"transaction_id", tc.TransactionID,
			"error", err,
		)
		return err
	}

	if err := w.history.Record(ctx, tenantID, &tc, w.analyzer.Clock().UTC()); err != nil {
		slog.Error("failed to record transaction history",
			"tenant_id", tenantID,
			"transaction_id", tc.TransactionID,
			"error", err,
		)
	}

	slog.Info("transaction processed",
		"tenant_id", tenantID,
		"transaction_id", tc.TransactionID,
		"risk_score", assessment.RiskScore,
		"risk_level", assessment.RiskLevel,
		"alert_id", assessment.AlertID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
