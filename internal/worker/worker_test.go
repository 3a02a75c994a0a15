package worker

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/analyzer"
	"github.com/opensource-finance/kestrel/internal/behavior"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/devices"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/geo"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

type workerPipeline struct {
	bus      *bus.ChannelBus
	analyzer *analyzer.Analyzer
	history  *history.Service
	rules    *rules.Store
}

func newWorkerPipeline(t *testing.T) *workerPipeline {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-worker-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	lru := cache.NewLRUCache(512)
	historySvc := history.NewService(repo, lru)
	engine, err := rules.NewEngine(historySvc, 4)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	ruleStore := rules.NewStore(repo, lru, engine)

	pipeline := analyzer.New(
		ruleStore,
		engine,
		behavior.NewAnalyzer(historySvc, 30),
		devices.NewRegistry(repo),
		geo.NewEvaluator(historySvc, repo, 7, []string{"KP", "IR", "MM"}),
		alerts.NewManager(repo, eventBus),
	)

	return &workerPipeline{
		bus:      eventBus,
		analyzer: pipeline,
		history:  historySvc,
		rules:    ruleStore,
	}
}

func ingestPayload(t *testing.T, txID string, amount float64) []byte {
	t.Helper()
	payload, err := json.Marshal(&domain.TransactionContext{
		TransactionID: txID,
		CustomerID:    "cust-async",
		AccountID:     "acct-async",
		Amount:        amount,
		Currency:      "USD",
		Type:          "transfer",
	})
	if err != nil {
		t.Fatalf("failed to encode transaction: %v", err)
	}
	return payload
}

func TestWorker(t *testing.T) {
	t.Run("StartAndStop", func(t *testing.T) {
		p := newWorkerPipeline(t)
		w := NewWorker(p.bus, p.analyzer, p.history)

		if err := w.Start(Config{TenantIDs: []string{"tenant-001"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if stats.Topics[0] != domain.TopicTransactionIngested {
			t.Errorf("unexpected topic %q", stats.Topics[0])
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if w.GetStats().SubscriptionCount != 0 {
			t.Error("expected 0 subscriptions after stop")
		}
	})

	t.Run("ProcessIngestedTransaction", func(t *testing.T) {
		p := newWorkerPipeline(t)
		ctx := context.Background()

		rule := &domain.FraudRule{
			Name:       "High amount",
			RuleType:   domain.RuleAmountThreshold,
			Conditions: domain.RuleConditions{MaxAmount: 10000},
			Actions:    domain.RuleActions{RiskScore: 25},
			IsActive:   true,
		}
		if err := p.rules.Create(ctx, "tenant-test", rule); err != nil {
			t.Fatalf("failed to create rule: %v", err)
		}

		alertCh := make(chan *domain.Message, 1)
		if _, err := p.bus.Subscribe(ctx, "tenant-test", domain.TopicAlertCreated, func(ctx context.Context, msg *domain.Message) error {
			alertCh <- msg
			return nil
		}); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}

		w := NewWorker(p.bus, p.analyzer, p.history)
		if err := w.Start(Config{TenantIDs: []string{"tenant-test"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		time.Sleep(50 * time.Millisecond)

		if err := p.bus.Publish(ctx, "tenant-test", domain.TopicTransactionIngested, ingestPayload(t, "tx-async-1", 15000)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		select {
		case msg := <-alertCh:
			var alert domain.FraudAlert
			if err := json.Unmarshal(msg.Payload, &alert); err != nil {
				t.Fatalf("failed to parse alert: %v", err)
			}
			if alert.TransactionID != "tx-async-1" {
				t.Errorf("expected tx-async-1, got %s", alert.TransactionID)
			}
			if alert.RiskScore != 40 {
				t.Errorf("expected score 40 (rule 25 + new customer 15), got %d", alert.RiskScore)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("alert never published for ingested transaction")
		}

		// History is written after the alert event, so poll for it.
		deadline := time.Now().Add(2 * time.Second)
		for {
			window, err := p.history.CustomerWindow(ctx, "tenant-test", "cust-async", 30, time.Now().UTC())
			if err != nil {
				t.Fatalf("CustomerWindow failed: %v", err)
			}
			if len(window) == 1 {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("transaction never recorded to history, window=%d", len(window))
			}
			time.Sleep(10 * time.Millisecond)
		}
	})

	t.Run("BadPayloadIsIsolated", func(t *testing.T) {
		p := newWorkerPipeline(t)
		ctx := context.Background()

		rule := &domain.FraudRule{
			Name:       "High amount",
			RuleType:   domain.RuleAmountThreshold,
			Conditions: domain.RuleConditions{MaxAmount: 10000},
			Actions:    domain.RuleActions{RiskScore: 25},
			IsActive:   true,
		}
		if err := p.rules.Create(ctx, "tenant-bad", rule); err != nil {
			t.Fatalf("failed to create rule: %v", err)
		}

		alertCh := make(chan *domain.Message, 1)
		p.bus.Subscribe(ctx, "tenant-bad", domain.TopicAlertCreated, func(ctx context.Context, msg *domain.Message) error {
			alertCh <- msg
			return nil
		})

		w := NewWorker(p.bus, p.analyzer, p.history)
		if err := w.Start(Config{TenantIDs: []string{"tenant-bad"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		time.Sleep(50 * time.Millisecond)

		// Garbage first; the worker must survive and process the next one.
		p.bus.Publish(ctx, "tenant-bad", domain.TopicTransactionIngested, []byte("not-json"))
		p.bus.Publish(ctx, "tenant-bad", domain.TopicTransactionIngested, ingestPayload(t, "tx-after-garbage", 15000))

		select {
		case msg := <-alertCh:
			var alert domain.FraudAlert
			if err := json.Unmarshal(msg.Payload, &alert); err != nil {
				t.Fatalf("failed to parse alert: %v", err)
			}
			if alert.TransactionID != "tx-after-garbage" {
				t.Errorf("expected tx-after-garbage, got %s", alert.TransactionID)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("worker stopped processing after a bad payload")
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		p := newWorkerPipeline(t)
		w := NewWorker(p.bus, p.analyzer, p.history)

		if err := w.Start(Config{TenantIDs: []string{"tenant-a", "tenant-b"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("GlobalWorkerUsesMessageTenant", func(t *testing.T) {
		p := newWorkerPipeline(t)
		w := NewWorker(p.bus, p.analyzer, p.history)

		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Fatalf("expected 1 global subscription, got %d", stats.SubscriptionCount)
		}

		// Publishes addressed to the global stream carry their own tenant;
		// the recorded history lands under that tenant.
		ctx := context.Background()
		if err := p.bus.Publish(ctx, "_global", domain.TopicTransactionIngested, ingestPayload(t, "tx-global-1", 100)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		deadline := time.Now().Add(2 * time.Second)
		for {
			window, err := p.history.CustomerWindow(ctx, "_global", "cust-async", 30, time.Now().UTC())
			if err != nil {
				t.Fatalf("CustomerWindow failed: %v", err)
			}
			if len(window) == 1 {
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("global worker never processed the transaction")
			}
			time.Sleep(10 * time.Millisecond)
		}
	})
}
