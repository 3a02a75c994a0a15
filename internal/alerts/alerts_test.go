package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-alerts-test-*.db")
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

	return repo
}

func testAlert(level domain.RiskLevel, status domain.AlertStatus) *domain.FraudAlert {
	return &domain.FraudAlert{
		TransactionID: "tx-001",
		CustomerID:    "cust-001",
		AccountID:     "acct-001",
		RiskScore:     65,
		RiskLevel:     level,
		Reasons:       []string{"unrecognized device", "new location: Paris, FR"},
		Status:        status,
	}
}

func TestFromAssessment(t *testing.T) {
	now := time.Now().UTC()
	tc := &domain.TransactionContext{
		TransactionID: "tx-9",
		CustomerID:    "cust-9",
		AccountID:     "acct-9",
		Amount:        500,
	}

	assessment := &domain.RiskAssessment{
		TransactionID: "tx-9",
		TenantID:      "tenant-a",
		RiskScore:     85,
		RiskLevel:     domain.RiskCritical,
		Reasons:       []string{"significant deviation"},
		ShouldBlock:   true,
	}

	alert := FromAssessment(assessment, tc, now)
	if alert.Status != domain.AlertBlocked {
		t.Errorf("blocking assessment must open a BLOCKED alert, got %s", alert.Status)
	}
	if alert.CustomerID != "cust-9" || alert.AccountID != "acct-9" {
		t.Errorf("alert must carry the transaction parties: %+v", alert)
	}
	if alert.ID == "" || !alert.CreatedAt.Equal(now) {
		t.Errorf("alert identity not initialized: %+v", alert)
	}

	assessment.ShouldBlock = false
	if alert := FromAssessment(assessment, tc, now); alert.Status != domain.AlertPending {
		t.Errorf("non-blocking assessment must open a PENDING alert, got %s", alert.Status)
	}
}

func TestCreate(t *testing.T) {
	manager := NewManager(newTestRepo(t), nil)
	ctx := context.Background()

	t.Run("persists and assigns identity", func(t *testing.T) {
		alert := testAlert(domain.RiskHigh, "")
		if err := manager.Create(ctx, "tenant-a", alert); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if alert.ID == "" {
			t.Error("expected generated alert id")
		}
		if alert.Status != domain.AlertPending {
			t.Errorf("expected default PENDING status, got %s", alert.Status)
		}

		stored, err := manager.Get(ctx, "tenant-a", alert.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if stored.RiskLevel != domain.RiskHigh || len(stored.Reasons) != 2 {
			t.Errorf("stored alert mismatch: %+v", stored)
		}
	})

	t.Run("rejects LOW risk", func(t *testing.T) {
		err := manager.Create(ctx, "tenant-a", testAlert(domain.RiskLow, ""))
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation for LOW alert, got %v", err)
		}
	})

	t.Run("rejects terminal initial status", func(t *testing.T) {
		err := manager.Create(ctx, "tenant-a", testAlert(domain.RiskHigh, domain.AlertApproved))
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation for terminal initial status, got %v", err)
		}
	})

	t.Run("rejects missing parties", func(t *testing.T) {
		alert := testAlert(domain.RiskHigh, "")
		alert.CustomerID = ""
		if err := manager.Create(ctx, "tenant-a", alert); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation for missing customer, got %v", err)
		}
	})
}

func TestCreatePublishesEvent(t *testing.T) {
	eventBus := bus.NewChannelBus(16)
	t.Cleanup(func() { eventBus.Close() })

	manager := NewManager(newTestRepo(t), eventBus)
	ctx := context.Background()

	done := make(chan *domain.Message, 1)
	_, err := eventBus.Subscribe(ctx, "tenant-a", domain.TopicAlertCreated, func(ctx context.Context, msg *domain.Message) error {
		done <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	alert := testAlert(domain.RiskHigh, "")
	if err := manager.Create(ctx, "tenant-a", alert); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	select {
	case msg := <-done:
		var published domain.FraudAlert
		if err := json.Unmarshal(msg.Payload, &published); err != nil {
			t.Fatalf("bad event payload: %v", err)
		}
		if published.ID != alert.ID {
			t.Errorf("event carries wrong alert: %s vs %s", published.ID, alert.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for alert.created event")
	}
}

func TestReview(t *testing.T) {
	manager := NewManager(newTestRepo(t), nil)
	ctx := context.Background()
	now := time.Now().UTC()

	newAlert := func(t *testing.T) *domain.FraudAlert {
		t.Helper()
		alert := testAlert(domain.RiskHigh, "")
		if err := manager.Create(ctx, "tenant-a", alert); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		return alert
	}

	t.Run("pending to approved", func(t *testing.T) {
		alert := newAlert(t)
		reviewed, err := manager.Review(ctx, "tenant-a", alert.ID, domain.AlertApproved, "analyst-1", "verified with customer", now)
		if err != nil {
			t.Fatalf("Review failed: %v", err)
		}
		if reviewed.Status != domain.AlertApproved {
			t.Errorf("expected APPROVED, got %s", reviewed.Status)
		}
		if reviewed.ReviewedBy != "analyst-1" || reviewed.ReviewedAt == nil {
			t.Errorf("review fields not set: %+v", reviewed)
		}

		stored, _ := manager.Get(ctx, "tenant-a", alert.ID)
		if stored.Status != domain.AlertApproved || stored.ReviewNotes != "verified with customer" {
			t.Errorf("review not persisted: %+v", stored)
		}
	})

	t.Run("blocked to false positive", func(t *testing.T) {
		alert := testAlert(domain.RiskCritical, domain.AlertBlocked)
		if err := manager.Create(ctx, "tenant-a", alert); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		reviewed, err := manager.Review(ctx, "tenant-a", alert.ID, domain.AlertFalsePositive, "analyst-2", "", now)
		if err != nil {
			t.Fatalf("Review failed: %v", err)
		}
		if reviewed.Status != domain.AlertFalsePositive {
			t.Errorf("expected FALSE_POSITIVE, got %s", reviewed.Status)
		}
	})

	t.Run("terminal alerts conflict", func(t *testing.T) {
		alert := newAlert(t)
		if _, err := manager.Review(ctx, "tenant-a", alert.ID, domain.AlertRejected, "analyst-1", "", now); err != nil {
			t.Fatalf("first review failed: %v", err)
		}
		_, err := manager.Review(ctx, "tenant-a", alert.ID, domain.AlertApproved, "analyst-2", "", now)
		if !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict on double review, got %v", err)
		}

		// The original decision must survive.
		stored, _ := manager.Get(ctx, "tenant-a", alert.ID)
		if stored.Status != domain.AlertRejected || stored.ReviewedBy != "analyst-1" {
			t.Errorf("terminal alert mutated by failed review: %+v", stored)
		}
	})

	t.Run("invalid target status", func(t *testing.T) {
		alert := newAlert(t)
		_, err := manager.Review(ctx, "tenant-a", alert.ID, domain.AlertPending, "analyst-1", "", now)
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation for non-review status, got %v", err)
		}
	})

	t.Run("missing reviewer", func(t *testing.T) {
		alert := newAlert(t)
		_, err := manager.Review(ctx, "tenant-a", alert.ID, domain.AlertApproved, "", "", now)
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation for missing reviewer, got %v", err)
		}
	})

	t.Run("unknown alert", func(t *testing.T) {
		_, err := manager.Review(ctx, "tenant-a", "no-such-alert", domain.AlertApproved, "analyst-1", "", now)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestGenerateDaily(t *testing.T) {
	repo := newTestRepo(t)
	manager := NewManager(repo, nil)
	stats := NewStatistics(repo)
	ctx := context.Background()

	day := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	seed := []struct {
		level  domain.RiskLevel
		status domain.AlertStatus
		score  int
	}{
		{domain.RiskCritical, domain.AlertBlocked, 90},
		{domain.RiskHigh, domain.AlertPending, 70},
		{domain.RiskHigh, domain.AlertPending, 60},
		{domain.RiskMedium, domain.AlertPending, 40},
	}
	var ids []string
	for i, s := range seed {
		alert := testAlert(s.level, s.status)
		alert.RiskScore = s.score
		alert.CreatedAt = day.Add(time.Duration(i+1) * time.Hour)
		if err := manager.Create(ctx, "tenant-a", alert); err != nil {
			t.Fatalf("seed alert failed: %v", err)
		}
		ids = append(ids, alert.ID)
	}

	// Outside the day: must not count.
	outside := testAlert(domain.RiskMedium, "")
	outside.CreatedAt = day.Add(25 * time.Hour)
	if err := manager.Create(ctx, "tenant-a", outside); err != nil {
		t.Fatalf("seed alert failed: %v", err)
	}

	report, err := stats.GenerateDaily(ctx, "tenant-a", day.Add(13*time.Hour))
	if err != nil {
		t.Fatalf("GenerateDaily failed: %v", err)
	}

	if report.Date != "2025-06-15" {
		t.Errorf("unexpected date %q", report.Date)
	}
	if report.TotalAlerts != 4 {
		t.Errorf("expected 4 alerts, got %d", report.TotalAlerts)
	}
	if report.CriticalAlerts != 1 || report.HighAlerts != 2 || report.MediumAlerts != 1 || report.LowAlerts != 0 {
		t.Errorf("severity counts wrong: %+v", report)
	}
	if report.BlockedTransactions != 1 {
		t.Errorf("expected 1 blocked, got %d", report.BlockedTransactions)
	}
	if report.AverageRiskScore != 65 {
		t.Errorf("expected average 65, got %.2f", report.AverageRiskScore)
	}

	t.Run("regeneration reflects reviews", func(t *testing.T) {
		if _, err := manager.Review(ctx, "tenant-a", ids[1], domain.AlertFalsePositive, "analyst-1", "", day.Add(20*time.Hour)); err != nil {
			t.Fatalf("Review failed: %v", err)
		}

		report, err := stats.GenerateDaily(ctx, "tenant-a", day)
		if err != nil {
			t.Fatalf("GenerateDaily failed: %v", err)
		}
		if report.FalsePositives != 1 {
			t.Errorf("expected 1 false positive after review, got %d", report.FalsePositives)
		}
		if report.TotalAlerts != 4 {
			t.Errorf("regeneration must replace, not accumulate: %d", report.TotalAlerts)
		}
	})

	t.Run("range retrieval", func(t *testing.T) {
		if _, err := stats.GenerateDaily(ctx, "tenant-a", day.Add(25*time.Hour)); err != nil {
			t.Fatalf("GenerateDaily failed: %v", err)
		}

		rows, err := stats.Range(ctx, "tenant-a", "2025-06-15", "2025-06-16")
		if err != nil {
			t.Fatalf("Range failed: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("expected 2 days, got %d", len(rows))
		}
		if rows[0].Date != "2025-06-15" || rows[1].Date != "2025-06-16" {
			t.Errorf("rows out of order: %s, %s", rows[0].Date, rows[1].Date)
		}
	})

	t.Run("range validation", func(t *testing.T) {
		if _, err := stats.Range(ctx, "tenant-a", "June 15", "2025-06-16"); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation for bad date, got %v", err)
		}
		if _, err := stats.Range(ctx, "tenant-a", "2025-06-17", "2025-06-16"); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation for inverted range, got %v", err)
		}
	})

	t.Run("empty day", func(t *testing.T) {
		report, err := stats.GenerateDaily(ctx, "tenant-a", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
		if err != nil {
			t.Fatalf("GenerateDaily failed: %v", err)
		}
		if report.TotalAlerts != 0 || report.AverageRiskScore != 0 {
			t.Errorf("empty day should produce zero rollup: %+v", report)
		}
	})
}
