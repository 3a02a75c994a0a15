// Package analyzer orchestrates the fraud scoring pipeline: the rule
// engine, behavioral analysis, device trust and location checks feed one
// aggregated risk assessment, which in turn drives the alert lifecycle.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/behavior"
	"github.com/opensource-finance/kestrel/internal/devices"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/geo"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// engineVersion tags assessments for audit trails.
const engineVersion = "kestrel-1.0"

var tracer = otel.Tracer("kestrel-analyzer")

// Analyzer runs the scoring pipeline end to end. Signal sources fail open
// individually; only invalid input or a failed alert write aborts an
// analysis.
type Analyzer struct {
	rules    *rules.Store
	engine   *rules.Engine
	behavior *behavior.Analyzer
	devices  *devices.Registry
	geo      *geo.Evaluator
	alerts   *alerts.Manager

	// Clock supplies domain time (alert creation, history windows).
	// Tests override it for deterministic runs.
	Clock func() time.Time
}

// New wires the scoring pipeline.
func New(store *rules.Store, engine *rules.Engine, behaviorAnalyzer *behavior.Analyzer, registry *devices.Registry, geoEvaluator *geo.Evaluator, alertManager *alerts.Manager) *Analyzer {
	return &Analyzer{
		rules:    store,
		engine:   engine,
		behavior: behaviorAnalyzer,
		devices:  registry,
		geo:      geoEvaluator,
		alerts:   alertManager,
		Clock:    time.Now,
	}
}

// AnalyzeTransaction scores one transaction for a tenant and opens an
// alert when the risk level is above LOW. The assessment and its alert are
// all-or-nothing: a failed alert write fails the analysis. Scoring never
// writes transaction history; callers record it afterwards so the current
// transaction cannot count against itself.
func (a *Analyzer) AnalyzeTransaction(ctx context.Context, tenantID string, tc *domain.TransactionContext) (*domain.RiskAssessment, error) {
	start := time.Now()

	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}
	if tc == nil {
		return nil, fmt.Errorf("%w: transaction context is required", domain.ErrValidation)
	}
	if err := tc.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "analyzer.AnalyzeTransaction",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("transaction.id", tc.TransactionID),
		),
	)
	defer span.End()

	now := a.Clock().UTC()
	checksSkipped := 0
	signals := make([]domain.Signal, 0, 4)

	// Stage 1: tenant rules. A rule-store outage downgrades to "no rules"
	// rather than failing the transaction.
	report := a.runRules(ctx, tenantID, tc, now)
	rulesEvaluated, rulesSkipped := 0, 0
	if report != nil {
		rulesEvaluated = report.Evaluated
		rulesSkipped = report.Skipped
		signals = append(signals, domain.Signal{
			Source:  domain.SourceRules,
			Score:   report.Score,
			Reasons: report.Reasons,
		})
	} else {
		checksSkipped++
	}

	// Stages 2-4: behavioral, device and location signals, in the order
	// their reasons appear in the assessment.
	signals = append(signals, a.runStage(ctx, "behavior", func(ctx context.Context) domain.Signal {
		return a.behavior.Evaluate(ctx, tenantID, tc, now)
	}))
	signals = append(signals, a.runStage(ctx, "device", func(ctx context.Context) domain.Signal {
		return a.devices.Evaluate(ctx, tenantID, tc, now)
	}))
	signals = append(signals, a.runStage(ctx, "location", func(ctx context.Context) domain.Signal {
		return a.geo.Evaluate(ctx, tenantID, tc, now)
	}))

	total, reasons, skipped := combine(signals)
	checksSkipped += skipped

	score := clampScore(total)
	level := classify(score)
	shouldBlock := level == domain.RiskCritical || (report != nil && report.ShouldBlock)

	assessment := &domain.RiskAssessment{
		TransactionID: tc.TransactionID,
		TenantID:      tenantID,
		RiskScore:     score,
		RiskLevel:     level,
		Reasons:       reasons,
		ShouldBlock:   shouldBlock,
		Confidence:    confidence(score, len(reasons)),
		Metadata: domain.AssessmentMetadata{
			RulesEvaluated: rulesEvaluated,
			RulesSkipped:   rulesSkipped,
			ChecksSkipped:  checksSkipped,
			EngineVersion:  engineVersion,
		},
	}
	if span.SpanContext().TraceID().IsValid() {
		assessment.Metadata.TraceID = span.SpanContext().TraceID().String()
	}

	if level != domain.RiskLow {
		alert := alerts.FromAssessment(assessment, tc, now)
		if err := a.alerts.Create(ctx, tenantID, alert); err != nil {
			return nil, fmt.Errorf("failed to open alert: %w", err)
		}
		assessment.AlertID = alert.ID
	}

	assessment.Metadata.TotalMs = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.Int("risk.score", score),
		attribute.String("risk.level", string(level)),
		attribute.Bool("risk.should_block", shouldBlock),
	)

	slog.Info("transaction analyzed",
		"tenant_id", tenantID,
		"transaction_id", tc.TransactionID,
		"risk_score", score,
		"risk_level", level,
		"should_block", shouldBlock,
		"alert_id", assessment.AlertID,
		"rules_evaluated", rulesEvaluated,
		"checks_skipped", checksSkipped,
		"total_ms", assessment.Metadata.TotalMs,
	)

	return assessment, nil
}

func (a *Analyzer) runRules(ctx context.Context, tenantID string, tc *domain.TransactionContext, now time.Time) *domain.EngineReport {
	ctx, span := tracer.Start(ctx, "analyzer.rules")
	defer span.End()

	active, err := a.rules.ActiveRules(ctx, tenantID)
	if err != nil {
		slog.Warn("active rule fetch failed, skipping rule checks",
			"tenant_id", tenantID,
			"transaction_id", tc.TransactionID,
			"error", err)
		return nil
	}

	report := a.engine.Evaluate(ctx, tenantID, active, tc, now)
	span.SetAttributes(
		attribute.Int("rules.evaluated", report.Evaluated),
		attribute.Int("rules.skipped", report.Skipped),
	)
	return report
}

func (a *Analyzer) runStage(ctx context.Context, name string, fn func(context.Context) domain.Signal) domain.Signal {
	ctx, span := tracer.Start(ctx, "analyzer."+name)
	defer span.End()

	sig := fn(ctx)
	span.SetAttributes(
		attribute.Int("signal.score", sig.Score),
		attribute.Bool("signal.skipped", sig.Skipped),
	)
	return sig
}
