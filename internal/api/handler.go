package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/analyzer"
	"github.com/opensource-finance/kestrel/internal/devices"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Deps bundles everything the API serves.
type Deps struct {
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Analyzer *analyzer.Analyzer
	History  *history.Service
	Rules    *rules.Store
	Alerts   *alerts.Manager
	Stats    *alerts.Statistics
	Devices  *devices.Registry

	Version string

	// AsyncIngest routes POST /transactions through the event bus for the
	// background worker instead of analyzing inline.
	AsyncIngest bool

	// DefaultHighRiskCountries backs GET /settings for tenants without a
	// stored override.
	DefaultHighRiskCountries []string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	analyzer *analyzer.Analyzer
	history  *history.Service
	rules    *rules.Store
	alerts   *alerts.Manager
	stats    *alerts.Statistics
	devices  *devices.Registry

	version          string
	asyncIngest      bool
	defaultCountries []string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		repo:             deps.Repo,
		cache:            deps.Cache,
		bus:              deps.Bus,
		analyzer:         deps.Analyzer,
		history:          deps.History,
		rules:            deps.Rules,
		alerts:           deps.Alerts,
		stats:            deps.Stats,
		devices:          deps.Devices,
		version:          deps.Version,
		asyncIngest:      deps.AsyncIngest,
		defaultCountries: deps.DefaultHighRiskCountries,
	}
}

// Analyze handles POST /api/v1/analyze: score one transaction and return
// the assessment synchronously.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var tc domain.TransactionContext
	if err := json.NewDecoder(r.Body).Decode(&tc); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	assessment, err := h.analyzeAndRecord(r, tenantID, &tc)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, assessment)
}

// IngestTransaction handles POST /api/v1/transactions. With async ingest
// the transaction is queued for the background worker and the caller gets
// 202; otherwise it is analyzed inline like POST /analyze.
func (h *Handler) IngestTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var tc domain.TransactionContext
	if err := json.NewDecoder(r.Body).Decode(&tc); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if err := tc.Validate(); err != nil {
		writeError(w, err)
		return
	}

	if !h.asyncIngest || h.bus == nil {
		assessment, err := h.analyzeAndRecord(r, tenantID, &tc)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, assessment)
		return
	}

	payload, err := json.Marshal(&tc)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to encode transaction",
		})
		return
	}

	if err := h.bus.Publish(ctx, tenantID, domain.TopicTransactionIngested, payload); err != nil {
		slog.Error("failed to queue transaction",
			"tenant_id", tenantID,
			"transaction_id", tc.TransactionID,
			"error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to queue transaction for analysis",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":        "queued",
		"transactionId": tc.TransactionID,
	})
}

// analyzeAndRecord scores a transaction and then writes it to history.
// History is recorded after scoring so the transaction never counts against
// itself; a failed history write is logged, not returned, because the
// assessment already happened.
func (h *Handler) analyzeAndRecord(r *http.Request, tenantID string, tc *domain.TransactionContext) (*domain.RiskAssessment, error) {
	ctx := r.Context()

	assessment, err := h.analyzer.AnalyzeTransaction(ctx, tenantID, tc)
	if err != nil {
		return nil, err
	}
	if assessment.Metadata.TraceID == "" {
		assessment.Metadata.TraceID = GetTraceID(ctx)
	}

	now := h.analyzer.Clock().UTC()
	if err := h.history.Record(ctx, tenantID, tc, now); err != nil {
		slog.Error("failed to record transaction history",
			"tenant_id", tenantID,
			"transaction_id", tc.TransactionID,
			"error", err)
	}

	return assessment, nil
}

// ListRules returns the tenant's rules; ?active=true narrows to active ones.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	activeOnly := r.URL.Query().Get("active") == "true"

	ruleSet, err := h.rules.List(ctx, tenantID, activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": ruleSet,
		"count": len(ruleSet),
	})
}

// GetRule retrieves a rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	rule, err := h.rules.Get(ctx, tenantID, ruleID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateRule creates a new rule. Custom rules have their CEL expression
// compiled before anything is stored.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var rule domain.FraudRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.rules.Create(ctx, tenantID, &rule); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("rule created", "tenant_id", tenantID, "rule_id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, rule)
}

// UpdateRule replaces a rule by ID.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	var rule domain.FraudRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	rule.ID = ruleID

	if err := h.rules.Update(ctx, tenantID, &rule); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("rule updated", "tenant_id", tenantID, "rule_id", ruleID)
	writeJSON(w, http.StatusOK, rule)
}

// DeleteRule removes a rule by ID.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	if err := h.rules.Delete(ctx, tenantID, ruleID); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("rule deleted", "tenant_id", tenantID, "rule_id", ruleID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "rule deleted",
	})
}

// ListAlerts returns the tenant's alerts, newest first. Query parameters
// status, risk_level, customer_id, account_id, from and to narrow the list.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	q := r.URL.Query()

	filter := domain.AlertFilter{
		Status:     domain.AlertStatus(strings.ToUpper(q.Get("status"))),
		RiskLevel:  domain.RiskLevel(strings.ToUpper(q.Get("risk_level"))),
		CustomerID: q.Get("customer_id"),
		AccountID:  q.Get("account_id"),
	}

	var err error
	if filter.From, err = parseTimeParam(q.Get("from")); err != nil {
		writeError(w, err)
		return
	}
	if filter.To, err = parseTimeParam(q.Get("to")); err != nil {
		writeError(w, err)
		return
	}

	alertList, err := h.alerts.List(ctx, tenantID, filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alertList,
		"count":  len(alertList),
	})
}

// GetAlert retrieves an alert by ID.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	alertID := chi.URLParam(r, "id")

	alert, err := h.alerts.Get(ctx, tenantID, alertID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// CreateAlert raises an alert by hand, outside the scoring pipeline.
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var alert domain.FraudAlert
	if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.alerts.Create(ctx, tenantID, &alert); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("alert created manually", "tenant_id", tenantID, "alert_id", alert.ID)
	writeJSON(w, http.StatusCreated, alert)
}

// ReviewAlertRequest is the request body for POST /alerts/{id}/review.
type ReviewAlertRequest struct {
	Status   domain.AlertStatus `json:"status"`
	Reviewer string             `json:"reviewer"`
	Notes    string             `json:"notes,omitempty"`
}

// ReviewAlert moves an alert into a terminal review status. Reviewing an
// already-reviewed alert returns 409.
func (h *Handler) ReviewAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	alertID := chi.URLParam(r, "id")

	var req ReviewAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	alert, err := h.alerts.Review(ctx, tenantID, alertID, req.Status, req.Reviewer, req.Notes, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("alert reviewed",
		"tenant_id", tenantID,
		"alert_id", alertID,
		"status", alert.Status,
		"reviewed_by", alert.ReviewedBy)
	writeJSON(w, http.StatusOK, alert)
}

// RegisterDeviceRequest is the request body for POST /devices.
type RegisterDeviceRequest struct {
	CustomerID  string            `json:"customerId"`
	Fingerprint string            `json:"fingerprint"`
	Info        domain.DeviceInfo `json:"info"`
}

// RegisterDevice marks a device as trusted for a customer. Registering the
// same fingerprint again refreshes the existing registration.
func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	device, err := h.devices.Register(ctx, tenantID, req.CustomerID, req.Fingerprint, req.Info, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("device registered",
		"tenant_id", tenantID,
		"customer_id", req.CustomerID,
		"device_id", device.ID)
	writeJSON(w, http.StatusCreated, device)
}

// ListDevices returns a customer's active trusted devices.
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	customerID := r.URL.Query().Get("customer_id")

	if customerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "customer_id query parameter is required",
		})
		return
	}

	deviceList, err := h.devices.List(ctx, tenantID, customerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices": deviceList,
		"count":   len(deviceList),
	})
}

// RevokeDevice deactivates a trusted device by ID.
func (h *Handler) RevokeDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	deviceID := chi.URLParam(r, "id")

	if err := h.devices.Revoke(ctx, tenantID, deviceID, time.Now().UTC()); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("device revoked", "tenant_id", tenantID, "device_id", deviceID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "device revoked",
	})
}

// GetStatistics returns daily statistics for a date range (inclusive,
// YYYY-MM-DD).
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	q := r.URL.Query()

	stats, err := h.stats.Range(ctx, tenantID, q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"statistics": stats,
		"count":      len(stats),
	})
}

// GenerateStatistics recomputes one day's statistics from the alert table.
// ?date=YYYY-MM-DD selects the day; it defaults to today (UTC).
func (h *Handler) GenerateStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	day := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse(domain.StatsDateFormat, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "date must be formatted YYYY-MM-DD",
			})
			return
		}
		day = parsed
	}

	stats, err := h.stats.GenerateDaily(ctx, tenantID, day)
	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("statistics generated", "tenant_id", tenantID, "date", stats.Date)
	writeJSON(w, http.StatusOK, stats)
}

// GetSettings returns the tenant's analysis settings, falling back to the
// deployment defaults when the tenant has no stored override.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	settings, err := h.repo.GetTenantSettings(ctx, tenantID)
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"settings": &domain.TenantSettings{
				TenantID:          tenantID,
				HighRiskCountries: h.defaultCountries,
			},
			"source": "default",
		})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"settings": settings,
		"source":   "tenant",
	})
}

// UpdateSettings replaces the tenant's analysis settings.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var settings domain.TenantSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	settings.TenantID = tenantID
	settings.UpdatedAt = time.Now().UTC()

	if err := h.repo.SaveTenantSettings(ctx, tenantID, &settings); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("tenant settings updated",
		"tenant_id", tenantID,
		"high_risk_countries", len(settings.HighRiskCountries))
	writeJSON(w, http.StatusOK, settings)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// parseTimeParam accepts RFC 3339 timestamps or plain dates.
func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(domain.StatsDateFormat, raw); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("%w: time must be RFC 3339 or YYYY-MM-DD, got %q", domain.ErrValidation, raw)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps the domain error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrTransientLookup):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}

	writeJSON(w, status, map[string]string{
		"error": err.Error(),
	})
}
