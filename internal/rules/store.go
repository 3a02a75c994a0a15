package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	// activeRulesKey is the per-tenant cache key for the active rule set.
	activeRulesKey = "rules:active"

	// activeRulesTTL bounds staleness for nodes that missed an
	// invalidation (e.g. a rule edited through another node while the
	// cache backend was unreachable).
	activeRulesTTL = 60 * time.Second
)

// Store provides tenant-scoped rule CRUD with a read-through cache for the
// active rule set consulted on every analysis. Mutations invalidate the
// tenant's cache entry; cache failures degrade to repository reads.
type Store struct {
	repo   domain.Repository
	cache  domain.Cache
	engine *Engine
}

// NewStore creates a rule store. engine is consulted to validate CUSTOM
// expressions at write time so bad expressions are rejected before they can
// poison evaluation; it may be nil, which skips that check.
func NewStore(repo domain.Repository, cache domain.Cache, engine *Engine) *Store {
	return &Store{
		repo:   repo,
		cache:  cache,
		engine: engine,
	}
}

// Create validates and persists a new rule.
func (s *Store) Create(ctx context.Context, tenantID string, rule *domain.FraudRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.TenantID = tenantID

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	if err := s.validate(rule); err != nil {
		return err
	}

	if err := s.repo.SaveRule(ctx, tenantID, rule); err != nil {
		return err
	}

	s.invalidate(ctx, tenantID)
	return nil
}

// Get returns a single rule.
func (s *Store) Get(ctx context.Context, tenantID, ruleID string) (*domain.FraudRule, error) {
	return s.repo.GetRule(ctx, tenantID, ruleID)
}

// List returns the tenant's rules ordered by descending priority.
func (s *Store) List(ctx context.Context, tenantID string, activeOnly bool) ([]*domain.FraudRule, error) {
	return s.repo.ListRules(ctx, tenantID, activeOnly)
}

// Update validates and persists changes to an existing rule.
func (s *Store) Update(ctx context.Context, tenantID string, rule *domain.FraudRule) error {
	rule.TenantID = tenantID
	rule.UpdatedAt = time.Now().UTC()

	if err := s.validate(rule); err != nil {
		return err
	}

	if err := s.repo.UpdateRule(ctx, tenantID, rule); err != nil {
		return err
	}

	s.invalidate(ctx, tenantID)
	return nil
}

// Delete removes a rule.
func (s *Store) Delete(ctx context.Context, tenantID, ruleID string) error {
	if err := s.repo.DeleteRule(ctx, tenantID, ruleID); err != nil {
		return err
	}

	s.invalidate(ctx, tenantID)
	return nil
}

// ActiveRules returns the tenant's active rules ordered by descending
// priority, served from cache when possible. Repository failures are
// reported as transient so callers can fail open.
func (s *Store) ActiveRules(ctx context.Context, tenantID string) ([]*domain.FraudRule, error) {
	if cached := s.cachedRules(ctx, tenantID); cached != nil {
		return cached, nil
	}

	ruleSet, err := s.repo.ListRules(ctx, tenantID, true)
	if err != nil {
		return nil, fmt.Errorf("%w: active rule fetch failed: %v", domain.ErrTransientLookup, err)
	}

	s.storeRules(ctx, tenantID, ruleSet)
	return ruleSet, nil
}

func (s *Store) validate(rule *domain.FraudRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.RuleType == domain.RuleCustom && s.engine != nil {
		if err := s.engine.ValidateExpression(rule.Conditions.Expression); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) cachedRules(ctx context.Context, tenantID string) []*domain.FraudRule {
	if s.cache == nil {
		return nil
	}

	data, err := s.cache.Get(ctx, tenantID, activeRulesKey)
	if err != nil || data == nil {
		return nil
	}

	var ruleSet []*domain.FraudRule
	if err := json.Unmarshal(data, &ruleSet); err != nil {
		// Corrupt entry; drop it and fall through to the repository.
		_ = s.cache.Delete(ctx, tenantID, activeRulesKey)
		return nil
	}
	return ruleSet
}

func (s *Store) storeRules(ctx context.Context, tenantID string, ruleSet []*domain.FraudRule) {
	if s.cache == nil {
		return
	}

	data, err := json.Marshal(ruleSet)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, tenantID, activeRulesKey, data, activeRulesTTL); err != nil {
		slog.Debug("rule cache write failed", "tenant_id", tenantID, "error", err)
	}
}

func (s *Store) invalidate(ctx context.Context, tenantID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, tenantID, activeRulesKey); err != nil {
		slog.Debug("rule cache invalidation failed", "tenant_id", tenantID, "error", err)
	}
}
