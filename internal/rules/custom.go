package rules

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// celCompiler compiles CUSTOM rule expressions into boolean CEL programs
// and caches them per rule. A cached program is reused until the rule's
// expression changes.
type celCompiler struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]*compiledProgram
}

type compiledProgram struct {
	expression string
	program    cel.Program

	// usesHistory marks expressions referencing hourly_count or
	// daily_velocity, which require history lookups before evaluation.
	usesHistory bool
}

func newCELCompiler() (*celCompiler, error) {
	// Create CEL environment with transaction variables
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("tx_type", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("country", cel.StringType),
		cel.Variable("city", cel.StringType),
		cel.Variable("ip", cel.StringType),
		cel.Variable("device_fingerprint", cel.StringType),
		cel.Variable("is_mobile", cel.BoolType),
		cel.Variable("hourly_count", cel.IntType),
		cel.Variable("daily_velocity", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &celCompiler{
		env:      env,
		programs: make(map[string]*compiledProgram),
	}, nil
}

func (c *celCompiler) compile(expression string) (cel.Program, error) {
	if expression == "" {
		return nil, fmt.Errorf("%w: custom rules require an expression", domain.ErrValidation)
	}

	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: invalid rule expression: %v", domain.ErrValidation, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: rule expression must return bool, got %s", domain.ErrValidation, ast.OutputType())
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build rule program: %v", domain.ErrValidation, err)
	}

	return program, nil
}

// programFor returns the cached program for a rule, recompiling when the
// stored expression changed since the program was cached.
func (c *celCompiler) programFor(rule *domain.FraudRule) (*compiledProgram, error) {
	c.mu.RLock()
	cached, ok := c.programs[rule.ID]
	c.mu.RUnlock()
	if ok && cached.expression == rule.Conditions.Expression {
		return cached, nil
	}

	program, err := c.compile(rule.Conditions.Expression)
	if err != nil {
		return nil, err
	}

	compiled := &compiledProgram{
		expression:  rule.Conditions.Expression,
		program:     program,
		usesHistory: usesHistoryVars(rule.Conditions.Expression),
	}

	c.mu.Lock()
	c.programs[rule.ID] = compiled
	c.mu.Unlock()

	return compiled, nil
}

// usesHistoryVars is a cheap textual check; an identifier cannot appear in
// an expression without its name appearing as a substring, so false
// negatives are impossible. A false positive only costs an extra lookup.
func usesHistoryVars(expression string) bool {
	return strings.Contains(expression, "hourly_count") || strings.Contains(expression, "daily_velocity")
}

// evalCustom evaluates a CUSTOM rule's CEL expression. History-backed
// variables are bound only when the expression references them, so plain
// expressions never pay for lookups.
func (e *Engine) evalCustom(ctx context.Context, tenantID string, rule *domain.FraudRule, tc *domain.TransactionContext, now time.Time) (bool, []string, error) {
	compiled, err := e.custom.programFor(rule)
	if err != nil {
		return false, nil, err
	}

	activation := map[string]any{
		"amount":             tc.Amount,
		"currency":           tc.Currency,
		"tx_type":            tc.Type,
		"hour":               int64(tc.EffectiveTime(now).UTC().Hour()),
		"country":            "",
		"city":               "",
		"ip":                 "",
		"device_fingerprint": "",
		"is_mobile":          false,
		"hourly_count":       int64(0),
		"daily_velocity":     0.0,
	}
	if tc.Location != nil {
		activation["country"] = normalizeCountry(tc.Location.Country)
		activation["city"] = tc.Location.City
		activation["ip"] = tc.Location.IP
	}
	if tc.Device != nil {
		activation["device_fingerprint"] = tc.Device.Fingerprint
		activation["is_mobile"] = tc.Device.IsMobile
	}

	if compiled.usesHistory && e.lookups != nil {
		count, err := e.lookups.RecentCount(ctx, tenantID, tc.AccountID, time.Hour, now)
		if err != nil {
			return false, nil, err
		}
		velocity, err := e.lookups.DailyVelocity(ctx, tenantID, tc.AccountID, now)
		if err != nil {
			return false, nil, err
		}
		activation["hourly_count"] = int64(count)
		activation["daily_velocity"] = velocity
	}

	out, _, err := compiled.program.Eval(activation)
	if err != nil {
		return false, nil, fmt.Errorf("rule expression evaluation failed: %w", err)
	}

	matched, ok := out.(types.Bool)
	if !ok {
		return false, nil, fmt.Errorf("rule expression returned a non-bool result")
	}
	if !bool(matched) {
		return false, nil, nil
	}

	return true, []string{fmt.Sprintf("custom rule %q matched", rule.Name)}, nil
}
