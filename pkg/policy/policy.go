// Package policy evaluates CEL admission rules against an authenticated
// intent. Rules run after signature verification, so the signer identity
// they see is proven.
package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/intent"
)

// ErrDenied is returned when a rule evaluates to false or cannot be evaluated.
var ErrDenied = errors.New("policy denied")

// Rule is one named CEL expression. It must evaluate to a bool. Target, when
// set, limits the rule to intents addressed to that target.
type Rule struct {
	Name   string `json:"name" yaml:"name"`
	Target string `json:"target,omitempty" yaml:"target,omitempty"`
	Expr   string `json:"expr" yaml:"expr"`
}

type compiled struct {
	rule Rule
	prg  cel.Program
}

// Evaluator holds rules compiled once at construction.
type Evaluator struct {
	rules []compiled
	now   func() time.Time
}

// New compiles rules. Any rule that fails to compile, or does not have a
// boolean result type, is an error.
func New(rules []Rule) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("intent", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("now", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Evaluator{now: time.Now}
	for i, r := range rules {
		if r.Name == "" {
			r.Name = fmt.Sprintf("rule-%d", i)
		}
		ast, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("policy %s: compile: %w", r.Name, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("policy %s: result type %s, want bool", r.Name, ast.OutputType())
		}
		prg, err := env.Program(ast,
			cel.InterruptCheckFrequency(100),
			cel.CostLimit(10000),
		)
		if err != nil {
			return nil, fmt.Errorf("policy %s: program: %w", r.Name, err)
		}
		e.rules = append(e.rules, compiled{rule: r, prg: prg})
	}
	return e, nil
}

// WithClock overrides the source of the now variable.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

func (e *Evaluator) Len() int { return len(e.rules) }

// Admit returns nil when every applicable rule holds.
func (e *Evaluator) Admit(ctx context.Context, in *intent.Intent) error {
	if len(e.rules) == 0 {
		return nil
	}
	input := map[string]any{
		"intent": map[string]any{
			"target":     in.Target,
			"function":   in.Function,
			"signer":     in.Signer,
			"args_count": int64(len(in.Args)),
			"issued_at":  int64(in.IssuedAt),
			"expires_at": int64(in.ExpiresAt),
			"ttl":        int64(in.ExpiresAt - in.IssuedAt),
		},
		"now": e.now().Unix(),
	}

	for _, c := range e.rules {
		if c.rule.Target != "" && c.rule.Target != in.Target {
			continue
		}
		out, _, err := c.prg.ContextEval(ctx, input)
		if err != nil {
			return fmt.Errorf("%w: %s: eval: %v", ErrDenied, c.rule.Name, err)
		}
		allowed, ok := out.Value().(bool)
		if !ok {
			return fmt.Errorf("%w: %s: result not bool", ErrDenied, c.rule.Name)
		}
		if !allowed {
			return fmt.Errorf("%w: %s", ErrDenied, c.rule.Name)
		}
	}
	return nil
}
