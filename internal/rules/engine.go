// Package rules is the decision evaluation collaborator. It attaches a
// decision to an assembled target through the target's own operation, so it
// needs no compile-time knowledge of the target type.
package rules

import (
	"context"
	"fmt"

	"github.com/vk/dapgrid/internal/ctxlog"
	"github.com/vk/dapgrid/internal/invoke"
	"github.com/vk/dapgrid/internal/model"
	"github.com/vk/dapgrid/internal/modspace"
)

// DefaultDecision is the outcome every evaluation currently produces.
const DefaultDecision = "Step Up"

// DefaultOperation is the target operation a decision is written through.
const DefaultOperation = "SetRulesResponse"

// Engine evaluates targets built in one namespace.
type Engine struct {
	ns        *modspace.Namespace
	operation string
	decision  string
	response  *modspace.Symbol
}

// Option configures an Engine.
type Option func(*Engine)

// WithOperation sets the target operation that receives the decision.
func WithOperation(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.operation = name
		}
	}
}

// WithDecision overrides the decision outcome.
func WithDecision(decision string) Option {
	return func(e *Engine) { e.decision = decision }
}

// New creates an Engine bound to ns.
func New(ns *modspace.Namespace, opts ...Option) (*Engine, error) {
	e := &Engine{ns: ns, operation: DefaultOperation, decision: DefaultDecision}
	for _, opt := range opts {
		opt(e)
	}
	if ns == nil {
		return nil, fmt.Errorf("rules: no namespace")
	}
	sym, err := ns.Resolve(model.RulesResponseName)
	if err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	e.response = sym
	return e, nil
}

// Evaluate attaches the decision to target.
func (e *Engine) Evaluate(ctx context.Context, target *invoke.Instance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rr := &model.RulesResponse{Decision: e.decision}
	arg, err := invoke.Bind(e.ns, rr)
	if err != nil {
		return fmt.Errorf("failed to evaluate rules: %w", err)
	}
	if _, err := invoke.Invoke(target, e.operation, e.response, arg); err != nil {
		return fmt.Errorf("failed to evaluate rules: %w", err)
	}
	ctxlog.FromContext(ctx).Info("Rules evaluated.", "decision", rr.Decision)
	return nil
}
