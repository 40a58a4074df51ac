// Package assembler turns a decoded request into a populated target record.
//
// An Assembler is built once at startup from a pipeline declared in the
// namespace's manifests. Per request it runs the cached conversion, fetches
// the entities the conversion asked for and writes each one into a fresh
// target through the operation its role names. The populated target is then
// handed to the decision evaluator.
package assembler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/vk/dapgrid/internal/ctxlog"
	"github.com/vk/dapgrid/internal/invoke"
	"github.com/vk/dapgrid/internal/model"
	"github.com/vk/dapgrid/internal/modspace"
)

// DefaultPipeline is the pipeline name used when none is configured.
const DefaultPipeline = "payment"

// EntityLookup fetches entities by id.
type EntityLookup interface {
	Fetch(ctx context.Context, ids []string) ([]model.Customer, error)
}

// Evaluator attaches a decision to a populated target.
type Evaluator interface {
	Evaluate(ctx context.Context, target *invoke.Instance) error
}

// Role is one member of the closed set of roles a target declares. An entity
// tagged with Tag is written through Operation.
type Role struct {
	Tag       string
	Operation string
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithPipeline selects the manifest pipeline to run.
func WithPipeline(name string) Option {
	return func(a *Assembler) { a.pipelineName = name }
}

// WithLookupTimeout bounds each entity lookup. Zero disables the bound.
func WithLookupTimeout(d time.Duration) Option {
	return func(a *Assembler) { a.lookupTimeout = d }
}

// WithRulesTimeout bounds each decision evaluation. Zero disables the bound.
func WithRulesTimeout(d time.Duration) Option {
	return func(a *Assembler) { a.rulesTimeout = d }
}

// Assembler is immutable after New and safe for concurrent use.
type Assembler struct {
	pipelineName  string
	lookupTimeout time.Duration
	rulesTimeout  time.Duration

	ns          *modspace.Namespace
	pipeline    modspace.Pipeline
	requestInfo *modspace.Symbol
	target      *modspace.Symbol
	entity      *modspace.Symbol
	mapper      *invoke.Instance
	roles       map[string]Role

	lookup    EntityLookup
	evaluator Evaluator
}

// New resolves the pipeline once and caches the conversion singleton. Any
// failure here is fatal to the caller.
func New(ctx context.Context, ns *modspace.Namespace, lookup EntityLookup, evaluator Evaluator, opts ...Option) (*Assembler, error) {
	a := &Assembler{
		pipelineName: DefaultPipeline,
		ns:           ns,
		lookup:       lookup,
		evaluator:    evaluator,
	}
	for _, opt := range opts {
		opt(a)
	}
	if ns == nil {
		return nil, fmt.Errorf("assembler: no namespace")
	}
	if lookup == nil || evaluator == nil {
		return nil, fmt.Errorf("assembler: entity lookup and evaluator are required")
	}

	p, err := ns.Pipeline(a.pipelineName)
	if err != nil {
		return nil, fmt.Errorf("assembler: %w", err)
	}
	a.pipeline = *p

	if a.requestInfo, err = ns.Resolve(p.RequestInfo); err != nil {
		return nil, fmt.Errorf("assembler: request info: %w", err)
	}
	if a.target, err = ns.Resolve(p.Target); err != nil {
		return nil, fmt.Errorf("assembler: target: %w", err)
	}
	if a.entity, err = ns.Resolve(p.Entity); err != nil {
		return nil, fmt.Errorf("assembler: entity: %w", err)
	}
	mapperSym, err := ns.Resolve(p.Mapper)
	if err != nil {
		return nil, fmt.Errorf("assembler: mapper: %w", err)
	}
	if a.mapper, err = invoke.ReadStaticSingleton(mapperSym, p.MapperInstance); err != nil {
		return nil, fmt.Errorf("assembler: mapper singleton: %w", err)
	}
	if err := invoke.CheckOperation(mapperSym, p.Convert, a.requestInfo); err != nil {
		return nil, fmt.Errorf("assembler: conversion: %w", err)
	}
	if err := invoke.CheckOperation(a.target, p.SetRequestInfo, a.requestInfo); err != nil {
		return nil, fmt.Errorf("assembler: set request info: %w", err)
	}
	if p.GetDecision != "" {
		if err := invoke.CheckOperation(a.target, p.GetDecision, nil); err != nil {
			return nil, fmt.Errorf("assembler: get decision: %w", err)
		}
	}

	a.roles = make(map[string]Role)
	for _, tag := range a.target.Roles() {
		op, _ := a.target.Operation(tag)
		if err := invoke.CheckOperation(a.target, op, a.entity); err != nil {
			return nil, fmt.Errorf("assembler: role %q: %w", tag, err)
		}
		a.roles[tag] = Role{Tag: tag, Operation: op}
	}

	ctxlog.FromContext(ctx).Info("Assembler ready.",
		"pipeline", p.Name,
		"request_info", a.requestInfo.Name(),
		"target", a.target.Name(),
		"roles", len(a.roles),
	)
	return a, nil
}

// Pipeline returns the pipeline the assembler runs.
func (a *Assembler) Pipeline() modspace.Pipeline { return a.pipeline }

// Roles returns the roles the target declares, sorted by tag.
func (a *Assembler) Roles() []Role {
	roles := make([]Role, 0, len(a.roles))
	for _, r := range a.roles {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Tag < roles[j].Tag })
	return roles
}

// Decode builds a fresh request info instance from a JSON body.
func (a *Assembler) Decode(body []byte) (*invoke.Instance, error) {
	inst, err := invoke.NewInstance(a.requestInfo)
	if err != nil {
		return nil, &Error{Stage: StageInput, Err: err}
	}
	if err := json.Unmarshal(body, inst.Value()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return inst, nil
}

// Process converts requestInfo, fetches the entities it references and
// returns a new, evaluated target. Every error matches ErrProcessing.
func (a *Assembler) Process(ctx context.Context, requestInfo *invoke.Instance) (*invoke.Instance, error) {
	logger := ctxlog.FromContext(ctx)
	if requestInfo == nil || requestInfo.Symbol() != a.requestInfo {
		return nil, fail(StageInput, "request info is not an instance of %s", a.requestInfo.Name())
	}

	res, err := invoke.Invoke(a.mapper, a.pipeline.Convert, a.requestInfo, requestInfo)
	if err != nil {
		return nil, &Error{Stage: StageConvert, Err: err}
	}
	creq, ok := res.(*model.CustomerRequest)
	if !ok {
		return nil, fail(StageConvert, "conversion returned %T, want *model.CustomerRequest", res)
	}
	logger.Debug("Request converted.", "activity_id", creq.ActivityID, "customer_ids", creq.CustomerIDs)

	entities, err := a.fetch(ctx, creq.CustomerIDs)
	if err != nil {
		return nil, &Error{Stage: StageLookup, Err: err}
	}

	target, err := invoke.NewInstance(a.target)
	if err != nil {
		return nil, &Error{Stage: StageAssemble, Err: err}
	}
	if _, err := invoke.Invoke(target, a.pipeline.SetRequestInfo, a.requestInfo, requestInfo); err != nil {
		return nil, &Error{Stage: StageAssemble, Err: err}
	}

	for i := range entities {
		e := &entities[i]
		tag, ok := creq.CustomerTags[e.CustomerID]
		if !ok {
			return nil, &Error{Stage: StageDispatch, Err: fmt.Errorf("%w: %s", ErrUnrequestedEntity, e.CustomerID)}
		}
		role, ok := a.roles[tag]
		if !ok {
			return nil, &Error{Stage: StageDispatch, Err: fmt.Errorf("%w: %q for %s", ErrUnknownRole, tag, e.CustomerID)}
		}
		arg, err := invoke.Bind(a.ns, e)
		if err != nil {
			return nil, &Error{Stage: StageDispatch, Err: err}
		}
		if _, err := invoke.Invoke(target, role.Operation, a.entity, arg); err != nil {
			return nil, &Error{Stage: StageDispatch, Err: err}
		}
		logger.Debug("Entity assigned.", "customer_id", e.CustomerID, "role", role.Tag)
	}

	if err := a.evaluate(ctx, target); err != nil {
		return nil, &Error{Stage: StageEvaluate, Err: err}
	}
	return target, nil
}

// Decision reads the decision back from an evaluated target. It returns nil
// when the pipeline declares no decision accessor.
func (a *Assembler) Decision(target *invoke.Instance) (*model.RulesResponse, error) {
	if a.pipeline.GetDecision == "" {
		return nil, nil
	}
	res, err := invoke.InvokeNoArgs(target, a.pipeline.GetDecision)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	rr, ok := res.(*model.RulesResponse)
	if !ok {
		return nil, fmt.Errorf("decision accessor returned %T, want *model.RulesResponse", res)
	}
	return rr, nil
}

func (a *Assembler) fetch(ctx context.Context, ids []string) ([]model.Customer, error) {
	var out []model.Customer
	err := bounded(ctx, a.lookupTimeout, func(ctx context.Context) error {
		var err error
		out, err = a.lookup.Fetch(ctx, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Assembler) evaluate(ctx context.Context, target *invoke.Instance) error {
	return bounded(ctx, a.rulesTimeout, func(ctx context.Context) error {
		return a.evaluator.Evaluate(ctx, target)
	})
}

// bounded runs fn under a deadline of d. It returns as soon as the deadline
// passes even when fn ignores its context; the late result is discarded.
func bounded(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
