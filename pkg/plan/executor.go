// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/praxishq/praxis/pkg/core"
	praxiserrors "github.com/praxishq/praxis/pkg/errors"
	"github.com/praxishq/praxis/pkg/telemetry"
)

// Handler executes one step and may read earlier outputs from state.
type Handler func(ctx context.Context, step Step, state *State) (any, error)

// State holds outputs produced during plan execution.
type State struct {
	Last    any
	Outputs map[string]any
}

// NewState creates an initialized execution state.
func NewState() *State {
	return &State{Outputs: make(map[string]any)}
}

// Executor runs plans using per-node handlers.
type Executor struct {
	handlers map[string]Handler
	audit    AuditStore
	logger   *slog.Logger
	tracer   trace.Tracer
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithAuditStore persists a record per step execution.
func WithAuditStore(store AuditStore) ExecutorOption {
	return func(e *Executor) { e.audit = store }
}

// WithExecutorLogger sets the executor logger.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor creates an executor with the provided node handlers.
func NewExecutor(handlers map[string]Handler, opts ...ExecutorOption) *Executor {
	e := &Executor{
		handlers: handlers,
		logger:   slog.Default(),
		tracer:   otel.Tracer("praxis/plan"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the plan to completion. Steps run when their dependencies are
// complete; a round in which nothing is ready while steps remain means the
// plan is malformed and surfaces as a hard CodePlanDeadlock error.
func (e *Executor) Execute(ctx context.Context, p *Plan, state *State) (*State, error) {
	if err := p.Validate(); err != nil {
		return nil, praxiserrors.New(praxiserrors.CodeInvalidInput, "invalid plan", err)
	}
	if state == nil {
		state = NewState()
	}
	ctx, runID := core.EnsureRunID(ctx)
	ctx, span := e.tracer.Start(ctx, "Plan.Execute",
		trace.WithAttributes(attribute.String(telemetry.AttrPlanID, p.ID)),
	)
	defer span.End()

	completed := make(map[string]bool, len(p.Steps))
	for len(completed) < len(p.Steps) {
		ready := p.Ready(completed)
		if len(ready) == 0 {
			// Validate rejects cycles, so this is unreachable for plans
			// that came through Validate unchanged; it guards against
			// callers mutating the plan mid-run.
			return nil, praxiserrors.New(praxiserrors.CodePlanDeadlock, "no step ready and plan incomplete", nil).
				WithContext("plan", p.ID).
				WithContext("remaining", p.Remaining(completed))
		}
		for _, step := range ready {
			if err := e.executeStep(ctx, p, runID, step, state); err != nil {
				return nil, err
			}
			completed[step.ID] = true
		}
	}
	return state, nil
}

func (e *Executor) executeStep(ctx context.Context, p *Plan, runID string, step Step, state *State) error {
	handler, ok := e.handlers[step.Node]
	if !ok {
		return praxiserrors.New(praxiserrors.CodeNotFound, "no handler for plan node", nil).
			WithContext("plan", p.ID).
			WithContext("node", step.Node)
	}

	stepCtx, span := e.tracer.Start(ctx, "Plan.Step",
		trace.WithAttributes(
			attribute.String(telemetry.AttrPlanID, p.ID),
			attribute.String(telemetry.AttrPlanStepID, step.ID),
		),
	)
	defer span.End()

	started := time.Now()
	output, err := handler(stepCtx, step, state)
	finished := time.Now()

	record := AuditEvent{
		PlanID:     p.ID,
		RunID:      runID,
		StepID:     step.ID,
		Node:       step.Node,
		Status:     auditStatusCompleted,
		Output:     output,
		StartedAt:  started,
		FinishedAt: finished,
	}
	if err != nil {
		record.Status = auditStatusFailed
		record.Error = err.Error()
	}
	if e.audit != nil {
		if auditErr := e.audit.Record(stepCtx, record); auditErr != nil {
			e.logger.Warn("plan audit record failed",
				slog.String("plan", p.ID),
				slog.String("step", step.ID),
				slog.Any("error", auditErr),
			)
		}
	}
	if err != nil {
		return praxiserrors.New(praxiserrors.CodeInternal, "plan step failed", err).
			WithContext("plan", p.ID).
			WithContext("step", step.ID)
	}

	state.Outputs[step.ID] = output
	state.Last = output
	return nil
}
