// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

// Package plan implements dependency-ordered multi-step execution for
// delegated flows: a Plan is a set of Steps whose dependency graph must be a
// DAG, and the executor runs whichever steps are ready until the plan
// completes or deadlocks.
package plan

import (
	"fmt"
	"sort"
)

// Step is one unit of a plan. Node names the handler that executes it.
type Step struct {
	ID           string         `json:"id" yaml:"id"`
	Node         string         `json:"node" yaml:"node"`
	Instructions string         `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	Context      map[string]any `json:"context,omitempty" yaml:"context,omitempty"`
	DependsOn    []string       `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// Plan is an ordered list of steps plus a description.
type Plan struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []Step `json:"steps" yaml:"steps"`
}

// Validate ensures the plan is well-formed: non-empty, unique step ids,
// dependencies that exist, and an acyclic dependency graph.
func (p *Plan) Validate() error {
	if p == nil {
		return fmt.Errorf("plan is nil")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}

	byID := make(map[string]Step, len(p.Steps))
	for _, step := range p.Steps {
		if step.ID == "" {
			return fmt.Errorf("step id is required")
		}
		if step.Node == "" {
			return fmt.Errorf("step %q missing node", step.ID)
		}
		if _, dup := byID[step.ID]; dup {
			return fmt.Errorf("duplicate step id %q", step.ID)
		}
		byID[step.ID] = step
	}

	for _, step := range p.Steps {
		for _, dep := range step.DependsOn {
			if _, ok := byID[dep]; !ok {
				return fmt.Errorf("step %q depends on unknown step %q", step.ID, dep)
			}
			if dep == step.ID {
				return fmt.Errorf("step %q depends on itself", step.ID)
			}
		}
	}

	return p.checkAcyclic(byID)
}

// checkAcyclic runs a three-color DFS over the dependency edges.
func (p *Plan) checkAcyclic(byID map[string]Step) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(byID))

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case gray:
			return fmt.Errorf("dependency cycle through step %q", id)
		case black:
			return nil
		}
		color[id] = gray
		for _, dep := range byID[id].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}

	for _, step := range p.Steps {
		if err := visit(step.ID); err != nil {
			return err
		}
	}
	return nil
}

// Step returns the step with the given id.
func (p *Plan) Step(id string) (Step, bool) {
	for _, step := range p.Steps {
		if step.ID == id {
			return step, true
		}
	}
	return Step{}, false
}

// Ready returns the steps whose dependencies are all in the completed set
// and which are not themselves completed, in declaration order.
func (p *Plan) Ready(completed map[string]bool) []Step {
	var out []Step
	for _, step := range p.Steps {
		if completed[step.ID] {
			continue
		}
		ready := true
		for _, dep := range step.DependsOn {
			if !completed[dep] {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, step)
		}
	}
	return out
}

// Remaining returns the ids of steps not yet completed, sorted.
func (p *Plan) Remaining(completed map[string]bool) []string {
	var out []string
	for _, step := range p.Steps {
		if !completed[step.ID] {
			out = append(out, step.ID)
		}
	}
	sort.Strings(out)
	return out
}
