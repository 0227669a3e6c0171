// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the per-turn execution state machine: call the
// model with the currently bound tools, optionally retrieve and bind more
// tools, execute requested tools, and loop until the model answers or hands
// off to another agent.
package agent

import (
	"sort"

	"github.com/praxishq/praxis/pkg/core"
	"github.com/praxishq/praxis/pkg/llm"
)

// State names one node of the execution graph.
type State string

const (
	// StateAgent calls the model with the current tool binding.
	StateAgent State = "agent"

	// StateSelectTools resolves retrieval calls and merges the results into
	// the selected set.
	StateSelectTools State = "select_tools"

	// StateTools executes the model's non-retrieval tool calls.
	StateTools State = "tools"

	// StateEnd is the terminal state.
	StateEnd State = "end"
)

// ConversationState is the mutable per-turn structure the machine owns for
// the duration of one invocation. It is not persisted here.
type ConversationState struct {
	Messages []llm.Message

	// selected holds tool names bound via retrieval, in resolution order.
	selected      []string
	selectedIndex map[string]bool

	// Next is the node the machine will execute next.
	Next State

	// PendingCalls are tool calls from the latest model response that have
	// not been resolved yet.
	PendingCalls []llm.ToolCall

	// Final is the model's terminal response, set when the turn ends
	// without a hand-off.
	Final *llm.ChatResponse

	// Transfer is the hand-off signal, set when a tool routed the
	// conversation to another agent.
	Transfer *core.ControlTransfer

	// ModelCalls counts model invocations made during this turn.
	ModelCalls int
}

// NewConversationState starts a turn from the given message history.
func NewConversationState(messages []llm.Message) *ConversationState {
	return &ConversationState{
		Messages:      messages,
		selectedIndex: make(map[string]bool),
		Next:          StateAgent,
	}
}

// Select adds a tool name to the selected set. Duplicates are ignored.
func (s *ConversationState) Select(name string) {
	if s.selectedIndex == nil {
		s.selectedIndex = make(map[string]bool)
	}
	if s.selectedIndex[name] {
		return
	}
	s.selectedIndex[name] = true
	s.selected = append(s.selected, name)
}

// Selected returns the selected tool names in resolution order.
func (s *ConversationState) Selected() []string {
	return append([]string(nil), s.selected...)
}

// IsSelected reports whether a tool name is in the selected set.
func (s *ConversationState) IsSelected(name string) bool {
	return s.selectedIndex[name]
}

// Append adds a message to the history.
func (s *ConversationState) Append(msg llm.Message) {
	s.Messages = append(s.Messages, msg)
}

// transitionFunc executes one node and returns the next state. All context
// arrives through explicit parameters; nothing is captured.
type transitionFunc func(rc *runContext, st *ConversationState) (State, error)

// transitions is the immutable routing table of the graph. StateEnd has no
// entry; reaching it stops the loop.
var transitions = map[State]transitionFunc{
	StateAgent:       stepAgent,
	StateSelectTools: stepSelectTools,
	StateTools:       stepTools,
}

func sortedNames(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
