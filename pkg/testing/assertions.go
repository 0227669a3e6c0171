// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"strings"
	"testing"

	"github.com/praxishq/praxis/pkg/llm"
)

// Assertions provides assertion helpers for turn results.
type Assertions struct {
	t      *testing.T
	failed bool
}

// NewAssertions creates a new assertions helper.
func NewAssertions(t *testing.T) *Assertions {
	return &Assertions{t: t}
}

// Failed returns true if any assertion has failed.
func (a *Assertions) Failed() bool {
	return a.failed
}

// AssertEqual asserts that two values are equal.
func (a *Assertions) AssertEqual(expected, actual any, msg string) {
	a.t.Helper()
	if expected != actual {
		a.t.Errorf("%s: expected %v, got %v", msg, expected, actual)
		a.failed = true
	}
}

// AssertContains asserts that text contains a substring.
func (a *Assertions) AssertContains(text, substr, msg string) {
	a.t.Helper()
	if !strings.Contains(text, substr) {
		a.t.Errorf("%s: %q does not contain %q", msg, text, substr)
		a.failed = true
	}
}

// AssertToolBound asserts that a tool schema list offers the named tool.
func (a *Assertions) AssertToolBound(tools []llm.Tool, name string) {
	a.t.Helper()
	for _, tool := range tools {
		if tool.Function.Name == name {
			return
		}
	}
	a.t.Errorf("tool %q not bound; offered: %s", name, toolNames(tools))
	a.failed = true
}

// AssertToolNotBound asserts that a tool schema list does not offer the
// named tool.
func (a *Assertions) AssertToolNotBound(tools []llm.Tool, name string) {
	a.t.Helper()
	for _, tool := range tools {
		if tool.Function.Name == name {
			a.t.Errorf("tool %q unexpectedly bound", name)
			a.failed = true
			return
		}
	}
}

// AssertToolResult asserts that the history holds a tool-role message whose
// content contains the substring.
func (a *Assertions) AssertToolResult(messages []llm.Message, substr string) {
	a.t.Helper()
	for _, msg := range messages {
		if msg.Role == llm.RoleTool && strings.Contains(msg.Content, substr) {
			return
		}
	}
	a.t.Errorf("no tool result containing %q", substr)
	a.failed = true
}

func toolNames(tools []llm.Tool) string {
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Function.Name)
	}
	return strings.Join(names, ", ")
}
