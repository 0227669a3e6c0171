package core

import "strings"

// TransferredPrefix is the legacy result-text marker a hand-off tool emits.
// Kept for compatibility with models and tools that match on text; new code
// should rely on ControlTransfer.
const TransferredPrefix = "Successfully transferred to "

const (
	handoffToolPrefix = "call_"
	handoffToolSuffix = "_agent"
)

// ControlTransfer is the structured signal a hand-off tool returns to route
// the conversation to another agent's state machine.
type ControlTransfer struct {
	TargetAgent string
	Reason      string
}

// HandoffToolName returns the tool name that transfers control to the named
// agent.
func HandoffToolName(agent string) string {
	return handoffToolPrefix + agent + handoffToolSuffix
}

// ParseHandoffToolName extracts the target agent from a hand-off tool name.
func ParseHandoffToolName(toolName string) (agent string, ok bool) {
	if !strings.HasPrefix(toolName, handoffToolPrefix) || !strings.HasSuffix(toolName, handoffToolSuffix) {
		return "", false
	}
	agent = toolName[len(handoffToolPrefix) : len(toolName)-len(handoffToolSuffix)]
	return agent, agent != ""
}

// IsTransferResult reports whether a tool produced a hand-off, either as a
// structured ControlTransfer or as the legacy text marker. The tool name must
// follow the hand-off naming convention for the text form to count.
func IsTransferResult(toolName string, result any) (ControlTransfer, bool) {
	switch v := result.(type) {
	case ControlTransfer:
		return v, true
	case *ControlTransfer:
		if v != nil {
			return *v, true
		}
	case string:
		target, ok := ParseHandoffToolName(toolName)
		if ok && strings.HasPrefix(v, TransferredPrefix) {
			return ControlTransfer{TargetAgent: target}, true
		}
	}
	return ControlTransfer{}, false
}
