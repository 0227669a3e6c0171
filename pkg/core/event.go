package core

import (
	"context"
	"time"
)

// EventType identifies a semantic event emitted by the runtime.
type EventType string

const (
	EventTurnStarted   EventType = "agent.turn.started"
	EventModelCall     EventType = "agent.model.call"
	EventToolExecuted  EventType = "agent.tool.executed"
	EventToolsSelected EventType = "agent.tools.selected"
	EventHandoff       EventType = "agent.handoff"
	EventTurnCompleted EventType = "agent.turn.completed"
	EventAgentError    EventType = "agent.error"
	EventIndexSynced   EventType = "index.synced"
	EventSpawned       EventType = "subagent.spawned"
)

// Event captures a semantic streaming/logging event.
type Event struct {
	Type      EventType
	Agent     string
	RunID     string
	Timestamp time.Time
	Payload   map[string]any
}

// EventEmitter receives semantic events. Implementations must be safe for
// concurrent use; emission must never fail the emitting operation.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// NoopEventEmitter is a default no-op implementation.
type NoopEventEmitter struct{}

// Emit implements EventEmitter.
func (NoopEventEmitter) Emit(_ context.Context, _ Event) {}

// ChannelEmitter forwards events to a channel, dropping them when the
// channel is full so a slow consumer never stalls a turn.
type ChannelEmitter struct {
	C chan Event
}

// NewChannelEmitter creates a buffered channel emitter.
func NewChannelEmitter(buffer int) *ChannelEmitter {
	return &ChannelEmitter{C: make(chan Event, buffer)}
}

// Emit implements EventEmitter.
func (e *ChannelEmitter) Emit(_ context.Context, event Event) {
	select {
	case e.C <- event:
	default:
	}
}

// NewEvent builds a default event with timestamp.
func NewEvent(eventType EventType, agent string, runID string, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		Agent:     agent,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
