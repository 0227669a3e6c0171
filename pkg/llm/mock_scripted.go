package llm

import (
	"context"
	"errors"
	"sync"
)

// ScriptedMockProvider is a mock provider that returns a pre-defined sequence
// of responses. Useful for testing multi-turn interactions like the agent
// state machine, where assistant turns may carry tool calls.
type ScriptedMockProvider struct {
	mu        sync.Mutex
	Responses []ChatResponse
	Err       error
	// CallCount tracks how many times Chat has been called
	CallCount int
	// Requests records every request received, oldest first.
	Requests []ChatRequest
}

// NewScriptedMockProvider creates a provider that replays the given text
// responses in order.
func NewScriptedMockProvider(responses ...string) *ScriptedMockProvider {
	p := &ScriptedMockProvider{}
	for _, r := range responses {
		p.Responses = append(p.Responses, ChatResponse{Content: r})
	}
	return p
}

// NewScriptedResponses creates a provider that replays full responses,
// including tool calls.
func NewScriptedResponses(responses ...ChatResponse) *ScriptedMockProvider {
	return &ScriptedMockProvider{Responses: responses}
}

// Chat pops the next scripted response or returns the configured error.
func (s *ScriptedMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++
	s.Requests = append(s.Requests, req)

	if s.Err != nil {
		return nil, s.Err
	}

	if len(s.Responses) == 0 {
		return nil, errors.New("scripted mock: no more responses available")
	}

	resp := s.Responses[0]
	s.Responses = s.Responses[1:]

	if resp.Usage.TotalTokens == 0 {
		resp.Usage = Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20}
	}
	return &resp, nil
}

// AddResponse appends a text response to the queue.
func (s *ScriptedMockProvider) AddResponse(response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Responses = append(s.Responses, ChatResponse{Content: response})
}

// RequestAt returns the i-th recorded request.
func (s *ScriptedMockProvider) RequestAt(i int) (ChatRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.Requests) {
		return ChatRequest{}, false
	}
	return s.Requests[i], true
}
