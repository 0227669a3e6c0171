package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultChatTimeout = 120 * time.Second
)

// OllamaOption configures the provider.
type OllamaOption func(*OllamaProvider)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) OllamaOption {
	return func(p *OllamaProvider) {
		if client != nil {
			p.client = client
		}
	}
}

// WithKeepAlive controls how long Ollama keeps the model loaded between
// requests, e.g. "5m".
func WithKeepAlive(d string) OllamaOption {
	return func(p *OllamaProvider) { p.keepAlive = d }
}

// OllamaProvider implements the Provider interface for a local or remote
// Ollama instance.
type OllamaProvider struct {
	baseURL   string
	keepAlive string
	client    *http.Client
}

// NewOllama creates a provider for the given base URL.
func NewOllama(baseURL string, opts ...OllamaOption) *OllamaProvider {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	p := &OllamaProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultChatTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ollamaMessage is the wire form of a message. Runtime-only fields such as
// visibility tags and tool-call ids stay out of the payload.
type ollamaMessage struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

func wireMessages(messages []Message) []ollamaMessage {
	out := make([]ollamaMessage, len(messages))
	for i, m := range messages {
		out[i] = ollamaMessage{Role: m.Role, Content: m.Content, ToolCalls: m.ToolCalls}
	}
	return out
}

type ollamaRequest struct {
	Model     string          `json:"model"`
	Messages  []ollamaMessage `json:"messages"`
	Stream    bool            `json:"stream"`
	Tools     []Tool          `json:"tools,omitempty"`
	KeepAlive string          `json:"keep_alive,omitempty"`
	Options   map[string]any  `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

func (p *OllamaProvider) buildRequest(req ChatRequest, stream bool) ollamaRequest {
	oReq := ollamaRequest{
		Model:     req.Model,
		Messages:  wireMessages(req.Messages),
		Stream:    stream,
		Tools:     req.Tools,
		KeepAlive: p.keepAlive,
	}
	if req.Temperature != 0 {
		oReq.Options = map[string]any{"temperature": req.Temperature}
	}
	return oReq
}

// post sends the chat payload and returns the response with a verified 200
// status. The caller owns the body.
func (p *OllamaProvider) post(ctx context.Context, oReq ollamaRequest) (*http.Response, error) {
	body, err := json.Marshal(oReq)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama chat: status %d: %s",
			resp.StatusCode, bytes.TrimSpace(detail))
	}
	return resp, nil
}

// Chat sends a chat request to Ollama and maps the response.
func (p *OllamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := p.post(ctx, p.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var decoded ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}

	return &ChatResponse{
		Content:   decoded.Message.Content,
		ToolCalls: decoded.Message.ToolCalls,
		Usage: Usage{
			PromptTokens:     decoded.PromptEvalCount,
			CompletionTokens: decoded.EvalCount,
			TotalTokens:      decoded.PromptEvalCount + decoded.EvalCount,
		},
	}, nil
}

// ChatStream implements StreamingProvider over Ollama's NDJSON stream.
func (p *OllamaProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	resp, err := p.post(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, err
	}

	chunks := make(chan StreamChunk, 100)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		// Ollama sends complete tool calls, not deltas; remember the last
		// set seen and attach it to the final chunk.
		var toolCalls []ToolCall

		for {
			select {
			case <-ctx.Done():
				chunks <- StreamChunk{Error: ctx.Err()}
				return
			default:
			}

			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err != io.EOF {
					chunks <- StreamChunk{Error: err}
				}
				return
			}

			var event ollamaResponse
			if err := json.Unmarshal(line, &event); err != nil {
				continue
			}
			if len(event.Message.ToolCalls) > 0 {
				toolCalls = event.Message.ToolCalls
			}

			if event.Done {
				usage := Usage{
					PromptTokens:     event.PromptEvalCount,
					CompletionTokens: event.EvalCount,
					TotalTokens:      event.PromptEvalCount + event.EvalCount,
				}
				chunks <- StreamChunk{Done: true, ToolCalls: toolCalls, Usage: &usage}
				return
			}
			if event.Message.Content != "" {
				chunks <- StreamChunk{Content: event.Message.Content}
			}
		}
	}()
	return chunks, nil
}

// Ensure OllamaProvider implements StreamingProvider.
var _ StreamingProvider = (*OllamaProvider)(nil)
