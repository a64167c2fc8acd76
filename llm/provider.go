package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Provider is the interface for LLM interactions.
type Provider interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ToolCaller extends Provider with native function calling. Providers that
// do not implement it can still drive a text-protocol agent.
type ToolCaller interface {
	Provider
	// ChatWithTools sends a chat request that advertises callable tools.
	ChatWithTools(ctx context.Context, req ToolChatRequest) (*ToolChatResponse, error)
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	// Stop lists sequences at which the provider stops generating.
	Stop []string `json:"stop,omitempty"`
	// ResponseFormat can be set to "json_object" for JSON mode.
	ResponseFormat string `json:"response_format,omitempty"`
}

// ToolChatRequest is a chat request carrying tool definitions.
type ToolChatRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// ToolCalls is set on assistant messages that request tool invocations.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID links a "tool" role message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolDefinition describes one function the model may call.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a single function invocation requested by the model.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction names the function and carries its JSON-encoded arguments.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatResponse is the response from a chat completion.
type ChatResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// ToolChatResponse is the response to a ToolChatRequest. Message holds
// either final content or a set of tool calls.
type ToolChatResponse struct {
	Message          Message `json:"message"`
	Model            string  `json:"model"`
	FinishReason     string  `json:"finish_reason"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
}

// Config configures an LLM provider.
type Config struct {
	Provider string `json:"provider"` // openai, openrouter, groq, xai, gemini, ollama, lmstudio, custom
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`

	// Timeout bounds a single HTTP attempt. Zero selects defaultTimeout.
	Timeout time.Duration `json:"timeout"`
	// MaxRetries bounds retries of transient failures (network, 429, 5xx).
	// Negative disables retries; zero selects defaultMaxRetries.
	MaxRetries int `json:"max_retries"`
}

// NewProvider creates an LLM provider from configuration.
func NewProvider(cfg Config) (Provider, error) {
	if cfg.Provider == "" {
		return nil, fmt.Errorf("llm provider not specified")
	}
	spec, ok := vendors[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = spec.baseURL
	}
	if cfg.Model == "" {
		cfg.Model = spec.model
	}

	base := newOpenAICompatClientPrefix(cfg, spec.pathPrefix)
	if spec.tools {
		return &toolProvider{base: base}, nil
	}
	return &chatProvider{base: base}, nil
}

// RequiresAPIKey reports whether the named provider needs a credential.
// Local runtimes (ollama, lmstudio) and custom endpoints do not.
func RequiresAPIKey(provider string) bool {
	spec, ok := vendors[provider]
	return ok && spec.keyRequired
}

// KeyEnvVar returns the conventional environment variable holding the
// credential for provider, or "" when there is none.
func KeyEnvVar(provider string) string {
	return vendors[provider].keyEnv
}
