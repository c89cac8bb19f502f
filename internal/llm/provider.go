// Package llm talks to chat-completion backends used to narrate report
// analyses: DeepSeek and OpenAI through the OpenAI-compatible API, and local
// Ollama servers. A Router adds retry and fallback across them.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/seenimoa/finreport/pkg/models"
)

// Provider names for routing and configuration.
const (
	ProviderDeepSeek = "deepseek"
	ProviderOpenAI   = "openai"
	ProviderOllama   = "ollama"
)

// Common errors returned by LLM providers. All of them match
// models.ErrAnalysisProvider under errors.Is.
var (
	ErrNoAPIKey      = fmt.Errorf("%w: API key not configured", models.ErrAnalysisProvider)
	ErrRateLimit     = fmt.Errorf("%w: rate limit exceeded", models.ErrAnalysisProvider)
	ErrContextLength = fmt.Errorf("%w: context length exceeded", models.ErrAnalysisProvider)
	ErrProviderDown  = fmt.Errorf("%w: provider unavailable", models.ErrAnalysisProvider)
	ErrInvalidModel  = fmt.Errorf("%w: invalid model", models.ErrAnalysisProvider)
	ErrBadResponse   = fmt.Errorf("%w: malformed response", models.ErrAnalysisProvider)
	ErrNoProviders   = fmt.Errorf("%w: no providers configured", models.ErrAnalysisProvider)
)

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// FinishReason indicates why the model stopped generating.
type FinishReason string

const (
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
	FinishError  FinishReason = "error"
)

// Message represents a single message in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Response represents a complete response from the LLM.
type Response struct {
	Content      string        `json:"content"`
	FinishReason FinishReason  `json:"finish_reason"`
	Usage        Usage         `json:"usage"`
	Model        string        `json:"model"`
	Provider     string        `json:"provider"`
	Latency      time.Duration `json:"latency"`
}

// Usage tracks token consumption for a request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatOptions configures a single chat request.
type ChatOptions struct {
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	JSONMode    bool    `json:"json_mode,omitempty"` // ask for a single JSON object
}

// LLMProvider is the interface that all LLM backends must implement.
type LLMProvider interface {
	// Name returns the provider identifier (e.g., "deepseek", "ollama").
	Name() string

	// Chat sends a conversation and returns a complete response.
	Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error)

	// Models returns the list of commonly available models for this provider.
	Models() []string

	// Ping checks if the provider is reachable and the API key is valid.
	Ping(ctx context.Context) error
}

// SystemMessage creates a system prompt message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// String returns a human-readable summary of the response.
func (r *Response) String() string {
	truncated := r.Content
	if len(truncated) > 100 {
		truncated = truncated[:100] + "..."
	}
	return fmt.Sprintf("[%s/%s] %q, %d tokens, %v",
		r.Provider, r.Model, truncated, r.Usage.TotalTokens, r.Latency.Round(time.Millisecond))
}

// isNonRetryable reports errors that another attempt cannot fix.
func isNonRetryable(err error) bool {
	return errors.Is(err, ErrNoAPIKey) ||
		errors.Is(err, ErrInvalidModel) ||
		errors.Is(err, ErrContextLength)
}
