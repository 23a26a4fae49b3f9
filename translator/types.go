package translator

import (
	"context"
	"time"
)

// ============================================================================
// TRANSLATOR — Natural language → QueryPlan text
// ============================================================================
// The translator is the only part of bankquery that talks to a language
// model. It receives the schema document, a dataset catalog and the user's
// question, and returns raw plan text. It never sees dataset rows.
//
// Two contracts:
//   Client    — a provider call that can fail (Gemini, Claude, Foundry Local, mock)
//   Completer — the infallible view the repair loop consumes; Fallback turns
//               any Client into one by retrying and then answering from the
//               deterministic mock fixtures
// ============================================================================

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn sent to a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client generates text from a conversation.
type Client interface {
	Generate(ctx context.Context, msgs []Message, temperature float64, maxTokens int) (string, error)
	Name() string
}

// Completer generates text and never fails. Implementations degrade to a
// deterministic answer instead of returning an error.
type Completer interface {
	Complete(ctx context.Context, msgs []Message, temperature float64, maxTokens int) string
}

// Providers accepted by NewClient.
const (
	ProviderMock      = "mock"
	ProviderFoundry   = "foundry"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

// Generation parameters.
const (
	GenerationTemperature = 0.1
	RepairTemperature     = 0.0
	MaxTokens             = 2048
)

// Config holds translator configuration.
type Config struct {
	Provider string        // mock, foundry, gemini, anthropic
	APIKey   string        // provider API key (unused by mock and Foundry Local)
	Model    string        // model name or Foundry alias
	Endpoint string        // endpoint override (empty = provider default / discovery)
	Retries  uint          // generator attempts before falling back to the mock. Default: 3
	Timeout  time.Duration // per-request timeout for HTTP providers. Default: 60s
}

// DefaultModels maps each provider to its default model.
var DefaultModels = map[string]string{
	ProviderMock:      "mock",
	ProviderFoundry:   "qwen2.5-0.5b",
	ProviderGemini:    "gemini-2.5-flash-lite",
	ProviderAnthropic: "claude-3-5-haiku-latest",
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.Provider == "" {
		c.Provider = ProviderMock
	}
	if c.Model == "" {
		c.Model = DefaultModels[c.Provider]
	}
	if c.Retries == 0 {
		c.Retries = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}
