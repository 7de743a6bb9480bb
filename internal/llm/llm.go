// Package llm wraps the chat and vision endpoints behind narrow
// clients. Both speak the OpenAI chat completions format, so one
// underlying client serves text generation, JSON-mode structure
// generation and image captioning.
package llm

import (
	"context"
	"time"

	"github.com/jepras/ConstructionRAG-sub001/internal/ratelimit"
)

// DefaultChatModel is used when no model is configured. The default
// deployment routes through an OpenAI-compatible gateway.
const DefaultChatModel = "google/gemini-2.0-flash-001"

// ChatOptions controls a single chat call. Zero values fall back to the
// client's configured defaults.
type ChatOptions struct {
	Model       string
	MaxTokens   int
	Temperature float32
	// ResponseFormat may be "json_object" to request strict JSON
	// output from providers that support it.
	ResponseFormat string
}

// ChatClient generates text from a prompt.
type ChatClient interface {
	Chat(ctx context.Context, prompt string, opts ChatOptions) (string, error)
	Available(ctx context.Context) error
	Close() error
}

// CaptionOptions controls a captioning call.
type CaptionOptions struct {
	Model    string
	Language string
}

// Caption is the result of one VLM call.
type Caption struct {
	Text      string
	WordCount int
	Duration  time.Duration
}

// VlmClient captions table images, table HTML and full-page renders.
type VlmClient interface {
	CaptionImage(ctx context.Context, png []byte, prompt string, opts CaptionOptions) (*Caption, error)
	CaptionHTML(ctx context.Context, html string, prompt string, opts CaptionOptions) (*Caption, error)
	Available(ctx context.Context) error
	Close() error
}

// Config holds settings shared by the chat and VLM clients.
type Config struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
	APIKey  string `yaml:"api_key" json:"-"`
	// Model is the default chat model; VLM calls default to the same
	// model unless overridden per call.
	Model       string        `yaml:"model" json:"model"`
	MaxTokens   int           `yaml:"max_tokens" json:"max_tokens"`
	Temperature float32       `yaml:"temperature" json:"temperature"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	VLMTimeout  time.Duration `yaml:"vlm_timeout" json:"vlm_timeout"`
}

// DefaultConfig returns the standard LLM settings.
func DefaultConfig() Config {
	return Config{
		Model:       DefaultChatModel,
		MaxTokens:   4096,
		Temperature: 0.2,
		Timeout:     60 * time.Second,
		VLMTimeout:  60 * time.Second,
	}
}

// Clients bundles the chat and VLM clients built from one config.
type Clients struct {
	Chat ChatClient
	VLM  VlmClient
}

// NewClients builds both clients against the same endpoint.
func NewClients(cfg Config, limiter *ratelimit.Registry) (*Clients, error) {
	client, err := NewOpenAIClient(cfg, limiter)
	if err != nil {
		return nil, err
	}
	return &Clients{Chat: client, VLM: client}, nil
}
