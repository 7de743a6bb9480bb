package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/ratelimit"
)

// OpenAIClient implements ChatClient and VlmClient over one
// OpenAI-compatible endpoint.
type OpenAIClient struct {
	client     *openai.Client
	model      string
	maxTokens  int
	temp       float32
	timeout    time.Duration
	vlmTimeout time.Duration
	limiter    *ratelimit.Registry
	breaker    *conerrors.CircuitBreaker
}

// NewOpenAIClient creates a client from config.
func NewOpenAIClient(cfg Config, limiter *ratelimit.Registry) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, conerrors.ConfigError("chat API key is not set", nil)
	}
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.VLMTimeout <= 0 {
		cfg.VLMTimeout = def.VLMTimeout
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		temp:       cfg.Temperature,
		timeout:    cfg.Timeout,
		vlmTimeout: cfg.VLMTimeout,
		limiter:    limiter,
		// VLM elements fail together when the provider degrades; the
		// breaker lets the rest of the enrichment batch fail fast.
		breaker: conerrors.NewCircuitBreaker("vlm"),
	}, nil
}

// Chat sends a prompt and returns the completion text.
func (c *OpenAIClient) Chat(ctx context.Context, prompt string, opts ChatOptions) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", conerrors.InvalidInput("empty chat prompt")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, ratelimit.ServiceChat); err != nil {
			return "", conerrors.Cancelled(err)
		}
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temp,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		req.Temperature = opts.Temperature
	}
	if opts.ResponseFormat == "json_object" {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	return conerrors.RetryWithResult(ctx, conerrors.DefaultRetryConfig(), func() (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		start := time.Now()
		resp, err := c.client.CreateChatCompletion(callCtx, req)
		if err != nil {
			return "", c.classify(callCtx, "chat", c.timeout, err)
		}
		if len(resp.Choices) == 0 {
			return "", conerrors.Malformed("chat", fmt.Errorf("response contained no choices"))
		}

		content := resp.Choices[0].Message.Content
		slog.Debug("chat complete",
			"model", req.Model,
			"prompt_chars", len(prompt),
			"completion_chars", len(content),
			"duration", time.Since(start).Round(time.Millisecond))
		return content, nil
	})
}

// CaptionImage captions a PNG render through the vision endpoint.
func (c *OpenAIClient) CaptionImage(ctx context.Context, png []byte, prompt string, opts CaptionOptions) (*Caption, error) {
	if len(png) == 0 {
		return nil, conerrors.InvalidInput("empty image payload")
	}

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	message := openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailAuto,
				},
			},
		},
	}
	return c.caption(ctx, message, opts)
}

// CaptionHTML captions a table's HTML representation. The markup goes
// in as text; no image round-trip is involved.
func (c *OpenAIClient) CaptionHTML(ctx context.Context, html string, prompt string, opts CaptionOptions) (*Caption, error) {
	if strings.TrimSpace(html) == "" {
		return nil, conerrors.InvalidInput("empty table HTML")
	}

	message := openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt + "\n\n" + html,
	}
	return c.caption(ctx, message, opts)
}

func (c *OpenAIClient) caption(ctx context.Context, message openai.ChatCompletionMessage, opts CaptionOptions) (*Caption, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, ratelimit.ServiceVLM); err != nil {
			return nil, conerrors.Cancelled(err)
		}
	}

	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}
	req := openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temp,
		Messages:    []openai.ChatCompletionMessage{message},
	}

	start := time.Now()
	text, err := conerrors.RetryWithResult(ctx, conerrors.DefaultRetryConfig(), func() (string, error) {
		var content string
		breakerErr := c.breaker.Do(func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.vlmTimeout)
			defer cancel()

			resp, callErr := c.client.CreateChatCompletion(callCtx, req)
			if callErr != nil {
				return c.classify(callCtx, "vlm", c.vlmTimeout, callErr)
			}
			if len(resp.Choices) == 0 {
				return conerrors.Malformed("vlm", fmt.Errorf("response contained no choices"))
			}
			content = resp.Choices[0].Message.Content
			return nil
		})
		return content, breakerErr
	})
	if err != nil {
		return nil, err
	}

	caption := &Caption{
		Text:      strings.TrimSpace(text),
		Duration:  time.Since(start),
		WordCount: len(strings.Fields(text)),
	}
	slog.Debug("caption complete",
		"model", model,
		"words", caption.WordCount,
		"duration", caption.Duration.Round(time.Millisecond))
	return caption, nil
}

// Available probes the endpoint with a trivial completion.
func (c *OpenAIClient) Available(ctx context.Context) error {
	_, err := c.Chat(ctx, "Reply with OK.", ChatOptions{MaxTokens: 8})
	return err
}

// Close releases resources. The underlying client needs no teardown.
func (c *OpenAIClient) Close() error { return nil }

// classify maps provider errors onto structured error kinds.
func (c *OpenAIClient) classify(ctx context.Context, service string, limit time.Duration, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return conerrors.Timeout(service, limit)
	}
	if errors.Is(err, context.Canceled) {
		return conerrors.Cancelled(err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(service, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(service, reqErr.HTTPStatusCode, err)
	}
	return conerrors.Unavailable(service, err)
}

// classifyStatus maps an HTTP status from an OpenAI-compatible provider
// onto an error kind.
func classifyStatus(service string, status int, err error) error {
	switch {
	case status == 429:
		return conerrors.RateLimited(service)
	case status == 408 || status >= 500:
		return conerrors.Unavailable(service, err)
	case status == 401 || status == 403:
		return conerrors.New(conerrors.ErrCodePermissionDenied,
			fmt.Sprintf("%s provider rejected credentials", service), err)
	case status >= 400:
		return conerrors.New(conerrors.ErrCodeInvalidInput,
			fmt.Sprintf("%s provider rejected request", service), err)
	default:
		return conerrors.Unavailable(service, err)
	}
}

var _ ChatClient = (*OpenAIClient)(nil)
var _ VlmClient = (*OpenAIClient)(nil)
