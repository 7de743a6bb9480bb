package partition

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/ratelimit"
)

// HTTPClient talks to the partition service over HTTP.
type HTTPClient struct {
	baseURL  string
	apiKey   string
	timeout  time.Duration
	poolSize int
	limiter  *ratelimit.Registry
	breaker  *conerrors.CircuitBreaker

	mu        sync.Mutex
	client    *http.Client
	transport *http.Transport
}

// NewHTTPClient builds a client with pooled connections. The limiter may
// be nil, in which case calls are not throttled client-side.
func NewHTTPClient(cfg ClientConfig, limiter *ratelimit.Registry) *HTTPClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultClientConfig().BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultClientConfig().Timeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultClientConfig().PoolSize
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     30 * time.Second,
	}

	return &HTTPClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		timeout:   cfg.Timeout,
		poolSize:  cfg.PoolSize,
		transport: transport,
		// Timeouts come from per-request contexts so cancellation
		// stays responsive.
		client:  &http.Client{Transport: transport},
		limiter: limiter,
		breaker: conerrors.NewCircuitBreaker("partition"),
	}
}

// Analyze submits the PDF and config and returns the structured output.
// Transient failures are retried once with jittered backoff.
func (c *HTTPClient) Analyze(ctx context.Context, pdf []byte, filename string, cfg Config) (*Output, error) {
	if len(pdf) == 0 {
		return nil, conerrors.InvalidInput("empty PDF payload")
	}
	if err := cfg.Validate(); err != nil {
		return nil, conerrors.InvalidInput(err.Error())
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, ratelimit.ServicePartition); err != nil {
			return nil, conerrors.Cancelled(err)
		}
	}

	key := IdempotencyKey(pdf, cfg)
	slog.Debug("partition request",
		"filename", filename,
		"bytes", len(pdf),
		"ocr_strategy", cfg.OCRStrategy,
		"idempotency_key", key[:16])

	start := time.Now()
	out, err := conerrors.RetryWithResult(ctx, conerrors.DefaultRetryConfig(), func() (*Output, error) {
		var analyzed *Output
		breakerErr := c.breaker.Do(func() error {
			var callErr error
			analyzed, callErr = c.analyzeOnce(ctx, pdf, filename, cfg, key)
			return callErr
		})
		return analyzed, breakerErr
	})
	if err != nil {
		return nil, err
	}

	slog.Info("partition complete",
		"filename", filename,
		"pages", out.PageCount,
		"elements", len(out.Elements),
		"page_images", len(out.PageImages),
		"duration", time.Since(start).Round(time.Millisecond))
	return out, nil
}

func (c *HTTPClient) analyzeOnce(ctx context.Context, pdf []byte, filename string, cfg Config, idemKey string) (*Output, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, contentType, err := buildAnalyzeBody(pdf, filename, cfg)
	if err != nil {
		return nil, conerrors.Internal("failed to encode partition request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/partition", body)
	if err != nil {
		return nil, conerrors.Internal("failed to build partition request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Idempotency-Key", idemKey)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	var wire analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, conerrors.Malformed("partition", err)
	}
	return wire.toOutput()
}

// do executes the request in a goroutine so ctx cancellation takes
// effect immediately, closing in-flight connections rather than waiting
// out the response.
func (c *HTTPClient) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	type result struct {
		resp *http.Response
		err  error
	}
	resultCh := make(chan result, 1)

	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	go func() {
		resp, err := client.Do(req)
		resultCh <- result{resp, err}
	}()

	select {
	case <-ctx.Done():
		c.forceCloseConnections()
		select {
		case <-resultCh:
		case <-time.After(100 * time.Millisecond):
		}
		if ctx.Err() == context.DeadlineExceeded {
			return nil, conerrors.Timeout("partition", c.timeout)
		}
		return nil, conerrors.Cancelled(ctx.Err())
	case r := <-resultCh:
		if r.err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return nil, conerrors.Timeout("partition", c.timeout)
			}
			return nil, conerrors.Unavailable("partition", r.err)
		}
		return r.resp, nil
	}
}

// forceCloseConnections replaces the transport so in-flight reads fail
// instead of blocking shutdown.
func (c *HTTPClient) forceCloseConnections() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.transport.CloseIdleConnections()
	c.transport = &http.Transport{
		MaxIdleConns:        c.poolSize,
		MaxIdleConnsPerHost: c.poolSize,
		MaxConnsPerHost:     c.poolSize * 2,
		IdleConnTimeout:     30 * time.Second,
	}
	c.client = &http.Client{Transport: c.transport}
}

func (c *HTTPClient) statusError(resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(detail))
	if msg == "" {
		msg = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return conerrors.RateLimited("partition")
	case resp.StatusCode >= 500:
		return conerrors.Unavailable("partition", fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return conerrors.New(conerrors.ErrCodePermissionDenied,
			fmt.Sprintf("partition denied request: %s", msg), nil)
	case resp.StatusCode == http.StatusUnprocessableEntity, resp.StatusCode == http.StatusBadRequest:
		return conerrors.InvalidInput(fmt.Sprintf("partition rejected request: %s", msg))
	default:
		return conerrors.Internal(
			fmt.Sprintf("partition returned status %d: %s", resp.StatusCode, msg), nil)
	}
}

// Health probes the service readiness endpoint.
func (c *HTTPClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return conerrors.Internal("failed to build health request", err)
	}

	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	resp, err := client.Do(req)
	if err != nil {
		return conerrors.Unavailable("partition", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return conerrors.Unavailable("partition", fmt.Errorf("health returned status %d", resp.StatusCode))
	}
	return nil
}

// Close releases pooled connections.
func (c *HTTPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport.CloseIdleConnections()
	return nil
}

func buildAnalyzeBody(pdf []byte, filename string, cfg Config) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, "", err
	}
	if err := w.WriteField("config", string(cfgJSON)); err != nil {
		return nil, "", err
	}

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(pdf); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return body, w.FormDataContentType(), nil
}

// Wire types for the partition service response. Images travel base64
// encoded and are decoded into raw PNG bytes here.

type analyzeResponse struct {
	PageCount  int                `json:"page_count"`
	Elements   []elementResponse  `json:"elements"`
	PageImages []pageImageWire    `json:"page_images"`
	Pages      []pageAnalysisWire `json:"pages"`
}

type elementResponse struct {
	ID         string `json:"id"`
	Category   string `json:"category"`
	Text       string `json:"text"`
	PageNumber int    `json:"page_number"`
	HTML       string `json:"html,omitempty"`
	ImageB64   string `json:"image_base64,omitempty"`
}

type pageImageWire struct {
	PageNumber int    `json:"page_number"`
	ImageB64   string `json:"image_base64"`
}

type pageAnalysisWire struct {
	PageNumber      int  `json:"page_number"`
	HasImages       bool `json:"has_images"`
	HasTables       bool `json:"has_tables"`
	HasDrawings     bool `json:"has_drawings"`
	NeedsExtraction bool `json:"needs_extraction"`
}

func (r *analyzeResponse) toOutput() (*Output, error) {
	out := &Output{
		PageCount:  r.PageCount,
		Elements:   make([]Element, 0, len(r.Elements)),
		PageImages: make([]PageImage, 0, len(r.PageImages)),
		Pages:      make([]PageInfo, 0, len(r.Pages)),
	}

	for i, el := range r.Elements {
		e := Element{
			ID:         el.ID,
			Category:   categoryFromString(el.Category),
			Text:       el.Text,
			PageNumber: el.PageNumber,
			HTML:       el.HTML,
		}
		if e.ID == "" {
			e.ID = fmt.Sprintf("element-%d", i)
		}
		if el.ImageB64 != "" {
			png, err := base64.StdEncoding.DecodeString(el.ImageB64)
			if err != nil {
				return nil, conerrors.Malformed("partition", fmt.Errorf("element %s image: %w", e.ID, err))
			}
			e.ImagePNG = png
		}
		out.Elements = append(out.Elements, e)
	}

	for _, pi := range r.PageImages {
		png, err := base64.StdEncoding.DecodeString(pi.ImageB64)
		if err != nil {
			return nil, conerrors.Malformed("partition", fmt.Errorf("page %d image: %w", pi.PageNumber, err))
		}
		out.PageImages = append(out.PageImages, PageImage{PageNumber: pi.PageNumber, PNG: png})
	}

	for _, p := range r.Pages {
		out.Pages = append(out.Pages, PageInfo(p))
	}
	return out, nil
}

var _ Client = (*HTTPClient)(nil)
