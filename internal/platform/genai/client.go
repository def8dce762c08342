// Package genai calls the Gemini generateContent REST endpoint for
// structured JSON output.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/clinote/clinote/internal/platform/apierror"
	"github.com/clinote/clinote/internal/platform/telemetry"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-2.0-flash-exp"

	temperature      = 0.1
	maxResponseBytes = 4 << 20
	maxErrorSnippet  = 512
)

var (
	ErrUpstream      = apierror.New(apierror.CodeUpstream, "failed to generate clinical note, please try again")
	ErrRateLimited   = apierror.New(apierror.CodeRateLimited, "note generation rate limit exceeded, please retry shortly")
	ErrNotConfigured = apierror.New(apierror.CodeUnavailable, "note generation is not configured")
)

// Generator produces a JSON document conforming to schema from prompt.
type Generator interface {
	GenerateJSON(ctx context.Context, prompt string, schema *Schema) ([]byte, error)
}

type Config struct {
	APIKey            string
	Model             string
	BaseURL           string
	RequestsPerMinute int
	Timeout           time.Duration
	HTTPClient        *http.Client
}

type Client struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
	tracer  trace.Tracer

	requests metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
}

func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    cfg.HTTPClient,
		logger:  logger.With().Str("component", "genai").Str("model", cfg.Model).Logger(),
		tracer:  telemetry.Tracer(),
	}
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.RequestsPerMinute / 10
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), burst)
	}

	meter := telemetry.Meter()
	var err error
	if c.requests, err = meter.Int64Counter("genai.request.count",
		metric.WithDescription("Number of generateContent requests")); err != nil {
		return nil, fmt.Errorf("create request counter: %w", err)
	}
	if c.errors, err = meter.Int64Counter("genai.request.errors",
		metric.WithDescription("Number of failed generateContent requests")); err != nil {
		return nil, fmt.Errorf("create error counter: %w", err)
	}
	if c.duration, err = meter.Float64Histogram("genai.request.duration",
		metric.WithDescription("generateContent request duration"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	return c, nil
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType"`
	ResponseSchema   *Schema `json:"responseSchema,omitempty"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// GenerateJSON sends prompt with a JSON response schema and returns the model
// output with any markdown fence removed. Provider failures wrap ErrUpstream.
func (c *Client) GenerateJSON(ctx context.Context, prompt string, schema *Schema) (_ []byte, err error) {
	ctx, span := c.tracer.Start(ctx, "genai.generateContent",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("genai.model", c.model)))
	defer func() { telemetry.RecordError(span, err); span.End() }()

	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrRateLimited
		}
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:      temperature,
			ResponseMimeType: "application/json",
			ResponseSchema:   schema,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode generate request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	start := time.Now()
	status := 0
	defer func() { c.record(ctx, status, time.Since(start), err) }()

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode
	span.SetAttributes(attribute.Int("http.status_code", status))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}
	if status < 200 || status >= 300 {
		c.logger.Warn().Int("status", status).Str("body", snippet(raw)).Msg("generateContent failed")
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, status)
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}
	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("%w: prompt blocked: %s", ErrUpstream, out.PromptFeedback.BlockReason)
	}

	var text strings.Builder
	if len(out.Candidates) > 0 {
		for _, p := range out.Candidates[0].Content.Parts {
			text.WriteString(p.Text)
		}
	}
	cleaned := StripCodeFence(text.String())
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty response", ErrUpstream)
	}
	return []byte(cleaned), nil
}

func (c *Client) record(ctx context.Context, status int, d time.Duration, err error) {
	attrs := []attribute.KeyValue{attribute.String("genai.model", c.model)}
	if status > 0 {
		attrs = append(attrs, attribute.Int("http.status_code", status))
	}
	opt := metric.WithAttributes(attrs...)
	c.requests.Add(ctx, 1, opt)
	c.duration.Record(ctx, float64(d.Milliseconds()), opt)
	if err != nil {
		c.errors.Add(ctx, 1, opt)
	}
}

// StripCodeFence removes a surrounding ``` or ```json markdown fence.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func snippet(b []byte) string {
	if len(b) > maxErrorSnippet {
		b = b[:maxErrorSnippet]
	}
	return string(b)
}

// IsUpstream reports whether err came from the provider.
func IsUpstream(err error) bool {
	return errors.Is(err, ErrUpstream)
}
