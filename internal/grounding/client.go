// Package grounding generates news digests with Gemini and Google Search
// grounding over the public REST API.
//
// A Client is safe for concurrent use. It never retries: a failed call is
// reported to the caller, which counts it as a per-user failure.
package grounding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-digest-backend/internal/domain"
)

// Defaults.
const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"
	DefaultModel   = "gemini-2.5-flash"
	DefaultTimeout = 60 * time.Second

	// EmptyContent replaces a response without text.
	EmptyContent = "Tidak ada konten yang dihasilkan."

	digestTemperature = 0.7
	digestMaxTokens   = 4096
	pingMaxTokens     = 1024

	// Error bodies are clipped before they reach logs or clients.
	maxErrorBody = 2048
)

// Config configures a Client. Zero values take the package defaults.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Client calls models/{model}:generateContent with the google_search tool.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

// New builds a Client. A missing API key is not an error here; every call
// then fails with ErrNotConfigured.
func New(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   cfg.Model,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool { return c.apiKey != "" }

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// ---- wire types ----

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type tool struct {
	GoogleSearch struct{} `json:"google_search"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	Tools            []tool           `json:"tools"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type groundingChunk struct {
	Web *struct {
		URI   string `json:"uri"`
		Title string `json:"title"`
	} `json:"web"`
}

type candidate struct {
	Content           content `json:"content"`
	GroundingMetadata *struct {
		GroundingChunks []groundingChunk `json:"groundingChunks"`
	} `json:"groundingMetadata"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

// Generate produces a digest for topics in lang, optionally steered by
// customPrompt. The title is derived from the first three topics.
func (c *Client) Generate(ctx context.Context, topics []string, lang, customPrompt string) (*domain.DigestContent, error) {
	tr := otel.Tracer("grounding/Client")
	ctx, span := tr.Start(ctx, "Generate",
		trace.WithAttributes(
			attribute.String("gemini.model", c.model),
			attribute.StringSlice("digest.topics", topics),
			attribute.String("digest.language", lang),
		),
	)
	defer span.End()

	if !c.Configured() {
		span.SetStatus(codes.Error, "not configured")
		return nil, ErrNotConfigured
	}
	if lang == "" {
		lang = domain.DefaultLanguage
	}

	temp := digestTemperature
	resp, err := c.call(ctx, BuildPrompt(topics, lang, customPrompt), generationConfig{
		Temperature:     &temp,
		MaxOutputTokens: digestMaxTokens,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate")
		return nil, err
	}

	out := &domain.DigestContent{
		Title:   Title(topics),
		Content: firstText(resp),
		Sources: sources(resp),
	}
	span.SetAttributes(attribute.Int("digest.sources", len(out.Sources)))
	return out, nil
}

// Ping asks a short grounded question to verify key, model, and tool access.
func (c *Client) Ping(ctx context.Context) (*domain.DigestContent, error) {
	tr := otel.Tracer("grounding/Client")
	ctx, span := tr.Start(ctx, "Ping", trace.WithAttributes(attribute.String("gemini.model", c.model)))
	defer span.End()

	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	resp, err := c.call(ctx, pingPrompt, generationConfig{MaxOutputTokens: pingMaxTokens})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ping")
		return nil, err
	}
	text := "No response"
	if t := firstText(resp); t != EmptyContent {
		text = t
	}
	return &domain.DigestContent{Title: "Grounding check", Content: text, Sources: sources(resp)}, nil
}

func (c *Client) call(ctx context.Context, prompt string, gc generationConfig) (*generateResponse, error) {
	body, err := json.Marshal(generateRequest{
		Contents:         []content{{Parts: []part{{Text: prompt}}}},
		Tools:            []tool{{}},
		GenerationConfig: gc,
	})
	if err != nil {
		return nil, &GenerationError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	url := fmt.Sprintf("%s/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &GenerationError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &GenerationError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &GenerationError{
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(raw)),
			Err:    fmt.Errorf("status %d", resp.StatusCode),
		}
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &GenerationError{Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &out, nil
}

func firstText(r *generateResponse) string {
	if len(r.Candidates) == 0 || len(r.Candidates[0].Content.Parts) == 0 {
		return EmptyContent
	}
	if t := r.Candidates[0].Content.Parts[0].Text; t != "" {
		return t
	}
	return EmptyContent
}

// sources keeps grounding chunks that carry both a uri and a title.
func sources(r *generateResponse) []domain.Source {
	out := []domain.Source{}
	if len(r.Candidates) == 0 || r.Candidates[0].GroundingMetadata == nil {
		return out
	}
	for _, ch := range r.Candidates[0].GroundingMetadata.GroundingChunks {
		if ch.Web == nil || ch.Web.URI == "" || ch.Web.Title == "" {
			continue
		}
		out = append(out, domain.Source{Title: ch.Web.Title, URL: ch.Web.URI})
	}
	return out
}
