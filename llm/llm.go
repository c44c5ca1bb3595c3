// Package llm streams text from a generation backend.
//
// Two backends are supported: Gemini through the genai SDK, and any
// OpenAI-compatible /v1/chat/completions server (OpenAI, vLLM, Ollama) read
// as server-sent events. Both are exposed as a lazy iter.Seq2 of text
// chunks.
//
// Usage:
//
//	b, err := llm.New(llm.Config{Provider: llm.ProviderGemini}, apiKey)
//	for chunk, err := range b.Stream(ctx, llm.Request{Model: "gemini-2.5-pro", Prompt: p}) {
//	    ...
//	}
package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"
)

// Providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// ErrNoAPIKey is returned when a backend is requested without a credential.
var ErrNoAPIKey = errors.New("llm: no API key")

// Request is one streaming generation call.
type Request struct {
	Model             string
	Prompt            string
	SystemInstruction string
	Temperature       float64
	TopP              float64
	TopK              int
}

// Backend streams generated text.
type Backend interface {
	// Stream starts the request lazily when the sequence is ranged over. It
	// yields text chunks in arrival order; a failure is yielded once as the
	// last value.
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]

	// Name identifies the backend in logs.
	Name() string
}

// Config configures backend clients.
type Config struct {
	// Provider is "gemini" (default) or "openai".
	Provider string `json:"provider" yaml:"provider"`

	// Endpoint is the API base URL. Defaults to the public Gemini API, or
	// http://localhost:11434 for "openai".
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Timeout bounds a whole streamed response. Default: 5m.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// MaxErrorBody caps how much of a failed response is read. Default: 4096.
	MaxErrorBody int64 `json:"max_error_body" yaml:"max_error_body"`

	// Logger defaults to slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.Provider == "" {
		c.Provider = ProviderGemini
	}
	if c.Endpoint == "" {
		switch c.Provider {
		case ProviderOpenAI:
			c.Endpoint = "http://localhost:11434"
		default:
			c.Endpoint = "https://generativelanguage.googleapis.com"
		}
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.MaxErrorBody <= 0 {
		c.MaxErrorBody = 4096
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New returns a backend for cfg.Provider authenticated with apiKey.
func New(cfg Config, apiKey string) (Backend, error) {
	cfg.defaults()
	switch cfg.Provider {
	case ProviderGemini:
		if apiKey == "" {
			return nil, ErrNoAPIKey
		}
		return newGeminiClient(cfg, apiKey)
	case ProviderOpenAI:
		// Local OpenAI-compatible servers usually run without a key.
		return newOpenAIClient(cfg, apiKey), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

// RequestError reports a failed backend call.
type RequestError struct {
	Status  int // HTTP status, 0 when the request never got a response
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	var b strings.Builder
	b.WriteString("llm: ")
	if e.Status != 0 {
		fmt.Fprintf(&b, "HTTP %d", e.Status)
		if e.Message != "" {
			b.WriteString(": ")
		}
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		if e.Status != 0 || e.Message != "" {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *RequestError) Unwrap() error { return e.Err }

// IsAuth reports whether the failure looks like a credential problem.
func (e *RequestError) IsAuth() bool {
	return e.Status == 401 || e.Status == 403 || strings.Contains(e.Message, "API key")
}

// IsAuthError reports whether err wraps a credential-related RequestError.
func IsAuthError(err error) bool {
	var re *RequestError
	return errors.As(err, &re) && re.IsAuth()
}

// Model is one selectable model.
type Model struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// DefaultModel is used when a request names no model.
const DefaultModel = "gemini-2.5-pro"

var models = []Model{
	{ID: "gemini-2.5-pro", Label: "Gemini 2.5 Pro", Description: "Most capable model for complex tasks."},
	{ID: "gemini-2.5-flash", Label: "Gemini 2.5 Flash", Description: "Fast and efficient for general tasks."},
	{ID: "gemini-flash-latest", Label: "Gemini Flash (Latest)", Description: "The latest version of the Flash model."},
}

// Models returns the selectable model catalogue.
func Models() []Model {
	out := make([]Model, len(models))
	copy(out, models)
	return out
}
