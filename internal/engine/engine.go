// Package engine abstracts the inference backend behind task extraction.
// A local Ollama instance and the hosted Groq API are interchangeable here;
// selection is explicit via configuration or automatic, preferring local.
package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/kalambet/tfyn/internal/extract"
)

// Backend names accepted in configuration.
const (
	BackendOllama = "ollama"
	BackendGroq   = "groq"
	BackendAuto   = "auto"
)

// Engine is one inference backend bound to a model. Consumers build prompt
// threads in extract.Message form and never see backend wire types.
type Engine interface {
	// Chat sends a prompt thread and returns the assistant's response.
	// When jsonMode is true the backend is asked to emit a single JSON value.
	Chat(ctx context.Context, messages []extract.Message, jsonMode bool) (string, error)

	// Name identifies the backend, one of the Backend constants.
	Name() string

	// Model returns the model the engine is bound to.
	Model() string

	// IsReady reports whether the backend can serve chat requests now.
	IsReady(ctx context.Context) bool

	// ListModels returns the model names the backend can serve.
	ListModels(ctx context.Context) ([]string, error)

	// EnsureReady verifies the backend and model are usable, pulling and
	// warming what it can. Progress output is written to w.
	EnsureReady(ctx context.Context, w io.Writer) error
}

// Config holds backend selection parameters.
type Config struct {
	Backend       string
	OllamaBaseURL string
	OllamaModel   string
	GroqAPIKey    string
	GroqModel     string
}

// Select returns the engine the configuration asks for. Backend "auto" (or
// empty) probes the local Ollama instance first and falls back to Groq when
// an API key is configured.
func Select(ctx context.Context, cfg Config) (Engine, error) {
	switch cfg.Backend {
	case BackendOllama:
		return NewOllamaEngine(cfg.OllamaBaseURL, cfg.OllamaModel), nil
	case BackendGroq:
		if cfg.GroqAPIKey == "" {
			return nil, fmt.Errorf("groq backend selected but no API key configured")
		}
		return NewGroqEngine(cfg.GroqAPIKey, cfg.GroqModel), nil
	case BackendAuto, "":
		local := NewOllamaEngine(cfg.OllamaBaseURL, cfg.OllamaModel)
		if local.IsReady(ctx) {
			return local, nil
		}
		if cfg.GroqAPIKey != "" {
			return NewGroqEngine(cfg.GroqAPIKey, cfg.GroqModel), nil
		}
		return nil, fmt.Errorf("no inference backend available: Ollama is not running at %s and no Groq API key is configured", cfg.OllamaBaseURL)
	default:
		return nil, fmt.Errorf("unknown engine backend %q", cfg.Backend)
	}
}

// chatAdapter binds a response mode to an Engine.
type chatAdapter struct {
	eng      Engine
	jsonMode bool
}

// ChatAdapter returns an extract.Chatter that talks to eng. jsonMode should
// be true for flows whose parser expects a bare JSON document and false for
// flows that want prose around a fenced block.
func ChatAdapter(eng Engine, jsonMode bool) extract.Chatter {
	return &chatAdapter{eng: eng, jsonMode: jsonMode}
}

func (a *chatAdapter) Chat(ctx context.Context, messages []extract.Message) (string, error) {
	return a.eng.Chat(ctx, messages, a.jsonMode)
}
