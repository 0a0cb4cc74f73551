package engine

import (
	"context"
	"io"

	"github.com/kalambet/tfyn/internal/extract"
	"github.com/kalambet/tfyn/internal/ollama"
)

// OllamaEngine serves extraction chat through a local Ollama instance.
type OllamaEngine struct {
	client *ollama.Client
	model  string
}

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at
// baseURL, bound to the given model.
func NewOllamaEngine(baseURL, model string) *OllamaEngine {
	return &OllamaEngine{client: ollama.New(baseURL), model: model}
}

// Chat converts the thread to Ollama wire form and sends it with sampling
// pinned to temperature zero so repeated runs over a note converge.
func (e *OllamaEngine) Chat(ctx context.Context, messages []extract.Message, jsonMode bool) (string, error) {
	msgs := make([]ollama.Message, len(messages))
	for i, m := range messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}

	var format any
	if jsonMode {
		format = ollama.FormatJSON
	}
	temp := 0.0
	return e.client.Chat(ctx, e.model, msgs, format, &ollama.ChatOptions{Temperature: &temp})
}

func (e *OllamaEngine) Name() string { return BackendOllama }

func (e *OllamaEngine) Model() string { return e.model }

func (e *OllamaEngine) IsReady(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) ListModels(ctx context.Context) ([]string, error) {
	return e.client.ListModels(ctx)
}

func (e *OllamaEngine) EnsureReady(ctx context.Context, w io.Writer) error {
	return ollama.EnsureReady(ctx, e.client, e.model, w)
}
