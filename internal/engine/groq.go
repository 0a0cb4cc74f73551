package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/kalambet/tfyn/internal/extract"
	"github.com/kalambet/tfyn/internal/groq"
)

// GroqEngine serves extraction chat through the hosted Groq API.
type GroqEngine struct {
	client *groq.Client
	model  string
}

// NewGroqEngine creates a GroqEngine bound to the given model.
func NewGroqEngine(apiKey, model string) *GroqEngine {
	return &GroqEngine{client: groq.NewClient(apiKey), model: model}
}

// NewGroqEngineWithBaseURL creates a GroqEngine against a custom API base
// URL (for testing).
func NewGroqEngineWithBaseURL(apiKey, baseURL, model string) *GroqEngine {
	return &GroqEngine{client: groq.NewClientWithBaseURL(apiKey, baseURL), model: model}
}

func (e *GroqEngine) Chat(ctx context.Context, messages []extract.Message, jsonMode bool) (string, error) {
	msgs := make([]groq.Message, len(messages))
	for i, m := range messages {
		msgs[i] = groq.Message{Role: m.Role, Content: m.Content}
	}

	var format *groq.ResponseFormat
	if jsonMode {
		format = groq.JSONObject
	}
	return e.client.Chat(ctx, e.model, msgs, format)
}

func (e *GroqEngine) Name() string { return BackendGroq }

func (e *GroqEngine) Model() string { return e.model }

func (e *GroqEngine) IsReady(ctx context.Context) bool {
	return e.client.IsReachable(ctx)
}

func (e *GroqEngine) ListModels(ctx context.Context) ([]string, error) {
	models, err := e.client.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.ID
	}
	return names, nil
}

// EnsureReady verifies the API answers with the configured key. There is
// nothing to pull or warm on a hosted backend; a model missing from the
// account's list is reported but not fatal since availability varies.
func (e *GroqEngine) EnsureReady(ctx context.Context, w io.Writer) error {
	models, err := e.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("groq API is not reachable: %w", err)
	}

	for _, m := range models {
		if m.ID == e.model {
			fmt.Fprintf(w, "model %s: ready\n", e.model)
			return nil
		}
	}
	fmt.Fprintf(w, "model %s: not in the account model list, requests may fail\n", e.model)
	return nil
}
