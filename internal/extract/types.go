// Package extract turns raw note content into structured research tasks by
// prompting a language model chunk by chunk and parsing its free-form
// responses. It owns the chunking policy, the prompt templates, the tolerant
// response parsers, and the retry orchestration; everything else (file
// scanning, the task board, persistence) talks to it through small
// interfaces.
package extract

import (
	"context"
	"errors"
)

// Role values for prompt thread messages.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one role-tagged entry in a prompt thread.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Task is one actionable item recovered from a model response. Title and
// Description are always non-empty on records returned to callers;
// WebSearchQueries is only populated by the research parser.
type Task struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Priority         string   `json:"priority"`
	EstimatedEffort  string   `json:"estimated_effort"`
	WebSearchQueries []string `json:"web_search_queries,omitempty"`
}

// Chatter is the single model operation the extractor depends on: send a
// conversation, get one response string back.
type Chatter interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// ResponseParser turns one raw model response into task records. An empty
// slice with a nil error means the model found nothing; a non-nil error
// means the response could not be understood.
type ResponseParser interface {
	Parse(response string) ([]Task, error)
}

// TaskExtractor is the capability consumed by the pipelines: extract tasks
// from one unit of content with its origin metadata.
type TaskExtractor interface {
	ExtractTasks(ctx context.Context, content string, meta map[string]any) ([]Task, error)
}

// ErrUnparsable reports a model response whose structured payload could not
// be decoded even after cleanup.
var ErrUnparsable = errors.New("unparsable model response")
