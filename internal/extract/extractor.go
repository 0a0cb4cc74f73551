package extract

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/kalambet/tfyn/internal/chunk"
)

// Strategy selects how the orchestrator walks the content.
type Strategy string

const (
	// StrategyFlat chunks the content once and fails the whole call on the
	// first chunk that cannot be processed.
	StrategyFlat Strategy = "flat"
	// StrategyHierarchical tries the whole content in one call and halves
	// failing segments for a bounded number of rounds.
	StrategyHierarchical Strategy = "hierarchical"
)

// Extraction defaults.
const (
	DefaultMaxRetries   = 3
	DefaultChunkSize    = 4000
	DefaultChunkOverlap = 200
)

// Options configures an Extractor. Zero values fall back to the standard
// prompt, the strict object parser, the flat strategy, and the default
// chunking numbers.
type Options struct {
	Parser         ResponseParser
	SystemPrompt   string
	ResponseFormat string
	Strategy       Strategy
	MaxRetries     int
	ChunkSize      int
	ChunkOverlap   int
	Logger         *slog.Logger
}

// Extractor drives chunking, per-chunk model invocation, parsing, and
// aggregation. It keeps no state between calls; every call is independent.
type Extractor struct {
	chatter        Chatter
	parser         ResponseParser
	systemPrompt   string
	responseFormat string
	strategy       Strategy
	maxRetries     int
	chunkSize      int
	chunkOverlap   int
	log            *slog.Logger
}

// New creates an Extractor talking to the given model.
func New(chatter Chatter, opts Options) *Extractor {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	parser := opts.Parser
	if parser == nil {
		parser = DefaultParser{Log: log}
	}
	e := &Extractor{
		chatter:        chatter,
		parser:         parser,
		systemPrompt:   opts.SystemPrompt,
		responseFormat: opts.ResponseFormat,
		strategy:       opts.Strategy,
		maxRetries:     opts.MaxRetries,
		chunkSize:      opts.ChunkSize,
		chunkOverlap:   opts.ChunkOverlap,
		log:            log,
	}
	if e.systemPrompt == "" {
		e.systemPrompt = defaultSystemPrompt
	}
	if e.responseFormat == "" {
		e.responseFormat = defaultResponseFormat
	}
	if e.strategy == "" {
		e.strategy = StrategyFlat
	}
	if e.maxRetries <= 0 {
		e.maxRetries = DefaultMaxRetries
	}
	if e.chunkSize <= 0 {
		e.chunkSize = DefaultChunkSize
	}
	if e.chunkOverlap <= 0 {
		e.chunkOverlap = DefaultChunkOverlap
	}
	return e
}

// NewResearch creates an Extractor tuned for web-research task discovery:
// the research prompt, the fenced-block parser, and the hierarchical halving
// strategy. Fields set in opts still win.
func NewResearch(chatter Chatter, opts Options) *Extractor {
	if opts.Parser == nil {
		opts.Parser = ResearchParser{Log: opts.Logger}
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = researchSystemPrompt
	}
	if opts.ResponseFormat == "" {
		opts.ResponseFormat = researchResponseFormat
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyHierarchical
	}
	return New(chatter, opts)
}

// ExtractTasks runs the configured strategy over content. Returned tasks
// preserve chunk order and, within a chunk, the model's emission order. A
// nil error with an empty result means the model found nothing actionable.
// The context metadata is serialized once and shared across all chunks.
func (e *Extractor) ExtractTasks(ctx context.Context, content string, meta map[string]any) ([]Task, error) {
	contextStr := SerializeContext(meta, e.log)
	if e.strategy == StrategyHierarchical {
		return e.extractHierarchical(ctx, content, contextStr)
	}
	return e.extractFlat(ctx, content, contextStr)
}

// extractFlat chunks once and processes every chunk in order. The first
// failing chunk fails the whole call; partial results are never returned,
// silent data loss being worse than an explicit retry by the caller.
func (e *Extractor) extractFlat(ctx context.Context, content, contextStr string) ([]Task, error) {
	chunks := chunk.NewMarkdown(e.chunkSize, e.chunkOverlap).Split(content)
	e.log.Info("split content into markdown chunks", "chunks", len(chunks))

	var all []Task
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.log.Debug("processing chunk", "chunk", i+1, "total", len(chunks), "tokens", EstimateTokens(c))
		tasks, err := e.tryChunk(ctx, c, contextStr)
		if err != nil {
			e.log.Error("chunk extraction failed", "chunk", i+1, "total", len(chunks), "error", err)
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		all = append(all, tasks...)
	}
	return all, nil
}

// extractHierarchical tries the entire content as one call, then halves
// every segment and retries the full set on failure, up to maxRetries
// rounds. Content that is well-formed costs a single large call; oversized
// or troublesome content degrades to smaller calls on demonstrated failure.
func (e *Extractor) extractHierarchical(ctx context.Context, content, contextStr string) ([]Task, error) {
	tasks, err := e.tryChunk(ctx, content, contextStr)
	if err == nil {
		return tasks, nil
	}
	e.log.Warn("whole-content extraction failed, switching to halving", "error", err)

	segments := []string{content}
	lastErr := err
	for round := 1; round <= e.maxRetries; round++ {
		segments = halve(segments)
		e.log.Info("retrying extraction on halved segments", "round", round, "segments", len(segments))

		var all []Task
		failed := false
		for i, seg := range segments {
			tasks, err := e.tryChunk(ctx, seg, contextStr)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				e.log.Warn("segment extraction failed", "round", round, "segment", i+1, "error", err)
				lastErr = err
				failed = true
				break
			}
			all = append(all, tasks...)
		}
		if !failed {
			return all, nil
		}
	}
	return nil, fmt.Errorf("extraction failed after %d halving rounds: %w", e.maxRetries, lastErr)
}

// tryChunk builds the prompt for one piece of content, invokes the model,
// and parses the response.
func (e *Extractor) tryChunk(ctx context.Context, content, contextStr string) ([]Task, error) {
	thread := buildThread(e.systemPrompt, e.responseFormat, contextStr, content)
	raw, err := e.chatter.Chat(ctx, thread)
	if err != nil {
		return nil, fmt.Errorf("invoking model: %w", err)
	}
	e.log.Debug("model response", "response", preview(raw))

	tasks, err := e.parser.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return tasks, nil
}

// halve splits every segment at its byte midpoint, backing off to a rune
// boundary so multi-byte characters stay intact.
func halve(segments []string) []string {
	out := make([]string, 0, len(segments)*2)
	for _, s := range segments {
		mid := len(s) / 2
		for mid > 0 && !utf8.RuneStart(s[mid]) {
			mid--
		}
		out = append(out, s[:mid], s[mid:])
	}
	return out
}
