// Package chunk splits note content into pieces small enough for a single
// model call. Splitting prefers markdown section and paragraph boundaries,
// then sentence boundaries, and falls back to hard character cuts only when
// a single sentence is longer than the chunk budget.
package chunk

import (
	"strings"
	"unicode/utf8"
)

const defaultMaxSize = 4000

// Splitter produces bounded-size chunks from a content string. Separators
// stay attached to the piece they follow, so concatenating the returned
// chunks reproduces the input exactly; when Overlap is set, the prefix
// repeated from the previous chunk is extra and must be ignored when
// reconstructing.
type Splitter struct {
	MaxSize int
	Overlap int

	markdown bool
}

// New returns a plain paragraph/sentence splitter with no overlap.
// A maxSize <= 0 falls back to the default (4000).
func New(maxSize int) *Splitter {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	return &Splitter{MaxSize: maxSize}
}

// NewMarkdown returns a splitter that prefers heading boundaries ahead of
// plain paragraph gaps and carries overlap bytes from each chunk's tail into
// the head of the next chunk.
func NewMarkdown(maxSize, overlap int) *Splitter {
	s := New(maxSize)
	s.markdown = true
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= s.MaxSize {
		overlap = s.MaxSize / 2
	}
	s.Overlap = overlap
	return s
}

// Split breaks content into chunks of at most MaxSize bytes. Content that
// already fits is returned as a single chunk. The only piece allowed to
// exceed the budget is a single UTF-8 rune wider than the budget itself,
// which is emitted whole.
func (s *Splitter) Split(content string) []string {
	if len(content) <= s.MaxSize {
		return []string{content}
	}

	// Overlap is carried inside the budget so prefixed chunks stay under MaxSize.
	budget := s.MaxSize - s.Overlap

	chain := []splitFunc{paragraphs, sentences}
	if s.markdown {
		chain = []splitFunc{sections, paragraphs, sentences}
	}

	var buf strings.Builder
	chunks := pack(nil, &buf, content, budget, chain)
	chunks = flush(chunks, &buf)

	if s.Overlap > 0 {
		chunks = withOverlap(chunks, s.Overlap)
	}
	return chunks
}

type splitFunc func(string) []string

// pack accumulates units into buf, flushing a chunk whenever the next unit
// would overflow the budget. Units larger than the budget are decomposed by
// the next splitter in the chain; once the chain is exhausted they are
// hard-cut.
func pack(chunks []string, buf *strings.Builder, unit string, budget int, chain []splitFunc) []string {
	if len(unit) <= budget {
		if buf.Len()+len(unit) > budget {
			chunks = flush(chunks, buf)
		}
		buf.WriteString(unit)
		return chunks
	}

	chunks = flush(chunks, buf)
	if len(chain) == 0 {
		return hardCut(chunks, unit, budget)
	}
	for _, sub := range chain[0](unit) {
		chunks = pack(chunks, buf, sub, budget, chain[1:])
	}
	return chunks
}

func flush(chunks []string, buf *strings.Builder) []string {
	if buf.Len() > 0 {
		chunks = append(chunks, buf.String())
		buf.Reset()
	}
	return chunks
}

// hardCut slices s into budget-sized pieces, never splitting inside a rune.
func hardCut(chunks []string, s string, budget int) []string {
	for len(s) > budget {
		cut := budget
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			// A single rune wider than the budget; emit it whole.
			_, cut = utf8.DecodeRuneInString(s)
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}

// withOverlap prefixes every chunk after the first with the tail of its
// predecessor as produced before prefixing.
func withOverlap(chunks []string, overlap int) []string {
	if len(chunks) < 2 {
		return chunks
	}
	out := make([]string, len(chunks))
	out[0] = chunks[0]
	for i := 1; i < len(chunks); i++ {
		out[i] = tail(chunks[i-1], overlap) + chunks[i]
	}
	return out
}

// tail returns the last n bytes of s, moved forward to a rune boundary.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}

func paragraphs(s string) []string { return splitAfter(s, "\n\n") }

func sentences(s string) []string { return splitAfter(s, ". ") }

// splitAfter is strings.SplitAfter without the empty trailing piece produced
// when s ends with sep.
func splitAfter(s, sep string) []string {
	parts := strings.SplitAfter(s, sep)
	if n := len(parts); n > 0 && parts[n-1] == "" {
		parts = parts[:n-1]
	}
	return parts
}

// sections groups lines into markdown sections, starting a new section at
// every ATX heading outside a fenced code block.
func sections(s string) []string {
	var secs []string
	var cur strings.Builder
	inFence := false
	for _, line := range strings.SplitAfter(s, "\n") {
		if line == "" {
			continue
		}
		if strings.HasPrefix(strings.TrimLeft(line, " "), "```") {
			inFence = !inFence
		}
		if !inFence && isHeading(line) && cur.Len() > 0 {
			secs = append(secs, cur.String())
			cur.Reset()
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		secs = append(secs, cur.String())
	}
	return secs
}

func isHeading(line string) bool {
	i := 0
	for i < len(line) && line[i] == '#' {
		i++
	}
	if i == 0 || i > 6 {
		return false
	}
	return i == len(line) || line[i] == ' ' || line[i] == '\t' || line[i] == '\n'
}
