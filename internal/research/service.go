package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// noResultsMessage is the terminal answer when every fallback comes up empty.
const noResultsMessage = "No results or overview available"

const pageTimeout = 30 * time.Second

// Searcher is the web-search dependency of the service.
type Searcher interface {
	Search(ctx context.Context, query string) (*SearchResponse, error)
}

// Service answers research queries. Per query it prefers the search API's
// AI overview, then the first result's inline content, then readable text
// fetched from the first result's URL.
type Service struct {
	search     Searcher
	httpClient *http.Client
	limit      int
	log        *slog.Logger
}

func NewService(search Searcher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		search:     search,
		httpClient: &http.Client{Timeout: pageTimeout},
		limit:      4,
		log:        log,
	}
}

// Execute researches all queries and assembles one result document in query
// order. A single query's answer is returned bare; multiple answers are
// joined under per-query headings.
func (s *Service) Execute(ctx context.Context, queries []string) (string, error) {
	if len(queries) == 0 {
		return "", errors.New("no queries to research")
	}

	answers := make([]string, len(queries))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit) // Bound concurrency to stay inside API rate limits.

	for i, query := range queries {
		i, query := i, query
		g.Go(func() error {
			answer, err := s.answer(gCtx, query)
			if err != nil {
				return fmt.Errorf("researching %q: %w", query, err)
			}
			answers[i] = answer
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return "", err
	}

	if len(answers) == 1 {
		return answers[0], nil
	}

	var b strings.Builder
	for i, query := range queries {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n\n%s", query, answers[i])
	}
	return b.String(), nil
}

func (s *Service) answer(ctx context.Context, query string) (string, error) {
	resp, err := s.search.Search(ctx, query)
	if err != nil {
		return "", err
	}

	if overview := strings.TrimSpace(resp.AIOverview); overview != "" {
		return overview, nil
	}
	if len(resp.Results) == 0 {
		return noResultsMessage, nil
	}

	first := resp.Results[0]
	if content := strings.TrimSpace(first.Content); content != "" {
		return content, nil
	}

	if first.URL != "" {
		text, err := s.fetchPageText(ctx, first.URL)
		if err != nil {
			s.log.Warn("page text fallback failed", "url", first.URL, "error", err)
		} else if text != "" {
			return text, nil
		}
	}
	return noResultsMessage, nil
}
