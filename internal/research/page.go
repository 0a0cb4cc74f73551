package research

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// maxPageChars caps extracted page text so a board description stays readable.
const maxPageChars = 2000

// fetchPageText downloads a page and extracts its readable text.
func (s *Service) fetchPageText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating page request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("page returned %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parsing page: %w", err)
	}

	text := extractText(doc)
	if len(text) > maxPageChars {
		// Ensure we don't split a multi-byte UTF-8 character.
		end := maxPageChars
		for end > 0 && !utf8.RuneStart(text[end]) {
			end--
		}
		if idx := strings.LastIndex(text[:end], " "); idx > 0 {
			text = text[:idx]
		} else {
			text = text[:end]
		}
		text += "..."
	}
	return text, nil
}

// extractText collects visible text nodes, skipping script-like elements,
// and collapses runs of whitespace.
func extractText(doc *html.Node) string {
	var parts []string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "head":
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}
