package research

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSearch_RequestShape(t *testing.T) {
	var gotPath, gotMethod, gotKey string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotKey = r.Header.Get("x-api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		json.NewEncoder(w).Encode(SearchResponse{Success: true, Query: "go generics"})
	}))
	defer server.Close()

	c := NewClientWithBaseURL("sk-test", server.URL)
	if _, err := c.Search(context.Background(), "go generics"); err != nil {
		t.Fatalf("Search: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %q, want POST", gotMethod)
	}
	if gotPath != "/v1/web/search" {
		t.Errorf("path = %q, want %q", gotPath, "/v1/web/search")
	}
	if gotKey != "sk-test" {
		t.Errorf("x-api-key = %q, want %q", gotKey, "sk-test")
	}
	if gotBody["query"] != "go generics" {
		t.Errorf("query = %v, want %q", gotBody["query"], "go generics")
	}
	if gotBody["ai_overview"] != true {
		t.Errorf("ai_overview = %v, want true", gotBody["ai_overview"])
	}
}

func TestSearch_ParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(SearchResponse{
			Success:    true,
			AIOverview: "Generics arrived in Go 1.18.",
			Results: []SearchResult{
				{Title: "Go blog", URL: "https://go.dev/blog", Content: "body text"},
			},
		})
	}))
	defer server.Close()

	c := NewClientWithBaseURL("k", server.URL)
	got, err := c.Search(context.Background(), "q")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if got.AIOverview != "Generics arrived in Go 1.18." {
		t.Errorf("AIOverview = %q", got.AIOverview)
	}
	if len(got.Results) != 1 || got.Results[0].Title != "Go blog" {
		t.Errorf("Results = %+v", got.Results)
	}
}

func TestSearch_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer server.Close()

	c := NewClientWithBaseURL("k", server.URL)
	_, err := c.Search(context.Background(), "q")
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
	if !strings.Contains(err.Error(), "402") || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("error should carry status and body, got: %v", err)
	}
}

func TestSearch_ReportedFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(SearchResponse{Success: false})
	}))
	defer server.Close()

	c := NewClientWithBaseURL("k", server.URL)
	_, err := c.Search(context.Background(), "doomed query")
	if err == nil {
		t.Fatal("expected error when the API reports failure")
	}
	if !strings.Contains(err.Error(), "doomed query") {
		t.Errorf("error should name the query, got: %v", err)
	}
}
