package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/tfyn/internal/extract"
	"github.com/kalambet/tfyn/internal/profile"
	"github.com/kalambet/tfyn/internal/storage"
)

// MCPResearcher abstracts web research for the MCP layer.
type MCPResearcher interface {
	Execute(ctx context.Context, queries []string) (string, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store      *storage.Store
	Profile    *profile.Manager
	Extractor  extract.TaskExtractor
	Researcher MCPResearcher // optional; if nil, run_research returns an error
}

// NewMCPServer creates an MCP server with all tfyn tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"tfyn",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("tfyn — extracts actionable tasks from personal notes and researches them on demand."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("extract_tasks",
			mcp.WithDescription("Extract actionable tasks from a piece of note text."),
			mcp.WithString("content", mcp.Description("The note text to extract tasks from"), mcp.Required()),
			mcp.WithString("context", mcp.Description("Optional JSON object of context fields merged over the owner profile")),
		),
		mcpExtractTasks(deps),
	)

	s.AddTool(
		mcp.NewTool("run_research",
			mcp.WithDescription("Run web research for a set of queries and return a consolidated report."),
			mcp.WithArray("queries", mcp.Description("Search queries to research")),
			mcp.WithString("query", mcp.Description("Single query shorthand, used when queries is absent")),
		),
		mcpRunResearch(deps),
	)

	s.AddTool(
		mcp.NewTool("list_tasks",
			mcp.WithDescription("List archived tasks, optionally filtered by status or source note."),
			mcp.WithString("status", mcp.Description("Filter by status (extracted, pushed, done)")),
			mcp.WithString("source", mcp.Description("Filter by source note path")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
		),
		mcpListTasks(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"tfyn://profile",
			"Owner Profile",
			mcp.WithResourceDescription("Current notebook owner profile as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"tfyn://notes",
			"Processed Notes",
			mcp.WithResourceDescription("Last 10 processed notebook files"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceNotes(deps),
	)

	return s
}

func mcpExtractTasks(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		meta := make(map[string]interface{})
		if deps.Profile != nil {
			if profileCtx, err := deps.Profile.AsContext(); err == nil {
				for k, v := range profileCtx {
					meta[k] = v
				}
			}
		}
		if contextJSON := req.GetString("context", ""); contextJSON != "" {
			var fields map[string]interface{}
			if err := json.Unmarshal([]byte(contextJSON), &fields); err != nil {
				return mcpError(fmt.Sprintf("invalid context JSON: %v", err)), nil
			}
			for k, v := range fields {
				meta[k] = v
			}
		}

		tasks, err := deps.Extractor.ExtractTasks(ctx, content, meta)
		if err != nil {
			return mcpError(fmt.Sprintf("extraction failed: %v", err)), nil
		}

		if len(tasks) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(tasks)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal tasks: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpRunResearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Researcher == nil {
			return mcpError("research not available: no search backend configured"), nil
		}

		queries := req.GetStringSlice("queries", nil)
		if len(queries) == 0 {
			if q := req.GetString("query", ""); q != "" {
				queries = []string{q}
			}
		}
		if len(queries) == 0 {
			return mcpError("queries is required"), nil
		}
		if len(queries) > 10 {
			queries = queries[:10]
		}

		result, err := deps.Researcher.Execute(ctx, queries)
		if err != nil {
			return mcpError(fmt.Sprintf("research failed: %v", err)), nil
		}

		return mcpText(result), nil
	}
}

func mcpListTasks(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status := req.GetString("status", "")
		source := req.GetString("source", "")

		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		records, err := deps.Store.ListTaskRecords(source, status, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list tasks: %v", err)), nil
		}

		if len(records) == 0 {
			return mcpText("[]"), nil
		}

		type taskSummary struct {
			ID          string `json:"id"`
			Title       string `json:"title"`
			Status      string `json:"status"`
			Priority    string `json:"priority"`
			SourcePath  string `json:"source_path"`
			BoardTaskID int64  `json:"board_task_id,omitempty"`
			CreatedAt   string `json:"created_at"`
			Result      string `json:"result,omitempty"`
		}

		summaries := make([]taskSummary, len(records))
		for i, rec := range records {
			result := rec.Result
			if utf8.RuneCountInString(result) > 200 {
				runes := []rune(result)
				result = string(runes[:200]) + "..."
			}
			summaries[i] = taskSummary{
				ID:          rec.ID,
				Title:       rec.Title,
				Status:      rec.Status,
				Priority:    rec.Priority,
				SourcePath:  rec.SourcePath,
				BoardTaskID: rec.BoardTaskID,
				CreatedAt:   rec.CreatedAt.Format(time.RFC3339),
				Result:      result,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal tasks: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		p, err := deps.Profile.GetProfile()
		if err != nil {
			return nil, fmt.Errorf("failed to get profile: %w", err)
		}

		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceNotes(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		files, err := deps.Store.ListProcessedFiles(10)
		if err != nil {
			return nil, fmt.Errorf("failed to list processed notes: %w", err)
		}

		type noteSummary struct {
			Path          string `json:"path"`
			LastProcessed string `json:"last_processed"`
			TaskCount     int    `json:"task_count"`
		}

		summaries := make([]noteSummary, len(files))
		for i, f := range files {
			summaries[i] = noteSummary{
				Path:          f.Path,
				LastProcessed: f.LastProcessed.Format(time.RFC3339),
				TaskCount:     f.TaskCount,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal notes: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
