package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/tfyn/internal/board"
	"github.com/kalambet/tfyn/internal/storage"
)

// --- mock result board ---

type mockResultBoard struct {
	mu        sync.Mutex
	confirmed []board.Task
	updated   map[int64]string
	updateErr error
	dryRun    bool
}

func (m *mockResultBoard) ConfirmedTasks(_ context.Context) ([]board.Task, error) {
	return m.confirmed, nil
}

func (m *mockResultBoard) UpdateTaskWithResults(_ context.Context, taskID int64, results string) (board.Task, error) {
	if m.updateErr != nil {
		return board.Task{}, m.updateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updated == nil {
		m.updated = make(map[int64]string)
	}
	m.updated[taskID] = results
	return board.Task{ID: taskID, Done: true}, nil
}

func (m *mockResultBoard) DryRun() bool { return m.dryRun }

// --- mock researcher ---

type mockResearcher struct {
	mu      sync.Mutex
	queries [][]string
	result  string
	err     error
}

func (m *mockResearcher) Execute(_ context.Context, queries []string) (string, error) {
	m.mu.Lock()
	m.queries = append(m.queries, queries)
	m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if m.result != "" {
		return m.result, nil
	}
	return "Findings for " + strings.Join(queries, " | "), nil
}

// archiveLinkedTask stores a task record already linked to a board task.
func archiveLinkedTask(t *testing.T, store *storage.Store, id string, boardID int64, queriesJSON string) {
	t.Helper()
	rec := storage.TaskRecord{
		ID:          id,
		SourcePath:  "notes/a.md",
		Title:       "Archived " + id,
		Description: "d",
		QueriesJSON: queriesJSON,
	}
	if err := store.ArchiveTasks([]storage.TaskRecord{rec}); err != nil {
		t.Fatalf("ArchiveTasks: %v", err)
	}
	if err := store.LinkBoardTask(id, boardID); err != nil {
		t.Fatalf("LinkBoardTask: %v", err)
	}
}

func TestExecution_ResearchesConfirmedTasks(t *testing.T) {
	store := openTestStore(t)
	archiveLinkedTask(t, store, "t-1", 10, `["query one","query two"]`)

	kanban := &mockResultBoard{confirmed: []board.Task{{ID: 10, Title: "Board task"}}}
	researcher := &mockResearcher{result: "Research findings."}

	p := NewExecution(store, kanban, researcher, nil)
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Confirmed != 1 || res.Executed != 1 || res.Failed != 0 {
		t.Errorf("result = %+v", res)
	}
	if kanban.updated[10] != "Research findings." {
		t.Errorf("board update = %q", kanban.updated[10])
	}

	rec, err := store.GetTaskRecord("t-1")
	if err != nil {
		t.Fatalf("GetTaskRecord: %v", err)
	}
	if rec.Status != storage.TaskStatusDone {
		t.Errorf("Status = %q, want done", rec.Status)
	}
	if rec.Result != "Research findings." {
		t.Errorf("Result = %q", rec.Result)
	}
	if rec.ExecutedAt.IsZero() {
		t.Error("ExecutedAt not set")
	}
}

func TestExecution_QueriesFromArchive(t *testing.T) {
	store := openTestStore(t)
	archiveLinkedTask(t, store, "t-q", 11, `["archived query"]`)

	kanban := &mockResultBoard{confirmed: []board.Task{{ID: 11, Title: "Board title"}}}
	researcher := &mockResearcher{}

	p := NewExecution(store, kanban, researcher, nil)
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(researcher.queries) != 1 || len(researcher.queries[0]) != 1 {
		t.Fatalf("queries = %v", researcher.queries)
	}
	if researcher.queries[0][0] != "archived query" {
		t.Errorf("query = %q, want the archived one", researcher.queries[0][0])
	}
}

func TestExecution_TitleFallbackWithoutRecord(t *testing.T) {
	store := openTestStore(t)

	// Confirmed on the board but never archived here.
	kanban := &mockResultBoard{confirmed: []board.Task{{ID: 99, Title: "Hand-made task"}}}
	researcher := &mockResearcher{}

	p := NewExecution(store, kanban, researcher, nil)
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Executed != 1 {
		t.Errorf("result = %+v", res)
	}
	if researcher.queries[0][0] != "Hand-made task" {
		t.Errorf("query = %q, want board title fallback", researcher.queries[0][0])
	}
	if kanban.updated[99] == "" {
		t.Error("board task should still receive results")
	}
}

func TestExecution_EmptyQueriesFallToTitle(t *testing.T) {
	store := openTestStore(t)
	archiveLinkedTask(t, store, "t-e", 12, `[]`)

	kanban := &mockResultBoard{confirmed: []board.Task{{ID: 12, Title: "No queries archived"}}}
	researcher := &mockResearcher{}

	p := NewExecution(store, kanban, researcher, nil)
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if researcher.queries[0][0] != "No queries archived" {
		t.Errorf("query = %q, want title fallback for empty query list", researcher.queries[0][0])
	}
}

func TestExecution_TaskFailureIsolated(t *testing.T) {
	store := openTestStore(t)
	archiveLinkedTask(t, store, "t-ok", 20, `["fine"]`)
	archiveLinkedTask(t, store, "t-bad", 21, `["doomed"]`)

	kanban := &mockResultBoard{confirmed: []board.Task{
		{ID: 21, Title: "Doomed"},
		{ID: 20, Title: "Fine"},
	}}
	researcher := &mockResearcher{}
	researcher.err = errors.New("search quota exceeded")

	p := NewExecution(store, kanban, researcher, nil)
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Failed != 2 {
		t.Errorf("result = %+v, want both failed while quota lasts", res)
	}

	// Clear the failure and run again: both tasks are still confirmed.
	researcher.err = nil
	res, err = p.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res.Executed != 2 || res.Failed != 0 {
		t.Errorf("second result = %+v", res)
	}
}

func TestExecution_BoardUpdateFailureKeepsRecordPushed(t *testing.T) {
	store := openTestStore(t)
	archiveLinkedTask(t, store, "t-u", 30, `["q"]`)

	kanban := &mockResultBoard{
		confirmed: []board.Task{{ID: 30, Title: "T"}},
		updateErr: errors.New("board down"),
	}

	p := NewExecution(store, kanban, &mockResearcher{}, nil)
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Failed != 1 {
		t.Errorf("result = %+v", res)
	}

	rec, _ := store.GetTaskRecord("t-u")
	if rec.Status != storage.TaskStatusPushed {
		t.Errorf("Status = %q, record must stay pushed for a retry", rec.Status)
	}
}

func TestExecution_DryRunSkipsArchive(t *testing.T) {
	store := openTestStore(t)
	archiveLinkedTask(t, store, "t-d", 40, `["q"]`)

	kanban := &mockResultBoard{
		confirmed: []board.Task{{ID: 40, Title: "T"}},
		dryRun:    true,
	}

	p := NewExecution(store, kanban, &mockResearcher{}, nil)
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Executed != 1 {
		t.Errorf("result = %+v", res)
	}

	rec, _ := store.GetTaskRecord("t-d")
	if rec.Status != storage.TaskStatusPushed {
		t.Errorf("Status = %q, dry run must leave the archive untouched", rec.Status)
	}
	if rec.Result != "" {
		t.Errorf("Result = %q, want empty after dry run", rec.Result)
	}
}

func TestParseQueries(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{`["a","b"]`, 2},
		{`[]`, 0},
		{``, 0},
		{`not json`, 0},
	}
	for _, tc := range cases {
		if got := parseQueries(tc.in); len(got) != tc.want {
			t.Errorf("parseQueries(%q) = %v, want %d items", tc.in, got, tc.want)
		}
	}
}
