package storage

import (
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

// TestIndexesExist verifies that indexes on the tasks and jobs tables are created by the migrations.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_tasks_source_path", "idx_tasks_status", "idx_tasks_board_task_id", "idx_jobs_status_run_after"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

// TestRecordProcessedRoundTrip records a processed file and reads it back.
func TestRecordProcessedRoundTrip(t *testing.T) {
	s := openTestStore(t)

	modified := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	processed := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	f := ProcessedFile{
		Path:          "notes/plan.md",
		LastModified:  modified,
		LastProcessed: processed,
		TaskCount:     3,
	}
	if err := s.RecordProcessed(f); err != nil {
		t.Fatalf("RecordProcessed: %v", err)
	}

	got, err := s.LastProcessedTime("notes/plan.md")
	if err != nil {
		t.Fatalf("LastProcessedTime: %v", err)
	}
	if !got.Equal(processed) {
		t.Errorf("LastProcessedTime = %v, want %v", got, processed)
	}

	files, err := s.ListProcessedFiles(10)
	if err != nil {
		t.Fatalf("ListProcessedFiles: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("got %d files, want 1", len(files))
	}
	if !files[0].LastModified.Equal(modified) {
		t.Errorf("LastModified = %v, want %v", files[0].LastModified, modified)
	}
	if files[0].TaskCount != 3 {
		t.Errorf("TaskCount = %d, want 3", files[0].TaskCount)
	}
}

// TestRecordProcessed_Overwrite verifies a second record for the same path replaces the first.
func TestRecordProcessed_Overwrite(t *testing.T) {
	s := openTestStore(t)

	first := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	second := first.Add(2 * time.Hour)

	if err := s.RecordProcessed(ProcessedFile{Path: "notes/plan.md", LastModified: first, LastProcessed: first}); err != nil {
		t.Fatalf("RecordProcessed (first): %v", err)
	}
	if err := s.RecordProcessed(ProcessedFile{Path: "notes/plan.md", LastModified: second, LastProcessed: second, TaskCount: 2}); err != nil {
		t.Fatalf("RecordProcessed (second): %v", err)
	}

	got, err := s.LastProcessedTime("notes/plan.md")
	if err != nil {
		t.Fatalf("LastProcessedTime: %v", err)
	}
	if !got.Equal(second) {
		t.Errorf("LastProcessedTime = %v, want %v", got, second)
	}
}

// TestRecordProcessed_DefaultsProcessedTime verifies a zero LastProcessed is filled with now.
func TestRecordProcessed_DefaultsProcessedTime(t *testing.T) {
	s := openTestStore(t)

	before := time.Now().UTC().Add(-time.Second)
	if err := s.RecordProcessed(ProcessedFile{Path: "notes/plan.md", LastModified: before}); err != nil {
		t.Fatalf("RecordProcessed: %v", err)
	}

	got, err := s.LastProcessedTime("notes/plan.md")
	if err != nil {
		t.Fatalf("LastProcessedTime: %v", err)
	}
	if got.Before(before) {
		t.Errorf("LastProcessedTime = %v, want >= %v", got, before)
	}
}

// TestLastProcessedTimeNotFound verifies an unseen path returns ErrNotFound.
func TestLastProcessedTimeNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.LastProcessedTime("notes/never-seen.md")
	if err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// TestListProcessedFiles records 10 files and verifies limit and descending order.
func TestListProcessedFiles(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for j := 0; j < 10; j++ {
		f := ProcessedFile{
			Path:          fmt.Sprintf("notes/file-%02d.md", j),
			LastModified:  base.Add(time.Duration(j) * time.Hour),
			LastProcessed: base.Add(time.Duration(j) * time.Hour),
		}
		if err := s.RecordProcessed(f); err != nil {
			t.Fatalf("RecordProcessed %d: %v", j, err)
		}
	}

	got, err := s.ListProcessedFiles(5)
	if err != nil {
		t.Fatalf("ListProcessedFiles: %v", err)
	}

	if len(got) != 5 {
		t.Fatalf("got %d files, want 5", len(got))
	}

	// Verify descending order by last_processed.
	for k := 1; k < len(got); k++ {
		if got[k].LastProcessed.After(got[k-1].LastProcessed) {
			t.Errorf("not in descending order: [%d]=%v > [%d]=%v", k, got[k].LastProcessed, k-1, got[k-1].LastProcessed)
		}
	}

	// The most recent should be file-09.
	if got[0].Path != "notes/file-09.md" {
		t.Errorf("first result path = %q, want %q", got[0].Path, "notes/file-09.md")
	}
}

// TestArchiveAndGetTask archives a task record and retrieves it by ID.
func TestArchiveAndGetTask(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	want := TaskRecord{
		ID:              "task-001",
		SourcePath:      "notes/roadmap.md",
		Title:           "Ship the beta",
		Description:     "Cut a beta release and send invites.",
		Priority:        "high",
		EstimatedEffort: "2 days",
		QueriesJSON:     `["beta release checklist"]`,
		Status:          TaskStatusExtracted,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.ArchiveTasks([]TaskRecord{want}); err != nil {
		t.Fatalf("ArchiveTasks: %v", err)
	}

	got, err := s.GetTaskRecord("task-001")
	if err != nil {
		t.Fatalf("GetTaskRecord: %v", err)
	}

	if got.ID != want.ID {
		t.Errorf("ID = %q, want %q", got.ID, want.ID)
	}
	if got.SourcePath != want.SourcePath {
		t.Errorf("SourcePath = %q, want %q", got.SourcePath, want.SourcePath)
	}
	if got.Title != want.Title {
		t.Errorf("Title = %q, want %q", got.Title, want.Title)
	}
	if got.Description != want.Description {
		t.Errorf("Description = %q, want %q", got.Description, want.Description)
	}
	if got.Priority != want.Priority {
		t.Errorf("Priority = %q, want %q", got.Priority, want.Priority)
	}
	if got.EstimatedEffort != want.EstimatedEffort {
		t.Errorf("EstimatedEffort = %q, want %q", got.EstimatedEffort, want.EstimatedEffort)
	}
	if got.QueriesJSON != want.QueriesJSON {
		t.Errorf("QueriesJSON = %q, want %q", got.QueriesJSON, want.QueriesJSON)
	}
	if got.Status != want.Status {
		t.Errorf("Status = %q, want %q", got.Status, want.Status)
	}
	if got.BoardTaskID != 0 {
		t.Errorf("BoardTaskID = %d, want 0", got.BoardTaskID)
	}
	if got.Result != "" {
		t.Errorf("Result = %q, want empty", got.Result)
	}
	if !got.ExecutedAt.IsZero() {
		t.Errorf("ExecutedAt = %v, want zero", got.ExecutedAt)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
}

// TestGetTaskRecordNotFound verifies that retrieving a non-existent ID returns ErrNotFound.
func TestGetTaskRecordNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetTaskRecord("does-not-exist")
	if err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// TestArchiveTasks_Defaults archives a minimal record and verifies status and
// queries defaults are filled in.
func TestArchiveTasks_Defaults(t *testing.T) {
	s := openTestStore(t)

	r := TaskRecord{
		ID:          "task-min",
		SourcePath:  "notes/todo.md",
		Title:       "Water plants",
		Description: "The ficus looks thirsty.",
	}
	if err := s.ArchiveTasks([]TaskRecord{r}); err != nil {
		t.Fatalf("ArchiveTasks: %v", err)
	}

	got, err := s.GetTaskRecord("task-min")
	if err != nil {
		t.Fatalf("GetTaskRecord: %v", err)
	}
	if got.Status != TaskStatusExtracted {
		t.Errorf("Status = %q, want %q", got.Status, TaskStatusExtracted)
	}
	if got.QueriesJSON != "[]" {
		t.Errorf("QueriesJSON = %q, want %q", got.QueriesJSON, "[]")
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should default to now, got zero")
	}
}

// TestArchiveTasks_Empty verifies an empty batch is a no-op.
func TestArchiveTasks_Empty(t *testing.T) {
	s := openTestStore(t)

	if err := s.ArchiveTasks(nil); err != nil {
		t.Fatalf("ArchiveTasks(nil): %v", err)
	}
}

// TestListTaskRecords_BySource archives tasks from two notes and filters by source path.
func TestListTaskRecords_BySource(t *testing.T) {
	s := openTestStore(t)

	records := []TaskRecord{
		{ID: "t-a1", SourcePath: "notes/a.md", Title: "A one", Description: "d"},
		{ID: "t-a2", SourcePath: "notes/a.md", Title: "A two", Description: "d"},
		{ID: "t-b1", SourcePath: "notes/b.md", Title: "B one", Description: "d"},
	}
	if err := s.ArchiveTasks(records); err != nil {
		t.Fatalf("ArchiveTasks: %v", err)
	}

	got, err := s.ListTaskRecords("notes/a.md", "", 10)
	if err != nil {
		t.Fatalf("ListTaskRecords: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d tasks, want 2", len(got))
	}
	for _, r := range got {
		if r.SourcePath != "notes/a.md" {
			t.Errorf("SourcePath = %q, want %q", r.SourcePath, "notes/a.md")
		}
	}
}

// TestListTaskRecords_ByStatus filters archived tasks by lifecycle status.
func TestListTaskRecords_ByStatus(t *testing.T) {
	s := openTestStore(t)

	records := []TaskRecord{
		{ID: "t-s1", SourcePath: "notes/a.md", Title: "One", Description: "d"},
		{ID: "t-s2", SourcePath: "notes/a.md", Title: "Two", Description: "d", Status: TaskStatusPushed},
	}
	if err := s.ArchiveTasks(records); err != nil {
		t.Fatalf("ArchiveTasks: %v", err)
	}

	got, err := s.ListTaskRecords("", TaskStatusPushed, 10)
	if err != nil {
		t.Fatalf("ListTaskRecords: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d tasks, want 1", len(got))
	}
	if got[0].ID != "t-s2" {
		t.Errorf("ID = %q, want %q", got[0].ID, "t-s2")
	}
}

// TestListTaskRecords_All verifies empty filters match everything, newest first.
func TestListTaskRecords_All(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for j := 0; j < 3; j++ {
		r := TaskRecord{
			ID:          fmt.Sprintf("t-%02d", j),
			SourcePath:  "notes/a.md",
			Title:       fmt.Sprintf("Task %d", j),
			Description: "d",
			CreatedAt:   base.Add(time.Duration(j) * time.Hour),
			UpdatedAt:   base.Add(time.Duration(j) * time.Hour),
		}
		if err := s.ArchiveTasks([]TaskRecord{r}); err != nil {
			t.Fatalf("ArchiveTasks %d: %v", j, err)
		}
	}

	got, err := s.ListTaskRecords("", "", 2)
	if err != nil {
		t.Fatalf("ListTaskRecords: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d tasks, want 2", len(got))
	}

	// Descending order, most recent first.
	if got[0].ID != "t-02" {
		t.Errorf("first task ID = %q, want %q", got[0].ID, "t-02")
	}
}

// TestSetTaskStatus updates status and verifies the change.
func TestSetTaskStatus(t *testing.T) {
	s := openTestStore(t)

	r := TaskRecord{ID: "t-status", SourcePath: "notes/a.md", Title: "One", Description: "d"}
	if err := s.ArchiveTasks([]TaskRecord{r}); err != nil {
		t.Fatalf("ArchiveTasks: %v", err)
	}

	if err := s.SetTaskStatus("t-status", TaskStatusDone); err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}

	got, err := s.GetTaskRecord("t-status")
	if err != nil {
		t.Fatalf("GetTaskRecord: %v", err)
	}
	if got.Status != TaskStatusDone {
		t.Errorf("Status = %q, want %q", got.Status, TaskStatusDone)
	}
}

// TestSetTaskStatusNotFound verifies updating a missing task returns ErrNotFound.
func TestSetTaskStatusNotFound(t *testing.T) {
	s := openTestStore(t)

	err := s.SetTaskStatus("does-not-exist", TaskStatusDone)
	if err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// TestLinkBoardTask sets the board task ID and moves the record to pushed.
func TestLinkBoardTask(t *testing.T) {
	s := openTestStore(t)

	r := TaskRecord{ID: "t-link", SourcePath: "notes/a.md", Title: "One", Description: "d"}
	if err := s.ArchiveTasks([]TaskRecord{r}); err != nil {
		t.Fatalf("ArchiveTasks: %v", err)
	}

	if err := s.LinkBoardTask("t-link", 42); err != nil {
		t.Fatalf("LinkBoardTask: %v", err)
	}

	got, err := s.GetTaskRecord("t-link")
	if err != nil {
		t.Fatalf("GetTaskRecord: %v", err)
	}
	if got.BoardTaskID != 42 {
		t.Errorf("BoardTaskID = %d, want 42", got.BoardTaskID)
	}
	if got.Status != TaskStatusPushed {
		t.Errorf("Status = %q, want %q", got.Status, TaskStatusPushed)
	}
}

func TestTaskByBoardID(t *testing.T) {
	s := openTestStore(t)

	records := []TaskRecord{
		{ID: "t-b1", SourcePath: "notes/a.md", Title: "Linked", Description: "d"},
		{ID: "t-b2", SourcePath: "notes/a.md", Title: "Unpushed", Description: "d"},
	}
	if err := s.ArchiveTasks(records); err != nil {
		t.Fatalf("ArchiveTasks: %v", err)
	}
	if err := s.LinkBoardTask("t-b1", 77); err != nil {
		t.Fatalf("LinkBoardTask: %v", err)
	}

	got, err := s.TaskByBoardID(77)
	if err != nil {
		t.Fatalf("TaskByBoardID: %v", err)
	}
	if got.ID != "t-b1" {
		t.Errorf("ID = %q, want t-b1", got.ID)
	}

	if _, err := s.TaskByBoardID(12345); err != ErrNotFound {
		t.Errorf("unknown board id: err = %v, want ErrNotFound", err)
	}

	// board_task_id 0 is the unpushed default, never a valid lookup.
	if _, err := s.TaskByBoardID(0); err != ErrNotFound {
		t.Errorf("zero board id: err = %v, want ErrNotFound", err)
	}
}

// TestRecordExecution stores a research result and moves the task to done.
func TestRecordExecution(t *testing.T) {
	s := openTestStore(t)

	r := TaskRecord{ID: "t-exec", SourcePath: "notes/a.md", Title: "One", Description: "d"}
	if err := s.ArchiveTasks([]TaskRecord{r}); err != nil {
		t.Fatalf("ArchiveTasks: %v", err)
	}

	at := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	if err := s.RecordExecution("t-exec", "Findings: the library supports it.", at); err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}

	got, err := s.GetTaskRecord("t-exec")
	if err != nil {
		t.Fatalf("GetTaskRecord: %v", err)
	}
	if got.Result != "Findings: the library supports it." {
		t.Errorf("Result = %q, want %q", got.Result, "Findings: the library supports it.")
	}
	if !got.ExecutedAt.Equal(at) {
		t.Errorf("ExecutedAt = %v, want %v", got.ExecutedAt, at)
	}
	if got.Status != TaskStatusDone {
		t.Errorf("Status = %q, want %q", got.Status, TaskStatusDone)
	}
}

// TestRecordExecutionNotFound verifies recording against a missing task returns ErrNotFound.
func TestRecordExecutionNotFound(t *testing.T) {
	s := openTestStore(t)

	err := s.RecordExecution("does-not-exist", "r", time.Now().UTC())
	if err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// TestProfileKeyRoundTrip sets a key and gets it back.
func TestProfileKeyRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetProfileKey("language", "Go"); err != nil {
		t.Fatalf("SetProfileKey: %v", err)
	}

	val, err := s.GetProfileKey("language")
	if err != nil {
		t.Fatalf("GetProfileKey: %v", err)
	}
	if val != "Go" {
		t.Errorf("value = %q, want %q", val, "Go")
	}

	// Overwrite and verify upsert works.
	if err := s.SetProfileKey("language", "Rust"); err != nil {
		t.Fatalf("SetProfileKey (overwrite): %v", err)
	}
	val, err = s.GetProfileKey("language")
	if err != nil {
		t.Fatalf("GetProfileKey (overwrite): %v", err)
	}
	if val != "Rust" {
		t.Errorf("value = %q, want %q", val, "Rust")
	}
}

// TestGetProfileKeyNotFound verifies a missing key returns ErrNotFound.
func TestGetProfileKeyNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetProfileKey("missing")
	if err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// TestGetAllProfileKeys sets 5 keys and verifies GetAllProfileKeys returns all 5.
func TestGetAllProfileKeys(t *testing.T) {
	s := openTestStore(t)

	keys := map[string]string{
		"name":     "Alice",
		"role":     "Researcher",
		"focus":    "distributed systems",
		"editor":   "Neovim",
		"timezone": "UTC",
	}
	for k, v := range keys {
		if err := s.SetProfileKey(k, v); err != nil {
			t.Fatalf("SetProfileKey(%q): %v", k, err)
		}
	}

	got, err := s.GetAllProfileKeys()
	if err != nil {
		t.Fatalf("GetAllProfileKeys: %v", err)
	}

	if len(got) != 5 {
		t.Fatalf("got %d keys, want 5", len(got))
	}
	for k, want := range keys {
		if got[k] != want {
			t.Errorf("key %q = %q, want %q", k, got[k], want)
		}
	}
}

// TestJobsTableExists verifies the jobs table is created by migration and supports round-trip.
func TestJobsTableExists(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j1", Type: "extract", PayloadJSON: `{"path":"notes/a.md"}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	var id, typ, payload, status string
	var attempts, maxAttempts int
	err := s.db.QueryRow(`SELECT id, type, payload_json, status, attempts, max_attempts FROM jobs WHERE id = 'j1'`).
		Scan(&id, &typ, &payload, &status, &attempts, &maxAttempts)
	if err != nil {
		t.Fatalf("SELECT from jobs: %v", err)
	}

	if id != "j1" {
		t.Errorf("id = %q, want %q", id, "j1")
	}
	if typ != "extract" {
		t.Errorf("type = %q, want %q", typ, "extract")
	}
	if payload != `{"path":"notes/a.md"}` {
		t.Errorf("payload_json = %q, want %q", payload, `{"path":"notes/a.md"}`)
	}
	if status != "pending" {
		t.Errorf("status = %q, want %q", status, "pending")
	}
	if attempts != 0 {
		t.Errorf("attempts = %d, want 0", attempts)
	}
	if maxAttempts != 3 {
		t.Errorf("max_attempts = %d, want 3", maxAttempts)
	}
}

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)

	job := Job{
		ID:          "j-claim-1",
		Type:        "extract",
		PayloadJSON: `{"path":"notes/a.md"}`,
	}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"extract"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.ID != "j-claim-1" {
		t.Errorf("ID = %q, want %q", got.ID, "j-claim-1")
	}
	if got.Type != "extract" {
		t.Errorf("Type = %q, want %q", got.Type, "extract")
	}
	if got.PayloadJSON != `{"path":"notes/a.md"}` {
		t.Errorf("PayloadJSON = %q, want %q", got.PayloadJSON, `{"path":"notes/a.md"}`)
	}
	if got.Status != "running" {
		t.Errorf("Status = %q, want %q", got.Status, "running")
	}
	if got.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", got.MaxAttempts)
	}
}

func TestEnqueueJobOnce_Deduplicates(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: "j-once", Type: "extract", PayloadJSON: `{"path":"notes/a.md"}`}

	created, err := s.EnqueueJobOnce(job)
	if err != nil {
		t.Fatalf("EnqueueJobOnce: %v", err)
	}
	if !created {
		t.Fatal("first enqueue should create the job")
	}

	created, err = s.EnqueueJobOnce(job)
	if err != nil {
		t.Fatalf("EnqueueJobOnce repeat: %v", err)
	}
	if created {
		t.Error("repeated enqueue with the same ID should be ignored")
	}

	var count int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM jobs WHERE id = 'j-once'`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("job rows = %d, want 1", count)
	}
}

func TestClaimNextJob_Empty(t *testing.T) {
	s := openTestStore(t)

	got, err := s.ClaimNextJob([]string{"extract"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestClaimNextJob_RespectRunAfter(t *testing.T) {
	s := openTestStore(t)

	job := Job{
		ID:          "j-future",
		Type:        "extract",
		PayloadJSON: `{}`,
		RunAfter:    time.Now().UTC().Add(1 * time.Hour),
	}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"extract"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for future run_after, got %+v", got)
	}
}

func TestClaimNextJob_TypeFilter(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-a", Type: "a", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob a: %v", err)
	}
	if err := s.EnqueueJob(Job{ID: "j-b", Type: "b", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob b: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"a"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.Type != "a" {
		t.Errorf("Type = %q, want %q", got.Type, "a")
	}
}

func TestClaimNextJob_SkipsRunning(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-first", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob first: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob first: %v", err)
	}

	if err := s.EnqueueJob(Job{ID: "j-second", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob second: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"x"})
	if err != nil {
		t.Fatalf("ClaimNextJob second: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.ID != "j-second" {
		t.Errorf("ID = %q, want %q", got.ID, "j-second")
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-complete", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.CompleteJob("j-complete"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	var status string
	if err := s.db.QueryRow(`SELECT status FROM jobs WHERE id = 'j-complete'`).Scan(&status); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if status != "completed" {
		t.Errorf("status = %q, want %q", status, "completed")
	}
}

func TestFailJob_IncrementsAttempts(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-fail-inc", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.FailJob("j-fail-inc", "something broke"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var status, lastError string
	var attempts int
	if err := s.db.QueryRow(`SELECT status, attempts, last_error FROM jobs WHERE id = 'j-fail-inc'`).Scan(&status, &attempts, &lastError); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if status != "pending" {
		t.Errorf("status = %q, want %q", status, "pending")
	}
	if lastError != "something broke" {
		t.Errorf("last_error = %q, want %q", lastError, "something broke")
	}
}

func TestFailJob_MaxAttemptsReached(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-fail-max", Type: "x", PayloadJSON: `{}`, MaxAttempts: 1}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.FailJob("j-fail-max", "fatal"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var status string
	if err := s.db.QueryRow(`SELECT status FROM jobs WHERE id = 'j-fail-max'`).Scan(&status); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if status != "failed" {
		t.Errorf("status = %q, want %q", status, "failed")
	}
}

func TestFailJob_SetsBackoff(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-backoff", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	before := time.Now().UTC()
	if err := s.FailJob("j-backoff", "retry"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var runAfterStr string
	if err := s.db.QueryRow(`SELECT run_after FROM jobs WHERE id = 'j-backoff'`).Scan(&runAfterStr); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	runAfter, err := time.Parse(time.RFC3339, runAfterStr)
	if err != nil {
		t.Fatalf("parsing run_after: %v", err)
	}
	if !runAfter.After(before) {
		t.Errorf("run_after %v should be after %v", runAfter, before)
	}
}
