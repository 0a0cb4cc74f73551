// Package pipeline orchestrates the two end-to-end flows: extracting tasks
// from changed notebook notes onto the board, and executing confirmed board
// tasks through web research. Each flow isolates per-item failures so one
// bad note or task never stops the rest of the run.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/tfyn/internal/board"
	"github.com/kalambet/tfyn/internal/extract"
	"github.com/kalambet/tfyn/internal/notebook"
	"github.com/kalambet/tfyn/internal/storage"
)

// NoteSource provides notebook notes.
type NoteSource interface {
	Scan() ([]notebook.Note, error)
	Load(path string) (notebook.Note, error)
}

// ExtractionStore is the persistence surface the extraction flow needs.
type ExtractionStore interface {
	LastProcessedTime(path string) (time.Time, error)
	RecordProcessed(f storage.ProcessedFile) error
	ArchiveTasks(records []storage.TaskRecord) error
	LinkBoardTask(id string, boardTaskID int64) error
}

// TaskBoard pushes extracted tasks to the kanban board.
type TaskBoard interface {
	CreateTask(ctx context.Context, title, description, priority string) (board.Task, error)
}

// ContextProvider supplies the owner-profile fields merged into every
// extraction context. Implemented by profile.Manager.
type ContextProvider interface {
	AsContext() (map[string]interface{}, error)
}

// ExtractionResult summarizes one extraction run.
type ExtractionResult struct {
	Scanned    int
	Skipped    int
	Processed  int
	Failed     int
	Tasks      int
	PushFailed int
	DurationMs int64
}

// Extraction walks the notebook and turns changed notes into archived,
// board-pushed task records.
type Extraction struct {
	source    NoteSource
	extractor extract.TaskExtractor
	store     ExtractionStore
	board     TaskBoard
	profile   ContextProvider
	force     bool
	log       *slog.Logger
}

// NewExtraction wires the extraction flow. board and profileCtx may be nil:
// without a board, tasks are archived locally only; without a profile, notes
// are extracted on their own metadata.
func NewExtraction(source NoteSource, extractor extract.TaskExtractor, store ExtractionStore, taskBoard TaskBoard, profileCtx ContextProvider, log *slog.Logger) *Extraction {
	if log == nil {
		log = slog.Default()
	}
	return &Extraction{
		source:    source,
		extractor: extractor,
		store:     store,
		board:     taskBoard,
		profile:   profileCtx,
		log:       log,
	}
}

// SetForce makes the next runs re-extract every note regardless of the
// stored processing watermark.
func (p *Extraction) SetForce(force bool) {
	p.force = force
}

// Run scans the notebook and processes every changed note. A note that
// fails is logged and counted; the run continues with the next one.
func (p *Extraction) Run(ctx context.Context) (ExtractionResult, error) {
	start := time.Now()
	notes, err := p.source.Scan()
	if err != nil {
		return ExtractionResult{}, fmt.Errorf("scanning notebook: %w", err)
	}

	res := ExtractionResult{Scanned: len(notes)}
	defer func() {
		res.DurationMs = time.Since(start).Milliseconds()
	}()

	for _, note := range notes {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		outcome, err := p.ProcessNote(ctx, note)
		if err != nil {
			p.log.Error("note extraction failed", "path", note.Path, "error", err)
			res.Failed++
			continue
		}
		if outcome.Skipped {
			res.Skipped++
			continue
		}
		res.Processed++
		res.Tasks += outcome.Tasks
		res.PushFailed += outcome.PushFailed
	}

	p.log.Info("extraction run complete",
		"scanned", res.Scanned,
		"skipped", res.Skipped,
		"processed", res.Processed,
		"failed", res.Failed,
		"tasks", res.Tasks,
	)
	return res, nil
}

// NoteOutcome reports what happened to a single note.
type NoteOutcome struct {
	Skipped    bool
	Tasks      int
	PushFailed int
}

// ProcessNote extracts one note end to end: watermark check, context merge,
// extraction, archive, board push, watermark update. A note that yields zero
// tasks still advances the watermark so it is not re-extracted until it
// changes again.
func (p *Extraction) ProcessNote(ctx context.Context, note notebook.Note) (NoteOutcome, error) {
	// 1. Skip unchanged notes.
	if !p.force {
		last, err := p.store.LastProcessedTime(note.Path)
		switch {
		case err == nil && !last.Before(note.ModTime):
			p.log.Debug("skipping unchanged note", "path", note.RelPath)
			return NoteOutcome{Skipped: true}, nil
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			return NoteOutcome{}, fmt.Errorf("reading watermark: %w", err)
		}
	}

	// 2. Merge owner profile under the note's own metadata.
	meta := make(map[string]interface{}, len(note.Meta))
	if p.profile != nil {
		profileCtx, err := p.profile.AsContext()
		if err != nil {
			p.log.Warn("profile unavailable, extracting without it", "error", err)
		} else {
			for k, v := range profileCtx {
				meta[k] = v
			}
		}
	}
	for k, v := range note.Meta {
		meta[k] = v
	}

	// 3. Extract.
	tasks, err := p.extractor.ExtractTasks(ctx, note.Content, meta)
	if err != nil {
		return NoteOutcome{}, fmt.Errorf("extracting tasks: %w", err)
	}

	// 4. Archive locally before touching the board. The archive is the
	// source of truth; a failed push leaves the record in extracted status
	// instead of losing it.
	records := make([]storage.TaskRecord, 0, len(tasks))
	for _, task := range tasks {
		records = append(records, storage.TaskRecord{
			ID:              uuid.New().String(),
			SourcePath:      note.Path,
			Title:           task.Title,
			Description:     task.Description,
			Priority:        task.Priority,
			EstimatedEffort: task.EstimatedEffort,
			QueriesJSON:     marshalQueries(task.WebSearchQueries),
		})
	}
	if err := p.store.ArchiveTasks(records); err != nil {
		return NoteOutcome{}, fmt.Errorf("archiving tasks: %w", err)
	}

	// 5. Push to the board.
	outcome := NoteOutcome{Tasks: len(records)}
	if p.board != nil {
		for _, rec := range records {
			created, err := p.board.CreateTask(ctx, rec.Title, rec.Description, rec.Priority)
			if err != nil {
				p.log.Error("board push failed", "task_id", rec.ID, "title", rec.Title, "error", err)
				outcome.PushFailed++
				continue
			}
			// Dry-run pushes return a zero ID and leave no link behind.
			if created.ID == 0 {
				continue
			}
			if err := p.store.LinkBoardTask(rec.ID, created.ID); err != nil {
				p.log.Error("linking board task failed", "task_id", rec.ID, "board_task_id", created.ID, "error", err)
			}
		}
	}

	// 6. Advance the watermark, also for notes that yielded nothing.
	if err := p.store.RecordProcessed(storage.ProcessedFile{
		Path:         note.Path,
		LastModified: note.ModTime,
		TaskCount:    len(records),
	}); err != nil {
		return outcome, fmt.Errorf("recording processed note: %w", err)
	}

	if len(records) == 0 {
		p.log.Info("no tasks found", "path", note.RelPath)
	} else {
		p.log.Info("extracted tasks", "path", note.RelPath, "count", len(records))
	}
	return outcome, nil
}

func marshalQueries(queries []string) string {
	if len(queries) == 0 {
		return "[]"
	}
	b, err := json.Marshal(queries)
	if err != nil {
		return "[]"
	}
	return string(b)
}
