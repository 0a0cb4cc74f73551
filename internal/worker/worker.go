// Package worker runs serve-mode background processing: a periodic notebook
// scan that enqueues one extraction job per changed note, and a claim loop
// that drives those jobs through the extraction pipeline.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/tfyn/internal/notebook"
	"github.com/kalambet/tfyn/internal/pipeline"
	"github.com/kalambet/tfyn/internal/storage"
)

// JobTypeExtractNote is the queue type for single-note extraction jobs.
const JobTypeExtractNote = "extract_note"

// JobStore abstracts the job queue and watermark operations.
type JobStore interface {
	EnqueueJobOnce(job storage.Job) (bool, error)
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	LastProcessedTime(path string) (time.Time, error)
}

// NoteSource lists and loads notebook notes.
type NoteSource interface {
	Scan() ([]notebook.Note, error)
	Load(path string) (notebook.Note, error)
}

// NotePipeline is the single-note extraction path.
type NotePipeline interface {
	ProcessNote(ctx context.Context, note notebook.Note) (pipeline.NoteOutcome, error)
}

// Worker owns the serve-mode background loop.
type Worker struct {
	store  JobStore
	source NoteSource
	pipe   NotePipeline
	poll   time.Duration
	scan   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms; if scanInterval is <= 0,
// it defaults to 5 minutes.
func NewWorker(store JobStore, source NoteSource, pipe NotePipeline, pollInterval, scanInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if scanInterval <= 0 {
		scanInterval = 5 * time.Minute
	}
	return &Worker{
		store:  store,
		source: source,
		pipe:   pipe,
		poll:   pollInterval,
		scan:   scanInterval,
		logger: slog.Default(),
	}
}

// Run scans once immediately, then polls for jobs and rescans on the
// configured interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if _, err := w.ScanOnce(ctx); err != nil {
		w.logger.Error("notebook scan failed", "error", err)
	}

	ticker := time.NewTicker(w.scan)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ScanOnce(ctx); err != nil {
				w.logger.Error("notebook scan failed", "error", err)
			}
		case <-time.After(w.poll):
		}
	}
}

// ScanOnce walks the notebook and enqueues one extract_note job per changed
// note. Job IDs are derived from the note path and mtime, so rescanning an
// already-queued note is a no-op and an edited note gets a fresh job.
// Returns the number of jobs enqueued.
func (w *Worker) ScanOnce(ctx context.Context) (int, error) {
	notes, err := w.source.Scan()
	if err != nil {
		return 0, fmt.Errorf("scanning notebook: %w", err)
	}

	enqueued := 0
	for _, note := range notes {
		if ctx.Err() != nil {
			return enqueued, ctx.Err()
		}

		last, err := w.store.LastProcessedTime(note.Path)
		if err == nil && !last.Before(note.ModTime) {
			continue
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			w.logger.Error("watermark lookup failed", "path", note.Path, "error", err)
			continue
		}

		payload, _ := json.Marshal(extractPayload{Path: note.Path})
		job := storage.Job{
			ID:          jobID(note),
			Type:        JobTypeExtractNote,
			PayloadJSON: string(payload),
		}
		created, err := w.store.EnqueueJobOnce(job)
		if err != nil {
			w.logger.Error("enqueue failed", "path", note.Path, "error", err)
			continue
		}
		if created {
			enqueued++
		}
	}

	if enqueued > 0 {
		w.logger.Info("scan enqueued changed notes", "count", enqueued)
	}
	return enqueued, nil
}

// RunOnce claims and processes a single extract_note job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeExtractNote})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

type extractPayload struct {
	Path string `json:"path"`
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload extractPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	note, err := w.source.Load(payload.Path)
	if err != nil {
		return fmt.Errorf("loading note %s: %w", payload.Path, err)
	}

	outcome, err := w.pipe.ProcessNote(ctx, note)
	if err != nil {
		return fmt.Errorf("extracting note %s: %w", payload.Path, err)
	}

	w.logger.Info("note job processed",
		"path", payload.Path,
		"tasks", outcome.Tasks,
		"skipped", outcome.Skipped,
	)
	return nil
}

func jobID(note notebook.Note) string {
	return fmt.Sprintf("%s:%s@%s", JobTypeExtractNote, note.Path, note.ModTime.UTC().Format(time.RFC3339))
}
