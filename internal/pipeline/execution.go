package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/tfyn/internal/board"
	"github.com/kalambet/tfyn/internal/storage"
)

// ExecutionStore is the persistence surface the execution flow needs.
type ExecutionStore interface {
	TaskByBoardID(boardTaskID int64) (storage.TaskRecord, error)
	RecordExecution(id, result string, executedAt time.Time) error
}

// ResultBoard lists confirmed tasks and receives research results.
type ResultBoard interface {
	ConfirmedTasks(ctx context.Context) ([]board.Task, error)
	UpdateTaskWithResults(ctx context.Context, taskID int64, results string) (board.Task, error)
	DryRun() bool
}

// Researcher answers a set of search queries with an assembled result text.
type Researcher interface {
	Execute(ctx context.Context, queries []string) (string, error)
}

// ExecutionResult summarizes one execution run.
type ExecutionResult struct {
	Confirmed  int
	Executed   int
	Failed     int
	DurationMs int64
}

// Execution researches confirmed board tasks and writes the results back to
// the board and the local archive.
type Execution struct {
	store    ExecutionStore
	board    ResultBoard
	research Researcher
	log      *slog.Logger
}

// NewExecution wires the execution flow.
func NewExecution(store ExecutionStore, resultBoard ResultBoard, research Researcher, log *slog.Logger) *Execution {
	if log == nil {
		log = slog.Default()
	}
	return &Execution{
		store:    store,
		board:    resultBoard,
		research: research,
		log:      log,
	}
}

// Run fetches confirmed board tasks and executes each one. A task that
// fails is logged and counted; the run continues with the next one.
func (p *Execution) Run(ctx context.Context) (ExecutionResult, error) {
	start := time.Now()
	tasks, err := p.board.ConfirmedTasks(ctx)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("listing confirmed tasks: %w", err)
	}

	res := ExecutionResult{Confirmed: len(tasks)}
	defer func() {
		res.DurationMs = time.Since(start).Milliseconds()
	}()

	for _, task := range tasks {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if err := p.executeTask(ctx, task); err != nil {
			p.log.Error("task execution failed", "board_task_id", task.ID, "title", task.Title, "error", err)
			res.Failed++
			continue
		}
		res.Executed++
	}

	p.log.Info("execution run complete",
		"confirmed", res.Confirmed,
		"executed", res.Executed,
		"failed", res.Failed,
	)
	return res, nil
}

// executeTask researches one confirmed board task. Queries come from the
// archived record when one exists; a task confirmed on the board without a
// local record falls back to researching its title.
func (p *Execution) executeTask(ctx context.Context, task board.Task) error {
	rec, err := p.store.TaskByBoardID(task.ID)
	archived := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("loading archived record: %w", err)
	}

	queries := []string{task.Title}
	if archived {
		if parsed := parseQueries(rec.QueriesJSON); len(parsed) > 0 {
			queries = parsed
		}
	}

	p.log.Info("researching task", "board_task_id", task.ID, "title", task.Title, "queries", len(queries))
	results, err := p.research.Execute(ctx, queries)
	if err != nil {
		return fmt.Errorf("researching %q: %w", task.Title, err)
	}

	if _, err := p.board.UpdateTaskWithResults(ctx, task.ID, results); err != nil {
		return fmt.Errorf("updating board task %d: %w", task.ID, err)
	}

	if !archived {
		p.log.Warn("no archived record for board task", "board_task_id", task.ID)
		return nil
	}
	// A dry run leaves the archive untouched too.
	if p.board.DryRun() {
		return nil
	}
	if err := p.store.RecordExecution(rec.ID, results, time.Now().UTC()); err != nil {
		return fmt.Errorf("archiving result: %w", err)
	}
	return nil
}

func parseQueries(queriesJSON string) []string {
	if queriesJSON == "" {
		return nil
	}
	var queries []string
	if err := json.Unmarshal([]byte(queriesJSON), &queries); err != nil {
		return nil
	}
	return queries
}
