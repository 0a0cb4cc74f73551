package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Task archive statuses.
const (
	TaskStatusExtracted = "extracted" // recovered from a note, not yet on the board
	TaskStatusPushed    = "pushed"    // created on the task board
	TaskStatusDone      = "done"      // executed and moved to the done bucket
)

// ProcessedFile records when a notebook file last went through extraction.
// LastModified is the note's mtime at that moment; a later mtime marks the
// note as changed and due for re-extraction.
type ProcessedFile struct {
	Path          string
	LastModified  time.Time
	LastProcessed time.Time
	TaskCount     int
	UpdatedAt     time.Time
}

// TaskRecord is the local archive entry for one extracted task. The archive
// survives board wipes and powers listing without a board round-trip.
type TaskRecord struct {
	ID              string
	SourcePath      string
	Title           string
	Description     string
	Priority        string
	EstimatedEffort string
	QueriesJSON     string // JSON array stored as text
	Status          string
	BoardTaskID     int64
	Result          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExecutedAt      time.Time // zero until the task has been executed
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
