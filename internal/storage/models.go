// Package storage persists feedback, knowledge documents, their
// embedded chunks, and the background job queue in SQLite.
package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Feedback is one answered question recorded for later rating.
type Feedback struct {
	ID        string
	CreatedAt time.Time
	UserID    string
	Question  string
	Answer    string
	CacheHit  bool
	Rating    int // 0 unrated, otherwise 1..5
	Notes     string
}

// KnowledgeDoc is one source document in the knowledge base.
type KnowledgeDoc struct {
	ID        string
	Title     string
	Content   string
	Source    string
	CreatedAt time.Time
}

// ChunkRecord is one embedded slice of a knowledge document.
type ChunkRecord struct {
	ID        string
	SourceID  string
	Text      string
	Embedding []float32
	CreatedAt time.Time
}

// Job is one unit of background work.
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
