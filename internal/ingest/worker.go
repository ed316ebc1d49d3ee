package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/askgopher/askgopher/internal/storage"
)

// Job type names processed by the worker.
const (
	JobFeedbackPersist = "feedback_persist"
	JobKnowledgeEmbed  = "knowledge_embed"
)

// JobStore abstracts the queue and record operations the worker uses.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	SaveFeedback(f storage.Feedback) error
	GetKnowledgeDoc(id string) (storage.KnowledgeDoc, error)
}

// FeedbackPayload is the payload of a feedback_persist job.
type FeedbackPayload struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UserID    string    `json:"user_id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CacheHit  bool      `json:"cache_hit"`
}

// EmbedPayload is the payload of a knowledge_embed job.
type EmbedPayload struct {
	DocID string `json:"doc_id"`
}

// Worker drains the background job queue: persisting feedback records
// and embedding newly added documents.
type Worker struct {
	store     JobStore
	refresher *Refresher
	poll      time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker. If pollInterval <= 0, it defaults to 500ms.
func NewWorker(store JobStore, refresher *Refresher, pollInterval time.Duration, logger *slog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:     store,
		refresher: refresher,
		poll:      pollInterval,
		logger:    logger,
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
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
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job. Returns true if a job was
// processed, regardless of success or failure.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobFeedbackPersist, JobKnowledgeEmbed})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "error", err)
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

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	switch job.Type {
	case JobFeedbackPersist:
		return w.persistFeedback(job.PayloadJSON)
	case JobKnowledgeEmbed:
		return w.embedDocument(ctx, job.PayloadJSON)
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

func (w *Worker) persistFeedback(payloadJSON string) error {
	var p FeedbackPayload
	if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	return w.store.SaveFeedback(storage.Feedback{
		ID:        p.ID,
		CreatedAt: p.CreatedAt,
		UserID:    p.UserID,
		Question:  p.Question,
		Answer:    p.Answer,
		CacheHit:  p.CacheHit,
	})
}

func (w *Worker) embedDocument(ctx context.Context, payloadJSON string) error {
	var p EmbedPayload
	if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	doc, err := w.store.GetKnowledgeDoc(p.DocID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", p.DocID, err)
	}

	if err := w.refresher.embedDoc(ctx, doc); err != nil {
		return err
	}
	return w.refresher.Reload()
}
