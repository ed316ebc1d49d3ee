// Package pipeline orchestrates the question-answering flow: quota
// admission, conversation memory, cache, retrieval, evidence, and the
// completion call.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/askgopher/askgopher/internal/cache"
	"github.com/askgopher/askgopher/internal/completion"
	"github.com/askgopher/askgopher/internal/evidence"
	"github.com/askgopher/askgopher/internal/ingest"
	"github.com/askgopher/askgopher/internal/memory"
	"github.com/askgopher/askgopher/internal/quota"
	"github.com/askgopher/askgopher/internal/retrieval"
	"github.com/askgopher/askgopher/internal/storage"
)

const defaultMaxQuestionLen = 2000

// Request is one incoming question.
type Request struct {
	UserID    string
	ChannelID string
	ThreadID  string
	Question  string
}

// Result is a successfully answered question.
type Result struct {
	FeedbackID string
	Answer     string
	Parts      []string
	CacheHit   bool
	Remaining  int
	Unlimited  bool
}

// Completer produces an answer for a composed prompt.
type Completer interface {
	Complete(ctx context.Context, messages []completion.Message) (string, error)
}

// ContextRetriever assembles grounding chunks for a question.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string) []retrieval.Chunk
}

// EvidenceFinder looks up related issues for a question.
type EvidenceFinder interface {
	Find(ctx context.Context, question string) []evidence.Issue
}

// JobEnqueuer accepts background jobs.
type JobEnqueuer interface {
	EnqueueJob(job storage.Job) error
}

// PromptBuilder assembles the completion message list.
type PromptBuilder interface {
	Build(history []memory.Turn, chunks []retrieval.Chunk, issues []evidence.Issue, question string) []completion.Message
}

// Orchestrator runs the full ask pipeline. None of its collaborators'
// locks are held across the completion call; each store synchronizes
// internally and is touched in sequence.
type Orchestrator struct {
	quota     *quota.Enforcer
	memory    *memory.Store
	cache     *cache.Cache
	index     *retrieval.Index
	retriever ContextRetriever
	evidence  EvidenceFinder
	composer  PromptBuilder
	completer Completer
	jobs      JobEnqueuer
	logger    *slog.Logger

	flights        singleflight.Group
	maxQuestionLen int
	maxMessageLen  int
}

// Options configures an Orchestrator.
type Options struct {
	Quota     *quota.Enforcer
	Memory    *memory.Store
	Cache     *cache.Cache
	Index     *retrieval.Index
	Retriever ContextRetriever
	Evidence  EvidenceFinder
	Composer  PromptBuilder
	Completer Completer
	Jobs      JobEnqueuer
	Logger    *slog.Logger

	// MaxQuestionLen bounds accepted question length in runes.
	MaxQuestionLen int

	// MaxMessageLen bounds outgoing message parts in runes; 0 keeps
	// answers whole.
	MaxMessageLen int
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	maxLen := opts.MaxQuestionLen
	if maxLen <= 0 {
		maxLen = defaultMaxQuestionLen
	}
	return &Orchestrator{
		quota:          opts.Quota,
		memory:         opts.Memory,
		cache:          opts.Cache,
		index:          opts.Index,
		retriever:      opts.Retriever,
		evidence:       opts.Evidence,
		composer:       opts.Composer,
		completer:      opts.Completer,
		jobs:           opts.Jobs,
		logger:         opts.Logger,
		maxQuestionLen: maxLen,
		maxMessageLen:  opts.MaxMessageLen,
	}
}

// Ask answers one question, walking the request through admission,
// cache, retrieval, and completion. Admission reserves a quota slot up
// front; the slot is refunded if no response is produced, so failed
// completions consume nothing while cached answers still count.
func (o *Orchestrator) Ask(ctx context.Context, req Request) (Result, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Result{}, fmt.Errorf("%w: empty question", ErrMalformedInput)
	}
	if len([]rune(question)) > o.maxQuestionLen {
		return Result{}, fmt.Errorf("%w: question exceeds %d characters", ErrMalformedInput, o.maxQuestionLen)
	}

	if !o.quota.TryAcquire(req.UserID) {
		o.logger.Info("question rejected, quota exhausted", "user", req.UserID)
		return Result{}, ErrQuotaExceeded
	}

	key := memory.Key{UserID: req.UserID, ChannelID: req.ChannelID, ThreadID: req.ThreadID}
	fingerprint := cache.Fingerprint(question, o.index.Generation())

	answer, cacheHit := o.cache.Lookup(fingerprint)
	if !cacheHit {
		var err error
		answer, err = o.generate(ctx, key, fingerprint, question)
		if err != nil {
			o.quota.Refund(req.UserID)
			return Result{}, err
		}
		o.cache.Store(fingerprint, answer)
	} else {
		o.logger.Debug("cache hit", "fingerprint", fingerprint[:12])
	}

	now := time.Now().UTC()
	o.memory.Append(key,
		memory.Turn{Role: memory.RoleAsker, Text: question, At: now},
		memory.Turn{Role: memory.RoleAssistant, Text: answer, At: now},
	)

	feedbackID := o.enqueueFeedback(req.UserID, question, answer, cacheHit)

	remaining, unlimited := o.quota.Remaining(req.UserID)
	return Result{
		FeedbackID: feedbackID,
		Answer:     answer,
		Parts:      Split(answer, o.maxMessageLen),
		CacheHit:   cacheHit,
		Remaining:  remaining,
		Unlimited:  unlimited,
	}, nil
}

// generate runs the miss path. Duplicate in-flight questions from the
// same conversation collapse into one completion call; the flight key
// includes the conversation so answers never cross conversations.
func (o *Orchestrator) generate(ctx context.Context, key memory.Key, fingerprint, question string) (string, error) {
	flightKey := fingerprint + "|" + key.String()
	v, err, shared := o.flights.Do(flightKey, func() (interface{}, error) {
		history := o.memory.Context(key)

		chunks := o.retriever.Retrieve(ctx, question)
		var issues []evidence.Issue
		if o.evidence != nil {
			issues = o.evidence.Find(ctx, question)
		}

		messages := o.composer.Build(history, chunks, issues, question)

		answer, err := o.completer.Complete(ctx, messages)
		if err != nil {
			o.logger.Error("completion failed", "error", err)
			return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		return answer, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		o.logger.Debug("collapsed duplicate in-flight question")
	}
	return v.(string), nil
}

// enqueueFeedback records the interaction for later rating via the job
// queue. Failure to enqueue never fails the request.
func (o *Orchestrator) enqueueFeedback(userID, question, answer string, cacheHit bool) string {
	id := uuid.New().String()
	payload, err := json.Marshal(ingest.FeedbackPayload{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		UserID:    userID,
		Question:  question,
		Answer:    answer,
		CacheHit:  cacheHit,
	})
	if err != nil {
		o.logger.Error("marshaling feedback payload", "error", err)
		return id
	}

	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        ingest.JobFeedbackPersist,
		PayloadJSON: string(payload),
	}
	if err := o.jobs.EnqueueJob(job); err != nil {
		o.logger.Warn("feedback persistence deferred, enqueue failed", "error", err)
	}
	return id
}

// ClearConversation resets one conversation's memory.
func (o *Orchestrator) ClearConversation(userID, channelID, threadID string) {
	o.memory.Clear(memory.Key{UserID: userID, ChannelID: channelID, ThreadID: threadID})
}

// QuotaStatus reports a user's remaining allowance.
func (o *Orchestrator) QuotaStatus(userID string) (used, limit, remaining int, unlimited bool) {
	used, limit = o.quota.Used(userID)
	remaining, unlimited = o.quota.Remaining(userID)
	return used, limit, remaining, unlimited
}
