// Package api exposes the question pipeline over HTTP and MCP.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/askgopher/askgopher/internal/ingest"
	"github.com/askgopher/askgopher/internal/pipeline"
	"github.com/askgopher/askgopher/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// apologyMessage is returned to askers when the completion backend is
// down; the real error stays in the logs.
const apologyMessage = "Sorry, I can't reach my brain right now. Please try again in a moment."

// Asker runs the question pipeline.
type Asker interface {
	Ask(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
	ClearConversation(userID, channelID, threadID string)
	QuotaStatus(userID string) (used, limit, remaining int, unlimited bool)
}

// FeedbackStore covers the storage operations the HTTP layer needs.
type FeedbackStore interface {
	GetFeedback(id string) (storage.Feedback, error)
	RateFeedback(id string, rating int, notes string) error
	SaveKnowledgeDoc(doc storage.KnowledgeDoc) error
	DeleteKnowledgeDoc(id string) error
	EnqueueJob(job storage.Job) error
}

// KnowledgeRefresher rebuilds the knowledge base.
type KnowledgeRefresher interface {
	RefreshAll(ctx context.Context) error
	Reload() error
}

// Deps wires the HTTP surface to the pipeline.
type Deps struct {
	Asker     Asker
	Store     FeedbackStore
	Refresher KnowledgeRefresher
	Token     string
	Logger    *slog.Logger
}

// NewHandler returns the HTTP API. An empty token disables auth.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/v1/questions", handleQuestion(deps))
		r.Get("/v1/feedback/{id}", handleGetFeedback(deps))
		r.Post("/v1/feedback/{id}", handleFeedback(deps))
		r.Delete("/v1/conversations", handleClearConversation(deps))
		r.Get("/v1/quota", handleQuota(deps))
		r.Post("/v1/refresh", handleRefresh(deps))
		r.Post("/v1/documents", handleAddDocument(deps))
		r.Delete("/v1/documents/{id}", handleDeleteDocument(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// QuestionRequest is the POST /v1/questions body.
type QuestionRequest struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	ThreadID  string `json:"thread_id"`
	Question  string `json:"question"`
}

// QuestionResponse is the POST /v1/questions reply.
type QuestionResponse struct {
	FeedbackID string   `json:"feedback_id"`
	Answer     string   `json:"answer"`
	Parts      []string `json:"parts"`
	CacheHit   bool     `json:"cache_hit"`
	Remaining  int      `json:"remaining"`
	Unlimited  bool     `json:"unlimited"`
}

func handleQuestion(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req QuestionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		res, err := deps.Asker.Ask(r.Context(), pipeline.Request{
			UserID:    req.UserID,
			ChannelID: req.ChannelID,
			ThreadID:  req.ThreadID,
			Question:  req.Question,
		})
		if err != nil {
			writeAskError(w, deps.Logger, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(QuestionResponse{
			FeedbackID: res.FeedbackID,
			Answer:     res.Answer,
			Parts:      res.Parts,
			CacheHit:   res.CacheHit,
			Remaining:  res.Remaining,
			Unlimited:  res.Unlimited,
		})
	}
}

// writeAskError maps pipeline errors onto transport responses.
func writeAskError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, pipeline.ErrMalformedInput):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, pipeline.ErrQuotaExceeded):
		httpError(w, http.StatusTooManyRequests, "quota_exceeded", "%v", err)
	case errors.Is(err, pipeline.ErrUpstreamUnavailable):
		logger.Error("upstream unavailable", "error", err)
		httpError(w, http.StatusBadGateway, "upstream_error", "%s", apologyMessage)
	default:
		logger.Error("ask failed", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "internal error")
	}
}

// FeedbackRequest is the POST /v1/feedback/{id} body.
type FeedbackRequest struct {
	Rating int    `json:"rating"`
	Notes  string `json:"notes"`
}

func handleFeedback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req FeedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Rating < 1 || req.Rating > 5 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "rating must be between 1 and 5")
			return
		}

		id := chi.URLParam(r, "id")
		if err := deps.Store.RateFeedback(id, req.Rating, req.Notes); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "feedback %s not found", id)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "saving rating: %v", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func handleGetFeedback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		fb, err := deps.Store.GetFeedback(id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "feedback %s not found", id)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "loading feedback: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(fb)
	}
}

// ClearRequest is the DELETE /v1/conversations body.
type ClearRequest struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	ThreadID  string `json:"thread_id"`
}

func handleClearConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ClearRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		deps.Asker.ClearConversation(req.UserID, req.ChannelID, req.ThreadID)
		w.WriteHeader(http.StatusNoContent)
	}
}

// QuotaResponse is the GET /v1/quota reply.
type QuotaResponse struct {
	Used      int  `json:"used"`
	Limit     int  `json:"limit"`
	Remaining int  `json:"remaining"`
	Unlimited bool `json:"unlimited"`
}

func handleQuota(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		used, limit, remaining, unlimited := deps.Asker.QuotaStatus(userID)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(QuotaResponse{
			Used:      used,
			Limit:     limit,
			Remaining: remaining,
			Unlimited: unlimited,
		})
	}
}

func handleRefresh(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Refresher.RefreshAll(r.Context()); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "refreshing knowledge base: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"refreshed"}`))
	}
}

// DocumentRequest is the POST /v1/documents body. Content may be raw
// text or base64 when encoding is "base64" (PDFs and other binary).
type DocumentRequest struct {
	Title    string `json:"title"`
	Source   string `json:"source"`
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty"`
}

func handleAddDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
		defer r.Body.Close()

		var req DocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Title == "" || req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title and content are required")
			return
		}

		raw := []byte(req.Content)
		if req.Encoding == "base64" {
			decoded, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			raw = decoded
		}

		text, err := ingest.ExtractText(raw)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "extracting text: %v", err)
			return
		}

		doc := storage.KnowledgeDoc{
			ID:        uuid.New().String(),
			Title:     req.Title,
			Content:   text,
			Source:    req.Source,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.SaveKnowledgeDoc(doc); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving document: %v", err)
			return
		}

		payload, err := json.Marshal(ingest.EmbedPayload{DocID: doc.ID})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "creating job payload: %v", err)
			return
		}
		job := storage.Job{
			ID:          uuid.New().String(),
			Type:        ingest.JobKnowledgeEmbed,
			PayloadJSON: string(payload),
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "enqueuing embed job: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"document_id": doc.ID})
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Store.DeleteKnowledgeDoc(id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "document %s not found", id)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "deleting document: %v", err)
			return
		}

		// Chunks are gone from storage; rebuild the index so stale
		// chunks stop matching.
		if err := deps.Refresher.Reload(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "rebuilding index: %v", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
