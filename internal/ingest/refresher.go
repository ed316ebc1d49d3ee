package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/askgopher/askgopher/internal/retrieval"
	"github.com/askgopher/askgopher/internal/storage"
)

// DocStore is the slice of storage the refresher needs.
type DocStore interface {
	ListKnowledgeDocs() ([]storage.KnowledgeDoc, error)
	ReplaceChunks(sourceID string, chunks []storage.ChunkRecord) error
	LoadChunks() ([]storage.ChunkRecord, error)
}

// BatchEmbedder generates embeddings for chunk batches.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Refresher rebuilds the knowledge base and swaps the search index.
// Queries keep hitting the previous index generation until the new one
// is fully built.
type Refresher struct {
	store     DocStore
	embedder  BatchEmbedder
	index     *retrieval.Index
	chunkSize int
	logger    *slog.Logger
}

// NewRefresher creates a Refresher. chunkSize bounds chunk length in
// characters; <= 0 uses the default.
func NewRefresher(store DocStore, embedder BatchEmbedder, index *retrieval.Index, chunkSize int, logger *slog.Logger) *Refresher {
	return &Refresher{
		store:     store,
		embedder:  embedder,
		index:     index,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// Reload rebuilds the in-memory index from persisted chunks without
// re-embedding anything. Called on startup.
func (r *Refresher) Reload() error {
	records, err := r.store.LoadChunks()
	if err != nil {
		return fmt.Errorf("loading chunks: %w", err)
	}
	r.index.Swap(toChunks(records))
	r.logger.Info("index reloaded", "chunks", len(records), "generation", r.index.Generation())
	return nil
}

// RefreshAll re-chunks and re-embeds every stored document, then swaps
// in the rebuilt index.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	docs, err := r.store.ListKnowledgeDocs()
	if err != nil {
		return fmt.Errorf("listing documents: %w", err)
	}

	for _, doc := range docs {
		if err := r.embedDoc(ctx, doc); err != nil {
			return err
		}
	}

	if err := r.Reload(); err != nil {
		return err
	}
	r.logger.Info("knowledge base refreshed", "documents", len(docs))
	return nil
}

func (r *Refresher) embedDoc(ctx context.Context, doc storage.KnowledgeDoc) error {
	pieces := SplitChunks(doc.Content, r.chunkSize)
	if len(pieces) == 0 {
		return r.store.ReplaceChunks(doc.ID, nil)
	}

	vectors, err := r.embedder.EmbedBatch(ctx, pieces)
	if err != nil {
		return fmt.Errorf("embedding document %q: %w", doc.Title, err)
	}

	now := time.Now().UTC()
	records := make([]storage.ChunkRecord, len(pieces))
	for i, text := range pieces {
		records[i] = storage.ChunkRecord{
			ID:        uuid.New().String(),
			SourceID:  doc.ID,
			Text:      text,
			Embedding: vectors[i],
			CreatedAt: now,
		}
	}

	if err := r.store.ReplaceChunks(doc.ID, records); err != nil {
		return fmt.Errorf("replacing chunks for %q: %w", doc.Title, err)
	}
	return nil
}

func toChunks(records []storage.ChunkRecord) []retrieval.Chunk {
	chunks := make([]retrieval.Chunk, len(records))
	for i, rec := range records {
		chunks[i] = retrieval.Chunk{
			ID:        rec.ID,
			SourceID:  rec.SourceID,
			Text:      rec.Text,
			Embedding: rec.Embedding,
			CreatedAt: rec.CreatedAt,
		}
	}
	return chunks
}
