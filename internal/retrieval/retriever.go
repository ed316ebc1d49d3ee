package retrieval

import (
	"context"
	"log/slog"
	"time"
)

// defaultEmbedTimeout bounds one query embedding call; a hung embedding
// backend must degrade the answer, not stall the request.
const defaultEmbedTimeout = 5 * time.Second

// Retriever combines query embedding and index search into grounding
// context assembly.
type Retriever struct {
	embedder      *Embedder
	index         *Index
	topK          int
	contextBudget int
	embedTimeout  time.Duration
	logger        *slog.Logger
}

// NewRetriever creates a Retriever. topK bounds the number of returned
// chunks and contextBudget bounds their combined size in characters
// (0 disables the budget).
func NewRetriever(embedder *Embedder, index *Index, topK, contextBudget int, logger *slog.Logger) *Retriever {
	if topK <= 0 {
		topK = 4
	}
	return &Retriever{
		embedder:      embedder,
		index:         index,
		topK:          topK,
		contextBudget: contextBudget,
		embedTimeout:  defaultEmbedTimeout,
		logger:        logger,
	}
}

// Index returns the underlying index, for refresh wiring and
// generation reads.
func (r *Retriever) Index() *Index {
	return r.index
}

// Retrieve embeds the question and returns the most relevant chunks,
// at most one per source document, highest score first. Retrieval
// never fails a request: on embedding errors it logs and returns nil
// so the caller proceeds without grounding context.
func (r *Retriever) Retrieve(ctx context.Context, query string) []Chunk {
	if r.index.Len() == 0 {
		return nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, r.embedTimeout)
	defer cancel()
	vec, err := r.embedder.Embed(embedCtx, query)
	if err != nil {
		r.logger.Warn("retrieval degraded, continuing without context", "error", err)
		return nil
	}

	// Oversample so per-source dedup still fills topK slots.
	candidates := r.index.Search(vec, r.topK*3)
	chunks := dedupBySource(candidates, r.topK)
	return r.applyBudget(chunks)
}

// dedupBySource keeps the highest-scored chunk per source document.
// Candidates arrive ordered by descending score, so first wins.
func dedupBySource(candidates []Chunk, limit int) []Chunk {
	seen := make(map[string]struct{}, limit)
	var out []Chunk
	for _, c := range candidates {
		if _, dup := seen[c.SourceID]; dup {
			continue
		}
		seen[c.SourceID] = struct{}{}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out
}

// applyBudget drops lowest-scored chunks until the combined text fits
// the character budget. The last surviving chunk is truncated rather
// than dropped, so grounding never disappears entirely.
func (r *Retriever) applyBudget(chunks []Chunk) []Chunk {
	if r.contextBudget <= 0 {
		return chunks
	}
	total := 0
	for _, c := range chunks {
		total += len(c.Text)
	}
	for len(chunks) > 1 && total > r.contextBudget {
		total -= len(chunks[len(chunks)-1].Text)
		chunks = chunks[:len(chunks)-1]
	}
	if len(chunks) == 1 && len(chunks[0].Text) > r.contextBudget {
		chunks[0].Text = chunks[0].Text[:r.contextBudget]
	}
	return chunks
}
