// Package retrieval assembles grounding context for questions from an
// in-memory vector index refreshed atomically from persistent storage.
package retrieval

import (
	"container/heap"
	"math"
	"sync/atomic"
	"time"
)

// Chunk is one indexed slice of a knowledge document. Score is only
// populated on search results.
type Chunk struct {
	ID        string
	SourceID  string
	Text      string
	Embedding []float32
	CreatedAt time.Time
	Score     float32
}

// snapshot is one immutable generation of the index contents.
type snapshot struct {
	chunks     []Chunk
	generation uint64
}

// Index is a brute-force cosine similarity index over chunk embeddings.
// Refresh replaces the whole contents in one atomic swap, so concurrent
// searches always see either the old or the new generation, never a mix.
type Index struct {
	snap atomic.Pointer[snapshot]
	gen  atomic.Uint64
}

// NewIndex creates an empty Index at generation zero.
func NewIndex() *Index {
	idx := &Index{}
	idx.snap.Store(&snapshot{})
	return idx
}

// Swap replaces the entire index contents, bumping the generation.
// The caller must not mutate chunks after the call.
func (idx *Index) Swap(chunks []Chunk) {
	gen := idx.gen.Add(1)
	idx.snap.Store(&snapshot{chunks: chunks, generation: gen})
}

// Generation returns the generation of the current snapshot.
func (idx *Index) Generation() uint64 {
	return idx.snap.Load().generation
}

// Len returns the number of chunks in the current snapshot.
func (idx *Index) Len() int {
	return len(idx.snap.Load().chunks)
}

// Search returns the topK chunks most similar to the query vector,
// ordered by descending score. A zero query vector or empty index
// yields nil.
func (idx *Index) Search(vector []float32, topK int) []Chunk {
	snap := idx.snap.Load()
	if len(snap.chunks) == 0 || topK <= 0 {
		return nil
	}

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil
	}

	h := &chunkHeap{}
	heap.Init(h)

	for i := range snap.chunks {
		score := cosine(vector, snap.chunks[i].Embedding, queryNorm)
		if h.Len() < topK {
			heap.Push(h, scoredRef{idx: i, score: score})
		} else if score > (*h)[0].score {
			(*h)[0] = scoredRef{idx: i, score: score}
			heap.Fix(h, 0)
		}
	}

	out := make([]Chunk, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		ref := heap.Pop(h).(scoredRef)
		out[i] = snap.chunks[ref.idx]
		out[i].Score = ref.score
	}
	return out
}

// norm computes the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// scoredRef points into a snapshot's chunk slice with its score.
type scoredRef struct {
	idx   int
	score float32
}

// chunkHeap is a min-heap of scoredRef ordered by score, used to track
// top-K candidates during the scan.
type chunkHeap []scoredRef

func (h chunkHeap) Len() int           { return len(h) }
func (h chunkHeap) Less(i, j int) bool { return h[i].score < h[j].score }
func (h chunkHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *chunkHeap) Push(x any)        { *h = append(*h, x.(scoredRef)) }
func (h *chunkHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
