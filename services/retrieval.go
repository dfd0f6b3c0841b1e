package services

import (
	"context"
	"math"
	"sort"

	"rag-chatbot-platform/models"
	"rag-chatbot-platform/utils"
)

// ChunkSource yields the retrieval candidate set: chunks of ready,
// not-deleted documents visible to the tenant.
type ChunkSource interface {
	ReadyChunks(ctx context.Context, tenantID string, allowedDocIDs []string) ([]models.Chunk, error)
}

// ScoredChunk is one retrieval hit.
type ScoredChunk struct {
	Chunk models.Chunk
	Score float64
}

// Retriever ranks candidate chunks by cosine similarity against the
// query embedding. Brute force over the tenant's corpus; document sets
// are small enough per tenant that an index would not pay for itself.
type Retriever struct {
	source ChunkSource
	topK   int
}

func NewRetriever(source ChunkSource, topK int) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	return &Retriever{source: source, topK: topK}
}

// Retrieve returns up to topK chunks ranked by similarity, ties broken
// by lower ordinal then document id so equal inputs always produce the
// same ranking. Chunks whose vectors cannot be compared are skipped.
func (r *Retriever) Retrieve(ctx context.Context, tenantID string, query []float32, allowedDocIDs []string) ([]ScoredChunk, error) {
	candidates, err := r.source.ReadyChunks(ctx, tenantID, allowedDocIDs)
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredChunk, 0, len(candidates))
	for _, chunk := range candidates {
		score, ok := cosineSimilarity(query, chunk.Vector)
		if !ok {
			continue
		}
		scored = append(scored, ScoredChunk{Chunk: chunk, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Chunk.Ordinal != scored[j].Chunk.Ordinal {
			return scored[i].Chunk.Ordinal < scored[j].Chunk.Ordinal
		}
		return scored[i].Chunk.DocumentID.Hex() < scored[j].Chunk.DocumentID.Hex()
	})

	if len(scored) > r.topK {
		scored = scored[:r.topK]
	}

	// Materialize compressed chunk text for prompt assembly
	for i := range scored {
		if scored[i].Chunk.Text == "" && len(scored[i].Chunk.Compressed) > 0 {
			text, err := utils.DecompressText(scored[i].Chunk.Compressed)
			if err != nil {
				continue
			}
			scored[i].Chunk.Text = text
		}
	}

	return scored, nil
}

// cosineSimilarity reports the similarity of two vectors, or ok=false
// when dimensions differ or either vector has zero magnitude.
func cosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
