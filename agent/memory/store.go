package memory

import (
	"context"
	"sort"

	"github.com/BaSui01/agentcircle/types"
)

// Store holds memory documents partitioned by scope.
type Store interface {
	// Put stores a new document. Documents are immutable once written.
	Put(ctx context.Context, doc types.MemoryDocument) error
	// Get returns every document of scope in insertion order.
	Get(ctx context.Context, scope types.Scope) ([]types.MemoryDocument, error)
	// Clear deletes every document of scope.
	Clear(ctx context.Context, scope types.Scope) error
	// Query ranks the documents of scope by cosine similarity to query.
	Query(ctx context.Context, scope types.Scope, query []float64, topK int) ([]types.ScoredDocument, error)
	// SetUtility updates the curation weight of a document.
	SetUtility(ctx context.Context, id string, utility float64) error
}

// rank scores docs against query and returns the topK best, highest first.
// Equal similarities keep insertion order.
func rank(docs []types.MemoryDocument, query []float64, topK int) []types.ScoredDocument {
	if topK <= 0 || len(docs) == 0 {
		return []types.ScoredDocument{}
	}
	scored := make([]types.ScoredDocument, 0, len(docs))
	for _, d := range docs {
		scored = append(scored, types.ScoredDocument{
			Document:   d,
			Similarity: Cosine(query, d.Embedding),
		})
	}
	sortBySimilarity(scored)
	if topK > len(scored) {
		topK = len(scored)
	}
	return scored[:topK]
}

func sortBySimilarity(scored []types.ScoredDocument) {
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
}

func checkDimension(want int, got int) error {
	if want > 0 && got != want {
		return types.Errorf(types.ErrDimensionMismatch, "vector dimension mismatch: got %d want %d", got, want)
	}
	return nil
}

func validateDocument(doc types.MemoryDocument) error {
	if !doc.Scope.Valid() {
		return types.Errorf(types.ErrInvalidRequest, "invalid memory scope %q", doc.Scope)
	}
	if len(doc.Embedding) == 0 {
		return types.NewError(types.ErrInvalidRequest, "embedding is required")
	}
	return nil
}
