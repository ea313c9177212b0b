package memory

import (
	"context"

	"github.com/BaSui01/agentcircle/types"
	"go.uber.org/zap"
)

// DefaultSimilarityFloor is the minimum similarity for floor-filtered searches.
const DefaultSimilarityFloor = 0.3

// EngineConfig configures the retrieval engine.
type EngineConfig struct {
	// SimilarityFloor drops Search results below this similarity.
	// HybridQuery never applies it.
	SimilarityFloor float64 `yaml:"similarity_floor" json:"similarity_floor"`
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{SimilarityFloor: DefaultSimilarityFloor}
}

// Engine answers ranked queries over a Store.
type Engine struct {
	store  Store
	config EngineConfig
	logger *zap.Logger
}

// NewEngine creates a retrieval engine.
func NewEngine(store Store, config EngineConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  store,
		config: config,
		logger: logger.With(zap.String("component", "retrieval_engine")),
	}
}

// Store returns the underlying memory store.
func (e *Engine) Store() Store {
	return e.store
}

// Query ranks one scope without any floor.
func (e *Engine) Query(ctx context.Context, scope types.Scope, query []float64, topK int) ([]types.ScoredDocument, error) {
	return e.store.Query(ctx, scope, query, topK)
}

// Search ranks one scope and drops results under the similarity floor.
func (e *Engine) Search(ctx context.Context, scope types.Scope, query []float64, topK int) ([]types.ScoredDocument, error) {
	ranked, err := e.store.Query(ctx, scope, query, topK)
	if err != nil {
		return nil, err
	}
	return FilterFloor(ranked, e.config.SimilarityFloor), nil
}

// HybridQuery blends an agent's private memory with a conversation's shared
// memory. ceil(topN/2) slots go to private documents and floor(topN/2) to
// shared ones, so a large shared partition cannot crowd out private memory.
func (e *Engine) HybridQuery(ctx context.Context, query []float64, privateScope, sharedScope types.Scope, topN int) (types.RetrievedSet, error) {
	if topN <= 0 {
		return types.RetrievedSet{}, nil
	}
	topPrivate, topShared := SplitHybrid(topN)

	private, err := e.store.Query(ctx, privateScope, query, topPrivate)
	if err != nil {
		return nil, err
	}
	var shared []types.ScoredDocument
	if topShared > 0 {
		shared, err = e.store.Query(ctx, sharedScope, query, topShared)
		if err != nil {
			return nil, err
		}
	}

	merged := MergeHybrid(private, shared, topN)
	e.logger.Debug("hybrid query",
		zap.String("private_scope", string(privateScope)),
		zap.String("shared_scope", string(sharedScope)),
		zap.Int("private", len(private)),
		zap.Int("shared", len(shared)),
		zap.Int("returned", len(merged)),
	)
	return merged, nil
}

// SplitHybrid returns the private and shared quotas for topN.
func SplitHybrid(topN int) (topPrivate, topShared int) {
	if topN <= 0 {
		return 0, 0
	}
	return (topN + 1) / 2, topN / 2
}

// MergeHybrid concatenates two ranked lists, re-sorts by similarity
// (stable, private first on ties) and truncates to topN.
func MergeHybrid(private, shared []types.ScoredDocument, topN int) types.RetrievedSet {
	merged := make([]types.ScoredDocument, 0, len(private)+len(shared))
	merged = append(merged, private...)
	merged = append(merged, shared...)
	sortBySimilarity(merged)
	if topN < len(merged) {
		merged = merged[:topN]
	}
	return types.RetrievedSet(merged)
}

// FilterFloor keeps results whose similarity is at least floor.
func FilterFloor(ranked []types.ScoredDocument, floor float64) []types.ScoredDocument {
	out := make([]types.ScoredDocument, 0, len(ranked))
	for _, r := range ranked {
		if r.Similarity >= floor {
			out = append(out, r)
		}
	}
	return out
}
