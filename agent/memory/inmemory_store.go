package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentcircle/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type InMemoryStoreConfig struct {
	// Dimension validates stored and query vectors when > 0. When 0 the
	// first stored document fixes it.
	Dimension int

	// Now is used for testing. Defaults to time.Now.
	Now func() time.Time
}

// InMemoryStore is a process-local Store. Reads return snapshots and never
// block on each other; writers are serialized per store.
type InMemoryStore struct {
	mu        sync.RWMutex
	scopes    map[types.Scope][]types.MemoryDocument
	index     map[string]types.Scope
	dimension int
	now       func() time.Time
	logger    *zap.Logger
}

func NewInMemoryStore(config InMemoryStoreConfig, logger *zap.Logger) *InMemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &InMemoryStore{
		scopes:    make(map[types.Scope][]types.MemoryDocument),
		index:     make(map[string]types.Scope),
		dimension: config.Dimension,
		now:       now,
		logger:    logger.With(zap.String("component", "memory_store_inmemory")),
	}
}

func (s *InMemoryStore) Put(ctx context.Context, doc types.MemoryDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateDocument(doc); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dimension == 0 {
		s.dimension = len(doc.Embedding)
	}
	if err := checkDimension(s.dimension, len(doc.Embedding)); err != nil {
		return err
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if _, exists := s.index[doc.ID]; exists {
		return types.Errorf(types.ErrAlreadyExists, "memory document %s already exists", doc.ID)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now()
	}
	doc.Embedding = append([]float64(nil), doc.Embedding...)

	s.scopes[doc.Scope] = append(s.scopes[doc.Scope], doc)
	s.index[doc.ID] = doc.Scope
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, scope types.Scope) ([]types.MemoryDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.snapshot(scope), nil
}

func (s *InMemoryStore) Clear(ctx context.Context, scope types.Scope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.scopes[scope]
	for _, d := range docs {
		delete(s.index, d.ID)
	}
	delete(s.scopes, scope)
	s.logger.Info("memory scope cleared", zap.String("scope", string(scope)), zap.Int("cleared", len(docs)))
	return nil
}

func (s *InMemoryStore) Query(ctx context.Context, scope types.Scope, query []float64, topK int) ([]types.ScoredDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	dim := s.dimension
	s.mu.RUnlock()
	if err := checkDimension(dim, len(query)); err != nil {
		return nil, err
	}
	return rank(s.snapshot(scope), query, topK), nil
}

func (s *InMemoryStore) SetUtility(ctx context.Context, id string, utility float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	scope, ok := s.index[id]
	if !ok {
		return types.Errorf(types.ErrNotFound, "memory document %s not found", id)
	}
	// Copy-on-write so earlier snapshots stay untouched.
	docs := append([]types.MemoryDocument(nil), s.scopes[scope]...)
	for i := range docs {
		if docs[i].ID == id {
			docs[i].Utility = utility
			break
		}
	}
	s.scopes[scope] = docs
	return nil
}

func (s *InMemoryStore) snapshot(scope types.Scope) []types.MemoryDocument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := s.scopes[scope]
	out := make([]types.MemoryDocument, len(docs))
	copy(out, docs)
	return out
}
