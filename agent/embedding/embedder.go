// Package embedding turns text into fixed-dimension vectors for memory
// retrieval. Model runtimes are external; this package owns the lazy,
// idempotent initialization contract consumers depend on.
package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/BaSui01/agentcircle/types"
	"go.uber.org/zap"
)

// Embedder converts text into vectors of a fixed dimension.
type Embedder interface {
	// Init prepares the embedder. Repeated calls return the first result.
	Init(ctx context.Context) error
	// Ready reports whether Init completed successfully.
	Ready() bool
	// Dimension is the length of every vector returned by Embed.
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
}

// HashEmbedder is a deterministic feature-hashing embedder. Each lowercased
// token is hashed into a bucket with a hashed sign, then the vector is
// L2-normalized. Texts sharing vocabulary land close in cosine space.
type HashEmbedder struct {
	dim    int
	once   sync.Once
	err    error
	ready  bool
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewHashEmbedder creates a HashEmbedder producing vectors of length dim.
func NewHashEmbedder(dim int, logger *zap.Logger) *HashEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HashEmbedder{
		dim:    dim,
		logger: logger.With(zap.String("component", "embedder")),
	}
}

// Init validates the configuration once; later calls share the outcome.
func (e *HashEmbedder) Init(ctx context.Context) error {
	e.once.Do(func() {
		if err := ctx.Err(); err != nil {
			e.err = err
			return
		}
		if e.dim <= 0 {
			e.err = types.Errorf(types.ErrInvalidRequest, "embedding dimension must be positive, got %d", e.dim)
			return
		}
		e.mu.Lock()
		e.ready = true
		e.mu.Unlock()
		e.logger.Info("embedder ready", zap.Int("dimension", e.dim))
	})
	return e.err
}

// Ready reports whether Init succeeded.
func (e *HashEmbedder) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

// Dimension returns the vector length.
func (e *HashEmbedder) Dimension() int {
	return e.dim
}

// Embed hashes text into a normalized vector. Empty text yields the zero vector.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !e.Ready() {
		return nil, types.NewError(types.ErrEmbedderNotReady, "embedder not initialized")
	}

	vec := make([]float64, e.dim)
	for _, tok := range Tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dim))
		if sum&(1<<63) != 0 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}

// Tokenize lowercases text and splits it on anything that is not a letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
