package library

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/BaSui01/agentcircle/types"
	"go.uber.org/zap"
)

// Cache is the subset of internal/cache.Manager the library needs.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
}

const generationKey = "library:gen"

// CachedLibrary caches Get and Search results of another Library. Every Save
// bumps a generation counter so cached searches are never served stale.
// Cache failures fall through to the wrapped library.
type CachedLibrary struct {
	inner  Library
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedLibrary wraps inner. ttl of 0 uses the cache default.
func NewCachedLibrary(inner Library, cache Cache, ttl time.Duration, logger *zap.Logger) *CachedLibrary {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedLibrary{
		inner:  inner,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "library_cache")),
	}
}

func (c *CachedLibrary) Save(ctx context.Context, doc types.LibraryDocument) (types.LibraryDocument, error) {
	saved, err := c.inner.Save(ctx, doc)
	if err != nil {
		return saved, err
	}
	if _, err := c.cache.Incr(ctx, generationKey); err != nil {
		c.logger.Warn("bump library generation failed", zap.Error(err))
	}
	return saved, nil
}

func (c *CachedLibrary) Get(ctx context.Context, id string) (types.LibraryDocument, error) {
	key := "library:doc:" + id
	var doc types.LibraryDocument
	if err := c.cache.GetJSON(ctx, key, &doc); err == nil {
		return doc, nil
	}
	doc, err := c.inner.Get(ctx, id)
	if err != nil {
		return doc, err
	}
	if err := c.cache.SetJSON(ctx, key, doc, c.ttl); err != nil {
		c.logger.Debug("cache library document failed", zap.String("id", id), zap.Error(err))
	}
	return doc, nil
}

func (c *CachedLibrary) List(ctx context.Context, limit int) ([]types.LibraryDocument, error) {
	return c.inner.List(ctx, limit)
}

func (c *CachedLibrary) Search(ctx context.Context, query []float64, topK int) ([]SearchResult, error) {
	gen, err := c.cache.Get(ctx, generationKey)
	if err != nil {
		// 计数器缺失等同第 0 代
		gen = "0"
	}
	key := fmt.Sprintf("library:search:%s:%s", gen, searchKey(query, topK))

	var hits []SearchResult
	if err := c.cache.GetJSON(ctx, key, &hits); err == nil {
		return hits, nil
	}
	hits, err = c.inner.Search(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetJSON(ctx, key, hits, c.ttl); err != nil {
		c.logger.Debug("cache library search failed", zap.Error(err))
	}
	return hits, nil
}

func searchKey(query []float64, topK int) string {
	h := sha256.New()
	var buf [8]byte
	for _, v := range query {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	h.Write([]byte(strconv.Itoa(topK)))
	return hex.EncodeToString(h.Sum(nil)[:16])
}
