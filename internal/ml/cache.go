package ml

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ricesearch/mcqa/internal/pkg/hash"
)

const defaultTextCacheSize = 10000

// CacheMetrics is the interface for recording cache metrics.
type CacheMetrics interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
	UpdateCacheSize(cacheType string, size int)
}

// textKey identifies one text as embedded by one model. Two models never
// share an entry, even for identical text.
type textKey struct {
	model  string
	digest string
}

// EmbeddingCache is an LRU of text embeddings. Answer strings repeat a lot
// across records ("Yes", "No", names), so most answer embeddings after the
// first few hundred records are hits.
type EmbeddingCache struct {
	entries *lru.Cache[textKey, []float64]
	maxSize int
	hits    atomic.Int64
	misses  atomic.Int64
	metrics CacheMetrics
}

// NewEmbeddingCache creates a cache holding at most maxSize vectors.
// A non-positive size selects the default.
func NewEmbeddingCache(maxSize int) *EmbeddingCache {
	if maxSize <= 0 {
		maxSize = defaultTextCacheSize
	}

	entries, err := lru.New[textKey, []float64](maxSize)
	if err != nil {
		// lru.New only fails for a non-positive size.
		panic(err)
	}
	return &EmbeddingCache{entries: entries, maxSize: maxSize}
}

// SetMetrics sets the metrics recorder. Call it before the cache is shared.
func (c *EmbeddingCache) SetMetrics(metrics CacheMetrics) {
	c.metrics = metrics
}

// Get returns a copy of the vector model produced for text.
func (c *EmbeddingCache) Get(model, text string) ([]float64, bool) {
	emb, ok := c.entries.Get(newTextKey(model, text))
	if !ok {
		c.misses.Add(1)
		if c.metrics != nil {
			c.metrics.RecordCacheMiss("text")
		}
		return nil, false
	}

	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.RecordCacheHit("text")
	}
	return append([]float64(nil), emb...), true
}

// Set stores a copy of the vector model produced for text, evicting the
// least recently used entry when full.
func (c *EmbeddingCache) Set(model, text string, embedding []float64) {
	c.entries.Add(newTextKey(model, text), append([]float64(nil), embedding...))
	if c.metrics != nil {
		c.metrics.UpdateCacheSize("text", c.entries.Len())
	}
}

// Size returns the number of cached vectors.
func (c *EmbeddingCache) Size() int {
	return c.entries.Len()
}

// Clear drops every entry. Hit and miss counts are kept.
func (c *EmbeddingCache) Clear() {
	c.entries.Purge()
	if c.metrics != nil {
		c.metrics.UpdateCacheSize("text", 0)
	}
}

// Stats returns cache statistics.
func (c *EmbeddingCache) Stats() CacheStats {
	return CacheStats{
		Size:    c.entries.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}

// CacheStats holds cache statistics.
type CacheStats struct {
	Size    int   `json:"size"`
	MaxSize int   `json:"max_size"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

func newTextKey(model, text string) textKey {
	return textKey{model: model, digest: hash.SHA256String(text)}
}
