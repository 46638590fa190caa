package ml

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/ricesearch/mcqa/internal/config"
	"github.com/ricesearch/mcqa/internal/pkg/errors"
	"github.com/ricesearch/mcqa/internal/pkg/logger"
)

// EmbedMetrics records provider calls.
type EmbedMetrics interface {
	CacheMetrics
	ObserveEmbed(provider string, texts int, elapsed time.Duration, err error)
}

// Embedder maps text to fixed-length vectors. One Embedder is built at
// startup and shared read-only by every component that needs embeddings.
type Embedder struct {
	provider Provider
	dim      int
	cache    *EmbeddingCache
	limiter  *rate.Limiter
	metrics  EmbedMetrics
	log      *logger.Logger
}

// NewEmbedder wraps a provider. Vectors of any length other than
// cfg.EmbedDim are rejected.
func NewEmbedder(p Provider, cfg config.MLConfig, log *logger.Logger) *Embedder {
	e := &Embedder{
		provider: p,
		dim:      cfg.EmbedDim,
		cache:    NewEmbeddingCache(cfg.TextCacheSize),
		log:      log,
	}
	if cfg.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return e
}

// NewFromConfig builds the configured provider and checks that it answers.
// Any failure is EMBEDDER_UNAVAILABLE.
func NewFromConfig(ctx context.Context, cfg config.MLConfig, log *logger.Logger) (*Embedder, error) {
	httpClient := &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}

	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case "hash":
		p = NewHashProvider(cfg.EmbedDim)
	case "openai":
		p = NewOpenAIProvider(cfg, httpClient)
	case "ollama":
		p, err = NewOllamaProvider(cfg, httpClient)
	default:
		err = fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, errors.EmbedderUnavailableError("failed to create embed provider", err)
	}

	log.Info("Loading embedder", "provider", p.Name(), "dim", cfg.EmbedDim)

	e := NewEmbedder(p, cfg, log)
	if err := e.Ping(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// SetMetrics sets the metrics recorder for the embedder and its cache.
func (e *Embedder) SetMetrics(m EmbedMetrics) {
	e.metrics = m
	e.cache.SetMetrics(m)
}

// Dim returns the embedding dimension D.
func (e *Embedder) Dim() int {
	return e.dim
}

// Name identifies the underlying model. It is part of every feature cache key.
func (e *Embedder) Name() string {
	return e.provider.Name()
}

// Ping embeds a probe sentence to verify the provider is reachable and
// returns vectors of the configured dimension.
func (e *Embedder) Ping(ctx context.Context) error {
	if _, err := e.embedRemote(ctx, []string{"ping"}); err != nil {
		return errors.EmbedderUnavailableError("embedder did not answer", err)
	}
	return nil
}

// Embed returns the embedding of one text. The empty string is embedded
// like any other text, so it yields whatever degenerate vector the model
// produces for it. Text that is not valid UTF-8 is INVALID_INPUT.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds several texts with one provider call for the uncached ones.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	results := make([][]float64, len(texts))
	uncached := make([]int, 0, len(texts))
	uncachedTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if !utf8.ValidString(text) {
			return nil, errors.InvalidInputError("text is not valid UTF-8").
				WithDetail("index", fmt.Sprintf("%d", i))
		}
		if emb, ok := e.cache.Get(e.provider.Name(), text); ok {
			results[i] = emb
			continue
		}
		uncached = append(uncached, i)
		uncachedTexts = append(uncachedTexts, text)
	}

	if len(uncachedTexts) == 0 {
		return results, nil
	}

	embeddings, err := e.embedRemote(ctx, uncachedTexts)
	if err != nil {
		return nil, err
	}

	for i, idx := range uncached {
		results[idx] = embeddings[i]
		e.cache.Set(e.provider.Name(), uncachedTexts[i], embeddings[i])
	}

	return results, nil
}

func (e *Embedder) embedRemote(ctx context.Context, texts []string) ([][]float64, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	raw, err := e.provider.Embed(ctx, texts)
	if err == nil && len(raw) != len(texts) {
		err = fmt.Errorf("provider returned %d vectors for %d texts", len(raw), len(texts))
	}
	if e.metrics != nil {
		e.metrics.ObserveEmbed(e.provider.Name(), len(texts), time.Since(start), err)
	}
	if err != nil {
		return nil, fmt.Errorf("embedding %d texts with %s: %w", len(texts), e.provider.Name(), err)
	}

	out := make([][]float64, len(raw))
	for i, v := range raw {
		if len(v) != e.dim {
			return nil, errors.EmbedderUnavailableError(
				fmt.Sprintf("model %s returned %d dimensions, configured %d", e.provider.Name(), len(v), e.dim), nil)
		}
		vec := make([]float64, len(v))
		for j, x := range v {
			vec[j] = float64(x)
		}
		out[i] = vec
	}
	return out, nil
}

// HealthStatus represents embedder health.
type HealthStatus struct {
	Healthy  bool       `json:"healthy"`
	Provider string     `json:"provider"`
	Dim      int        `json:"dim"`
	Cache    CacheStats `json:"cache"`
	Error    string     `json:"error,omitempty"`
}

// Health probes the provider and reports cache usage.
func (e *Embedder) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy:  true,
		Provider: e.provider.Name(),
		Dim:      e.dim,
		Cache:    e.cache.Stats(),
	}
	if err := e.Ping(ctx); err != nil {
		status.Healthy = false
		status.Error = err.Error()
	}
	return status
}

// Close releases resources.
func (e *Embedder) Close() error {
	e.cache.Clear()
	return nil
}

// l2Normalize normalizes a vector to unit length.
func l2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}

	norm := float32(math.Sqrt(sum))
	if norm == 0 {
		return v
	}

	result := make([]float32, len(v))
	for i, x := range v {
		result[i] = x / norm
	}

	return result
}
