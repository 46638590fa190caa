package features

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/ricesearch/mcqa/internal/config"
	"github.com/ricesearch/mcqa/internal/ml"
	apperrors "github.com/ricesearch/mcqa/internal/pkg/errors"
	"github.com/ricesearch/mcqa/internal/pkg/hash"
	"github.com/ricesearch/mcqa/internal/pkg/logger"
	"github.com/ricesearch/mcqa/internal/record"
)

const cacheType = "features"

var splitName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Embedder produces fixed-dimension embeddings for a batch of texts.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
	Dim() int
	Name() string
}

// Manifest identifies the record set a cached split was computed from.
// It is written after every other artifact.
type Manifest struct {
	Split       string    `yaml:"split"`
	Records     int       `yaml:"records"`
	ContentHash string    `yaml:"content_hash"`
	Model       string    `yaml:"model"`
	Dim         int       `yaml:"dim"`
	RunID       string    `yaml:"run_id,omitempty"`
	CreatedAt   time.Time `yaml:"created_at"`
}

func (m Manifest) sameKey(o Manifest) bool {
	return m.Split == o.Split &&
		m.Records == o.Records &&
		m.ContentHash == o.ContentHash &&
		m.Model == o.Model &&
		m.Dim == o.Dim
}

// ContentHash digests every field of every record, in order.
func ContentHash(records []record.Record) string {
	d := hash.NewDigest()
	for _, r := range records {
		d.Add(r.Context, r.Question, r.AnswerA, r.AnswerB, r.AnswerC, strconv.Itoa(r.Correct.Label()))
	}
	return d.Sum()
}

// Cache computes split features and persists them in a Store.
type Cache struct {
	store         Store
	embedder      Embedder
	workers       int
	progressEvery int
	metrics       ml.CacheMetrics
	log           *logger.Logger
}

// NewCache creates a feature cache.
func NewCache(store Store, embedder Embedder, cfg config.EmbedConfig, log *logger.Logger) *Cache {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Cache{
		store:         store,
		embedder:      embedder,
		workers:       workers,
		progressEvery: cfg.ProgressEvery,
		log:           log,
	}
}

// SetMetrics sets the metrics recorder.
func (c *Cache) SetMetrics(m ml.CacheMetrics) {
	c.metrics = m
}

// errKeyChanged reports a readable manifest written for other records, another
// model or another dimension. The artifacts are overwritten by the next save.
var errKeyChanged = errors.New("feature cache key changed")

// LoadOrCompute returns the features of a split, from the store when a
// cached copy matches records, otherwise by embedding every record and
// persisting the result. A stale or malformed cached copy is deleted.
func (c *Cache) LoadOrCompute(ctx context.Context, split string, records []record.Record) (*SplitFeatures, error) {
	if !splitName.MatchString(split) {
		return nil, apperrors.InvalidInputError(fmt.Sprintf("invalid split name %q", split))
	}

	log := c.log.WithContext(ctx).WithSplit(split)
	want := c.manifestFor(split, records)

	f, err := c.load(ctx, split, want)
	switch {
	case err == nil:
		c.recordHit()
		log.Info("Loaded cached features", "records", f.Len(), "dim", f.Dim())
		return f, nil
	case errors.Is(err, ErrNotFound):
		log.Info("No cached features, computing", "records", len(records))
	case errors.Is(err, errKeyChanged):
		log.Info("Cached features are for other records, recomputing", "reason", err)
	case apperrors.IsCacheShapeMismatch(err):
		log.Warn("Discarding stale feature cache", "error", err)
		if derr := c.store.Delete(ctx, artifactNames(split)...); derr != nil {
			log.Warn("Failed to delete stale feature cache", "error", derr)
		}
	default:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("Feature cache unreadable, recomputing", "error", err)
	}
	c.recordMiss()

	start := time.Now()
	f, err = c.Compute(ctx, records)
	if err != nil {
		return nil, err
	}
	log.Info("Computed features", "records", f.Len(), "duration", time.Since(start))

	want.RunID = logger.RunID(ctx)
	want.CreatedAt = time.Now().UTC()
	if err := c.save(ctx, split, f, want); err != nil {
		log.Warn("Failed to persist feature cache", "error", err)
	}

	return f, nil
}

// Compute embeds every record without touching the store. Records are
// spread over a bounded set of workers; each worker writes only the rows
// of the records it owns.
func (c *Cache) Compute(ctx context.Context, records []record.Record) (*SplitFeatures, error) {
	n, dim := len(records), c.embedder.Dim()
	f := &SplitFeatures{
		CQ:     NewMatrix(n, dim),
		A:      NewMatrix(n, dim),
		B:      NewMatrix(n, dim),
		C:      NewMatrix(n, dim),
		Labels: record.Labels(records),
	}
	targets := [4]*Matrix{f.CQ, f.A, f.B, f.C}

	log := c.log.WithContext(ctx)
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for i := range records {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec := records[i]
			vecs, err := c.embedder.EmbedBatch(gctx, []string{rec.Prompt(), rec.AnswerA, rec.AnswerB, rec.AnswerC})
			if err != nil {
				return fmt.Errorf("embedding record at line %d: %w", rec.Line, err)
			}
			for k, m := range targets {
				if err := m.SetRow(i, vecs[k]); err != nil {
					return err
				}
			}
			if d := done.Add(1); c.progressEvery > 0 && d%int64(c.progressEvery) == 0 {
				log.Info("Embedding progress", "done", d, "total", n)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f, nil
}

// Invalidate removes every cached artifact of a split.
func (c *Cache) Invalidate(ctx context.Context, split string) error {
	return c.store.Delete(ctx, artifactNames(split)...)
}

func (c *Cache) manifestFor(split string, records []record.Record) Manifest {
	return Manifest{
		Split:       split,
		Records:     len(records),
		ContentHash: ContentHash(records),
		Model:       c.embedder.Name(),
		Dim:         c.embedder.Dim(),
	}
}

func (c *Cache) load(ctx context.Context, split string, want Manifest) (*SplitFeatures, error) {
	raw, err := c.store.Get(ctx, manifestName(split))
	if err != nil {
		return nil, err
	}

	var got Manifest
	if err := yaml.Unmarshal(raw, &got); err != nil {
		return nil, apperrors.CacheShapeMismatchError(split, fmt.Sprintf("unreadable manifest: %v", err))
	}
	if !got.sameKey(want) {
		return nil, fmt.Errorf("%w: cached %d records of %s/%d, want %d records of %s/%d",
			errKeyChanged, got.Records, got.Model, got.Dim, want.Records, want.Model, want.Dim)
	}

	f := &SplitFeatures{}
	for _, field := range matrixFields {
		data, err := c.store.Get(ctx, artifactName(split, field))
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.CacheShapeMismatchError(split, field+" matrix missing")
		}
		if err != nil {
			return nil, err
		}
		m, err := DecodeMatrix(bytes.NewReader(data))
		if err != nil {
			return nil, apperrors.CacheShapeMismatchError(split, fmt.Sprintf("%s matrix: %v", field, err))
		}
		f.setField(field, m)
	}

	data, err := c.store.Get(ctx, artifactName(split, "labels"))
	if errors.Is(err, ErrNotFound) {
		return nil, apperrors.CacheShapeMismatchError(split, "labels missing")
	}
	if err != nil {
		return nil, err
	}
	if f.Labels, err = DecodeLabels(bytes.NewReader(data)); err != nil {
		return nil, apperrors.CacheShapeMismatchError(split, fmt.Sprintf("labels: %v", err))
	}

	if err := f.CheckShape(want.Records, want.Dim); err != nil {
		return nil, apperrors.CacheShapeMismatchError(split, err.Error())
	}
	return f, nil
}

func (c *Cache) save(ctx context.Context, split string, f *SplitFeatures, m Manifest) error {
	var buf bytes.Buffer
	for _, field := range matrixFields {
		buf.Reset()
		if err := EncodeMatrix(&buf, f.field(field)); err != nil {
			return err
		}
		if err := c.store.Put(ctx, artifactName(split, field), buf.Bytes()); err != nil {
			return err
		}
	}

	buf.Reset()
	if err := EncodeLabels(&buf, f.Labels); err != nil {
		return err
	}
	if err := c.store.Put(ctx, artifactName(split, "labels"), buf.Bytes()); err != nil {
		return err
	}

	raw, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	return c.store.Put(ctx, manifestName(split), raw)
}

func (c *Cache) recordHit() {
	if c.metrics != nil {
		c.metrics.RecordCacheHit(cacheType)
	}
}

func (c *Cache) recordMiss() {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(cacheType)
	}
}

var matrixFields = []string{"cq", "A", "B", "C"}

func (f *SplitFeatures) field(name string) *Matrix {
	switch name {
	case "cq":
		return f.CQ
	case "A":
		return f.A
	case "B":
		return f.B
	case "C":
		return f.C
	}
	return nil
}

func (f *SplitFeatures) setField(name string, m *Matrix) {
	switch name {
	case "cq":
		f.CQ = m
	case "A":
		f.A = m
	case "B":
		f.B = m
	case "C":
		f.C = m
	}
}

func artifactName(split, field string) string {
	return split + "_" + field + ".txt"
}

func manifestName(split string) string {
	return split + "_manifest.yaml"
}

func artifactNames(split string) []string {
	names := make([]string, 0, len(matrixFields)+2)
	for _, f := range matrixFields {
		names = append(names, artifactName(split, f))
	}
	return append(names, artifactName(split, "labels"), manifestName(split))
}
