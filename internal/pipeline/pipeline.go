// Package pipeline wires records, embeddings, the feature cache, the scorer
// and the decision procedure into the train, predict and classify flows.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ricesearch/mcqa/internal/config"
	"github.com/ricesearch/mcqa/internal/decision"
	"github.com/ricesearch/mcqa/internal/evaluation"
	"github.com/ricesearch/mcqa/internal/features"
	"github.com/ricesearch/mcqa/internal/forest"
	"github.com/ricesearch/mcqa/internal/metrics"
	"github.com/ricesearch/mcqa/internal/ml"
	"github.com/ricesearch/mcqa/internal/pkg/errors"
	"github.com/ricesearch/mcqa/internal/pkg/logger"
	"github.com/ricesearch/mcqa/internal/record"
)

// Split names used as feature cache keys.
const (
	SplitTrain = "train"
	SplitTest  = "test"
)

// Pipeline owns the embedder, the feature cache and the current scorer.
// Train and Predict are meant to be called from one goroutine; Classify is
// safe for concurrent use once a scorer is set.
type Pipeline struct {
	cfg      *config.Config
	embedder *ml.Embedder
	store    features.Store
	cache    *features.Cache
	metrics  *metrics.Metrics
	log      *logger.Logger

	mu    sync.RWMutex
	model *forest.Forest
}

// New creates a pipeline from already constructed parts. m may be nil.
func New(cfg *config.Config, embedder *ml.Embedder, store features.Store, m *metrics.Metrics, log *logger.Logger) *Pipeline {
	cache := features.NewCache(store, embedder, cfg.Embed, log)
	if m != nil {
		embedder.SetMetrics(m)
		cache.SetMetrics(m)
	}
	return &Pipeline{
		cfg:      cfg,
		embedder: embedder,
		store:    store,
		cache:    cache,
		metrics:  m,
		log:      log,
	}
}

// NewFromConfig builds the embedder, the cache store and, when enabled,
// the metrics registry. The embedder is probed before returning.
func NewFromConfig(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Pipeline, error) {
	embedder, err := ml.NewFromConfig(ctx, cfg.ML, log)
	if err != nil {
		return nil, err
	}

	store, err := features.NewStore(ctx, cfg.Cache)
	if err != nil {
		embedder.Close()
		return nil, fmt.Errorf("opening feature cache: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	return New(cfg, embedder, store, m, log), nil
}

// Metrics returns the metrics registry, or nil when disabled.
func (p *Pipeline) Metrics() *metrics.Metrics {
	return p.metrics
}

// Embedder returns the owned embedder.
func (p *Pipeline) Embedder() *ml.Embedder {
	return p.embedder
}

// Model returns the current scorer, or nil.
func (p *Pipeline) Model() *forest.Forest {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model
}

// SetModel replaces the current scorer.
func (p *Pipeline) SetModel(f *forest.Forest) {
	p.mu.Lock()
	p.model = f
	p.mu.Unlock()
}

// LoadModel reads a scorer saved by SaveModel and makes it current. The
// scorer must accept vectors of the embedder's dimension.
func (p *Pipeline) LoadModel(path string) error {
	f, err := forest.LoadFile(path)
	if err != nil {
		return err
	}
	if f.Dim() != p.embedder.Dim() {
		return fmt.Errorf("model %s expects %d features but the embedder produces %d: %w",
			path, f.Dim(), p.embedder.Dim(), features.ErrDimensionMismatch)
	}
	p.SetModel(f)
	p.log.Info("Loaded model", "path", path, "trees", len(f.Trees), "dim", f.Dim())
	return nil
}

// SaveModel writes the current scorer to path.
func (p *Pipeline) SaveModel(path string) error {
	f := p.Model()
	if f == nil {
		return errors.ModelNotLoadedError()
	}
	return f.SaveFile(path)
}

// Train fits a new scorer on labelled records and makes it current.
func (p *Pipeline) Train(ctx context.Context, records []record.Record) (*forest.Forest, error) {
	ctx = withRunID(ctx)
	log := p.log.WithContext(ctx).WithSplit(SplitTrain)

	if len(records) == 0 {
		return nil, errors.InvalidInputError("no training records")
	}

	feats, err := p.cache.LoadOrCompute(ctx, SplitTrain, records)
	if err != nil {
		return nil, fmt.Errorf("train features: %w", err)
	}

	x, y, err := features.BuildTrainingSet(feats)
	if err != nil {
		return nil, fmt.Errorf("building training set: %w", err)
	}
	pos, neg := features.ClassBalance(y)
	log.Info("Built training set", "rows", x.Rows, "dim", x.Cols, "positives", pos, "negatives", neg)

	cfg := forest.ConfigFrom(p.cfg.Forest)
	start := time.Now()
	f, err := forest.Fit(ctx, x, y, cfg)
	if err != nil {
		return nil, fmt.Errorf("fitting scorer: %w", err)
	}
	elapsed := time.Since(start)

	stats := f.Stats()
	log.Info("Fitted scorer", "trees", stats.Trees, "max_depth", stats.MaxDepth,
		"avg_leaves", stats.AvgLeaves, "duration", elapsed)
	if p.metrics != nil {
		p.metrics.ObserveFit(x.Rows, elapsed)
	}

	p.SetModel(f)
	return f, nil
}

// Predict returns one label 1..3 per record, in input order.
func (p *Pipeline) Predict(ctx context.Context, split string, records []record.Record) ([]int, error) {
	ctx = withRunID(ctx)
	log := p.log.WithContext(ctx).WithSplit(split)

	model := p.Model()
	if model == nil {
		return nil, errors.ModelNotLoadedError()
	}

	feats, err := p.cache.LoadOrCompute(ctx, split, records)
	if err != nil {
		return nil, fmt.Errorf("%s features: %w", split, err)
	}

	degenerate := 0
	decisions, err := decision.DecideAll(model, feats, func(i int, err error) {
		degenerate++
		log.Warn("Degenerate scores, using uniform weights", "line", records[i].Line, "error", err)
	})
	if err != nil {
		return nil, err
	}

	if p.metrics != nil {
		for _, d := range decisions {
			p.metrics.RecordDecision(d.Option.String(), false)
		}
		p.metrics.Degraded.Add(float64(degenerate))
	}

	log.Info("Predicted", "records", len(decisions), "degenerate", degenerate)
	return decision.Labels(decisions), nil
}

// Run is the batch flow: train on trainPath, predict inputPath, report
// accuracy against its gold labels and write the predictions to outputPath.
func (p *Pipeline) Run(ctx context.Context, trainPath, inputPath, outputPath string) (*evaluation.Report, error) {
	ctx = withRunID(ctx)
	log := p.log.WithContext(ctx)

	train, err := record.Load(trainPath)
	if err != nil {
		return nil, err
	}
	test, err := record.Load(inputPath)
	if err != nil {
		return nil, err
	}
	log.Info("Loaded records", "train", len(train), "test", len(test))

	if _, err := p.Train(ctx, train); err != nil {
		return nil, err
	}

	pred, err := p.Predict(ctx, SplitTest, test)
	if err != nil {
		return nil, err
	}

	report, err := evaluation.NewReport(pred, record.Labels(test))
	if err != nil {
		return nil, err
	}
	log.Info("Accuracy", "accuracy", report.Accuracy, "correct", report.Correct, "total", report.Total)
	for _, o := range report.Options {
		log.Debug("Option summary", "option", o.Option, "precision", o.Precision, "recall", o.Recall, "support", o.Support)
	}
	if p.metrics != nil {
		p.metrics.SetAccuracy(SplitTest, report.Accuracy)
	}

	if err := evaluation.WritePredictions(outputPath, pred); err != nil {
		return nil, err
	}
	log.Info("Wrote predictions", "path", outputPath, "count", len(pred))

	return report, nil
}

// Health reports embedder and model readiness.
type Health struct {
	Healthy     bool            `json:"healthy"`
	ModelLoaded bool            `json:"model_loaded"`
	Embedder    ml.HealthStatus `json:"embedder"`
}

// Health probes the embedder and checks that a scorer is set.
func (p *Pipeline) Health(ctx context.Context) Health {
	h := Health{
		ModelLoaded: p.Model() != nil,
		Embedder:    p.embedder.Health(ctx),
	}
	h.Healthy = h.ModelLoaded && h.Embedder.Healthy
	return h
}

// Close releases the cache store and the embedder.
func (p *Pipeline) Close() error {
	serr := p.store.Close()
	eerr := p.embedder.Close()
	if serr != nil {
		return serr
	}
	return eerr
}

func withRunID(ctx context.Context) context.Context {
	if logger.RunID(ctx) != "" {
		return ctx
	}
	return logger.ContextWithRunID(ctx, uuid.NewString())
}

// InvalidateCache drops the cached features of a split.
func (p *Pipeline) InvalidateCache(ctx context.Context, split string) error {
	return p.cache.Invalidate(ctx, split)
}
