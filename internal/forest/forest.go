// Package forest implements a bagged ensemble of CART regression trees.
package forest

import (
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/ricesearch/mcqa/internal/config"
)

const formatVersion = 1

// Rows is a read-only row-major dataset.
type Rows interface {
	Len() int
	Dim() int
	Row(i int) []float64
}

// Config controls tree growth and bagging.
type Config struct {
	Trees           int
	MaxDepth        int // 0 = unlimited
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     string // sqrt, log2, all or a positive integer
	Seed            int64
	Workers         int // 0 = GOMAXPROCS
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Trees:           1000,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     "all",
		Seed:            42,
	}
}

// ConfigFrom converts the application forest settings.
func ConfigFrom(c config.ForestConfig) Config {
	return Config{
		Trees:           c.Trees,
		MaxDepth:        c.MaxDepth,
		MinSamplesSplit: c.MinSamplesSplit,
		MinSamplesLeaf:  c.MinSamplesLeaf,
		MaxFeatures:     c.MaxFeatures,
		Seed:            c.Seed,
		Workers:         c.Workers,
	}
}

func (c Config) validate() error {
	if c.Trees < 1 {
		return fmt.Errorf("trees must be positive, got %d", c.Trees)
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("max depth must not be negative, got %d", c.MaxDepth)
	}
	if c.MinSamplesSplit < 2 {
		return fmt.Errorf("min samples split must be at least 2, got %d", c.MinSamplesSplit)
	}
	if c.MinSamplesLeaf < 1 {
		return fmt.Errorf("min samples leaf must be at least 1, got %d", c.MinSamplesLeaf)
	}
	if c.featuresPerSplit(1) < 1 {
		return fmt.Errorf("invalid max features %q", c.MaxFeatures)
	}
	return nil
}

// featuresPerSplit returns how many features each split examines for d
// input features, or 0 when MaxFeatures is invalid.
func (c Config) featuresPerSplit(d int) int {
	var k int
	switch c.MaxFeatures {
	case "sqrt", "":
		k = int(math.Sqrt(float64(d)))
	case "log2":
		k = int(math.Log2(float64(d)))
	case "all":
		k = d
	default:
		n, err := strconv.Atoi(c.MaxFeatures)
		if err != nil || n < 1 {
			return 0
		}
		k = n
	}
	return max(1, min(k, d))
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Forest is a fitted ensemble. It is immutable after Fit and safe for
// concurrent Score calls.
type Forest struct {
	Version     int
	NumFeatures int
	Config      Config
	Trees       []Tree
}

// Fit grows cfg.Trees regression trees, each on its own bootstrap sample of
// the rows of x. Tree t draws from a generator seeded with cfg.Seed+t, so
// the result does not depend on the number of workers.
func Fit(ctx context.Context, x Rows, y []float64, cfg Config) (*Forest, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	n := x.Len()
	if n == 0 {
		return nil, fmt.Errorf("no training samples")
	}
	if len(y) != n {
		return nil, fmt.Errorf("%d rows but %d targets", n, len(y))
	}
	if x.Dim() == 0 {
		return nil, fmt.Errorf("training rows have no features")
	}

	f := &Forest{
		Version:     formatVersion,
		NumFeatures: x.Dim(),
		Config:      cfg,
		Trees:       make([]Tree, cfg.Trees),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers())

	for t := range f.Trees {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			seed := uint64(cfg.Seed + int64(t))
			rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

			idx := make([]int, n)
			for i := range idx {
				idx[i] = rng.IntN(n)
			}

			tree, err := newTreeBuilder(gctx, x, y, cfg, rng).build(idx)
			if err != nil {
				return err
			}
			f.Trees[t] = tree
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

// Dim returns the expected feature vector length.
func (f *Forest) Dim() int {
	return f.NumFeatures
}

// Score returns the mean prediction of all trees. For 0/1 targets it lies in
// [0, 1]. x must have Dim() values.
func (f *Forest) Score(x []float64) float64 {
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].Predict(x)
	}
	return sum / float64(len(f.Trees))
}

// Stats summarises tree shapes.
type Stats struct {
	Trees     int     `json:"trees"`
	MaxDepth  int     `json:"max_depth"`
	AvgLeaves float64 `json:"avg_leaves"`
}

// Stats reports the size of the fitted ensemble.
func (f *Forest) Stats() Stats {
	s := Stats{Trees: len(f.Trees)}
	total := 0
	for i := range f.Trees {
		s.MaxDepth = max(s.MaxDepth, f.Trees[i].Depth())
		total += f.Trees[i].Leaves()
	}
	if s.Trees > 0 {
		s.AvgLeaves = float64(total) / float64(s.Trees)
	}
	return s
}

// Save encodes the forest with gob.
func (f *Forest) Save(w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(f); err != nil {
		return fmt.Errorf("encoding forest: %w", err)
	}
	return nil
}

// Load decodes a forest written by Save.
func Load(r io.Reader) (*Forest, error) {
	var f Forest
	if err := gob.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding forest: %w", err)
	}
	if f.Version != formatVersion {
		return nil, fmt.Errorf("unsupported model version %d", f.Version)
	}
	if len(f.Trees) == 0 || f.NumFeatures < 1 {
		return nil, fmt.Errorf("model has no trees")
	}
	for t := range f.Trees {
		if err := f.Trees[t].check(f.NumFeatures); err != nil {
			return nil, fmt.Errorf("tree %d: %w", t, err)
		}
	}
	return &f, nil
}

// SaveFile writes the forest to path through a temp file and rename.
func (f *Forest) SaveFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating model dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := f.Save(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadFile reads a forest written by SaveFile.
func LoadFile(path string) (*Forest, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening model: %w", err)
	}
	defer file.Close()
	return Load(file)
}

// check guards Predict against corrupt node indices.
func (t *Tree) check(dim int) error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("no nodes")
	}
	for i, n := range t.Nodes {
		if n.Feature == leaf {
			continue
		}
		if n.Feature < 0 || n.Feature >= dim {
			return fmt.Errorf("node %d splits on feature %d of %d", i, n.Feature, dim)
		}
		if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d has invalid children", i)
		}
	}
	return nil
}
