package forest

import (
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/ricesearch/mcqa/internal/features"
)

// thresholdData labels a row 1 when its first feature exceeds 0.5.
func thresholdData(n, d int, seed uint64) (*features.Matrix, []float64) {
	rng := rand.New(rand.NewPCG(seed, 7))
	x := features.NewMatrix(n, d)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		row := x.Row(i)
		for j := range row {
			row[j] = rng.Float64()
		}
		if row[0] > 0.5 {
			y[i] = 1
		}
	}
	return x, y
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Trees = 20
	cfg.MaxFeatures = "all"
	return cfg
}

func TestFit_LearnsThreshold(t *testing.T) {
	x, y := thresholdData(200, 4, 1)

	f, err := Fit(context.Background(), x, y, testConfig())
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	high := f.Score([]float64{0.9, 0.3, 0.3, 0.3})
	low := f.Score([]float64{0.1, 0.3, 0.3, 0.3})
	if high < 0.8 {
		t.Errorf("Score(x0=0.9) = %v, want >= 0.8", high)
	}
	if low > 0.2 {
		t.Errorf("Score(x0=0.1) = %v, want <= 0.2", low)
	}
	if f.Dim() != 4 {
		t.Errorf("Dim() = %d, want 4", f.Dim())
	}
}

func TestScore_InUnitInterval(t *testing.T) {
	x, y := thresholdData(150, 6, 2)
	cfg := DefaultConfig()
	cfg.Trees = 15

	f, err := Fit(context.Background(), x, y, cfg)
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	probe, _ := thresholdData(50, 6, 3)
	for i := 0; i < probe.Rows; i++ {
		if s := f.Score(probe.Row(i)); s < 0 || s > 1 {
			t.Errorf("Score(row %d) = %v, want within [0, 1]", i, s)
		}
	}
}

func TestFit_DeterministicAcrossWorkers(t *testing.T) {
	x, y := thresholdData(120, 8, 4)
	probe, _ := thresholdData(40, 8, 5)

	cfg := DefaultConfig()
	cfg.Trees = 12

	cfg.Workers = 1
	serial, err := Fit(context.Background(), x, y, cfg)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Workers = 4
	parallel, err := Fit(context.Background(), x, y, cfg)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < probe.Rows; i++ {
		if a, b := serial.Score(probe.Row(i)), parallel.Score(probe.Row(i)); a != b {
			t.Fatalf("row %d: serial %v != parallel %v", i, a, b)
		}
	}
}

func TestFit_MaxDepth(t *testing.T) {
	x, y := thresholdData(100, 3, 6)
	cfg := testConfig()
	cfg.MaxDepth = 1

	f, err := Fit(context.Background(), x, y, cfg)
	if err != nil {
		t.Fatal(err)
	}
	for i := range f.Trees {
		if d := f.Trees[i].Depth(); d > 1 {
			t.Errorf("tree %d depth = %d, want <= 1", i, d)
		}
	}
	if s := f.Stats(); s.MaxDepth > 1 || s.Trees != cfg.Trees {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestFit_MinSamplesLeaf(t *testing.T) {
	x, y := thresholdData(200, 3, 8)
	cfg := testConfig()
	cfg.MinSamplesLeaf = 30

	f, err := Fit(context.Background(), x, y, cfg)
	if err != nil {
		t.Fatal(err)
	}
	for ti := range f.Trees {
		for _, n := range f.Trees[ti].Nodes {
			if n.Feature == leaf && n.Samples < 30 {
				t.Fatalf("tree %d has a leaf with %d samples", ti, n.Samples)
			}
		}
	}
}

func TestFit_Errors(t *testing.T) {
	x, y := thresholdData(10, 2, 9)
	ctx := context.Background()

	if _, err := Fit(ctx, features.NewMatrix(0, 2), nil, testConfig()); err == nil {
		t.Error("Fit() with no rows should fail")
	}
	if _, err := Fit(ctx, x, y[:5], testConfig()); err == nil {
		t.Error("Fit() with mismatched targets should fail")
	}

	bad := testConfig()
	bad.Trees = 0
	if _, err := Fit(ctx, x, y, bad); err == nil {
		t.Error("Fit() with zero trees should fail")
	}

	bad = testConfig()
	bad.MaxFeatures = "half"
	if _, err := Fit(ctx, x, y, bad); err == nil {
		t.Error("Fit() with invalid max features should fail")
	}
}

func TestFit_Cancelled(t *testing.T) {
	x, y := thresholdData(50, 3, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Fit(ctx, x, y, testConfig()); !errors.Is(err, context.Canceled) {
		t.Errorf("Fit() error = %v, want context.Canceled", err)
	}
}

func TestFeaturesPerSplit(t *testing.T) {
	tests := []struct {
		maxFeatures string
		d           int
		want        int
	}{
		{"sqrt", 1024, 32},
		{"log2", 1024, 10},
		{"all", 1024, 1024},
		{"7", 1024, 7},
		{"5000", 1024, 1024},
		{"log2", 1, 1},
		{"half", 1024, 0},
		{"0", 1024, 0},
	}

	for _, tt := range tests {
		t.Run(tt.maxFeatures, func(t *testing.T) {
			cfg := Config{MaxFeatures: tt.maxFeatures}
			if got := cfg.featuresPerSplit(tt.d); got != tt.want {
				t.Errorf("featuresPerSplit(%d) = %d, want %d", tt.d, got, tt.want)
			}
		})
	}
}

func TestSaveLoad(t *testing.T) {
	x, y := thresholdData(80, 5, 11)
	f, err := Fit(context.Background(), x, y, testConfig())
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "models", "forest.gob")
	if err := f.SaveFile(path); err != nil {
		t.Fatalf("SaveFile() error = %v", err)
	}
	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if loaded.NumFeatures != 5 || len(loaded.Trees) != len(f.Trees) {
		t.Fatalf("loaded forest = %d features, %d trees", loaded.NumFeatures, len(loaded.Trees))
	}
	for i := 0; i < x.Rows; i++ {
		if a, b := f.Score(x.Row(i)), loaded.Score(x.Row(i)); a != b {
			t.Fatalf("row %d: score %v after reload, want %v", i, b, a)
		}
	}
}

func TestLoad_Rejects(t *testing.T) {
	if _, err := Load(bytes.NewReader([]byte("not a model"))); err == nil {
		t.Error("Load() of garbage should fail")
	}

	var buf bytes.Buffer
	corrupt := &Forest{
		Version:     formatVersion,
		NumFeatures: 2,
		Trees:       []Tree{{Nodes: []Node{{Feature: 5, Left: 1, Right: 2}, {Feature: leaf}, {Feature: leaf}}}},
	}
	if err := corrupt.Save(&buf); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(&buf); err == nil {
		t.Error("Load() should reject a split on a feature outside the input")
	}

	buf.Reset()
	old := &Forest{Version: 99, NumFeatures: 1, Trees: []Tree{{Nodes: []Node{{Feature: leaf}}}}}
	if err := old.Save(&buf); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(&buf); err == nil {
		t.Error("Load() should reject an unknown version")
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.gob")); err == nil {
		t.Error("LoadFile() of missing file should fail")
	}
}

func TestTree_Predict(t *testing.T) {
	tree := Tree{Nodes: []Node{
		{Feature: 1, Threshold: 0.5, Left: 1, Right: 2},
		{Feature: leaf, Value: 0.25},
		{Feature: leaf, Value: 0.75},
	}}

	if got := tree.Predict([]float64{9, 0.5}); got != 0.25 {
		t.Errorf("Predict(x1=0.5) = %v, want 0.25 (ties go left)", got)
	}
	if got := tree.Predict([]float64{9, 0.6}); got != 0.75 {
		t.Errorf("Predict(x1=0.6) = %v, want 0.75", got)
	}
	if tree.Depth() != 1 || tree.Leaves() != 2 {
		t.Errorf("Depth() = %d, Leaves() = %d", tree.Depth(), tree.Leaves())
	}
}

func TestDefaultConfig_MatchesBaseline(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Trees != 1000 {
		t.Errorf("Trees = %d, want 1000", cfg.Trees)
	}
	if got := cfg.featuresPerSplit(1024); got != 1024 {
		t.Errorf("featuresPerSplit(1024) = %d, want every feature", got)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("validate() error = %v", err)
	}
}
