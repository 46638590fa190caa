package forest

import (
	"context"
	"math/rand/v2"
	"slices"
)

const leaf = -1

// Node is one node of a regression tree. Leaves have Feature == -1.
// Internal nodes send x to Left when x[Feature] <= Threshold.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
	Samples   int
}

// Tree is a CART regression tree stored as a flat node slice. Nodes[0] is
// the root.
type Tree struct {
	Nodes []Node
}

// Predict walks x down to a leaf and returns its value.
func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Feature == leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Depth returns the number of edges on the longest root-to-leaf path.
func (t *Tree) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := t.Nodes[i]
		if n.Feature == leaf {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}

// Leaves counts leaf nodes.
func (t *Tree) Leaves() int {
	count := 0
	for _, n := range t.Nodes {
		if n.Feature == leaf {
			count++
		}
	}
	return count
}

type sample struct {
	x float64
	y float64
}

// treeBuilder grows one tree over a fixed bootstrap sample. It is owned by a
// single goroutine.
type treeBuilder struct {
	ctx      context.Context
	x        Rows
	y        []float64
	cfg      Config
	mtry     int
	rng      *rand.Rand
	features []int
	buf      []sample
	nodes    []Node
}

func newTreeBuilder(ctx context.Context, x Rows, y []float64, cfg Config, rng *rand.Rand) *treeBuilder {
	d := x.Dim()
	features := make([]int, d)
	for i := range features {
		features[i] = i
	}
	return &treeBuilder{
		ctx:      ctx,
		x:        x,
		y:        y,
		cfg:      cfg,
		mtry:     cfg.featuresPerSplit(d),
		rng:      rng,
		features: features,
	}
}

func (b *treeBuilder) build(idx []int) (Tree, error) {
	b.buf = make([]sample, len(idx))
	if _, err := b.grow(idx, 0); err != nil {
		return Tree{}, err
	}
	return Tree{Nodes: b.nodes}, nil
}

// grow appends the subtree over idx and returns its root index.
func (b *treeBuilder) grow(idx []int, depth int) (int, error) {
	if err := b.ctx.Err(); err != nil {
		return 0, err
	}

	var sum, sumSq float64
	for _, i := range idx {
		sum += b.y[i]
		sumSq += b.y[i] * b.y[i]
	}
	n := float64(len(idx))
	mean := sum / n

	self := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: leaf, Value: mean, Samples: len(idx)})

	pure := sumSq-sum*sum/n <= 1e-12
	if pure || len(idx) < b.cfg.MinSamplesSplit || len(idx) < 2*b.cfg.MinSamplesLeaf ||
		(b.cfg.MaxDepth > 0 && depth >= b.cfg.MaxDepth) {
		return self, nil
	}

	feature, threshold, ok := b.bestSplit(idx, sum)
	if !ok {
		return self, nil
	}

	// Partition idx in place: left part is x[feature] <= threshold
	lo, hi := 0, len(idx)-1
	for lo <= hi {
		if b.x.Row(idx[lo])[feature] <= threshold {
			lo++
		} else {
			idx[lo], idx[hi] = idx[hi], idx[lo]
			hi--
		}
	}

	left, err := b.grow(idx[:lo], depth+1)
	if err != nil {
		return 0, err
	}
	right, err := b.grow(idx[lo:], depth+1)
	if err != nil {
		return 0, err
	}

	b.nodes[self].Feature = feature
	b.nodes[self].Threshold = threshold
	b.nodes[self].Left = left
	b.nodes[self].Right = right
	return self, nil
}

// bestSplit searches a random subset of features for the split that
// minimises the summed squared error of the two children. Like sklearn,
// constant features do not count towards the mtry budget, so drawing
// continues until mtry non-constant features were examined.
func (b *treeBuilder) bestSplit(idx []int, total float64) (feature int, threshold float64, ok bool) {
	n := len(idx)
	minLeaf := b.cfg.MinSamplesLeaf
	// Maximising sum_l^2/n_l + sum_r^2/n_r minimises child SSE
	bestScore := total * total / float64(n)
	const eps = 1e-12

	visited := 0
	d := len(b.features)
	for k := 0; k < d && visited < b.mtry; k++ {
		j := k + b.rng.IntN(d-k)
		b.features[k], b.features[j] = b.features[j], b.features[k]
		f := b.features[k]

		buf := b.buf[:n]
		for s, i := range idx {
			buf[s] = sample{x: b.x.Row(i)[f], y: b.y[i]}
		}
		slices.SortFunc(buf, func(a, c sample) int {
			switch {
			case a.x < c.x:
				return -1
			case a.x > c.x:
				return 1
			}
			return 0
		})
		if buf[0].x == buf[n-1].x {
			continue
		}
		visited++

		var leftSum float64
		for s := 0; s < n-1; s++ {
			leftSum += buf[s].y
			nl := s + 1
			if buf[s].x == buf[s+1].x || nl < minLeaf || n-nl < minLeaf {
				continue
			}
			rightSum := total - leftSum
			score := leftSum*leftSum/float64(nl) + rightSum*rightSum/float64(n-nl)
			if score > bestScore+eps {
				bestScore = score
				feature = f
				threshold = buf[s].x + (buf[s+1].x-buf[s].x)/2
				if threshold >= buf[s+1].x {
					threshold = buf[s].x
				}
				ok = true
			}
		}
	}
	return feature, threshold, ok
}
