package features

import (
	"fmt"

	"github.com/ricesearch/mcqa/internal/record"
)

// Joint returns the elementwise product of a context+question embedding and
// an answer embedding.
func Joint(cq, answer []float64) ([]float64, error) {
	if len(cq) != len(answer) {
		return nil, fmt.Errorf("cq has %d dims, answer %d: %w", len(cq), len(answer), ErrDimensionMismatch)
	}
	out := make([]float64, len(cq))
	for i := range cq {
		out[i] = cq[i] * answer[i]
	}
	return out, nil
}

// BuildTrainingSet turns N records into 3N joint features with binary
// relevance targets. Rows are ordered all-A, then all-B, then all-C. Exactly
// one option per record is positive, so the targets are 1:2 imbalanced.
func BuildTrainingSet(f *SplitFeatures) (*Matrix, []float64, error) {
	n := f.Len()
	dim := 0
	if f.CQ != nil {
		dim = f.CQ.Cols
	}
	if err := f.CheckShape(n, dim); err != nil {
		return nil, nil, err
	}

	x := NewMatrix(3*n, dim)
	y := make([]float64, 3*n)

	for k, opt := range record.Options {
		ans := f.Answer(opt)
		for i := 0; i < n; i++ {
			if !validLabel(f.Labels[i]) {
				return nil, nil, fmt.Errorf("record %d has label %d, want 1..3", i, f.Labels[i])
			}
			row := x.Row(k*n + i)
			cq, a := f.CQ.Row(i), ans.Row(i)
			for j := range row {
				row[j] = cq[j] * a[j]
			}
			if f.Labels[i] == opt.Label() {
				y[k*n+i] = 1
			}
		}
	}

	return x, y, nil
}

// ClassBalance counts positive and negative targets.
func ClassBalance(y []float64) (positives, negatives int) {
	for _, v := range y {
		if v > 0 {
			positives++
		} else {
			negatives++
		}
	}
	return positives, negatives
}

func validLabel(l int) bool {
	return l >= 1 && l <= 3
}
