// Package decision turns three relevance scores into a chosen option.
package decision

import (
	"fmt"
	"math"

	"github.com/ricesearch/mcqa/internal/features"
	"github.com/ricesearch/mcqa/internal/pkg/errors"
	"github.com/ricesearch/mcqa/internal/record"
)

// Scorer rates a joint feature vector. Higher means more likely correct.
type Scorer interface {
	Score(x []float64) float64
}

// dimensioned is implemented by scorers that only accept one input length.
type dimensioned interface {
	Dim() int
}

// Uniform is the fallback distribution.
var Uniform = [3]float64{1.0 / 3, 1.0 / 3, 1.0 / 3}

// Decision is the outcome for one record.
type Decision struct {
	Option        record.Option
	Scores        [3]float64
	Probabilities [3]float64
}

// Normalize divides each score by their sum. When the sum is zero, not
// finite, or any score is negative or not finite, it returns Uniform and a
// DEGENERATE_SCORE error.
func Normalize(scores [3]float64) ([3]float64, error) {
	var sum float64
	for _, s := range scores {
		if s < 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return Uniform, errors.DegenerateScoreError(fmt.Sprintf("invalid score in %v", scores))
		}
		sum += s
	}
	if sum == 0 || math.IsInf(sum, 0) {
		return Uniform, errors.DegenerateScoreError(fmt.Sprintf("scores %v do not normalise", scores))
	}

	var p [3]float64
	for i, s := range scores {
		p[i] = s / sum
	}
	return p, nil
}

// ArgMax returns the option with the highest probability. Ties go to the
// earliest option, so A beats B beats C.
func ArgMax(p [3]float64) record.Option {
	best := 0
	for i := 1; i < len(p); i++ {
		if p[i] > p[best] {
			best = i
		}
	}
	return record.Options[best]
}

// Decide scores the three joint features of one record and picks the most
// probable option. A degenerate score triple still yields a decision (A,
// from uniform probabilities) together with the DEGENERATE_SCORE error.
// Shape errors return a zero Decision.
func Decide(scorer Scorer, cq, a, b, c []float64) (Decision, error) {
	if d, ok := scorer.(dimensioned); ok && len(cq) != d.Dim() {
		return Decision{}, fmt.Errorf("scorer expects %d features, got %d: %w", d.Dim(), len(cq), features.ErrDimensionMismatch)
	}

	var dec Decision
	for i, ans := range [3][]float64{a, b, c} {
		joint, err := features.Joint(cq, ans)
		if err != nil {
			return Decision{}, fmt.Errorf("option %s: %w", record.Options[i], err)
		}
		dec.Scores[i] = scorer.Score(joint)
	}

	p, err := Normalize(dec.Scores)
	dec.Probabilities = p
	dec.Option = ArgMax(p)
	return dec, err
}

// DecideAll runs Decide for every record of a split. Degenerate score
// triples are reported through onDegenerate (which may be nil) and do not
// stop the run.
func DecideAll(scorer Scorer, f *features.SplitFeatures, onDegenerate func(i int, err error)) ([]Decision, error) {
	n := f.Len()
	if err := f.CheckShape(n, f.Dim()); err != nil {
		return nil, err
	}

	out := make([]Decision, n)
	for i := 0; i < n; i++ {
		dec, err := Decide(scorer, f.CQ.Row(i), f.A.Row(i), f.B.Row(i), f.C.Row(i))
		if err != nil {
			if !errors.IsDegenerateScore(err) {
				return nil, fmt.Errorf("record %d: %w", i, err)
			}
			if onDegenerate != nil {
				onDegenerate(i, err)
			}
		}
		out[i] = dec
	}
	return out, nil
}

// Labels returns the integer labels of decisions.
func Labels(decisions []Decision) []int {
	labels := make([]int, len(decisions))
	for i, d := range decisions {
		labels[i] = d.Option.Label()
	}
	return labels
}
