// Package evaluation scores predicted option labels and persists them.
package evaluation

import (
	"fmt"
)

// Accuracy returns the fraction of positions where pred equals gold.
// Empty input scores 0.
func Accuracy(pred, gold []int) (float64, error) {
	if len(pred) != len(gold) {
		return 0, fmt.Errorf("%d predictions for %d gold labels", len(pred), len(gold))
	}
	if len(pred) == 0 {
		return 0, nil
	}

	correct := 0
	for i := range pred {
		if pred[i] == gold[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(pred)), nil
}

// Precision is the share of predictions of an option that were right.
func Precision(truePositives, predicted int) float64 {
	if predicted == 0 {
		return 0
	}
	return float64(truePositives) / float64(predicted)
}

// Recall is the share of gold instances of an option that were found.
func Recall(truePositives, support int) float64 {
	if support == 0 {
		return 0
	}
	return float64(truePositives) / float64(support)
}

// F1 is the harmonic mean of precision and recall.
func F1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

// NewReport builds a confusion matrix and per-option figures.
func NewReport(pred, gold []int) (*Report, error) {
	acc, err := Accuracy(pred, gold)
	if err != nil {
		return nil, err
	}

	r := &Report{Total: len(pred), Accuracy: acc}
	for i := range pred {
		if pred[i] == gold[i] {
			r.Correct++
		}
		g, p := gold[i]-1, pred[i]-1
		if g < 0 || g > 2 || p < 0 || p > 2 {
			r.Unscored++
			continue
		}
		r.Confusion[g][p]++
	}

	for k, name := range []string{"A", "B", "C"} {
		tp := r.Confusion[k][k]
		support, predicted := 0, 0
		for j := 0; j < 3; j++ {
			support += r.Confusion[k][j]
			predicted += r.Confusion[j][k]
		}
		s := OptionStats{
			Option:    name,
			Support:   support,
			Predicted: predicted,
			Precision: Precision(tp, predicted),
			Recall:    Recall(tp, support),
		}
		s.F1 = F1(s.Precision, s.Recall)
		r.Options = append(r.Options, s)
	}

	return r, nil
}
