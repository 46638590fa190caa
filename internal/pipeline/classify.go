package pipeline

import (
	"context"
	"fmt"

	"github.com/ricesearch/mcqa/internal/decision"
	"github.com/ricesearch/mcqa/internal/pkg/errors"
	"github.com/ricesearch/mcqa/internal/record"
)

// Classification is the answer for one record.
type Classification struct {
	Option        record.Option
	Probabilities [3]float64

	// Degraded is set when the result is the uniform fallback rather than
	// a scored decision.
	Degraded bool
}

// Classify picks an answer for one record. It never fails: any error,
// including a panic below it, degrades to uniform probabilities and option A
// with a logged warning.
func (p *Pipeline) Classify(ctx context.Context, rec record.Record) (c Classification) {
	log := p.log.WithContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Classify panicked, using uniform weights", "panic", fmt.Sprint(r))
			c = fallback()
		}
		if p.metrics != nil {
			p.metrics.RecordDecision(c.Option.String(), c.Degraded)
		}
	}()

	dec, err := p.classify(ctx, rec)
	if err != nil {
		if errors.IsDegenerateScore(err) {
			log.Warn("Degenerate scores, using uniform weights", "error", err)
			return Classification{Option: dec.Option, Probabilities: dec.Probabilities, Degraded: true}
		}
		log.Warn("Classify failed, using uniform weights", "error", err)
		return fallback()
	}

	return Classification{Option: dec.Option, Probabilities: dec.Probabilities}
}

func (p *Pipeline) classify(ctx context.Context, rec record.Record) (decision.Decision, error) {
	model := p.Model()
	if model == nil {
		return decision.Decision{}, errors.ModelNotLoadedError()
	}

	vecs, err := p.embedder.EmbedBatch(ctx, []string{rec.Prompt(), rec.AnswerA, rec.AnswerB, rec.AnswerC})
	if err != nil {
		return decision.Decision{}, err
	}

	return decision.Decide(model, vecs[0], vecs[1], vecs[2], vecs[3])
}

func fallback() Classification {
	return Classification{
		Option:        record.OptionA,
		Probabilities: decision.Uniform,
		Degraded:      true,
	}
}
