package engine

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Mode controls whether evaluation stops at the first exclusion.
type Mode int

const (
	// Accumulate runs every rule so the report lists all rejections.
	Accumulate Mode = iota
	// ShortCircuit stops at the first exclusion.
	ShortCircuit
)

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "accumulate":
		return Accumulate, nil
	case "short_circuit", "short-circuit", "shortcircuit":
		return ShortCircuit, nil
	}
	return Accumulate, fmt.Errorf("unknown evaluation mode %q", s)
}

func (m Mode) String() string {
	if m == ShortCircuit {
		return "short_circuit"
	}
	return "accumulate"
}

// evaluationRule labels the rejection produced when a creative's evaluation panics.
const evaluationRule = "evaluation"

// validationRule labels the rejection given to a creative that fails Validate.
const validationRule = "validation"

// Evaluator runs a rule list against creatives. It keeps no state between calls.
type Evaluator struct {
	mode    Mode
	workers int
}

type Option func(*Evaluator)

func WithMode(m Mode) Option { return func(e *Evaluator) { e.mode = m } }

// WithWorkers bounds parallelism of EvaluateAll. n <= 0 means GOMAXPROCS.
func WithWorkers(n int) Option { return func(e *Evaluator) { e.workers = n } }

func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{mode: Accumulate}
	for _, o := range opts {
		o(e)
	}
	if e.workers <= 0 {
		e.workers = runtime.GOMAXPROCS(0)
	}
	return e
}

func (e *Evaluator) Mode() Mode { return e.mode }

// Evaluate runs rules in order against a validated creative.
func (e *Evaluator) Evaluate(c CreativeAd, rules []ExclusionRule) EligibilityReport {
	rep := EligibilityReport{CreativeID: c.ID, Rejections: []Rejection{}}
	for _, r := range rules {
		v := r.ShouldExclude(c)
		if v.Unscoped {
			log.Debug().
				Str("rule", r.Name()).
				Str("creative_id", c.ID).
				Msg("creative lacks the scope key for rule; treating as unconstrained")
			continue
		}
		if !v.Excluded {
			continue
		}
		rep.Rejections = append(rep.Rejections, Rejection{
			Rule:     r.Name(),
			Identity: r.Identity(c),
			Reason:   v.Reason,
		})
		if e.mode == ShortCircuit {
			break
		}
	}
	rep.Eligible = len(rep.Rejections) == 0
	return rep
}

// EvaluateAll evaluates creatives in parallel and returns reports in input order.
// A panic while evaluating one creative is confined to that creative's report.
func (e *Evaluator) EvaluateAll(creatives []CreativeAd, rules []ExclusionRule) []EligibilityReport {
	out := make([]EligibilityReport, len(creatives))
	var g errgroup.Group
	g.SetLimit(e.workers)
	for i := range creatives {
		g.Go(func() error {
			out[i] = e.safeEvaluate(creatives[i], rules)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (e *Evaluator) safeEvaluate(c CreativeAd, rules []ExclusionRule) (rep EligibilityReport) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("creative_id", c.ID).
				Interface("panic", r).
				Msg("creative evaluation failed")
			rep = EligibilityReport{
				CreativeID: c.ID,
				Eligible:   false,
				Rejections: []Rejection{{
					Rule:     evaluationRule,
					Identity: c.ID,
					Reason:   fmt.Sprintf("evaluation failed: %v", r),
				}},
			}
		}
	}()
	return e.Evaluate(c, rules)
}
