package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"ad-eligibility-engine/internal/cache"
)

// EventLoader fetches the events a snapshot is built from.
// A zero since means the full history.
type EventLoader interface {
	LoadEvents(ctx context.Context, since time.Time) ([]AdEvent, error)
}

// ErrZeroNow is returned when a pass is asked to evaluate at the zero instant.
var ErrZeroNow = errors.New("evaluation instant must be set")

// Service is the entry point collaborators call. It publishes one immutable
// event snapshot per Refresh; each EvaluateAll reads it exactly once.
type Service struct {
	refreshMu sync.Mutex
	snap      cache.Snapshot[*Snapshot]
	eval      *Evaluator
	history   time.Duration
	disabled  []string
	clock     func() time.Time
}

type ServiceOption func(*Service)

// WithHistory bounds how far back Refresh loads events. 0 loads everything.
// It is ignored while any unbounded rule (see UnboundedRules) is enabled.
func WithHistory(d time.Duration) ServiceOption { return func(s *Service) { s.history = d } }

// WithDisabledRules removes catalog rules by name.
func WithDisabledRules(names ...string) ServiceOption {
	return func(s *Service) { s.disabled = append(s.disabled, names...) }
}

// WithClock overrides the clock Refresh uses to compute the history cutoff.
func WithClock(now func() time.Time) ServiceOption { return func(s *Service) { s.clock = now } }

func NewService(eval *Evaluator, opts ...ServiceOption) *Service {
	if eval == nil {
		eval = NewEvaluator()
	}
	s := &Service{eval: eval, clock: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.history > 0 {
		if on := EnabledUnboundedRules(s.disabled); len(on) > 0 {
			log.Warn().
				Dur("history", s.history).
				Strs("rules", on).
				Msg("event history bound ignored; unbounded rules need the full history")
			s.history = 0
		}
	}
	return s
}

// UnboundedRules are the catalog rules that read every event ever recorded.
// Truncating history would make them forget serves, dismissals or conversions.
func UnboundedRules() []string {
	return []string{"dismissed", "converted", string(CapTotalMax)}
}

// EnabledUnboundedRules returns the unbounded rules not named in disabled.
func EnabledUnboundedRules(disabled []string) []string {
	off := disabledSet(disabled)
	var on []string
	for _, name := range UnboundedRules() {
		if !off[name] {
			on = append(on, name)
		}
	}
	return on
}

// History is the effective load bound. 0 means the full history.
func (s *Service) History() time.Duration { return s.history }

// Refresh loads events once and publishes them as the current snapshot.
// Concurrent callers are serialized so a slower, older load can never
// overwrite a newer snapshot.
func (s *Service) Refresh(ctx context.Context, loader EventLoader) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	var since time.Time
	if s.history > 0 {
		since = s.clock().Add(-s.history)
	}
	events, err := loader.LoadEvents(ctx, since)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	s.Publish(NewSnapshot(events))
	log.Debug().Int("events", len(events)).Msg("event snapshot refreshed")
	return nil
}

// Publish swaps in a new snapshot. In-flight passes keep the one they loaded.
func (s *Service) Publish(snap *Snapshot) { s.snap.Store(snap) }

// Current returns the published snapshot, or an empty one.
func (s *Service) Current() *Snapshot {
	snap, ok := s.snap.Load()
	if !ok || snap == nil {
		return emptySnapshot
	}
	return snap
}

// EvaluateAll evaluates creatives against the current snapshot at instant
// now. Reports follow input order.
func (s *Service) EvaluateAll(creatives []CreativeAd, now time.Time) ([]EligibilityReport, error) {
	return s.EvaluateWith(s.Current(), creatives, now)
}

// EvaluateWith is EvaluateAll against a caller-supplied snapshot. An invalid
// creative gets an ineligible report with a single "validation" rejection;
// the rest of the batch is evaluated normally.
func (s *Service) EvaluateWith(snap *Snapshot, creatives []CreativeAd, now time.Time) ([]EligibilityReport, error) {
	if now.IsZero() {
		return nil, ErrZeroNow
	}

	out := make([]EligibilityReport, len(creatives))
	valid := make([]CreativeAd, 0, len(creatives))
	idx := make([]int, 0, len(creatives))
	for i, c := range creatives {
		if err := c.Validate(); err != nil {
			log.Warn().Err(err).Str("creative_id", c.ID).Msg("rejecting misconfigured creative")
			out[i] = invalidReport(c, err)
			continue
		}
		valid = append(valid, c)
		idx = append(idx, i)
	}

	rules := Catalog(snap, now, s.disabled...)
	for j, rep := range s.eval.EvaluateAll(valid, rules) {
		out[idx[j]] = rep
	}
	return out, nil
}

func invalidReport(c CreativeAd, err error) EligibilityReport {
	return EligibilityReport{
		CreativeID: c.ID,
		Eligible:   false,
		Rejections: []Rejection{{Rule: validationRule, Identity: c.ID, Reason: err.Error()}},
	}
}
