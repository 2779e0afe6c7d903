package engine

import "time"

// ExclusionRule is one serving constraint bound to an event snapshot.
// Implementations hold no mutable state, so one instance may be shared by
// concurrent evaluations of different creatives.
type ExclusionRule interface {
	// Name is stable and used as the rejection's rule label.
	Name() string
	// Identity is the key of the entity the rule is scoped to for c.
	Identity(c CreativeAd) string
	// ShouldExclude returns the verdict with its reason inline.
	ShouldExclude(c CreativeAd) Verdict
}

// servedKinds are the events that consume serve budget.
var servedKinds = []EventKind{EventView}

// TotalMaxCap allows at most total_max views of a creative across all history.
type TotalMaxCap struct {
	events *Snapshot
}

func NewTotalMaxCap(events *Snapshot) *TotalMaxCap { return &TotalMaxCap{events: events} }

func (r *TotalMaxCap) Name() string { return string(CapTotalMax) }

func (r *TotalMaxCap) Identity(c CreativeAd) string { return c.ID }

func (r *TotalMaxCap) ShouldExclude(c CreativeAd) Verdict {
	limit, ok := c.Cap(CapTotalMax)
	if !ok {
		return pass()
	}
	count := r.events.Count(Query{Scope: ScopeCreative, Key: c.ID, Kinds: servedKinds})
	if count >= limit {
		return exclude("creative %s exceeded total cap %d with %d serves", c.ID, limit, count)
	}
	return pass()
}

// WindowedCap counts views within [now-window, now] grouped by scope.
type WindowedCap struct {
	kind   CapKind
	scope  Scope
	window time.Duration
	label  string
	now    time.Time
	events *Snapshot
}

// NewWindowedCap binds a windowed cap to a snapshot and a fixed decision instant.
func NewWindowedCap(kind CapKind, scope Scope, window time.Duration, label string, events *Snapshot, now time.Time) *WindowedCap {
	return &WindowedCap{kind: kind, scope: scope, window: window, label: label, now: now, events: events}
}

func (r *WindowedCap) Name() string { return string(r.kind) }

func (r *WindowedCap) Identity(c CreativeAd) string { return r.scope.creativeKey(c) }

func (r *WindowedCap) ShouldExclude(c CreativeAd) Verdict {
	limit, ok := c.Cap(r.kind)
	if !ok {
		return pass()
	}
	key := r.scope.creativeKey(c)
	if key == "" {
		return unscoped()
	}
	count := r.events.Count(Query{
		Scope: r.scope,
		Key:   key,
		Kinds: servedKinds,
		From:  r.now.Add(-r.window),
		To:    r.now,
	})
	if count >= limit {
		return exclude("%s %s exceeded %s cap %d with %d serves", r.scope, key, r.label, limit, count)
	}
	return pass()
}

// DismissedRule permanently excludes a creative the user dismissed.
type DismissedRule struct {
	events *Snapshot
}

func NewDismissedRule(events *Snapshot) *DismissedRule { return &DismissedRule{events: events} }

func (r *DismissedRule) Name() string { return "dismissed" }

func (r *DismissedRule) Identity(c CreativeAd) string { return c.ID }

func (r *DismissedRule) ShouldExclude(c CreativeAd) Verdict {
	if r.events.Any(Query{Scope: ScopeCreative, Key: c.ID, Kinds: []EventKind{EventDismiss}}) {
		return exclude("creative %s was dismissed", c.ID)
	}
	return pass()
}

// ConvertedRule excludes every creative of a creative set that already converted.
type ConvertedRule struct {
	events *Snapshot
}

func NewConvertedRule(events *Snapshot) *ConvertedRule { return &ConvertedRule{events: events} }

func (r *ConvertedRule) Name() string { return "converted" }

func (r *ConvertedRule) Identity(c CreativeAd) string { return c.CreativeSetID }

func (r *ConvertedRule) ShouldExclude(c CreativeAd) Verdict {
	if c.CreativeSetID == "" {
		return unscoped()
	}
	if r.events.Any(Query{Scope: ScopeCreativeSet, Key: c.CreativeSetID, Kinds: []EventKind{EventConversion}}) {
		return exclude("creative set %s already converted", c.CreativeSetID)
	}
	return pass()
}

// ruleFunc adapts a plain function to ExclusionRule. Handy for callers and tests.
type ruleFunc struct {
	name     string
	identity func(CreativeAd) string
	fn       func(CreativeAd) Verdict
}

// RuleFunc wraps fn as a rule scoped to the creative id.
func RuleFunc(name string, fn func(CreativeAd) Verdict) ExclusionRule {
	return ruleFunc{name: name, identity: func(c CreativeAd) string { return c.ID }, fn: fn}
}

func (r ruleFunc) Name() string                       { return r.name }
func (r ruleFunc) Identity(c CreativeAd) string       { return r.identity(c) }
func (r ruleFunc) ShouldExclude(c CreativeAd) Verdict { return r.fn(c) }

// Exclude builds an excluding verdict for custom rules.
func Exclude(reason string) Verdict { return Verdict{Excluded: true, Reason: reason} }

// Pass builds a passing verdict for custom rules.
func Pass() Verdict { return pass() }
