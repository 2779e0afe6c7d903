package engine

import (
	"slices"
	"sort"
	"time"
)

// Scope selects which identifier of an event a query groups by.
type Scope int

const (
	ScopeCreative Scope = iota
	ScopeCampaign
	ScopeAdvertiser
	ScopeCreativeSet
)

func (s Scope) String() string {
	switch s {
	case ScopeCampaign:
		return "campaign"
	case ScopeAdvertiser:
		return "advertiser"
	case ScopeCreativeSet:
		return "creative_set"
	default:
		return "creative"
	}
}

// eventKey returns the event's identifier for the given scope.
func (s Scope) eventKey(e AdEvent) string {
	switch s {
	case ScopeCampaign:
		return e.CampaignID
	case ScopeAdvertiser:
		return e.AdvertiserID
	case ScopeCreativeSet:
		return e.CreativeSetID
	default:
		return e.CreativeID
	}
}

// creativeKey returns the creative's identifier for the given scope.
func (s Scope) creativeKey(c CreativeAd) string {
	switch s {
	case ScopeCampaign:
		return c.CampaignID
	case ScopeAdvertiser:
		return c.AdvertiserID
	case ScopeCreativeSet:
		return c.CreativeSetID
	default:
		return c.ID
	}
}

// Query filters a snapshot. Zero From means no lower bound, zero To no upper bound.
// Both bounds are inclusive. Empty Kinds matches every kind.
type Query struct {
	Scope Scope
	Key   string
	Kinds []EventKind
	From  time.Time
	To    time.Time
}

// Snapshot is an immutable, timestamp-ordered slice of ad events.
// Safe for concurrent readers; nothing mutates it after NewSnapshot returns.
type Snapshot struct {
	events []AdEvent
}

// NewSnapshot copies events and orders them by timestamp.
func NewSnapshot(events []AdEvent) *Snapshot {
	cp := slices.Clone(events)
	slices.SortStableFunc(cp, func(a, b AdEvent) int { return a.Timestamp.Compare(b.Timestamp) })
	return &Snapshot{events: cp}
}

var emptySnapshot = &Snapshot{}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.events)
}

// Events returns a copy of the events in timestamp order.
func (s *Snapshot) Events() []AdEvent {
	if s == nil {
		return nil
	}
	return slices.Clone(s.events)
}

// Since returns the sub-snapshot of events at or after t. It shares storage with s.
func (s *Snapshot) Since(t time.Time) *Snapshot {
	if s == nil {
		return emptySnapshot
	}
	return &Snapshot{events: s.events[s.lowerBound(t):]}
}

// Count returns the number of events matching q.
func (s *Snapshot) Count(q Query) int {
	if s == nil || q.Key == "" {
		return 0
	}
	start := 0
	if !q.From.IsZero() {
		start = s.lowerBound(q.From)
	}
	n := 0
	for _, e := range s.events[start:] {
		if !q.To.IsZero() && e.Timestamp.After(q.To) {
			break
		}
		if q.Scope.eventKey(e) != q.Key {
			continue
		}
		if len(q.Kinds) > 0 && !slices.Contains(q.Kinds, e.Kind) {
			continue
		}
		n++
	}
	return n
}

// Any reports whether at least one event matches q.
func (s *Snapshot) Any(q Query) bool {
	if s == nil || q.Key == "" {
		return false
	}
	for _, e := range s.events {
		if !q.From.IsZero() && e.Timestamp.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && e.Timestamp.After(q.To) {
			break
		}
		if q.Scope.eventKey(e) == q.Key && (len(q.Kinds) == 0 || slices.Contains(q.Kinds, e.Kind)) {
			return true
		}
	}
	return false
}

// lowerBound is the index of the first event with Timestamp >= t.
func (s *Snapshot) lowerBound(t time.Time) int {
	return sort.Search(len(s.events), func(i int) bool { return !s.events[i].Timestamp.Before(t) })
}
