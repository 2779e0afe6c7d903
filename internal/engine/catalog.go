package engine

import (
	"strings"
	"time"
)

const (
	hour = time.Hour
	day  = 24 * time.Hour
	week = 7 * day
)

type windowSpec struct {
	kind   CapKind
	scope  Scope
	window time.Duration
	label  string
}

// windowed is the ordered list of windowed caps in the catalog.
var windowed = []windowSpec{
	{CapPerHour, ScopeCreative, hour, "per-hour"},
	{CapPerDay, ScopeCreative, day, "per-day"},
	{CapPerWeek, ScopeCreative, week, "per-week"},
	{CapCampaignPerHour, ScopeCampaign, hour, "per-hour"},
	{CapCampaignPerDay, ScopeCampaign, day, "per-day"},
	{CapAdvertiserPerDay, ScopeAdvertiser, day, "per-day"},
	{CapCreativeSetPerDay, ScopeCreativeSet, day, "per-day"},
}

// RuleNames lists every catalog rule in evaluation order.
func RuleNames() []string {
	names := []string{"dismissed", "converted", string(CapTotalMax)}
	for _, w := range windowed {
		names = append(names, string(w.kind))
	}
	return names
}

// Catalog builds the fixed rule set bound to events and the decision instant.
// Rules named in disabled are left out; matching is case-insensitive.
func Catalog(events *Snapshot, now time.Time, disabled ...string) []ExclusionRule {
	if events == nil {
		events = emptySnapshot
	}
	off := disabledSet(disabled)

	all := []ExclusionRule{
		NewDismissedRule(events),
		NewConvertedRule(events),
		NewTotalMaxCap(events),
	}
	for _, w := range windowed {
		all = append(all, NewWindowedCap(w.kind, w.scope, w.window, w.label, events, now))
	}

	rules := all[:0]
	for _, r := range all {
		if !off[r.Name()] {
			rules = append(rules, r)
		}
	}
	return rules
}

func disabledSet(disabled []string) map[string]bool {
	off := make(map[string]bool, len(disabled))
	for _, d := range disabled {
		off[strings.ToLower(strings.TrimSpace(d))] = true
	}
	return off
}
