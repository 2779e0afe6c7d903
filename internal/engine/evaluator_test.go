package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func always(name string, excluded bool) ExclusionRule {
	return RuleFunc(name, func(c CreativeAd) Verdict {
		if excluded {
			return Exclude(name + " says no to " + c.ID)
		}
		return Pass()
	})
}

func TestEvaluate_Modes(t *testing.T) {
	rules := []ExclusionRule{always("a", true), always("b", false), always("c", true)}
	c := CreativeAd{ID: "X"}

	tests := []struct {
		name      string
		mode      Mode
		wantRules []string
	}{
		{"accumulate collects all", Accumulate, []string{"a", "c"}},
		{"short circuit stops at first", ShortCircuit, []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := NewEvaluator(WithMode(tt.mode)).Evaluate(c, rules)
			assert.False(t, rep.Eligible)
			got := make([]string, len(rep.Rejections))
			for i, r := range rep.Rejections {
				got[i] = r.Rule
				assert.Equal(t, "X", r.Identity)
				assert.NotEmpty(t, r.Reason)
			}
			assert.Equal(t, tt.wantRules, got)
		})
	}
}

func TestEvaluate_DefaultIsAccumulate(t *testing.T) {
	assert.Equal(t, Accumulate, NewEvaluator().Mode())
}

func TestEvaluate_RejectionCountProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	build := func(outcomes []bool) ([]ExclusionRule, int) {
		rules := make([]ExclusionRule, len(outcomes))
		n := 0
		for i, o := range outcomes {
			rules[i] = always(fmt.Sprintf("r%d", i), o)
			if o {
				n++
			}
		}
		return rules, n
	}

	properties.Property("accumulate reports one rejection per excluding rule", prop.ForAll(
		func(outcomes []bool) bool {
			rules, n := build(outcomes)
			rep := NewEvaluator().Evaluate(CreativeAd{ID: "X"}, rules)
			return len(rep.Rejections) == n && rep.Eligible == (n == 0)
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.Property("short circuit reports at most one rejection", prop.ForAll(
		func(outcomes []bool) bool {
			rules, n := build(outcomes)
			rep := NewEvaluator(WithMode(ShortCircuit)).Evaluate(CreativeAd{ID: "X"}, rules)
			want := 0
			if n > 0 {
				want = 1
			}
			return len(rep.Rejections) == want && rep.Eligible == (n == 0)
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}

func TestEvaluate_ScenarioC_NoCaps(t *testing.T) {
	var events []AdEvent
	for i := 0; i < 1000; i++ {
		events = append(events, view("Y", t0.Add(-time.Duration(i)*time.Minute)))
	}
	rep := NewEvaluator().Evaluate(CreativeAd{ID: "Y"}, Catalog(NewSnapshot(events), t0))

	assert.True(t, rep.Eligible)
	assert.Empty(t, rep.Rejections)
}

func TestEvaluateAll_ScenarioD(t *testing.T) {
	snap := NewSnapshot([]AdEvent{view("hot", t0.Add(-10*time.Minute)), view("cold", t0.Add(-2*time.Hour))})
	creatives := []CreativeAd{
		creative("hot", map[CapKind]int{CapPerHour: 1}),
		creative("cold", map[CapKind]int{CapPerHour: 1}),
	}

	reps := NewEvaluator().EvaluateAll(creatives, Catalog(snap, t0))

	require.Len(t, reps, 2)
	assert.Equal(t, "hot", reps[0].CreativeID)
	assert.False(t, reps[0].Eligible)
	require.Len(t, reps[0].Rejections, 1)
	assert.Equal(t, "per_hour", reps[0].Rejections[0].Rule)

	assert.Equal(t, "cold", reps[1].CreativeID)
	assert.True(t, reps[1].Eligible)
	assert.Empty(t, reps[1].Rejections)
}

func TestEvaluateAll_PreservesOrder(t *testing.T) {
	var creatives []CreativeAd
	for i := 0; i < 500; i++ {
		creatives = append(creatives, CreativeAd{ID: fmt.Sprintf("c%03d", i), Caps: map[CapKind]int{CapTotalMax: i % 3}})
	}
	snap := NewSnapshot(views("c001", 1, t0))

	reps := NewEvaluator(WithWorkers(8)).EvaluateAll(creatives, Catalog(snap, t0))

	require.Len(t, reps, len(creatives))
	for i, r := range reps {
		assert.Equal(t, creatives[i].ID, r.CreativeID)
	}
	assert.False(t, reps[0].Eligible, "total_max=0 never shows")
	assert.False(t, reps[1].Eligible, "one view against cap 1")
	assert.True(t, reps[2].Eligible)
}

func TestEvaluateAll_Empty(t *testing.T) {
	assert.Empty(t, NewEvaluator().EvaluateAll(nil, Catalog(nil, t0)))
}

func TestEvaluateAll_PanicIsIsolated(t *testing.T) {
	boom := RuleFunc("boom", func(c CreativeAd) Verdict {
		if c.ID == "bad" {
			panic("corrupt creative")
		}
		return Pass()
	})
	creatives := []CreativeAd{{ID: "ok1"}, {ID: "bad"}, {ID: "ok2"}}

	reps := NewEvaluator().EvaluateAll(creatives, []ExclusionRule{boom})

	require.Len(t, reps, 3)
	assert.True(t, reps[0].Eligible)
	assert.True(t, reps[2].Eligible)
	assert.False(t, reps[1].Eligible)
	require.Len(t, reps[1].Rejections, 1)
	assert.Equal(t, "evaluation", reps[1].Rejections[0].Rule)
	assert.Contains(t, reps[1].Rejections[0].Reason, "corrupt creative")
}

func TestEvaluate_Idempotent(t *testing.T) {
	snap := NewSnapshot(append(views("X", 3, t0), event("X", EventDismiss, t0)))
	c := creative("X", map[CapKind]int{CapTotalMax: 1, CapPerDay: 2})
	rules := Catalog(snap, t0)
	e := NewEvaluator()

	first := e.Evaluate(c, rules)
	second := e.Evaluate(c, rules)
	assert.Equal(t, first, second)
	assert.Len(t, first.Rejections, 3)
}

func TestEvaluate_UnscopedRuleIsSkipped(t *testing.T) {
	c := CreativeAd{ID: "X", Caps: map[CapKind]int{CapAdvertiserPerDay: 0}}
	rep := NewEvaluator().Evaluate(c, Catalog(NewSnapshot(views("X", 3, t0)), t0))
	assert.True(t, rep.Eligible)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, Accumulate, m)

	m, err = ParseMode("Short_Circuit")
	require.NoError(t, err)
	assert.Equal(t, ShortCircuit, m)
	assert.Equal(t, "short_circuit", m.String())

	_, err = ParseMode("lazy")
	assert.Error(t, err)
}
