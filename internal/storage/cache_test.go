package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ad-eligibility-engine/internal/engine"
)

func TestCreativeRow_Creative(t *testing.T) {
	tests := []struct {
		name    string
		row     CreativeRow
		wantErr error
	}{
		{"valid", CreativeRow{ID: "c1", CampaignID: "camp", Caps: map[string]int{"total_max": 3, "per_day": 1}}, nil},
		{"negative cap", CreativeRow{ID: "c1", Caps: map[string]int{"per_day": -1}}, engine.ErrNegativeCap},
		{"unknown kind", CreativeRow{ID: "c1", Caps: map[string]int{"lifetime": 1}}, engine.ErrUnknownCapKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := tt.row.Creative()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			limit, ok := c.Cap(engine.CapTotalMax)
			assert.True(t, ok)
			assert.Equal(t, 3, limit)
			assert.Equal(t, "camp", c.CampaignID)
		})
	}
}

func TestCache_CopyOnRead(t *testing.T) {
	c := NewCache()
	assert.Empty(t, c.GetCreatives())

	c.UpdateCreatives([]engine.CreativeAd{{ID: "a"}, {ID: "b"}})
	got := c.GetCreatives()
	got[0].ID = "mutated"

	assert.Equal(t, "a", c.GetCreatives()[0].ID)
	assert.Equal(t, 2, c.Len())
}

func TestPrepareEvent(t *testing.T) {
	e := engine.AdEvent{CreativeID: "c1", Kind: "VIEW"}
	require.NoError(t, prepareEvent(&e))
	assert.Equal(t, engine.EventView, e.Kind)
	assert.NotEmpty(t, e.ID)
	assert.WithinDuration(t, time.Now(), e.Timestamp, time.Minute)

	assert.ErrorIs(t, prepareEvent(&engine.AdEvent{Kind: engine.EventView}), ErrInvalidEvent)
	assert.ErrorIs(t, prepareEvent(&engine.AdEvent{CreativeID: "c1", Kind: "impression"}), engine.ErrUnknownEventKind)
	assert.ErrorIs(t, prepareEvent(&engine.AdEvent{ID: "not-a-uuid", CreativeID: "c1", Kind: engine.EventView}), ErrInvalidEvent)
}
