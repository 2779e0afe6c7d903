package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaFor(t *testing.T) {
	assert.Contains(t, schemaSQL, "pg_notify('ad_events_changed'")

	tests := []struct {
		name    string
		channel string
		want    string
	}{
		{"empty keeps default", "", "pg_notify('ad_events_changed', NEW.creative_id)"},
		{"default", "ad_events_changed", "pg_notify('ad_events_changed', NEW.creative_id)"},
		{"custom", "tenant_a_events", "pg_notify('tenant_a_events', NEW.creative_id)"},
		{"quote escaped", "it's", "pg_notify('it''s', NEW.creative_id)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := schemaFor(tt.channel)
			assert.Contains(t, got, tt.want)
			if tt.channel != "" && tt.channel != defaultChannel {
				assert.NotContains(t, got, "'ad_events_changed'")
			}
		})
	}
}

func TestStore_ListenChannel(t *testing.T) {
	assert.Equal(t, "ad_events_changed", (&Store{}).ListenChannel())
	assert.Equal(t, "tenant_a_events", (&Store{channel: "tenant_a_events"}).ListenChannel())
}
