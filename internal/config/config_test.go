package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ad-eligibility-engine/internal/engine"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, engine.Accumulate, cfg.Mode())
	assert.Equal(t, time.Duration(0), cfg.History())
	assert.Equal(t, 30*time.Second, cfg.RefreshInterval())
	assert.Equal(t, 5*time.Second, cfg.Backoff())
	assert.Equal(t, time.Duration(0), cfg.Retention())
	assert.Equal(t, "postgres://postgres:@localhost:5432/ads?sslmode=disable", cfg.DSN())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APP_SERVER_ADDR", ":9090")
	t.Setenv("APP_STORE_BACKEND", "REDIS")
	t.Setenv("APP_ELIGIBILITY_MODE", "short_circuit")
	t.Setenv("APP_ELIGIBILITY_HISTORY_HOURS", "168")
	t.Setenv("APP_ELIGIBILITY_DISABLED_RULES", "converted,dismissed,total_max,per_week")
	t.Setenv("APP_REDIS_RETENTION_HOURS", "720")
	t.Setenv("APP_POSTGRES_HOST", "db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, engine.ShortCircuit, cfg.Mode())
	assert.Equal(t, 168*time.Hour, cfg.History())
	assert.Equal(t, []string{"converted", "dismissed", "total_max", "per_week"}, cfg.Eligibility.DisabledRules)
	assert.Equal(t, 720*time.Hour, cfg.Retention())
	assert.Equal(t, "db", cfg.Postgres.Host)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value, want string
	}{
		{"backend", "APP_STORE_BACKEND", "mongo", "store.backend"},
		{"mode", "APP_ELIGIBILITY_MODE", "eventually", "eligibility.mode"},
		{"history", "APP_ELIGIBILITY_HISTORY_HOURS", "-1", "history_hours"},
		{"port", "APP_POSTGRES_PORT", "70000", "postgres.port"},
		{"retention", "APP_REDIS_RETENTION_HOURS", "-1", "retention_hours"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_TruncatedHistoryNeedsUnboundedRulesOff(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "history with total_max on",
			env:  map[string]string{"APP_ELIGIBILITY_HISTORY_HOURS": "24"},
			want: "history_hours must be 0",
		},
		{
			name: "history with only dismissed on",
			env: map[string]string{
				"APP_ELIGIBILITY_HISTORY_HOURS":  "24",
				"APP_ELIGIBILITY_DISABLED_RULES": "converted,total_max",
			},
			want: "[dismissed]",
		},
		{
			name: "redis retention with unbounded rules on",
			env: map[string]string{
				"APP_STORE_BACKEND":         "redis",
				"APP_REDIS_RETENTION_HOURS": "720",
			},
			want: "redis.retention_hours must be 0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSetupLogging(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	setupLogging("warn", &buf)
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	log.Info().Msg("hidden")
	log.Warn().Str("k", "v").Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	setupLogging("nonsense", &buf)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
