package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"ad-eligibility-engine/internal/config"
	"ad-eligibility-engine/internal/engine"
)

//go:embed schema.sql
var schemaSQL string

// ErrInvalidEvent is returned for events that cannot be stored.
var ErrInvalidEvent = errors.New("invalid ad event")

// EventScope narrows FetchEvents. Empty fields are not filtered on.
type EventScope struct {
	CreativeID   string
	CampaignID   string
	AdvertiserID string
}

type Store struct {
	pool    *pgxpool.Pool
	channel string
}

func New(ctx context.Context, cfg config.Config) (*Store, error) {
	dsn := cfg.DSN()
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool, channel: cfg.Listener.Channel}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// defaultChannel is the notification channel named in schema.sql.
const defaultChannel = "ad_events_changed"

// EnsureSchema applies schema.sql with the trigger notifying ListenChannel.
// Safe to run multiple times.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaFor(s.ListenChannel())); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// InsertEvent persists an event. A missing ID is assigned. inserted is false on duplicates.
func (s *Store) InsertEvent(ctx context.Context, e *engine.AdEvent) (inserted bool, err error) {
	if err := prepareEvent(e); err != nil {
		return false, err
	}
	var one int
	err = s.pool.QueryRow(ctx, `
		INSERT INTO ad_events (id, creative_id, campaign_id, advertiser_id, creative_set_id, kind, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
		RETURNING 1
	`, e.ID, e.CreativeID, e.CampaignID, e.AdvertiserID, e.CreativeSetID, string(e.Kind), e.Timestamp).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	return true, nil
}

// LoadEvents returns every event at or after since, oldest first.
func (s *Store) LoadEvents(ctx context.Context, since time.Time) ([]engine.AdEvent, error) {
	return s.FetchEvents(ctx, EventScope{}, since)
}

// FetchEvents returns events for a scope at or after since, oldest first.
func (s *Store) FetchEvents(ctx context.Context, scope EventScope, since time.Time) ([]engine.AdEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id::text, creative_id, campaign_id, advertiser_id, creative_set_id, kind, occurred_at
		FROM ad_events
		WHERE occurred_at >= $1
		  AND ($2::text = '' OR creative_id = $2)
		  AND ($3::text = '' OR campaign_id = $3)
		  AND ($4::text = '' OR advertiser_id = $4)
		ORDER BY occurred_at
	`, since, scope.CreativeID, scope.CampaignID, scope.AdvertiserID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []engine.AdEvent
	for rows.Next() {
		var (
			e    engine.AdEvent
			kind string
		)
		if err := rows.Scan(&e.ID, &e.CreativeID, &e.CampaignID, &e.AdvertiserID, &e.CreativeSetID, &kind, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		k, err := engine.ParseEventKind(kind)
		if err != nil {
			log.Warn().Err(err).Str("event_id", e.ID).Msg("skipping event with unknown kind")
			continue
		}
		e.Kind = k
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadCreatives loads active creatives with their caps. Creatives that fail
// validation are skipped and logged; they never reach the engine.
func (s *Store) LoadCreatives(ctx context.Context) ([]engine.CreativeAd, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.campaign_id, c.advertiser_id, c.creative_set_id, k.kind, k.cap
		FROM creatives c
		LEFT JOIN creative_caps k ON k.creative_id = c.id
		WHERE c.active
		ORDER BY c.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query creatives: %w", err)
	}
	defer rows.Close()

	var (
		order []string
		byID  = map[string]*CreativeRow{}
	)
	for rows.Next() {
		var (
			r      CreativeRow
			kind   *string
			capVal *int32
		)
		if err := rows.Scan(&r.ID, &r.CampaignID, &r.AdvertiserID, &r.CreativeSetID, &kind, &capVal); err != nil {
			return nil, fmt.Errorf("scan creative: %w", err)
		}
		row, ok := byID[r.ID]
		if !ok {
			r.Caps = map[string]int{}
			row = &r
			byID[r.ID] = row
			order = append(order, r.ID)
		}
		if kind != nil && capVal != nil {
			row.Caps[*kind] = int(*capVal)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]engine.CreativeAd, 0, len(order))
	for _, id := range order {
		c, err := byID[id].Creative()
		if err != nil {
			log.Warn().Err(err).Str("creative_id", id).Msg("skipping misconfigured creative")
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) ListenChannel() string {
	if s.channel != "" {
		return s.channel
	}
	return defaultChannel
}

// schemaFor returns schema.sql with the trigger's pg_notify channel set to channel.
func schemaFor(channel string) string {
	if channel == "" || channel == defaultChannel {
		return schemaSQL
	}
	lit := "'" + strings.ReplaceAll(channel, "'", "''") + "'"
	return strings.ReplaceAll(schemaSQL, "'"+defaultChannel+"'", lit)
}

func (s *Store) PgxPool() *pgxpool.Pool {
	if s.pool == nil {
		panic(errors.New("pgx pool is nil"))
	}
	return s.pool
}

// prepareEvent fills defaults and rejects events the engine could not use.
func prepareEvent(e *engine.AdEvent) error {
	if e.CreativeID == "" {
		return fmt.Errorf("%w: creative_id required", ErrInvalidEvent)
	}
	k, err := engine.ParseEventKind(string(e.Kind))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	e.Kind = k
	if e.ID == "" {
		e.ID = uuid.NewString()
	} else if _, err := uuid.Parse(e.ID); err != nil {
		return fmt.Errorf("%w: event id: %w", ErrInvalidEvent, err)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return nil
}
