package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"ad-eligibility-engine/internal/config"
	"ad-eligibility-engine/internal/engine"
)

// RedisStore keeps events in one sorted set scored by unix milliseconds.
type RedisStore struct {
	client    *redis.Client
	key       string
	retention time.Duration
}

func NewRedis(ctx context.Context, cfg config.Config) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info().Str("addr", cfg.Redis.Addr).Str("key", cfg.Redis.Key).Msg("redis event store connected")
	return NewRedisWithClient(rdb, cfg.Redis.Key, cfg.Retention()), nil
}

// NewRedisWithClient wraps an existing client. retention <= 0 keeps everything.
func NewRedisWithClient(rdb *redis.Client, key string, retention time.Duration) *RedisStore {
	if key == "" {
		key = "ad_events"
	}
	return &RedisStore{client: rdb, key: key, retention: retention}
}

func (s *RedisStore) Close() error { return s.client.Close() }

// InsertEvent adds an event and trims entries older than the retention.
func (s *RedisStore) InsertEvent(ctx context.Context, e *engine.AdEvent) (bool, error) {
	if err := prepareEvent(e); err != nil {
		return false, err
	}
	member, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("encode event: %w", err)
	}

	var added *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		added = p.ZAdd(ctx, s.key, redis.Z{Score: float64(e.Timestamp.UnixMilli()), Member: member})
		if s.retention > 0 {
			cutoff := time.Now().Add(-s.retention).UnixMilli()
			p.ZRemRangeByScore(ctx, s.key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("zadd event: %w", err)
	}
	return added.Val() == 1, nil
}

func (s *RedisStore) LoadEvents(ctx context.Context, since time.Time) ([]engine.AdEvent, error) {
	return s.FetchEvents(ctx, EventScope{}, since)
}

// FetchEvents returns events for a scope at or after since, oldest first.
func (s *RedisStore) FetchEvents(ctx context.Context, scope EventScope, since time.Time) ([]engine.AdEvent, error) {
	lo := "-inf"
	if !since.IsZero() {
		lo = strconv.FormatInt(since.UnixMilli(), 10)
	}
	members, err := s.client.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{Min: lo, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange events: %w", err)
	}

	out := make([]engine.AdEvent, 0, len(members))
	for _, m := range members {
		var e engine.AdEvent
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			log.Warn().Err(err).Msg("skipping undecodable event")
			continue
		}
		if e.Timestamp.Before(since) || !scope.matches(e) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (sc EventScope) matches(e engine.AdEvent) bool {
	return (sc.CreativeID == "" || sc.CreativeID == e.CreativeID) &&
		(sc.CampaignID == "" || sc.CampaignID == e.CampaignID) &&
		(sc.AdvertiserID == "" || sc.AdvertiserID == e.AdvertiserID)
}
