package listener

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"ad-eligibility-engine/internal/engine"
	"ad-eligibility-engine/internal/observability"
	"ad-eligibility-engine/internal/storage"
)

const (
	// quietPeriod is how long notifications must stop before a refresh runs.
	quietPeriod = 200 * time.Millisecond
	// maxDelay bounds how long a steady stream of notifications can hold a refresh back.
	maxDelay = time.Second
)

// ListenAndRefresh rebuilds the service's event snapshot whenever the
// ad_events trigger notifies channel. It returns when ctx is done.
func ListenAndRefresh(ctx context.Context, st *storage.Store, svc *engine.Service, channel string, baseBackoff time.Duration) {
	if channel == "" {
		channel = st.ListenChannel()
	}
	for ctx.Err() == nil {
		err := listen(ctx, st, svc, channel)
		if ctx.Err() != nil {
			break
		}
		backoff := jitter(baseBackoff)
		log.Error().Err(err).Dur("retry_in", backoff).Msg("listener connection lost")
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
	}
	log.Info().Msg("listener stopped")
}

func listen(ctx context.Context, st *storage.Store, svc *engine.Service, channel string) error {
	conn, err := st.PgxPool().Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return err
	}
	log.Info().Str("channel", channel).Msg("listening for ad event changes")

	waitCtx, stop := context.WithCancel(ctx)
	defer stop()

	notes := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		defer stop()
		for {
			ntf, err := conn.Conn().WaitForNotification(waitCtx)
			if err != nil {
				done <- err
				return
			}
			log.Debug().Str("channel", ntf.Channel).Str("creative_id", ntf.Payload).Msg("ad event recorded")
			select {
			case notes <- struct{}{}:
			default:
			}
		}
	}()

	coalesce(waitCtx, notes, quietPeriod, maxDelay, func() { refresh(ctx, st, svc) })
	stop()
	return <-done
}

// coalesce calls fn once notifications on notes have been quiet for quiet,
// or once maxWait has passed since the first unhandled notification. A
// notification that arrives while fn runs schedules another call. It returns
// when ctx is done.
func coalesce(ctx context.Context, notes <-chan struct{}, quiet, maxWait time.Duration, fn func()) {
	timer := time.NewTimer(quiet)
	if !timer.Stop() {
		<-timer.C
	}
	var (
		pending bool
		first   time.Time
	)
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-notes:
			if !pending {
				pending, first = true, time.Now()
			} else if !timer.Stop() {
				<-timer.C
			}
			wait := quiet
			if left := maxWait - time.Since(first); left < wait {
				wait = max(left, 0)
			}
			timer.Reset(wait)
		case <-timer.C:
			pending = false
			fn()
		}
	}
}

func refresh(ctx context.Context, st *storage.Store, svc *engine.Service) {
	if err := svc.Refresh(ctx, st); err != nil {
		if ctx.Err() == nil {
			observability.RefreshErrors.WithLabelValues("events").Inc()
			log.Error().Err(err).Msg("refresh snapshot error")
		}
		return
	}
	observability.SnapshotEvents.Set(float64(svc.Current().Len()))
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x-1.5x
	return time.Duration(float64(base) * factor)
}
