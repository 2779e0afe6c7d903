package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"ad-eligibility-engine/internal/api"
	"ad-eligibility-engine/internal/config"
	"ad-eligibility-engine/internal/engine"
	"ad-eligibility-engine/internal/listener"
	"ad-eligibility-engine/internal/observability"
	"ad-eligibility-engine/internal/storage"
)

// CatalogLoader loads the validated creative catalog.
type CatalogLoader interface {
	LoadCreatives(ctx context.Context) ([]engine.CreativeAd, error)
}

// Server keeps the event snapshot and creative catalog fresh.
type Server struct {
	svc      *engine.Service
	events   engine.EventLoader
	catalog  CatalogLoader
	cache    *storage.Cache
	interval time.Duration
}

// New wires a refresher. catalog may be nil when no creative catalog is configured.
func New(svc *engine.Service, events engine.EventLoader, catalog CatalogLoader, cache *storage.Cache, interval time.Duration) *Server {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Server{svc: svc, events: events, catalog: catalog, cache: cache, interval: interval}
}

// Refresh reloads events and catalog once. Both are attempted; errors are joined.
func (s *Server) Refresh(ctx context.Context) error {
	var errs []error
	if err := s.svc.Refresh(ctx, s.events); err != nil {
		observability.RefreshErrors.WithLabelValues("events").Inc()
		errs = append(errs, err)
	} else {
		observability.SnapshotEvents.Set(float64(s.svc.Current().Len()))
	}
	if s.catalog != nil {
		creatives, err := s.catalog.LoadCreatives(ctx)
		if err != nil {
			observability.RefreshErrors.WithLabelValues("catalog").Inc()
			errs = append(errs, fmt.Errorf("load creatives: %w", err))
		} else {
			s.cache.UpdateCreatives(creatives)
		}
	}
	return errors.Join(errs...)
}

// StartCacheRefresher refreshes immediately, then every interval until ctx is done.
func (s *Server) StartCacheRefresher(ctx context.Context) {
	go func() {
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("refresh failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
}

type eventStore interface {
	engine.EventLoader
	api.EventRecorder
}

func Run(cfg config.Config) error {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	var (
		events  eventStore
		catalog CatalogLoader
		pg      *storage.Store
	)
	switch cfg.Store.Backend {
	case "redis":
		rs, err := storage.NewRedis(rootCtx, cfg)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		defer rs.Close()
		events = rs
		log.Info().Msg("no creative catalog with redis backend; GET /v1/eligibility evaluates nothing")
	default:
		st, err := storage.New(rootCtx, cfg)
		if err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		defer st.Close()
		if err := st.EnsureSchema(rootCtx); err != nil {
			return err
		}
		events, catalog, pg = st, st, st
	}

	// Engine
	eval := engine.NewEvaluator(engine.WithMode(cfg.Mode()), engine.WithWorkers(cfg.Eligibility.Workers))
	svc := engine.NewService(eval,
		engine.WithHistory(cfg.History()),
		engine.WithDisabledRules(cfg.Eligibility.DisabledRules...),
	)
	cache := storage.NewCache()
	srv := New(svc, events, catalog, cache, cfg.RefreshInterval())
	if err := srv.Refresh(rootCtx); err != nil {
		return fmt.Errorf("initial refresh: %w", err)
	}
	log.Info().
		Int("events", svc.Current().Len()).
		Int("creatives", cache.Len()).
		Str("mode", eval.Mode().String()).
		Msg("eligibility engine ready")

	// HTTP
	h := api.NewEligibilityHandler(svc, cache, events)
	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.Router(h),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Background refresh; LISTEN/NOTIFY makes postgres refreshes near-immediate.
	srv.StartCacheRefresher(rootCtx)
	if pg != nil {
		go listener.ListenAndRefresh(rootCtx, pg, svc, cfg.Listener.Channel, cfg.Backoff())
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("http server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for signal
	select {
	case <-waitForSignal():
		log.Info().Msg("shutdown...")
	case err := <-errCh:
		return fmt.Errorf("server crashed: %w", err)
	}

	// Graceful shutdown
	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel() // stop background goroutines
	return httpSrv.Shutdown(shCtx)
}

func waitForSignal() <-chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	return c
}
