package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/bilibili-xiayun/bililive-queue/internal/api"
	"github.com/bilibili-xiayun/bililive-queue/internal/api/middleware"
	"github.com/bilibili-xiayun/bililive-queue/internal/bilibili"
	"github.com/bilibili-xiayun/bililive-queue/internal/config"
	"github.com/bilibili-xiayun/bililive-queue/internal/events"
	"github.com/bilibili-xiayun/bililive-queue/internal/handlers"
	"github.com/bilibili-xiayun/bililive-queue/internal/metrics"
	"github.com/bilibili-xiayun/bililive-queue/internal/models"
	"github.com/bilibili-xiayun/bililive-queue/internal/notify"
	"github.com/bilibili-xiayun/bililive-queue/internal/queue"
	"github.com/bilibili-xiayun/bililive-queue/internal/relay"
	"github.com/bilibili-xiayun/bililive-queue/internal/settings"
	"github.com/bilibili-xiayun/bililive-queue/internal/store"
	"github.com/bilibili-xiayun/bililive-queue/internal/vote"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Operator settings, reloaded from disk on change
	s, err := settings.Load(cfg.SettingsPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.SettingsPath).Msg("settings load failed")
	}

	// Event archive: Postgres when DATABASE_URL is set, SQLite otherwise
	var archive store.ArchiveStore
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		archive = pg
		logger.Info().Msg("archiving to PostgreSQL")
	} else {
		sq, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		archive = sq
		logger.Info().Str("path", cfg.SQLitePath).Msg("archiving to SQLite")
	}
	defer archive.Close()

	// Redis: recent-message cache plus rate limiting
	var cache *store.RedisStore
	if cfg.RedisURL != "" {
		cache, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer cache.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Admin key: an explicit hash wins, a plaintext key is hashed here
	adminKeyHash := cfg.AdminKeyHash
	if adminKeyHash == "" && cfg.AdminKey != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminKey), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal().Err(err).Msg("admin key hash failed")
		}
		adminKeyHash = string(hash)
	}
	if adminKeyHash == "" {
		logger.Warn().Msg("no admin key configured, mutating routes are open")
	}

	// Queue engine and its deduction ledger
	ledger, err := queue.NewLedger(cfg.DataDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("ledger open failed")
	}
	// Mirror every deduction line into the archive, best-effort
	ledger.OnDeduction(func(name string, amount int, reason string) {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		d := &models.Deduction{Username: name, Amount: amount, Reason: reason}
		if err := archive.SaveDeduction(dctx, d); err != nil {
			logger.Warn().Err(err).Str("name", name).Msg("deduction archive failed")
		}
	})
	qm := queue.NewManager(queue.Options{
		Settings: s,
		Ledger:   ledger,
		DataDir:  cfg.DataDir,
		Logger:   logger,
	})
	qm.SetRosterPath(s.RosterPath())
	if err := qm.LoadState(); err != nil {
		logger.Warn().Err(err).Msg("state restore failed, starting fresh")
	}
	if qm.RosterLen() == 0 && s.RosterPath() != "" {
		if err := qm.ReloadRoster(false); err != nil {
			logger.Warn().Err(err).Str("path", s.RosterPath()).Msg("roster load failed")
		}
	}
	logger.Info().Int("names", qm.RosterLen()).Msg("queue state ready")

	votes := vote.NewManager(filepath.Join(cfg.DataDir, "vote_presets"), logger)

	// Bilibili client, credential store, room monitor
	client := bilibili.NewClient(logger)
	creds := bilibili.NewCredentialStore(filepath.Join(cfg.DataDir, "credential.json"), cfg.CredSecret)
	monitor := bilibili.NewMonitor(client, s, logger)

	hub := events.NewHub(logger)
	notifier := notify.New(cfg.NotifyEnabled, logger)

	// Push state changes onto the event stream
	qm.SetOnChange(func() {
		hub.Publish(events.TypeQueue, qm.Snapshot())
	})
	votes.SetOnChange(func() {
		hub.Publish(events.TypeVote, votes.Progress())
	})
	monitor.SetOnStatus(func(st bilibili.StatusInfo) {
		metrics.LivePopularity.Set(float64(st.Popularity))
		if st.Status == bilibili.StatusReconnecting {
			metrics.LiveReconnects.Inc()
		}
		hub.Publish(events.TypeMonitor, st)
	})

	rel := relay.New(relay.Options{
		Queue:    qm,
		Votes:    votes,
		Archive:  archive,
		Cache:    cache,
		Hub:      hub,
		Notifier: notifier,
		Settings: s,
		Logger:   logger,
	})

	h := handlers.NewHandler(handlers.Options{
		Settings: s,
		Queue:    qm,
		Votes:    votes,
		Monitor:  monitor,
		API:      client,
		Creds:    creds,
		Archive:  archive,
		Cache:    cache,
		Hub:      hub,
		Notifier: notifier,
		Logger:   logger,
		DataDir:  cfg.DataDir,
	})

	var limiter *middleware.RateLimiter
	if cache != nil {
		limiter = middleware.NewRateLimiter(cache.Client(), logger, middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		})
	}

	router := api.NewRouter(api.Options{
		Logger:       logger,
		Handler:      h,
		Hub:          hub,
		AdminKeyHash: adminKeyHash,
		Limiter:      limiter,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Reconnect the configured room on startup, with the stored credential
	// when one exists
	if room := s.AutoConnectRoom(); room != "" {
		cred, err := creds.Load()
		if err != nil {
			logger.Warn().Err(err).Msg("credential unavailable for auto-connect")
		}
		if err := monitor.Start(room, cred); err != nil {
			logger.Warn().Err(err).Str("room", room).Msg("auto-connect failed")
		}
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(rootCtx)

	// Apply live-room messages to the queues, votes, and archive
	g.Go(func() error {
		err := rel.Run(gctx, monitor.Messages())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// Reload settings when the file changes on disk
	g.Go(func() error {
		err := s.Watch(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// Periodic state save
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-time.After(s.AutoSaveInterval()):
				if err := qm.SaveState(); err != nil {
					logger.Warn().Err(err).Msg("auto-save failed")
				}
			}
		}
	})

	// Close votes whose deadline passed
	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if res := votes.TickAutoEnd(); res != nil {
					hub.Publish(events.TypeVote, votes.Progress())
				}
			}
		}
	})

	// HTTP server
	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting bililive-queue server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// Graceful shutdown once the signal lands
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
	}

	// Final state save so a restart resumes where the session left off
	if err := monitor.Stop(); err != nil {
		logger.Warn().Err(err).Msg("monitor stop failed")
	}
	if err := qm.SaveState(); err != nil {
		logger.Error().Err(err).Msg("final state save failed")
	}

	logger.Info().Msg("server stopped")
}
