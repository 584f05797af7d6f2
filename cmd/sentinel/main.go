package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"sentinel-automod/internal/analytics"
	"sentinel-automod/internal/bot"
	"sentinel-automod/internal/clock"
	"sentinel-automod/internal/config"
	"sentinel-automod/internal/gateway"
	"sentinel-automod/internal/lockdown"
	"sentinel-automod/internal/modules/antiraid"
	"sentinel-automod/internal/modules/antispam"
	"sentinel-automod/internal/modules/audit"
	"sentinel-automod/internal/modules/automod"
	"sentinel-automod/internal/playbook"
	"sentinel-automod/internal/policy"
	"sentinel-automod/internal/scheduler"
	"sentinel-automod/internal/storage"
	"sentinel-automod/internal/timeouts"
	"sentinel-automod/internal/tracking"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	windowLimit  = 512
	purgeEvery   = time.Hour
	shutdownWait = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	// Sweepable windows are only in-memory; redis expires its own keys.
	var (
		window  tracking.Window
		sweeper tracking.Sweeper
	)
	if cfg.RedisURL != "" {
		client, err := tracking.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis init failed", zap.Error(err))
		}
		defer client.Close()
		window = tracking.NewRedisWindow(client, windowLimit)
		logger.Info("using redis windows")
	} else {
		memory := tracking.NewMemoryWindow(windowLimit)
		window, sweeper = memory, memory
	}

	session, err := bot.NewSession(cfg.DiscordToken)
	if err != nil {
		logger.Fatal("discord session failed", zap.Error(err))
	}
	gw := gateway.NewDiscord(session)
	clk := clock.Real()

	policies := policy.NewResolver(store, logger, cfg.PolicyCache.Size, cfg.PolicyTTL())
	auditLogger := audit.NewLogger(store, logger)
	tracker := timeouts.NewTracker(store, clk)
	checker := timeouts.NewChecker(store, gw, clk, logger, timeouts.CheckerConfig{
		Retention:   cfg.TimeoutRetention(),
		DMPerSecond: cfg.Enforcement.DMPerSecond,
	})

	enforcer := automod.NewEnforcer(gw, auditLogger, tracker, clk, logger, automod.EnforcerConfig{
		DefaultTimeout: cfg.DefaultTimeout(),
		NoticeDelay:    cfg.NoticeDelay(),
	})
	pipeline := automod.NewPipeline(windowLimit)
	automodModule := automod.New(policies, antispam.New(window, clk), pipeline, enforcer, clk, logger)

	manager := lockdown.New(gw, store, logger)
	playbookEngine := playbook.New(gw, manager, auditLogger, tracker, logger)

	botSvc := bot.New(cfg, logger, session, bot.Deps{
		Gateway:  gw,
		Policies: policies,
		Automod:  automodModule,
		Raid:     antiraid.New(window, clk),
		Playbook: playbookEngine,
		Lockdown: manager,
		Timeouts: tracker,
		Audit:    auditLogger,
		Reports:  analytics.New(store),
	})
	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started")

	tasks := []*scheduler.Task{
		scheduler.New("cleanup", cfg.Sweeps.CleanupInterval, func(ctx context.Context) error {
			now := clk.Now()
			removed := automodModule.Sweep(now, cfg.Sweeps.IdleGrace)
			if sweeper != nil {
				removed += sweeper.Sweep(now, cfg.Sweeps.IdleGrace)
			}
			logger.Debug("windows swept", zap.Int("removed", removed))
			return nil
		}, logger),
		scheduler.New("timeout_check", cfg.Sweeps.TimeoutCheckInterval, func(ctx context.Context) error {
			stats, err := checker.RunOnce(ctx)
			if stats.Due > 0 {
				logger.Info("timeouts checked",
					zap.Int("due", stats.Due),
					zap.Int("notified", stats.Notified),
					zap.Int("extended", stats.Extended),
					zap.Int("departed", stats.Departed),
				)
			}
			return err
		}, logger),
		scheduler.New("timeout_purge", purgeEvery, func(ctx context.Context) error {
			_, err := checker.Purge(ctx)
			return err
		}, logger),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		group.Go(func() error { return task.Start(groupCtx) })
	}

	var server *http.Server
	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			if err := store.Ping(r.Context()); err != nil {
				http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.Handle("/metrics", promhttp.Handler())
		server = &http.Server{Addr: cfg.Health.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		group.Go(func() error {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	<-groupCtx.Done()
	logger.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(shutdownCtx)
	}
	for _, task := range tasks {
		task.Stop()
	}
	botSvc.Close(shutdownCtx)
	if err := group.Wait(); err != nil {
		logger.Error("service stopped with error", zap.Error(err))
	}
}
