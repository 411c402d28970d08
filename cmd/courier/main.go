// Command courier runs a push-notification dispatch worker: the claim,
// dispatch and reconcile engine, its maintenance sweeps and an optional
// read-only HTTP surface.
//
// Configuration comes from an optional TOML file (COURIER_CONFIG) overlaid
// with COURIER_* environment variables. Invalid or missing credentials stop
// the process before anything starts.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier/api"
	audithook "github.com/xraph/courier/audit_hook"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/delivery/fcm"
	"github.com/xraph/courier/delivery/logsink"
	"github.com/xraph/courier/engine"
	"github.com/xraph/courier/intent"
	"github.com/xraph/courier/maintenance"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/stats"
	"github.com/xraph/courier/store/memory"
	"github.com/xraph/courier/store/postgres"
	redisstore "github.com/xraph/courier/store/redis"
	"github.com/xraph/courier/token"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "courier:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig(os.LookupEnv)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		queue     intent.Store
		directory token.Directory
		pingers   []api.Pinger
	)

	switch cfg.Store.Kind {
	case "memory":
		logger.Warn("using in-memory store; queued intents are lost on exit")
		m := memory.New(memory.WithTokenFreshness(cfg.Engine.TokenFreshness))
		queue, directory = m, m
		pingers = append(pingers, m)
	default:
		pg, err := postgres.New(ctx, cfg.Store.DatabaseURL,
			postgres.WithLogger(logger),
			postgres.WithTokenFreshness(cfg.Engine.TokenFreshness),
		)
		if err != nil {
			return err
		}
		defer func() { _ = pg.Close() }()
		if err := pg.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if cfg.Store.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				return err
			}
		}
		queue, directory = pg, pg
		pingers = append(pingers, pg)
	}

	if cfg.Store.RedisURL != "" {
		opts, err := goredis.ParseURL(cfg.Store.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		client := goredis.NewClient(opts)
		defer func() { _ = client.Close() }()

		rs := redisstore.New(client, redisstore.WithLogger(logger))
		if err := rs.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		logger.Info("queue store: redis", slog.String("token_directory", cfg.Store.Kind))
		queue = rs
		pingers = append(pingers, rs)
	}

	transport, err := newTransport(ctx, cfg.Transport, logger)
	if err != nil {
		return err
	}

	dispatchOpts := []delivery.Option{delivery.WithLogger(logger)}
	if cfg.Transport.RateLimit > 0 {
		dispatchOpts = append(dispatchOpts, delivery.WithRateLimit(cfg.Transport.RateLimit, cfg.Transport.RateBurst))
	}
	dispatcher := delivery.New(transport, dispatchOpts...)

	acc := stats.New()

	engineOpts := []engine.Option{
		engine.WithConfig(cfg.Engine),
		engine.WithLogger(logger),
		engine.WithStats(acc),
	}
	schedOpts := []maintenance.Option{
		maintenance.WithConfig(cfg.Engine),
		maintenance.WithLogger(logger),
		maintenance.WithStats(acc),
	}
	if cfg.Audit {
		audit := audithook.New(
			audithook.LogRecorder(logger.With(slog.String("component", "audit"))),
			audithook.WithLogger(logger),
		)
		engineOpts = append(engineOpts, engine.WithExtension(audit))
		schedOpts = append(schedOpts, maintenance.WithExtension(audit))
	}

	eng, err := engine.New(queue, directory, dispatcher, engineOpts...)
	if err != nil {
		return err
	}

	sched, err := maintenance.New(queue, schedOpts...)
	if err != nil {
		return err
	}

	reg, err := observability.Register(acc, queue.CountPending)
	if err != nil {
		return err
	}
	defer func() { _ = reg.Unregister() }()

	var srv *http.Server
	if cfg.HTTPAddr != "" {
		apiOpts := []api.Option{
			api.WithEngine(eng),
			api.WithStats(acc),
			api.WithQueue(queue),
			api.WithLogger(logger),
		}
		for _, p := range pingers {
			apiOpts = append(apiOpts, api.WithPinger(p))
		}
		h := api.New(apiOpts...).Handler()
		srv = &http.Server{Addr: cfg.HTTPAddr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", slog.String("error", err.Error()))
			}
		}()
	}

	if err := eng.Start(ctx); err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		_ = eng.Stop(context.Background())
		return err
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := sched.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop maintenance: %w", err))
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop engine: %w", err))
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop http server: %w", err))
		}
	}
	return errors.Join(errs...)
}

func newTransport(ctx context.Context, c transportConfig, logger *slog.Logger) (delivery.Transport, error) {
	if c.Kind == "log" {
		logger.Warn("using log transport; no notifications will reach devices")
		return logsink.New(logger), nil
	}
	opts := []fcm.Option{
		fcm.WithCredentialsFile(c.CredentialsFile),
		fcm.WithHints(c.hints()),
		fcm.WithLogger(logger),
	}
	if c.ProjectID != "" {
		opts = append(opts, fcm.WithProjectID(c.ProjectID))
	}
	t, err := fcm.New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return t, nil
}
