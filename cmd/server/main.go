package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"portal-gateway/internal/auth"
	"portal-gateway/internal/config"
	"portal-gateway/internal/identity"
	"portal-gateway/internal/instrument"
	"portal-gateway/internal/server"
	"portal-gateway/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	code := serve(ctx, cfg, log)
	_ = log.Sync()
	stop()
	os.Exit(code)
}

// serve runs the gateway until ctx is cancelled and returns the process exit
// code. Failures are logged at error level rather than through log.Fatal so
// that the caller still flushes the logger.
func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) int {
	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", zap.Error(err))
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("config loaded",
		zap.Int("port", cfg.Server.Port),
		zap.String("identity_driver", cfg.Identity.Driver),
		zap.String("lenient_policy", cfg.Access.LenientPolicy),
	)

	// 2. Identity authority behind the profile cache
	authority, err := newAuthority(cfg)
	if err != nil {
		return err
	}
	profiles := identity.NewProfileCache(authority, cfg.ProfileCache.Size, cfg.ProfileCache.TTL)

	// 3. Event sink: the database when configured, the log otherwise
	deps := server.Deps{Config: cfg, Authority: profiles, Logger: log}
	var sink instrument.Sink = instrument.NewLogSink(log)
	if cfg.Database.Enabled {
		db, err := store.New(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		if err := db.Bootstrap(ctx); err != nil {
			return fmt.Errorf("bootstrap event tables: %w", err)
		}
		log.Info("event store ready", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.Name))

		sink = db
		deps.EventReader = db
		go instrument.RunCleanup(ctx, db, cfg.Instrumentation.Retention, cfg.Instrumentation.CleanupInterval, log)
	}
	if cfg.Instrumentation.Enabled {
		deps.Events = instrument.NewEventBuffer(sink, cfg.Instrumentation.BufferSize, cfg.Instrumentation.FlushInterval, log)
		defer deps.Events.Stop()
	}

	// 4. HTTP application
	app, err := server.New(deps)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		log.Info("starting server", zap.String("addr", addr))
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutting down")
		return app.ShutdownWithTimeout(10 * time.Second)
	}
}

func newAuthority(cfg *config.Config) (identity.Authority, error) {
	switch cfg.Identity.Driver {
	case "local":
		users, err := identity.LoadLocalUsers(cfg.Identity.Users)
		if err != nil {
			return nil, err
		}
		codec := auth.TokenCodec{Secret: cfg.Session.JWTSecret, TTL: cfg.Session.TokenTTL}
		local, err := identity.NewLocal(users, codec)
		if err != nil {
			return nil, err
		}
		return local, nil
	default:
		return identity.NewClient(identity.ClientConfig{
			BaseURL: cfg.Identity.BaseURL,
			Timeout: cfg.Identity.Timeout,
		}, nil), nil
	}
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
