// Command authcore-server is a reference HTTP service over authcore.Engine.
//
// Endpoints (under /api/v1/auth):
//
//	POST   /register          create an account and sign in
//	POST   /login             password login, returns a token pair
//	POST   /refresh           mint an access token from a refresh token
//	POST   /logout            revoke the session of the presented refresh token
//	POST   /logout-all        revoke every session of the caller
//	GET    /sessions          list the caller's active sessions
//	DELETE /sessions/{version} revoke one of the caller's sessions
//	GET    /profile           identity plus active sessions
//	PUT    /change-password   change password and sign out everywhere
//
// GET /health pings the session store and GET /metrics serves Prometheus
// metrics.
//
// Configuration comes from the environment (a .env file is loaded first).
// TRUSTED_PROXIES is a comma separated list of CIDRs whose X-Forwarded-For
// header is believed when deriving the client address for rate limits.
// With -dev the server runs against an in-process miniredis and an in-memory
// account store and generates signing secrets when none are set.
package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/getsentry/sentry-go"
	"github.com/halinh/authcore"
	"github.com/halinh/authcore/accountstore"
	"github.com/halinh/authcore/middleware"
	"github.com/halinh/authcore/password"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	var (
		dev  = flag.Bool("dev", false, "use miniredis and an in-memory account store")
		addr = flag.String("addr", "", "listen address; defaults to :$PORT or :8080")
	)
	flag.Parse()

	_ = godotenv.Load()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "authcore-server").Logger()
	if err := run(logger, *dev, *addr); err != nil {
		logger.Error().Err(err).Msg("server_exit")
		os.Exit(1)
	}
}

func run(logger zerolog.Logger, dev bool, addr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := initSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error().Err(err).Msg("init_sentry_failed")
	}
	defer sentry.Flush(2 * time.Second)

	cfg, err := authcore.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := middleware.TrustProxies(strings.Split(os.Getenv("TRUSTED_PROXIES"), ",")...); err != nil {
		return fmt.Errorf("parse TRUSTED_PROXIES: %w", err)
	}

	var (
		rdb      redis.UniversalClient
		accounts accountStore
		cleanup  []func()
	)
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	if dev {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		cleanup = append(cleanup, mr.Close)
		rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		accounts = accountstore.NewMemory()
		ensureDevSecrets(&cfg, logger)
		logger.Info().Str("redis", mr.Addr()).Msg("dev_mode")
	} else {
		opts, err := redis.ParseURL(envOrDefault("REDIS_URL", "redis://localhost:6379/0"))
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opts)

		databaseURL := os.Getenv("DATABASE_URL")
		if databaseURL == "" {
			return errors.New("DATABASE_URL is required outside -dev")
		}
		db, err := sql.Open("pgx", databaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		cleanup = append(cleanup, func() { _ = db.Close() })
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		store := accountstore.NewSQL(db, accountstore.DialectPostgres)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		accounts = store
	}
	cleanup = append(cleanup, func() { _ = rdb.Close() })

	hasher, err := password.NewBcrypt(0)
	if err != nil {
		return err
	}

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountRepository(accounts).
		WithLogger(logger).
		WithAuditSink(newSentrySink(authcore.NewZerologSink(logger))).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	cleanup = append(cleanup, engine.Close)

	app := newApp(engine, accounts, hasher, logger)
	go app.repairLoop(ctx, envDurationOrDefault("SESSION_REPAIR_INTERVAL", time.Hour, logger))

	if addr == "" {
		addr = ":" + envOrDefault("PORT", "8080")
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           app.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info().Msg("shutting_down")
	return srv.Shutdown(shutdownCtx)
}

func ensureDevSecrets(cfg *authcore.Config, logger zerolog.Logger) {
	if len(cfg.JWT.AccessSecret) == 0 {
		cfg.JWT.AccessSecret = randomSecret()
		logger.Warn().Msg("generated ephemeral JWT_SECRET")
	}
	if len(cfg.JWT.RefreshSecret) == 0 {
		cfg.JWT.RefreshSecret = randomSecret()
		logger.Warn().Msg("generated ephemeral JWT_REFRESH_SECRET")
	}
}

func randomSecret() []byte {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return []byte(hex.EncodeToString(b))
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDurationOrDefault(key string, fallback time.Duration, logger zerolog.Logger) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		logger.Warn().Str("key", key).Str("value", v).Msg("invalid duration, using default")
		return fallback
	}
	return d
}
