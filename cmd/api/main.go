package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"gatekit.org/internal/auth"
	"gatekit.org/internal/config"
	"gatekit.org/internal/httpapi"
	"gatekit.org/internal/obs"
	"gatekit.org/internal/ratelimit"
)

var version = "0.3.0"

func main() {
	obs.Init()
	log := obs.Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration rejected")
	}

	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	tokens, err := auth.NewTokenService(cfg.AccessSecret, cfg.RefreshSecret,
		auth.WithIssuer(cfg.Issuer),
		auth.WithAudience(cfg.Audience),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("token service construction failed")
	}

	loginLimiter, resetLimiter := buildLimiters(cfg)

	svc, err := auth.NewService(auth.NewPGStore(db), tokens,
		auth.WithBcryptCost(cfg.BcryptCost),
		auth.WithLoginLimiter(loginLimiter, auth.RatePolicy{Max: cfg.LoginMaxAttempts, Window: cfg.LoginWindow}),
		auth.WithResetLimiter(resetLimiter, auth.RatePolicy{Max: cfg.ResetMaxAttempts, Window: cfg.ResetWindow}),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("auth service construction failed")
	}

	api := httpapi.New(svc, httpapi.ReadyProbe{DB: db}, version)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info().Str("addr", srv.Addr).Str("version", version).Msg("starting gatekit-api")

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = db.Close()
	log.Info().Msg("stopped")
}

// buildLimiters returns the login and reset limiters. Without a Redis
// address the in-process limiter backs both, which is fine for a single
// replica but not across a fleet.
func buildLimiters(cfg config.Config) (ratelimit.Limiter, ratelimit.Limiter) {
	if cfg.RedisAddr == "" {
		mem := ratelimit.NewMemoryLimiter()
		return mem, mem
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return ratelimit.NewRedisCounter(client), ratelimit.NewRedisSlidingLog(client)
}
