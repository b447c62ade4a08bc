package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"smartkasir/backend/internal/cache"
	"smartkasir/backend/internal/clock"
	"smartkasir/backend/internal/config"
	"smartkasir/backend/internal/httpapi"
	"smartkasir/backend/internal/report"
	"smartkasir/backend/internal/service"
	"smartkasir/backend/internal/store"
	"smartkasir/backend/internal/store/memory"
	pgstore "smartkasir/backend/internal/store/postgres"
)

const demoAdminPassword = "admin123"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.Logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Warn().Err(err).Msg("close error")
			}
		}
	}()

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set, refusing to fall back to memory: %w", err)
		}
		closers = append(closers, func() error { pg.Close(); return nil })
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		repo = pg
		logger.Info().Str("repository", "postgres").Msg("repository ready")
	} else {
		repo = memory.NewSeeded()
		logger.Info().Str("repository", "memory").Msg("repository ready with demo data")
	}

	reportCache := cache.ReportCache(cache.NoopReportCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisReportCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, report cache disabled")
			_ = redisCache.Close()
		} else {
			reportCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info().Str("cache", "redis").Msg("report cache ready")
		}
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	basis, err := report.ParseCostBasis(cfg.ReportCostBasis)
	if err != nil {
		return err
	}
	reports := report.NewAggregator(repo, reportCache, report.Options{
		CacheTTL:  cfg.ReportCacheTTL(),
		Location:  loc,
		CostBasis: basis,
		Logger:    logger,
	})
	svc := service.New(repo, reports, clock.Real{}, logger)

	password := cfg.AdminPassword
	if password == "" {
		password = demoAdminPassword
		logger.Warn().Str("username", cfg.AdminUsername).Msg("ADMIN_PASSWORD not set, using the demo password")
	}
	if cfg.JWTSecret == "" {
		logger.Warn().Msg("JWT_SECRET not set, tokens will not survive a restart")
	}
	auth, err := httpapi.NewAuthManager(cfg.JWTSecret, cfg.TokenTTL(), cfg.AdminUsername, password)
	if err != nil {
		return err
	}

	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:      cfg.AllowedOrigin,
		LoginRatePerMinute: cfg.LoginRatePerMinute,
		Logger:             logger,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Address()).Msg("SmartKasir backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case s := <-sig:
		logger.Info().Str("signal", s.String()).Msg("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}

	logger.Info().Msg("server stopped")
	return nil
}

// validateSecurityConfig only applies to persistent deployments. The
// in-memory demo may run on defaults.
func validateSecurityConfig(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return nil
	}
	if len(cfg.JWTSecret) < 32 {
		return errors.New("JWT_SECRET must be set and at least 32 characters")
	}
	if cfg.AdminPassword == "" {
		return errors.New("ADMIN_PASSWORD must be set")
	}
	if err := validatePasswordStrength(cfg.AdminPassword); err != nil {
		return fmt.Errorf("ADMIN_PASSWORD is too weak: %w", err)
	}
	return nil
}

// validatePasswordStrength rejects short passwords, single repeated
// characters and a list of well-known defaults.
func validatePasswordStrength(password string) error {
	if len(password) < 8 {
		return errors.New("at least 8 characters required")
	}

	known := map[string]bool{
		demoAdminPassword: true, "password": true, "12345678": true, "admin1234": true,
		"qwerty123": true, "kasir123": true, "password1": true, "87654321": true,
	}
	if known[strings.ToLower(password)] {
		return errors.New("common password not allowed")
	}

	allSame := true
	for i := 1; i < len(password); i++ {
		if password[i] != password[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return errors.New("repeated-character password not allowed")
	}
	return nil
}
