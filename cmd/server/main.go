package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"stokpilot/backend/internal/cache"
	"stokpilot/backend/internal/config"
	"stokpilot/backend/internal/httpapi"
	"stokpilot/backend/internal/lock"
	"stokpilot/backend/internal/logger"
	"stokpilot/backend/internal/service"
	"stokpilot/backend/internal/store"
	"stokpilot/backend/internal/store/memory"
	pgstore "stokpilot/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		if cfg.AutoMigrate {
			if err := pgstore.Migrate(cfg.DatabaseURL, log); err != nil {
				log.Fatal("migrations failed", zap.Error(err))
			}
		}
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, cfg.LockTimeout())
		if err != nil {
			log.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded(cfg.LockTimeout(), log)
		log.Info("repository: in-memory")
	}

	opts := []service.Option{}
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		itemCache := cache.NewRedisItemCache(client)
		if err := itemCache.Ping(ctx); err != nil {
			if cfg.LockBackend == "redis" {
				log.Fatal("LOCK_BACKEND=redis but redis is unavailable", zap.Error(err))
			}
			log.Warn("redis unavailable, using noop item cache", zap.Error(err))
			_ = client.Close()
		} else {
			opts = append(opts, service.WithItemCache(itemCache, cfg.ItemCacheTTL()))
			closers = append(closers, client.Close)
			log.Info("item cache: redis")
			if cfg.LockBackend == "redis" {
				opts = append(opts, service.WithLocker(lock.NewRedis(client, 0, log.Named("lock")), cfg.LockTimeout()))
				log.Info("lock backend: redis")
			}
		}
	} else {
		log.Info("item cache: noop")
	}

	svc := service.New(repo, log, opts...)
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo, log)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, log)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("stokpilot backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.IsProduction() && cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when APP_ENV=production")
	}
	if cfg.LockBackend == "redis" && cfg.RedisAddr == "" {
		return fmt.Errorf("LOCK_BACKEND=redis requires REDIS_ADDR")
	}
	return nil
}
