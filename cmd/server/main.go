package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pharmastock/backend/internal/cache"
	"pharmastock/backend/internal/config"
	"pharmastock/backend/internal/domain"
	"pharmastock/backend/internal/events"
	"pharmastock/backend/internal/httpapi"
	"pharmastock/backend/internal/lock"
	"pharmastock/backend/internal/logger"
	"pharmastock/backend/internal/metrics"
	"pharmastock/backend/internal/policy"
	"pharmastock/backend/internal/service"
	"pharmastock/backend/internal/store"
	"pharmastock/backend/internal/store/memory"
	pgstore "pharmastock/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		zlog.Fatal("invalid security configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)
	healthOpts := make([]httpapi.Option, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, pgstore.WithLockTimeout(cfg.Lock.WaitTimeout))
		if err != nil {
			zlog.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if cfg.MigrateOnStart {
			if err := pg.Migrate(); err != nil {
				zlog.Fatal("apply migrations", zap.Error(err))
			}
		}
		repo = pg
		closers = append(closers, pg.Close)
		healthOpts = append(healthOpts, httpapi.WithHealthCheck("store", pg.Ping))
		zlog.Info("repository: postgres", zap.Bool("migrated", cfg.MigrateOnStart))
	} else {
		repo = memory.NewSeeded(memory.WithLogger(zlog))
		zlog.Info("repository: in-memory")
	}

	var locker lock.Locker = lock.NewLocal(cfg.Lock.WaitTimeout)
	sinks := []events.Sink{events.NewLogSink(zlog)}
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := cache.Ping(ctx, client); err != nil {
			zlog.Warn("redis unavailable, using process-local locks", zap.Error(err))
			_ = client.Close()
		} else {
			locker = cache.NewRedisLocker(client, cfg.Lock.TTL, cfg.Lock.WaitTimeout, zlog)
			sinks = append(sinks, events.NewRedisStreamSink(client, cfg.Events.Stream))
			closers = append(closers, client.Close)
			healthOpts = append(healthOpts, httpapi.WithHealthCheck("redis", redisCheck(client)))
			zlog.Info("locks: redis", zap.String("addr", cfg.RedisAddr), zap.String("stream", cfg.Events.Stream))
		}
	} else {
		zlog.Info("locks: process-local")
	}

	dispatcher := events.NewDispatcher(cfg.Events.Buffer, zlog, sinks...)
	// The dispatcher drains before the store and redis client close.
	closers = append([]func() error{dispatcher.Close}, closers...)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	meters := metrics.New(registry)

	svc := service.New(repo, policy.New(cfg.Approval),
		service.WithLocker(locker),
		service.WithEvents(dispatcher),
		service.WithMetrics(meters),
		service.WithLogger(zlog),
	)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo, zlog)
	if err := bootstrapAdmin(ctx, auth, cfg.BootstrapAdminPass); err != nil {
		zlog.Fatal("bootstrap admin", zap.Error(err))
	}

	opts := append([]httpapi.Option{
		httpapi.WithLogger(zlog),
		httpapi.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
	}, healthOpts...)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, opts...)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		zlog.Info("pharmastock backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			zlog.Warn("close error", zap.Error(err))
		}
	}

	zlog.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.BootstrapAdminPass != "" && len(cfg.BootstrapAdminPass) < 12 {
		return fmt.Errorf("BOOTSTRAP_ADMIN_PASSWORD must be at least 12 characters")
	}
	return nil
}

// bootstrapAdmin creates the "admin" account on an empty user table so a fresh
// postgres deployment can log in. It does nothing once any admin exists.
func bootstrapAdmin(ctx context.Context, auth *httpapi.AuthManager, password string) error {
	if password == "" {
		return nil
	}
	for _, user := range auth.ListUsers(ctx) {
		if user.Role == domain.RoleAdmin {
			return nil
		}
	}
	_, err := auth.CreateUser(ctx, domain.UserCreateRequest{
		Username: "admin",
		Password: password,
		Role:     domain.RoleAdmin,
	})
	return err
}

func redisCheck(client *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return cache.Ping(ctx, client)
	}
}
