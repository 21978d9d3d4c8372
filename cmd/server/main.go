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

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Skotchmaster/tasks_app/internal/events"
	"github.com/Skotchmaster/tasks_app/internal/handlers"
	"github.com/Skotchmaster/tasks_app/internal/middleware"
	"github.com/Skotchmaster/tasks_app/internal/observability"
	"github.com/Skotchmaster/tasks_app/internal/repo"
	"github.com/Skotchmaster/tasks_app/internal/search"
	"github.com/Skotchmaster/tasks_app/internal/service"
	httpserver "github.com/Skotchmaster/tasks_app/internal/transport/http"
	"github.com/Skotchmaster/tasks_app/pkg/config"
	"github.com/Skotchmaster/tasks_app/pkg/db"
	"github.com/Skotchmaster/tasks_app/pkg/logging"
	"github.com/Skotchmaster/tasks_app/pkg/tokens"
)

func main() {
	cfg := config.Load()
	config.MustNonEmptyBytes(cfg.JWTSecret, "JWT_SECRET")
	config.MustNonEmpty(cfg.DatabaseURL, "DATABASE_URL")
	config.MustOneOf(cfg.DBDriver, "DB_DRIVER", db.DriverPostgres, db.DriverSQLite)

	logger := logging.New(cfg.LogLevel).With("service", cfg.ServiceName)
	ctx := logging.IntoContext(context.Background(), logger)

	gdb, err := db.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db init: %v", err)
	}
	store := repo.New(gdb)
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		prod, err := events.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Fatal(err)
		}
		publisher = prod
	}

	var index search.Index
	if cfg.ESURL != "" {
		esClient, err := search.NewClient(ctx, search.Config{
			URL:      cfg.ESURL,
			User:     cfg.ESUser,
			Password: cfg.ESPassword,
			Index:    cfg.ESIndex,
		})
		if err != nil {
			log.Fatal(err)
		}
		esIndex := search.NewESIndex(esClient, cfg.ESIndex)
		if err := esIndex.EnsureIndex(ctx); err != nil {
			log.Fatal(err)
		}
		index = esIndex
	}

	rateStore, redisClient, err := rateLimitStore(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal(err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	issuer := tokens.NewIssuer(cfg.JWTSecret, cfg.JWTExpiresIn)
	authSvc := &service.AuthService{Repo: store, Tokens: issuer, Events: publisher}
	taskSvc := &service.TaskService{Repo: store, Index: index, Events: publisher}
	userSvc := &service.UserService{Repo: store, Index: index, Events: publisher}

	created, err := authSvc.EnsureAdmin(ctx, cfg.AdminName, cfg.AdminEmail, cfg.AdminPassword)
	if err != nil {
		log.Fatalf("bootstrap admin: %v", err)
	}
	if created {
		logger.Info("bootstrap_admin_created", "email", cfg.AdminEmail)
	}

	deps := httpserver.Deps{
		Auth:          middleware.NewAuthenticator(issuer, store, metrics),
		Metrics:       metrics,
		HealthHandler: &handlers.HealthHandler{DB: gdb},
		AuthHandler:   handlers.NewAuthHandler(authSvc),
		TaskHandler:   handlers.NewTaskHandler(taskSvc),
		SearchHandler: handlers.NewSearchHandler(taskSvc),
		UserHandler:   handlers.NewUserHandler(userSvc),
	}

	trusted, err := httpserver.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("TRUSTED_PROXIES: %v", err)
	}

	e := httpserver.New(&deps, httpserver.Options{
		Logger:         logger,
		CORSOrigins:    cfg.CORSOrigins,
		TrustedProxies: trusted,
		RateLimit: &middleware.RateLimitConfig{
			Max:    cfg.RateLimitMax,
			Window: cfg.RateLimitWindow,
			Store:  rateStore,
		},
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http_server_started", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_server_error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit

	go func() {
		<-quit
		log.Println("force exit")
		os.Exit(1)
	}()

	logger.Info("shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server_shutdown_error", "error", err)
	}

	if err := db.Close(gdb); err != nil {
		logger.Error("db_close_error", "error", err)
	}

	if err := publisher.Close(); err != nil {
		logger.Error("kafka_close_error", "error", err)
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("redis_close_error", "error", err)
		}
	}

	logger.Info("shutdown_complete")
}

// rateLimitStore shares the limiter windows through Redis when REDIS_URL is
// set and keeps them in process memory otherwise.
func rateLimitStore(ctx context.Context, redisURL string) (middleware.WindowStore, *redis.Client, error) {
	if redisURL == "" {
		return middleware.NewMemoryStore(), nil, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return middleware.NewRedisStore(client, "tasks_app:ratelimit"), client, nil
}
