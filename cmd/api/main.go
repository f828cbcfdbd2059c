package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thriftx/realtime-messages/api"
	"github.com/thriftx/realtime-messages/config"
	"github.com/thriftx/realtime-messages/logging"
	"github.com/thriftx/realtime-messages/postgres"
	"github.com/thriftx/realtime-messages/redis"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logging.New(false, os.Stderr).Error("Could not load configuration", "error", err)
		os.Exit(1)
	}

	addr := flag.String("addr", cfg.Addr, "HTTP network address")
	connStr := flag.String("connection-string", cfg.DatabaseURL, "Postgres connection string")
	redisAddr := flag.String("redis-address", cfg.RedisAddr, "Redis endpoint")
	flag.Parse()

	logger := logging.New(cfg.IsDevelopment(), os.Stdout)

	pg, err := postgres.Connect(ctx, *connStr)
	if err != nil {
		logger.Error("Could not connect to PostgreSQL", "error", err.Error())
		os.Exit(1)
	}
	defer pg.Close()

	if err := pg.Migrate(ctx); err != nil {
		logger.Error("Could not migrate PostgreSQL", "error", err.Error())
		os.Exit(1)
	}

	cache, err := redis.Connect(ctx, *redisAddr)
	if err != nil {
		logger.Error("Could not connect to Redis", "error", err.Error())
		os.Exit(1)
	}
	defer cache.Close()

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Error("Could not listen", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/", &api.API{
		Logger: logger,
		DB:     pg,
		Cache:  cache,
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Could not shut down server", "error", err)
		}
	}()

	logger.Info("Ready to accept traffic", "address", *addr, "env", cfg.Env)
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		logger.Error("Could not start server", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped")
}
