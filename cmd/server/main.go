// Package main is the entry point for the parlor server. It wires the
// store, the fan-out hub and the HTTP/websocket transport together and
// runs until a shutdown signal arrives.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/parlorchat/parlor-server/internal/authz"
	"github.com/parlorchat/parlor-server/internal/channels"
	"github.com/parlorchat/parlor-server/internal/config"
	"github.com/parlorchat/parlor-server/internal/database"
	httpserver "github.com/parlorchat/parlor-server/internal/http"
	"github.com/parlorchat/parlor-server/internal/hub"
	"github.com/parlorchat/parlor-server/internal/messages"
	"github.com/parlorchat/parlor-server/internal/ratelimit"
	"github.com/parlorchat/parlor-server/internal/roles"
	"github.com/parlorchat/parlor-server/internal/store"
	"github.com/parlorchat/parlor-server/internal/store/memory"
	"github.com/parlorchat/parlor-server/internal/voice"
	"github.com/parlorchat/parlor-server/internal/ws"
	"github.com/parlorchat/parlor-server/pkg/logger"
)

const (
	messagesPerSecond = 5
	messageBurst      = 10
	migrationsPath    = "internal/database/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer func() {
		// Sync errors on stdout/stderr are expected for terminals.
		_ = log.Sync()
	}()

	log.Info("starting parlor server",
		zap.String("environment", cfg.Server.Env),
		zap.String("http_port", cfg.Server.Port),
		zap.String("storage_driver", cfg.Storage.Driver),
	)

	st, closeStore, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer closeStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var hubOpts []hub.Option
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()

		hubOpts = append(hubOpts, hub.WithBridge(hub.NewBridge(rdb, cfg.Redis.Channel, log)))
		log.Info("redis event bridge enabled", zap.String("addr", cfg.Redis.Addr))
	}

	h := hub.NewHub(st, log, hubOpts...)
	defer h.Close()
	if cfg.Redis.Addr != "" {
		go h.RunBridge(ctx)
	}

	az := authz.NewResolver(st, log)
	limiter := ratelimit.NewLimiter(messagesPerSecond, messageBurst, log)
	go pruneLoop(ctx, limiter)

	srv := httpserver.NewServer(cfg, httpserver.Deps{
		Messages: messages.NewService(st, az, h, log),
		Voice:    voice.NewService(st, az, h, log),
		Channels: channels.NewService(st, az, log),
		Roles:    roles.NewService(st, az, log),
		Gateway:  ws.NewGateway(h, log),
		Limiter:  limiter,
	}, log)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Fatal("http server error", zap.Error(err))
	case sig := <-sigChan:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to shutdown http server gracefully", zap.Error(err))
	}

	log.Info("server shut down")
}

// openStore builds the configured store backend. The memory driver exists
// for local development and smoke tests.
func openStore(cfg *config.Config, log *zap.Logger) (store.Store, func(), error) {
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		log.Warn("using in-memory store, data will not survive a restart")
		return memory.New(), func() {}, nil
	default:
		db, err := database.NewDB(&cfg.Database, log)
		if err != nil {
			return nil, nil, err
		}
		if err := db.RunMigrations(migrationsPath); err != nil {
			db.Close()
			return nil, nil, err
		}
		closeFn := func() {
			if err := db.Close(); err != nil {
				log.Error("failed to close database connection", zap.Error(err))
			}
		}
		return db, closeFn, nil
	}
}

func pruneLoop(ctx context.Context, limiter *ratelimit.Limiter) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Prune(time.Hour)
		}
	}
}
