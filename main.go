package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/alimasry/go-collab-model/config"
	"github.com/alimasry/go-collab-model/logger"
	"github.com/alimasry/go-collab-model/model"
	"github.com/alimasry/go-collab-model/ot"
	"github.com/alimasry/go-collab-model/server"
	"github.com/alimasry/go-collab-model/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	storeKind := flag.String("store", "", "document store: memory, redis, firestore or none (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *storeKind != "" {
		cfg.Store.Kind = *storeKind
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, logger.Format(cfg.Log.Format))
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	types := ot.NewRegistry(ot.Text{})
	db, err := openStore(ctx, cfg.Store, types, log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m, err := model.NewModel(db, types, cfg.Model,
		model.WithLogger(log),
		model.WithStats(model.NewStats(reg)))
	if err != nil {
		return err
	}

	hub := server.NewHub(m, types, log)
	go hub.Run()

	mux := server.NewHandler(hub)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	errc := make(chan error, 1)
	go func() {
		log.Info("starting server",
			zap.String("addr", cfg.Addr),
			zap.String("store", cfg.Store.Kind),
			zap.Strings("types", types.Names()))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			m.Close()
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	return m.Close()
}

// openStore returns the configured gateway, or nil for in-memory only.
func openStore(ctx context.Context, cfg config.StoreConfig, types *ot.Registry, log *zap.Logger) (store.Gateway, error) {
	switch cfg.Kind {
	case config.StoreNone:
		return nil, nil
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return store.NewRedisStore(client, types, cfg.RedisPrefix, log), nil
	case config.StoreFirestore:
		client, err := firestore.NewClient(ctx, cfg.FirestoreProject)
		if err != nil {
			return nil, fmt.Errorf("create firestore client: %w", err)
		}
		return store.NewFirestoreStore(client, types), nil
	default:
		return store.NewMemoryStore(), nil
	}
}
