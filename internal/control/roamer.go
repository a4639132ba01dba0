package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/permaroam/roamer/internal/api"
	"github.com/permaroam/roamer/internal/core/config"
	"github.com/permaroam/roamer/internal/discovery/history"
	"github.com/permaroam/roamer/internal/discovery/queue"
	"github.com/permaroam/roamer/internal/discovery/resolve"
	"github.com/permaroam/roamer/internal/infra/gateway"
	"github.com/permaroam/roamer/internal/infra/storage"
	memorystore "github.com/permaroam/roamer/internal/infra/storage/memory"
	pebblestore "github.com/permaroam/roamer/internal/infra/storage/pebble"
	postgresstore "github.com/permaroam/roamer/internal/infra/storage/postgres"
	redisstore "github.com/permaroam/roamer/internal/infra/storage/redis"
)

const historyKey = "history"

// Config holds the application configuration.
type Config struct {
	Port    int
	Gateway gateway.Config
	Queue   queue.Config
	Storage config.StorageConfig
}

// Roamer is the main application struct: it owns the gateway, the resolver,
// the discovery queue, the navigation history and the API server.
type Roamer struct {
	cfg       Config
	log       *slog.Logger
	sessionID string

	gateway  *gateway.Client
	resolver *resolve.Resolver
	seen     *queue.SeenSet
	queue    *queue.Queue
	history  *history.History
	store    storage.KVStore
	server   *api.Server

	nav *navigator
}

// NewRoamer creates a Roamer with all dependencies initialized.
func NewRoamer(cfg Config, log *slog.Logger) (*Roamer, error) {
	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage backend %q: %w", cfg.Storage.Backend, err)
	}

	gw := gateway.NewClient(cfg.Gateway, log)
	resolver := resolve.New(gw, log)
	seen := queue.NewSeenSet()

	r := &Roamer{
		cfg:       cfg,
		log:       log,
		sessionID: uuid.NewString(),
		gateway:   gw,
		resolver:  resolver,
		seen:      seen,
		queue:     queue.New(cfg.Queue, gw, resolver, seen, log),
		history:   history.New(store, historyKey, log),
		store:     store,
	}
	r.nav = &navigator{r: r}
	r.server = api.NewServer(r.nav, cfg.Port)
	return r, nil
}

func openStore(cfg config.StorageConfig) (storage.KVStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return memorystore.NewStore(), nil
	case "pebble":
		return pebblestore.NewStore(cfg.Pebble)
	case "redis":
		return redisstore.NewStore(cfg.Redis, "roamer")
	case "postgres":
		return postgresstore.NewStore(context.Background(), cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Start restores persisted state, warms the chain-tip anchor and starts the
// API server.
func (r *Roamer) Start(ctx context.Context) error {
	r.history.Load(ctx)

	// Warm the anchor so the first estimate is grounded on a live tip. Best
	// effort: resolution falls back to the shipped anchor when this fails.
	err := gateway.DoWithRetry(ctx, gateway.DefaultRetryConfig, func(ctx context.Context) error {
		return r.resolver.WarmAnchor(ctx)
	})
	if err != nil {
		r.log.Warn("chain tip warmup failed", "error", err)
	}

	go func() {
		if err := r.server.Start(); err != nil {
			r.log.Error("API server stopped", "error", err)
		}
	}()

	r.log.Info("roamer started", "session", r.sessionID, "port", r.cfg.Port,
		"gateway", r.cfg.Gateway.URL, "storage", r.cfg.Storage.Backend)
	return nil
}

// Stop shuts the API server down and closes storage.
func (r *Roamer) Stop(ctx context.Context) error {
	if err := r.server.Stop(ctx); err != nil {
		r.log.Warn("API server shutdown failed", "error", err)
	}
	return r.store.Close()
}
