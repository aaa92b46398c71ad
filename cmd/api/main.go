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

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"threadgraph/api/internal/app"
	"threadgraph/api/internal/broadcast"
	"threadgraph/api/internal/config"
	"threadgraph/api/internal/event"
	"threadgraph/api/internal/graph"
	"threadgraph/api/internal/identity"
	"threadgraph/api/internal/ingest"
	"threadgraph/api/internal/logging"
	"threadgraph/api/internal/metrics"
	"threadgraph/api/internal/search"
	"threadgraph/api/internal/store"
	"threadgraph/api/internal/thread"
)

const version = "0.1.0"

func main() {
	config.LoadDotEnv()

	cliApp := &cli.App{
		Name:    "threadgraph",
		Usage:   "Track Bluesky threads from the firehose and serve their reply/quote graphs",
		Version: version,
		Flags:   config.Flags(),
		Action:  run,
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		return err
	}
	if err := logging.Init(cfg.Env); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logging.Sync()
	log := logging.Get()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, log); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	dataStore := store.NewPostgresStore(db)

	var index search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
		index = meiliClient
	}
	searchService := search.NewService(index, search.NewPgFTS(db), log)
	go searchService.ReindexAllFromPG(ctx)

	g, gctx := errgroup.WithContext(ctx)

	var identityCheck app.Pinger
	if cfg.Ingesting() {
		log.Info("updating threads", zap.Strings("roots", cfg.RootURIs))
		cleanup, check, err := startIngest(gctx, g, cfg, dataStore, searchService, log)
		if err != nil {
			return err
		}
		defer cleanup()
		identityCheck = check
	} else {
		log.Info("only serving preloaded threads")
	}

	httpServer := app.NewHTTPServer(graph.NewService(dataStore), searchService, dataStore, log, app.Options{
		CORSOrigin:    cfg.CORSOrigin,
		StaticDir:     cfg.StaticDir,
		Production:    cfg.IsProduction(),
		IdentityCache: identityCheck,
	})
	server := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g.Go(func() error {
		log.Info("threadgraph listening", zap.String("addr", cfg.BindAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

// startIngest wires transport, dispatcher and one builder per root. Builders
// subscribe before the dispatcher starts so none of them miss early events.
// The returned Pinger is non-nil when the identity cache lives in Redis.
func startIngest(ctx context.Context, g *errgroup.Group, cfg config.Config, dataStore *store.PostgresStore, indexer thread.Indexer, log *zap.Logger) (func(), app.Pinger, error) {
	identityStore, closeIdentity, err := newIdentityStore(cfg, dataStore, log)
	if err != nil {
		return nil, nil, err
	}
	var identityCheck app.Pinger
	if redisStore, ok := identityStore.(*identity.RedisStore); ok {
		identityCheck = redisStore
	}
	cache, err := identity.NewLRUCache(cfg.IdentityCacheSize)
	if err != nil {
		closeIdentity()
		return nil, nil, fmt.Errorf("identity cache: %w", err)
	}
	directory := identity.NewPLCDirectory(cfg.PLCDirectoryURL, identity.WithRateLimit(cfg.PLCRateLimit, 1))
	resolver := identity.NewResolver(cache, identityStore, directory, log)

	bus := broadcast.New[event.Event](cfg.BroadcastCapacity,
		broadcast.WithPolicy(cfg.BroadcastOverflow),
		broadcast.WithDropHook(func(subscriber string) {
			metrics.BroadcastDropped.WithLabelValues(subscriber).Inc()
		}),
	)

	for _, root := range cfg.RootURIs {
		root := root
		sub := bus.Subscribe(root)
		builder := thread.New(root, dataStore, resolver,
			thread.WithLogger(log),
			thread.WithIndexer(indexer),
		)
		g.Go(func() error {
			runBuilder(ctx, builder, bus, sub, root, log)
			return nil
		})
	}

	src, err := ingest.Connect(ctx, ingest.JetStreamConfig{
		Servers:  cfg.NATSHosts,
		NKeySeed: cfg.NATSNKey,
		Stream:   cfg.NATSStream,
		Subject:  cfg.NATSSubject,
		Durable:  cfg.NATSDurable,
	}, log)
	if err != nil {
		bus.Close()
		closeIdentity()
		return nil, nil, err
	}

	g.Go(func() error {
		defer bus.Close()
		err := ingest.NewDispatcher(src, bus, log).Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("dispatcher: %w", err)
		}
		return nil
	})

	return func() {
		src.Close()
		closeIdentity()
	}, identityCheck, nil
}

// runBuilder never fails the group: a root that cannot initialise is logged
// and the remaining roots keep running. The subscription is released when the
// builder stops so a dead root stops queueing events.
func runBuilder(ctx context.Context, b *thread.Builder, bus *broadcast.Broadcaster[event.Event], sub *broadcast.Subscription[event.Event], root string, log *zap.Logger) {
	defer bus.Unsubscribe(sub)
	if err := b.Init(ctx); err != nil {
		log.Error("thread builder failed to start", zap.String("root", root), zap.Error(err))
		return
	}
	if err := b.Run(ctx, sub); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("thread builder stopped", zap.String("root", root), zap.Error(err))
	}
}

// newIdentityStore picks the persistent identity tier: Redis when configured,
// otherwise the identity_cache table.
func newIdentityStore(cfg config.Config, dataStore *store.PostgresStore, log *zap.Logger) (identity.Store, func(), error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Info("using PostgreSQL for identity cache")
		return dataStore, func() {}, nil
	}
	log.Info("using Redis for identity cache")
	redisStore, err := identity.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return redisStore, func() { _ = redisStore.Close() }, nil
}
