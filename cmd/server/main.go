/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the schedule engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load configuration
  2. Open the store (SQLite or in-memory), seed catalogs
  3. Build the conflict engine and the services around it
  4. Configure HTTP router
  5. Start the HTTP server and, when enabled, the AMQP sync consumer
  6. Shut both down on SIGINT/SIGTERM

COMMAND-LINE FLAGS:
  -config  TOML configuration file (default: schedule.toml, optional)
  -port    HTTP server port, overrides http.addr
  -db      SQLite database path, overrides database.path
           Use ":memory:" for an in-memory SQLite database

ENVIRONMENT:
  SCHED_* variables override the file, see package config.

EXAMPLES:
  # Run with file database
  SCHED_AUTH_JWT_SECRET=... ./server -db="./data/schedule.db"

  # Development: in-memory store, header actors
  SCHED_DATABASE_DRIVER=memory SCHED_AUTH_ALLOW_HEADER_ACTOR=true ./server -port=3000

SEE ALSO:
  - config/config.go: Configuration layers
  - api/server.go: Router configuration
  - reconcile/consumer.go: Sync consumer
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/warp/schedule-engine/api"
	"github.com/warp/schedule-engine/auth"
	"github.com/warp/schedule-engine/blocked"
	"github.com/warp/schedule-engine/catalog"
	"github.com/warp/schedule-engine/closure"
	"github.com/warp/schedule-engine/config"
	"github.com/warp/schedule-engine/conflict"
	"github.com/warp/schedule-engine/events"
	"github.com/warp/schedule-engine/generic"
	"github.com/warp/schedule-engine/logging"
	"github.com/warp/schedule-engine/metrics"
	"github.com/warp/schedule-engine/reconcile"
	"github.com/warp/schedule-engine/resource"
	"github.com/warp/schedule-engine/schedule"
	"github.com/warp/schedule-engine/store/memory"
	"github.com/warp/schedule-engine/store/sqlite"
	"github.com/warp/schedule-engine/timeoff"
)

func main() {
	configPath := flag.String("config", "schedule.toml", "TOML configuration file")
	port := flag.Int("port", 0, "HTTP server port (overrides http.addr)")
	dbPath := flag.String("db", "", "SQLite database path (overrides database.path)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.HTTP.Addr = fmt.Sprintf(":%d", *port)
	}
	if *dbPath != "" {
		cfg.Database.Driver, cfg.Database.Path = "sqlite", *dbPath
	}

	log := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.Schedule.SeedCatalogs {
		n, err := catalog.Seed(ctx, store, time.Now())
		if err != nil {
			return err
		}
		log.Info("catalogs seeded", "inserted", n)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.AMQP.Enabled {
		p, err := events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return err
		}
		defer p.Close()
		publisher = p
	}

	week, err := cfg.Schedule.WorkWeek()
	if err != nil {
		return err
	}

	// One lock table: blocked time, time off and sync merges all serialize
	// per staff member.
	locks := generic.NewKeyedMutex()
	engine := conflict.NewEngine(store,
		conflict.WithHorizon(cfg.Schedule.HorizonDays), conflict.WithMetrics(m), conflict.WithLogger(log))
	blockedGuard := blocked.NewGuard(store, engine,
		blocked.WithLocks(locks), blocked.WithPublisher(publisher), blocked.WithLogger(log))
	resourceGuard := resource.NewGuard(store, engine,
		resource.WithLocks(locks), resource.WithPublisher(publisher), resource.WithLogger(log))
	reconciler := reconcile.NewReconciler(store, engine, blockedGuard, resourceGuard,
		reconcile.WithLocks(locks), reconcile.WithMetrics(m), reconcile.WithLogger(log))

	catalogs := catalog.NewService(store, catalog.WithPublisher(publisher), catalog.WithLogger(log))
	timeOff := timeoff.NewService(store, engine,
		timeoff.WithLocks(locks), timeoff.WithPublisher(publisher), timeoff.WithMetrics(m),
		timeoff.WithLogger(log), timeoff.WithDefaultWeek(week))
	closures := closure.NewRegistry(store,
		closure.WithPublisher(publisher), closure.WithLogger(log), closure.WithHorizon(cfg.Schedule.HorizonDays))

	handler := &api.Handler{
		Store:      store,
		Catalog:    catalogs,
		Conflicts:  engine,
		TimeOff:    timeOff,
		Blocked:    blockedGuard,
		Resources:  resourceGuard,
		Closures:   closures,
		Reconciler: reconciler,
		Now:        time.Now,
	}

	var issuer *auth.Issuer
	if cfg.Auth.JWTSecret != "" {
		issuer = auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL.Duration)
	}
	if cfg.Auth.AllowHeaderActor {
		log.Warn("X-Actor-* headers are trusted; do not run this way in production")
	}

	router := api.NewRouter(handler, api.Options{
		CORSOrigins:      cfg.HTTP.CORSOrigins,
		Issuer:           issuer,
		AllowHeaderActor: cfg.Auth.AllowHeaderActor,
		Metrics:          m,
		MetricsPath:      cfg.Metrics.Path,
		Logger:           log,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout.Duration,
		WriteTimeout: cfg.HTTP.WriteTimeout.Duration,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", "addr", cfg.HTTP.Addr, "database", cfg.Database.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout.Duration)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.AMQP.Enabled {
		consumer, err := events.NewAMQPConsumer(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.SyncQueue, []string{"sync.#"})
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		defer consumer.Close()
		g.Go(func() error {
			msgs, err := consumer.Deliveries(gctx)
			if err != nil {
				return fmt.Errorf("consume %s: %w", cfg.AMQP.SyncQueue, err)
			}
			log.Info("sync consumer started", "queue", cfg.AMQP.SyncQueue)
			return reconcile.NewConsumer(reconciler, log).Run(gctx, msgs)
		})
	}

	return g.Wait()
}

// openStore returns the configured store and its cleanup.
func openStore(db config.Database) (schedule.Store, func(), error) {
	if db.Driver == "memory" {
		return memory.New(), func() {}, nil
	}
	store, err := sqlite.New(db.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}
