package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryan-buckman/tubevore/internal/config"
	"github.com/bryan-buckman/tubevore/internal/database"
	"github.com/bryan-buckman/tubevore/internal/download"
	"github.com/bryan-buckman/tubevore/internal/logging"
	"github.com/bryan-buckman/tubevore/internal/metrics"
	"github.com/bryan-buckman/tubevore/internal/notify"
	"github.com/bryan-buckman/tubevore/internal/options"
	"github.com/bryan-buckman/tubevore/internal/provider"
	"github.com/bryan-buckman/tubevore/internal/provider/youtube"
	"github.com/bryan-buckman/tubevore/internal/runlock"
	"github.com/bryan-buckman/tubevore/internal/scheduler"
	"github.com/bryan-buckman/tubevore/internal/server"
	"github.com/bryan-buckman/tubevore/internal/storage"
	"github.com/bryan-buckman/tubevore/internal/subscription"
	"github.com/bryan-buckman/tubevore/internal/synchronize"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	var (
		configFile  string
		showVersion bool
	)
	flag.StringVar(&configFile, "config", "", "path to config file")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.Parse()

	if showVersion {
		fmt.Printf("tubevore %s\n", Version)
		return
	}

	if err := run(configFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, closer, err := logging.Setup(cfg.Logging.File, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("starting tubevore", "version", Version)

	db, err := database.Open(cfg.Database.Driver, cfg.Database.Path, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	logger.Info("database ready", "type", db.DatabaseType())

	ctx := context.Background()
	resolver := options.NewResolver(db, db,
		options.WithConfigSource(cfg.Options()),
		options.WithLogger(logger))

	registry := provider.NewRegistry(db, logger)
	if err := registry.Register(youtube.New(youtube.WithLogger(logger))); err != nil {
		return err
	}
	if err := registry.LoadConfigurations(ctx); err != nil {
		logger.Warn("provider configurations not loaded", "err", err)
	}

	publisher := notify.NewRedisPublisher(cfg.Redis.URL, logger)
	defer publisher.Close()
	notifier := notify.Multi{notify.NewLog(logger), publisher}

	var locker runlock.Locker = runlock.NewMemory()
	if client := publisher.Client(); client != nil {
		locker = runlock.NewRedis(client, "", runlock.DefaultLockTTL)
	}

	m := metrics.New()
	queue, err := download.OpenQueue(cfg.Queue.Path)
	if err != nil {
		return fmt.Errorf("failed to open download queue: %w", err)
	}
	defer queue.Close()
	evaluator := download.NewEvaluator(db, resolver, queue, m, logger)

	concurrency := synchronize.MaxConcurrencySQLite
	if db.SupportsHighConcurrency() {
		concurrency = synchronize.MaxConcurrencyPostgres
	}
	reconciler := synchronize.NewReconciler(db, registry, notifier, logger)
	files := synchronize.NewFileChecker(db, storage.NewOS(cfg.Storage.DownloadDir), resolver, m, logger)
	orchestrator := synchronize.NewOrchestrator(db, reconciler, files, evaluator,
		synchronize.WithLocker(locker),
		synchronize.WithMetrics(m),
		synchronize.WithConcurrency(concurrency),
		synchronize.WithOrchestratorLogger(logger))

	sched := scheduler.New(orchestrator, resolver, scheduler.WithLogger(logger))
	manager := subscription.NewManager(db, registry, resolver, evaluator,
		subscription.WithScheduler(sched),
		subscription.WithNotifier(notifier),
		subscription.WithLogger(logger))

	srv := server.New(server.Deps{
		Store:    db,
		Manager:  manager,
		Registry: registry,
		Resolver: resolver,
		Queue:    queue,
		Metrics:  m,
		Logger:   logger,
	})

	sched.Start()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Server.Addr) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info("shutting down", "signal", s.String())
	case err = <-errCh:
		if err != nil {
			logger.Error("server error", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil && !errors.Is(serr, context.DeadlineExceeded) {
		logger.Warn("server shutdown", "err", serr)
	}
	sched.Stop()
	logger.Info("stopped")
	return err
}
