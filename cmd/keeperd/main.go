package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"LevFarm/internal/config"
	"LevFarm/internal/core"
	"LevFarm/internal/event"
	"LevFarm/internal/ingestion"
	"LevFarm/internal/keeper"
	"LevFarm/internal/observability"
	"LevFarm/internal/paper"
	"LevFarm/internal/persistence"
	"LevFarm/internal/projection"
	"LevFarm/internal/query"
	"LevFarm/internal/server"
	"LevFarm/internal/sim"
	"LevFarm/migrations"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", os.Getenv("LEVFARM_CONFIG"), "path to the TOML config file")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the config")
	flag.Parse()

	logger := observability.NewLogger("keeperd")

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn().Err(err).Str("file", *envFile).Msg("dotenv not loaded")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("keeperd failed")
	}
	logger.Info().Msg("keeperd shutdown complete")
}

func run(parent context.Context, cfg config.File, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	logger.Info().Str("strategy", cfg.Strategy.Label).Msg("keeperd starting")

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Paper deployment ---
	sc, err := cfg.StrategyConfig()
	if err != nil {
		return err
	}
	strategyLogger := observability.NewLogger("strategy")
	deployment, err := paper.Deploy(cfg.WorldConfig(), sc, cfg.Strategy.Label, cfg.Strategy.DebtRatioBps, &strategyLogger)
	if err != nil {
		return fmt.Errorf("paper deploy: %w", err)
	}
	logger.Info().
		Str("strategy", deployment.Strategy.Address().Hex()).
		Str("vault", deployment.World.Vault.ShareToken().Hex()).
		Msg("paper world deployed")

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("postgres connected")
	healthChecker.AddCheck("postgres", db.PingContext)

	applied, err := persistence.NewMigrator(db, migrations.FS, logger).Up(ctx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")

	// --- Channels ---
	// The persist channel blocks (backpressure), the projection channel drops.
	persistChan := make(chan core.CoreOutput, cfg.Executor.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.Executor.ProjectionChanSize)
	publishChan := make(chan *event.OutcomeEnvelope, cfg.Executor.PublishChanSize)

	// --- Executor ---
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	execLogger := observability.NewLogger("executor")
	exec, err := core.NewExecutor(core.Deps{
		Strategy:       deployment.Strategy,
		Vault:          deployment.World.Vault,
		Bank:           deployment.World.Bank,
		Clock:          deployment.World.Chain,
		Paper:          deployment.World,
		Successors:     deployment.Successor,
		RewardDecimals: sim.Decimals,
		DBChecker:      dbChecker,
		LRUCapacity:    cfg.Executor.LRUCapacity,
		Metrics:        metrics,
		Logger:         &execLogger,
	}, persistChan, projectionChan)
	if err != nil {
		return err
	}

	// --- Recovery: replay the operation log onto the fresh world ---
	snapMgr := persistence.NewSnapshotManager(db)
	last, err := persistence.Recover(ctx, snapMgr, exec, ingestion.ParseCommand, logger)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	keys, err := dbChecker.RecentKeys(ctx, cfg.Executor.LRUCapacity)
	if err != nil {
		logger.Warn().Err(err).Msg("LRU warm-up from postgres failed")
	}
	exec.WarmLRU(keys)
	logger.Info().Int64("sequence", last).Int("lru_keys", len(keys)).Msg("recovery complete")

	store := projection.NewStatusStore(cfg.Executor.HistoryWindow)
	store.Seed(exec.Status())
	projWorker := projection.NewProjectionWorker(db, store, projectionChan, metrics, observability.NewLogger("projection"))
	if err := projWorker.UpsertStatus(ctx, exec.Status()); err != nil {
		logger.Warn().Err(err).Msg("seed projection failed")
	}

	// --- Goroutines ---
	// The executor side stops on ctx; the workers drain afterwards.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	errChan := make(chan error, 10)

	runner := core.NewRunner(exec, cfg.Executor.InboxSize, observability.NewLogger("runner"))
	var runnerWG sync.WaitGroup
	runnerWG.Add(1)
	go func() {
		defer runnerWG.Done()
		runner.Run(ctx)
	}()

	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.Executor.PersistBatchSize,
		cfg.Executor.PersistFlushTimeout, metrics, observability.NewLogger("persistence"))
	persistDone := make(chan error, 1)
	go func() { persistDone <- persistWorker.Run(workerCtx) }()

	projDone := make(chan error, 1)
	go func() { projDone <- projWorker.Run(workerCtx) }()

	// --- NATS ---
	var natsSubscriber *ingestion.NATSSubscriber
	publishDone := make(chan error, 1)
	if cfg.NATS.Enabled {
		natsLogger := observability.NewLogger("nats")
		nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, natsLogger)
		if err != nil {
			return err
		}
		defer nc.Close()
		healthChecker.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats not connected")
			}
			return nil
		})
		if err := ingestion.EnsureStreams(ctx, js, natsLogger); err != nil {
			return fmt.Errorf("ensure NATS streams: %w", err)
		}

		rawChan := make(chan ingestion.RawCommand, cfg.Executor.InboxSize)
		natsSubscriber = ingestion.NewNATSSubscriber(js, rawChan, cfg.NATS.Consumer, natsLogger)
		if err := natsSubscriber.Subscribe(ctx); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		go ingestion.RunNATSLoop(ctx, rawChan, runner, natsLogger)

		persistWorker.PublishTo(publishChan)
		publisher := ingestion.NewOutcomePublisher(js, publishChan, natsLogger)
		go func() { publishDone <- publisher.Run(workerCtx) }()
	} else {
		close(publishChan)
		publishDone <- nil
		logger.Info().Msg("NATS disabled, commands arrive over HTTP only")
	}

	// --- gRPC + HTTP ---
	snapshots := &snapshotter{mgr: snapMgr, metrics: metrics, logger: logger}
	grpcServer := server.NewGRPCServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, &server.ServerDeps{
		QueryService:  query.NewQueryService(db, store, runner),
		IngestService: ingestion.NewCommandIngestService(runner),
		TakeSnapshot: func(ctx context.Context) (int64, error) {
			return snapshots.takeLive(ctx, runner)
		},
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        observability.NewLogger("server"),
	})
	go func() { errChan <- grpcServer.StartGRPC(ctx) }()
	go func() { errChan <- grpcServer.StartHTTPGateway(ctx) }()

	// --- Keeper ---
	if cfg.Keeper.Enabled {
		samples := int(cfg.Keeper.TWAPWindow / cfg.Keeper.Interval)
		k := keeper.New(runner, keeper.Config{
			Interval:    cfg.Keeper.Interval,
			CallCost:    cfg.Keeper.CallCost,
			TWAPSamples: samples,
		}, metrics, observability.NewLogger("keeper"))
		go func() { errChan <- k.Run(ctx) }()
	}

	go snapshots.runPeriodic(ctx, runner, cfg.Executor.SnapshotInterval)

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)
	logger.Info().
		Int64("sequence", last).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Msg("keeperd ready")

	// --- Wait for shutdown ---
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errChan:
		if err != nil {
			runErr = err
			logger.Error().Err(err).Msg("component failed, shutting down")
		}
	}

	// --- Graceful shutdown ---
	// Stop intake, drain the log, then take the final snapshot so that it
	// never runs ahead of the persisted operations.
	healthChecker.SetReady(false)
	grpcServer.SetServing(false)
	cancel()
	if natsSubscriber != nil {
		natsSubscriber.Stop()
	}
	runnerWG.Wait()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	close(persistChan)
	if err := waitFor(shutdownCtx, persistDone); err != nil {
		logger.Error().Err(err).Msg("persistence drain failed")
	}
	close(projectionChan)
	if err := waitFor(shutdownCtx, projDone); err != nil {
		logger.Error().Err(err).Msg("projection drain failed")
	}
	if cfg.NATS.Enabled {
		close(publishChan)
	}
	if err := waitFor(shutdownCtx, publishDone); err != nil {
		logger.Error().Err(err).Msg("outcome publisher drain failed")
	}

	if seq, err := snapshots.save(shutdownCtx, exec.CreateSnapshotState()); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("sequence", seq).Msg("final snapshot saved")
	}
	return runErr
}

func waitFor(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
