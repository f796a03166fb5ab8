package main

import (
	"OptionSettle/internal/archive"
	"OptionSettle/internal/config"
	"OptionSettle/internal/core"
	"OptionSettle/internal/ingestion"
	"OptionSettle/internal/keeper"
	"OptionSettle/internal/observability"
	"OptionSettle/internal/persistence"
	"OptionSettle/internal/projection"
	"OptionSettle/internal/query"
	"OptionSettle/internal/server"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", os.Getenv("OPTSETTLE_CONFIG"), "path to the TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		l := observability.NewLogger("main")
		l.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		l := observability.NewLogger("main")
		l.Fatal().Err(err).Msg("invalid config")
	}
	observability.SetLogFormat(cfg.Log.Format)
	level := observability.ParseLogLevel(cfg.Log.Level)
	logger := observability.NewLoggerWithLevel("main", level)

	if os.Getenv("GOGC") == "" {
		logger.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, level, logger); err != nil {
		logger.Fatal().Err(err).Msg("OptionSettle stopped with error")
	}
	logger.Info().Msg("OptionSettle shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, level zerolog.Level, logger zerolog.Logger) error {
	component := func(name string) zerolog.Logger {
		return observability.NewLoggerWithLevel(name, level)
	}
	logger.Info().Str("factory", cfg.Factory.Address).Uint64("chain_id", cfg.Factory.ChainID).Msg("OptionSettle starting")

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime.Duration)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("Postgres connected")

	if err := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, component("migrator")).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()
	healthChecker.AddCheck("postgres", db.PingContext)
	checkpoints := persistence.NewCheckpointStore(db)

	// --- Channels ---
	// The persist send blocks (backpressure); projection and publish drop.
	persistCoreChan := make(chan core.CoreOutput, cfg.Engine.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.Engine.ProjectionChanSize)
	persistWorkerChan := make(chan core.CoreOutput, cfg.Engine.PersistChanSize)
	publishChan := make(chan core.CoreOutput, cfg.Engine.PublishChanSize)

	// --- Engine ---
	engine, err := core.NewEngine(core.Config{
		FactoryAddress:      cfg.FactoryAddress(),
		ChainID:             cfg.Factory.ChainID,
		Template:            cfg.Template(),
		IdempotencyCapacity: cfg.Engine.IdempotencyCapacity,
		MaxClockSkew:        cfg.Engine.MaxClockSkew.Duration,
	}, 1, persistCoreChan, projectionCoreChan, persistence.NewPostgresIdempotencyChecker(db), metrics)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	for _, a := range cfg.Assets {
		if _, err := engine.RegisterAsset(a.Symbol, common.HexToAddress(a.Address), a.Decimals); err != nil {
			return fmt.Errorf("register asset %s: %w", a.Symbol, err)
		}
	}

	// --- Recovery ---
	recovery, err := persistence.NewRecoverer(checkpoints, cfg.Engine.ReplayPageSize, metrics, component("recovery")).Recover(ctx, engine)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	metrics.CoreSequence.Set(float64(recovery.LastSequence))

	runner := core.NewRunner(engine, cfg.Engine.InboxSize, component("core"))

	// --- Pipeline: runner, fan-out and workers ---
	// The pipeline outlives ingress so everything applied before shutdown
	// is flushed.
	runnerCtx, stopRunner := context.WithCancel(context.Background())
	defer stopRunner()
	runnerDone := make(chan error, 1)
	go func() { runnerDone <- runner.Run(runnerCtx) }()

	var pipe errgroup.Group
	pipe.Go(func() error {
		fanOut(persistCoreChan, persistWorkerChan, publishChan, metrics)
		return nil
	})
	pipe.Go(func() error {
		w := persistence.NewPersistenceWorker(db, persistWorkerChan, cfg.Engine.PersistBatchSize,
			cfg.Engine.PersistFlushTimeout.Duration, metrics, component("persistence"))
		return w.Run(context.Background())
	})
	pipe.Go(func() error {
		return projection.NewProjectionWorker(db, projectionCoreChan, metrics, component("projection")).Run(context.Background())
	})

	shutdownPipeline := func() error {
		stopRunner()
		err := <-runnerDone
		close(persistCoreChan)
		close(projectionCoreChan)
		if werr := pipe.Wait(); werr != nil && err == nil {
			err = werr
		}
		logger.Info().Int64("sequence", engine.GetSequence()-1).Msg("pipeline drained")
		return err
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, component("nats"))
	if err != nil {
		shutdownPipeline()
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()
	healthChecker.AddCheck("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return fmt.Errorf("nats %s", nc.Status())
		}
		return nil
	})

	if err := ingestion.EnsureStreams(ctx, js, component("nats")); err != nil {
		shutdownPipeline()
		return fmt.Errorf("ensure command stream: %w", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, component("nats")); err != nil {
		shutdownPipeline()
		return fmt.Errorf("ensure outbound stream: %w", err)
	}
	pipe.Go(func() error {
		return ingestion.NewOutboundPublisher(js, publishChan, metrics, component("publisher")).Run(context.Background())
	})

	// --- Ingress ---
	g, gctx := errgroup.WithContext(ctx)

	subscriber := ingestion.NewNATSSubscriber(js, runner, metrics, component("ingestion"))
	if err := subscriber.Subscribe(gctx, ingestion.DefaultSubjects()); err != nil {
		shutdownPipeline()
		return fmt.Errorf("nats subscribe: %w", err)
	}

	grpcServer := server.NewGRPCServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, &server.ServerDeps{
		DB:            db,
		Runner:        runner,
		IngestService: ingestion.NewGRPCIngestService(runner, metrics),
		QueryService:  query.NewQueryService(db),
		Checkpoints:   checkpoints,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        component("server"),
	})
	g.Go(func() error { return grpcServer.StartGRPC(gctx) })
	g.Go(func() error { return grpcServer.StartHTTPGateway(gctx) })
	g.Go(func() error { return serveMetrics(gctx, cfg.Server.MetricsAddr, logger) })
	g.Go(func() error {
		runCheckpoints(gctx, runner, checkpoints, cfg.Engine.CheckpointInterval.Duration, metrics, component("checkpoint"))
		return nil
	})
	g.Go(func() error {
		monitorChannels(gctx, runner, metrics, map[string]chan core.CoreOutput{
			"persist":    persistCoreChan,
			"projection": projectionCoreChan,
			"publish":    publishChan,
		})
		return nil
	})
	g.Go(func() error {
		bootstrapSeries(gctx, cfg, runner, component("bootstrap"))
		return nil
	})

	if cfg.Keeper.Enabled {
		k, closeKeeper, err := newKeeper(ctx, cfg, runner, metrics, component("keeper"))
		if err != nil {
			subscriber.Stop()
			shutdownPipeline()
			return err
		}
		defer closeKeeper()
		g.Go(func() error { return k.Start(gctx) })
	}

	healthChecker.SetReady(true)
	logger.Info().
		Int64("sequence", recovery.LastSequence).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("OptionSettle ready")

	<-gctx.Done()
	healthChecker.SetReady(false)
	logger.Info().Msg("shutting down")

	subscriber.Stop()
	ingressErr := g.Wait()
	pipeErr := shutdownPipeline()

	if err := finalCheckpoint(engine, checkpoints); err != nil {
		logger.Warn().Err(err).Msg("final checkpoint skipped")
	}

	if ingressErr != nil && !errors.Is(ingressErr, context.Canceled) {
		return ingressErr
	}
	return pipeErr
}

// newKeeper wires the sweeper to Redis and, when a bucket is configured, to
// the statement archive.
func newKeeper(ctx context.Context, cfg *config.Config, runner *core.Runner, metrics *observability.Metrics, logger zerolog.Logger) (*keeper.Keeper, func(), error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}

	var statements keeper.StatementWriter
	if cfg.S3.Bucket != "" {
		a, err := archive.NewS3Archiver(ctx, archive.Config{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			rdb.Close()
			return nil, nil, err
		}
		if err := a.Health(ctx); err != nil {
			logger.Warn().Err(err).Msg("statement archive unreachable; statements retry on later runs")
		}
		statements = a
	} else {
		logger.Warn().Msg("s3.bucket not set; settlement statements are not archived")
	}

	k, err := keeper.New(keeper.Config{
		Schedule:  cfg.Keeper.Schedule,
		Caller:    common.HexToAddress(cfg.Keeper.Caller),
		BatchSize: cfg.Keeper.BatchSize,
		LockTTL:   cfg.Keeper.LockTTL.Duration,
	}, runner, keeper.NewRedisStore(rdb, ""), statements, metrics, logger)
	if err != nil {
		rdb.Close()
		return nil, nil, err
	}
	return k, func() { rdb.Close() }, nil
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
