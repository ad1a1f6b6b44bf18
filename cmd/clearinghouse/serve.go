package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ClearingHouse/internal/config"
	"ClearingHouse/internal/core"
	"ClearingHouse/internal/ingestion"
	"ClearingHouse/internal/observability"
	"ClearingHouse/internal/persistence"
	"ClearingHouse/internal/projection"
	"ClearingHouse/internal/query"
	"ClearingHouse/internal/server"
	"ClearingHouse/internal/state"
)

// warm the dedup cache with at most this many recent keys
const maxWarmKeys = 100_000

func newServeCmd() *cobra.Command {
	var (
		genesisFile string
		noNATS      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the clearing house",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if genesisFile != "" {
				cfg.GenesisFile = genesisFile
			}
			if noNATS {
				cfg.NATSURL = ""
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&genesisFile, "genesis", "", "TOML genesis file (overrides CH_GENESIS_FILE)")
	cmd.Flags().BoolVar(&noNATS, "no-nats", false, "disable JetStream ingestion and publishing")
	return cmd
}

func loadGenesis(cfg config.Config, logger zerolog.Logger) (config.Genesis, error) {
	if cfg.GenesisFile == "" {
		logger.Warn().Msg("CH_GENESIS_FILE not set, using the development genesis")
		return config.DevGenesis(), nil
	}
	return config.LoadGenesis(cfg.GenesisFile)
}

func serve(parent context.Context, cfg config.Config) error {
	logger := observability.NewLoggerWithLevel("clearinghouse", observability.ParseLogLevel(cfg.LogLevel))
	logger.Info().Msg("ClearingHouse starting")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	genesis, err := loadGenesis(cfg, logger)
	if err != nil {
		return err
	}
	genesisState, err := genesis.NewState()
	if err != nil {
		return fmt.Errorf("genesis state: %w", err)
	}

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("Postgres connected")

	if err := persistence.NewMigrator(db, persistence.Migrations(), logger).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// --- Observability ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)
	health := observability.NewHealthChecker()

	// --- Channels ---
	// The persist channel blocks (backpressure); everything fed from the
	// fan-out drops when full.
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	fanoutChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	outboundChan := make(chan core.CoreOutput, cfg.OutboundChanSize)
	commandChan := make(chan core.Command, cfg.CommandChanSize)

	// --- Deterministic Core ---
	dedup := persistence.NewPostgresIdempotencyChecker(db)
	c, err := core.NewDeterministicCore(core.Config{
		IdempotencyCapacity: cfg.IdempotencyLRUCapacity,
		GlobalCheckInterval: cfg.GlobalCheckInterval,
	}, genesisState, state.NewMarkets(), persistChan, fanoutChan, dedup, metrics, observability.NewLogger("core"))
	if err != nil {
		return err
	}

	// --- Recovery: snapshot + replay ---
	snapStore := persistence.NewSnapshotStore(db)
	lastSeq, err := persistence.Recover(ctx, c, snapStore, logger)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	keys, err := dedup.RecentKeys(ctx, min(cfg.IdempotencyLRUCapacity, maxWarmKeys))
	if err != nil {
		return fmt.Errorf("warm idempotency cache: %w", err)
	}
	c.WarmLRU(keys)

	// --- Projections ---
	// The core goroutine is not running yet, so reading its state directly
	// is safe here.
	seed, err := c.CreateSnapshotState()
	if err != nil {
		return err
	}
	store := projection.NewStore(cfg.HistoryRetention)
	if err := store.Seed(seed); err != nil {
		return fmt.Errorf("seed projection: %w", err)
	}
	history, err := projection.LoadHistory(ctx, db, cfg.HistoryRetention)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	store.AddRecords(history)
	if err := rebuildPostgres(ctx, db, seed, logger); err != nil {
		return err
	}

	submitter := core.NewSubmitter(commandChan)
	snapshotter := persistence.NewSnapshotter(snapStore, submitter, cfg.SnapshotInterval, cfg.SnapshotMinEvents, metrics, observability.NewLogger("snapshot"))

	qs := query.NewQueryService(c, store, db, metrics)
	srv, err := server.NewServer(server.Config{
		GRPCAddr:       cfg.GRPCAddr,
		HTTPAddr:       cfg.HTTPAddr,
		AllowedOrigins: cfg.CORSOrigins,
	}, &server.Deps{
		Query:     qs,
		Commands:  ingestion.NewAPIIngestService(submitter, metrics),
		Snapshots: snapshotter,
		Rebuild: func(ctx context.Context) error {
			snap, err := submitter.Snapshot(ctx)
			if err != nil {
				return err
			}
			return rebuildPostgres(ctx, db, snap, logger)
		},
		Health: health,
	}, nil, observability.NewLogger("server"))
	if err != nil {
		return err
	}

	// --- Start goroutines ---
	errChan := make(chan error, 16)
	goRun := func(name string, f func() error) {
		go func() {
			if err := f(); err != nil && ctx.Err() == nil {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	// The core and its downstream workers outlive ctx so the final
	// snapshot and the persistence drain can run after ingestion stops.
	coreCtx, coreCancel := context.WithCancel(context.Background())
	defer coreCancel()
	coreDone := make(chan struct{})
	go func() {
		defer close(coreDone)
		_ = c.Run(coreCtx, commandChan)
	}()

	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics, observability.NewLogger("persistence"))
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		_ = persistWorker.Run(context.Background())
	}()

	outs := map[string]chan<- core.CoreOutput{"projection": projectionChan}
	go projection.NewProjectionWorker(store, db, projectionChan, metrics, observability.NewLogger("projection")).Run(coreCtx)

	var subscriber *ingestion.NATSSubscriber
	if cfg.NATSURL != "" {
		nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger)
		if err != nil {
			return err
		}
		defer nc.Close()
		logger.Info().Msg("NATS connected")

		streams := ingestion.DefaultStreams()
		if err := ingestion.EnsureStreams(ctx, js, streams, logger); err != nil {
			return fmt.Errorf("ensure NATS streams: %w", err)
		}
		if err := ingestion.EnsureOutboundStream(ctx, js, logger); err != nil {
			return fmt.Errorf("ensure outbound stream: %w", err)
		}

		rawChan := make(chan ingestion.RawEvent, cfg.CommandChanSize)
		subscriber = ingestion.NewNATSSubscriber(js, rawChan, observability.NewLogger("nats"))
		if err := subscriber.Subscribe(ctx, streams); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		pump := ingestion.NewPump(rawChan, submitter, metrics, observability.NewLogger("ingest"))
		goRun("ingest", func() error { return pump.Run(ctx) })

		outs["outbound"] = outboundChan
		publisher := ingestion.NewOutboundPublisher(js, outboundChan, metrics, observability.NewLogger("publisher"))
		go publisher.Run(coreCtx)
	} else {
		logger.Warn().Msg("NATS disabled, commands are accepted over HTTP only")
	}
	go fanOut(coreCtx, fanoutChan, outs, health, metrics)

	goRun("snapshotter", func() error { return snapshotter.Run(ctx) })
	goRun("grpc", func() error { return srv.StartGRPC(ctx) })
	goRun("http", func() error { return srv.StartHTTP(ctx) })
	goRun("metrics", func() error { return serveMetrics(ctx, cfg.MetricsAddr, registry, logger) })

	health.SetReady(true)
	srv.SetServing(true)
	logger.Info().
		Int64("sequence", lastSeq).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("ClearingHouse ready")

	// --- Wait for shutdown signal ---
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errChan:
		logger.Error().Err(err).Msg("component failed, shutting down")
	}

	// --- Graceful shutdown ---
	// stop intake, snapshot through the still running core, stop the core,
	// drain persistence, then verify the final snapshot against the log
	health.SetReady(false)
	srv.SetServing(false)
	stop()
	if subscriber != nil {
		subscriber.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := snapshotter.TakeSnapshot(shutdownCtx, true); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	}
	coreCancel()
	<-coreDone
	close(persistChan)
	select {
	case <-persistDone:
	case <-shutdownCtx.Done():
		logger.Error().Msg("persistence drain timed out")
	}
	snapshotter.VerifyPending(shutdownCtx)

	logger.Info().Int64("sequence", c.GetSequence()-1).Msg("ClearingHouse shutdown complete")
	return nil
}

// fanOut copies each core output to every consumer without blocking; a
// slow consumer loses outputs and catches up from the event log.
func fanOut(ctx context.Context, in <-chan core.CoreOutput, outs map[string]chan<- core.CoreOutput, health *observability.HealthChecker, metrics *observability.Metrics) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-in:
			health.ObserveSequence(out.Envelope.Sequence)
			for name, ch := range outs {
				select {
				case ch <- out:
				default:
					metrics.ProjectionDrops.WithLabelValues(name).Inc()
				}
			}
		}
	}
}

// rebuildPostgres recomputes the projections schema from the journal and
// a core snapshot.
func rebuildPostgres(ctx context.Context, db *sql.DB, snap *core.SnapshotState, logger zerolog.Logger) error {
	if err := projection.RebuildProjections(ctx, db, logger); err != nil {
		return fmt.Errorf("rebuild projections: %w", err)
	}
	if err := projection.SeedPostgres(ctx, db, snap); err != nil {
		return fmt.Errorf("seed projections: %w", err)
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
