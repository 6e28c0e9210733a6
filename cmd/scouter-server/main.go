package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/sawpanic/scouter/internal/archive"
	"github.com/sawpanic/scouter/internal/cache"
	"github.com/sawpanic/scouter/internal/config"
	"github.com/sawpanic/scouter/internal/drift"
	"github.com/sawpanic/scouter/internal/httpapi"
	"github.com/sawpanic/scouter/internal/ingest"
	scouterlog "github.com/sawpanic/scouter/internal/log"
	"github.com/sawpanic/scouter/internal/metrics"
	"github.com/sawpanic/scouter/internal/persistence/postgres"
	"github.com/sawpanic/scouter/internal/readapi"
	"github.com/sawpanic/scouter/internal/scheduler"
	"github.com/sawpanic/scouter/internal/stream"
)

var (
	logLevel  string
	logPretty bool
)

var rootCmd = &cobra.Command{
	Use:   "scouter-server",
	Short: "Scouter model-monitoring server",
	Long: `Scouter ingests feature and metric observations from production ML
services, detects statistical drift against baseline profiles, and raises
alerts. This binary hosts the ingestion workers, the drift poller, the
archival manager, and the HTTP API.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitoring server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	RunE:  runMigrate,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "log-pretty", false, "human-readable console logging")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

// connectDB retries the initial connection so the server survives a
// database that comes up a little after it.
func connectDB(ctx context.Context, cfg config.Config) (*sqlx.DB, error) {
	var db *sqlx.DB
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		db, err = sqlx.ConnectContext(ctx, "postgres", cfg.Database.URI)
		if err == nil {
			db.SetMaxOpenConns(cfg.Database.MaxConnections)
			return db, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * time.Second):
		}
	}
	return nil, fmt.Errorf("connect to database: %w", err)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := connectDB(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return postgres.Migrate(cmd.Context(), db)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := scouterlog.New(scouterlog.Config{Level: logLevel, Pretty: logPretty})
	scouterlog.Default = logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := connectDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	repoTimeout := 10 * time.Second
	profiles := postgres.NewProfileRepo(db, repoTimeout)
	observations := postgres.NewObservationRepo(db, repoTimeout)
	tasks := postgres.NewTaskRepo(db, repoTimeout)
	alerts := postgres.NewAlertRepo(db, repoTimeout)
	archiveRepo := postgres.NewArchiveRepo(db, 60*time.Second)
	entities := cache.NewEntityCache(profiles, reg)

	// Ingestion pool, fed by the HTTP route and any configured broker.
	pool := ingest.NewPool(ingest.PoolConfig{Workers: workerCount(cfg)},
		observations, profiles, reg, scouterlog.WithComponent(logger, "ingest"))
	pool.Start(ctx)

	if bus, topic, group, ok := busFor(cfg); ok {
		if err := bus.Start(ctx); err != nil {
			return fmt.Errorf("start %s bus: %w", cfg.Transport, err)
		}
		consumer := ingest.NewBusConsumer(bus, topic, group, pool,
			scouterlog.WithComponent(logger, "consumer"))
		// One subscription per configured consumer; the broker's group
		// protocol balances deliveries across them.
		for i := 0; i < workerCount(cfg); i++ {
			if err := consumer.Start(ctx); err != nil {
				return fmt.Errorf("subscribe %s: %w", cfg.Transport, err)
			}
		}
		defer bus.Stop(context.Background())
	}

	// Drift poller.
	pollerCfg := scheduler.DefaultConfig()
	pollerCfg.Workers = cfg.PollingWorkers
	poller := scheduler.NewPoller(pollerCfg, tasks, profiles, alerts,
		drift.NewEvaluator(observations, scouterlog.WithComponent(logger, "drift")),
		scheduler.LogNotifier{Log: scouterlog.WithComponent(logger, "alerts")},
		reg, scouterlog.WithComponent(logger, "poller"))
	poller.Start(ctx)

	// Archival manager and the cold read tier.
	store, err := archive.NewObjectStore(cfg.Storage)
	if err != nil {
		logger.Warn().Err(err).Msg("cold storage disabled")
		store = nil
	} else {
		mgr := archive.NewManager(archive.DefaultManagerConfig(cfg.RetentionDays),
			archiveRepo, store, reg, scouterlog.WithComponent(logger, "archive"))
		go mgr.Run(ctx)
	}

	readSvc := readapi.NewService(profiles, observations, store, cfg.RetentionDays,
		scouterlog.WithComponent(logger, "readapi"))

	srv := httpapi.NewServer(httpapi.DefaultServerConfig(cfg.ServerPort), httpapi.Deps{
		Pool:     pool,
		Profiles: profiles,
		Alerts:   alerts,
		Read:     readSvc,
		Entities: entities,
		Registry: reg,
		Log:      scouterlog.WithComponent(logger, "http"),
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Int("port", cfg.ServerPort).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http drain incomplete")
	}
	poller.Wait()
	pool.Wait()
	return nil
}

func workerCount(cfg config.Config) int {
	if cfg.Transport == config.TransportKafka && cfg.Kafka.WorkerCount > 0 {
		return cfg.Kafka.WorkerCount
	}
	if cfg.Transport == config.TransportRabbitMQ && cfg.RabbitMQ.ConsumerCount > 0 {
		return cfg.RabbitMQ.ConsumerCount
	}
	return 4
}

// busFor builds the broker matching the configured transport; HTTP-only
// deployments run with just the internal channel.
func busFor(cfg config.Config) (stream.EventBus, string, string, bool) {
	switch cfg.Transport {
	case config.TransportKafka:
		busCfg := stream.BusConfig{
			Brokers:          cfg.Kafka.Brokers,
			ClientID:         "scouter-server",
			SecurityProtocol: cfg.Kafka.SecurityProtocol,
			ConsumerConfig:   stream.ConsumerConfig{GroupID: cfg.Kafka.Group},
		}
		var bus stream.EventBus
		var err error
		if cfg.Kafka.SASLUsername != "" {
			bus, err = stream.NewKafkaBusWithSASL(busCfg,
				cfg.Kafka.SASLUsername, cfg.Kafka.SASLPassword, cfg.Kafka.SASLMechanism)
		} else {
			bus, err = stream.NewEventBus(stream.BusTypeKafka, busCfg)
		}
		if err != nil {
			return nil, "", "", false
		}
		return bus, cfg.Kafka.Topic, cfg.Kafka.Group, true
	case config.TransportRabbitMQ:
		bus, err := stream.NewEventBus(stream.BusTypeRabbitMQ, stream.BusConfig{
			Brokers: []string{cfg.RabbitMQ.Addr},
		})
		if err != nil {
			return nil, "", "", false
		}
		return bus, cfg.RabbitMQ.Queue, "", true
	case config.TransportRedis:
		bus, err := stream.NewEventBus(stream.BusTypeRedis, stream.BusConfig{
			Brokers: []string{cfg.Redis.Addr},
		})
		if err != nil {
			return nil, "", "", false
		}
		return bus, cfg.Redis.Channel, "", true
	default:
		return nil, "", "", false
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		scouterlog.Default.Error().Err(err).Msg("fatal")
		os.Exit(1)
	}
}
