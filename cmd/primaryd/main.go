// Command primaryd runs the PowerBlockade primary: the HTTP node-sync
// surface, the background scheduler, and everything they share (storage,
// the RPZ shared directory, the config-change bus).
package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Zerostate-IO/powerblockade/internal/app/audit"
	"github.com/Zerostate-IO/powerblockade/internal/app/blocking"
	"github.com/Zerostate-IO/powerblockade/internal/app/configbus"
	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
	"github.com/Zerostate-IO/powerblockade/internal/app/httpapi"
	"github.com/Zerostate-IO/powerblockade/internal/app/ingest"
	"github.com/Zerostate-IO/powerblockade/internal/app/metrics"
	"github.com/Zerostate-IO/powerblockade/internal/app/nodesync"
	"github.com/Zerostate-IO/powerblockade/internal/app/policy"
	"github.com/Zerostate-IO/powerblockade/internal/app/precache"
	"github.com/Zerostate-IO/powerblockade/internal/app/resolvermetrics"
	"github.com/Zerostate-IO/powerblockade/internal/app/retention"
	"github.com/Zerostate-IO/powerblockade/internal/app/rollup"
	"github.com/Zerostate-IO/powerblockade/internal/app/schedule"
	"github.com/Zerostate-IO/powerblockade/internal/app/scheduler"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage/postgres"
	"github.com/Zerostate-IO/powerblockade/internal/app/system"
	"github.com/Zerostate-IO/powerblockade/internal/app/workerpool"
	"github.com/Zerostate-IO/powerblockade/internal/platform/database"
	"github.com/Zerostate-IO/powerblockade/internal/platform/migrations"
	"github.com/Zerostate-IO/powerblockade/pkg/config"
	"github.com/Zerostate-IO/powerblockade/pkg/logger"
	"github.com/Zerostate-IO/powerblockade/pkg/pgnotify"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "primaryd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := database.Open(ctx, cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer sqlDB.Close()

	if cfg.Database.MigrateOnStart {
		if err := migrations.Migrate(ctx, sqlDB, filepath.Join("database", "migrations")); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	store := postgres.New(sqlx.NewDb(sqlDB, cfg.Database.Driver))
	if err := ensurePrimaryNode(ctx, store, log); err != nil {
		return fmt.Errorf("ensure primary node: %w", err)
	}

	sharedDir := cfg.PowerBlockade.SharedDir
	for _, dir := range []string{sharedDir, filepath.Join(sharedDir, "rpz")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create shared dir %s: %w", dir, err)
		}
	}

	loc, err := time.LoadLocation(cfg.PowerBlockade.SchedulerTimezone)
	if err != nil {
		loc = time.UTC
	}

	var bus *pgnotify.Bus
	if cfg.PowerBlockade.PgNotifyDSN != "" {
		bus, err = pgnotify.New(cfg.PowerBlockade.PgNotifyDSN)
		if err != nil {
			log.WithField("error", err).Warn("pgnotify bus unavailable; policy_changed fan-out disabled")
		} else {
			defer bus.Close()
		}
	}

	pool := workerpool.New(8, 256, log.WithField("component", "workerpool"))
	defer pool.Stop()

	ingestPipeline := ingest.New(store, pool, log.WithField("component", "ingest"))
	compiler := policy.NewCompiler(store, sharedDir, policy.HTTPFetcher(30*time.Second))
	warmer := precache.New(store, cfg.PowerBlockade.ResolverAddr, log.WithField("component", "precache"))
	compiler.WithNotifier(func(ctx context.Context, configVersion string) {
		warmer.Invalidate()
		if pubErr := configbus.PublishPolicyChanged(ctx, bus, configVersion); pubErr != nil {
			log.WithField("error", pubErr).Warn("failed to publish policy_changed")
		}
	})
	if err := configbus.SubscribePolicyChanged(bus, warmer, log.WithField("component", "configbus")); err != nil {
		log.WithField("error", err).Warn("failed to subscribe to policy_changed")
	}

	blockingMachine := blocking.New(store, sharedDir)
	scheduleEngine := schedule.New(store, loc, log.WithField("component", "schedule"))
	rollupEngine := rollup.New(store)
	retentionEngine := retention.New(store)
	_ = audit.New(store) // constructed only; not mounted on any HTTP or scheduler surface

	localMetrics := resolvermetrics.New(
		store,
		cfg.PowerBlockade.ResolverStatsURL,
		cfg.PowerBlockade.ResolverStatsAPIKey,
		domain.PrimaryNodeName,
	)

	sched := scheduler.New(scheduler.Deps{
		Compiler:  compiler,
		Schedule:  scheduleEngine,
		Rollup:    rollupEngine,
		Retention: retentionEngine,
		Precache:  warmer,
		Blocking:  blockingMachine,
		Metrics:   localMetrics,
	}, loc, log.WithField("component", "scheduler"))

	metrics.NewDomainCollector(store)
	nodeSyncServer := nodesync.New(store, ingestPipeline, sharedDir, log.WithField("component", "nodesync"))
	httpService := httpapi.NewService(cfg.Server.Host+":"+strconv.Itoa(cfg.Server.Port), nodeSyncServer, store, log)

	manager := system.NewManager()
	if err := manager.Register(httpService); err != nil {
		return fmt.Errorf("register http service: %w", err)
	}
	if err := manager.Register(sched); err != nil {
		return fmt.Errorf("register scheduler: %w", err)
	}

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	log.Info("primaryd started")

	<-ctx.Done()
	log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return manager.Stop(stopCtx)
}

// ensurePrimaryNode creates the reserved "primary" node row if it is
// missing. Its API key comes from POWERBLOCKADE_PRIMARY_NODE_KEY if set,
// and that key is also applied to an existing primary row (the initial
// migration seeds one with a random key); otherwise a new row gets a key
// from the same crypto-random generator §4.M uses for secondaries, logged
// once, never derived from the admin/operator secret so the node-auth
// secret space stays independent of it.
func ensurePrimaryNode(ctx context.Context, store storage.Store, log *logger.Logger) error {
	existing, err := store.GetNodeByName(ctx, domain.PrimaryNodeName)
	switch {
	case err == nil:
		if key := os.Getenv("POWERBLOCKADE_PRIMARY_NODE_KEY"); key != "" && key != existing.APIKey {
			existing.APIKey = key
			_, err = store.UpdateNode(ctx, existing)
			return err
		}
		return nil
	case errors.Is(err, sql.ErrNoRows):
		// fall through and create it below.
	default:
		return fmt.Errorf("look up primary node: %w", err)
	}

	apiKey := os.Getenv("POWERBLOCKADE_PRIMARY_NODE_KEY")
	if apiKey == "" {
		generated, genErr := randomHex(32)
		if genErr != nil {
			return genErr
		}
		apiKey = generated
		log.WithField("primary_node_key", apiKey).Warn("generated primary node key; set POWERBLOCKADE_PRIMARY_NODE_KEY to pin it across restarts")
	}
	_, err = store.CreateNode(ctx, domain.Node{
		Name:   domain.PrimaryNodeName,
		APIKey: apiKey,
		Status: domain.NodeStatusActive,
	})
	return err
}

// randomHex returns n random bytes hex-encoded, used for node API keys.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
