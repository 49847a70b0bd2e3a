package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	certcache "vaxledger/internal/certificate/cache"
	"vaxledger/internal/certificate/content"
	certservice "vaxledger/internal/certificate/service"
	certstore "vaxledger/internal/certificate/store"
	childservice "vaxledger/internal/child/service"
	childstore "vaxledger/internal/child/store"
	"vaxledger/internal/ledger"
	"vaxledger/internal/ledger/chain"
	ledgermetrics "vaxledger/internal/ledger/metrics"
	"vaxledger/internal/ledger/rpc"
	"vaxledger/internal/platform/config"
	"vaxledger/internal/platform/postgres"
	"vaxledger/internal/platform/redis"
	ratelimitmetrics "vaxledger/internal/ratelimit/metrics"
	ratelimit "vaxledger/internal/ratelimit/middleware"
	ratelimitmodels "vaxledger/internal/ratelimit/models"
	"vaxledger/internal/ratelimit/store/bucket"
	recordservice "vaxledger/internal/records/service"
	"vaxledger/internal/records/store/dosestatus"
	"vaxledger/internal/records/store/event"
	rewardservice "vaxledger/internal/reward/service"
	rewardstore "vaxledger/internal/reward/store"
	"vaxledger/pkg/platform/audit"
	"vaxledger/pkg/platform/audit/store/kafka"
	"vaxledger/pkg/platform/audit/store/logsink"
	"vaxledger/pkg/platform/circuit"
	"vaxledger/pkg/platform/tx"
)

const (
	auditBuffer            = 1024
	auditTopicPartitions   = 3
	auditTopicReplications = 1
	rateLimitSweepInterval = 5 * time.Minute
)

// closer releases a resource at shutdown. Closers run in reverse order.
type closer func() error

type stores struct {
	db           *sql.DB
	children     childservice.ChildStore
	doses        recordservice.DoseStore
	events       recordservice.EventStore
	certificates certservice.Store
	rewards      rewardservice.Store
	tx           childservice.TxRunner
}

// openStores uses Postgres when DATABASE_URL is set and in-memory stores
// otherwise.
func openStores(ctx context.Context, cfg config.Config, log *slog.Logger) (*stores, closer, error) {
	if cfg.Postgres.URL == "" {
		log.Warn("DATABASE_URL not set; using in-memory stores")
		return &stores{
			children:     childstore.NewInMemory(),
			doses:        dosestatus.NewInMemory(),
			events:       event.NewInMemory(),
			certificates: certstore.NewInMemory(),
			rewards:      rewardstore.NewInMemory(),
			tx:           &tx.LocalRunner{},
		}, func() error { return nil }, nil
	}

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return &stores{
		db:           db,
		children:     childstore.NewPostgres(db),
		doses:        dosestatus.NewPostgres(db),
		events:       event.NewPostgres(db),
		certificates: certstore.NewPostgres(db),
		rewards:      rewardstore.NewPostgres(db),
		tx:           postgres.NewTxRunner(db, cfg.Timeouts.Store),
	}, db.Close, nil
}

// openLedger builds the anchor for the configured mode. A disabled ledger
// yields an anchor whose Enabled reports false.
func openLedger(cfg config.Config, log *slog.Logger) (*ledger.Anchor, closer, error) {
	breaker := circuit.New("ledger",
		circuit.WithFailureThreshold(cfg.Ledger.Threshold),
		circuit.WithCooldown(cfg.Ledger.Cooldown),
	)
	opts := []ledger.Option{
		ledger.WithTimeout(cfg.Timeouts.Ledger),
		ledger.WithBreaker(breaker),
		ledger.WithMetrics(ledgermetrics.New()),
		ledger.WithLogger(log),
	}
	noop := func() error { return nil }

	switch cfg.Ledger.Mode {
	case config.LedgerModeDisabled:
		log.Warn("ledger disabled; anchoring is skipped and rewards are simulated")
		return ledger.NewAnchor(nil, opts...), noop, nil
	case config.LedgerModeRPC:
		client, err := rpc.New(rpc.Config{
			BaseURL: cfg.Ledger.RPCURL,
			APIKey:  cfg.Ledger.APIKey,
			Timeout: cfg.Timeouts.Ledger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("ledger rpc client: %w", err)
		}
		log.Info("ledger gateway configured", "url", cfg.Ledger.RPCURL)
		return ledger.NewAnchor(client, opts...), noop, nil
	default:
		node, err := chain.Open(cfg.Ledger.DataDir, chain.WithNodeID(cfg.Ledger.NodeID))
		if err != nil {
			return nil, nil, err
		}
		if err := node.Verify(); err != nil {
			_ = node.Close()
			return nil, nil, fmt.Errorf("ledger chain verification failed: %w", err)
		}
		log.Info("embedded ledger opened",
			"data_dir", cfg.Ledger.DataDir,
			"height", node.Height(),
		)
		return ledger.NewAnchor(node, opts...), node.Close, nil
	}
}

func openContentStore(ctx context.Context, cfg config.Config, log *slog.Logger) (certservice.ContentStore, closer, error) {
	if cfg.ContentStore.Backend == config.ContentStoreGCS {
		gcs, err := content.NewGCS(ctx, cfg.ContentStore)
		if err != nil {
			return nil, nil, err
		}
		log.Info("certificate artifacts stored in GCS", "bucket", cfg.ContentStore.Bucket)
		return gcs, gcs.Close, nil
	}
	log.Warn("certificate artifacts kept in memory; they do not survive restarts")
	return content.NewInMemory(), func() error { return nil }, nil
}

// openProgressCache returns the Redis-backed cache when REDIS_URL is set.
func openProgressCache(ctx context.Context, cfg config.Config) (certservice.ProgressCache, *redis.Client, error) {
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		return certcache.NewInMemory(), nil, nil
	}
	return certcache.NewRedisProgress(client.Client, cfg.Redis.ProgressTTL), client, nil
}

// openAuditStore streams to Kafka when brokers are configured and falls back
// to the structured log.
func openAuditStore(ctx context.Context, cfg config.Config, log *slog.Logger) (audit.Store, *kafka.Store, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return logsink.New(log), nil, nil
	}
	store, err := kafka.New(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		return nil, nil, err
	}
	if err := store.EnsureTopic(ctx, auditTopicPartitions, auditTopicReplications); err != nil {
		log.Warn("could not ensure audit topic", "topic", cfg.Kafka.Topic, "error", err)
	}
	return store, store, nil
}

// openRateLimiter shares budgets through Redis when it is configured and
// keeps them in process otherwise.
func openRateLimiter(cfg config.Config, redisClient *redis.Client, log *slog.Logger) (func(http.Handler) http.Handler, closer) {
	if !cfg.RateLimit.Enabled {
		log.Warn("rate limiting disabled")
		return nil, func() error { return nil }
	}
	limits := map[ratelimitmodels.Class]ratelimitmodels.Limit{
		ratelimitmodels.ClassRead:  {Requests: cfg.RateLimit.ReadRequests, Window: cfg.RateLimit.Window},
		ratelimitmodels.ClassWrite: {Requests: cfg.RateLimit.WriteRequests, Window: cfg.RateLimit.Window},
	}
	opts := []ratelimit.Option{
		ratelimit.WithLogger(log),
		ratelimit.WithMetrics(ratelimitmetrics.New()),
	}
	if redisClient != nil {
		return ratelimit.New(bucket.NewRedis(redisClient.Client), limits, opts...).Handler, func() error { return nil }
	}

	store := bucket.NewInMemory()
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(rateLimitSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := store.Sweep(); n > 0 {
					log.Debug("swept idle rate limit buckets", "count", n)
				}
			case <-done:
				return
			}
		}
	}()
	return ratelimit.New(store, limits, opts...).Handler, func() error {
		close(done)
		return nil
	}
}
