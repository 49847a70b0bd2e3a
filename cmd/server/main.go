package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	certhandler "vaxledger/internal/certificate/handler"
	certmetrics "vaxledger/internal/certificate/metrics"
	"vaxledger/internal/certificate/render"
	certservice "vaxledger/internal/certificate/service"
	childhandler "vaxledger/internal/child/handler"
	childservice "vaxledger/internal/child/service"
	"vaxledger/internal/eligibility"
	eligibilityhandler "vaxledger/internal/eligibility/handler"
	httpapi "vaxledger/internal/http"
	jwttoken "vaxledger/internal/jwt_token"
	"vaxledger/internal/platform/config"
	"vaxledger/internal/platform/httpserver"
	"vaxledger/internal/platform/logger"
	"vaxledger/internal/platform/metrics"
	recordhandler "vaxledger/internal/records/handler"
	recordmetrics "vaxledger/internal/records/metrics"
	recordservice "vaxledger/internal/records/service"
	rewardhandler "vaxledger/internal/reward/handler"
	rewardmetrics "vaxledger/internal/reward/metrics"
	rewardservice "vaxledger/internal/reward/service"
	"vaxledger/internal/schedule"
	schedulehandler "vaxledger/internal/schedule/handler"
	"vaxledger/pkg/platform/audit/publisher"
	"vaxledger/pkg/platform/middleware/auth"
)

// main loads configuration, wires stores, ledger and services, and serves
// the API until SIGINT or SIGTERM. Business logic lives in internal packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn("shutdown: close failed", "error", err)
			}
		}
	}()

	// An absent or invalid schedule is fatal: every module reads it.
	catalog, err := schedule.LoadFile(cfg.Schedule.Path)
	if err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}

	st, closeStores, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	closers = append(closers, closeStores)

	anchor, closeLedger, err := openLedger(cfg, log)
	if err != nil {
		return err
	}
	closers = append(closers, closeLedger)

	contentStore, closeContent, err := openContentStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	closers = append(closers, closeContent)

	progressCache, redisClient, err := openProgressCache(ctx, cfg)
	if err != nil {
		return err
	}
	if redisClient != nil {
		closers = append(closers, redisClient.Close)
	}

	auditStore, kafkaStore, err := openAuditStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	if kafkaStore != nil {
		closers = append(closers, func() error { kafkaStore.Close(); return nil })
	}
	auditPublisher := publisher.NewPublisher(auditStore,
		publisher.WithAsyncBuffer(auditBuffer),
		publisher.WithLogger(log),
	)
	closers = append(closers, auditPublisher.Close)

	renderer, err := render.New()
	if err != nil {
		return fmt.Errorf("load certificate renderer: %w", err)
	}

	recMetrics := recordmetrics.New()
	doseSvc := recordservice.NewDoseService(st.doses, catalog, st.children,
		recordservice.WithDoseLogger(log),
		recordservice.WithDoseMetrics(recMetrics),
	)
	childSvc := childservice.New(st.children, doseSvc, st.tx,
		childservice.WithLogger(log),
		childservice.WithAuditPublisher(auditPublisher),
	)
	ingestion := recordservice.NewIngestionService(st.events, doseSvc, st.children, catalog,
		recordservice.WithLogger(log),
		recordservice.WithMetrics(recMetrics),
		recordservice.WithAuditPublisher(auditPublisher),
		recordservice.WithAnchor(anchor),
		recordservice.WithScheduleTimeout(cfg.Timeouts.ScheduleLookup),
		recordservice.WithStoreTimeout(cfg.Timeouts.Store),
	)
	engine := eligibility.NewEngine(st.children, st.doses, st.events, catalog,
		eligibility.WithLogger(log),
	)
	certSvc := certservice.New(st.certificates, st.children, engine, renderer, contentStore,
		certservice.WithLogger(log),
		certservice.WithMetrics(certmetrics.New()),
		certservice.WithAuditPublisher(auditPublisher),
		certservice.WithAnchor(anchor),
		certservice.WithProgressCache(progressCache),
		certservice.WithRenderTimeout(cfg.Timeouts.Render),
		certservice.WithUploadTimeout(cfg.Timeouts.Upload),
	)
	rewardSvc := rewardservice.New(st.rewards, st.children, engine, cfg.Reward.Amount, cfg.Reward.Unit,
		rewardservice.WithLogger(log),
		rewardservice.WithMetrics(rewardmetrics.New()),
		rewardservice.WithAuditPublisher(auditPublisher),
		rewardservice.WithLedger(anchor),
	)

	rateLimit, closeRateLimit := openRateLimiter(cfg, redisClient, log)
	closers = append(closers, closeRateLimit)

	routerCfg := httpapi.Config{
		Logger:         log,
		Metrics:        metrics.New(),
		RequestTimeout: cfg.Timeouts.Request,
		RateLimit:      rateLimit,
		HealthChecks:   healthChecks(st, redisClient, kafkaStore),
	}
	var (
		childOpts  []childhandler.Option
		recordOpts []recordhandler.Option
		certOpts   []certhandler.Option
		rewardOpts []rewardhandler.Option
	)
	if cfg.Server.JWTSigningKey != "" {
		routerCfg.Validator = jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience)
		childOpts = append(childOpts, childhandler.WithWriteRoles(auth.RoleDoctor, auth.RoleAdmin))
		recordOpts = append(recordOpts, recordhandler.WithWriteRoles(auth.RoleDoctor, auth.RoleAdmin))
		certOpts = append(certOpts, certhandler.WithWriteRoles(auth.RoleDoctor, auth.RoleParent, auth.RoleAdmin))
		rewardOpts = append(rewardOpts, rewardhandler.WithAwardRoles(auth.RoleParent, auth.RoleAdmin))
	} else {
		log.Warn("JWT_SIGNING_KEY not set; API is unauthenticated")
	}

	router := httpapi.NewRouter(routerCfg,
		schedulehandler.New(catalog),
		childhandler.New(childSvc, log, childOpts...),
		recordhandler.New(ingestion, doseSvc, log, recordOpts...),
		eligibilityhandler.New(engine, log),
		certhandler.New(certSvc, log, certOpts...),
		rewardhandler.New(rewardSvc, log, rewardOpts...),
	)
	srv := httpserver.New(cfg.Server.Addr, router)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting vaxledger",
			"addr", cfg.Server.Addr,
			"ledger_mode", cfg.Ledger.Mode,
			"content_store", cfg.ContentStore.Backend,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", "error", err)
	}
	// Detached anchoring attempts finish or time out before the ledger closes.
	if err := ingestion.Drain(shutdownCtx); err != nil {
		log.Warn("anchoring still in flight at shutdown", "error", err)
	}
	return nil
}
