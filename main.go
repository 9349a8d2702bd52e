package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"community-energy/internal/audit"
	"community-energy/internal/auth"
	"community-energy/internal/config"
	energyapp "community-energy/internal/energy/application"
	energy "community-energy/internal/energy/domain"
	energymemory "community-energy/internal/energy/infrastructure/memory"
	energypostgres "community-energy/internal/energy/infrastructure/postgres"
	energyhttp "community-energy/internal/energy/interfaces/http"
	"community-energy/internal/energy/interfaces/ws"
	"community-energy/internal/eventing"
	eventingrepo "community-energy/internal/eventing/infrastructure/postgres"
	"community-energy/internal/logging"
	"community-energy/internal/notify"
	"community-energy/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, err := logging.New(cfg.Debug)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("energy service stopped", zap.Error(err))
	}
}

type outboxStore interface {
	eventing.OutboxWriter
	eventing.OutboxStore
}

type stores struct {
	db        *sql.DB
	state     energyapp.StateStore
	outbox    outboxStore
	processed eventing.ProcessedStore
	dlq       eventing.DLQStore
	audit     audit.Logger
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, ledger state is kept in memory")
		return &stores{
			state:     energymemory.NewStateStore(),
			outbox:    eventing.NewMemoryOutbox(),
			processed: eventing.NewMemoryProcessedStore(),
			audit:     audit.NewZapLogger(logger),
		}, nil
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := energypostgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	state, err := energypostgres.NewStateStore(db, cfg.CommunityID)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &stores{
		db:        db,
		state:     state,
		outbox:    eventingrepo.NewOutboxStore(db),
		processed: eventingrepo.NewProcessedStore(db),
		dlq:       eventingrepo.NewDLQStore(db),
		audit:     audit.Multi{audit.NewRepository(db), audit.NewZapLogger(logger)},
	}, nil
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer st.db.Close()
	}
	metrics.Init(st.db, logger)

	bus := eventing.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(energyapp.Events()...)
	dispatcher := eventing.NewDispatcher(bus, st.outbox, registry, st.dlq,
		eventing.WithCommunity(cfg.CommunityID),
		eventing.WithMaxAttempts(cfg.Outbox.MaxAttempts),
		eventing.WithDispatchLogger(logger),
	)
	publisher := eventing.NewPublisher(st.outbox, dispatcher, cfg.CommunityID, bus, logger)

	engine, err := energyapp.NewEngine(ctx, st.state, publisher, cfg.CommunityID, energyapp.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := engine.Bootstrap(ctx, seedFromConfig(cfg)); err != nil {
		return err
	}
	queries, err := energyapp.NewQueryService(engine)
	if err != nil {
		return err
	}

	var auditorOpts []energyapp.AuditorOption
	if cfg.Audit.WebhookURL != "" {
		auditorOpts = append(auditorOpts, energyapp.WithNotifier(notify.NewWebhookNotifier(cfg.Audit.WebhookURL), cfg.CommunityID))
	}
	auditor, err := energyapp.NewZeroSumAuditor(queries, cfg.Audit.Schedule, logger, auditorOpts...)
	if err != nil {
		return err
	}
	auditor.Start()
	defer auditor.Stop()

	hub := ws.NewHub(logger, func() any { return queries.View() })
	hub.SubscribeEvents(publisher, eventing.Consumer{
		Name:        "ws-hub",
		CommunityID: cfg.CommunityID,
		Processed:   st.processed,
	}, energyapp.Events()...)
	go hub.Run(ctx)
	go dispatcher.Run(ctx, cfg.Outbox.DispatchInterval)

	limiter := energyhttp.NewRateLimiter(cfg.Meter.RatePerSecond, cfg.Meter.Burst, logger)
	handler, err := energyhttp.NewHandler(engine, queries, st.audit, limiter, logger)
	if err != nil {
		return err
	}

	authMiddleware := auth.NewMiddleware(
		[]byte(cfg.JWTSecret),
		auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/meter/"}),
		cfg.CommunityID,
	)
	meterAuth := auth.NewMeterSignatureMiddleware([]byte(cfg.Meter.Secret), cfg.Meter.MaxSkew, cfg.CommunityID)

	mux := http.NewServeMux()
	mux.Handle(energyhttp.APIPrefix+"/stream", hub)
	mux.Handle(energyhttp.APIPrefix+"/", handler)
	mux.Handle("/meter/consume", meterAuth.Wrap(handler.ConsumeHandler()))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           energyhttp.AccessLog(logger, authMiddleware.Wrap(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("community_id", cfg.CommunityID))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func seedFromConfig(cfg *config.Config) energyapp.Seed {
	seed := energyapp.Seed{
		ImportPrice:     cfg.ImportPrice,
		BatteryPrice:    cfg.Battery.Price,
		BatteryCapacity: cfg.Battery.MaxCapacity,
		ExportDevice:    energy.DeviceID(cfg.Devices.Export),
		CommunityDevice: energy.DeviceID(cfg.Devices.Community),
	}
	for _, member := range cfg.Members {
		devices := make([]energy.DeviceID, len(member.Devices))
		for i, device := range member.Devices {
			devices[i] = energy.DeviceID(device)
		}
		seed.Members = append(seed.Members, energyapp.SeedMember{
			ID:       energy.MemberID(member.ID),
			Devices:  devices,
			ShareBps: member.ShareBps,
		})
	}
	return seed
}
