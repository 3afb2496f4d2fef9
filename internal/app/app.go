package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	storefrontv1 "github.com/vladislavdragonenkov/shawlshop/api/storefront/v1"
	"github.com/vladislavdragonenkov/shawlshop/internal/auth"
	healthcheck "github.com/vladislavdragonenkov/shawlshop/internal/health"
	"github.com/vladislavdragonenkov/shawlshop/internal/httpapi"
	"github.com/vladislavdragonenkov/shawlshop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shawlshop/internal/metrics"
	"github.com/vladislavdragonenkov/shawlshop/internal/service/catalog"
	grpcsvc "github.com/vladislavdragonenkov/shawlshop/internal/service/grpc"
	"github.com/vladislavdragonenkov/shawlshop/internal/service/idempotency"
	"github.com/vladislavdragonenkov/shawlshop/internal/service/ledger"
	"github.com/vladislavdragonenkov/shawlshop/internal/service/orders"
	"github.com/vladislavdragonenkov/shawlshop/internal/service/outbox"
	"github.com/vladislavdragonenkov/shawlshop/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает gRPC, HTTP API, ops-сервер и фоновые воркеры и блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	if err := cfg.Validate(); err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	ledgerMetrics := metrics.NewLedgerMetrics()
	catalogSvc := catalog.NewService(deps.catalogRepo, logger.WithField("layer", "catalog"))
	ledgerSvc := ledger.NewService(
		deps.catalogRepo,
		deps.ledgerStore,
		logger.WithField("layer", "ledger"),
		ledger.WithMetrics(ledgerMetrics),
		ledger.WithTimeline(deps.timelineRepo),
	)
	ordersSvc := orders.NewService(
		deps.repo,
		deps.timelineRepo,
		deps.ledgerStore,
		logger.WithField("layer", "orders"),
		orders.WithMetrics(ledgerMetrics),
	)
	guard := idempotency.NewGuard(
		deps.idempotencyRepo,
		idempotency.WithTTL(cfg.IdempotencyTTL),
		idempotency.WithGuardLogger(logger.WithField("layer", "idempotency")),
	)
	sessions := initSessions(cfg, logger)

	// Kafka опциональна: без неё события копятся в outbox.
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(kafkaProducer, logger)

	outboxCancel, outboxDone := startWorker(ctx, newOutboxWorker(cfg, deps, kafkaProducer, logger).Run)
	defer shutdownOutboxWorker(outboxCancel, outboxDone, logger)

	cleanupWorker := idempotency.NewCleanupWorker(
		deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("worker", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithStaleAfter(cfg.IdempotencyStaleAfter),
	)
	cleanupCancel, cleanupDone := startWorker(ctx, cleanupWorker.Run)
	defer shutdownOutboxWorker(cleanupCancel, cleanupDone, logger)

	grpcMetrics := registerGRPCMetrics(logger)
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))

	storefront := grpcsvc.NewStorefrontService(
		ledgerSvc,
		ordersSvc,
		catalogSvc,
		logger.WithField("layer", "grpc"),
		grpcsvc.WithGuard(guard),
		grpcsvc.WithSessions(sessions),
	)
	storefrontv1.RegisterStorefrontServiceServer(grpcServer, storefront)
	grpcMetrics.InitializeMetrics(grpcServer)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	apiServer := httpapi.NewServer(
		ledgerSvc,
		ordersSvc,
		catalogSvc,
		logger.WithField("layer", "http"),
		httpapi.WithGuard(guard),
		httpapi.WithSessions(sessions),
		httpapi.WithMetrics(httpapi.NewHTTPMetrics(prometheus.DefaultRegisterer)),
	).NewHTTPServer(cfg.HTTPAddr)

	healthHandler := newHealthHandler(cfg, deps, kafkaProducer)
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = grpcLis.Close()
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		errCh <- grpcServer.Serve(grpcLis)
	}()
	go func() {
		logger.Infof("HTTP API слушает %s", apiLis.Addr())
		errCh <- apiServer.Serve(apiLis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, logger)
		shutdownHTTP(apiServer, logger)
		return ctx.Err()
	case err := <-errCh:
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, logger)
		shutdownHTTP(apiServer, logger)
		if errors.Is(err, grpc.ErrServerStopped) || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// initSessions без секрета оставляет всех гостями: checkout работает, админка нет.
func initSessions(cfg Config, logger *log.Entry) *auth.Sessions {
	if cfg.SessionSecret == "" {
		logger.Warn("SHAWLSHOP_SESSION_SECRET is not set, every request is served as guest")
		return nil
	}
	sessions, err := auth.NewSessions(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		logger.WithError(err).Warn("invalid session secret, every request is served as guest")
		return nil
	}
	return sessions
}

func newOutboxWorker(cfg Config, deps *runtimeDependencies, producer *kafka.Producer, logger *log.Entry) *outbox.Worker {
	opts := []outbox.Option{
		outbox.WithLogger(logger.WithField("worker", "outbox")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if producer == nil {
		return outbox.NewWorker(deps.outboxRepo, nil, opts...)
	}

	opts = append(opts, outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)))
	return outbox.NewWorker(deps.outboxRepo, kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents), opts...)
}

func newHealthHandler(cfg Config, deps *runtimeDependencies, producer *kafka.Producer) *healthcheck.Handler {
	handler := healthcheck.NewHandler(version.GetVersion())
	if deps.storageChecker != nil {
		handler.RegisterChecker("storage", deps.storageChecker)
	}
	if deps.idempotencyChecker != nil {
		handler.RegisterChecker("idempotency", deps.idempotencyChecker)
	}
	handler.RegisterChecker("outbox", healthcheck.NewBacklogChecker("outbox", func(ctx context.Context) (int, error) {
		stats, err := deps.outboxRepo.Stats(ctx)
		return stats.PendingCount, err
	}, cfg.OutboxMaxPending))
	if cfg.KafkaBrokers != "" {
		handler.RegisterChecker("kafka", healthcheck.NewOptionalChecker("kafka", func(context.Context) error {
			if producer == nil {
				return errors.New("kafka producer is not connected")
			}
			return nil
		}))
	}
	return handler
}

// registerGRPCMetrics переиспользует уже зарегистрированные метрики при повторном Run.
func registerGRPCMetrics(logger *log.Entry) *promgrpc.ServerMetrics {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				return existing
			}
		}
		logger.WithError(err).Warn("failed to register grpc metrics")
	}
	return grpcMetrics
}

// startWorker запускает run в отдельной горутине со своим cancel.
func startWorker(ctx context.Context, run func(context.Context)) (context.CancelFunc, <-chan struct{}) {
	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(workerCtx)
	}()
	return cancel, done
}

// shutdownOutboxWorker останавливает фоновый воркер и ждёт его завершения.
func shutdownOutboxWorker(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel == nil {
		return
	}
	cancel()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("background worker did not stop in time")
	}
}

func stopGRPC(srv *grpc.Server, logger *log.Entry) {
	stoppedCh := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}

// startMetricsServer запускает ops-сервер: /metrics, /healthz, /livez, /readyz.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
