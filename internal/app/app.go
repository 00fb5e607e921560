// Package app собирает сервис расчётов: хранилища, сервисы, HTTP API, метрики и gRPC health.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/settlement/internal/auth"
	"github.com/vladislavdragonenkov/settlement/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/settlement/internal/health"
	"github.com/vladislavdragonenkov/settlement/internal/httpapi"
	"github.com/vladislavdragonenkov/settlement/internal/metrics"
	"github.com/vladislavdragonenkov/settlement/internal/pricing"
	"github.com/vladislavdragonenkov/settlement/internal/service/analytics"
	"github.com/vladislavdragonenkov/settlement/internal/service/inventory"
	ordersvc "github.com/vladislavdragonenkov/settlement/internal/service/order"
	"github.com/vladislavdragonenkov/settlement/internal/service/payment"
	"github.com/vladislavdragonenkov/settlement/internal/version"
)

const readHeaderTimeout = 5 * time.Second

// Run поднимает сервис и блокируется до отмены ctx или ошибки одного из серверов.
// При отмене ctx возвращает ctx.Err() после корректной остановки.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	if _, err := seedCatalog(ctx, deps.products, cfg.CatalogSeedFile, logger); err != nil {
		return err
	}

	settlementMetrics := metrics.NewSettlementMetrics()
	notifier, producer := newNotifier(cfg, logger)
	defer closeKafka(producer, logger)

	var tx domain.Transactor
	if deps.tx != nil {
		tx = inventory.NewMeteredTransactor(deps.tx, settlementMetrics, logger.WithField("component", "stock-ledger"))
	}

	orderService, err := ordersvc.NewService(ordersvc.Dependencies{
		Catalog:  deps.products,
		Ledger:   inventory.NewMeteredLedger(deps.products, settlementMetrics, logger.WithField("component", "stock-ledger")),
		Orders:   deps.orders,
		Numbers:  deps.numbers,
		Pricing:  newCalculator(cfg),
		Payments: payment.NewMockGateway(),
		Authz:    auth.NewRoleAuthorizer(),
		Notifier: notifier,
		Tx:       tx,
	},
		ordersvc.WithLogger(logger.WithField("component", "order-service")),
		ordersvc.WithMetrics(settlementMetrics),
		ordersvc.WithExternalCallTimeout(cfg.ExternalCallTimeout),
	)
	if err != nil {
		return fmt.Errorf("init order service: %w", err)
	}

	aggregator, err := analytics.NewAggregator(deps.orders, auth.NewRoleAuthorizer(),
		analytics.WithLogger(logger.WithField("component", "analytics")))
	if err != nil {
		return fmt.Errorf("init analytics: %w", err)
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	if err != nil {
		return fmt.Errorf("init token service: %w", err)
	}

	apiSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Config{
			Orders:         orderService,
			Analytics:      aggregator,
			Tokens:         tokens,
			Logger:         logger.WithField("component", "http-api"),
			RequestTimeout: cfg.RequestTimeout,
		}),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	for name, checker := range deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}
	opsSrv := newOpsServer(cfg.MetricsAddr, healthHandler)

	grpcServer, healthServer := newGRPCServer(logger)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		return serveHTTP(apiSrv)
	})
	g.Go(func() error {
		logger.Infof("метрики и health checks доступны на %s (/metrics, /healthz, /readyz, /livez)", cfg.MetricsAddr)
		return serveHTTP(opsSrv)
	})
	g.Go(func() error {
		logger.Infof("gRPC health слушает %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем сервис")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

		shutdownHTTP(apiSrv, cfg.ShutdownTimeout, logger)
		shutdownOrderService(orderService, cfg.ShutdownTimeout, logger)
		shutdownHTTP(opsSrv, cfg.ShutdownTimeout, logger)
		stopGRPC(grpcServer, cfg.ShutdownTimeout, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func newCalculator(cfg Config) *pricing.Calculator {
	return pricing.NewCalculator(
		pricing.WithShipping(pricing.FlatRateShipping(cfg.ShippingBase, cfg.ShippingPerWeight)),
		pricing.WithTaxPolicy(pricing.FixedTaxRate(cfg.TaxRate)),
	)
}

// newOpsServer поднимает служебный HTTP: /metrics для Prometheus и health checks.
func newOpsServer(addr string, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	healthHandler.Register(mux)
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
}

// newGRPCServer создаёт gRPC только для health и reflection, с метриками go-grpc-prometheus.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)
	return grpcServer, healthServer
}

func serveHTTP(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server %s: %w", srv.Addr, err)
	}
	return nil
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), orDefaultTimeout(timeout))
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).WithField("addr", srv.Addr).Warn("http shutdown with error")
	}
}

// shutdownOrderService дожидается отправки уведомлений, запущенных до остановки.
func shutdownOrderService(svc *ordersvc.Service, timeout time.Duration, logger *log.Entry) {
	if svc == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), orDefaultTimeout(timeout))
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("order service shutdown timed out, pending notifications dropped")
	}
}

func stopGRPC(srv *grpc.Server, timeout time.Duration, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(orDefaultTimeout(timeout)):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}

func orDefaultTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}
