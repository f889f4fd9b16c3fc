package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/cartsync/internal/health"
	"github.com/vladislavdragonenkov/cartsync/internal/httpapi"
	"github.com/vladislavdragonenkov/cartsync/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает один контекст корзины с HTTP API и сервером метрик
// и блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	logger.WithFields(version.Fields()).Info("starting cart context")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := deps.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("failed to close dependencies")
		}
	}()

	cartCtx := NewCartContext(cfg, deps)
	defer func() {
		if closeErr := cartCtx.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("failed to close cart sync")
		}
	}()

	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return err
	}
	handler := httpapi.NewCartHandler(cartCtx.Store, cartCtx.Catalog, logger.WithField("layer", "http"))
	apiSrv := &http.Server{
		Handler:           httpapi.NewRouter(handler, cfg.RequestTimeout),
		ReadHeaderTimeout: 5 * time.Second,
	}

	metricsLis, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		_ = apiLis.Close()
		return err
	}
	metricsSrv := newMetricsServer(cartCtx.Health)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("HTTP API слушает %s", apiLis.Addr())
		return serveHTTP(apiSrv, apiLis)
	})
	g.Go(func() error {
		logger.Infof("метрики доступны по адресу %s/metrics", metricsLis.Addr())
		return serveHTTP(metricsSrv, metricsLis)
	})
	g.Go(func() error {
		return cartCtx.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем серверы")
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// newMetricsServer собирает /metrics и health-эндпоинты.
func newMetricsServer(healthHandler *health.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", health.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func serveHTTP(srv *http.Server, lis net.Listener) error {
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
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
