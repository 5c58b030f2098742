package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	router "github.com/abhinavnt/codefolio-sub001/internal/adapters/http"
	wssignal "github.com/abhinavnt/codefolio-sub001/internal/adapters/signal"
	"github.com/abhinavnt/codefolio-sub001/internal/app"
	"github.com/abhinavnt/codefolio-sub001/internal/broker/wamp"
	"github.com/abhinavnt/codefolio-sub001/internal/config"
	"github.com/abhinavnt/codefolio-sub001/internal/logging"
	"github.com/abhinavnt/codefolio-sub001/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Console logger until the configured one is installed.
	logging.Setup("debug", "info")

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		os.Exit(1)
	}
	logging.Setup(cfg.Mode, cfg.LogLevel)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewPrometheusCollector(promReg)

	reg := app.NewRegistry(
		app.WithPolicy(app.SimplePolicy{}),
		app.WithMetrics(collector),
	)

	brokerRouter, err := wamp.NewRouter(cfg.Broker.Realm)
	if err != nil {
		log.Error().Err(err).Msg("failed to start broker router")
		os.Exit(1)
	}
	defer brokerRouter.Close()

	signalCtl := wssignal.NewSignalWSController(reg, cfg, collector)
	go signalCtl.Limiter.Run(ctx)

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Registry: reg,
		Signal:   signalCtl,
		Broker:   brokerRouter,
		Metrics:  collector.Handler(),
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("realm", brokerRouter.Realm()).Msg("Voice server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
