// Package main is the entry point for the auction engine daemon.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sambacha/julia-auction/internal/breaker"
	"github.com/sambacha/julia-auction/internal/coordinator"
	"github.com/sambacha/julia-auction/internal/metrics"
	"github.com/sambacha/julia-auction/internal/orchestrator"
	"github.com/sambacha/julia-auction/internal/router"
	"github.com/sambacha/julia-auction/pkg/logger"
	"github.com/sambacha/julia-auction/pkg/recordstore"
)

func main() {
	metricsPort := flag.String("metrics-port", "9090", "Prometheus metrics port")
	threshold := flag.Float64("consensus-threshold", 0.67, "2PC weighted-yes threshold")
	prepareTimeout := flag.Duration("prepare-timeout", 2*time.Second, "2PC prepare phase timeout")
	commitTimeout := flag.Duration("commit-timeout", 2*time.Second, "2PC commit phase timeout")
	routerURL := flag.String("router-url", "", "External router service URL; empty uses the in-memory runtime")
	redisURL := flag.String("redis-addr", "", "Redis address for the settlement record store; empty uses an in-memory store")
	flag.Parse()

	logger.Init(logger.DefaultConfig())
	log := logger.Log

	log.Info().
		Str("metrics_port", *metricsPort).
		Float64("consensus_threshold", *threshold).
		Str("router_url", *routerURL).
		Msg("Starting auction engine")

	m := metrics.NewMetrics("auctionengine")
	log.Info().Msg("Prometheus metrics enabled")

	bridges := router.NewRegistry(log)
	local := router.NewLocalRuntime()
	if err := bridges.Register("local", router.NewBreakerBridge("local", local, breaker.DefaultConfig(), m)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register local bridge")
	}
	defaultBridge := "local"
	if *routerURL != "" {
		httpRuntime := router.NewHTTPRuntime(*routerURL, 2*time.Second, router.DefaultCacheTTL)
		if err := bridges.Register("external", router.NewBreakerBridge("external", httpRuntime, breaker.DefaultConfig(), m)); err != nil {
			log.Fatal().Err(err).Msg("Failed to register external bridge")
		}
		defaultBridge = "external"
		log.Info().Str("bridge", *routerURL).Msg("External router bridge registered")
	}

	var store settlementStoreCloser
	if *redisURL != "" {
		redisStore := recordstore.NewRedisStore(&recordstore.RedisConfig{
			Addr:     *redisURL,
			Keyspace: "settlement:",
			TTL:      24 * time.Hour,
		})
		store = redisStore
		log.Info().Str("addr", *redisURL).Msg("Redis settlement store configured")
	} else {
		store = recordstore.NewMemStore()
		log.Info().Msg("-redis-addr not set, using in-memory settlement store")
	}

	transport := coordinator.NewHTTPTransport(2 * time.Second)

	cfg := orchestrator.DefaultConfig()
	cfg.DefaultBridgeName = defaultBridge
	cfg.CoordinatorConfig.ConsensusThreshold = decimal.NewFromFloat(*threshold)
	cfg.CoordinatorConfig.PrepareTimeout = *prepareTimeout
	cfg.CoordinatorConfig.CommitTimeout = *commitTimeout

	engine := orchestrator.New(cfg, transport, bridges, store, m, log)
	log.Info().Msg("Settlement orchestrator engine wired")

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", healthHandler(engine))

	server := &http.Server{
		Addr:         ":" + *metricsPort,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Metrics server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Metrics server error")
		}
	}()

	go reportDrainMode(engine, m)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Metrics server forced to shutdown")
	}
	log.Info().Msg("Auction engine stopped gracefully")
}

// settlementStoreCloser has recordstore.Store's method set; it holds
// either the Redis or the in-memory store until it is passed to
// orchestrator.New.
type settlementStoreCloser interface {
	Put(ctx context.Context, settlementID string, record any) error
	Get(ctx context.Context, settlementID string, out any) (bool, error)
	Delete(ctx context.Context, settlementID string) error
}

// reportDrainMode polls the engine's drain flag into the drain_mode
// gauge; the engine itself has no subscription hook for the transition.
func reportDrainMode(engine *orchestrator.Engine, m *metrics.Metrics) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		m.SetDrainMode(engine.DrainMode())
	}
}

func healthHandler(engine *orchestrator.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine.DrainMode() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"draining"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}
}
