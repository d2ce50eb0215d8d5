// Command arbengine runs the cross-venue arbitrage detection engine: one
// fully wired pipeline (§2: C1-C5) per configured chain, running in
// parallel, plus a Prometheus metrics endpoint.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/r3e-network/arb-engine/infrastructure/chains"
	"github.com/r3e-network/arb-engine/infrastructure/logging"
	"github.com/r3e-network/arb-engine/internal/pipeline"
	"github.com/r3e-network/arb-engine/internal/sink"
	"github.com/r3e-network/arb-engine/pkg/metrics"
)

const shutdownGrace = 2 * time.Second

func main() {
	log := logging.NewFromEnv("arbengine")
	zapLogger, err := newZapLogger()
	if err != nil {
		log.WithError(err).Fatal("create zap logger")
	}
	defer zapLogger.Sync() //nolint:errcheck

	cfg, err := chains.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	publisher, closePublisher := buildPublisher(log)
	defer closePublisher()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipelines := make([]*pipeline.Pipeline, 0, len(cfg.Chains))
	for _, chainCfg := range cfg.Chains {
		p, err := pipeline.Build(ctx, pipeline.Options{
			ChainConfig: chainCfg,
			FullConfig:  cfg,
			Publisher:   publisher,
			Logger:      logging.NewFromEnv("pipeline"),
			ZapLogger:   zapLogger,
		})
		if err != nil {
			// A chain-scoped build failure must not take down the other
			// chains' pipelines (§4.1/§7): log and move on.
			log.WithError(err).WithField("chain", string(chainCfg.ID)).Error("build pipeline, skipping chain")
			continue
		}
		pipelines = append(pipelines, p)
	}
	if len(pipelines) == 0 {
		log.Fatal("no chain pipelines built successfully")
	}

	metricsAddr := metricsListenAddr()
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: metrics.Handler()}
	go func() {
		log.WithField("addr", metricsAddr).Info("serving metrics")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server exited")
		}
	}()

	var wg sync.WaitGroup
	for _, p := range pipelines {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Run(ctx); err != nil {
				log.WithError(err).Error("chain pipeline exited")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()

	stopped := make(chan struct{})
	go func() {
		wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownGrace):
		log.Warn("shutdown grace period elapsed, exiting anyway")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}

// newZapLogger builds the detector's hot-path logger (§10.1): JSON in
// production, console in development, controlled by LOG_FORMAT like the
// rest of the engine's logging.
func newZapLogger() (*zap.Logger, error) {
	if strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "console") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// buildPublisher selects the Opportunity Sink's transport: Redis Pub/Sub
// when REDIS_ADDR is set, otherwise an in-process channel drained to the
// log so opportunities are still visible with no external dependency.
func buildPublisher(log *logging.Logger) (sink.Publisher, func()) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		ch := sink.NewChannelPublisher(1024)
		go func() {
			for opp := range ch.Opportunities() {
				log.WithFields(map[string]interface{}{
					"chain":      opp.Chain,
					"kind":       opp.Kind,
					"net_bps":    opp.NetProfitBps,
					"confidence": opp.ConfidenceLabel,
				}).Info("arbitrage opportunity detected")
			}
		}()
		return ch, func() {}
	}

	db, _ := strconv.Atoi(strings.TrimSpace(os.Getenv("REDIS_DB")))
	pub := sink.NewRedisPublisher(sink.RedisPublisherConfig{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		Channel:  os.Getenv("REDIS_CHANNEL"),
	})
	return pub, func() {
		if err := pub.Close(); err != nil {
			log.WithError(err).Warn("close redis publisher")
		}
	}
}

func metricsListenAddr() string {
	if addr := strings.TrimSpace(os.Getenv("METRICS_ADDR")); addr != "" {
		return addr
	}
	return ":9090"
}
