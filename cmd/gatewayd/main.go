// Command gatewayd wires the orchestration core's collaborators into a
// running process: it loads configuration, seeds the in-memory catalog
// from a JSON seed file when GATEWAY_CATALOG is set (otherwise the catalog
// starts empty), and exposes /healthz and /metrics on a chi mux.
//
// Routing the five inbound wire protocols (Anthropic Messages, OpenAI Chat
// Completions, OpenAI Responses, Gemini, and their CLI variants) onto
// orchestrator.Run is deliberately out of scope here — that's the HTTP
// surface, which per the core's design lives in a separate service. This
// binary exists so the orchestration core has somewhere to run and report
// its own health/metrics.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ferro-labs/llm-gateway-core/adaptive"
	"github.com/ferro-labs/llm-gateway-core/affinity"
	"github.com/ferro-labs/llm-gateway-core/candidates"
	"github.com/ferro-labs/llm-gateway-core/candrecord"
	"github.com/ferro-labs/llm-gateway-core/catalog"
	"github.com/ferro-labs/llm-gateway-core/concurrency"
	"github.com/ferro-labs/llm-gateway-core/config"
	"github.com/ferro-labs/llm-gateway-core/convert"
	"github.com/ferro-labs/llm-gateway-core/dispatch"
	"github.com/ferro-labs/llm-gateway-core/health"
	"github.com/ferro-labs/llm-gateway-core/internal/catalogseed"
	"github.com/ferro-labs/llm-gateway-core/internal/logging"
	"github.com/ferro-labs/llm-gateway-core/internal/version"
	"github.com/ferro-labs/llm-gateway-core/orchestrator"
	"github.com/ferro-labs/llm-gateway-core/resolver"
	"github.com/ferro-labs/llm-gateway-core/stream"
	"github.com/ferro-labs/llm-gateway-core/usage"
)

func main() {
	cfg := config.Default()
	if path := os.Getenv("GATEWAY_CONFIG"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = *loaded
	}
	config.ApplyEnv(&cfg)
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	store := catalog.NewStore()
	if path := os.Getenv("GATEWAY_CATALOG"); path != "" {
		if err := catalogseed.LoadInto(store, path); err != nil {
			log.Fatalf("failed to load catalog: %v", err)
		}
	} else {
		log.Println("GATEWAY_CATALOG not set; starting with an empty catalog")
	}

	orch, err := buildOrchestrator(cfg, store)
	if err != nil {
		log.Fatalf("failed to build orchestrator: %v", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	addr := ":8080"
	if p := os.Getenv("PORT"); p != "" {
		addr = ":" + p
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logging.Logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Logger.Warn("shutdown error", "error", err)
		}
	}()

	_ = orch // wired and ready; an embedding HTTP surface calls orch.Run per request.

	logging.Logger.Info("gatewayd listening", "version", version.Short(), "addr", addr, "providers", len(store.AllProviders()))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stop()
		log.Fatalf("server error: %v", err)
	}
	logging.Logger.Info("server stopped")
}

// buildOrchestrator wires every collaborator the Fallback Orchestrator
// composes, using cfg's knobs for the pieces that are configurable.
func buildOrchestrator(cfg config.Config, store *catalog.Store) (*orchestrator.Orchestrator, error) {
	modelResolver := resolver.New(store, cfg.ModelResolverCacheTTL, cfg.ModelResolverCacheSize)
	healthMonitor := health.NewMonitor(cfg.Health.FailureThreshold, cfg.Health.OpenTimeout)
	affinityStore := affinity.New(cfg.AffinityCacheCapacity)
	converters := convert.NewRegistry()
	candidateResolver := candidates.New(store, modelResolver, healthMonitor, affinityStore, converters.Available)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	concurrencyMgr := concurrency.New(concurrency.Config{
		Backend:      concurrency.Backend(cfg.ConcurrencyBackend),
		RedisClient:  redisClient,
		SlotTTL:      cfg.SlotTTL,
		DegradeRatio: cfg.DegradeRatio,
	})
	dispatcher := dispatch.New(concurrencyMgr, converters, &http.Client{Timeout: cfg.HTTPTimeout})

	streamDefaults := stream.DefaultDefaults()
	streamDefaults.DataTimeout = cfg.DataTimeout
	streamProcessor := stream.New(streamDefaults)

	adaptiveDefaults := adaptive.Defaults{
		InitialLimit:          cfg.Adaptive.InitialLimit,
		MinLimit:              cfg.Adaptive.MinLimit,
		MaxLimit:              cfg.Adaptive.MaxLimit,
		IncreaseStep:          cfg.Adaptive.IncreaseStep,
		DecreaseMultiplier:    cfg.Adaptive.DecreaseMultiplier,
		WindowSize:            cfg.Adaptive.WindowSize,
		WindowDuration:        cfg.Adaptive.WindowDuration,
		UtilizationThreshold:  cfg.Adaptive.UtilizationThreshold,
		HighUtilizationRatio:  cfg.Adaptive.HighUtilizationRatio,
		MinSamplesForDecision: cfg.Adaptive.MinSamplesForDecision,
		ProbeInterval:         cfg.Adaptive.ProbeInterval,
		ProbeMinRequests:      cfg.Adaptive.ProbeMinRequests,
		CooldownAfter429:      cfg.Adaptive.CooldownAfter429,
		MaxHistoryRecords:     cfg.Adaptive.MaxHistoryRecords,
	}
	adaptiveTuner := adaptive.New(store, adaptiveDefaults)

	usageRecorder, err := newUsageRecorder(cfg)
	if err != nil {
		return nil, err
	}
	recordStore, err := newRecordStore(cfg)
	if err != nil {
		return nil, err
	}

	return &orchestrator.Orchestrator{
		Resolver:         candidateResolver,
		Dispatcher:       dispatcher,
		Health:           healthMonitor,
		Affinity:         affinityStore,
		Adaptive:         adaptiveTuner,
		Concurrency:      concurrencyMgr,
		Stream:           streamProcessor,
		Converters:       converters,
		Records:          recordStore,
		Usage:            usageRecorder,
		ReservationRatio: cfg.ReservationRatio,
	}, nil
}

func newUsageRecorder(cfg config.Config) (orchestrator.UsageRecorder, error) {
	if cfg.SQLDialect == "postgres" {
		return usage.NewPostgresRecorder(cfg.UsageDSN)
	}
	return usage.NewSQLiteRecorder(cfg.UsageDSN)
}

func newRecordStore(cfg config.Config) (orchestrator.RecordStore, error) {
	if cfg.SQLDialect == "postgres" {
		return candrecord.NewPostgresStore(cfg.CandidateRecordDSN)
	}
	return candrecord.NewSQLiteStore(cfg.CandidateRecordDSN)
}
