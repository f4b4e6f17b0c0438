package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/translation-orchestrator/internal/config"
	"github.com/MimeLyc/translation-orchestrator/internal/events"
	"github.com/MimeLyc/translation-orchestrator/internal/httpapi"
	"github.com/MimeLyc/translation-orchestrator/internal/observability"
	"github.com/MimeLyc/translation-orchestrator/internal/persistence"
	"github.com/MimeLyc/translation-orchestrator/internal/provider"
	"github.com/MimeLyc/translation-orchestrator/internal/service"
	"github.com/MimeLyc/translation-orchestrator/pkg/log"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// a missing .env file is fine; the environment may be set directly
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.System.LogLevel), cfg.System.LogFormat)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal("Server stopped with error: %v", err)
	}
}

type recoverer interface {
	Recover(ctx context.Context) (int, error)
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func run(ctx context.Context, cfg *config.Config) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			log.Warn("Failed to flush traces: %v", err)
		}
	}()

	store, err := persistence.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("Failed to close store: %v", err)
		}
	}()

	registry := provider.NewDefaultRegistry(nil, cfg.LLM.MockEnabled,
		provider.WithTimeout(cfg.Orchestrator.ProviderTimeoutDuration()),
		provider.WithRequestsPerMinute(cfg.Orchestrator.RequestsPerMinute),
	)
	seed, err := cfg.LoadSeed()
	if err != nil {
		return fmt.Errorf("load registry seed: %w", err)
	}
	settings, err := config.NewSettingsStore(ctx, store, registry, seed)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	bus := events.NewMemoryBus(0)
	var forward []events.Publisher
	if cfg.Redis.Addr != "" {
		redisPub, err := events.NewRedisPublisher(cfg.Redis.Addr, cfg.Redis.Channel)
		if err != nil {
			log.Warn("Redis events disabled: %v", err)
		} else {
			defer redisPub.Close()
			forward = append(forward, redisPub)
		}
	}

	orch := service.NewOrchestrator(store, registry, settings,
		service.WithChunkSize(cfg.Orchestrator.ChunkSize),
		service.WithMaxConcurrentJobs(cfg.Orchestrator.MaxConcurrentJobs),
		service.WithConfigMode(cfg.Orchestrator.ConfigMode),
		service.WithPublisher(events.NewFanout(bus, forward...)),
	)
	orch.Start(ctx)
	defer orch.Stop()

	server := httpapi.NewServer(orch, service.NewApprover(orch, store), settings, bus,
		httpapi.WithAllowOrigins(cfg.HTTP.AllowOrigins),
		httpapi.WithServiceName(cfg.Telemetry.ServiceName),
		httpapi.WithStoreDriver(store.Driver()),
		httpapi.WithMaintenanceSchedule(cfg.Orchestrator.MaintenanceCron),
	)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Orchestrator.MaintenanceCron, func() {
		if _, err := orch.Recover(ctx); err != nil {
			log.Error("Maintenance recovery failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}

	return runWithComponents(ctx, cfg.HTTP.Addr, orch, scheduler, server)
}

// runWithComponents resumes unfinished jobs, starts the maintenance cron and
// the HTTP server, and blocks until ctx is cancelled or the server fails.
func runWithComponents(ctx context.Context, addr string, jobs recoverer, scheduler cronEngine, server httpServer) error {
	if n, err := jobs.Recover(ctx); err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	} else if n > 0 {
		log.Info("Recovered %d jobs from a previous run", n)
	}

	scheduler.Start()
	defer func() {
		<-scheduler.Stop().Done()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})
	return g.Wait()
}
