package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BetterCallFirewall/Hackerecon/internal/api"
	"github.com/BetterCallFirewall/Hackerecon/internal/config"
	"github.com/BetterCallFirewall/Hackerecon/internal/eventbus"
	"github.com/BetterCallFirewall/Hackerecon/internal/graphstore"
	"github.com/BetterCallFirewall/Hackerecon/internal/graphstore/sqlstore"
	"github.com/BetterCallFirewall/Hackerecon/internal/llm"
	"github.com/BetterCallFirewall/Hackerecon/internal/orchestrator"
	"github.com/BetterCallFirewall/Hackerecon/internal/pipeline"
	"github.com/BetterCallFirewall/Hackerecon/internal/reflection"
	"github.com/BetterCallFirewall/Hackerecon/internal/reflection/exec"
	"github.com/BetterCallFirewall/Hackerecon/internal/tools"
)

func main() {
	logger, err := newLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load", zap.Error(err))
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("mission spine exited", zap.Error(err))
	}
}

func newLogger() (*zap.Logger, error) {
	if os.Getenv("ENV") == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	durable, err := sqlstore.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open durable store: %w", err)
	}
	defer durable.Close()

	bus := eventbus.New(log, cfg.RingBufferSize, cfg.DedupWindowSize, cfg.KeepaliveEvery)
	store := graphstore.New(durable, bus)

	registry := registerTools()

	sandbox := exec.New(time.Duration(cfg.ScriptTimeoutSec) * time.Second)
	merge := pipeline.NewReflectionMerge(store)
	loop := reflection.NewLoop(sandbox.AsRunner(), merge, cfg.MaxIterations, log)

	reasoner := llm.New(ctx, cfg.LLM, store, log)
	if reasoner != nil {
		reasoner.MissionHint = pipeline.MissionForTargets
		loop.Generator.Reasoner = reasoner.ReflectionScript
		log.Info("llm reasoner enabled", zap.String("provider", cfg.LLM.Provider))
	}

	timeouts := orchestrator.Timeouts{
		Passive: cfg.PassiveTimeout,
		Active:  cfg.ActiveTimeout,
		Verify:  cfg.VerifyTimeout,
		Default: cfg.DefaultTimeout,
	}
	o := orchestrator.New(store, durable, bus, registry, loop, timeouts, log)
	manager := orchestrator.NewManager(o)

	resumed, err := o.ResumeAll(ctx)
	if err != nil {
		log.Warn("resume missions on startup", zap.Error(err))
	} else {
		manager.ResumeInto(resumed)
		log.Info("resumed missions", zap.Int("count", len(resumed)))
	}

	server := api.NewServer(manager, store, bus, log)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// registerTools installs a provider for every tool name spec.md §4.4
// names. Wrapping real external recon tools (subfinder, httpx, nuclei,
// and so on) is explicitly out of scope (spec.md §1 Non-goals): each
// provider here is a minimal stand-in returning a well-formed empty
// result, so every phase's contract is exercised end to end without
// shelling out to anything external.
func registerTools() *tools.Registry {
	registry := tools.NewRegistry()

	registry.Register(tools.SubdomainEnum, jsonProvider(tools.SubdomainEnumResult{}), 2)
	registry.Register(tools.HTTPProbe, jsonProvider(tools.HTTPProbeResult{}), 5)
	registry.Register(tools.DNSResolve, jsonProvider([]tools.DNSResolveEntry{}), 10)
	registry.Register(tools.ASNLookup, jsonProvider([]tools.ASNLookupEntry{}), 5)
	registry.Register(tools.Wayback, jsonProvider([]tools.WaybackEntry{}), 1)
	registry.Register(tools.JSMine, jsonProvider([]tools.JSMineEntry{}), 2)
	registry.Register(tools.HTMLCrawl, jsonProvider([]tools.HTMLCrawlEntry{}), 2)
	registry.Register(tools.VulnScan, jsonProvider(tools.VulnScanResult{}), 1)

	return registry
}

// jsonProvider builds a tools.Provider that ignores its arguments and
// always returns v marshaled to JSON.
func jsonProvider(v any) tools.ProviderFunc {
	return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(v)
	}
}
