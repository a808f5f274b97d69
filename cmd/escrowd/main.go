package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"escrow-backend/api"
	"escrow-backend/bus"
	"escrow-backend/core/escrow"
	"escrow-backend/ipfs"
	"escrow-backend/ledger"
	"escrow-backend/mcp"
	"escrow-backend/metadata"
	"escrow-backend/orchestrator"
	"escrow-backend/registry"
	"escrow-backend/session"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	_ = godotenv.Load()

	cfg, err := loadConfig()
	// stdout belongs to the MCP stdio transport.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("escrow server failed", "err", err)
		os.Exit(1)
	}
	logger.Info("escrow server stopped")
}

// run wires every component and serves until ctx is done. Resources opened
// here are released before it returns.
func run(ctx context.Context, cfg config, logger *slog.Logger) error {
	lc, err := ledger.Dial(ctx, ledger.Config{
		RPCURL:         cfg.RPCURL,
		Factory:        cfg.Factory,
		ChainID:        cfg.ChainID,
		ConfirmTimeout: cfg.ConfirmTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("dial ledger %s: %w", cfg.RPCURL, err)
	}
	defer lc.Close()

	var provider session.Provider
	if clef, err := session.DialClef(ctx, cfg.ClefURL, cfg.AccountPoll, logger); err != nil {
		logger.Warn("signer unavailable; writes will fail until restart", "clef", cfg.ClefURL, "err", err)
	} else {
		provider = clef
		defer clef.Close()
	}
	sessions := session.NewManager(provider, lc, logger)
	defer sessions.Close()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s metadata store: %w", cfg.MetadataDriver, err)
	}
	defer closeStore()
	docs := metadata.NewDocuments(store)
	logger.Info("metadata store ready", "driver", cfg.MetadataDriver)

	reg := registry.New(logger)
	prom := prometheus.NewRegistry()
	prom.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	orch := orchestrator.New(lc, sessions, docs, reg, orchestrator.Options{
		Metrics: orchestrator.NewMetrics(prom),
		Logger:  logger,
	})

	go func() {
		if err := orch.Reconciler().Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("reconciler exited", "err", err)
		}
	}()
	go preloadActive(ctx, lc, orch, logger)
	go func() {
		if err := orch.Reconciler().Watch(ctx, lc, cfg.WatchInterval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event watch exited", "err", err)
		}
	}()

	sessions.OnChange(func(s escrow.Session, connected bool) {
		if connected {
			go syncAccount(ctx, orch, s, logger)
		}
	})
	if provider != nil {
		if s, ok, err := sessions.Restore(ctx); err != nil {
			logger.Warn("session restore failed", "err", err)
		} else if ok {
			logger.Info("session restored", "address", s.Address.Hex())
		}
	}

	if cfg.NATSURL != "" {
		nc, err := bus.Connect(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("connect to NATS %s: %w", cfg.NATSURL, err)
		}
		defer nc.Close()
		unsubscribe := bus.Forward(reg, nc, cfg.NATSSubject, logger)
		defer unsubscribe()
		logger.Info("forwarding job events", "nats_url", cfg.NATSURL, "subject", cfg.NATSSubject)
	}

	mcpServer := mcp.NewMCPServer(sessions, orch, reg, docs)
	router := api.NewDataAPI(reg, orch, docs, prom, logger).Router()
	if cfg.Transport == "http" {
		router = api.Mount(router, "/mcp", server.NewStreamableHTTPServer(mcpServer.GetMCPServer()))
	}
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("escrow server starting", "transport", cfg.Transport, "port", cfg.HTTPPort, "factory", cfg.Factory.Hex())
	if cfg.Transport == "http" {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "err", err)
		}
	}()
	if err := server.ServeStdio(mcpServer.GetMCPServer()); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config) (metadata.Store, func(), error) {
	switch cfg.MetadataDriver {
	case "postgres":
		pg, err := metadata.NewPGStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	case "memory":
		return metadata.NewMemoryStore(), func() {}, nil
	default:
		return metadata.NewIPFSStore(ipfs.NewClient(cfg.IPFS), cfg.IPFSRequireAuth), func() {}, nil
	}
}

// preloadActive registers every job the factory still lists as active, so the
// event watch covers escrows created before startup.
func preloadActive(ctx context.Context, lc *ledger.Client, orch *orchestrator.Orchestrator, logger *slog.Logger) {
	ids, err := lc.ActiveJobs(ctx)
	if err != nil {
		logger.Warn("active job preload failed", "err", err)
		return
	}
	loaded := 0
	for _, id := range ids {
		if _, found, err := orch.Reconcile(ctx, id); err != nil {
			logger.Warn("active job not loaded", "job_id", id, "err", err)
		} else if found {
			loaded++
		}
	}
	logger.Info("active jobs loaded", "listed", len(ids), "loaded", loaded)
}

// syncAccount loads the jobs of a newly connected account from the ledger.
func syncAccount(ctx context.Context, orch *orchestrator.Orchestrator, s escrow.Session, logger *slog.Logger) {
	for _, role := range []escrow.Role{escrow.RoleClient, escrow.RoleFreelancer} {
		jobs, err := orch.SyncAddress(ctx, s.Address, role)
		if err != nil {
			logger.Warn("account sync incomplete", "address", s.Address.Hex(), "role", role, "err", err)
		}
		logger.Info("account synced", "address", s.Address.Hex(), "role", role, "jobs", len(jobs))
	}
}
