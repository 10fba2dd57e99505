// Package main wires together the lead harvest service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/recruitgrid/leadharvest/internal/api"
	"github.com/recruitgrid/leadharvest/internal/clock/system"
	"github.com/recruitgrid/leadharvest/internal/config"
	"github.com/recruitgrid/leadharvest/internal/enrichment"
	"github.com/recruitgrid/leadharvest/internal/fetch"
	"github.com/recruitgrid/leadharvest/internal/fetch/proxy"
	"github.com/recruitgrid/leadharvest/internal/fetch/session"
	"github.com/recruitgrid/leadharvest/internal/id/uuid"
	"github.com/recruitgrid/leadharvest/internal/logging"
	"github.com/recruitgrid/leadharvest/internal/metrics"
	"github.com/recruitgrid/leadharvest/internal/orchestrator"
	"github.com/recruitgrid/leadharvest/internal/parser"
	"github.com/recruitgrid/leadharvest/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.ConnLifetime) * time.Second,
	})
	if err != nil {
		logger.Fatal("database connect failed", zap.Error(err))
	}
	defer pool.Close()

	campaignStore := postgres.NewCampaignStore(pool)
	runStore := postgres.NewRunStore(pool)
	leadStore := postgres.NewLeadStore(pool)
	jobStore := postgres.NewJobStore(pool)
	credentialStore := postgres.NewCredentialStore(pool)
	creditStore := postgres.NewCreditStore(pool)

	clock := system.New()
	idGen := uuid.NewGenerator()

	var jsonStrategy fetch.Strategy
	if cfg.Network.InstantJSON {
		sess, err := session.New(session.Config{
			BaseURL:       cfg.Network.BaseURL,
			Host:          cfg.Network.Host,
			SearchAPIPath: cfg.Network.SearchAPIPath,
			UserAgent:     cfg.Network.UserAgent,
			NavTimeout:    time.Duration(cfg.Network.NavTimeoutSec) * time.Second,
		}, logger.Named("session"))
		if err != nil {
			logger.Warn("session strategy init failed", zap.Error(err))
		} else {
			defer sess.Close()
			jsonStrategy = sess
		}
	}

	var pageStrategies []fetch.Strategy
	if cfg.Proxy.TunnelURL != "" {
		direct, err := proxy.NewDirect(proxy.DirectConfig{
			TunnelURL: cfg.Proxy.TunnelURL,
			UserAgent: cfg.Network.UserAgent,
			Timeout:   cfg.FetchTimeout(),
		}, logger.Named("proxy_tunnel"))
		if err != nil {
			logger.Warn("proxy tunnel init failed", zap.Error(err))
		} else {
			pageStrategies = append(pageStrategies, direct)
		}
	}
	if cfg.Proxy.ManagedBaseURL != "" {
		managed, err := proxy.NewManaged(proxy.ManagedConfig{
			BaseURL:     cfg.Proxy.ManagedBaseURL,
			APIKey:      cfg.Proxy.ManagedAPIKey,
			Geography:   cfg.Proxy.Geography,
			ProxyClass:  cfg.Proxy.ProxyClass,
			UserAgent:   cfg.Network.UserAgent,
			PollInitial: time.Duration(cfg.Fetch.PollInitialMs) * time.Millisecond,
			PollCap:     time.Duration(cfg.Fetch.PollCapMs) * time.Millisecond,
			MaxPolls:    cfg.Fetch.PollMax,
		}, logger.Named("proxy_managed"))
		if err != nil {
			logger.Warn("managed proxy init failed", zap.Error(err))
		} else {
			pageStrategies = append(pageStrategies, managed)
		}
	}
	if len(pageStrategies) == 0 && jsonStrategy == nil {
		logger.Fatal("no fetch strategies configured")
	}
	chain := fetch.NewChain(logger.Named("fetch"), pageStrategies...)

	orch := orchestrator.New(
		campaignStore,
		runStore,
		leadStore,
		jobStore,
		credentialStore,
		creditStore,
		jsonStrategy,
		chain,
		parser.New(logger.Named("parser")),
		clock,
		idGen,
		orchestrator.Config{
			NetworkHost:       cfg.Network.Host,
			SearchPathPrefix:  cfg.Network.SearchPath,
			InstantJSON:       cfg.Network.InstantJSON && jsonStrategy != nil,
			PageDelay:         cfg.PageDelay(),
			EnrichMaxAttempts: cfg.Enrichment.MaxAttempts,
		},
		logger.Named("orchestrator"),
	)

	var poller *enrichment.Poller
	if cfg.Enrichment.ServiceURL != "" {
		enricher := enrichment.NewClient(enrichment.ClientConfig{
			BaseURL: cfg.Enrichment.ServiceURL,
			APIKey:  cfg.Enrichment.ServiceAPIKey,
		})
		poller = enrichment.New(jobStore, leadStore, enricher, clock, enrichment.Config{
			Interval:     time.Duration(cfg.Enrichment.IntervalSeconds) * time.Second,
			BatchSize:    cfg.Enrichment.BatchSize,
			RetryBase:    time.Duration(cfg.Enrichment.RetryBaseSec) * time.Second,
			RetryCap:     time.Duration(cfg.Enrichment.RetryCapSec) * time.Second,
			CleanupAfter: time.Duration(cfg.Enrichment.CleanupDays) * 24 * time.Hour,
		}, logger.Named("enrichment"))
		poller.Start()
		defer poller.Stop()
	} else {
		logger.Warn("enrichment service URL not configured; poller disabled")
	}

	apiServer := api.NewServer(orch, runStore, jobStore, clock, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
