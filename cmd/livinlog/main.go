package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dukerupert/livinlog/internal/cloud"
	"github.com/dukerupert/livinlog/internal/config"
	"github.com/dukerupert/livinlog/internal/events"
	"github.com/dukerupert/livinlog/internal/household"
	"github.com/dukerupert/livinlog/internal/invite"
	"github.com/dukerupert/livinlog/internal/logging"
	"github.com/dukerupert/livinlog/internal/middleware"
	"github.com/dukerupert/livinlog/internal/model"
	"github.com/dukerupert/livinlog/internal/replica"
	"github.com/dukerupert/livinlog/internal/router"
	"github.com/dukerupert/livinlog/internal/selection"
	"github.com/dukerupert/livinlog/internal/server"
	"github.com/dukerupert/livinlog/internal/share"
	"github.com/dukerupert/livinlog/internal/websocket"
)

func main() {
	configPath := flag.String("config", os.Getenv("LIVINLOG_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := logging.Setup(cfg.LogLevel)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	replicas, err := replica.Open(ctx, replica.Config{Dir: cfg.DataDir, ContainerID: cfg.Cloud.ContainerID}, logger)
	if err != nil {
		if errors.Is(err, replica.ErrInitFailed) {
			logger.Error("local storage could not be set up, exiting", "data_dir", cfg.DataDir, "error", err)
			os.Exit(1)
		}
		log.Fatalf("failed to open replicas: %v", err)
	}
	defer replicas.Close()

	selStore, err := selection.Open(filepath.Join(cfg.DataDir, selection.FileName))
	if err != nil {
		log.Fatalf("failed to open selection store: %v", err)
	}
	defer selStore.Close()

	bus := events.NewBus(logger)

	var backend cloud.Backend
	switch cfg.Cloud.Mode {
	case config.ModeHTTP:
		backend = cloud.NewHTTPBackend(cloud.HTTPConfig{
			BaseURL:     cfg.Cloud.BaseURL,
			ContainerID: cfg.Cloud.ContainerID,
			Secret:      cfg.Cloud.Secret,
			Timeout:     cfg.Cloud.Timeout,
		})
	default:
		mem := cloud.NewMemory(cfg.Cloud.ContainerID)
		mem.OnChange(func(scope model.Scope) {
			bus.Publish(events.New(events.RemoteStoreChanged, "", map[string]any{"scope": string(scope)}))
		})
		backend = mem
	}
	if cfg.Cloud.FeedURL != "" {
		go cloud.NewChangeFeed(cfg.Cloud.FeedURL, cfg.Cloud.ContainerID, bus, logger).Run(ctx)
	}

	sharing := share.NewCoordinator(replicas, backend, bus, share.Config{
		Policy:         cfg.Sharing.Policy,
		PersistTimeout: cfg.Sharing.PersistTimeout,
	}, logger)
	invites := invite.NewFlow(replicas, backend, bus, cfg.Invites.AcceptTimeout, logger)
	reconciler := selection.NewReconciler(replicas, selStore, logger)
	rt := router.New(replicas, backend, reconciler, bus, cfg.Cloud.Timeout, logger)
	households := household.NewService(replicas, sharing, bus, logger)

	hub := websocket.NewHub(logger)
	go hub.Relay(ctx, bus)

	trusted, err := middleware.ParseTrustedProxies(cfg.HTTP.TrustedProxies)
	if err != nil {
		log.Fatalf("invalid http.trusted_proxies: %v", err)
	}
	inviteLimiter := middleware.NewLimiter(10, time.Minute).TrustProxies(trusted...)
	go inviteLimiter.Run(ctx)

	go rt.Run(ctx)

	srv := server.New(server.Deps{
		Router:        rt,
		Households:    households,
		Sharing:       sharing,
		Invites:       invites,
		Selection:     reconciler,
		Hub:           hub,
		InviteLimiter: inviteLimiter,
	}, logger)

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		fmt.Printf("livinlog running at http://localhost:%s\n", cfg.HTTP.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down...")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}
