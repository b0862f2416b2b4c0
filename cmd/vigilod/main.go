package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vigilo/internal/dispatch"
	"vigilo/internal/notify"
	"vigilo/internal/nvr"
	"vigilo/internal/overlay"
	"vigilo/internal/service"
	"vigilo/internal/settings"
	"vigilo/internal/ws"
)

const (
	defaultConfigPath = "/etc/vigilo/config.yml"
	defaultStateDir   = "/var/lib/vigilo"
	defaultListenWS   = "127.0.0.1:8765"
)

// snapshotProxy defers the fetcher binding so the overlay manager can
// be built before the service that serves it.
type snapshotProxy struct {
	svc *service.Service
}

func (p *snapshotProxy) FetchSnapshot(ctx context.Context, camera string) ([]byte, error) {
	return p.svc.FetchSnapshot(ctx, camera)
}

func main() {
	var (
		configF = flag.String("config", defaultConfigPath, "Path to the daemon configuration file")
		dbgF    = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	cfg, err := settings.LoadFile(*configF)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vigilod: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(*dbgF || cfg.LogLevel == "debug")
	if err != nil {
		fmt.Fprintf(os.Stderr, "vigilod: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	stateDir := cfg.StateDir
	if stateDir == "" {
		stateDir = defaultStateDir
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		logger.Fatal("create state dir", zap.Error(err))
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(stateDir, "settings.db")
	}
	store, err := settings.NewStore(dbPath)
	if err != nil {
		logger.Fatal("open settings store", zap.Error(err))
	}
	defer store.Close()

	if err := store.Seed(cfg.SeedValues()); err != nil {
		logger.Fatal("seed settings", zap.Error(err))
	}
	snap, err := store.Load()
	if err != nil {
		logger.Fatal("load settings", zap.Error(err))
	}

	proxy := &snapshotProxy{}
	manager := overlay.NewManager(stateDir, overlay.SessionConfig{
		RefreshInterval: snap.RefreshInterval,
		AutoClose:       snap.AutoClose,
		Duration:        snap.OverlayDuration,
		Width:           snap.OverlayWidth,
		Height:          snap.OverlayHeight,
	}, proxy, nil, logger)

	hub := ws.NewHub(logger)
	notifier := notify.New(notify.Config{
		Token:  cfg.Telegram.Token,
		ChatID: cfg.Telegram.ChatID,
	})

	svc := service.New(service.Options{
		Store: store,
		NewDispatcher: func(dcfg dispatch.Config, cb dispatch.Callback) service.Dispatcher {
			return dispatch.NewDispatcher(dcfg, cb, logger)
		},
		NewDiscovery: func(url, username, password string) service.Discovery {
			return nvr.NewClient(url, username, password, logger)
		},
		Display: manager,
		Hub:     hub,
		Alerter: notifier,
		Logger:  logger,
	})
	proxy.svc = svc

	listen := cfg.ListenWS
	if listen == "" {
		listen = defaultListenWS
	}
	mux := http.NewServeMux()
	mux.Handle("/ws/events", ws.NewHandler(hub, logger))
	mux.Handle("/ws/events/", ws.NewHandler(hub, logger))
	server := &http.Server{Addr: listen, Handler: mux}

	// Channel used by the signal handler and the worker goroutines to
	// notify the main goroutine when to stop.
	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		logger.Info("event websocket listening", zap.String("addr", listen))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	go func() {
		logger.Info("detection service starting")
		if err := svc.Run(ctx); err != nil && err != context.Canceled {
			errc <- err
		}
	}()

	logger.Info("exiting", zap.Error(<-errc))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	manager.StopAll()
	logger.Info("exited")
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
