package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/vicebridge/internal/api"
	"github.com/mattjoyce/vicebridge/internal/auth"
	"github.com/mattjoyce/vicebridge/internal/bridge"
	"github.com/mattjoyce/vicebridge/internal/config"
	"github.com/mattjoyce/vicebridge/internal/events"
	"github.com/mattjoyce/vicebridge/internal/history"
	"github.com/mattjoyce/vicebridge/internal/lock"
	"github.com/mattjoyce/vicebridge/internal/log"
	"github.com/mattjoyce/vicebridge/internal/metrics"
	"github.com/mattjoyce/vicebridge/internal/storage"
)

const (
	eventBacklog    = 256
	shutdownTimeout = 5 * time.Second
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	port := fs.Int("port", 0, "Override monitor.port")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, source, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *port != 0 {
		cfg.Monitor.Port = *port
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("vicebridge starting", "version", version, "config", source)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("vicebridge failed", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	logger.Info("vicebridge stopped")
	return 0
}

// serve runs the daemon until ctx is cancelled or a component fails.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, extra ...bridge.Option) error {
	pidLock, err := lock.AcquireForPort(cfg.LockDir, cfg.Monitor.Port)
	if err != nil {
		return fmt.Errorf("another instance may own port %d: %w", cfg.Monitor.Port, err)
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	hub := events.NewHub(eventBacklog)
	opts := []bridge.Option{bridge.WithEvents(hub)}

	var profiler *metrics.Profiler
	if cfg.Metrics.Enabled {
		profiler = metrics.New(
			metrics.WithNamespace(cfg.Metrics.Namespace),
			metrics.WithProcessCollectors(),
		)
		opts = append(opts, bridge.WithPerformance(profiler))
	}

	// The recorder outlives the bridge so frames from the drain are kept.
	var (
		store       *history.Store
		recorder    *history.Recorder
		recorderWG  sync.WaitGroup
		recorderCtx context.Context
		stopRecord  context.CancelFunc = func() {}
	)
	if cfg.History.Enabled {
		db, err := storage.OpenSQLite(ctx, cfg.History.Path)
		if err != nil {
			return fmt.Errorf("open history database: %w", err)
		}
		defer db.Close()
		logger.Info("history database opened", "path", cfg.History.Path)

		store = history.NewStore(db)
		recorder = history.NewRecorder(store, cfg.History.Backlog)
		recorderCtx, stopRecord = context.WithCancel(context.Background())
		recorderWG.Add(2)
		go func() {
			defer recorderWG.Done()
			recorder.Run(recorderCtx)
		}()
		go func() {
			defer recorderWG.Done()
			recorder.RunPruner(recorderCtx, cfg.History.Retention, cfg.History.PruneInterval)
		}()
		opts = append(opts, bridge.WithHistory(recorder))
	}
	defer func() {
		stopRecord()
		recorderWG.Wait()
		if recorder != nil && recorder.Dropped() > 0 {
			logger.Warn("history entries dropped", "count", recorder.Dropped())
		}
	}()

	opts = append(opts, extra...)
	b := bridge.New(cfg.BridgeConfig(), opts...)
	if profiler != nil {
		unsubscribe := b.OnConnectedChanged(profiler.SetConnected)
		defer unsubscribe()
		profiler.TrackQueueDepth(b.QueueDepth)
	}
	if err := b.Start(0); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}

	errCh := make(chan error, 1)
	apiCtx, stopAPI := context.WithCancel(context.Background())
	defer stopAPI()
	var apiWG sync.WaitGroup

	if cfg.API.Enabled {
		apiServer := newAPIServer(cfg, b, hub, store, profiler)
		apiWG.Add(1)
		go func() {
			defer apiWG.Done()
			if err := apiServer.Start(apiCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("vicebridge running", "monitor", fmt.Sprintf("%s:%d", cfg.Monitor.Host, cfg.Monitor.Port))

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case runErr = <-errCh:
		logger.Error("component failed", "error", runErr)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := b.Stop(stopCtx, true); err != nil {
		logger.Warn("bridge did not drain cleanly", "error", err)
	}
	stopAPI()
	apiWG.Wait()

	if recorder != nil {
		if err := recorder.Flush(stopCtx); err != nil {
			logger.Warn("history flush incomplete", "error", err)
		}
	}
	return runErr
}

func newAPIServer(cfg *config.Config, b *bridge.Bridge, hub *events.Hub, store *history.Store, profiler *metrics.Profiler) *api.Server {
	tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{
			Token:  t.Token,
			Scopes: t.Scopes,
		})
	}

	opts := []api.Option{
		api.WithEvents(hub),
		api.WithLogger(log.WithComponent("api")),
	}
	if store != nil {
		opts = append(opts, api.WithHistory(store))
	}
	if profiler != nil {
		opts = append(opts, api.WithMetrics(profiler.Handler()))
	}

	return api.New(api.Config{
		Listen: cfg.API.Listen,
		APIKey: cfg.API.Auth.APIKey,
		Tokens: tokens,
	}, b, opts...)
}
