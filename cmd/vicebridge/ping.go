package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattjoyce/vicebridge/internal/bridge"
	"github.com/mattjoyce/vicebridge/internal/log"
	"github.com/mattjoyce/vicebridge/internal/protocol"
)

func runPing(args []string) int {
	fs := flag.NewFlagSet("ping", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	host := fs.String("host", "", "Override monitor.host")
	port := fs.Int("port", 0, "Override monitor.port")
	timeout := fs.Duration("timeout", 0, "Override monitor.startup_timeout")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *host != "" {
		cfg.Monitor.Host = *host
	}
	if *port != 0 {
		cfg.Monitor.Port = *port
	}
	if *timeout > 0 {
		cfg.Monitor.StartupTimeout = *timeout
	}
	log.Setup("warn", cfg.Service.LogFormat)

	bcfg := cfg.BridgeConfig()
	// A one-shot probe must not resume a machine the user stopped.
	bcfg.Dispatch.AutoResume.Enabled = false

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Monitor.StartupTimeout)
	defer cancel()
	if err := ping(ctx, bcfg, os.Stdout); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			fmt.Fprintf(os.Stderr, "Ping failed: no answer from %s:%d within %s\n",
				cfg.Monitor.Host, cfg.Monitor.Port, cfg.Monitor.StartupTimeout)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Ping failed: %v\n", err)
		return 1
	}
	return 0
}

// ping connects, sends Ping and Info, and writes the emulator version to w.
func ping(ctx context.Context, cfg bridge.Config, w io.Writer, opts ...bridge.Option) error {
	b := bridge.New(cfg, opts...)
	if err := b.Start(0); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = b.Stop(stopCtx, false)
	}()

	start := time.Now()
	resp, err := b.Do(ctx, protocol.PingCommand{})
	if resp != nil {
		resp.Release()
	}
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	rtt := time.Since(start)

	resp, err = b.Do(ctx, protocol.InfoCommand{})
	if resp != nil {
		defer resp.Release()
	}
	if err != nil {
		return fmt.Errorf("info: %w", err)
	}
	info, ok := resp.(*protocol.InfoResponse)
	if !ok {
		return fmt.Errorf("info: unexpected %s response", resp.Type())
	}

	fmt.Fprintf(w, "VICE %d.%d.%d.%d (svn r%d) at %s:%d, ping %s\n",
		info.Major, info.Minor, info.Build, info.Revision, info.SVNVersion,
		cfg.Host, b.Port(), rtt.Round(time.Microsecond))
	return nil
}
