package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattjoyce/vicebridge/internal/history"
	"github.com/mattjoyce/vicebridge/internal/inspect"
	"github.com/mattjoyce/vicebridge/internal/storage"
)

func runHistoryNoun(args []string) int {
	if len(args) < 1 {
		printHistoryNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printHistoryNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "inspect":
		if hasHelpFlag(actionArgs) {
			printHistoryInspectHelp()
			return 0
		}
		return runHistoryInspect(actionArgs)
	case "tail":
		if hasHelpFlag(actionArgs) {
			printHistoryTailHelp()
			return 0
		}
		return runHistoryTail(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown history action: %s\n", action)
		return 1
	}
}

func runHistoryInspect(args []string) int {
	// Flags may follow the request id: 'history inspect 42 --json'.
	var configPath string
	var jsonOut bool
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&jsonOut, "json", false, "Output report in JSON")

	var rawID string
	var remainingArgs []string
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") && rawID == "" && !isFlagValue(remainingArgs) {
			rawID = arg
		} else {
			remainingArgs = append(remainingArgs, arg)
		}
	}
	if err := fs.Parse(remainingArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if rawID == "" {
		fmt.Fprintln(os.Stderr, "Usage: vicebridge history inspect <request_id> [--config PATH] [--json]")
		return 1
	}
	requestID, err := strconv.ParseUint(rawID, 0, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid request id %q: %v\n", rawID, err)
		return 1
	}

	return withHistory(configPath, func(ctx context.Context, store *history.Store) error {
		var report string
		var err error
		if jsonOut {
			report, err = inspect.BuildJSONReport(ctx, store, uint32(requestID))
			report += "\n"
		} else {
			report, err = inspect.BuildReport(ctx, store, uint32(requestID))
		}
		if err != nil {
			return err
		}
		_, err = io.WriteString(os.Stdout, report)
		return err
	})
}

func runHistoryTail(args []string) int {
	fs := flag.NewFlagSet("tail", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", 20, "Number of frames to show")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	return withHistory(*configPath, func(ctx context.Context, store *history.Store) error {
		out, err := inspect.BuildTail(ctx, store, *limit)
		if err != nil {
			return err
		}
		_, err = io.WriteString(os.Stdout, out)
		return err
	})
}

// withHistory opens the configured history database read side and runs fn.
func withHistory(configPath string, fn func(context.Context, *history.Store) error) int {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if _, err := os.Stat(cfg.History.Path); err != nil {
		fmt.Fprintf(os.Stderr, "History database unavailable: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.History.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	if err := fn(ctx, history.NewStore(db)); err != nil {
		fmt.Fprintf(os.Stderr, "History query failed: %v\n", err)
		return 1
	}
	return 0
}

func printHistoryNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: vicebridge history <action> [flags]")
	fmt.Fprintln(w, "Actions: inspect, tail")
}

func printHistoryInspectHelp() {
	fmt.Println("Usage: vicebridge history inspect <request_id> [--config PATH] [--json]")
	fmt.Println("Show every recorded frame for one request.")
}

func printHistoryTailHelp() {
	fmt.Println("Usage: vicebridge history tail [--config PATH] [--limit N]")
	fmt.Println("List the most recent recorded frames.")
}
