package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/vicebridge/internal/config"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		printUsage(os.Stderr)
		return 1
	}

	cmd := args[0]
	rest := args[1:]

	switch cmd {
	case "serve":
		if hasHelpFlag(rest) {
			printServeHelp()
			return 0
		}
		return runServe(rest)
	case "ping":
		if hasHelpFlag(rest) {
			printPingHelp()
			return 0
		}
		return runPing(rest)
	case "config":
		return runConfigNoun(rest)
	case "history":
		return runHistoryNoun(rest)
	case "version":
		fmt.Printf("vicebridge version %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `vicebridge - client daemon for the VICE binary monitor

Usage:
  vicebridge <command> [flags]

Commands:
  serve             Connect to the monitor and serve the HTTP API in foreground
  ping              Connect once, query the emulator version and exit
  config check      Validate the resolved configuration
  config get <path> Read a single value from the resolved configuration
  config show       Print the resolved configuration (secrets redacted)
  history inspect   Show the recorded frames of one request
  history tail      List the most recent recorded frames
  version           Show version information
  help              Show this help message

Configuration is read from --config, $VICEBRIDGE_CONFIG,
~/.config/vicebridge/config.yaml, /etc/vicebridge/config.yaml or
./config.yaml, falling back to built-in defaults.
`)
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "get":
		if hasHelpFlag(actionArgs) {
			printConfigGetHelp()
			return 0
		}
		return runConfigGet(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	_, source, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config check FAILED: %v\n", err)
		return 1
	}
	fmt.Printf("Config check PASSED (%s)\n", source)
	return 0
}

func runConfigGet(args []string) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")

	// Accept the path before or after flags.
	var path string
	var flagArgs []string
	for _, arg := range args {
		if path == "" && len(arg) > 0 && arg[0] != '-' && !isFlagValue(flagArgs) {
			path = arg
			continue
		}
		flagArgs = append(flagArgs, arg)
	}
	if err := fs.Parse(flagArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "Usage: vicebridge config get <path> [--config PATH] [--json]")
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	val, err := cfg.GetPath(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(val, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Printf("%v\n", val)
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	data, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Marshal error: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

// loadConfig resolves the configuration: an explicit path, then discovery,
// then defaults. source describes where it came from.
func loadConfig(configPath string) (cfg *config.Config, source string, err error) {
	if configPath == "" {
		configPath, err = config.Discover()
		if err != nil {
			return nil, "", err
		}
	}
	if configPath == "" {
		return config.Defaults(), "defaults", nil
	}
	cfg, err = config.Load(configPath)
	if err != nil {
		return nil, "", err
	}
	return cfg, configPath, nil
}

// isFlagValue reports whether the next argument is the value of a
// preceding string flag such as --config.
func isFlagValue(prev []string) bool {
	if len(prev) == 0 {
		return false
	}
	last := prev[len(prev)-1]
	return last == "--config" || last == "-config"
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printConfigNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: vicebridge config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, get, show")
}

func printServeHelp() {
	fmt.Println("Usage: vicebridge serve [--config PATH] [--port N]")
	fmt.Println("Keep a session with the monitor and serve the HTTP API until interrupted.")
}

func printPingHelp() {
	fmt.Println("Usage: vicebridge ping [--config PATH] [--host HOST] [--port N] [--timeout DURATION]")
	fmt.Println("Connect to the monitor, send Ping and Info, print the emulator version.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: vicebridge config check [--config PATH]")
	fmt.Println("Load and validate the configuration.")
}

func printConfigGetHelp() {
	fmt.Println("Usage: vicebridge config get <path> [--config PATH] [--json]")
	fmt.Println("Read a single value from the resolved configuration.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: vicebridge config show [--config PATH]")
	fmt.Println("Print the resolved configuration with secrets redacted.")
}
