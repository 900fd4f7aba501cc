package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"

	"github.com/unison-os/actuation/internal/api"
	"github.com/unison-os/actuation/internal/audit"
	"github.com/unison-os/actuation/internal/config"
	"github.com/unison-os/actuation/internal/dispatch"
	"github.com/unison-os/actuation/internal/driver"
	"github.com/unison-os/actuation/internal/log"
	"github.com/unison-os/actuation/internal/policy"
	"github.com/unison-os/actuation/internal/storage"
	"github.com/unison-os/actuation/internal/telemetry"
	"github.com/unison-os/actuation/internal/tui/watch"
	"github.com/unison-os/actuation/internal/vdi"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)

	// Root aliases.
	case "start":
		return runStart(args)
	case "watch":
		return runWatch(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	case "help":
		printSystemNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
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
	case "lock", "hash-update":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	case "help":
		printConfigNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

// --- ACTION IMPLEMENTATIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("actuation gateway starting", "version", version, "listen", cfg.Service.Listen)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var auditor *audit.Store
	if cfg.Audit.Enabled {
		db, err := storage.OpenSQLite(ctx, cfg.Audit.Path)
		if err != nil {
			logger.Error("failed to open audit database", "path", cfg.Audit.Path, "error", err)
			return 1
		}
		defer db.Close()
		auditor = audit.NewStore(db)
		logger.Info("audit trail enabled", "path", cfg.Audit.Path)
	}

	publisher := telemetry.NewPublisher(cfg.Telemetry.BufferSize, buildSinks(cfg))
	gate := policy.NewGate(policy.Config{
		PolicyURL:         cfg.Policy.URL,
		AllowedRiskLevels: cfg.AllowedRiskLevels(),
	})

	// Registration order is routing order; the logging catch-all goes last.
	registry := driver.NewRegistry(
		driver.NewDesktopDriver(),
		driver.NewMockHomeDriver(),
		driver.NewMockRobotDriver(),
		driver.NewMqttDriver(cfg.MQTT.Broker),
		driver.NewLoggingDriver(true),
	)
	for _, d := range registry.Drivers() {
		logger.Info("driver registered", "driver", d.Name(), "max_risk", d.MaxRiskLevel())
	}

	dispatcher := dispatch.New(gate, registry, publisher, auditor, dispatch.Config{
		LoggingOnly:    cfg.Service.LoggingOnly,
		RequiredScopes: cfg.Policy.RequiredScopes,
	})

	proxy := vdi.NewProxy(vdi.Config{
		AgentURL:          cfg.VDI.AgentURL,
		AgentToken:        cfg.VDI.AgentToken,
		RetryAttempts:     cfg.VDI.RetryAttempts,
		BackoffBase:       cfg.VDI.BackoffBase,
		BackoffMax:        cfg.VDI.BackoffMax,
		RequestTimeout:    cfg.VDI.RequestTimeout,
		HeartbeatInterval: cfg.VDI.HeartbeatInterval,
	}, gate, publisher)

	apiServer := api.New(api.Config{
		Listen:       cfg.Service.Listen,
		RequireAuth:  cfg.Auth.Require,
		ServiceToken: cfg.Auth.ServiceToken,
		Tokens:       cfg.Auth.Tokens,
	}, dispatcher, publisher, proxy, auditor, log.WithComponent("api"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("api: %w", err)
		}
	}()

	logger.Info("actuation gateway running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
		// Give the server its shutdown window.
		time.Sleep(100 * time.Millisecond)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("actuation gateway stopped")
	return 0
}

// buildSinks maps configured sink URLs to telemetry receivers. The
// context-graph sink takes the actuation-specific path.
func buildSinks(cfg *config.Config) []telemetry.Sink {
	var sinks []telemetry.Sink
	if cfg.Telemetry.ContextURL != "" {
		sinks = append(sinks, telemetry.Sink{
			Name: "context", URL: cfg.Telemetry.ContextURL, Path: "/telemetry",
		})
	}
	if cfg.Telemetry.ContextGraphURL != "" {
		sinks = append(sinks, telemetry.Sink{
			Name: "context-graph", URL: cfg.Telemetry.ContextGraphURL, Path: "/telemetry/actuation",
		})
	}
	if cfg.Telemetry.RendererURL != "" {
		sinks = append(sinks, telemetry.Sink{
			Name: "renderer", URL: cfg.Telemetry.RendererURL, Path: "/telemetry",
		})
	}
	return sinks
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://localhost:8086", "Gateway API URL")
	token := fs.String("token", os.Getenv("ACTUATION_SERVICE_TOKEN"), "API bearer token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	m := watch.New(*apiURL, *token)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: actuation config check --config PATH")
		return 1
	}

	if _, err := config.Load(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration check FAILED: %v\n", err)
		return 1
	}

	fmt.Println("Configuration check PASSED.")
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: actuation config lock --config PATH")
		return 1
	}

	hash, err := config.WriteChecksum(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write checksum: %v\n", err)
		return 1
	}

	fmt.Printf("Updated integrity hash for %s\n", *configPath)
	fmt.Printf("blake3: %s\n", hash)
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(cfg, "", "  ")
		fmt.Println(string(data))
	} else {
		data, _ := yaml.Marshal(cfg)
		fmt.Print(string(data))
	}
	return 0
}

// --- VERSION ---

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: actuation version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("actuation %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalizedBuildTime, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalizedBuildTime
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}

	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

// --- HELP ---

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

func printUsage() {
	fmt.Print(`actuation - Risk-gated actuation gateway for the home OS

Usage:
  actuation <noun> <action> [flags]

Core Resources (Nouns):
  system    Gateway lifecycle and live monitoring
  config    Configuration validation and integrity

System Commands:
  system start      Start the gateway service in foreground
  system watch      Real-time action and telemetry TUI

Config Commands:
  config check      Validate syntax and integrity
  config lock       Authorize current state (update integrity hash)
  config show       Show the resolved configuration

General:
  --version         Show version information
  version           Show version information
  help              Show this help message

Use 'actuation <noun> help' for resource-specific flags.
`)
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: actuation system <action>")
	fmt.Fprintln(w, "Actions: start, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: actuation config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock, show")
}

func printSystemStartHelp() {
	fmt.Println("Usage: actuation system start [--config PATH]")
	fmt.Println("Start the gateway service in the foreground.")
	fmt.Println("With no --config, built-in defaults plus environment overrides apply.")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: actuation system watch [flags]")
	fmt.Println()
	fmt.Println("Real-time action and telemetry monitoring TUI.")
	fmt.Println("Shows gateway health, in-flight actions, and the lifecycle event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Gateway API URL (default: http://localhost:8086)")
	fmt.Println("  --token TOKEN    Bearer token (or ACTUATION_SERVICE_TOKEN env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Scroll actions")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: actuation config check --config PATH")
	fmt.Println("Validate configuration syntax and integrity.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: actuation config lock --config PATH")
	fmt.Println("Authorize current configuration state by regenerating its integrity hash.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: actuation config show [--config PATH] [--json]")
	fmt.Println("Show the fully resolved configuration.")
}
