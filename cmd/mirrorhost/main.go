package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/mirrorhost/internal/api"
	"github.com/mattjoyce/mirrorhost/internal/bridge"
	"github.com/mattjoyce/mirrorhost/internal/config"
	"github.com/mattjoyce/mirrorhost/internal/doctor"
	"github.com/mattjoyce/mirrorhost/internal/events"
	"github.com/mattjoyce/mirrorhost/internal/history"
	"github.com/mattjoyce/mirrorhost/internal/lock"
	"github.com/mattjoyce/mirrorhost/internal/log"
	"github.com/mattjoyce/mirrorhost/internal/tui/watch"
	"github.com/mattjoyce/mirrorhost/internal/worker"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "serve":
		os.Exit(runServe(args))
	case "doctor":
		os.Exit(runDoctor(args))
	case "watch":
		os.Exit(runWatch(args))
	case "version":
		fmt.Printf("mirrorhost version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`mirrorhost - Host bridge for the narrative-mirror worker

Usage:
  mirrorhost <command> [flags]

Commands:
  serve     Start the worker and serve the HTTP API in foreground
  doctor    Validate configuration and the host environment
  watch     Follow a running instance's event feed in the terminal
  version   Show version information
  help      Show this help message

Use 'mirrorhost <command> -h' for command-specific flags.
`)
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "mirrorhost.yml", "Path to configuration file")
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
	logger.Info("mirrorhost starting", "version", version, "config", *configPath)

	pidLockPath := cfg.PIDLockPath()
	pidLock, err := lock.Acquire(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	journal, err := history.Open(ctx, cfg.History.Path)
	if err != nil {
		logger.Error("failed to open history journal", "path", cfg.History.Path, "error", err)
		return 1
	}
	defer journal.Close()
	logger.Info("history journal opened", "path", cfg.History.Path)

	hub := events.NewHub(256)

	supervisor := worker.New(worker.Config{
		Command:    cfg.Worker.Command,
		Args:       cfg.Worker.Args,
		Dir:        cfg.Worker.Dir,
		DBPath:     cfg.Worker.DBPath,
		ConfigPath: cfg.Worker.ConfigPath,
	})
	if err := supervisor.Start(); err != nil {
		logger.Error("failed to start worker", "command", cfg.Worker.Command, "error", err)
		return 1
	}
	defer supervisor.Terminate()
	logger.Info("worker started", "command", cfg.Worker.Command, "db", cfg.Worker.DBPath)

	client := bridge.New(supervisor, cfg.Worker.ConfigPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)

	if cfg.API.Enabled {
		apiServer := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.APIKey,
		}, client, hub, journal, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("mirrorhost running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("mirrorhost stopped")
	return 0
}

func runDoctor(args []string) int {
	var configPath string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "mirrorhost.yml", "Path to configuration file")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	if jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runWatch(args []string) int {
	var apiURL, apiKey string

	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	fs.StringVar(&apiURL, "url", "http://127.0.0.1:8787", "Base URL of a running mirrorhost API")
	fs.StringVar(&apiKey, "key", "", "API key, if the instance requires one")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if apiKey == "" {
		apiKey = os.Getenv("MIRRORHOST_API_KEY")
	}

	p := tea.NewProgram(watch.New(apiURL, apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Watch error: %v\n", err)
		return 1
	}
	return 0
}
