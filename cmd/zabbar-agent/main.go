package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zabbar/zabbar/internal/config"
	"github.com/zabbar/zabbar/internal/logging"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "zabbar-agent",
	Short:   "Zabbar - Zabbix alert synchronization agent",
	Long:    `Zabbar polls a Zabbix server for active problems, summarizes material changes and publishes snapshots for local consumers`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runAgent()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Zabbar %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(ackCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAgent() {
	// Baseline logger for early startup; re-initialized once config is loaded.
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "zabbar",
	})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "zabbar",
		FilePath:  cfg.LogFile,
	})

	log.Info().
		Str("server", cfg.ServerIdentity).
		Dur("interval", cfg.PollInterval).
		Msg("Starting Zabbar sync agent")

	// The current config lives behind an atomic pointer so the watcher can
	// swap it while cycles read it.
	var current atomic.Pointer[config.Config]
	current.Store(cfg)

	deps, err := buildDeps(cfg, current.Load)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize agent")
	}
	defer deps.store.Close()

	if cfg.MetricsListenAddr != "" {
		startMetricsServer(cfg.MetricsListenAddr)
	}

	watcher, err := config.NewWatcher(func() {
		next, err := config.Load()
		if err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration, keeping previous")
			return
		}
		if err := next.Validate(); err != nil {
			log.Error().Err(err).Msg("Reloaded configuration invalid, keeping previous")
			return
		}
		prev := current.Load()
		if next.ServerURL != prev.ServerURL || next.StoreBackend != prev.StoreBackend {
			log.Warn().Msg("Server URL or store backend changed; restart required for that change")
		}
		current.Store(next)
		deps.agent.ApplyConfig()
		log.Info().Msg("Configuration reloaded")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create config watcher, .env changes will require restart")
	} else {
		if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start config watcher")
		}
		defer watcher.Stop()
	}

	deps.agent.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down...")
	deps.agent.Shutdown()
	log.Info().Msg("Agent stopped")
}
