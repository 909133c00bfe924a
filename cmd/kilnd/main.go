package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kilnproject/kiln/pkg/api"
	"github.com/kilnproject/kiln/pkg/config"
	"github.com/kilnproject/kiln/pkg/coordinator"
	"github.com/kilnproject/kiln/pkg/events"
	"github.com/kilnproject/kiln/pkg/log"
	"github.com/kilnproject/kiln/pkg/storage"
	"github.com/kilnproject/kiln/pkg/watchdog"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kilnd",
	Short: "Kiln render-farm coordinator",
	Long: `Kilnd is the central coordinator of a Kiln render farm. It accepts
render job submissions, tracks workers via heartbeats, dispatches jobs
to idle workers and re-queues jobs that become stuck.`,
	Version: Version,
	RunE:    runCoordinator,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Kiln coordinator %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.Flags().String("host", "", "Bind host (overrides RENDER_SERVER_HOST)")
	rootCmd.Flags().Int("port", 0, "Bind port (overrides RENDER_SERVER_PORT)")
	rootCmd.Flags().String("data-dir", "", "State directory (overrides RENDER_SERVER_DATA_DIR)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func runCoordinator(cmd *cobra.Command, args []string) error {
	cfg := config.LoadCoordinator()
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Port = port
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if cfg.Debug {
		log.Warn("Running in DEBUG mode - do not use in production!")
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	coord := coordinator.New(store, broker, cfg.WorkerTimeout)

	wd := watchdog.New(coord, cfg.JobTimeout)
	wd.Start()
	defer wd.Stop()

	server := api.NewServer(coord, wd, broker, cfg.ProjectsDir, cfg.Debug)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(ctx)
}
