package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kilnproject/kiln/pkg/config"
	"github.com/kilnproject/kiln/pkg/log"
	"github.com/kilnproject/kiln/pkg/worker"
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
	Use:   "kiln-worker",
	Short: "Kiln render worker agent",
	Long: `Kiln-worker runs on each render host. It heartbeats the
coordinator, pulls the jobs assigned to this host and drives the
renderer subprocess through start, progress, cancellation and timeout.

UNREAL_EXE and UNREAL_PROJECT must point at the renderer binary and
project; the process exits non-zero otherwise.`,
	Version: Version,
	RunE:    runWorker,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Kiln worker %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

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

func runWorker(cmd *cobra.Command, args []string) error {
	agent, err := worker.New(config.LoadWorker())
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		agent.Stop()
	}()

	agent.Run()
	return nil
}
