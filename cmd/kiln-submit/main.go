package main

import (
	"fmt"
	"os"

	"github.com/kilnproject/kiln/pkg/client"
	"github.com/kilnproject/kiln/pkg/config"
	"github.com/kilnproject/kiln/pkg/log"
	"github.com/kilnproject/kiln/pkg/types"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kiln-submit <project-config>",
	Short: "Submit render jobs from a project config file",
	Long: `Kiln-submit reads a project config (YAML or JSON) and posts one
render job per sequence to the coordinator at RENDER_SERVER_URL.`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
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

func runSubmit(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("submitter")

	project, err := config.LoadProject(args[0])
	if err != nil {
		return err
	}
	logger.Info().Str("project", project.Name).Msg("Submitting project")

	api := client.New(config.ServerURL())
	for _, seq := range project.Sequences {
		job, err := api.AddJob(types.Job{
			Name:        config.SequenceName(seq),
			UmapPath:    project.Map,
			UseqPath:    seq,
			UconfigPath: project.Config,
		})
		if err != nil {
			return fmt.Errorf("failed to submit %s: %w", seq, err)
		}
		logger.Info().Str("job_uid", job.UID).Str("name", job.Name).Msg("Submitted job")
	}

	logger.Info().Int("jobs", len(project.Sequences)).Msg("Submitted all sequences")
	return nil
}
