package cli

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/openrx-networks/rxcred/internal/config"
	"github.com/openrx-networks/rxcred/internal/logger"
	"github.com/openrx-networks/rxcred/internal/version"
)

var (
	cfg       *config.CLIEnvironment
	appLogger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:               "rxcred",
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	Short:             "Prescription credential CLI",
	Long:              `rxcred signs and verifies prescription credentials offline`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.NewCLIConfig()
		if err != nil {
			log.Printf("failed to load configuration: %v", err.Error())
			return err
		}

		appLogger = logger.InitLogger(logger.ParseLogLevel(cfg.LogLevel), cfg.Environment)
		return nil
	},
}

func Execute() {
	v := version.Get()
	rootCmd.Version = fmt.Sprintf("%s (built %s, commit %s)", v.Version, v.BuildDate, v.GitCommit)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(issueCmd)
	rootCmd.AddCommand(verifyCmd)
}
