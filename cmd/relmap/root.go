package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"relmap/internal/app"
	"relmap/internal/config"
	"relmap/internal/logging"
	"relmap/internal/observability"
)

var (
	// Global state set during PersistentPreRunE
	cfg            *config.Config
	logger         *logging.Logger
	loggerProvider *observability.LoggerProvider

	entitiesFile string
)

var rootCmd = &cobra.Command{
	Use:   "relmap",
	Short: "Relational row-set queries over declared entities",
	Long: `relmap - relational row-set queries

relmap compiles Django-style lookups such as currency__code=USD into SQL
joins over entities declared in a YAML file, and materializes the rows
into objects whose foreign keys load on demand.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help/completion/version commands
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
			return nil
		}
		return setup(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if loggerProvider != nil {
			return loggerProvider.Shutdown(cmd.Context(), logger.Logger)
		}
		return nil
	},
	SilenceUsage:  true, // Don't show usage on errors
	SilenceErrors: true, // main prints the error
}

func init() {
	config.DefineFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().StringVar(&entitiesFile, "entities", "", "entity definitions file (overrides schema.entities_file)")

	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(versionCmd)
}

func setup(cmd *cobra.Command) error {
	var err error
	cfg, err = config.Load(cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if entitiesFile != "" {
		cfg.Schema.EntitiesFile = entitiesFile
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = version
	}

	validationResult := cfg.Validate()
	for _, warn := range validationResult.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if validationResult.HasErrors() {
		for _, err := range validationResult.Errors {
			slog.Error("configuration error",
				slog.String("field", err.Field),
				slog.String("message", err.Message),
				slog.String("hint", err.Hint),
			)
		}
		return fmt.Errorf("configuration validation failed")
	}

	logger, loggerProvider, err = app.InitLogger(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	return nil
}
