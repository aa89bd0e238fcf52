package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/abhisek/sheetsolver/internal/config"
	"github.com/abhisek/sheetsolver/internal/logging"
	"github.com/abhisek/sheetsolver/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "sheetsolver",
	Short: "Solve worksheet problems with vision and reasoning models",
	Long: "sheetsolver extracts the problems from a worksheet document, interprets\n" +
		"their diagrams, solves each one and optionally stores the results.",
	SilenceUsage: true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context, which aborts in-flight extraction and model calls.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("env-file", ".env", "Dotenv file loaded before the environment is read")
	rootCmd.PersistentFlags().String("db-driver", "", "Result store driver: sqlite or postgres (overrides SHEETSOLVER_DB_DRIVER)")
	rootCmd.PersistentFlags().String("db", "", "Database DSN or SQLite file path (overrides SHEETSOLVER_DB_DSN)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: json or console")

	rootCmd.AddCommand(solveCmd)
	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(llmCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig resolves the configuration: dotenv, then the config file, then
// the environment, then persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")

	cfg, err := config.Load(path, envFile)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}

	if v, _ := cmd.Flags().GetString("db-driver"); v != "" {
		cfg.Store.Driver = v
	}
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		cfg.Store.DSN = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.Log.Format = v
	}

	cfg.Log.Output = os.Stderr
	return cfg, logging.New(cfg.Log), nil
}

// openStore opens the configured result store.
func openStore(cmd *cobra.Command, cfg *config.Config, log zerolog.Logger) (*store.Store, error) {
	s, err := store.Open(cmd.Context(), cfg.Store, log)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return s, nil
}
