package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sqlscout/sqlscout/internal/config"
	"github.com/sqlscout/sqlscout/internal/errors"
	"github.com/sqlscout/sqlscout/internal/logging"
	"github.com/sqlscout/sqlscout/internal/schema"
)

var (
	flagDBDSN      string
	flagStorePath  string
	flagSchemaPath string
	flagLogLevel   string
	flagProvider   string
	flagModel      string
)

var rootCmd = &cobra.Command{
	Use:   "sqlscout",
	Short: "Ask natural language questions against a SQL database",
	Long: `sqlscout turns natural language questions into validated, read-only SQL.
It indexes a schema snapshot, retrieves the relevant tables and curated
examples for each question, asks a generation backend for a candidate
statement, and executes it only after the candidate passes syntactic,
allow-list, schema-reference, and scan-bound checks.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	ctx := context.Background()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDBDSN, "db-dsn", "", "Target database DSN")
	rootCmd.PersistentFlags().StringVar(&flagStorePath, "store-path", "", "Exemplar store path")
	rootCmd.PersistentFlags().StringVar(&flagSchemaPath, "schema-path", "", "Schema snapshot path")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagProvider, "provider", "", "Generation provider: openai, anthropic, ollama")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "", "Generation model name")
}

// loadRuntimeConfig resolves configuration from file, environment, and
// persistent flags, then initializes logging.
func loadRuntimeConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithOverrides(map[string]interface{}{
		"db-dsn":      flagDBDSN,
		"store-path":  flagStorePath,
		"schema-path": flagSchemaPath,
		"log-level":   flagLogLevel,
		"provider":    flagProvider,
		"model":       flagModel,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to load configuration")
	}

	cfg.ExpandAllPaths()

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to prepare directories")
	}

	if err := logging.InitializeLogger(cfg.Logging); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to initialize logging")
	}

	return cfg, nil
}

// loadSnapshot reads the schema snapshot the index builds from.
func loadSnapshot(cfg *config.Config) (*schema.Snapshot, error) {
	snapshot, err := schema.LoadFile(cfg.Database.SchemaPath)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return nil, errors.New(errors.ErrTypeConfig,
				fmt.Sprintf("no schema snapshot at %s", cfg.Database.SchemaPath)).
				WithSuggestion("run 'sqlscout schema load <file>' first")
		}

		return nil, err
	}

	return snapshot, nil
}
