package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sqlscout/sqlscout/internal/errors"
	"github.com/sqlscout/sqlscout/internal/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Manage the schema snapshot",
}

var schemaLoadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Validate a schema snapshot document and install it",
	Long: `Load validates a schema snapshot JSON document (tables, columns, keys,
relationships, row counts) and installs it as the active snapshot the
index builds from on each invocation.`,
	Args: cobra.ExactArgs(1),
	RunE: runSchemaLoad,
}

var schemaShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Summarize the active schema snapshot",
	Args:  cobra.NoArgs,
	RunE:  runSchemaShow,
}

func init() {
	schemaCmd.AddCommand(schemaLoadCmd)
	schemaCmd.AddCommand(schemaShowCmd)
	rootCmd.AddCommand(schemaCmd)
}

func runSchemaLoad(_ *cobra.Command, args []string) error {
	cfg, err := loadRuntimeConfig()
	if err != nil {
		return err
	}

	snapshot, err := schema.LoadFile(args[0])
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeInput, "schema snapshot rejected")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeInput, "failed to read snapshot file")
	}

	if err := os.WriteFile(cfg.Database.SchemaPath, data, 0644); err != nil {
		return errors.Wrap(err, errors.ErrTypeConfig, "failed to install snapshot")
	}

	columns := 0
	for i := range snapshot.Tables {
		columns += len(snapshot.Tables[i].Columns)
	}

	fmt.Printf("Installed schema snapshot: %d table(s), %d column(s)\n",
		len(snapshot.Tables), columns)
	fmt.Printf("Path: %s\n", cfg.Database.SchemaPath)

	return nil
}

func runSchemaShow(_ *cobra.Command, _ []string) error {
	cfg, err := loadRuntimeConfig()
	if err != nil {
		return err
	}

	snapshot, err := loadSnapshot(cfg)
	if err != nil {
		return err
	}

	if snapshot.Database != "" {
		fmt.Printf("Database: %s\n", snapshot.Database)
	}

	for i := range snapshot.Tables {
		table := &snapshot.Tables[i]

		fmt.Printf("\n%s (%d rows, %d columns)\n", table.Name, table.RowCount, len(table.Columns))

		for _, col := range table.Columns {
			nullable := ""
			if col.Nullable {
				nullable = " null"
			}

			fmt.Printf("  %-24s %s%s\n", col.Name, col.Type, nullable)
		}

		for _, rel := range table.Relations {
			fmt.Printf("  -> %s.%s = %s.%s\n",
				table.Name, rel.SourceColumn, rel.TargetTable, rel.TargetColumn)
		}
	}

	return nil
}
