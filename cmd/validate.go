package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sqlscout/sqlscout/internal/generate"
	"github.com/sqlscout/sqlscout/internal/validate"
)

var validateAllowUnbounded bool

var validateCmd = &cobra.Command{
	Use:   "validate <sql>",
	Short: "Dry-run a statement through validation without executing it",
	Long: `Validate runs a statement through the same checks an engine-generated
candidate must pass: syntax, the SELECT/WITH allow-list, schema
reference resolution, scan bounds, and injection shapes. Nothing is
executed.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateAllowUnbounded, "allow-unbounded", false,
		"Permit full scans of large tables")

	rootCmd.AddCommand(validateCmd)
}

func runValidate(_ *cobra.Command, args []string) error {
	cfg, err := loadRuntimeConfig()
	if err != nil {
		return err
	}

	snapshot, err := loadSnapshot(cfg)
	if err != nil {
		return err
	}

	validator := validate.New(validate.Config{LargeTableRows: cfg.Engine.LargeTableRows})
	verdict := validator.Validate(
		&generate.Candidate{SQL: args[0], Attempt: 1},
		snapshot,
		validateAllowUnbounded,
	)

	if verdict.Accepted() {
		fmt.Println("accepted")

		if len(verdict.ReferencedTables) > 0 {
			fmt.Printf("tables:  %v\n", verdict.ReferencedTables)
		}

		if len(verdict.ReferencedColumns) > 0 {
			fmt.Printf("columns: %v\n", verdict.ReferencedColumns)
		}

		return nil
	}

	fmt.Println("rejected")

	for _, violation := range verdict.Violations {
		fmt.Printf("  %s: %s\n", violation.Kind, violation.Message)
	}

	return verdict.Err()
}
