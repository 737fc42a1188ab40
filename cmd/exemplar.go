package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sqlscout/sqlscout/internal/errors"
	"github.com/sqlscout/sqlscout/internal/exemplar"
)

var (
	exemplarSQL  string
	exemplarTags []string
)

var exemplarCmd = &cobra.Command{
	Use:   "exemplar",
	Short: "Curate the example store that grounds generation",
}

var exemplarAddCmd = &cobra.Command{
	Use:   "add <question>",
	Short: "Add a curated question/SQL pair or a documentation note",
	Long: `Add stores a curated entry. With --sql the entry is a question/SQL pair;
without it the text is stored as a documentation note.

Examples:
  sqlscout exemplar add "open purchase orders" --sql "SELECT po_nbr FROM po_mstr WHERE po_stat = 'O'"
  sqlscout exemplar add "po_stat values: O=open, C=closed, X=cancelled" --tags purchasing`,
	Args: cobra.ExactArgs(1),
	RunE: runExemplarAdd,
}

var exemplarImportCmd = &cobra.Command{
	Use:   "import <html-file>",
	Short: "Import an HTML document as documentation",
	Long: `Import converts an HTML page (for example an exported wiki article about
business rules) to markdown and stores it as a documentation entry.`,
	Args: cobra.ExactArgs(1),
	RunE: runExemplarImport,
}

func init() {
	exemplarAddCmd.Flags().StringVar(&exemplarSQL, "sql", "", "Known-good SQL answering the question")
	exemplarAddCmd.Flags().StringSliceVar(&exemplarTags, "tags", nil, "Tags for the entry")
	exemplarImportCmd.Flags().StringSliceVar(&exemplarTags, "tags", nil, "Tags for the entry")

	exemplarCmd.AddCommand(exemplarAddCmd)
	exemplarCmd.AddCommand(exemplarImportCmd)
	rootCmd.AddCommand(exemplarCmd)
}

func runExemplarAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadRuntimeConfig()
	if err != nil {
		return err
	}

	provider, err := newEmbeddingProvider(cfg)
	if err != nil {
		return err
	}

	store, err := exemplar.Open(ctx, cfg.Database.StorePath, provider)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeConfig, "failed to open exemplar store")
	}
	defer store.Close()

	kind := exemplar.KindDocumentation
	if exemplarSQL != "" {
		kind = exemplar.KindQuestionSQL
	}

	entry, err := store.Add(ctx, exemplar.Exemplar{
		Kind:            kind,
		NaturalLanguage: args[0],
		SQLText:         exemplarSQL,
		Tags:            exemplarTags,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Stored %s exemplar %s (%d total)\n", entry.Kind, entry.ID, store.Count())

	return nil
}

func runExemplarImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadRuntimeConfig()
	if err != nil {
		return err
	}

	provider, err := newEmbeddingProvider(cfg)
	if err != nil {
		return err
	}

	store, err := exemplar.Open(ctx, cfg.Database.StorePath, provider)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeConfig, "failed to open exemplar store")
	}
	defer store.Close()

	html, err := os.ReadFile(args[0])
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeInput, "failed to read HTML file")
	}

	entry, err := store.ImportHTML(ctx, string(html), exemplarTags)
	if err != nil {
		return err
	}

	fmt.Printf("Imported documentation exemplar %s (%d total)\n", entry.ID, store.Count())

	return nil
}
