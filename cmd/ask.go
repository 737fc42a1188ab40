package cmd

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/sqlscout/sqlscout/internal/config"
	"github.com/sqlscout/sqlscout/internal/embedding"
	"github.com/sqlscout/sqlscout/internal/engine"
	"github.com/sqlscout/sqlscout/internal/errors"
	"github.com/sqlscout/sqlscout/internal/execute"
	"github.com/sqlscout/sqlscout/internal/exemplar"
	"github.com/sqlscout/sqlscout/internal/generate"
	"github.com/sqlscout/sqlscout/internal/index"
	"github.com/sqlscout/sqlscout/internal/logging"
	"github.com/sqlscout/sqlscout/internal/observe"
	"github.com/sqlscout/sqlscout/internal/retrieval"
	"github.com/sqlscout/sqlscout/internal/validate"
)

var (
	askRowLimit       int
	askTimeoutMS      int
	askAllowUnbounded bool
	askJSON           bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a natural language question and run the resulting SQL",
	Long: `Ask converts the question into a read-only SQL statement grounded in the
loaded schema snapshot, validates it, and executes it against the
configured database.

Examples:
  sqlscout ask "show me the top 5 purchase orders with their vendors"
  sqlscout ask --row-limit 20 "open orders by vendor"
  sqlscout ask --json "how many vendors are active"`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().IntVar(&askRowLimit, "row-limit", 0, "Maximum rows to return (0 = configured default)")
	askCmd.Flags().IntVar(&askTimeoutMS, "timeout-ms", 0, "Query timeout in milliseconds (0 = configured default)")
	askCmd.Flags().BoolVar(&askAllowUnbounded, "allow-unbounded", false, "Permit full scans of large tables")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Emit the full response as JSON")

	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadRuntimeConfig()
	if err != nil {
		return err
	}

	question := strings.TrimSpace(args[0])

	provider, err := newEmbeddingProvider(cfg)
	if err != nil {
		return err
	}

	snapshot, err := loadSnapshot(cfg)
	if err != nil {
		return err
	}

	ix := index.New(provider)
	if _, err := ix.Build(ctx, snapshot); err != nil {
		return errors.Wrap(err, errors.ErrTypeInternal, "failed to build schema index")
	}

	observe.IndexRebuilds.Inc()

	store, err := exemplar.Open(ctx, cfg.Database.StorePath, provider)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeConfig, "failed to open exemplar store")
	}
	defer store.Close()

	generator, err := generate.NewClient(generate.Config{
		Provider:      generate.Provider(cfg.Generator.Provider),
		Model:         cfg.Generator.Model,
		APIKey:        cfg.Generator.APIKey,
		BaseURL:       cfg.Generator.BaseURL,
		Timeout:       cfg.GeneratorTimeoutDuration(),
		Temperature:   cfg.Generator.Temperature,
		MaxTokens:     cfg.Generator.MaxTokens,
		MinConfidence: cfg.Generator.MinScore,
	})
	if err != nil {
		return err
	}

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeConfig, "failed to open target database")
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxConnections)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	backoff, err := time.ParseDuration(cfg.Engine.ExecuteBackoff)
	if err != nil {
		backoff = 200 * time.Millisecond
	}

	sink := observe.NewAuditSink(auditWriter(cfg), 256)
	defer sink.Close()

	if cfg.Engine.MetricsAddr != "" {
		go serveMetrics(cfg.Engine.MetricsAddr)
	}

	eng := engine.New(
		ix,
		retrieval.New(store, retrieval.Config{
			SchemaTopK:    cfg.Retrieval.SchemaTopK,
			ExemplarTopK:  cfg.Retrieval.ExemplarTopK,
			Budget:        cfg.Retrieval.ContextBudget,
			PreferColumns: true,
		}),
		generator,
		validate.New(validate.Config{LargeTableRows: cfg.Engine.LargeTableRows}),
		execute.New(db, execute.Config{
			Retries: cfg.Engine.ExecuteRetries,
			Backoff: backoff,
		}),
		sink,
		engine.Config{
			MaxAttempts:      cfg.Generator.MaxAttempts,
			MaxConcurrent:    cfg.Engine.MaxConcurrent,
			DefaultRowLimit:  cfg.Engine.DefaultRowLimit,
			MaxRowLimit:      cfg.Engine.MaxRowLimit,
			MaxQuestionChars: cfg.Engine.MaxQuestionChars,
			QueryTimeout:     cfg.QueryTimeoutDuration(),
		},
	)

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " thinking..."
	s.Writer = os.Stderr
	s.Start()

	response, err := eng.Ask(ctx, engine.Request{
		Question: question,
		Options: engine.Options{
			RowLimit:       askRowLimit,
			TimeoutMS:      askTimeoutMS,
			AllowUnbounded: askAllowUnbounded,
		},
	})

	s.Stop()

	if err != nil {
		return err
	}

	return displayResponse(response)
}

func newEmbeddingProvider(cfg *config.Config) (embedding.Provider, error) {
	timeout, err := time.ParseDuration(cfg.Embedding.Timeout)
	if err != nil {
		timeout = 5 * time.Second
	}

	provider, err := embedding.NewProvider(embedding.Config{
		Provider:   cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		BaseURL:    cfg.Embedding.BaseURL,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    timeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to create embedding provider")
	}

	return provider, nil
}

// auditWriter appends audit records next to the store, falling back to
// discard when the file cannot be opened.
func auditWriter(cfg *config.Config) io.Writer {
	path := strings.TrimSuffix(cfg.Database.StorePath, ".db") + "_audit.jsonl"

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logging.Warnf("audit log unavailable: %v", err)
		return io.Discard
	}

	return f
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observe.Handler())

	if err := http.ListenAndServe(addr, mux); err != nil {
		logging.Errorf("metrics listener failed: %v", err)
	}
}

func displayResponse(response *engine.Response) error {
	if askJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")

		return encoder.Encode(response)
	}

	if response.Status != "ok" {
		fmt.Printf("Failed (%s): %s\n", response.Error.Kind, response.Error.Message)

		if response.SQL != "" {
			fmt.Printf("Last candidate SQL: %s\n", response.SQL)
		}

		return errors.New(errors.ErrorType(response.Error.Kind), response.Error.Message)
	}

	fmt.Printf("SQL: %s\n", response.SQL)

	if response.Explanation != "" {
		fmt.Printf("Explanation: %s\n", response.Explanation)
	}

	fmt.Println()
	printTable(response)

	fmt.Printf("\n%d row(s) in %dms", response.RowCount, response.ElapsedMS)

	if response.Truncated {
		fmt.Print(" (truncated at row limit)")
	}

	fmt.Println()

	return nil
}

func printTable(response *engine.Response) {
	if len(response.Columns) == 0 {
		return
	}

	names := make([]string, len(response.Columns))
	widths := make([]int, len(response.Columns))

	for i, col := range response.Columns {
		names[i] = col.Name
		widths[i] = len(col.Name)
	}

	cells := make([][]string, len(response.Rows))

	for r, row := range response.Rows {
		cells[r] = make([]string, len(row))

		for c, value := range row {
			text := fmt.Sprintf("%v", value)
			if value == nil {
				text = "NULL"
			}

			cells[r][c] = text

			if c < len(widths) && len(text) > widths[c] {
				widths[c] = len(text)
			}
		}
	}

	for i, name := range names {
		fmt.Printf("%-*s  ", widths[i], name)
	}

	fmt.Println()

	for i := range names {
		fmt.Printf("%s  ", strings.Repeat("-", widths[i]))
	}

	fmt.Println()

	for _, row := range cells {
		for c, text := range row {
			if c < len(widths) {
				fmt.Printf("%-*s  ", widths[c], text)
			}
		}

		fmt.Println()
	}
}
