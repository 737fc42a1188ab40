package retrieval

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sqlscout/sqlscout/internal/embedding"
	"github.com/sqlscout/sqlscout/internal/exemplar"
	"github.com/sqlscout/sqlscout/internal/index"
	"github.com/sqlscout/sqlscout/internal/schema"
)

func testGeneration(t *testing.T) *index.Generation {
	t.Helper()

	snapshot, err := schema.Load(strings.NewReader(`{
		"database": "erp",
		"tables": [
			{
				"name": "po_mstr",
				"description": "Purchase order master",
				"row_count": 52000,
				"columns": [
					{"name": "po_nbr", "type": "varchar", "description": "Purchase order number"},
					{"name": "po_vend", "type": "varchar", "description": "Vendor code"},
					{"name": "po_ord_date", "type": "date", "description": "Order date"}
				],
				"relations": [
					{"source_column": "po_vend", "target_table": "vd_mstr", "target_column": "vd_addr"}
				]
			},
			{
				"name": "vd_mstr",
				"description": "Vendor master",
				"row_count": 480,
				"columns": [
					{"name": "vd_addr", "type": "varchar", "description": "Vendor address code"},
					{"name": "vd_name", "type": "varchar", "description": "Vendor name"}
				]
			}
		]
	}`))
	if err != nil {
		t.Fatalf("schema.Load() error = %v", err)
	}

	ix := index.New(embedding.NewHashProvider(256))
	if _, err := ix.Build(context.Background(), snapshot); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	generation, ok := ix.Current()
	if !ok {
		t.Fatal("expected a generation")
	}

	return generation
}

func testStore(t *testing.T) *exemplar.Store {
	t.Helper()

	store, err := exemplar.Open(context.Background(),
		filepath.Join(t.TempDir(), "store.db"), embedding.NewHashProvider(256))
	if err != nil {
		t.Fatalf("exemplar.Open() error = %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })

	_, err = store.Add(context.Background(), exemplar.Exemplar{
		Kind:            exemplar.KindQuestionSQL,
		NaturalLanguage: "Show purchase orders with vendor names",
		SQLText:         "SELECT TOP 10 po_nbr, vd_name FROM po_mstr JOIN vd_mstr ON po_vend = vd_addr",
		Tags:            []string{"purchasing"},
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	return store
}

func TestAssembleBasics(t *testing.T) {
	assembler := New(testStore(t), DefaultConfig())
	generation := testGeneration(t)

	assembled := assembler.Assemble(context.Background(), generation,
		"top 5 purchase orders with their vendors", nil)

	if assembled.Empty() {
		t.Fatal("expected schema fragments for a purchasing question")
	}

	if assembled.Chars > assembled.Budget {
		t.Errorf("packed %d chars into a %d budget", assembled.Chars, assembled.Budget)
	}

	rendered := assembled.Render()

	if !strings.Contains(rendered, "Schema:") {
		t.Error("rendered context should carry a schema section")
	}

	if !strings.Contains(rendered, "Q: Show purchase orders with vendor names") {
		t.Errorf("rendered context should carry the exemplar:\n%s", rendered)
	}
}

func TestAssembleRespectsBudget(t *testing.T) {
	config := DefaultConfig()
	config.Budget = 200

	assembler := New(nil, config)
	generation := testGeneration(t)

	assembled := assembler.Assemble(context.Background(), generation,
		"purchase orders with vendors", nil)

	if assembled.Chars > 200 {
		t.Errorf("packed %d chars into a 200 budget", assembled.Chars)
	}

	if len(assembled.Items) == 0 {
		t.Error("a 200-char budget should still fit the top fragment")
	}
}

func TestAssembleDedupePreferColumns(t *testing.T) {
	assembler := New(nil, DefaultConfig())
	generation := testGeneration(t)

	assembled := assembler.Assemble(context.Background(), generation,
		"po_mstr purchase order columns po_nbr po_vend", nil)

	var sawTableSummary bool

	var sawColumns bool

	for _, item := range assembled.Items {
		if item.Kind != ItemFragment || !strings.EqualFold(item.Fragment.SourceTable, "po_mstr") {
			continue
		}

		switch item.Fragment.Kind {
		case schema.KindTable:
			sawTableSummary = true
		case schema.KindColumn:
			sawColumns = true
		}
	}

	if !sawColumns {
		t.Fatal("expected po_mstr column fragments")
	}

	if sawTableSummary {
		t.Error("table summary should be dropped when its columns are present")
	}
}

func TestAssembleDedupePreferTables(t *testing.T) {
	config := DefaultConfig()
	config.PreferColumns = false

	assembler := New(nil, config)
	generation := testGeneration(t)

	assembled := assembler.Assemble(context.Background(), generation,
		"po_mstr purchase order columns po_nbr po_vend", nil)

	for _, item := range assembled.Items {
		if item.Kind == ItemFragment &&
			item.Fragment.Kind == schema.KindColumn &&
			strings.EqualFold(item.Fragment.SourceTable, "po_mstr") {
			t.Error("column fragments should be dropped when the table summary is kept")
		}
	}
}

func TestAssembleFeedbackFirst(t *testing.T) {
	assembler := New(nil, DefaultConfig())
	generation := testGeneration(t)

	assembled := assembler.Assemble(context.Background(), generation,
		"vendors", []string{`prior attempt referenced unknown column "vd_phone"`})

	if len(assembled.Items) == 0 || assembled.Items[0].Kind != ItemFeedback {
		t.Fatal("feedback must be the first context item")
	}

	rendered := assembled.Render()
	if !strings.HasPrefix(rendered, "Warning: prior attempt referenced unknown column") {
		t.Errorf("feedback should lead the rendered context:\n%s", rendered)
	}
}

func TestAssembleNoMatches(t *testing.T) {
	assembler := New(nil, DefaultConfig())
	generation := testGeneration(t)

	assembled := assembler.Assemble(context.Background(), generation,
		"spaceship telemetry quaternion drift", nil)

	if !assembled.Empty() {
		t.Errorf("unrelated question should assemble an empty context, got %d schema hits",
			assembled.SchemaHits)
	}
}

func TestAssembleIdempotent(t *testing.T) {
	assembler := New(testStore(t), DefaultConfig())
	generation := testGeneration(t)

	first := assembler.Assemble(context.Background(), generation,
		"purchase orders with vendors", nil)
	second := assembler.Assemble(context.Background(), generation,
		"purchase orders with vendors", nil)

	firstIDs := first.FragmentIDs()
	secondIDs := second.FragmentIDs()

	if len(firstIDs) != len(secondIDs) {
		t.Fatalf("fragment sets differ in size: %d vs %d", len(firstIDs), len(secondIDs))
	}

	for i := range firstIDs {
		if firstIDs[i] != secondIDs[i] {
			t.Errorf("fragment order differs at %d: %s vs %s", i, firstIDs[i], secondIDs[i])
		}
	}
}
