package index

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/sqlscout/sqlscout/internal/embedding"
	"github.com/sqlscout/sqlscout/internal/schema"
)

func loadSnapshot(t *testing.T, doc string) *schema.Snapshot {
	t.Helper()

	snapshot, err := schema.Load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("schema.Load() error = %v", err)
	}

	return snapshot
}

func erpSnapshot(t *testing.T) *schema.Snapshot {
	return loadSnapshot(t, `{
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
			},
			{
				"name": "wo_mstr",
				"description": "Work order master",
				"row_count": 91000,
				"columns": [
					{"name": "wo_nbr", "type": "varchar", "description": "Work order number"},
					{"name": "wo_status", "type": "varchar", "description": "Work order status"}
				]
			}
		]
	}`)
}

// failingProvider always errors, forcing the lexical fallback.
type failingProvider struct{}

func (failingProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("embedding backend down")
}

func (failingProvider) Dimensions() int { return 0 }
func (failingProvider) Name() string    { return "failing" }

func TestBuildAndQuery(t *testing.T) {
	ix := New(embedding.NewHashProvider(256))

	generationID, err := ix.Build(context.Background(), erpSnapshot(t))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if generationID == "" {
		t.Fatal("expected a generation id")
	}

	results, err := ix.Query(context.Background(), "vendor name for purchase orders", 10)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if len(results) == 0 {
		t.Fatal("expected results")
	}

	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Fatal("results must be ordered by descending score")
		}
	}

	// Vendor-related fragments should rank above work order fragments.
	topTables := map[string]bool{}
	for _, r := range results[:3] {
		topTables[r.Fragment.SourceTable] = true
	}

	if topTables["wo_mstr"] && !topTables["vd_mstr"] && !topTables["po_mstr"] {
		t.Errorf("work order fragments should not dominate a vendor question: %+v", results[:3])
	}
}

func TestQueryWithoutGeneration(t *testing.T) {
	ix := New(embedding.NewHashProvider(64))

	if _, err := ix.Query(context.Background(), "anything", 5); err == nil {
		t.Error("expected an error before the first Build")
	}
}

func TestExactNameSurfaces(t *testing.T) {
	ix := New(embedding.NewHashProvider(256))

	if _, err := ix.Build(context.Background(), erpSnapshot(t)); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	// The question names po_mstr.po_ord_date exactly; it must be the
	// top fragment regardless of semantic scores.
	results, err := ix.Query(context.Background(), "average of po_mstr.po_ord_date by month", 5)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if len(results) == 0 {
		t.Fatal("expected results")
	}

	if results[0].Fragment.QualifiedName != "po_mstr.po_ord_date" {
		t.Errorf("exact column mention should rank first, got %q", results[0].Fragment.QualifiedName)
	}
}

func TestLexicalFallback(t *testing.T) {
	ix := New(failingProvider{})

	if _, err := ix.Build(context.Background(), erpSnapshot(t)); err != nil {
		t.Fatalf("Build() must not fail when embedding is down: %v", err)
	}

	generation, ok := ix.Current()
	if !ok {
		t.Fatal("expected a published generation")
	}

	if !generation.Lexical() {
		t.Fatal("generation should be lexical after embedding failure")
	}

	results, err := ix.Query(context.Background(), "vendor name", 5)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if len(results) == 0 {
		t.Fatal("lexical ranking should still return results")
	}

	if results[0].Fragment.SourceTable != "vd_mstr" {
		t.Errorf("expected a vd_mstr fragment first, got %+v", results[0].Fragment)
	}
}

func TestQueryIdempotent(t *testing.T) {
	ix := New(embedding.NewHashProvider(256))

	if _, err := ix.Build(context.Background(), erpSnapshot(t)); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	first, _ := ix.Query(context.Background(), "top purchase orders with vendors", 10)
	second, _ := ix.Query(context.Background(), "top purchase orders with vendors", 10)

	if len(first) != len(second) {
		t.Fatalf("result sizes differ: %d vs %d", len(first), len(second))
	}

	for i := range first {
		if first[i].Fragment.ID != second[i].Fragment.ID {
			t.Errorf("position %d differs: %s vs %s", i, first[i].Fragment.ID, second[i].Fragment.ID)
		}
	}
}

func TestRebuildIsAtomic(t *testing.T) {
	ix := New(embedding.NewHashProvider(128))

	snapA := erpSnapshot(t)
	snapB := loadSnapshot(t, `{
		"database": "erp",
		"tables": [
			{
				"name": "inv_mstr",
				"description": "Inventory master",
				"columns": [
					{"name": "inv_part", "type": "varchar"},
					{"name": "inv_qty", "type": "int"}
				]
			}
		]
	}`)

	if _, err := ix.Build(context.Background(), snapA); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Readers must always observe fragments from exactly one snapshot,
	// never a mix across generations.
	for range 4 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for {
				select {
				case <-stop:
					return
				default:
				}

				generation, ok := ix.Current()
				if !ok {
					continue
				}

				results := generation.Query(context.Background(), "master", 50)

				sawA, sawB := false, false
				for _, r := range results {
					switch r.Fragment.SourceTable {
					case "inv_mstr":
						sawB = true
					case "po_mstr", "vd_mstr", "wo_mstr":
						sawA = true
					}
				}

				if sawA && sawB {
					t.Error("reader observed fragments from two generations")
					return
				}
			}
		}()
	}

	for i := range 20 {
		snapshot := snapA
		if i%2 == 1 {
			snapshot = snapB
		}

		if _, err := ix.Build(context.Background(), snapshot); err != nil {
			t.Fatalf("Build() error = %v", err)
		}
	}

	close(stop)
	wg.Wait()
}

func TestGenerationIDsUnique(t *testing.T) {
	ix := New(embedding.NewHashProvider(64))

	idA, err := ix.Build(context.Background(), erpSnapshot(t))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	idB, err := ix.Build(context.Background(), erpSnapshot(t))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if idA == idB {
		t.Error("rebuilds must produce distinct generation ids")
	}
}

func TestOverlapScore(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		fragment string
		positive bool
	}{
		{"full overlap", "vendor name", "Vendor name", true},
		{"partial overlap", "vendor purchase", "vendor master table", true},
		{"no overlap", "routing hours", "vendor master", false},
		{"empty query", "", "vendor", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := overlapScore(embedding.Tokenize(tt.query), tt.fragment)

			if tt.positive && score <= 0 {
				t.Errorf("expected positive score, got %f", score)
			}

			if !tt.positive && score != 0 {
				t.Errorf("expected zero score, got %f", score)
			}
		})
	}
}
