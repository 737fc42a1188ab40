package retrieval

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/sqlscout/sqlscout/internal/exemplar"
	"github.com/sqlscout/sqlscout/internal/index"
	"github.com/sqlscout/sqlscout/internal/logging"
	"github.com/sqlscout/sqlscout/internal/schema"
)

// ItemKind discriminates what an assembled context item carries.
type ItemKind string

const (
	ItemFragment ItemKind = "fragment"
	ItemExemplar ItemKind = "exemplar"
	ItemFeedback ItemKind = "feedback"
)

// Item is one entry of an assembled context, in prompt order.
type Item struct {
	Kind     ItemKind
	Fragment schema.Fragment
	Exemplar exemplar.Exemplar
	Feedback string
	Score    float64
}

// Context is the per-request retrieval result: ordered items packed
// into a character budget. Owned by the request that assembled it.
type Context struct {
	Items      []Item
	Budget     int
	Chars      int
	SchemaHits int
}

// Empty reports whether retrieval found no schema fragments at all.
// Generation against an empty context is suppressed upstream.
func (c *Context) Empty() bool {
	return c.SchemaHits == 0
}

// FragmentIDs returns the ids of the included schema fragments.
func (c *Context) FragmentIDs() []string {
	var ids []string

	for _, item := range c.Items {
		if item.Kind == ItemFragment {
			ids = append(ids, item.Fragment.ID)
		}
	}

	return ids
}

// Config controls assembly.
type Config struct {
	SchemaTopK   int
	ExemplarTopK int
	Budget       int // character ceiling for the packed context
	// PreferColumns keeps column fragments and drops the table-level
	// summary when both were retrieved for the same table. False keeps
	// the summary and drops its columns.
	PreferColumns bool
}

// DefaultConfig returns assembly defaults.
func DefaultConfig() Config {
	return Config{
		SchemaTopK:    40,
		ExemplarTopK:  5,
		Budget:        8000,
		PreferColumns: true,
	}
}

// Assembler composes bounded retrieval contexts from the schema index
// and the exemplar store.
type Assembler struct {
	store  *exemplar.Store
	config Config
}

// New creates an assembler. The store may be nil when no exemplar
// material exists.
func New(store *exemplar.Store, config Config) *Assembler {
	if config.SchemaTopK <= 0 {
		config.SchemaTopK = DefaultConfig().SchemaTopK
	}

	if config.ExemplarTopK <= 0 {
		config.ExemplarTopK = DefaultConfig().ExemplarTopK
	}

	if config.Budget <= 0 {
		config.Budget = DefaultConfig().Budget
	}

	return &Assembler{store: store, config: config}
}

// Assemble queries the bound index generation and the exemplar store in
// parallel, merges by descending relevance, deduplicates per table, and
// greedily packs into the budget. Feedback lines from a prior rejected
// attempt are placed first and always included.
func (a *Assembler) Assemble(
	ctx context.Context,
	generation *index.Generation,
	question string,
	feedback []string,
) *Context {
	var (
		wg        sync.WaitGroup
		fragments []index.ScoredFragment
		examples  []exemplar.Scored
	)

	wg.Add(1)

	go func() {
		defer wg.Done()

		fragments = generation.Query(ctx, question, a.config.SchemaTopK)
	}()

	if a.store != nil {
		wg.Add(1)

		go func() {
			defer wg.Done()

			results, err := a.store.Query(ctx, question, a.config.ExemplarTopK)
			if err != nil {
				logging.Warnf("exemplar retrieval failed, continuing with schema only: %v", err)
				return
			}

			examples = results
		}()
	}

	wg.Wait()

	fragments = a.dedupe(fragments)

	merged := make([]Item, 0, len(fragments)+len(examples))

	for _, sf := range fragments {
		merged = append(merged, Item{Kind: ItemFragment, Fragment: sf.Fragment, Score: sf.Score})
	}

	for _, se := range examples {
		merged = append(merged, Item{Kind: ItemExemplar, Exemplar: se.Exemplar, Score: se.Score})
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})

	assembled := &Context{Budget: a.config.Budget}

	for _, line := range feedback {
		item := Item{Kind: ItemFeedback, Feedback: line}
		assembled.Items = append(assembled.Items, item)
		assembled.Chars += len(item.text())
	}

	for _, item := range merged {
		cost := len(item.text())
		if assembled.Chars+cost > assembled.Budget {
			break
		}

		assembled.Items = append(assembled.Items, item)
		assembled.Chars += cost

		if item.Kind == ItemFragment {
			assembled.SchemaHits++
		}
	}

	return assembled
}

// dedupe drops redundant fragments for tables that were retrieved at
// both table and column granularity.
func (a *Assembler) dedupe(fragments []index.ScoredFragment) []index.ScoredFragment {
	hasColumns := make(map[string]bool)
	hasTable := make(map[string]bool)

	for _, sf := range fragments {
		table := strings.ToLower(sf.Fragment.SourceTable)

		switch sf.Fragment.Kind {
		case schema.KindColumn:
			hasColumns[table] = true
		case schema.KindTable:
			hasTable[table] = true
		}
	}

	result := fragments[:0]

	for _, sf := range fragments {
		table := strings.ToLower(sf.Fragment.SourceTable)

		switch sf.Fragment.Kind {
		case schema.KindTable:
			if a.config.PreferColumns && hasColumns[table] {
				continue
			}
		case schema.KindColumn:
			if !a.config.PreferColumns && hasTable[table] {
				continue
			}
		}

		result = append(result, sf)
	}

	return result
}

// text renders one item the way Render emits it; packing charges the
// same cost Render spends.
func (i Item) text() string {
	switch i.Kind {
	case ItemFragment:
		return i.Fragment.Text()
	case ItemExemplar:
		if i.Exemplar.Kind == exemplar.KindQuestionSQL {
			return "Q: " + i.Exemplar.NaturalLanguage + "\nSQL: " + i.Exemplar.SQLText
		}

		return "Note: " + i.Exemplar.NaturalLanguage
	case ItemFeedback:
		return "Warning: " + i.Feedback
	}

	return ""
}

// Render produces the prompt block: warnings first, then schema, then
// examples, each item on its own line.
func (c *Context) Render() string {
	var warnings, fragments, examples []string

	for _, item := range c.Items {
		switch item.Kind {
		case ItemFeedback:
			warnings = append(warnings, item.text())
		case ItemFragment:
			fragments = append(fragments, item.text())
		case ItemExemplar:
			examples = append(examples, item.text())
		}
	}

	var sections []string

	if len(warnings) > 0 {
		sections = append(sections, strings.Join(warnings, "\n"))
	}

	if len(fragments) > 0 {
		sections = append(sections, "Schema:\n"+strings.Join(fragments, "\n"))
	}

	if len(examples) > 0 {
		sections = append(sections, "Examples:\n"+strings.Join(examples, "\n\n"))
	}

	return strings.Join(sections, "\n\n")
}
