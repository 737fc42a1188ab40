package index

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sqlscout/sqlscout/internal/embedding"
	"github.com/sqlscout/sqlscout/internal/errors"
	"github.com/sqlscout/sqlscout/internal/logging"
	"github.com/sqlscout/sqlscout/internal/schema"
)

// exactNameBoost is added when the query text contains a fragment's
// qualified name verbatim, so an exact column mention always surfaces
// even when similarity ranks it lower.
const exactNameBoost = 1.0

// ScoredFragment is a schema fragment with its relevance to a query.
type ScoredFragment struct {
	Fragment schema.Fragment
	Score    float64
}

// Generation is one immutable version of the index. Requests bind to a
// generation at start and query it for their whole lifetime; a rebuild
// never mutates a published generation.
type Generation struct {
	id        string
	snapshot  *schema.Snapshot
	fragments []schema.Fragment
	vectors   [][]float32 // nil when the build fell back to lexical ranking
	provider  embedding.Provider
	builtAt   time.Time
}

// ID returns the opaque generation identifier.
func (g *Generation) ID() string {
	return g.id
}

// Snapshot returns the schema snapshot this generation was built from.
func (g *Generation) Snapshot() *schema.Snapshot {
	return g.snapshot
}

// Lexical reports whether the generation ranks lexically because
// embedding computation failed or was disabled at build time.
func (g *Generation) Lexical() bool {
	return g.vectors == nil
}

// Index ranks schema fragments by similarity to free text. The current
// generation is swapped atomically on rebuild; concurrent readers keep
// the generation they loaded.
type Index struct {
	provider embedding.Provider
	current  atomic.Pointer[Generation]
}

// New creates an empty index. Build must publish a generation before
// Current returns one.
func New(provider embedding.Provider) *Index {
	return &Index{provider: provider}
}

// Build embeds every fragment of the snapshot into a fresh generation
// and publishes it atomically. If embedding fails for any fragment the
// generation is still published with lexical ranking only; a schema
// rebuild must never leave the engine without an index.
func (ix *Index) Build(ctx context.Context, snapshot *schema.Snapshot) (string, error) {
	if snapshot == nil {
		return "", errors.New(errors.ErrTypeInternal, "nil schema snapshot")
	}

	generation := &Generation{
		id:        uuid.New().String(),
		snapshot:  snapshot,
		fragments: snapshot.Fragments(),
		provider:  ix.provider,
		builtAt:   time.Now(),
	}

	vectors := make([][]float32, len(generation.fragments))

	for i, fragment := range generation.fragments {
		select {
		case <-ctx.Done():
			return "", errors.Wrap(ctx.Err(), errors.ErrTypeInternal, "index build canceled")
		default:
		}

		vector, err := ix.provider.Embed(ctx, fragment.Text())
		if err != nil {
			logging.Warnf("embedding failed during index build, generation %s falls back to lexical ranking: %v",
				generation.id, err)

			vectors = nil

			break
		}

		vectors[i] = vector
	}

	generation.vectors = vectors
	ix.current.Store(generation)

	logging.Infof("schema index generation %s published: %d fragments, lexical=%v",
		generation.id, len(generation.fragments), generation.Lexical())

	return generation.id, nil
}

// Current returns the published generation, or false before the first
// successful Build.
func (ix *Index) Current() (*Generation, bool) {
	generation := ix.current.Load()
	if generation == nil {
		return nil, false
	}

	return generation, true
}

// Query embeds the text and returns the top-k fragments by cosine
// similarity against the current generation. Falls back to lexical
// token-overlap ranking when embedding is unavailable.
func (ix *Index) Query(ctx context.Context, text string, k int) ([]ScoredFragment, error) {
	generation, ok := ix.Current()
	if !ok {
		return nil, errors.New(errors.ErrTypeInternal, "schema index has no generation; load a snapshot first")
	}

	return generation.Query(ctx, text, k), nil
}

// Query ranks this generation's fragments against the text. Never
// errors: embedding failure degrades to lexical ranking.
func (g *Generation) Query(ctx context.Context, text string, k int) []ScoredFragment {
	if k <= 0 || len(g.fragments) == 0 {
		return nil
	}

	var queryVector []float32

	if !g.Lexical() {
		vector, err := g.provider.Embed(ctx, text)
		if err != nil {
			logging.Warnf("query embedding failed, falling back to lexical ranking: %v", err)
		} else {
			queryVector = vector
		}
	}

	lowerText := strings.ToLower(text)
	queryTokens := embedding.Tokenize(text)

	results := make([]ScoredFragment, 0, len(g.fragments))

	for i, fragment := range g.fragments {
		var score float64

		if queryVector != nil {
			score = embedding.Cosine(queryVector, g.vectors[i])
		} else {
			score = overlapScore(queryTokens, fragment.Text())
		}

		if strings.Contains(lowerText, strings.ToLower(fragment.QualifiedName)) {
			score += exactNameBoost
		}

		if score <= 0 {
			continue
		}

		results = append(results, ScoredFragment{Fragment: fragment, Score: score})
	}

	// Descending score; ties break on qualified name so equal inputs
	// produce equal orderings.
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}

		return results[i].Fragment.QualifiedName < results[j].Fragment.QualifiedName
	})

	if len(results) > k {
		results = results[:k]
	}

	return results
}

// overlapScore is Jaccard overlap between the query tokens and the
// fragment text tokens.
func overlapScore(queryTokens []string, fragmentText string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}

	fragmentTokens := embedding.Tokenize(fragmentText)
	if len(fragmentTokens) == 0 {
		return 0
	}

	querySet := make(map[string]bool, len(queryTokens))
	for _, token := range queryTokens {
		querySet[token] = true
	}

	fragmentSet := make(map[string]bool, len(fragmentTokens))

	matched := 0

	for _, token := range fragmentTokens {
		if fragmentSet[token] {
			continue
		}

		fragmentSet[token] = true

		if querySet[token] {
			matched++
		}
	}

	union := len(querySet) + len(fragmentSet) - matched

	return float64(matched) / float64(union)
}
