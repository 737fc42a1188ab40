package exemplar

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb" // DuckDB driver

	"github.com/sqlscout/sqlscout/internal/embedding"
	"github.com/sqlscout/sqlscout/internal/logging"
)

// Kind discriminates curated knowledge entries.
type Kind string

const (
	// KindQuestionSQL is a curated natural-language question with its
	// known-good SQL answer.
	KindQuestionSQL Kind = "question_sql"
	// KindDocumentation is a business-rule or domain note with no SQL.
	KindDocumentation Kind = "documentation"
)

// Exemplar is one curated entry. Created by administrators or offline
// tooling, read-only at request time.
type Exemplar struct {
	ID              string
	Kind            Kind
	NaturalLanguage string
	SQLText         string
	Tags            []string
	CreatedAt       time.Time
}

// Scored pairs an exemplar with its relevance to a query.
type Scored struct {
	Exemplar Exemplar
	Score    float64
}

// Store persists curated exemplars in a DuckDB file and keeps their
// embedding vectors in memory for retrieval. Adds are rare and
// administrative; queries are concurrent and read-only.
type Store struct {
	db       *sql.DB
	provider embedding.Provider

	mu      sync.RWMutex
	entries []Exemplar
	vectors [][]float32
}

// Open opens (or creates) the store at path and loads all entries.
func Open(ctx context.Context, path string, provider embedding.Provider) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	store := &Store{db: db, provider: provider}

	if err := store.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// load reads every persisted exemplar and its vector into memory.
func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, natural_language, sql_text, tags, embedding, created_at
		FROM exemplars ORDER BY created_at, id`)
	if err != nil {
		return fmt.Errorf("failed to load exemplars: %w", err)
	}
	defer rows.Close()

	var entries []Exemplar

	var vectors [][]float32

	for rows.Next() {
		var (
			entry         Exemplar
			sqlText       sql.NullString
			tagsJSON      sql.NullString
			embeddingJSON sql.NullString
		)

		if err := rows.Scan(&entry.ID, &entry.Kind, &entry.NaturalLanguage,
			&sqlText, &tagsJSON, &embeddingJSON, &entry.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan exemplar: %w", err)
		}

		entry.SQLText = sqlText.String

		if tagsJSON.Valid && tagsJSON.String != "" {
			if err := json.Unmarshal([]byte(tagsJSON.String), &entry.Tags); err != nil {
				return fmt.Errorf("failed to decode tags for exemplar %s: %w", entry.ID, err)
			}
		}

		var vector []float32
		if embeddingJSON.Valid && embeddingJSON.String != "" {
			if err := json.Unmarshal([]byte(embeddingJSON.String), &vector); err != nil {
				return fmt.Errorf("failed to decode embedding for exemplar %s: %w", entry.ID, err)
			}
		}

		entries = append(entries, entry)
		vectors = append(vectors, vector)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate exemplars: %w", err)
	}

	s.mu.Lock()
	s.entries = entries
	s.vectors = vectors
	s.mu.Unlock()

	logging.Infof("exemplar store loaded: %d entries", len(entries))

	return nil
}

// Add persists a new exemplar and makes it retrievable. The ID is
// assigned here; callers fill the rest.
func (s *Store) Add(ctx context.Context, entry Exemplar) (Exemplar, error) {
	if strings.TrimSpace(entry.NaturalLanguage) == "" {
		return Exemplar{}, fmt.Errorf("exemplar text is required")
	}

	switch entry.Kind {
	case KindQuestionSQL:
		if strings.TrimSpace(entry.SQLText) == "" {
			return Exemplar{}, fmt.Errorf("question_sql exemplar requires sql_text")
		}
	case KindDocumentation:
	default:
		return Exemplar{}, fmt.Errorf("unknown exemplar kind: %s", entry.Kind)
	}

	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now().UTC()

	vector, err := s.provider.Embed(ctx, entry.embedText())
	if err != nil {
		// Stored without a vector; retrieval degrades to lexical for
		// this entry rather than refusing the add.
		logging.Warnf("embedding failed for exemplar %s, stored without vector: %v", entry.ID, err)

		vector = nil
	}

	tagsJSON, _ := json.Marshal(entry.Tags)

	var embeddingJSON []byte
	if vector != nil {
		embeddingJSON, _ = json.Marshal(vector)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO exemplars (id, kind, natural_language, sql_text, tags, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.Kind), entry.NaturalLanguage, entry.SQLText,
		string(tagsJSON), string(embeddingJSON), entry.CreatedAt)
	if err != nil {
		return Exemplar{}, fmt.Errorf("failed to insert exemplar: %w", err)
	}

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.vectors = append(s.vectors, vector)
	s.mu.Unlock()

	return entry, nil
}

// ImportHTML converts an HTML document to markdown and stores it as a
// documentation exemplar.
func (s *Store) ImportHTML(ctx context.Context, html string, tags []string) (Exemplar, error) {
	markdown, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return Exemplar{}, fmt.Errorf("failed to convert HTML document: %w", err)
	}

	if strings.TrimSpace(markdown) == "" {
		return Exemplar{}, fmt.Errorf("HTML document converted to empty text")
	}

	return s.Add(ctx, Exemplar{
		Kind:            KindDocumentation,
		NaturalLanguage: markdown,
		Tags:            tags,
	})
}

// Query returns the top-k exemplars ranked by similarity to the text.
// Entries without vectors (or all entries when the query embedding
// fails) are ranked lexically.
func (s *Store) Query(ctx context.Context, text string, k int) ([]Scored, error) {
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	entries := s.entries
	vectors := s.vectors
	s.mu.RUnlock()

	if len(entries) == 0 {
		return nil, nil
	}

	var queryVector []float32

	if vector, err := s.provider.Embed(ctx, text); err != nil {
		logging.Warnf("query embedding failed, ranking exemplars lexically: %v", err)
	} else {
		queryVector = vector
	}

	queryTokens := embedding.Tokenize(text)

	var results []Scored

	for i, entry := range entries {
		var score float64

		if queryVector != nil && vectors[i] != nil {
			score = embedding.Cosine(queryVector, vectors[i])
		} else {
			score = lexicalScore(queryTokens, entry.embedText())
		}

		if score <= 0 {
			continue
		}

		results = append(results, Scored{Exemplar: entry, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}

		return results[i].Exemplar.ID < results[j].Exemplar.ID
	})

	if len(results) > k {
		results = results[:k]
	}

	return results, nil
}

// Count returns the number of stored exemplars.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// embedText is the text retrieval matches against: the question plus
// tags, and for question/SQL pairs the statement too, so table names in
// curated SQL contribute recall.
func (e Exemplar) embedText() string {
	parts := []string{e.NaturalLanguage}

	if e.SQLText != "" {
		parts = append(parts, e.SQLText)
	}

	if len(e.Tags) > 0 {
		parts = append(parts, strings.Join(e.Tags, " "))
	}

	return strings.Join(parts, "\n")
}

func lexicalScore(queryTokens []string, text string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}

	textTokens := embedding.Tokenize(text)
	if len(textTokens) == 0 {
		return 0
	}

	textSet := make(map[string]bool, len(textTokens))
	for _, token := range textTokens {
		textSet[token] = true
	}

	matched := 0

	seen := make(map[string]bool, len(queryTokens))
	for _, token := range queryTokens {
		if seen[token] {
			continue
		}

		seen[token] = true

		if textSet[token] {
			matched++
		}
	}

	union := len(seen) + len(textSet) - matched

	return float64(matched) / float64(union)
}
