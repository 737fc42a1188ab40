package schema

import (
	"strings"
	"time"
)

// Snapshot is a complete, versioned description of the target database's
// tables, columns, and keys at one point in time. It is the authoritative
// source the schema index is rebuilt from and the reference every
// validation resolves against. Snapshots are immutable once loaded.
type Snapshot struct {
	Database    string    `json:"database"`
	ExtractedAt time.Time `json:"extracted_at"`
	Tables      []Table   `json:"tables"`

	// byName is populated by Normalize for case-insensitive lookup.
	byName map[string]*Table
}

// Table represents a database table
type Table struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	RowCount    int64      `json:"row_count,omitempty"`
	Columns     []Column   `json:"columns"`
	PrimaryKey  []string   `json:"primary_key,omitempty"`
	Relations   []Relation `json:"relations,omitempty"`

	byColumn map[string]*Column
}

// Column represents a table column
type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Nullable    bool   `json:"nullable"`
	Description string `json:"description,omitempty"`
}

// Relation represents a foreign key or inferred relationship between
// two tables.
type Relation struct {
	SourceColumn string `json:"source_column"`
	TargetTable  string `json:"target_table"`
	TargetColumn string `json:"target_column"`
	Inferred     bool   `json:"inferred,omitempty"`
}

// Normalize builds the lookup maps. Must be called once after decoding
// and before any resolution; Load does this for callers.
func (s *Snapshot) Normalize() {
	s.byName = make(map[string]*Table, len(s.Tables))
	for i := range s.Tables {
		table := &s.Tables[i]
		table.byColumn = make(map[string]*Column, len(table.Columns))

		for j := range table.Columns {
			table.byColumn[strings.ToLower(table.Columns[j].Name)] = &table.Columns[j]
		}

		s.byName[strings.ToLower(table.Name)] = table
	}
}

// Table resolves a table name case-insensitively.
func (s *Snapshot) Table(name string) (*Table, bool) {
	t, ok := s.byName[strings.ToLower(name)]
	return t, ok
}

// HasTable reports whether the snapshot contains the named table.
func (s *Snapshot) HasTable(name string) bool {
	_, ok := s.Table(name)
	return ok
}

// Column resolves a column within a table case-insensitively.
func (t *Table) Column(name string) (*Column, bool) {
	c, ok := t.byColumn[strings.ToLower(name)]
	return c, ok
}

// HasColumn reports whether any table in the snapshot has the named
// column. Used to resolve unqualified column references.
func (s *Snapshot) HasColumn(name string) bool {
	lower := strings.ToLower(name)
	for i := range s.Tables {
		if _, ok := s.Tables[i].byColumn[lower]; ok {
			return true
		}
	}

	return false
}

// Large reports whether the table exceeds the row threshold and so
// requires a bound (WHERE/TOP/LIMIT/aggregation) to be queried.
func (t *Table) Large(threshold int64) bool {
	return threshold > 0 && t.RowCount >= threshold
}

// TableNames returns all table names in snapshot order.
func (s *Snapshot) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i := range s.Tables {
		names[i] = s.Tables[i].Name
	}

	return names
}
