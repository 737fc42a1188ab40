package schema

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Load decodes a snapshot document and prepares it for resolution.
func Load(r io.Reader) (*Snapshot, error) {
	var snapshot Snapshot
	if err := json.NewDecoder(r).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode schema snapshot: %w", err)
	}

	if err := snapshot.validate(); err != nil {
		return nil, err
	}

	snapshot.Normalize()

	return &snapshot, nil
}

// LoadFile loads a snapshot document from disk.
func LoadFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema snapshot: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// validate rejects documents that would leave the index inconsistent:
// duplicate or empty table names, empty tables, and relationships
// pointing at tables or columns the document itself does not define.
func (s *Snapshot) validate() error {
	if len(s.Tables) == 0 {
		return fmt.Errorf("schema snapshot has no tables")
	}

	seen := make(map[string]bool, len(s.Tables))
	columns := make(map[string]map[string]bool, len(s.Tables))

	for _, table := range s.Tables {
		name := strings.ToLower(table.Name)
		if name == "" {
			return fmt.Errorf("schema snapshot contains a table with no name")
		}

		if seen[name] {
			return fmt.Errorf("duplicate table %q in schema snapshot", table.Name)
		}

		seen[name] = true

		if len(table.Columns) == 0 {
			return fmt.Errorf("table %q has no columns", table.Name)
		}

		columns[name] = make(map[string]bool, len(table.Columns))
		for _, col := range table.Columns {
			if col.Name == "" {
				return fmt.Errorf("table %q contains a column with no name", table.Name)
			}

			columns[name][strings.ToLower(col.Name)] = true
		}
	}

	for _, table := range s.Tables {
		source := strings.ToLower(table.Name)
		for _, rel := range table.Relations {
			target := strings.ToLower(rel.TargetTable)
			if !seen[target] {
				return fmt.Errorf("table %q relation targets unknown table %q", table.Name, rel.TargetTable)
			}

			if !columns[source][strings.ToLower(rel.SourceColumn)] {
				return fmt.Errorf("table %q relation uses unknown source column %q", table.Name, rel.SourceColumn)
			}

			if !columns[target][strings.ToLower(rel.TargetColumn)] {
				return fmt.Errorf("table %q relation uses unknown target column %q on %q",
					table.Name, rel.TargetColumn, rel.TargetTable)
			}
		}
	}

	return nil
}
