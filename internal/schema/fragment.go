package schema

import (
	"fmt"
	"strings"
)

// FragmentKind discriminates the retrievable units of schema knowledge.
type FragmentKind string

const (
	KindTable        FragmentKind = "table"
	KindColumn       FragmentKind = "column"
	KindRelationship FragmentKind = "relationship"
)

// Fragment is one retrievable unit of schema knowledge. Fragments are
// immutable once derived; a schema change regenerates the whole set.
type Fragment struct {
	ID            string
	Kind          FragmentKind
	QualifiedName string
	DataType      string
	Description   string
	SourceTable   string
}

// Text renders the fragment for embedding and for the generation prompt.
func (f Fragment) Text() string {
	var sb strings.Builder

	switch f.Kind {
	case KindTable:
		sb.WriteString("Table: ")
		sb.WriteString(f.QualifiedName)
	case KindColumn:
		sb.WriteString("Column: ")
		sb.WriteString(f.QualifiedName)

		if f.DataType != "" {
			sb.WriteString(" (")
			sb.WriteString(f.DataType)
			sb.WriteString(")")
		}
	case KindRelationship:
		sb.WriteString("Join: ")
		sb.WriteString(f.QualifiedName)
	}

	if f.Description != "" {
		sb.WriteString(" - ")
		sb.WriteString(f.Description)
	}

	return sb.String()
}

// Fragments derives the complete fragment set for the snapshot: one
// table fragment per table (with its column list inlined so a table hit
// is self-contained), one fragment per column, and one per relationship.
func (s *Snapshot) Fragments() []Fragment {
	var fragments []Fragment

	for i := range s.Tables {
		table := &s.Tables[i]

		cols := make([]string, len(table.Columns))
		for j, c := range table.Columns {
			cols[j] = c.Name
		}

		desc := table.Description
		if desc != "" {
			desc += "; "
		}

		desc += "columns: " + strings.Join(cols, ", ")

		fragments = append(fragments, Fragment{
			ID:            "table:" + strings.ToLower(table.Name),
			Kind:          KindTable,
			QualifiedName: table.Name,
			Description:   desc,
			SourceTable:   table.Name,
		})

		for _, col := range table.Columns {
			fragments = append(fragments, Fragment{
				ID:            fmt.Sprintf("column:%s.%s", strings.ToLower(table.Name), strings.ToLower(col.Name)),
				Kind:          KindColumn,
				QualifiedName: table.Name + "." + col.Name,
				DataType:      col.Type,
				Description:   col.Description,
				SourceTable:   table.Name,
			})
		}

		for _, rel := range table.Relations {
			qualified := fmt.Sprintf("%s.%s = %s.%s",
				table.Name, rel.SourceColumn, rel.TargetTable, rel.TargetColumn)

			desc := ""
			if rel.Inferred {
				desc = "inferred relationship"
			}

			fragments = append(fragments, Fragment{
				ID: fmt.Sprintf("rel:%s.%s->%s.%s",
					strings.ToLower(table.Name), strings.ToLower(rel.SourceColumn),
					strings.ToLower(rel.TargetTable), strings.ToLower(rel.TargetColumn)),
				Kind:          KindRelationship,
				QualifiedName: qualified,
				Description:   desc,
				SourceTable:   table.Name,
			})
		}
	}

	return fragments
}
