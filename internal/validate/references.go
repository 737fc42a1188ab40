package validate

import (
	"sort"
	"strings"

	"github.com/sqlscout/sqlscout/internal/schema"
)

// references accumulates the tables and columns a statement resolves
// to, keyed lowercase.
type references struct {
	tables  map[string]bool
	columns map[string]bool
}

func (r *references) tableNames() []string {
	return sortedKeys(r.tables)
}

func (r *references) columnNames() []string {
	return sortedKeys(r.columns)
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// resolveReferences checks every table and column identifier against
// the snapshot, case-insensitively. CTE names, derived table aliases,
// and output aliases are tracked as virtual relations and excluded
// from resolution. Returns partial references alongside the first
// violation so rejected verdicts still carry what did resolve.
func resolveReferences(tokens []token, snapshot *schema.Snapshot) (*references, *Violation) {
	refs := &references{
		tables:  make(map[string]bool),
		columns: make(map[string]bool),
	}

	virtual := make(map[string]bool)   // CTE names, derived and output aliases
	aliases := make(map[string]string) // alias -> physical table, lowercase
	skip := make(map[int]bool)         // token indexes consumed structurally

	collectVirtuals(tokens, virtual, skip)

	if violation := collectTables(tokens, snapshot, refs, virtual, aliases, skip); violation != nil {
		return refs, violation
	}

	for i, tok := range tokens {
		if tok.kind != tokenWord || skip[i] || sqlKeywords[tok.upper] {
			continue
		}

		// A word followed by an open paren is a function call.
		if next := nextToken(tokens, i); next != nil && next.kind == tokenPunct && next.text == "(" {
			continue
		}

		if sqlTypes[tok.upper] {
			continue
		}

		lower := strings.ToLower(tok.text)

		if virtual[lower] || aliases[lower] != "" {
			continue
		}

		if violation := resolveColumn(tok.text, snapshot, refs, virtual, aliases); violation != nil {
			return refs, violation
		}
	}

	return refs, nil
}

// collectVirtuals registers identifiers that name query-local
// relations or output columns rather than schema objects:
//
//	WITH cte AS (...)      the cte word
//	FROM (...) AS d        the d word
//	SELECT x AS total      the total word
func collectVirtuals(tokens []token, virtual map[string]bool, skip map[int]bool) {
	for i, tok := range tokens {
		if tok.kind != tokenWord {
			continue
		}

		if tok.upper == "AS" {
			if next := nextToken(tokens, i); next != nil && next.kind == tokenWord && !sqlKeywords[next.upper] {
				j := tokenIndex(tokens, i)
				virtual[strings.ToLower(next.text)] = true
				skip[j] = true
			}

			continue
		}

		if sqlKeywords[tok.upper] {
			continue
		}

		// word [ '(' cols ')' ] AS '(' introduces a CTE.
		j := i + 1
		if j < len(tokens) && tokens[j].kind == tokenPunct && tokens[j].text == "(" {
			j = matchParen(tokens, j)
		}

		if j+1 < len(tokens) &&
			tokens[j].kind == tokenWord && tokens[j].upper == "AS" &&
			tokens[j+1].kind == tokenPunct && tokens[j+1].text == "(" {
			virtual[strings.ToLower(tok.text)] = true
			skip[i] = true
		}

		// ')' word without AS is a derived table or expression alias.
		if i > 0 && tokens[i-1].kind == tokenPunct && tokens[i-1].text == ")" {
			virtual[strings.ToLower(tok.text)] = true
			skip[i] = true
		}
	}
}

// collectTables walks FROM and JOIN clauses, resolving each named
// relation against the snapshot or the virtual set and recording
// trailing aliases.
func collectTables(
	tokens []token,
	snapshot *schema.Snapshot,
	refs *references,
	virtual map[string]bool,
	aliases map[string]string,
	skip map[int]bool,
) *Violation {
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if tok.kind != tokenWord || (tok.upper != "FROM" && tok.upper != "JOIN") {
			continue
		}

		j := i + 1

		for {
			for j < len(tokens) && tokens[j].kind == tokenComment {
				j++
			}

			if j >= len(tokens) {
				break
			}

			// physical is empty for CTE references and derived tables.
			var physical string

			// Derived table: its alias is already registered.
			if tokens[j].kind == tokenPunct && tokens[j].text == "(" {
				j = matchParen(tokens, j)
			} else if tokens[j].kind == tokenWord {
				name := lastSegment(tokens[j].text)
				lower := strings.ToLower(name)

				if virtual[strings.ToLower(tokens[j].text)] || virtual[lower] {
					skip[j] = true
				} else if snapshot.HasTable(name) {
					refs.tables[lower] = true
					skip[j] = true
					physical = lower
				} else {
					return &Violation{
						Kind:    ViolationUnknownReference,
						Message: "unknown table: " + tokens[j].text,
					}
				}

				j++
			} else {
				break
			}

			// Optional alias, with or without AS.
			if j < len(tokens) && tokens[j].kind == tokenWord && tokens[j].upper == "AS" {
				j++
			}

			if j < len(tokens) && tokens[j].kind == tokenWord && !sqlKeywords[tokens[j].upper] &&
				!blockedKeywords[tokens[j].upper] {
				if physical != "" {
					lowerAlias := strings.ToLower(tokens[j].text)
					aliases[lowerAlias] = physical
					// The AS rule marked this word virtual before the
					// relation was known; the physical binding wins.
					delete(virtual, lowerAlias)
				} else {
					virtual[strings.ToLower(tokens[j].text)] = true
				}

				skip[j] = true
				j++
			}

			// Comma-separated FROM list.
			if tok.upper == "FROM" && j < len(tokens) &&
				tokens[j].kind == tokenPunct && tokens[j].text == "," {
				j++
				continue
			}

			break
		}
	}

	return nil
}

// resolveColumn checks one column identifier, qualified or bare.
func resolveColumn(
	text string,
	snapshot *schema.Snapshot,
	refs *references,
	virtual map[string]bool,
	aliases map[string]string,
) *Violation {
	parts := strings.Split(text, ".")
	column := parts[len(parts)-1]

	if len(parts) > 1 {
		qualifier := strings.ToLower(parts[len(parts)-2])

		// An alias bound to a physical table resolves against the
		// snapshot even when the same word was seen after AS. Columns
		// of CTEs and derived tables cannot be resolved.
		tableName := aliases[qualifier]
		if tableName == "" {
			if virtual[qualifier] {
				return nil
			}

			if !snapshot.HasTable(qualifier) {
				return &Violation{
					Kind:    ViolationUnknownReference,
					Message: "unknown table or alias: " + parts[len(parts)-2],
				}
			}

			tableName = qualifier
		}

		table, _ := snapshot.Table(tableName)
		if _, ok := table.Column(column); !ok {
			return &Violation{
				Kind:    ViolationUnknownReference,
				Message: "unknown column: " + text,
			}
		}

		refs.columns[tableName+"."+strings.ToLower(column)] = true

		return nil
	}

	// Bare column: resolve against the referenced tables first, then
	// the whole snapshot.
	for tableName := range refs.tables {
		table, ok := snapshot.Table(tableName)
		if !ok {
			continue
		}

		if _, ok := table.Column(column); ok {
			refs.columns[tableName+"."+strings.ToLower(column)] = true
			return nil
		}
	}

	if snapshot.HasColumn(column) {
		refs.columns[strings.ToLower(column)] = true
		return nil
	}

	return &Violation{
		Kind:    ViolationUnknownReference,
		Message: "unknown column: " + text,
	}
}

// sqlTypes are type names that appear bare inside CAST and CONVERT
// expressions and must not resolve as columns.
var sqlTypes = map[string]bool{
	"INT": true, "BIGINT": true, "SMALLINT": true, "TINYINT": true,
	"VARCHAR": true, "NVARCHAR": true, "CHAR": true, "NCHAR": true,
	"DATE": true, "DATETIME": true, "DATETIME2": true, "TIME": true,
	"DECIMAL": true, "NUMERIC": true, "FLOAT": true, "REAL": true,
	"BIT": true, "MONEY": true, "TEXT": true,
}

// matchParen returns the index just past the parenthesis that closes
// the one at open. Balance was verified by the syntax check.
func matchParen(tokens []token, open int) int {
	depth := 0

	for i := open; i < len(tokens); i++ {
		if tokens[i].kind != tokenPunct {
			continue
		}

		switch tokens[i].text {
		case "(":
			depth++
		case ")":
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}

	return len(tokens)
}

func nextToken(tokens []token, i int) *token {
	for j := i + 1; j < len(tokens); j++ {
		if tokens[j].kind == tokenComment {
			continue
		}

		return &tokens[j]
	}

	return nil
}

func tokenIndex(tokens []token, i int) int {
	for j := i + 1; j < len(tokens); j++ {
		if tokens[j].kind != tokenComment {
			return j
		}
	}

	return i
}

func lastSegment(text string) string {
	parts := strings.Split(text, ".")
	return parts[len(parts)-1]
}
