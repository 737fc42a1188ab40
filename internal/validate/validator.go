package validate

import (
	"sort"
	"strings"

	"github.com/sqlscout/sqlscout/internal/errors"
	"github.com/sqlscout/sqlscout/internal/generate"
	"github.com/sqlscout/sqlscout/internal/schema"
)

// Outcome is the verdict decision. Callers branch only on this.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// ViolationKind names the check that rejected a candidate.
type ViolationKind string

const (
	ViolationSyntax           ViolationKind = "syntax_invalid"
	ViolationWrite            ViolationKind = "write_rejected"
	ViolationUnknownReference ViolationKind = "unknown_schema_reference"
	ViolationUnboundedScan    ViolationKind = "unbounded_scan"
	ViolationInjectionShape   ViolationKind = "injection_shape"
)

// Violation is one rejection reason with its human message. The
// message is what flows back into the retry context.
type Violation struct {
	Kind    ViolationKind
	Message string
}

// Verdict is the complete validation result for one candidate. It is
// immutable once produced.
type Verdict struct {
	Candidate         *generate.Candidate
	Outcome           Outcome
	Violations        []Violation
	ReferencedTables  []string
	ReferencedColumns []string
}

// Accepted reports whether the candidate may be executed.
func (v *Verdict) Accepted() bool {
	return v.Outcome == OutcomeAccepted
}

// Err converts a rejection into a typed error. Accepted verdicts
// return nil.
func (v *Verdict) Err() error {
	if v.Accepted() || len(v.Violations) == 0 {
		return nil
	}

	violation := v.Violations[0]

	switch violation.Kind {
	case ViolationSyntax:
		return errors.New(errors.ErrTypeSyntaxInvalid, violation.Message)
	case ViolationWrite:
		return errors.New(errors.ErrTypeWriteRejected, violation.Message)
	case ViolationUnknownReference:
		return errors.New(errors.ErrTypeUnknownReference, violation.Message)
	case ViolationUnboundedScan:
		return errors.New(errors.ErrTypeUnboundedScan, violation.Message)
	case ViolationInjectionShape:
		return errors.New(errors.ErrTypeWriteRejected, violation.Message)
	default:
		return errors.New(errors.ErrTypeInternal, violation.Message)
	}
}

// Config holds validator tuning.
type Config struct {
	// LargeTableRows marks tables at or above this row count as
	// requiring a WHERE/TOP/LIMIT bound or an aggregation. Zero
	// disables the check.
	LargeTableRows int64
}

// Validator checks generated SQL against a schema snapshot. It is
// stateless between calls and safe for concurrent use.
type Validator struct {
	config Config
}

func New(config Config) *Validator {
	return &Validator{config: config}
}

// blockedKeywords rejects every DDL/DML and procedural verb anywhere
// in the statement, whether leading or smuggled past the SELECT/WITH
// prefix gate.
var blockedKeywords = map[string]bool{
	"INSERT":   true,
	"UPDATE":   true,
	"DELETE":   true,
	"DROP":     true,
	"ALTER":    true,
	"CREATE":   true,
	"TRUNCATE": true,
	"MERGE":    true,
	"GRANT":    true,
	"REVOKE":   true,
	"EXEC":     true,
	"EXECUTE":  true,
	"CALL":     true,
	"INTO":     true,
}

// sqlKeywords are words never treated as schema identifiers.
var sqlKeywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "JOIN": true,
	"INNER": true, "LEFT": true, "RIGHT": true, "FULL": true,
	"OUTER": true, "CROSS": true, "ON": true, "AND": true,
	"OR": true, "NOT": true, "IN": true, "IS": true,
	"NULL": true, "AS": true, "GROUP": true, "BY": true,
	"ORDER": true, "HAVING": true, "TOP": true, "LIMIT": true,
	"OFFSET": true, "DISTINCT": true, "CASE": true, "WHEN": true,
	"THEN": true, "ELSE": true, "END": true, "LIKE": true,
	"BETWEEN": true, "EXISTS": true, "UNION": true, "ALL": true,
	"WITH": true, "ASC": true, "DESC": true, "OVER": true,
	"PARTITION": true, "FETCH": true, "NEXT": true, "FIRST": true,
	"ROWS": true, "ONLY": true, "PERCENT": true, "APPLY": true,
}

// Validate runs the check pipeline against a candidate, short
// circuiting on the first failure. The returned verdict is always
// complete.
func (v *Validator) Validate(
	candidate *generate.Candidate,
	snapshot *schema.Snapshot,
	allowUnbounded bool,
) *Verdict {
	verdict := &Verdict{
		Candidate: candidate,
		Outcome:   OutcomeRejected,
	}

	sql := strings.TrimSpace(candidate.SQL)
	sql = strings.TrimSuffix(sql, ";")

	if sql == "" {
		verdict.Violations = append(verdict.Violations, Violation{
			Kind:    ViolationSyntax,
			Message: "statement is empty",
		})

		return verdict
	}

	tokens, err := tokenize(sql)
	if err != nil {
		verdict.Violations = append(verdict.Violations, Violation{
			Kind:    ViolationSyntax,
			Message: err.Error(),
		})

		return verdict
	}

	// The write gate runs ahead of the prefix check so a statement
	// that leads with a write verb is reported as a write rejection,
	// not a syntax error.
	if violation := checkWrites(tokens); violation != nil {
		verdict.Violations = append(verdict.Violations, *violation)
		return verdict
	}

	if violation := checkSyntax(tokens); violation != nil {
		verdict.Violations = append(verdict.Violations, *violation)
		return verdict
	}

	refs, violation := resolveReferences(tokens, snapshot)
	verdict.ReferencedTables = refs.tableNames()
	verdict.ReferencedColumns = refs.columnNames()

	if violation != nil {
		verdict.Violations = append(verdict.Violations, *violation)
		return verdict
	}

	if !allowUnbounded {
		if violation := v.checkBounds(tokens, refs, snapshot); violation != nil {
			verdict.Violations = append(verdict.Violations, *violation)
			return verdict
		}
	}

	if violation := checkInjectionShapes(tokens); violation != nil {
		verdict.Violations = append(verdict.Violations, *violation)
		return verdict
	}

	verdict.Outcome = OutcomeAccepted

	return verdict
}

// checkSyntax verifies the statement shape: a SELECT or WITH prefix
// and balanced parentheses. Deeper syntax errors are left to the
// database engine, which sees only statements that pass every other
// gate.
func checkSyntax(tokens []token) *Violation {
	first := firstWord(tokens)
	if first == nil {
		return &Violation{Kind: ViolationSyntax, Message: "statement has no leading keyword"}
	}

	if first.upper != "SELECT" && first.upper != "WITH" {
		return &Violation{
			Kind:    ViolationSyntax,
			Message: "statement must start with SELECT or WITH, got " + first.text,
		}
	}

	depth := 0

	for _, tok := range tokens {
		if tok.kind != tokenPunct {
			continue
		}

		switch tok.text {
		case "(":
			depth++
		case ")":
			depth--
			if depth < 0 {
				return &Violation{Kind: ViolationSyntax, Message: "unbalanced parentheses"}
			}
		}
	}

	if depth != 0 {
		return &Violation{Kind: ViolationSyntax, Message: "unbalanced parentheses"}
	}

	return nil
}

func checkWrites(tokens []token) *Violation {
	for _, tok := range tokens {
		if tok.kind != tokenWord {
			continue
		}

		if blockedKeywords[tok.upper] {
			return &Violation{
				Kind:    ViolationWrite,
				Message: "write operation keyword not allowed: " + tok.text,
			}
		}

		if strings.HasPrefix(strings.ToLower(tok.text), "sp_") ||
			strings.HasPrefix(strings.ToLower(tok.text), "xp_") {
			return &Violation{
				Kind:    ViolationWrite,
				Message: "stored procedure reference not allowed: " + tok.text,
			}
		}
	}

	return nil
}

// checkBounds rejects statements that read a large table without any
// WHERE, TOP, LIMIT, or aggregation to bound the result.
func (v *Validator) checkBounds(tokens []token, refs *references, snapshot *schema.Snapshot) *Violation {
	if v.config.LargeTableRows <= 0 {
		return nil
	}

	var large []string

	for name := range refs.tables {
		table, ok := snapshot.Table(name)
		if ok && table.Large(v.config.LargeTableRows) {
			large = append(large, table.Name)
		}
	}

	if len(large) == 0 {
		return nil
	}

	aggregates := map[string]bool{
		"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true,
	}

	for _, tok := range tokens {
		if tok.kind != tokenWord {
			continue
		}

		switch {
		case tok.upper == "WHERE", tok.upper == "TOP", tok.upper == "LIMIT", tok.upper == "FETCH":
			return nil
		case aggregates[tok.upper], tok.upper == "GROUP":
			return nil
		}
	}

	sort.Strings(large)

	return &Violation{
		Kind: ViolationUnboundedScan,
		Message: "unbounded read of large table " + strings.Join(large, ", ") +
			" requires a WHERE, TOP, or LIMIT clause",
	}
}

// checkInjectionShapes rejects patterns the generation backend is
// never expected to emit: comments, statement chaining, string
// concatenation into literals, and constant tautologies.
func checkInjectionShapes(tokens []token) *Violation {
	for i, tok := range tokens {
		switch tok.kind {
		case tokenComment:
			return &Violation{Kind: ViolationInjectionShape, Message: "comments are not allowed"}

		case tokenPunct:
			if tok.text == ";" {
				return &Violation{Kind: ViolationInjectionShape, Message: "statement chaining is not allowed"}
			}

			if tok.text == "+" && i+1 < len(tokens) && tokens[i+1].kind == tokenString {
				return &Violation{
					Kind:    ViolationInjectionShape,
					Message: "string literal concatenation is not allowed",
				}
			}

		case tokenWord:
			if tok.upper != "OR" {
				continue
			}

			// OR <const> = <const> with equal operands is the classic
			// tautology shape.
			if i+3 < len(tokens) &&
				isConstant(tokens[i+1]) &&
				tokens[i+2].kind == tokenPunct && tokens[i+2].text == "=" &&
				isConstant(tokens[i+3]) &&
				tokens[i+1].text == tokens[i+3].text {
				return &Violation{
					Kind:    ViolationInjectionShape,
					Message: "constant tautology condition is not allowed",
				}
			}
		}
	}

	return nil
}

func isConstant(tok token) bool {
	return tok.kind == tokenNumber || tok.kind == tokenString
}

func firstWord(tokens []token) *token {
	for i := range tokens {
		if tokens[i].kind == tokenWord {
			return &tokens[i]
		}
	}

	return nil
}
