package validate

import (
	"fmt"
	"strings"
	"unicode"
)

// tokenKind discriminates the lexical classes the checks care about.
type tokenKind int

const (
	tokenWord tokenKind = iota // keyword, identifier, or function name
	tokenNumber
	tokenString  // '...' literal, quotes stripped
	tokenPunct   // single punctuation rune
	tokenComment // -- or /* */ body
)

type token struct {
	kind  tokenKind
	text  string // original text
	upper string // uppercased text for word tokens
}

// tokenize splits a statement into SQL tokens. It understands single
// quoted literals with '' escapes, double quoted and [bracketed]
// identifiers, line and block comments, and dotted identifier chains
// (a.b.c comes back as one word token). Unterminated constructs
// return an error so the syntax check can reject them.
func tokenize(sql string) ([]token, error) {
	var tokens []token

	runes := []rune(sql)
	i := 0

	for i < len(runes) {
		r := runes[i]

		switch {
		case unicode.IsSpace(r):
			i++

		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			start := i
			for i < len(runes) && runes[i] != '\n' {
				i++
			}

			tokens = append(tokens, token{kind: tokenComment, text: string(runes[start:i])})

		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			start := i
			i += 2

			closed := false
			for i+1 < len(runes) {
				if runes[i] == '*' && runes[i+1] == '/' {
					i += 2
					closed = true

					break
				}
				i++
			}

			if !closed {
				return nil, fmt.Errorf("unterminated block comment")
			}

			tokens = append(tokens, token{kind: tokenComment, text: string(runes[start:i])})

		case r == '\'':
			i++
			var sb strings.Builder

			closed := false
			for i < len(runes) {
				if runes[i] == '\'' {
					if i+1 < len(runes) && runes[i+1] == '\'' {
						sb.WriteRune('\'')
						i += 2

						continue
					}

					i++
					closed = true

					break
				}

				sb.WriteRune(runes[i])
				i++
			}

			if !closed {
				return nil, fmt.Errorf("unterminated string literal")
			}

			tokens = append(tokens, token{kind: tokenString, text: sb.String()})

		case r == '[' || r == '"':
			closer := ']'
			if r == '"' {
				closer = '"'
			}

			i++
			start := i

			for i < len(runes) && runes[i] != closer {
				i++
			}

			if i >= len(runes) {
				return nil, fmt.Errorf("unterminated quoted identifier")
			}

			word := string(runes[start:i])
			i++

			// Quoted identifiers participate in dotted chains the same
			// way bare words do.
			word = continueDotted(runes, &i, word)
			tokens = append(tokens, token{kind: tokenWord, text: word, upper: strings.ToUpper(word)})

		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && isIdentRune(runes[i]) {
				i++
			}

			word := string(runes[start:i])
			word = continueDotted(runes, &i, word)
			tokens = append(tokens, token{kind: tokenWord, text: word, upper: strings.ToUpper(word)})

		case unicode.IsDigit(r):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}

			tokens = append(tokens, token{kind: tokenNumber, text: string(runes[start:i])})

		default:
			tokens = append(tokens, token{kind: tokenPunct, text: string(r)})
			i++
		}
	}

	return tokens, nil
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// continueDotted extends an identifier across '.' separators so that a
// qualified reference like po.po_vend or dbo.[po_mstr] lexes as one
// token.
func continueDotted(runes []rune, i *int, word string) string {
	for *i < len(runes) && runes[*i] == '.' {
		next := *i + 1
		if next >= len(runes) {
			break
		}

		r := runes[next]

		switch {
		case unicode.IsLetter(r) || r == '_':
			j := next
			for j < len(runes) && isIdentRune(runes[j]) {
				j++
			}

			word += "." + string(runes[next:j])
			*i = j

		case r == '[' || r == '"':
			closer := ']'
			if r == '"' {
				closer = '"'
			}

			j := next + 1
			start := j

			for j < len(runes) && runes[j] != closer {
				j++
			}

			if j >= len(runes) {
				return word
			}

			word += "." + string(runes[start:j])
			*i = j + 1

		default:
			return word
		}
	}

	return word
}
