package engine

import "strings"

// tokenState tracks where the tokenizer is relative to quoting.
type tokenState int

const (
	stateBare tokenState = iota
	stateSingle
	stateDouble
)

// SplitCommand splits a command string into a program name and arguments.
// Whitespace separates tokens outside quotes. Single quotes suppress all
// escaping until the closing quote. Double quotes allow a backslash to
// escape the next character, as does a backslash in bare text. An
// unterminated quote consumes the rest of the string. An empty or
// all-whitespace input yields no tokens.
func SplitCommand(s string) []string {
	var tokens []string
	var cur strings.Builder
	inToken := false
	state := stateBare
	escaped := false

	flush := func() {
		if inToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			inToken = false
		}
	}

	for _, r := range s {
		if escaped {
			cur.WriteRune(r)
			inToken = true
			escaped = false
			continue
		}

		switch state {
		case stateBare:
			switch r {
			case '\\':
				escaped = true
			case '\'':
				state = stateSingle
				inToken = true
			case '"':
				state = stateDouble
				inToken = true
			case ' ', '\t', '\n':
				flush()
			default:
				cur.WriteRune(r)
				inToken = true
			}
		case stateSingle:
			if r == '\'' {
				state = stateBare
			} else {
				cur.WriteRune(r)
			}
		case stateDouble:
			switch r {
			case '\\':
				escaped = true
			case '"':
				state = stateBare
			default:
				cur.WriteRune(r)
			}
		}
	}

	// A trailing backslash escapes nothing; drop it. An unterminated quote
	// has already consumed to the end of the string.
	flush()

	return tokens
}
