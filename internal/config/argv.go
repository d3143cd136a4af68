package config

import (
	"errors"
	"strings"
	"unicode"
)

var (
	errUnterminatedQuote  = errors.New("unterminated quote")
	errUnterminatedEscape = errors.New("unterminated escape sequence")
)

// parseArgv splits a command line the way a POSIX shell would for plain
// words, quotes and backslash escapes. No expansion happens. A line that
// starts with # disables the command.
func parseArgv(line string) ([]string, error) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' {
		return nil, nil
	}

	var (
		words   []string
		word    strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			word.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped, inWord = true, true
		case quote != 0 && r == quote:
			quote = 0
		case quote != 0:
			word.WriteRune(r)
		case r == '\'' || r == '"':
			quote, inWord = r, true
		case unicode.IsSpace(r):
			if inWord {
				words = append(words, word.String())
				word.Reset()
				inWord = false
			}
		default:
			word.WriteRune(r)
			inWord = true
		}
	}

	switch {
	case escaped:
		return nil, errUnterminatedEscape
	case quote != 0:
		return nil, errUnterminatedQuote
	}
	if inWord {
		words = append(words, word.String())
	}
	return words, nil
}
