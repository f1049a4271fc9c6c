package config

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	errOpenQuote  = errors.New("unterminated quote")
	errOpenEscape = errors.New("unterminated escape sequence")
)

// argvSplitter tokenizes a recognizer command line with shell-like quoting.
// Variable expansion and globbing are not supported.
type argvSplitter struct {
	words   []string
	word    strings.Builder
	inWord  bool
	quote   rune
	escaped bool
}

func (s *argvSplitter) feed(r rune) {
	if s.escaped {
		s.word.WriteRune(r)
		s.escaped = false
		return
	}
	if s.quote != 0 {
		if r == s.quote {
			s.quote = 0
		} else {
			s.word.WriteRune(r)
		}
		return
	}

	switch {
	case r == '\\':
		s.escaped, s.inWord = true, true
	case r == '"' || r == '\'':
		s.quote, s.inWord = r, true
	case unicode.IsSpace(r):
		s.end()
	default:
		s.word.WriteRune(r)
		s.inWord = true
	}
}

func (s *argvSplitter) end() {
	if !s.inWord {
		return
	}
	if s.word.Len() > 0 {
		s.words = append(s.words, s.word.String())
	}
	s.word.Reset()
	s.inWord = false
}

func (s *argvSplitter) result() ([]string, error) {
	switch {
	case s.escaped:
		return nil, errOpenEscape
	case s.quote != 0:
		return nil, errOpenQuote
	}
	s.end()
	return s.words, nil
}

// parseArgv splits a speech command string. A value starting with '#' is
// treated as commented out.
func parseArgv(input string) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" || strings.HasPrefix(input, "#") {
		return nil, nil
	}

	var s argvSplitter
	for _, r := range input {
		s.feed(r)
	}
	argv, err := s.result()
	if err != nil {
		return nil, fmt.Errorf("%w in command: %q", err, input)
	}
	return argv, nil
}
