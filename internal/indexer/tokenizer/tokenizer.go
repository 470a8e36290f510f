// Package tokenizer turns transcript text into normalised tokens. Text is
// lower-cased and split into word runs and punctuation runs, so contractions
// and punctuation become separate tokens ("don't" -> don ' t). Word runs are
// reduced to their Porter2 stem.
package tokenizer

import (
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kljensen/snowball/english"

	apperrors "github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/errors"
)

// Reserved lists the characters the shard line format uses as separators.
// A token containing any of them can never be written to a shard.
const Reserved = "|;:,\n\r"

// Tokens returns the normalised tokens of text. The sequence is lazy and can
// be ranged over any number of times.
func Tokens(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for raw, isWord := range split(text) {
			token := strings.ToLower(raw)
			if isWord {
				token = stem(token)
			}
			if !yield(token) {
				return
			}
		}
	}
}

// Stream tokenises lines as one logical text. Positions are zero-based and
// keep counting across line boundaries.
func Stream(lines iter.Seq[string]) iter.Seq2[int, string] {
	return func(yield func(int, string) bool) {
		pos := 0
		for line := range lines {
			for token := range Tokens(line) {
				if !yield(pos, token) {
					return
				}
				pos++
			}
		}
	}
}

// Normalize lower-cases and stems a single query word.
func Normalize(word string) string {
	return stem(strings.ToLower(strings.TrimSpace(word)))
}

// Validate reports a DecodeError when text is not valid UTF-8.
func Validate(text string) error {
	if utf8.ValidString(text) {
		return nil
	}
	for i, r := range text {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(text[i:]); size <= 1 {
				return &apperrors.DecodeError{Offset: i}
			}
		}
	}
	return &apperrors.DecodeError{Offset: len(text)}
}

// IsReserved reports whether token cannot be stored in a shard.
func IsReserved(token string) bool {
	return token == "" || strings.ContainsAny(token, Reserved)
}

// split yields maximal runs of word characters and of punctuation, skipping
// whitespace. The bool is true for word runs.
func split(text string) iter.Seq2[string, bool] {
	return func(yield func(string, bool) bool) {
		start := -1
		inWord := false
		for i, r := range text {
			switch {
			case unicode.IsSpace(r):
				if start >= 0 {
					if !yield(text[start:i], inWord) {
						return
					}
					start = -1
				}
			case start < 0:
				start, inWord = i, isWordRune(r)
			case isWordRune(r) != inWord:
				if !yield(text[start:i], inWord) {
					return
				}
				start, inWord = i, isWordRune(r)
			}
		}
		if start >= 0 {
			yield(text[start:], inWord)
		}
	}
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func stem(word string) string {
	if word == "" {
		return word
	}
	return english.Stem(word, true)
}
