// Package textnorm canonicalizes free-form repair notes and tag texts so that
// they can be compared for equality, containment and fuzzy similarity.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// DefaultKeywordLength is the minimum rune length of an extracted keyword.
const DefaultKeywordLength = 2

const brackets = "()（）[]【】<>{}"

// Hangul syllable block.
const (
	hangulFirst = '가'
	hangulLast  = '힣'
)

// Normalize lower-cases text, turns brackets and punctuation into spaces,
// collapses whitespace runs and trims the result.
//
// Input is NFC-composed first so that Hangul exported as conjoining jamo
// compares equal to precomposed syllables.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	lowered := cases.Lower(language.Und).String(norm.NFC.String(text))

	var b strings.Builder
	b.Grow(len(lowered))
	pendingSpace := false
	for _, r := range lowered {
		if isSeparator(r) {
			pendingSpace = true
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pendingSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// isSeparator reports whether r becomes whitespace after normalization.
func isSeparator(r rune) bool {
	if strings.ContainsRune(brackets, r) {
		return true
	}
	if unicode.IsSpace(r) {
		return true
	}
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	if r >= hangulFirst && r <= hangulLast {
		return true
	}
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

func isHangul(r rune) bool {
	return r >= hangulFirst && r <= hangulLast
}

// ExtractKeywords returns the maximal runs of Hangul syllables that are at
// least minLength runes long, deduplicated in order of first appearance.
// A non-positive minLength selects DefaultKeywordLength.
func ExtractKeywords(text string, minLength int) []string {
	if minLength <= 0 {
		minLength = DefaultKeywordLength
	}
	text = norm.NFC.String(text)

	var (
		out  []string
		seen = make(map[string]struct{})
		run  []rune
	)
	flush := func() {
		if len(run) >= minLength {
			kw := string(run)
			if _, ok := seen[kw]; !ok {
				seen[kw] = struct{}{}
				out = append(out, kw)
			}
		}
		run = run[:0]
	}
	for _, r := range text {
		if isHangul(r) {
			run = append(run, r)
			continue
		}
		flush()
	}
	flush()
	return out
}
