package ocr

import (
	"strings"

	"golang.org/x/text/width"
)

// Models occasionally read stylized digits as look-alike letters. The map
// undoes the common confusions when a rule set expects digits.
var digitConfusions = map[rune]rune{
	'O': '0',
	'o': '0',
	'S': '5',
	's': '5',
	'B': '8',
	'I': '1',
	'l': '1',
}

const (
	// A corrected value is less trustworthy than a verbatim read.
	confusionPenalty    = 0.7
	confidenceFloor     = 0.1
	normalizedMaxLength = 32
)

// NormalizeQuery prepares a user-typed bib query for exact matching.
// Same width folding and trimming as stored values, no confusion
// mapping: the searcher knows their number.
func NormalizeQuery(value string) string {
	folded, _ := normalizeValue(value, false, false)
	return folded
}

// normalizeValue folds fullwidth characters to their ASCII forms, trims
// whitespace and optionally maps digit look-alikes. For digits-only rule
// sets any character still not a digit after the mapping is stripped, so
// a stray glyph around the number does not sink an otherwise good read.
// It reports whether the digit normalization changed the value.
func normalizeValue(value string, mapConfusions, digitsOnly bool) (string, bool) {
	folded := strings.TrimSpace(width.Fold.String(value))
	if !mapConfusions {
		return folded, false
	}

	mapped := strings.Map(func(r rune) rune {
		if d, ok := digitConfusions[r]; ok {
			return d
		}
		return r
	}, folded)

	if digitsOnly {
		mapped = strings.Map(func(r rune) rune {
			if r < '0' || r > '9' {
				return -1
			}
			return r
		}, mapped)
	}

	return mapped, mapped != folded
}
