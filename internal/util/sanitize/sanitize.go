// Package sanitize cleans text read from user-supplied files: spreadsheet
// headers and config CSV records.
//
// It removes the characters spreadsheet tools leave behind:
//   - byte order marks and other invisible Unicode characters
//   - non-breaking spaces
//   - runs of whitespace inside a name
package sanitize

import (
	"regexp"
	"strings"
)

var invisibleChars = strings.NewReplacer(
	"\u200B", "", // Zero-width space
	"\u200C", "", // Zero-width non-joiner
	"\u200D", "", // Zero-width joiner
	"\uFEFF", "", // Zero-width no-break space (BOM)
	"\u00AD", "", // Soft hyphen
	"\u2060", "", // Word joiner
	"\u180E", "", // Mongolian vowel separator
	"\u00A0", " ", // No-break space
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Field removes invisible characters and surrounding whitespace.
func Field(field string) string {
	if field == "" {
		return field
	}
	return strings.TrimSpace(invisibleChars.Replace(field))
}

// Header cleans a column name: Field plus collapsing internal whitespace
// (including line breaks from wrapped header cells) to single spaces.
func Header(name string) string {
	name = Field(name)
	if name == "" {
		return name
	}
	return whitespaceRun.ReplaceAllString(name, " ")
}
