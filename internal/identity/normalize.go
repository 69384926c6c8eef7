// Package identity canonicalizes and matches free-text company names.
//
// Names extracted from delivery notes rarely agree with the spelling kept in
// the billing ledger: legal-entity markers come and go, honorifics are
// appended, phonetic readings are added in brackets, and full-width and
// half-width characters are mixed. Normalize reduces a name to a comparison
// key; Match and MatchIndex resolve a name against a list of candidates.
package identity

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	// Japanese legal-entity markers. Bracketed abbreviations are already in
	// their ASCII-parenthesis form after NFKC (㈱ and （株） both become (株)).
	jpLegalEntity = regexp.MustCompile(`株式会社|有限会社|合同会社|合資会社|合名会社|\((?:株|有|同|資|名)\)`)

	// English legal-entity markers, word-bounded, on lower-cased input. A bare
	// "co" only counts before "." or "," or at the end, so "co-op" survives.
	enLegalEntity = regexp.MustCompile(`\b(?:co\.?\s*,?\s*ltd|incorporated|corporation|corp|inc|ltd|llc)\b\.?|\bco(?:[.,]|\s*$)`)

	honorific = regexp.MustCompile(`御中|様|殿|各位`)

	// Phonetic readings and other annotations.
	bracketed = regexp.MustCompile(`[(【\[].*?[)】\]]`)

	separators = regexp.MustCompile(`[\s\p{Zs},.、。・]+`)
)

// Normalize returns the comparison key for a company name. It never fails;
// an input made only of removable tokens normalizes to "".
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}

	name := strings.ToLower(norm.NFKC.String(raw))
	name = jpLegalEntity.ReplaceAllString(name, "")
	name = honorific.ReplaceAllString(name, "")
	name = bracketed.ReplaceAllString(name, "")
	name = enLegalEntity.ReplaceAllString(name, "")
	name = separators.ReplaceAllString(name, "")

	return name
}
