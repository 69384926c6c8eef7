package identity

import (
	"strings"
	"unicode/utf8"
)

// Match returns the candidate that names the same company as search, in its
// original spelling. See MatchIndex for the rules.
func Match(search string, candidates []string) (string, bool) {
	i, ok := MatchIndex(search, candidates)
	if !ok {
		return "", false
	}
	return candidates[i], true
}

// MatchIndex returns the index of the candidate that names the same company
// as search.
//
// An exact match of the normalized forms always wins, first in input order.
// Otherwise the candidate whose normalized form contains, or is contained in,
// the normalized search and whose length in runes is closest to it is chosen;
// ties go to the earlier candidate. Candidates that normalize to "" never match.
func MatchIndex(search string, candidates []string) (int, bool) {
	key := Normalize(search)
	if key == "" {
		return -1, false
	}

	keys := make([]string, len(candidates))
	for i, c := range candidates {
		keys[i] = Normalize(c)
		if keys[i] == key {
			return i, true
		}
	}

	keyLen := utf8.RuneCountInString(key)
	best, bestDiff := -1, 0
	for i, k := range keys {
		if k == "" || !substringCompatible(key, k) {
			continue
		}
		diff := abs(keyLen - utf8.RuneCountInString(k))
		if best == -1 || diff < bestDiff {
			best, bestDiff = i, diff
		}
	}

	return best, best != -1
}

func substringCompatible(a, b string) bool {
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
