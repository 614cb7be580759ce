package routing

import (
	"strings"
)

// FuzzyMatcher widens the candidate filter when exact tag matching finds
// nothing. It only decides eligibility; the capability score is always
// computed from exact tag matches.
type FuzzyMatcher interface {
	// Match reports whether the team's capability tags plausibly cover
	// the required tag.
	Match(teamCapabilities []string, required string) bool
}

// TokenMatcher is the default fuzzy matcher: a required tag matches a
// capability when one is a prefix or substring of the other, or when
// they share an underscore-separated token.
type TokenMatcher struct{}

var _ FuzzyMatcher = (*TokenMatcher)(nil)

// Match implements FuzzyMatcher.
func (TokenMatcher) Match(teamCapabilities []string, required string) bool {
	want := strings.ToLower(required)
	wantTokens := tokenize(want)
	for _, cap := range teamCapabilities {
		have := strings.ToLower(cap)
		if strings.Contains(have, want) || strings.Contains(want, have) {
			return true
		}
		for _, ht := range tokenize(have) {
			for _, wt := range wantTokens {
				if ht == wt {
					return true
				}
			}
		}
	}
	return false
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' ' || r == '/'
	})
}
