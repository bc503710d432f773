// package match implements track title/artist normalization, edit-distance
// scoring, and the exact → fuzzy → global matching pipeline against a Plex
// music library.
package match

import (
	"regexp"
	"strings"
)

var (
	bracketRe    = regexp.MustCompile(`\s*[(\[][^)\]]*[)\]]`)
	featRe       = regexp.MustCompile(`(?i)\s+(feat\.?|ft\.?)\s+.*$`)
	disallowedRe = regexp.MustCompile(`[^a-z0-9\s'-]`)
	spaceRe      = regexp.MustCompile(`\s+`)

	dashReplacer       = strings.NewReplacer("–", "-", "—", "-", "−", "-")
	apostropheReplacer = strings.NewReplacer("‘", "'", "’", "'", "ʼ", "'", "`", "'")
)

// Normalize canonicalizes a free-text track or artist string so fuzzy
// comparison is meaningful: lowercases, strips bracketed and parenthetical
// substrings, strips trailing feat./ft. clauses, unifies dash and apostrophe
// variants, keeps only alphanumerics, whitespace, hyphens and apostrophes,
// collapses whitespace, and trims.
//
// Deterministic and total: never fails, empty input yields an empty string.
// Idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	s = strings.ToLower(s)
	s = bracketRe.ReplaceAllString(s, "")
	s = featRe.ReplaceAllString(s, "")
	s = dashReplacer.Replace(s)
	s = apostropheReplacer.Replace(s)
	s = disallowedRe.ReplaceAllString(s, "")
	s = spaceRe.ReplaceAllString(s, " ")

	return strings.TrimSpace(s)
}

// NormalizeKey builds a single comparison key from a title and artist pair.
func NormalizeKey(title, artist string) string {
	return Normalize(title) + "|" + Normalize(artist)
}
