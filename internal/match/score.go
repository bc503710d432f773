package match

// levenshtein computes the classic single-source dynamic-programming edit
// distance between two strings, with insertion, deletion and substitution
// all costing 1. Operates on runes so multi-byte input is counted per
// character, not per byte.
func levenshtein(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)

	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)

	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}

			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost

			min := del
			if ins < min {
				min = ins
			}
			if sub < min {
				min = sub
			}
			curr[j] = min
		}
		prev, curr = curr, prev
	}

	return prev[len(rb)]
}

// Score computes the dissimilarity between a wanted (title, artist) pair and
// a candidate pair: the sum of the edit distances between the normalized
// titles and the normalized artists. Lower is better; 0 means both fields
// match exactly after normalization.
//
// The score is a ranking signal, not an acceptance criterion on its own.
// Callers apply a maximum-acceptable threshold before trusting a candidate.
func Score(wantedTitle, wantedArtist, candidateTitle, candidateArtist string) int {
	return levenshtein(Normalize(wantedTitle), Normalize(candidateTitle)) +
		levenshtein(Normalize(wantedArtist), Normalize(candidateArtist))
}
