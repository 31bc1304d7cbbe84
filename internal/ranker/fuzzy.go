package ranker

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// fuzzyScore computes a token-based similarity between the query and the
// candidate filename on a 0-100 scale. Token order is ignored, extra
// words in the filename carry no penalty, and minor misspellings are
// tolerated, so "Queen - Bohemian Rhapsody (2011 Remaster).flac" still
// scores high against the query "Bohemain Rapsody".
//
// Each query token is greedily paired with the most similar unused
// filename token; the score is the mean pairing similarity, so missing
// words degrade the score proportionally instead of zeroing it.
func fuzzyScore(query, filename string) float64 {
	queryTokens := tokenize(query)
	fileTokens := tokenize(stripExtension(filename))
	if len(queryTokens) == 0 || len(fileTokens) == 0 {
		return 0
	}

	used := make([]bool, len(fileTokens))
	var sum float64
	for _, qt := range queryTokens {
		best, bestIdx := 0.0, -1
		for i, ft := range fileTokens {
			if used[i] {
				continue
			}
			if r := ratio(qt, ft); r > best {
				best, bestIdx = r, i
			}
		}
		if bestIdx >= 0 {
			used[bestIdx] = true
		}
		sum += best
	}
	return sum / float64(len(queryTokens))
}

// ratio is a levenshtein-based similarity on a 0-100 scale.
func ratio(a, b string) float64 {
	if a == b {
		return 100
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 0
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 100 * (1 - float64(distance)/float64(longest))
}

// tokenize lower-cases, strips punctuation and splits into tokens.
func tokenize(s string) []string {
	var builder strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			builder.WriteRune(r)
		default:
			builder.WriteRune(' ')
		}
	}
	return strings.Fields(builder.String())
}

// stripExtension drops a trailing audio file extension if present.
func stripExtension(filename string) string {
	if ext := fileExtension(filename); ext != "" && len(ext) <= 4 {
		return filename[:len(filename)-len(ext)-1]
	}
	return filename
}
