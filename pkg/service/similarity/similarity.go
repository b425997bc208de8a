// Package similarity scores free text against canned phrases with a
// case-insensitive edit-distance ratio.
package similarity

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/agrotwin/agrotwin/pkg/model"
)

// Score returns (L - D) / L where L is the rune length of the longer string
// and D the Levenshtein distance between the lowercased strings. Two empty
// strings score 1.0.
func Score(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)

	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1.0
	}

	distance := levenshtein.ComputeDistance(a, b)
	return float64(longest-distance) / float64(longest)
}

// BestMatch returns the candidate with the strictly highest score against
// input. Ties keep the earlier candidate. An empty candidate list yields nil
// and 0.
func BestMatch(input string, candidates []model.Question) (*model.Question, float64) {
	var (
		best      *model.Question
		bestScore float64
	)

	for _, candidate := range candidates {
		score := Score(input, candidate.Text)
		if best == nil || score > bestScore {
			matched := candidate
			best = &matched
			bestScore = score
		}
	}

	return best, bestScore
}
