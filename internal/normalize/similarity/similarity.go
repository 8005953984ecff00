// Package similarity scores how likely two free-text labels denote the same
// canonical entity.
package similarity

import (
	"math"
	"strings"

	labels "mdnorm/pkg/platform/strings"
)

const (
	// substringFloor is the minimum score when one label contains the other.
	substringFloor = 85.0
	// wordOverlapWeight scales the shared-word ratio added on top of the edit
	// distance score.
	wordOverlapWeight = 20.0
)

// Distance returns the Levenshtein distance between a and b with unit cost
// for insertion, deletion and substitution. Comparison is rune-wise and case
// sensitive.
func Distance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// Score returns a confidence in [0,100] that a and b name the same thing.
//
// Empty input scores 0. Labels equal after folding (NFKC, case, whitespace)
// score 100, so any non-empty label scores 100 against itself. Otherwise the
// edit distance score is raised to at least 85 when one label contains the
// other, and boosted by up to 20 points for shared words. A blank label never
// scores above 0 against a different one. Score is symmetric.
func Score(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	na, nb := labels.Fold(a), labels.Fold(b)
	if na == nb {
		return 100
	}
	if na == "" || nb == "" {
		return 0
	}

	maxLen := max(len([]rune(na)), len([]rune(nb)))
	if maxLen == 0 {
		return 100
	}
	d := Distance(na, nb)
	base := math.Round(100 * float64(maxLen-d) / float64(maxLen))
	score := base

	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		score = math.Max(score, substringFloor)
	}

	wa, wb := labels.Words(na), labels.Words(nb)
	common := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			common++
		}
	}
	if common > 0 {
		bonus := float64(common) / float64(max(len(wa), len(wb))) * wordOverlapWeight
		score = math.Max(score, base+bonus)
	}

	return int(math.Round(math.Min(100, math.Max(0, score))))
}
