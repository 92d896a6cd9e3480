// Package similarity computes the weighted composite score between two
// (name, specification, unit) material tuples.
package similarity

import (
	"github.com/agext/levenshtein"

	"github.com/sells-group/material-audit/internal/textnorm"
	"github.com/sells-group/material-audit/internal/unitconv"
)

var levParams = levenshtein.NewParams()

// Sub-score weights for the name/spec composite.
const (
	weightEdit    = 0.30
	weightPartial = 0.20
	weightKeyword = 0.30
	weightLCS     = 0.20
)

// Dimension weights for the final score.
const (
	weightName = 0.55
	weightSpec = 0.35
	weightUnit = 0.10
)

// Prepared is a material tuple run through the text normalizer once, so a
// batch can score it against many candidates without re-normalizing.
type Prepared struct {
	Name textnorm.Normalized
	Spec textnorm.Normalized
	Unit string // canonical
}

// Prepare normalizes a raw (name, spec, unit) tuple.
func Prepare(name, spec, unit string) Prepared {
	return Prepared{
		Name: textnorm.Normalize(name),
		Spec: textnorm.Normalize(spec),
		Unit: unitconv.Normalize(unit),
	}
}

// Result carries the composite score and its components, which the
// matching engine uses for tie-breaking and explanations.
type Result struct {
	Score   float64 `json:"score"`
	NameSim float64 `json:"name_sim"`
	SpecSim float64 `json:"spec_sim"`
	UnitSim float64 `json:"unit_sim"`
}

// Score computes the composite similarity between two prepared tuples.
// Symmetric, and 1.0 when both tuples are identical.
func Score(a, b Prepared) Result {
	r := Result{
		NameSim: composite(a.Name, b.Name),
		SpecSim: specSim(a.Spec, b.Spec),
		UnitSim: UnitSim(a.Unit, b.Unit),
	}
	r.Score = weightName*r.NameSim + weightSpec*r.SpecSim + weightUnit*r.UnitSim
	return r
}

// UnitSim is 1 for equal canonical units, 0.7 for different but
// convertible units, 0 otherwise.
func UnitSim(u1, u2 string) float64 {
	c1, c2 := unitconv.Normalize(u1), unitconv.Normalize(u2)
	switch {
	case c1 == c2:
		return 1
	case unitconv.CanConvert(c1, c2):
		return 0.7
	default:
		return 0
	}
}

func specSim(a, b textnorm.Normalized) float64 {
	switch {
	case a.Clean == "" && b.Clean == "":
		return 1
	case a.Clean == "" || b.Clean == "":
		return 0.5
	}
	return composite(a, b)
}

// composite is the weighted average of the four text sub-scores.
func composite(a, b textnorm.Normalized) float64 {
	return weightEdit*editRatio(a.Clean, b.Clean) +
		weightPartial*partialRatio(a.Clean, b.Clean) +
		weightKeyword*keywordJaccard(a.Keywords, b.Keywords) +
		weightLCS*lcsRatio(a.Clean, b.Clean)
}

// editRatio is the normalized edit-distance similarity over cleaned
// strings.
func editRatio(s1, s2 string) float64 {
	if s1 == "" && s2 == "" {
		return 1
	}
	if s1 == "" || s2 == "" {
		return 0
	}
	return levenshtein.Similarity(s1, s2, levParams)
}

// partialRatio slides the shorter string over every equal-length window of
// the longer and keeps the best edit similarity.
func partialRatio(s1, s2 string) float64 {
	if s1 == "" && s2 == "" {
		return 1
	}
	if s1 == "" || s2 == "" {
		return 0
	}

	short, long := []rune(s1), []rune(s2)
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) == len(long) {
		return levenshtein.Similarity(string(short), string(long), levParams)
	}

	best := 0.0
	for i := 0; i+len(short) <= len(long); i++ {
		sim := levenshtein.Similarity(string(short), string(long[i:i+len(short)]), levParams)
		if sim > best {
			best = sim
		}
		if best == 1 {
			break
		}
	}
	return best
}

// keywordJaccard is |A∩B| / |A∪B|. Two empty sets count as identical.
func keywordJaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// lcsRatio is 2·LCS(a,b) / (len(a)+len(b)) over runes.
func lcsRatio(s1, s2 string) float64 {
	if s1 == "" && s2 == "" {
		return 1
	}
	if s1 == "" || s2 == "" {
		return 0
	}

	a, b := []rune(s1), []rune(s2)
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	lcs := prev[len(b)]
	return 2 * float64(lcs) / float64(len(a)+len(b))
}
