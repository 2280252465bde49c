package resolve

import (
	"strings"
	"unicode"

	"github.com/Digital-Shane/reel-tidy/internal/media"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Weights are the fixed contributions of each signal to a confidence score.
type Weights struct {
	Title float64
	Year  float64
	Kind  float64
}

// DefaultWeights returns the standard title/year/kind weighting.
func DefaultWeights() Weights {
	return Weights{Title: 0.6, Year: 0.25, Kind: 0.15}
}

// Score computes a candidate's confidence against the hints: title token-set
// overlap plus an exact-year bonus plus a kind-match bonus, clamped to [0,1].
func (w Weights) Score(hints media.Hints, c media.Candidate) float64 {
	score := w.Title * TitleSimilarity(hints.Title, c.Title)
	if hints.Year > 0 && c.Year == hints.Year {
		score += w.Year
	}
	if hints.Kind != media.KindUnknown && hints.Kind != "" && c.Kind == hints.Kind {
		score += w.Kind
	}
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}

// TitleSimilarity is the Jaccard overlap of the normalized token sets of a
// and b. Case, accents and punctuation are ignored.
func TitleSimilarity(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	return float64(shared) / float64(union)
}

// Normalize folds case and accents and collapses punctuation to single
// spaces.
func Normalize(s string) string {
	folded, _, err := transform.String(foldTransformer(), s)
	if err != nil {
		folded = s
	}
	folded = strings.ReplaceAll(folded, "&", " and ")
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	for i, f := range fields {
		fields[i] = strings.ReplaceAll(f, "'", "")
	}
	return strings.Join(fields, " ")
}

// foldTransformer is built per call; transformers carry state and are not
// safe for concurrent use.
func foldTransformer() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), cases.Fold(), norm.NFC)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(Normalize(s)) {
		set[tok] = struct{}{}
	}
	return set
}
