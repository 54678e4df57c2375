package matcher

import (
	"fmt"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// Similarity scores two merchant strings in [0, 1]; 1 means identical.
type Similarity func(a, b string) float64

var unitCost = levenshtein.Options{
	InsCost: 1,
	DelCost: 1,
	SubCost: 1,
	Matches: levenshtein.IdenticalRunes,
}

// LevenshteinSimilarity is 1 - editDistance/len(longer) over normalized
// merchant text.
func LevenshteinSimilarity(a, b string) float64 {
	ra := []rune(NormalizeMerchant(a))
	rb := []rune(NormalizeMerchant(b))
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 1
	}
	dist := levenshtein.DistanceForStrings(ra, rb, unitCost)
	return 1 - float64(dist)/float64(longest)
}

// ExactSimilarity scores 1 for equal normalized text and 0 otherwise.
func ExactSimilarity(a, b string) float64 {
	if NormalizeMerchant(a) == NormalizeMerchant(b) {
		return 1
	}
	return 0
}

// Similarity names accepted by SimilarityByName.
const (
	SimilarityLevenshtein = "levenshtein"
	SimilarityExact       = "exact"
)

// SimilarityByName returns the named strategy. An empty name selects
// Levenshtein.
func SimilarityByName(name string) (Similarity, error) {
	switch name {
	case "", SimilarityLevenshtein:
		return LevenshteinSimilarity, nil
	case SimilarityExact:
		return ExactSimilarity, nil
	}
	return nil, fmt.Errorf("unknown similarity %q (want %s or %s)", name, SimilarityLevenshtein, SimilarityExact)
}
