package dedup

import "strings"

// tokens splits s on whitespace and lower-cases each word into a set.
func tokens(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Similarity returns the Jaccard coefficient of the two titles' word
// sets: |A∩B| / |A∪B|. Either side empty yields 0.
func Similarity(a, b string) float64 {
	return jaccard(tokens(a), tokens(b))
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
