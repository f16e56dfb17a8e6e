package skillbook

import "strings"

// stopWords is a small, fixed stop-word list for the word-set Jaccard
// similarity used during deduplication; it is intentionally terse, matching
// the other hand-rolled heuristics in this subsystem (EstimateTokens et al.)
// rather than pulling in a full NLP dependency for a single filtering step.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {},
	"in": {}, "on": {}, "for": {}, "is": {}, "it": {}, "with": {}, "as": {},
	"by": {}, "at": {}, "be": {}, "this": {}, "that": {}, "are": {}, "was": {},
}

func wordSet(text string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,:;!?()[]{}\"'`")
		if w == "" {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

// jaccardSimilarity returns |A∩B| / |A∪B| over lower-cased, stop-word-
// filtered word sets. Two empty sets are defined as dissimilar (0), never
// dividing by zero.
func jaccardSimilarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// findDuplicate scans existing for the skill with maximum title+body
// similarity to candidateTitle/candidateBody. It returns the index and the
// similarity score; found is false when no skill meets threshold.
func findDuplicate(existing []Skill, candidateTitle, candidateBody string, threshold float64) (idx int, similarity float64, found bool) {
	candidate := candidateTitle + " " + candidateBody
	bestIdx, bestSim := -1, 0.0
	for i, sk := range existing {
		sim := jaccardSimilarity(candidate, sk.Title+" "+sk.Body)
		if sim > bestSim {
			bestSim = sim
			bestIdx = i
		}
	}
	if bestIdx >= 0 && bestSim >= threshold {
		return bestIdx, bestSim, true
	}
	return -1, bestSim, false
}

// mergeTags unions two tag lists, de-duplicating case-sensitively.
func mergeTags(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, t := range existing {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	for _, t := range incoming {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
