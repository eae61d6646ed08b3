package search

import "sort"

// DefaultRRFK is the standard reciprocal rank fusion constant.
const DefaultRRFK = 60

// fuseWithRRF merges ranked id lists with reciprocal rank fusion:
// each id scores the sum of 1/(k+rank) over the lists it appears in,
// ranks counted from 1. Ties keep the order of first appearance, with
// earlier lists taking precedence.
func fuseWithRRF(k int, lists ...[]string) []scoredID {
	if k <= 0 {
		k = DefaultRRFK
	}

	scores := make(map[string]float64)
	firstSeen := make(map[string]int)
	seen := 0

	for _, list := range lists {
		for rank, id := range list {
			scores[id] += 1.0 / float64(k+rank+1)
			if _, ok := firstSeen[id]; !ok {
				firstSeen[id] = seen
				seen++
			}
		}
	}

	fused := make([]scoredID, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, scoredID{ID: id, Score: score})
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return firstSeen[fused[i].ID] < firstSeen[fused[j].ID]
	})
	return fused
}

type scoredID struct {
	ID    string
	Score float64
}
