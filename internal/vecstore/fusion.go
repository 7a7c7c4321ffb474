package vecstore

import "sort"

// rrfK is the reciprocal-rank denominator constant.
const rrfK = 60

// FuseRRF performs Reciprocal Rank Fusion over the dense and sparse result
// lists. Ranks are 1-based; an id absent from a list contributes nothing
// from that list. Matches present in both lists are marked "fused"; the
// others keep their originating source.
func FuseRRF(dense, sparse []Match, topK int) []Match {
	densePos := make(map[string]int, len(dense))
	byID := make(map[string]Match, len(dense)+len(sparse))
	for i, m := range dense {
		densePos[m.ID] = i + 1
		byID[m.ID] = m
	}
	sparsePos := make(map[string]int, len(sparse))
	for i, m := range sparse {
		sparsePos[m.ID] = i + 1
		if _, ok := byID[m.ID]; !ok {
			byID[m.ID] = m
		}
	}

	// Union of ids in first-seen order for deterministic ties.
	seen := make(map[string]struct{}, len(byID))
	ids := make([]string, 0, len(byID))
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, m := range dense {
		add(m.ID)
	}
	for _, m := range sparse {
		add(m.ID)
	}

	out := make([]Match, 0, len(ids))
	for _, id := range ids {
		dr := densePos[id]
		sr := sparsePos[id]
		fused := 0.0
		if dr > 0 {
			fused += 1.0 / float64(rrfK+dr)
		}
		if sr > 0 {
			fused += 1.0 / float64(rrfK+sr)
		}
		source := "fused"
		switch {
		case dr > 0 && sr == 0:
			source = "dense"
		case sr > 0 && dr == 0:
			source = "sparse"
		}
		m := byID[id]
		m.Score = fused
		m.Source = source
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		si := rankSum(densePos[out[i].ID], sparsePos[out[i].ID])
		sj := rankSum(densePos[out[j].ID], sparsePos[out[j].ID])
		if si != sj {
			return si < sj
		}
		return out[i].ID < out[j].ID
	})

	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

func rankSum(a, b int) int {
	const absent = 1 << 20
	if a == 0 {
		a = absent
	}
	if b == 0 {
		b = absent
	}
	return a + b
}
