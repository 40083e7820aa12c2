package memory

import (
	"math"
	"sort"
)

// Cosine returns the cosine similarity of a and b. Vectors of different
// length or with zero norm score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// RankBySimilarity scores every record against query, sorts descending and
// returns at most n results. Records without an embedding are skipped.
func RankBySimilarity(query []float32, records []Record, n int) []Result {
	out := make([]Result, 0, len(records))
	for _, r := range records {
		if len(r.Embedding) == 0 {
			continue
		}
		out = append(out, Result{Record: r, Score: Cosine(query, r.Embedding)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// SelectMMR re-ranks candidates by Maximal Marginal Relevance and returns the
// top k. Each step picks the candidate maximising
//
//	lambda·sim(query, c) − (1−lambda)·max sim(c, selected)
//
// Candidates keep their query similarity as Score.
func SelectMMR(query []float32, candidates []Result, k int, lambda float64) []Result {
	if k <= 0 || len(candidates) == 0 {
		return []Result{}
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	relevance := make([]float64, len(candidates))
	for i, c := range candidates {
		relevance[i] = Cosine(query, c.Record.Embedding)
	}

	used := make([]bool, len(candidates))
	selected := make([]int, 0, k)
	for len(selected) < k {
		best, bestScore := -1, math.Inf(-1)
		for i := range candidates {
			if used[i] {
				continue
			}
			redundancy := 0.0
			for _, j := range selected {
				if s := Cosine(candidates[i].Record.Embedding, candidates[j].Record.Embedding); s > redundancy {
					redundancy = s
				}
			}
			score := lambda*relevance[i] - (1-lambda)*redundancy
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		used[best] = true
		selected = append(selected, best)
	}

	out := make([]Result, len(selected))
	for i, idx := range selected {
		out[i] = Result{Record: candidates[idx].Record, Score: relevance[idx]}
	}
	return out
}

// SearchVectors runs the plain or MMR search described by opts over an
// already filtered candidate set. Backends that rank in-process share it.
func SearchVectors(query []float32, records []Record, opts QueryOptions) []Result {
	opts = opts.Normalize()
	if !opts.MMR {
		return RankBySimilarity(query, records, opts.K)
	}
	pool := RankBySimilarity(query, records, opts.FetchK)
	return SelectMMR(query, pool, opts.K, opts.Lambda)
}
