// Package similarity ranks catalog subreddits against a free-text query by
// cosine similarity of their embeddings. The scan is linear over the whole
// catalog.
package similarity

import (
	"math"
	"sort"

	"github.com/WessleyAI/reddit-etl/engine/domain"
)

// Cosine returns the cosine similarity of a and b. ok is false when the
// vectors differ in length, are empty, or either has zero norm. Products are
// accumulated in float64 and the result is clamped to [-1, 1].
func Cosine(a, b []float32) (sim float64, ok bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	sim = dot / (math.Sqrt(na) * math.Sqrt(nb))
	if math.IsNaN(sim) {
		return 0, false
	}
	return math.Max(-1, math.Min(1, sim)), true
}

// Rank scores every record against query and returns the best limit matches,
// most similar first. Records that cannot be scored are dropped; equal scores
// keep their input order. A negative limit keeps every match. skipped counts
// the dropped records.
func Rank(query []float32, records []domain.SubredditRecord, limit int) (matches []domain.Match, skipped int) {
	matches = make([]domain.Match, 0, len(records))
	for _, r := range records {
		sim, ok := Cosine(query, r.Embedding)
		if !ok {
			skipped++
			continue
		}
		matches = append(matches, domain.Match{SubredditRecord: r, Score: sim})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if limit >= 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, skipped
}
