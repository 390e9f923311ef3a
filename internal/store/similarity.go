package store

import (
	"math"
	"sort"

	"github.com/mycelian/mycelian-chat/internal/model"
)

// Cosine returns the cosine similarity of a and b. Mismatched lengths and
// zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
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

// Rank scores candidates against q.Vector, drops those below q.Threshold, and
// returns at most q.K matches by descending similarity. Ties keep the newer record first.
func Rank(candidates []model.MemoryRecord, q SimilarQuery) []model.RecallMatch {
	if q.K <= 0 || len(q.Vector) == 0 {
		return nil
	}
	matches := make([]model.RecallMatch, 0, len(candidates))
	for _, r := range candidates {
		if r.UserID != q.UserID {
			continue
		}
		if q.ConversationID != "" && r.ConversationID != q.ConversationID {
			continue
		}
		sim := Cosine(q.Vector, r.Embedding)
		if sim < q.Threshold {
			continue
		}
		matches = append(matches, model.RecallMatch{Record: r, Similarity: sim})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Record.CreatedAt.After(matches[j].Record.CreatedAt)
	})
	if len(matches) > q.K {
		matches = matches[:q.K]
	}
	return matches
}
