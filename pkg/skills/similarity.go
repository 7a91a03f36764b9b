package skills

import (
	"math"
	"regexp"
	"strings"

	"github.com/ravenlabs/raven/pkg/store"
)

var tokenRe = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// CosineSimilarity computes the cosine of two vectors, 0 for degenerate
// input.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := min(len(a), len(b))
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SimilarityFromDistance converts an L2 distance between unit vectors to
// cosine similarity.
func SimilarityFromDistance(distance float64) float64 {
	return 1.0 - distance*distance/2.0
}

// Tokenize splits text into a lowercase set of word tokens of length 2+.
func Tokenize(text string) map[string]struct{} {
	tokens := map[string]struct{}{}
	for _, t := range tokenRe.FindAllString(strings.ToLower(text), -1) {
		tokens[t] = struct{}{}
	}
	return tokens
}

// StepSimilarity averages, over the left steps, the best token-Jaccard
// overlap against any right step. Titles and instructions both count.
func StepSimilarity(left, right []store.Step) float64 {
	if len(left) == 0 || len(right) == 0 {
		return 0
	}

	var rightTokens []map[string]struct{}
	for _, step := range right {
		tokens := Tokenize(step.Title + " " + step.Instructions)
		if len(tokens) > 0 {
			rightTokens = append(rightTokens, tokens)
		}
	}
	if len(rightTokens) == 0 {
		return 0
	}

	var total float64
	count := 0
	for _, step := range left {
		tokens := Tokenize(step.Title + " " + step.Instructions)
		if len(tokens) == 0 {
			continue
		}
		best := 0.0
		for _, candidate := range rightTokens {
			if score := jaccard(tokens, candidate); score > best {
				best = score
			}
		}
		total += best
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// MergeScore combines embedding similarity with step similarity. Without
// an embedding similarity the step similarity decides alone.
func MergeScore(similarity *float64, stepSim, eps float64) float64 {
	if similarity == nil {
		return stepSim
	}
	weighted := *similarity*0.7 + stepSim*0.3
	boosted := math.Min(1.0, *similarity+eps)
	return math.Max(weighted, math.Max(boosted, stepSim))
}
