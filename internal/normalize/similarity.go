package normalize

import "strings"

// Similarity thresholds.
const (
	titleSimilarityThreshold   = 0.8
	contentSimilarityThreshold = 0.6
)

// SimilarityResult reports whether two texts are near-duplicates.
type SimilarityResult struct {
	IsSimilar bool    `json:"is_similar"`
	Score     float64 `json:"score"`
	Reason    string  `json:"reason"`
}

// Similarity compares two texts lexically: exact match, then title equality
// and edit-distance title similarity, then Jaccard similarity over word sets.
func Similarity(textA, textB string) SimilarityResult {
	if textA == "" || textB == "" {
		return SimilarityResult{Reason: "Empty content"}
	}

	cleanA := strings.ToLower(CleanText(textA))
	cleanB := strings.ToLower(CleanText(textB))
	if cleanA == cleanB {
		return SimilarityResult{IsSimilar: true, Score: 1.0, Reason: "Exact duplicate"}
	}

	titleA := strings.ToLower(ExtractTitle(textA))
	titleB := strings.ToLower(ExtractTitle(textB))
	if titleA != "" && titleB != "" && titleA == titleB {
		return SimilarityResult{IsSimilar: true, Score: 0.95, Reason: "Same title"}
	}
	if ratio := stringSimilarity(titleA, titleB); ratio > titleSimilarityThreshold {
		return SimilarityResult{IsSimilar: true, Score: ratio, Reason: "Similar title"}
	}

	jaccard := jaccardSimilarity(Words(cleanA), Words(cleanB))
	if jaccard > contentSimilarityThreshold {
		return SimilarityResult{IsSimilar: true, Score: jaccard, Reason: "High content similarity"}
	}
	return SimilarityResult{Score: jaccard, Reason: "Different content"}
}

func jaccardSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// stringSimilarity normalizes Levenshtein distance to a 0-1 ratio against
// the longer string.
func stringSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	longer, shorter := a, b
	if len(b) > len(a) {
		longer, shorter = b, a
	}
	if len(longer) == 0 {
		return 1.0
	}
	dist := levenshtein(longer, shorter)
	return float64(len(longer)-dist) / float64(len(longer))
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(ra)+1)
	curr := make([]int, len(ra)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(rb); i++ {
		curr[0] = i
		for j := 1; j <= len(ra); j++ {
			if rb[i-1] == ra[j-1] {
				curr[j] = prev[j-1]
			} else {
				curr[j] = minInt(prev[j-1], minInt(curr[j-1], prev[j])) + 1
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(ra)]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
