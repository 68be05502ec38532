package analysis

import (
	"sort"
	"strings"

	"github.com/clauselens/clauselens/internal/contract"
)

// Lexical similarity over keyword-frequency overlap. This is a documented
// placeholder heuristic, not semantic similarity; recorded fixtures depend on
// the exact formula, so keep it byte-for-byte stable.
const (
	similarityThreshold  = 0.3
	keywordMinLength     = 5
	keywordSetSize       = 20
	DefaultSimilarLimit  = 5
	MaxSimilarCandidates = 50
)

// featureTags is the fixed vocabulary matched in both target and candidate.
var featureTags = []string{
	"termination",
	"payment",
	"liability",
	"confidentiality",
	"indemnification",
}

// Candidate is one document in the similarity pool.
type Candidate struct {
	ID   string
	Text string
}

// FindSimilar ranks candidates against the target text. Candidates scoring
// strictly above the threshold are returned in descending similarity order
// (stable, preserving input order on ties), truncated to limit.
func FindSimilar(targetText string, candidates []Candidate, limit int) []contract.SimilarContract {
	if limit <= 0 {
		limit = DefaultSimilarLimit
	}
	keywords := extractKeywords(targetText)
	targetLower := strings.ToLower(targetText)

	matches := []contract.SimilarContract{}
	for _, c := range candidates {
		score := similarity(keywords, c.Text)
		if score <= similarityThreshold {
			continue
		}
		matches = append(matches, contract.SimilarContract{
			ContractID:      c.ID,
			Similarity:      score,
			MatchedFeatures: matchedFeatures(targetLower, strings.ToLower(c.Text)),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// extractKeywords lower-cases, strips non-alphanumerics, tokenizes on
// whitespace, drops tokens shorter than keywordMinLength, and keeps the top
// keywordSetSize by frequency with ties broken by first occurrence.
func extractKeywords(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return ' '
		}
	}, text)

	counts := map[string]int{}
	firstSeen := map[string]int{}
	order := 0
	for _, tok := range strings.Fields(cleaned) {
		if len(tok) < keywordMinLength {
			continue
		}
		if _, ok := counts[tok]; !ok {
			firstSeen[tok] = order
			order++
		}
		counts[tok]++
	}

	tokens := make([]string, 0, len(counts))
	for tok := range counts {
		tokens = append(tokens, tok)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if counts[tokens[i]] != counts[tokens[j]] {
			return counts[tokens[i]] > counts[tokens[j]]
		}
		return firstSeen[tokens[i]] < firstSeen[tokens[j]]
	})
	if len(tokens) > keywordSetSize {
		tokens = tokens[:keywordSetSize]
	}
	return tokens
}

// similarity is the fraction of target keywords appearing as substrings of
// the candidate text; 0 when either side is empty.
func similarity(keywords []string, candidateText string) float64 {
	if len(keywords) == 0 || strings.TrimSpace(candidateText) == "" {
		return 0
	}
	lower := strings.ToLower(candidateText)
	hits := 0
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

// matchedFeatures returns the tags present in both texts, in vocabulary order.
func matchedFeatures(targetLower, candidateLower string) []string {
	out := []string{}
	for _, tag := range featureTags {
		if strings.Contains(targetLower, tag) && strings.Contains(candidateLower, tag) {
			out = append(out, tag)
		}
	}
	return out
}
