// Package search answers retrieval queries against the indexed training
// documents: semantic search over the vector index, optionally fused with
// keyword scores.
package search

import (
	"cmp"
	"slices"

	"github.com/hyperjump/stackprep/internal/keyword"
	"github.com/hyperjump/stackprep/internal/vector"
)

// FusedResult is the combined score of one training document. Key is the
// document key, i.e. the answer id as a string.
type FusedResult struct {
	Key           string
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// NormalizeKeywordScores maps each training-document key to its Bleve score
// divided by the best score of the result set, so the top hit scores 1.
func NormalizeKeywordScores(results []*keyword.KeywordResult) map[string]float64 {
	best := 0.0
	for _, r := range results {
		best = max(best, r.Score)
	}
	scores := make(map[string]float64, len(results))
	for _, r := range results {
		if best > 0 {
			scores[r.ID] = r.Score / best
		} else {
			scores[r.ID] = 0
		}
	}
	return scores
}

// NormalizeSemanticScores maps each training-document key to its cosine
// similarity. Vectors are unit length, so scores are already at most 1;
// negative similarities count as 0.
func NormalizeSemanticScores(results []*vector.VectorResult) map[string]float64 {
	scores := make(map[string]float64, len(results))
	for _, r := range results {
		scores[r.ID] = max(r.Score, 0)
	}
	return scores
}

// Fuse combines the keyword and semantic scores of every training document
// found by either search. A document missing from one side scores 0 there.
// Results are ordered by fused score, highest first, and ties by key so the
// order is stable across runs.
func Fuse(keywordScores, semanticScores map[string]float64, keywordWeight, semanticWeight float64) []*FusedResult {
	byKey := make(map[string]*FusedResult, len(keywordScores)+len(semanticScores))
	entry := func(key string) *FusedResult {
		r, ok := byKey[key]
		if !ok {
			r = &FusedResult{Key: key}
			byKey[key] = r
		}
		return r
	}
	for key, s := range keywordScores {
		entry(key).KeywordScore = s
	}
	for key, s := range semanticScores {
		entry(key).SemanticScore = s
	}

	results := make([]*FusedResult, 0, len(byKey))
	for _, r := range byKey {
		r.Score = keywordWeight*r.KeywordScore + semanticWeight*r.SemanticScore
		results = append(results, r)
	}
	slices.SortFunc(results, func(a, b *FusedResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return results
}
