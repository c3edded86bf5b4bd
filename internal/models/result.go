package models

// SearchResult is a single retrieval hit with the training document and its scores.
type SearchResult struct {
	Document      *TrainingDocument `json:"document"`
	Score         float64           `json:"score"`
	KeywordScore  float64           `json:"keyword_score"`
	SemanticScore float64           `json:"semantic_score"`
	Rank          int               `json:"rank"`
}

// SearchResponse is the response for a retrieval request.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
	Query     string          `json:"query"`
	// Model is the embedding model that produced the query vector.
	Model string `json:"model,omitempty"`
}
