package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hyperjump/stackprep/internal/config"
	"github.com/hyperjump/stackprep/internal/embedding"
	"github.com/hyperjump/stackprep/internal/keyword"
	"github.com/hyperjump/stackprep/internal/models"
	"github.com/hyperjump/stackprep/internal/storage"
	"github.com/hyperjump/stackprep/internal/vector"
	"github.com/hyperjump/stackprep/pkg/utils"
	"go.uber.org/zap"
)

// ErrNotIndexed is returned when no index has been built yet.
var ErrNotIndexed = errors.New("no index has been built; run the index stage first")

// Retriever embeds queries with the indexing model and searches the indices.
type Retriever struct {
	storage      storage.Storage
	embedder     embedding.Embedder
	vectorIndex  vector.VectorIndex
	keywordIndex keyword.KeywordIndex
	config       *config.SearchConfig
	logger       *zap.Logger
}

// NewRetriever creates a retriever. keywordIndex may be nil, in which case
// keyword scoring is never used.
func NewRetriever(
	storage storage.Storage,
	embedder embedding.Embedder,
	vectorIndex vector.VectorIndex,
	keywordIndex keyword.KeywordIndex,
	cfg *config.SearchConfig,
	logger *zap.Logger,
) *Retriever {
	return &Retriever{
		storage:      storage,
		embedder:     embedder,
		vectorIndex:  vectorIndex,
		keywordIndex: keywordIndex,
		config:       cfg,
		logger:       utils.OrNop(logger),
	}
}

// CheckModel verifies that the index was built by the retriever's embedder.
func (r *Retriever) CheckModel(ctx context.Context) error {
	stored, ok, err := r.storage.GetMeta(ctx, embedding.MetaKey)
	if err != nil {
		return fmt.Errorf("read index model: %w", err)
	}
	if !ok {
		return ErrNotIndexed
	}
	indexed, err := embedding.ParseIdentity(stored)
	if err != nil {
		return err
	}
	return embedding.CheckModel(indexed, embedding.IdentityOf(r.embedder))
}

func (r *Retriever) prepare(query *models.SearchQuery) error {
	if query.Limit <= 0 {
		query.Limit = r.config.DefaultLimit
	}
	if err := query.Validate(); err != nil {
		return err
	}
	if r.config.MaxLimit > 0 && query.Limit > r.config.MaxLimit {
		query.Limit = r.config.MaxLimit
	}
	if r.keywordIndex == nil {
		query.KeywordEnabled = false
		query.SemanticEnabled = true
	}
	return nil
}

// weights returns the fusion weights for the enabled modes. A single enabled
// mode gets the full weight.
func (r *Retriever) weights(query *models.SearchQuery) (kw, sem float64) {
	switch {
	case query.KeywordEnabled && query.SemanticEnabled:
		return r.config.KeywordWeight, r.config.SemanticWeight
	case query.KeywordEnabled:
		return 1, 0
	default:
		return 0, 1
	}
}

// Search runs the query and returns hydrated training documents ranked by
// fused score.
func (r *Retriever) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	if err := r.prepare(query); err != nil {
		return nil, err
	}
	if err := r.CheckModel(ctx); err != nil {
		return nil, err
	}
	keywordWeight, semanticWeight := r.weights(query)
	candidates := max(r.config.TopKCandidates, query.Limit)

	var (
		keywordResults  []*keyword.KeywordResult
		semanticResults []*vector.VectorResult
		errChan         = make(chan error, 2)
		wg              sync.WaitGroup
	)

	if keywordWeight > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := r.keywordIndex.Search(ctx, query.Query, candidates, nil)
			if err != nil {
				errChan <- fmt.Errorf("keyword search failed: %w", err)
				return
			}
			keywordResults = results
		}()
	}

	if semanticWeight > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			queryEmbedding, err := r.embedder.Embed(ctx, query.Query)
			if err != nil {
				errChan <- fmt.Errorf("embedding failed: %w", err)
				return
			}
			results, err := r.vectorIndex.Search(ctx, queryEmbedding, candidates)
			if err != nil {
				errChan <- fmt.Errorf("vector search failed: %w", err)
				return
			}
			semanticResults = results
		}()
	}

	wg.Wait()
	close(errChan)
	for err := range errChan {
		if err != nil {
			return nil, err
		}
	}

	fused := Fuse(NormalizeKeywordScores(keywordResults), NormalizeSemanticScores(semanticResults), keywordWeight, semanticWeight)
	if query.MinScore > 0 {
		filtered := fused[:0]
		for _, f := range fused {
			if f.Score >= query.MinScore {
				filtered = append(filtered, f)
			}
		}
		fused = filtered
	}
	total := len(fused)
	if len(fused) > query.Limit {
		fused = fused[:query.Limit]
	}

	docs, err := r.hydrate(ctx, fused)
	if err != nil {
		return nil, err
	}

	response := &models.SearchResponse{
		Results: make([]*models.SearchResult, 0, len(fused)),
		Total:   total,
		Query:   query.Query,
		Model:   r.embedder.ModelID(),
	}
	for _, f := range fused {
		doc, ok := docs[f.Key]
		if !ok {
			r.logger.Warn("indexed document missing from training table", zap.String("key", f.Key))
			continue
		}
		response.Results = append(response.Results, &models.SearchResult{
			Document:      doc,
			Score:         f.Score,
			KeywordScore:  f.KeywordScore,
			SemanticScore: f.SemanticScore,
			Rank:          len(response.Results) + 1,
		})
	}
	response.QueryTime = time.Since(startTime).Milliseconds()
	return response, nil
}

func (r *Retriever) hydrate(ctx context.Context, fused []*FusedResult) (map[string]*models.TrainingDocument, error) {
	sources := make([]int64, 0, len(fused))
	for _, f := range fused {
		id, err := models.ParseKey(f.Key)
		if err != nil {
			r.logger.Warn("skipping malformed index key", zap.String("key", f.Key), zap.Error(err))
			continue
		}
		sources = append(sources, id)
	}
	found, err := r.storage.GetTrainingDocuments(ctx, sources)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	byKey := make(map[string]*models.TrainingDocument, len(found))
	for _, doc := range found {
		byKey[doc.Key()] = doc
	}
	return byKey, nil
}
