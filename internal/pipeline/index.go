package pipeline

import (
	"context"
	"fmt"

	"github.com/hyperjump/stackprep/internal/embedding"
	"github.com/hyperjump/stackprep/internal/keyword"
	"github.com/hyperjump/stackprep/internal/models"
	"github.com/hyperjump/stackprep/internal/search"
	"github.com/hyperjump/stackprep/internal/vector"
	"go.uber.org/zap"
)

// openIndices opens the configured vector and keyword indices for vectors of
// the given size.
func (r *Runner) openIndices(ctx context.Context, dimensions int) (vector.VectorIndex, keyword.KeywordIndex, error) {
	vec, err := vector.NewVectorIndex(ctx, &r.cfg.Vector, dimensions, r.logger.Named("vector"))
	if err != nil {
		return nil, nil, fmt.Errorf("open vector index: %w", err)
	}
	kw, err := keyword.NewBleveIndex(r.cfg.Storage.KeywordIndexPath)
	if err != nil {
		_ = vec.Close()
		return nil, nil, fmt.Errorf("open keyword index: %w", err)
	}
	return vec, kw, nil
}

// Retriever opens the indices written by the index stage and returns a
// retriever over them. It fails with embedding.ErrModelMismatch before
// reading the vector file when the index was built by another model, and with
// search.ErrNotIndexed when nothing was indexed yet. The returned close function releases the indices; the
// embedder stays with the runner.
func (r *Runner) Retriever(ctx context.Context) (*search.Retriever, func() error, error) {
	emb, err := r.embedder.Get()
	if err != nil {
		return nil, nil, fmt.Errorf("load embedder: %w", err)
	}
	vec, kw, err := r.openIndices(ctx, emb.Dimensions())
	if err != nil {
		return nil, nil, err
	}
	closeAll := func() error {
		err := vec.Close()
		if e := kw.Close(); err == nil {
			err = e
		}
		return err
	}
	ret := search.NewRetriever(r.store, emb, vec, kw, &r.cfg.Search, r.logger.Named("search"))
	if err := ret.CheckModel(ctx); err != nil {
		_ = closeAll()
		return nil, nil, err
	}
	if err := vec.Load(r.cfg.Storage.VectorIndexPath); err != nil {
		_ = closeAll()
		return nil, nil, fmt.Errorf("load vector index: %w", err)
	}
	return ret, closeAll, nil
}

// index replaces the contents of both indices with the training documents.
// A document whose embedding fails is skipped and counted.
func (r *Runner) index(ctx context.Context, st *run, log *zap.Logger) (StageResult, error) {
	if !r.cfg.Index.Enabled {
		return StageResult{Skipped: true, Reason: "indexing disabled"}, nil
	}
	docs, err := r.trainingDocs(ctx, st)
	if err != nil {
		return StageResult{}, err
	}
	emb, err := r.embedder.Get()
	if err != nil {
		return StageResult{}, fmt.Errorf("load embedder: %w", err)
	}
	identity := embedding.IdentityOf(emb)
	stats := &IndexStats{Documents: len(docs), Model: identity.String()}
	st.report.Index = stats

	vec, kw, err := r.openIndices(ctx, emb.Dimensions())
	if err != nil {
		return StageResult{}, err
	}
	defer vec.Close()
	defer kw.Close()

	if err := vec.Reset(ctx); err != nil {
		return StageResult{}, fmt.Errorf("reset vector index: %w", err)
	}
	if err := kw.Reset(ctx); err != nil {
		return StageResult{}, fmt.Errorf("reset keyword index: %w", err)
	}

	batchSize := max(r.cfg.Index.BatchSize, 1)
	for start := 0; start < len(docs); start += batchSize {
		batch := docs[start:min(start+batchSize, len(docs))]
		ids, vectors, ok := r.embedBatch(ctx, emb, batch, log)
		if err := ctx.Err(); err != nil {
			return StageResult{}, err
		}
		stats.Skipped += len(batch) - len(ok)
		if len(ok) == 0 {
			continue
		}
		if err := vec.Add(ctx, ids, vectors); err != nil {
			return StageResult{}, fmt.Errorf("add vectors: %w", err)
		}
		if err := kw.IndexBatch(ctx, ok); err != nil {
			return StageResult{}, fmt.Errorf("index keywords: %w", err)
		}
		stats.Indexed += len(ok)
		log.Debug("indexed batch", zap.Int("offset", start), zap.Int("size", len(ok)))
	}

	if err := r.store.SetMeta(ctx, embedding.MetaKey, identity.Encode()); err != nil {
		return StageResult{}, fmt.Errorf("record embedding model: %w", err)
	}
	if err := vec.Save(r.cfg.Storage.VectorIndexPath); err != nil {
		return StageResult{}, fmt.Errorf("save vector index: %w", err)
	}
	if stats.Skipped > 0 {
		log.Warn("documents skipped during indexing", zap.Int("skipped", stats.Skipped))
	}
	return StageResult{Rows: stats.Indexed}, nil
}

// embedBatch embeds a batch in one call and falls back to one document at a
// time when the batch fails, so a single bad document only drops itself.
func (r *Runner) embedBatch(ctx context.Context, emb embedding.Embedder, batch []models.TrainingDocument, log *zap.Logger) ([]string, [][]float32, []models.TrainingDocument) {
	texts := make([]string, len(batch))
	for i := range batch {
		texts[i] = batch[i].EmbeddingText()
	}
	if vectors, err := emb.EmbedBatch(ctx, texts); err == nil {
		ids := make([]string, len(batch))
		for i := range batch {
			ids[i] = batch[i].Key()
		}
		return ids, vectors, batch
	}

	var (
		ids     []string
		vectors [][]float32
		ok      []models.TrainingDocument
	)
	for i := range batch {
		if ctx.Err() != nil {
			break
		}
		v, err := emb.Embed(ctx, texts[i])
		if err != nil {
			log.Warn("skipping document, embedding failed", zap.String("key", batch[i].Key()), zap.Error(err))
			continue
		}
		ids = append(ids, batch[i].Key())
		vectors = append(vectors, v)
		ok = append(ok, batch[i])
	}
	return ids, vectors, ok
}
