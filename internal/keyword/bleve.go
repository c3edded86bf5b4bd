package keyword

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/stackprep/internal/assemble"
	"github.com/hyperjump/stackprep/internal/models"
)

const (
	fieldQuestion = "question"
	fieldAnswer   = "answer"
)

// keywordDoc is what gets stored in Bleve for a training document.
type keywordDoc struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

func toKeywordDoc(d *models.TrainingDocument) keywordDoc {
	q, a, _ := strings.Cut(d.Text, assemble.Separator)
	return keywordDoc{Question: q, Answer: a}
}

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	path  string
	index bleve.Index
	mu    sync.RWMutex
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer: lowercase and tokenize, no stemming.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(fieldQuestion, textFieldMapping)
	docMapping.AddFieldMappingsAt(fieldAnswer, textFieldMapping)
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path.
func NewBleveIndex(path string) (*BleveIndex, error) {
	index, err := openOrCreate(path)
	if err != nil {
		return nil, err
	}
	return &BleveIndex{path: path, index: index}, nil
}

func openOrCreate(path string) (bleve.Index, error) {
	if _, err := os.Stat(path); err == nil {
		index, err := bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", err)
		}
		return index, nil
	}
	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return index, nil
}

// Index adds or replaces one document.
func (b *BleveIndex) Index(_ context.Context, doc *models.TrainingDocument) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.Index(doc.Key(), toKeywordDoc(doc))
}

// IndexBatch adds or replaces documents in one Bleve batch.
func (b *BleveIndex) IndexBatch(ctx context.Context, docs []models.TrainingDocument) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	batch := b.index.NewBatch()
	for i := range docs {
		if err := batch.Index(docs[i].Key(), toKeywordDoc(&docs[i])); err != nil {
			return fmt.Errorf("batch index %s: %w", docs[i].Key(), err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("Bleve batch failed: %w", err)
	}
	return nil
}

// Search runs a match query over question and answer text. When
// opts.QuestionBoost or opts.PhraseBoost is above 1, question and answer are
// queried separately and merged with additive scoring, a term coverage
// penalty and a phrase bonus.
func (b *BleveIndex) Search(_ context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o := SearchOptions{QuestionBoost: 1, PhraseBoost: 1, Fuzziness: 2}
	if opts != nil {
		if opts.QuestionBoost > 0 {
			o.QuestionBoost = opts.QuestionBoost
		}
		if opts.PhraseBoost > 0 {
			o.PhraseBoost = opts.PhraseBoost
		}
		o.FuzzyEnabled = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			o.Fuzziness = opts.Fuzziness
		}
	}
	if limit <= 0 {
		return nil, nil
	}
	if o.QuestionBoost <= 1 && o.PhraseBoost <= 1 {
		return b.searchSingle(query, limit, o)
	}
	return b.searchWithBoosts(query, limit, o)
}

func (b *BleveIndex) run(q blevequery.Query, size int) (map[string]float64, error) {
	req := bleve.NewSearchRequest(q)
	req.Size = size
	res, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	scores := make(map[string]float64, len(res.Hits))
	for _, hit := range res.Hits {
		scores[hit.ID] = hit.Score
	}
	return scores, nil
}

func (b *BleveIndex) searchSingle(query string, limit int, o SearchOptions) ([]*KeywordResult, error) {
	scores, err := b.run(buildQuery(query, "", o), limit)
	if err != nil {
		return nil, err
	}
	return topResults(scores, limit), nil
}

func (b *BleveIndex) searchWithBoosts(query string, limit int, o SearchOptions) ([]*KeywordResult, error) {
	reqSize := max(limit*2, 50)
	questionScores, err := b.run(buildQuery(query, fieldQuestion, o), reqSize)
	if err != nil {
		return nil, err
	}
	answerScores, err := b.run(buildQuery(query, fieldAnswer, o), reqSize)
	if err != nil {
		return nil, err
	}

	terms := tokenizeQuery(query)
	coverage := make(map[string]int)
	phrase := make(map[string]bool)
	if len(terms) > 1 {
		for _, term := range terms {
			hits, err := b.run(buildQuery(term, "", o), reqSize)
			if err != nil {
				continue
			}
			for id := range hits {
				coverage[id]++
			}
		}
		if o.PhraseBoost > 1 {
			for _, field := range []string{fieldQuestion, fieldAnswer} {
				pq := bleve.NewMatchPhraseQuery(query)
				pq.SetField(field)
				hits, err := b.run(pq, reqSize)
				if err != nil {
					continue
				}
				for id := range hits {
					phrase[id] = true
				}
			}
		}
	}

	merged := make(map[string]float64, len(questionScores)+len(answerScores))
	for id, s := range questionScores {
		merged[id] += s * o.QuestionBoost
	}
	for id, s := range answerScores {
		merged[id] += s
	}
	for id, s := range merged {
		// Squared coverage: documents matching every term outrank partial matches.
		if len(terms) > 1 {
			c := float64(max(coverage[id], 1)) / float64(len(terms))
			s *= c * c
		}
		if phrase[id] {
			s *= o.PhraseBoost
		}
		merged[id] = s
	}
	return topResults(merged, limit), nil
}

// buildQuery returns a match query, or a disjunction of fuzzy term queries when
// fuzzy matching is on. An empty field searches all fields.
func buildQuery(query, field string, o SearchOptions) blevequery.Query {
	terms := tokenizeQuery(query)
	if !o.FuzzyEnabled || len(terms) == 0 {
		mq := bleve.NewMatchQuery(query)
		if field != "" {
			mq.SetField(field)
		}
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(o.Fuzziness)
		if field != "" {
			fq.SetField(field)
		}
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

func topResults(scores map[string]float64, limit int) []*KeywordResult {
	out := make([]*KeywordResult, 0, len(scores))
	for id, s := range scores {
		out = append(out, &KeywordResult{ID: id, Score: s})
	}
	slices.SortFunc(out, func(a, b *KeywordResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Delete removes a document.
func (b *BleveIndex) Delete(_ context.Context, key string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.Delete(key)
}

// Reset deletes the index directory and starts an empty index in its place.
func (b *BleveIndex) Reset(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.index.Close(); err != nil {
		return fmt.Errorf("close Bleve index: %w", err)
	}
	if err := os.RemoveAll(b.path); err != nil {
		return fmt.Errorf("remove Bleve index: %w", err)
	}
	index, err := bleve.New(b.path, newMapping())
	if err != nil {
		return fmt.Errorf("failed to create Bleve index: %w", err)
	}
	b.index = index
	return nil
}

// DocCount returns the number of indexed documents.
func (b *BleveIndex) DocCount() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.Close()
}
