// Package assemble joins cleaned questions to their answers and builds
// training documents from the pairs.
package assemble

import "github.com/hyperjump/stackprep/internal/models"

// Separator joins question and answer text in a training document.
const Separator = "\n\n"

// Stats describes the join.
type Stats struct {
	Questions       int `json:"questions"`
	Answers         int `json:"answers"`
	Pairs           int `json:"pairs"`
	OrphanQuestions int `json:"orphan_questions"`
	OrphanAnswers   int `json:"orphan_answers"`
}

// Pairs returns one pair per (answer, question) where the answer's parent is a
// question in posts. Answers whose question was filtered out produce nothing,
// and so do questions with no surviving answer. Output follows answer order.
func Pairs(posts []models.CleanedPost) ([]models.QAPair, Stats) {
	var stats Stats
	questions := make(map[int64]models.CleanedPost)
	for _, p := range posts {
		if p.IsQuestion() {
			if _, ok := questions[p.ID]; !ok {
				questions[p.ID] = p
				stats.Questions++
			}
		}
	}
	answered := make(map[int64]struct{})
	var pairs []models.QAPair
	for _, p := range posts {
		if p.IsQuestion() {
			continue
		}
		stats.Answers++
		q, ok := questions[*p.ParentID]
		if !ok {
			stats.OrphanAnswers++
			continue
		}
		answered[q.ID] = struct{}{}
		pairs = append(pairs, models.QAPair{
			AnswerID: p.ID,
			Question: q.Body,
			Answer:   p.Body,
		})
	}
	stats.Pairs = len(pairs)
	stats.OrphanQuestions = stats.Questions - len(answered)
	return pairs, stats
}

// Document builds the training document for a pair.
func Document(p models.QAPair) models.TrainingDocument {
	return models.TrainingDocument{
		Source: p.AnswerID,
		Text:   p.Question + Separator + p.Answer,
	}
}

// Documents builds one training document per pair.
func Documents(pairs []models.QAPair) []models.TrainingDocument {
	docs := make([]models.TrainingDocument, 0, len(pairs))
	for _, p := range pairs {
		docs = append(docs, Document(p))
	}
	return docs
}

// Build runs Pairs then Documents.
func Build(posts []models.CleanedPost) ([]models.TrainingDocument, Stats) {
	pairs, stats := Pairs(posts)
	return Documents(pairs), stats
}
