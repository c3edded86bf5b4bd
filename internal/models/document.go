// Package models defines the rows that flow through the data preparation pipeline:
// raw posts, cleaned posts, question/answer pairs, and training documents.
package models

import "strconv"

// Post is one <row> of a Stack Exchange Posts.xml dump.
// ParentID is nil for questions and set for answers.
type Post struct {
	ID         int64  `json:"id"`
	ParentID   *int64 `json:"parent_id,omitempty"`
	PostTypeID int    `json:"post_type_id,omitempty"`
	Score      int    `json:"score"`
	Title      string `json:"title,omitempty"`
	Body       string `json:"body"`
}

// IsQuestion reports whether the post has no parent.
func (p *Post) IsQuestion() bool {
	return p.ParentID == nil
}

// CleanedPost is a Post that passed the score and length filters, with its body
// reduced to plain text.
type CleanedPost struct {
	ID       int64  `json:"id" db:"id"`
	ParentID *int64 `json:"parent_id" db:"parent_id"`
	Body     string `json:"body" db:"body"`
}

// IsQuestion reports whether the cleaned post has no parent.
func (p *CleanedPost) IsQuestion() bool {
	return p.ParentID == nil
}

// QAPair is one question matched with one of its surviving answers.
type QAPair struct {
	AnswerID int64  `json:"answer_id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// TrainingDocument is the unit that gets embedded and indexed. Source is the
// answer id and acts as the stable document key. TextShort is only set when
// summarization runs in augment mode.
type TrainingDocument struct {
	Source    int64   `json:"source" db:"source"`
	Text      string  `json:"text" db:"text"`
	TextShort *string `json:"text_short,omitempty" db:"text_short"`
}

// Key returns the document key used by the vector and keyword indices.
func (d *TrainingDocument) Key() string {
	return strconv.FormatInt(d.Source, 10)
}

// EmbeddingText returns the text that should be embedded: the short form when
// one was produced, the full text otherwise.
func (d *TrainingDocument) EmbeddingText() string {
	if d.TextShort != nil && *d.TextShort != "" {
		return *d.TextShort
	}
	return d.Text
}

// ParseKey converts a document key back into a source id.
func ParseKey(key string) (int64, error) {
	return strconv.ParseInt(key, 10, 64)
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
