// Package dump streams posts out of a Stack Exchange Posts.xml file.
//
// The file holds one <row/> element per post with the fields carried as
// attributes (Id, ParentId, Score, Body, ...). Rows are decoded one at a time so
// the whole dump never has to fit in memory.
package dump

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/hyperjump/stackprep/internal/models"
	"go.uber.org/zap"
)

// DefaultRowTag is the element name of a post in Posts.xml.
const DefaultRowTag = "row"

// ErrStop can be returned from an Each callback to end the scan early without an error.
var ErrStop = errors.New("dump: stop")

// Stats counts what a scan saw.
type Stats struct {
	Rows    int `json:"rows"`
	Skipped int `json:"skipped"`
}

// row mirrors the attributes we read. Numeric fields stay strings so a single
// bad value skips the row instead of failing the scan.
type row struct {
	ID         string `xml:"Id,attr"`
	ParentID   string `xml:"ParentId,attr"`
	PostTypeID string `xml:"PostTypeId,attr"`
	Score      string `xml:"Score,attr"`
	Title      string `xml:"Title,attr"`
	Body       string `xml:"Body,attr"`
}

// Reader decodes posts from an XML stream.
type Reader struct {
	r      io.Reader
	rowTag string
	logger *zap.Logger
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets a logger for skipped-row warnings.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reader) { r.logger = l }
}

// WithRowTag overrides the row element name.
func WithRowTag(tag string) Option {
	return func(r *Reader) {
		if tag != "" {
			r.rowTag = tag
		}
	}
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader, opts ...Option) *Reader {
	rd := &Reader{r: r, rowTag: DefaultRowTag}
	for _, opt := range opts {
		opt(rd)
	}
	return rd
}

// Each calls fn for every decodable row in document order. Rows with a missing
// or non-numeric Id, ParentId or Score are skipped and counted. A syntax error
// in the XML itself ends the scan with an error, since the decoder cannot
// resynchronise after it. If fn returns ErrStop the scan ends without error.
func (r *Reader) Each(fn func(models.Post) error) (Stats, error) {
	var stats Stats
	dec := xml.NewDecoder(r.r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("read xml token: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != r.rowTag {
			continue
		}
		var raw row
		if err := dec.DecodeElement(&raw, &se); err != nil {
			var syntaxErr *xml.SyntaxError
			if errors.As(err, &syntaxErr) {
				return stats, fmt.Errorf("decode row: %w", err)
			}
			stats.Skipped++
			r.warn("skipping undecodable row", zap.Error(err))
			continue
		}
		post, err := raw.toPost()
		if err != nil {
			stats.Skipped++
			r.warn("skipping row", zap.String("id", raw.ID), zap.Error(err))
			continue
		}
		stats.Rows++
		if err := fn(post); err != nil {
			if errors.Is(err, ErrStop) {
				return stats, nil
			}
			return stats, err
		}
	}
}

// ReadAll decodes every row into memory.
func (r *Reader) ReadAll() ([]models.Post, Stats, error) {
	var posts []models.Post
	stats, err := r.Each(func(p models.Post) error {
		posts = append(posts, p)
		return nil
	})
	return posts, stats, err
}

// EachFile opens path and calls fn for every row.
func EachFile(path string, fn func(models.Post) error, opts ...Option) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("open dump: %w", err)
	}
	defer f.Close()
	return NewReader(f, opts...).Each(fn)
}

func (r *Reader) warn(msg string, fields ...zap.Field) {
	if r.logger != nil {
		r.logger.Warn(msg, fields...)
	}
}

func (raw *row) toPost() (models.Post, error) {
	id, err := parseInt(raw.ID, "Id")
	if err != nil {
		return models.Post{}, err
	}
	score, err := parseInt(raw.Score, "Score")
	if err != nil {
		return models.Post{}, err
	}
	post := models.Post{
		ID:    id,
		Score: int(score),
		Title: raw.Title,
		Body:  raw.Body,
	}
	if strings.TrimSpace(raw.ParentID) != "" {
		parent, err := parseInt(raw.ParentID, "ParentId")
		if err != nil {
			return models.Post{}, err
		}
		post.ParentID = &parent
	}
	if raw.PostTypeID != "" {
		if t, err := strconv.Atoi(raw.PostTypeID); err == nil {
			post.PostTypeID = t
		}
	}
	return post, nil
}

func parseInt(s, field string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("missing %s", field)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", field, s)
	}
	return v, nil
}
