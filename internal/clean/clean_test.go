package clean

import (
	"strings"
	"testing"

	"github.com/hyperjump/stackprep/internal/models"
)

func post(id int64, parent *int64, score int, body string) models.Post {
	return models.Post{ID: id, ParentID: parent, Score: score, Body: body}
}

func TestClean(t *testing.T) {
	posts := []models.Post{
		post(1, nil, 8, "<p>How to water roses?</p>"),
		post(2, models.Int64Ptr(1), 6, "<p>Water daily.</p>"),
		post(3, models.Int64Ptr(1), 2, "<p>Low score.</p>"),
		post(4, nil, 5, "<p>"+strings.Repeat("x", 1000)+"</p>"),
		post(1, nil, 9, "<p>duplicate</p>"),
	}
	got, stats := Clean(posts, DefaultOptions())
	if len(got) != 2 {
		t.Fatalf("expected 2 posts, got %d: %+v", len(got), got)
	}
	if got[0].ID != 1 || got[0].Body != "How to water roses?" || got[0].IsQuestion() != true {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].ID != 2 || got[1].ParentID == nil || *got[1].ParentID != 1 || got[1].Body != "Water daily." {
		t.Errorf("second = %+v", got[1])
	}
	want := Stats{Read: 5, Kept: 2, DroppedScore: 1, DroppedLength: 1, Duplicates: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
}

func TestOptions_Keep(t *testing.T) {
	opts := Options{MinScore: 5, MaxBodyLength: 10}
	tests := []struct {
		name string
		p    models.Post
		want bool
	}{
		{"at threshold", post(1, nil, 5, "0123456789"), true},
		{"below score", post(1, nil, 4, "x"), false},
		{"too long", post(1, nil, 5, "01234567890"), false},
		{"length counts characters", post(1, nil, 5, "ééééééééé"), true},
		{"negative score", post(1, nil, -3, ""), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := opts.Keep(tt.p); got != tt.want {
				t.Errorf("Keep = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClean_lengthMeasuredOnRawHTML(t *testing.T) {
	// 20 characters raw, 4 after stripping.
	body := "<p><b>text</b></p>  "
	got, _ := Clean([]models.Post{post(1, nil, 5, body)}, Options{MinScore: 0, MaxBodyLength: 10})
	if len(got) != 0 {
		t.Error("length filter should use the raw body, not the stripped text")
	}
}

func TestClean_noLengthLimit(t *testing.T) {
	body := strings.Repeat("a", 5000)
	got, _ := Clean([]models.Post{post(1, nil, 5, body)}, Options{MinScore: 5})
	if len(got) != 1 {
		t.Error("zero MaxBodyLength should disable the length filter")
	}
}

func TestClean_parentCopied(t *testing.T) {
	parent := int64(7)
	got, _ := Clean([]models.Post{post(2, &parent, 5, "a")}, DefaultOptions())
	parent = 99
	if *got[0].ParentID != 7 {
		t.Error("cleaned post should not alias the input parent id")
	}
}

func TestClean_scoreDropWinsOverLength(t *testing.T) {
	body := strings.Repeat("x", 50)
	_, stats := Clean([]models.Post{post(1, nil, 1, body)}, Options{MinScore: 5, MaxBodyLength: 10})
	if stats.DroppedScore != 1 || stats.DroppedLength != 0 {
		t.Errorf("stats = %+v, want one score drop", stats)
	}
}

func TestClean_countsRecovered(t *testing.T) {
	posts := []models.Post{
		post(1, nil, 5, strings.Repeat("<b>", 600)+"mulch"),
		post(2, nil, 5, "<p>fine</p>"),
	}
	got, stats := Clean(posts, Options{MinScore: 5})
	if len(got) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(got))
	}
	if got[0].Body != "mulch" {
		t.Errorf("recovered body = %q, want %q", got[0].Body, "mulch")
	}
	if stats.Recovered != 1 || stats.Kept != 2 {
		t.Errorf("stats = %+v, want 1 recovered of 2 kept", stats)
	}
}
