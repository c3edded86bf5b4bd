// Package cli renders run reports, status and search results for the stackprep CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/stackprep/internal/models"
	"github.com/hyperjump/stackprep/internal/pipeline"
	"github.com/hyperjump/stackprep/internal/storage"
	"github.com/hyperjump/stackprep/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const rule = "─────────────────────────────────────────────────────────"

// ParseOutputFormat converts a --format flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (supported: text, json)", s)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms (model %s)\n\n", response.Total, response.QueryTime, response.Model)
	for _, result := range response.Results {
		writeOneResult(w, result)
	}
	return nil
}

func writeOneResult(w io.Writer, result *models.SearchResult) {
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Rank: %d | Score: %.4f (Keyword: %.4f, Semantic: %.4f)\n",
		result.Rank, result.Score, result.KeywordScore, result.SemanticScore)
	fmt.Fprintf(w, "Source: %d\n", result.Document.Source)
	fmt.Fprintf(w, "\n%s\n", utils.Truncate(result.Document.Text, 200))
	if result.Document.TextShort != nil {
		fmt.Fprintf(w, "\nSummary: %s\n", utils.Truncate(*result.Document.TextShort, 200))
	}
	fmt.Fprintln(w)
}

// WriteReport writes a pipeline run report to w in the given format.
func WriteReport(w io.Writer, report *pipeline.Report, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	for _, sr := range report.Stages {
		if sr.Skipped {
			fmt.Fprintf(w, "%-10s skipped (%s)\n", sr.Stage, sr.Reason)
			continue
		}
		fmt.Fprintf(w, "%-10s %8d rows  %s  %s\n", sr.Stage, sr.Rows, round(sr.Duration), stageDetail(report, sr.Stage))
	}
	fmt.Fprintf(w, "total      %s\n", round(report.Duration))
	return nil
}

func stageDetail(r *pipeline.Report, s pipeline.Stage) string {
	switch s {
	case pipeline.StageFetch:
		if f := r.Fetch; f != nil {
			return fmt.Sprintf("downloaded=%t extracted=%t archive=%s raw=%s attempts=%d",
				f.Downloaded, f.Extracted, FormatBytes(f.ArchiveBytes), FormatBytes(f.RawBytes), f.Attempts)
		}
	case pipeline.StageClean:
		if r.Parse != nil && r.Clean != nil {
			return fmt.Sprintf("parsed=%d bad_rows=%d kept=%d low_score=%d too_long=%d duplicates=%d recovered=%d",
				r.Parse.Rows, r.Parse.Skipped, r.Clean.Kept, r.Clean.DroppedScore, r.Clean.DroppedLength,
				r.Clean.Duplicates, r.Clean.Recovered)
		}
	case pipeline.StageAssemble:
		if a := r.Assemble; a != nil {
			return fmt.Sprintf("questions=%d answers=%d pairs=%d orphan_answers=%d",
				a.Questions, a.Answers, a.Pairs, a.OrphanAnswers)
		}
	case pipeline.StageSummarize:
		if s := r.Summarize; s != nil {
			return fmt.Sprintf("summarized=%d short=%d failed=%d", s.Summarized, s.Short, s.Failed)
		}
	case pipeline.StageIndex:
		if i := r.Index; i != nil {
			return fmt.Sprintf("indexed=%d skipped=%d model=%s", i.Indexed, i.Skipped, i.Model)
		}
	}
	return ""
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}

// Status summarises what a configuration has produced on disk.
type Status struct {
	ArchivePath    string              `json:"archive_path"`
	ArchivePresent bool                `json:"archive_present"`
	RawPath        string              `json:"raw_path"`
	RawPresent     bool                `json:"raw_present"`
	DatabasePath   string              `json:"database_path"`
	Tables         storage.TableCounts `json:"tables"`
	IndexModel     string              `json:"index_model,omitempty"`
	DiskUsage      int64               `json:"disk_usage_bytes"`
}

// WriteStatus writes s to w in the given format.
func WriteStatus(w io.Writer, s *Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "Archive:   %s (%s)\n", s.ArchivePath, presence(s.ArchivePresent))
	fmt.Fprintf(w, "Raw dump:  %s (%s)\n", s.RawPath, presence(s.RawPresent))
	fmt.Fprintf(w, "Database:  %s\n", s.DatabasePath)
	fmt.Fprintf(w, "  cleaned posts:      %d\n", s.Tables.Cleaned)
	fmt.Fprintf(w, "  training documents: %d\n", s.Tables.Training)
	model := s.IndexModel
	if model == "" {
		model = "not indexed"
	}
	fmt.Fprintf(w, "Index:     %s\n", model)
	fmt.Fprintf(w, "Disk:      %s\n", FormatBytes(s.DiskUsage))
	return nil
}

func presence(ok bool) string {
	if ok {
		return "present"
	}
	return "missing"
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
