package report

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/phoreus/rpmforge/internal/classify"
	"github.com/phoreus/rpmforge/internal/paths"
	"github.com/phoreus/rpmforge/internal/scheduler"
)

var ErrReport = errors.New("report")

// Writes the summary as JSON, CSV, and Markdown under dir and returns
// the paths of the written files.
//
// Files are named run-<run id>.<ext>. The summary is consumed read-only.
func Write(dir string, summary *scheduler.RunSummary) ([]string, error) {
	if summary == nil {
		return nil, fmt.Errorf("%w: no summary", ErrReport)
	}
	if err := os.MkdirAll(dir, paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReport, err)
	}

	base := filepath.Join(dir, "run-"+summary.RunID)
	written := make([]string, 0, 3)

	for _, out := range []struct {
		ext    string
		render func(*scheduler.RunSummary) ([]byte, error)
	}{
		{".json", renderJSON},
		{".csv", renderCSV},
		{".md", renderMarkdown},
	} {
		raw, err := out.render(summary)
		if err != nil {
			return written, fmt.Errorf("%w: %w", ErrReport, err)
		}
		path := base + out.ext
		if err := os.WriteFile(path, raw, paths.DefaultFileMode); err != nil {
			return written, fmt.Errorf("%w: %w", ErrReport, err)
		}
		written = append(written, path)
	}
	return written, nil
}

func renderJSON(summary *scheduler.RunSummary) ([]byte, error) {
	raw, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(raw, '\n'), nil
}

// One row per terminal node, completion order.
func renderCSV(summary *scheduler.RunSummary) ([]byte, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)

	if err := w.Write([]string{"name", "recipe", "version", "status", "jobs", "retried", "stage", "category", "diagnostic"}); err != nil {
		return nil, err
	}
	for _, r := range summary.Results {
		stage, category := "", ""
		if r.Failure != nil {
			stage = string(r.Failure.Stage)
			category = string(r.Failure.Category)
		}
		row := []string{
			r.Name,
			r.Recipe,
			r.Version,
			r.Status,
			fmt.Sprintf("%d", r.Jobs),
			fmt.Sprintf("%t", r.Retried),
			stage,
			category,
			r.Diagnostic,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func renderMarkdown(summary *scheduler.RunSummary) ([]byte, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "# Build run %s\n\n", summary.RunID)
	fmt.Fprintf(&b, "Started %s, finished %s.\n\n",
		summary.StartedAt.Format("2006-01-02 15:04:05 MST"),
		summary.FinishedAt.Format("2006-01-02 15:04:05 MST"))

	if summary.SystemicallyInvalid {
		fmt.Fprintf(&b, "**Run is systemically invalid**: repeated %s failures indicate an environment defect, not package defects.\n\n", summary.SystemicStage)
	}

	fmt.Fprintf(&b, "| Processed | Succeeded | Failed | Quarantined | Skipped |\n")
	fmt.Fprintf(&b, "|---|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d | %d |\n\n",
		summary.Processed, summary.Succeeded, summary.Failed, summary.Quarantined, summary.Skipped)

	if len(summary.FailedBy) > 0 {
		b.WriteString("## Failures by category\n\n")
		for _, category := range sortedCategories(summary.FailedBy) {
			fmt.Fprintf(&b, "- %s: %d\n", category, summary.FailedBy[category])
		}
		b.WriteString("\n")
	}

	b.WriteString("## Packages\n\n")
	b.WriteString("| Package | Version | Status | Detail |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, r := range summary.Results {
		detail := r.Diagnostic
		if r.Failure != nil {
			detail = fmt.Sprintf("%s at %s", r.Failure.Category, r.Failure.Stage)
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", r.Name, r.Version, r.Status, mdCell(detail))
	}

	return []byte(b.String()), nil
}

func sortedCategories(failedBy map[classify.Category]int) []classify.Category {
	categories := make([]classify.Category, 0, len(failedBy))
	for category := range failedBy {
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })
	return categories
}

func mdCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", "\\|")
}
