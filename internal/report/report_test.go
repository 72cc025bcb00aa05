package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/phoreus/rpmforge/internal/classify"
	"github.com/phoreus/rpmforge/internal/pipeline"
	"github.com/phoreus/rpmforge/internal/scheduler"
)

func sampleSummary() *scheduler.RunSummary {
	failure := &pipeline.StageResult{
		Stage:    pipeline.StageBuild,
		Category: classify.CategoryBuildScriptContractFailure,
		Excerpt:  "make: *** No rule to make target 'all'. Stop.",
	}
	return &scheduler.RunSummary{
		RunID:      "0d9c7a4e-test",
		StartedAt:  time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC),
		Processed:  2, Succeeded: 1, Failed: 1, Skipped: 1,
		FailedBy: map[classify.Category]int{
			classify.CategoryBuildScriptContractFailure: 1,
		},
		BuildOrder: []string{"zlib", "samtools"},
		Results: []scheduler.NodeResult{
			{Name: "zlib", Version: "1.3", Status: "Succeeded", Jobs: 4},
			{Name: "samtools", Version: "1.10", Status: "Failed", Jobs: 1, Retried: true, Failure: failure},
			{Name: "bcftools", Version: "1.10", Status: "Skipped", Diagnostic: "upstream samtools Failed"},
		},
	}
}

func TestWriteProducesAllRenderings(t *testing.T) {
	dir := t.TempDir()

	written, err := Write(dir, sampleSummary())
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(written) != 3 {
		t.Fatalf("written = %v", written)
	}

	for _, ext := range []string{".json", ".csv", ".md"} {
		want := filepath.Join(dir, "run-0d9c7a4e-test"+ext)
		if _, err := os.Stat(want); err != nil {
			t.Errorf("missing %s: %v", want, err)
		}
	}
}

func TestJSONRoundTrips(t *testing.T) {
	dir := t.TempDir()
	if _, err := Write(dir, sampleSummary()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "run-0d9c7a4e-test.json"))
	if err != nil {
		t.Fatal(err)
	}

	var got scheduler.RunSummary
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.RunID != "0d9c7a4e-test" || got.Failed != 1 || len(got.Results) != 3 {
		t.Fatalf("round trip = %+v", got)
	}
	if got.Results[1].Failure == nil || got.Results[1].Failure.Category != classify.CategoryBuildScriptContractFailure {
		t.Fatalf("failure detail lost: %+v", got.Results[1])
	}
}

func TestCSVHasOneRowPerResult(t *testing.T) {
	dir := t.TempDir()
	if _, err := Write(dir, sampleSummary()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "run-0d9c7a4e-test.csv"))
	if err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %d:\n%s", len(lines), raw)
	}
	if !strings.HasPrefix(lines[0], "name,recipe,version,status") {
		t.Fatalf("header = %q", lines[0])
	}
	if !strings.Contains(lines[2], "samtools") || !strings.Contains(lines[2], "Build") {
		t.Fatalf("failure row = %q", lines[2])
	}
}

func TestMarkdownFlagsSystemicRuns(t *testing.T) {
	summary := sampleSummary()
	summary.SystemicallyInvalid = true
	summary.SystemicStage = pipeline.StageIngestion

	dir := t.TempDir()
	if _, err := Write(dir, summary); err != nil {
		t.Fatalf("Write: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "run-0d9c7a4e-test.md"))
	if err != nil {
		t.Fatal(err)
	}
	text := string(raw)
	if !strings.Contains(text, "systemically invalid") || !strings.Contains(text, "Ingestion") {
		t.Fatalf("markdown missing systemic note:\n%s", text)
	}
	if !strings.Contains(text, "| samtools | 1.10 | Failed |") {
		t.Fatalf("markdown missing package row:\n%s", text)
	}
}

func TestWriteRejectsNilSummary(t *testing.T) {
	if _, err := Write(t.TempDir(), nil); err == nil {
		t.Fatal("expected error for nil summary")
	}
}
