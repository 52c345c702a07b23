package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeGo(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestRunAcceptsMarkedQueries(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "q.go", "package q\n\nconst QOne = `--sql 0f6a1d3e-8b2c-4a57-9e11-3c5d7f9a2b41\nSELECT 1`\n\nconst Label = \"not sql\"\n")

	var stderr bytes.Buffer
	if code := run([]string{dir}, &stderr); code != 0 {
		t.Fatalf("expected clean run, got %d: %s", code, stderr.String())
	}
}

func TestRunReportsMissingAndDuplicateMarkers(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "a.go", "package q\n\nconst QA = `--sql 0f6a1d3e-8b2c-4a57-9e11-3c5d7f9a2b41\nSELECT 1`\n")
	writeGo(t, dir, "b.go", "package q\n\nconst QB = `--sql 0f6a1d3e-8b2c-4a57-9e11-3c5d7f9a2b41\nDELETE FROM t`\n\nvar QC = \"UPDATE t SET x = 1\"\n")

	var stderr bytes.Buffer
	if code := run([]string{dir}, &stderr); code != 1 {
		t.Fatalf("expected failure, got %d", code)
	}
	out := stderr.String()
	if !strings.Contains(out, "marker already used by QA") {
		t.Fatalf("expected duplicate report, got %s", out)
	}
	if !strings.Contains(out, "missing or invalid --sql <uuid> marker (QC)") {
		t.Fatalf("expected missing marker report, got %s", out)
	}
}

func TestRunSqlinlinePackage(t *testing.T) {
	var stderr bytes.Buffer
	if code := run([]string{"../../sqlinline"}, &stderr); code != 0 {
		t.Fatalf("sqlinline has marker violations: %s", stderr.String())
	}
}
