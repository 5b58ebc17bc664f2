package organizer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aluiziolira/go-fenix-files/parser"
)

func writeStaged(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write staged file: %v", err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

type outcomeCounter map[string]int

func (c outcomeCounter) IncFiled(outcome string) { c[outcome]++ }

func TestOrganizeKeepCopyIsIdempotent(t *testing.T) {
	staging := t.TempDir()
	root := filepath.Join(t.TempDir(), "files")
	writeStaged(t, staging, "SO1.Docs.slides1.pdf", "slides v1")

	report, err := Organize(context.Background(), staging, root, true)
	if err != nil {
		t.Fatalf("organize: %v", err)
	}
	if report.Filed != 1 || report.Duplicates != 0 || report.Failed != 0 {
		t.Fatalf("first run report = %+v", report)
	}
	if len(report.FiledPaths) != 1 || report.FiledPaths[0] != "SO1/Docs/slides1.pdf" {
		t.Fatalf("filed paths = %v", report.FiledPaths)
	}

	dest := filepath.Join(root, "SO1", "Docs", "slides1.pdf")
	if got := readFile(t, dest); got != "slides v1" {
		t.Fatalf("filed content = %q", got)
	}
	if _, err := os.Stat(filepath.Join(staging, "SO1.Docs.slides1.pdf")); err != nil {
		t.Fatalf("staged file should remain with keepCopy: %v", err)
	}

	// A changed staged copy must not replace the filed one.
	writeStaged(t, staging, "SO1.Docs.slides1.pdf", "slides v2")
	report, err = Organize(context.Background(), staging, root, true)
	if err != nil {
		t.Fatalf("second organize: %v", err)
	}
	if report.Filed != 0 || report.Duplicates != 1 || report.Failed != 0 {
		t.Fatalf("second run report = %+v", report)
	}
	if got := readFile(t, dest); got != "slides v1" {
		t.Fatalf("destination was overwritten: %q", got)
	}
}

func TestOrganizeMoveRemovesStagedFile(t *testing.T) {
	staging := t.TempDir()
	root := t.TempDir()
	writeStaged(t, staging, "IA.Labs.guide.v2.pdf", "guide")

	report, err := Organize(context.Background(), staging, root, false)
	if err != nil {
		t.Fatalf("organize: %v", err)
	}
	if report.Filed != 1 {
		t.Fatalf("report = %+v", report)
	}
	if got := readFile(t, filepath.Join(root, "IA", "Labs", "guide.v2.pdf")); got != "guide" {
		t.Fatalf("filed content = %q", got)
	}
	if _, err := os.Stat(filepath.Join(staging, "IA.Labs.guide.v2.pdf")); !os.IsNotExist(err) {
		t.Fatalf("staged file should be gone after move, stat err=%v", err)
	}
}

func TestOrganizeMoveLeavesDuplicateInStaging(t *testing.T) {
	staging := t.TempDir()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "SO1", "Docs"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "SO1", "Docs", "slides1.pdf"), []byte("filed"), 0o644); err != nil {
		t.Fatal(err)
	}
	writeStaged(t, staging, "SO1.Docs.slides1.pdf", "staged")

	report, err := Organize(context.Background(), staging, root, false)
	if err != nil {
		t.Fatalf("organize: %v", err)
	}
	if report.Duplicates != 1 || report.Filed != 0 {
		t.Fatalf("report = %+v", report)
	}
	if got := readFile(t, filepath.Join(staging, "SO1.Docs.slides1.pdf")); got != "staged" {
		t.Fatalf("staged file changed: %q", got)
	}
	if got := readFile(t, filepath.Join(root, "SO1", "Docs", "slides1.pdf")); got != "filed" {
		t.Fatalf("destination changed: %q", got)
	}
}

func TestOrganizeReportsMalformedNames(t *testing.T) {
	staging := t.TempDir()
	root := t.TempDir()
	writeStaged(t, staging, "README", "x")
	writeStaged(t, staging, "SO1.notes", "x")
	writeStaged(t, staging, "SO1.Docs..", "x")
	writeStaged(t, staging, "SO1.Docs...", "x")
	writeStaged(t, staging, "SO1.Docs.ok.pdf", "ok")

	counter := outcomeCounter{}
	report, err := New(WithRecorder(counter)).Organize(context.Background(), staging, root, true)
	if err != nil {
		t.Fatalf("organize: %v", err)
	}
	if report.Failed != 4 || report.Filed != 1 || report.Duplicates != 0 {
		t.Fatalf("report = %+v", report)
	}
	for _, err := range report.Errors {
		var filingErr *FilingError
		if !errors.As(err, &filingErr) || filingErr.Kind != KindMalformedStagedName {
			t.Fatalf("expected malformed staged name error, got %v", err)
		}
		if !errors.Is(err, parser.ErrMalformedStagedName) {
			t.Fatalf("expected wrapped ErrMalformedStagedName, got %v", err)
		}
	}
	if !strings.Contains(report.ErrorSummary(), "README") {
		t.Fatalf("error summary = %q", report.ErrorSummary())
	}
	if counter[OutcomeFailed] != 4 || counter[OutcomeFiled] != 1 {
		t.Fatalf("recorded outcomes = %v", counter)
	}
}

func TestOrganizeIgnoresDirectories(t *testing.T) {
	staging := t.TempDir()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(staging, ".partial"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeStaged(t, filepath.Join(staging, ".partial"), "SO1.Docs.slides1.pdf.123.part", "half")
	if err := os.MkdirAll(filepath.Join(staging, "SO1.Docs.dir"), 0o755); err != nil {
		t.Fatal(err)
	}

	report, err := Organize(context.Background(), staging, root, false)
	if err != nil {
		t.Fatalf("organize: %v", err)
	}
	if report.Filed != 0 || report.Duplicates != 0 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}
}

func TestOrganizeLogsFilingLines(t *testing.T) {
	staging := t.TempDir()
	root := t.TempDir()
	writeStaged(t, staging, "SO1.Docs.slides1.pdf", "slides")

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	o := New(WithLogger(logger))

	if _, err := o.Organize(context.Background(), staging, root, true); err != nil {
		t.Fatalf("organize: %v", err)
	}
	if _, err := o.Organize(context.Background(), staging, root, true); err != nil {
		t.Fatalf("organize: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"Copied slides1.pdf to SO1/Docs", "File already exists", "Number of files organized"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestOrganizeStopsOnCancelledContext(t *testing.T) {
	staging := t.TempDir()
	writeStaged(t, staging, "SO1.Docs.slides1.pdf", "slides")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := Organize(ctx, staging, t.TempDir(), true)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if report == nil || report.Filed != 0 {
		t.Fatalf("report = %+v", report)
	}
}
