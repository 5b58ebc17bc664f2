package parser

import (
	"errors"
	"net/url"
	"slices"
	"strings"
	"testing"

	"github.com/aluiziolira/go-fenix-files/config"
	"github.com/aluiziolira/go-fenix-files/models"
)

func TestParseStagedName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    StagedParts
		wantErr bool
	}{
		{
			name:  "simple",
			input: "SO1.Docs.slides1.pdf",
			want:  StagedParts{Course: "SO1", Section: "Docs", OriginalName: "slides1.pdf"},
		},
		{
			name:  "dotted original name",
			input: "IA.Lab.guide.v2.final.zip",
			want:  StagedParts{Course: "IA", Section: "Lab", OriginalName: "guide.v2.final.zip"},
		},
		{
			name:  "no extension",
			input: "Redes.Notes.README",
			want:  StagedParts{Course: "Redes", Section: "Notes", OriginalName: "README"},
		},
		{
			name:    "two parts",
			input:   "SO1.slides1",
			wantErr: true,
		},
		{
			name:    "no separator",
			input:   "slides1",
			wantErr: true,
		},
		{
			name:    "empty course",
			input:   ".Docs.slides1.pdf",
			wantErr: true,
		},
		{
			name:    "empty name",
			input:   "SO1.Docs.",
			wantErr: true,
		},
		{
			name:    "current directory name",
			input:   "SO1.Docs..",
			wantErr: true,
		},
		{
			name:    "parent directory name",
			input:   "SO1.Docs...",
			wantErr: true,
		},
		{
			name:  "leading dots kept",
			input: "SO1.Docs...hidden",
			want:  StagedParts{Course: "SO1", Section: "Docs", OriginalName: "..hidden"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStagedName(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedStagedName) {
					t.Fatalf("ParseStagedName(%q) error = %v, want ErrMalformedStagedName", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseStagedName(%q): %v", tt.input, err)
			}
			if got != tt.want {
				t.Fatalf("ParseStagedName(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestStagedNameRecoversFields(t *testing.T) {
	triples := []StagedParts{
		{Course: "SO1", Section: "Docs", OriginalName: "slides1.pdf"},
		{Course: "Course-2", Section: "Week_3", OriginalName: "a.b.c.d.jpg"},
		{Course: "x", Section: "y", OriginalName: "..hidden"},
	}
	for _, want := range triples {
		got, err := ParseStagedName(StagedName(want.Course, want.Section, want.OriginalName))
		if err != nil {
			t.Fatalf("parse %+v: %v", want, err)
		}
		if got != want {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	}
}

func TestNewDownloadTask(t *testing.T) {
	tmpl := MustCompileTemplate(config.DefaultConfig().SectionTemplate)

	task, err := NewDownloadTask(
		"https://fenix.tecnico.ulisboa.pt/disciplinas/SO1/2024-2025/1-semestre/Docs",
		"https://fenix.tecnico.ulisboa.pt/downloadFile/1234/slides1.pdf",
		tmpl,
	)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if task.StagedName != "SO1.Docs.slides1.pdf" {
		t.Fatalf("staged name = %q, want SO1.Docs.slides1.pdf", task.StagedName)
	}
	if err := ValidateTask(task); err != nil {
		t.Fatalf("validate: %v", err)
	}

	_, err = NewDownloadTask(
		"https://fenix.tecnico.ulisboa.pt/disciplinas/SO1",
		"https://fenix.tecnico.ulisboa.pt/downloadFile/1234/slides1.pdf",
		tmpl,
	)
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("short page url error = %v, want ErrNoMatch", err)
	}

	_, err = NewDownloadTask(
		"https://fenix.tecnico.ulisboa.pt/disciplinas/SO1/2024-2025/1-semestre/Docs",
		"https://fenix.tecnico.ulisboa.pt/",
		tmpl,
	)
	if !errors.Is(err, ErrNoFileName) {
		t.Fatalf("no file name error = %v, want ErrNoFileName", err)
	}
}

func TestNewDownloadTaskSanitizesSeparators(t *testing.T) {
	tmpl := MustCompileTemplate("/disciplinas/{course}/*/*/{section}")
	task, err := NewDownloadTask(
		"https://example.test/disciplinas/SO.1/2024/s1/Docs.old/extra",
		"https://example.test/files/report%20final.pdf",
		tmpl,
	)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if task.StagedName != "SO-1.Docs-old.report final.pdf" {
		t.Fatalf("staged name = %q", task.StagedName)
	}
	parts, err := ParseStagedName(task.StagedName)
	if err != nil || parts.Course != "SO-1" || parts.Section != "Docs-old" {
		t.Fatalf("parts=%+v err=%v", parts, err)
	}
}

func TestCompileTemplate(t *testing.T) {
	for _, bad := range []string{"/disciplinas/{course}", "/{section}/x", "/a//{course}/{section}", "/{course}/{course}/{section}"} {
		if _, err := CompileTemplate(bad); err == nil {
			t.Fatalf("CompileTemplate(%q) should fail", bad)
		}
	}

	tmpl := MustCompileTemplate("/disciplinas/{course}/*/*/{section}")
	u, _ := url.Parse("https://example.test/other/SO1/a/b/Docs")
	if _, _, err := tmpl.Match(u); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("literal segment mismatch should not match, got %v", err)
	}
}

func TestValidateTask(t *testing.T) {
	valid := &models.DownloadTask{
		URL:          "https://example.test/f/slides.pdf",
		Course:       "SO1",
		Section:      "Docs",
		OriginalName: "slides.pdf",
		StagedName:   "SO1.Docs.slides.pdf",
	}
	tests := []struct {
		name    string
		mutate  func(*models.DownloadTask)
		wantErr bool
	}{
		{name: "valid", mutate: func(*models.DownloadTask) {}},
		{name: "missing url", mutate: func(d *models.DownloadTask) { d.URL = "" }, wantErr: true},
		{name: "dotted course", mutate: func(d *models.DownloadTask) { d.Course = "S.O"; d.StagedName = "S.O.Docs.slides.pdf" }, wantErr: true},
		{name: "mismatched staged name", mutate: func(d *models.DownloadTask) { d.StagedName = "x.y.z" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := *valid
			tt.mutate(&task)
			if err := ValidateTask(&task); (err != nil) != tt.wantErr {
				t.Fatalf("ValidateTask() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
	if err := ValidateTask(nil); err == nil {
		t.Fatalf("nil task should fail")
	}
}

func mustDocument(t *testing.T, rawURL, body string) *Document {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	d, err := ParseDocument(u, []byte(body))
	if err != nil {
		t.Fatalf("parse document: %v", err)
	}
	return d
}

func TestFileRuleLinks(t *testing.T) {
	cfg := config.DefaultConfig()
	body := `<html><body>
<div>header</div><div>menu</div>
<div><main><div><div>
  <a href="/downloadFile/1/slides1.pdf">slides</a>
  <a href="notes/archive.ZIP">archive</a>
  <p><a href="https://cdn.example.test/img/photo.jpg">photo</a></p>
  <a href="/disciplinas/SO1/page">page</a>
  <a href="mailto:prof@example.test">mail</a>
  <a>no href</a>
  <a href="">empty</a>
  <a href="/downloadFile/2/slides1.pdf.html">not a pdf</a>
</div></div></main></div>
<a href="/outside/selection.pdf">outside</a>
</body></html>`
	d := mustDocument(t, "https://fenix.example.test/disciplinas/SO1/2024/s1/Docs", body)

	got := slices.Collect(FileRule(cfg.FileSelector, cfg.FileExtensions).Links(d))
	want := []string{
		"https://fenix.example.test/downloadFile/1/slides1.pdf",
		"https://fenix.example.test/disciplinas/SO1/2024/s1/notes/archive.ZIP",
		"https://cdn.example.test/img/photo.jpg",
	}
	if !slices.Equal(got, want) {
		t.Fatalf("links=%v, want %v", got, want)
	}
}

func TestFileRuleExtensibleAllowList(t *testing.T) {
	body := `<html><body><div></div><div></div><div><main><div><div>
<a href="a.pdf">a</a><a href="b.pptx">b</a><a href="c.txt">c</a>
</div></div></main></div></body></html>`
	d := mustDocument(t, "https://example.test/x/", body)

	rule := FileRule(config.DefaultConfig().FileSelector, []string{".pdf", ".PPTX"})
	got := slices.Collect(rule.Links(d))
	if len(got) != 2 || !strings.HasSuffix(got[1], "b.pptx") {
		t.Fatalf("links=%v", got)
	}
}

func TestSidebarRuleLinks(t *testing.T) {
	body := `<html><body><div><main><nav>
<div><a href="/ignored">brand</a></div>
<div><ul>
  <li><a href="2024/s1/Docs">Docs</a></li>
  <li><ul><li><a href="/disciplinas/SO1/2024/s1/Labs">Labs</a></li></ul></li>
</ul></div>
</nav></main></div></body></html>`
	d := mustDocument(t, "https://example.test/disciplinas/SO1/", body)

	rule := SidebarRule(config.DefaultConfig().SidebarSelector)
	if err := rule.Check(d); err != nil {
		t.Fatalf("check: %v", err)
	}
	got := slices.Collect(rule.Links(d))
	want := []string{
		"https://example.test/disciplinas/SO1/2024/s1/Docs",
		"https://example.test/disciplinas/SO1/2024/s1/Labs",
	}
	if !slices.Equal(got, want) {
		t.Fatalf("links=%v, want %v", got, want)
	}
}

func TestRuleCheckEmptySelection(t *testing.T) {
	d := mustDocument(t, "https://example.test/", "<html><body><p>nothing</p></body></html>")
	err := SidebarRule(config.DefaultConfig().SidebarSelector).Check(d)
	var extractErr *ExtractionError
	if !errors.As(err, &extractErr) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if got := slices.Collect(SidebarRule(config.DefaultConfig().SidebarSelector).Links(d)); len(got) != 0 {
		t.Fatalf("links=%v, want none", got)
	}
}

func TestLinksStopsEarly(t *testing.T) {
	d := mustDocument(t, "https://example.test/", `<html><body><a href="a.pdf"></a><a href="b.pdf"></a><a href="c.pdf"></a></body></html>`)
	rule := FileRule("a[href]", []string{".pdf"})

	var seen []string
	for link := range rule.Links(d) {
		seen = append(seen, link)
		if len(seen) == 2 {
			break
		}
	}
	if len(seen) != 2 {
		t.Fatalf("seen=%v, want 2 links", seen)
	}
}
