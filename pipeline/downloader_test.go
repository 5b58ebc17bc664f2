package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aluiziolira/go-fenix-files/models"
	"github.com/jarcoal/httpmock"
)

const fileURL = "https://fenix.example.test/downloadFile/123/slides1.pdf"

func newTestDownloader(t *testing.T) (*FileDownloader, *httpmock.MockTransport, string) {
	t.Helper()

	transport := httpmock.NewMockTransport()
	dir := t.TempDir()
	d, err := NewFileDownloader(&http.Client{Transport: transport}, dir, "test-agent")
	if err != nil {
		t.Fatalf("new downloader: %v", err)
	}
	return d, transport, dir
}

func slidesTask() *models.DownloadTask {
	tk := task("SO1", "Docs", "slides1.pdf")
	tk.URL = fileURL
	return tk
}

func assertNoPartials(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(dir, PartialDir))
	if err != nil {
		t.Fatalf("read partial dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no partial files, found %d", len(entries))
	}
}

func TestDownloadWritesStagedFile(t *testing.T) {
	d, transport, dir := newTestDownloader(t)
	transport.RegisterResponder(http.MethodGet, fileURL, func(req *http.Request) (*http.Response, error) {
		if ua := req.Header.Get("User-Agent"); ua != "test-agent" {
			t.Errorf("user agent = %q", ua)
		}
		return httpmock.NewStringResponse(http.StatusOK, "%PDF-1.4 slides"), nil
	})

	staged, err := d.Download(context.Background(), slidesTask())
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if staged.AlreadyPresent {
		t.Fatal("fresh download reported as already present")
	}
	if staged.Name != "SO1.Docs.slides1.pdf" {
		t.Fatalf("staged name = %q", staged.Name)
	}

	data, err := os.ReadFile(filepath.Join(dir, "SO1.Docs.slides1.pdf"))
	if err != nil {
		t.Fatalf("read staged file: %v", err)
	}
	if string(data) != "%PDF-1.4 slides" {
		t.Fatalf("content = %q", data)
	}
	if staged.Bytes != int64(len(data)) {
		t.Fatalf("bytes = %d, want %d", staged.Bytes, len(data))
	}
	assertNoPartials(t, dir)
}

func TestDownloadSkipsExistingStagedFile(t *testing.T) {
	d, transport, dir := newTestDownloader(t)
	transport.RegisterResponder(http.MethodGet, fileURL, httpmock.NewStringResponder(http.StatusOK, "first"))

	if _, err := d.Download(context.Background(), slidesTask()); err != nil {
		t.Fatalf("first download: %v", err)
	}

	transport.RegisterResponder(http.MethodGet, fileURL, httpmock.NewStringResponder(http.StatusOK, "second"))
	staged, err := d.Download(context.Background(), slidesTask())
	if err != nil {
		t.Fatalf("second download: %v", err)
	}
	if !staged.AlreadyPresent {
		t.Fatal("expected already present on second download")
	}
	if got := transport.GetTotalCallCount(); got != 1 {
		t.Fatalf("requests = %d, want 1", got)
	}

	data, _ := os.ReadFile(filepath.Join(dir, "SO1.Docs.slides1.pdf"))
	if string(data) != "first" {
		t.Fatalf("staged file was rewritten: %q", data)
	}
}

func TestDownloadHTTPStatus(t *testing.T) {
	d, transport, dir := newTestDownloader(t)
	transport.RegisterResponder(http.MethodGet, fileURL, httpmock.NewStringResponder(http.StatusNotFound, "missing"))

	_, err := d.Download(context.Background(), slidesTask())
	var dlErr *DownloadError
	if !errors.As(err, &dlErr) {
		t.Fatalf("expected DownloadError, got %v", err)
	}
	if dlErr.Kind != KindHTTPStatus || dlErr.StatusCode != http.StatusNotFound {
		t.Fatalf("kind=%s status=%d", dlErr.Kind, dlErr.StatusCode)
	}
	if _, err := os.Stat(filepath.Join(dir, "SO1.Docs.slides1.pdf")); !os.IsNotExist(err) {
		t.Fatalf("staged file should not exist, stat err=%v", err)
	}
}

func TestDownloadTruncatedBody(t *testing.T) {
	d, transport, dir := newTestDownloader(t)
	transport.RegisterResponder(http.MethodGet, fileURL, func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			Status:        "200 OK",
			StatusCode:    http.StatusOK,
			Body:          io.NopCloser(strings.NewReader("short")),
			ContentLength: 100,
			Header:        http.Header{},
			Request:       req,
		}, nil
	})

	_, err := d.Download(context.Background(), slidesTask())
	var dlErr *DownloadError
	if !errors.As(err, &dlErr) || dlErr.Kind != KindTruncatedBody {
		t.Fatalf("expected truncated body error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "SO1.Docs.slides1.pdf")); !os.IsNotExist(err) {
		t.Fatalf("truncated file must not be published, stat err=%v", err)
	}
	assertNoPartials(t, dir)
}

func TestDownloadTimeout(t *testing.T) {
	d, transport, dir := newTestDownloader(t)
	transport.RegisterResponder(http.MethodGet, fileURL, httpmock.NewErrorResponder(context.DeadlineExceeded))

	_, err := d.Download(context.Background(), slidesTask())
	var dlErr *DownloadError
	if !errors.As(err, &dlErr) || dlErr.Kind != KindTimeout {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if failureKind(err) != "timeout" {
		t.Fatalf("failure kind = %q", failureKind(err))
	}
	assertNoPartials(t, dir)
}

func TestDownloadTransportError(t *testing.T) {
	d, transport, _ := newTestDownloader(t)
	transport.RegisterResponder(http.MethodGet, fileURL, httpmock.NewErrorResponder(errors.New("connection reset")))

	_, err := d.Download(context.Background(), slidesTask())
	if failureKind(err) != string(KindTransport) {
		t.Fatalf("failure kind = %q, err=%v", failureKind(err), err)
	}
}
