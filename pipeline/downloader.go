package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/aluiziolira/go-fenix-files/models"
)

// PartialDir is the staging subdirectory holding in-flight downloads.
const PartialDir = ".partial"

// FileDownloader streams files into the staging directory.
type FileDownloader struct {
	client     *http.Client
	stagingDir string
	userAgent  string
}

// NewFileDownloader creates the staging directory if needed.
func NewFileDownloader(client *http.Client, stagingDir, userAgent string) (*FileDownloader, error) {
	if err := os.MkdirAll(filepath.Join(stagingDir, PartialDir), 0o755); err != nil {
		return nil, fmt.Errorf("create staging directory %q: %w", stagingDir, err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &FileDownloader{client: client, stagingDir: stagingDir, userAgent: userAgent}, nil
}

// Download writes task's file to <staging>/<StagedName>. A staged file that
// already exists is reported as AlreadyPresent and never rewritten. The body
// is streamed into .partial and linked into place once complete.
func (d *FileDownloader) Download(ctx context.Context, task *models.DownloadTask) (*models.StagedFile, error) {
	dest := filepath.Join(d.stagingDir, task.StagedName)
	if info, err := os.Stat(dest); err == nil && info.Mode().IsRegular() {
		return &models.StagedFile{Path: dest, Name: task.StagedName, Bytes: info.Size(), AlreadyPresent: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return nil, &DownloadError{Kind: KindTransport, URL: task.URL, Err: err}
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, classifyTransport(task.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &DownloadError{Kind: KindHTTPStatus, URL: task.URL, StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
	}

	tmp, err := os.CreateTemp(filepath.Join(d.stagingDir, PartialDir), task.StagedName+".*.part")
	if err != nil {
		return nil, &DownloadError{Kind: KindFilesystem, URL: task.URL, Err: err}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	written, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		return nil, classifyTransport(task.URL, err)
	}
	if resp.ContentLength >= 0 && written != resp.ContentLength {
		tmp.Close()
		return nil, &DownloadError{
			Kind: KindTruncatedBody,
			URL:  task.URL,
			Err:  fmt.Errorf("got %d of %d bytes", written, resp.ContentLength),
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, &DownloadError{Kind: KindFilesystem, URL: task.URL, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return nil, &DownloadError{Kind: KindFilesystem, URL: task.URL, Err: err}
	}

	if err := publish(tmpPath, dest); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return &models.StagedFile{Path: dest, Name: task.StagedName, Bytes: written, AlreadyPresent: true}, nil
		}
		return nil, &DownloadError{Kind: KindFilesystem, URL: task.URL, Err: err}
	}

	return &models.StagedFile{Path: dest, Name: task.StagedName, Bytes: written}, nil
}

// publish moves src to dest without replacing an existing dest.
func publish(src, dest string) error {
	err := os.Link(src, dest)
	if err == nil || errors.Is(err, fs.ErrExist) {
		return err
	}
	// Hard links are unavailable on some filesystems.
	if _, statErr := os.Stat(dest); statErr == nil {
		return fs.ErrExist
	}
	return os.Rename(src, dest)
}
