package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

// DownloadErrorKind labels why a download failed.
type DownloadErrorKind string

const (
	KindTimeout       DownloadErrorKind = "timeout"
	KindHTTPStatus    DownloadErrorKind = "http_status"
	KindTruncatedBody DownloadErrorKind = "truncated_body"
	KindTransport     DownloadErrorKind = "transport"
	KindFilesystem    DownloadErrorKind = "filesystem"
)

// DownloadError is a per-task failure. It never aborts the run.
type DownloadError struct {
	Kind       DownloadErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("download %s: http status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("download %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

func failureKind(err error) string {
	var dlErr *DownloadError
	if errors.As(err, &dlErr) {
		return string(dlErr.Kind)
	}
	return "other"
}

// classifyTransport maps request and body read errors onto a kind.
func classifyTransport(rawURL string, err error) *DownloadError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &DownloadError{Kind: KindTimeout, URL: rawURL, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &DownloadError{Kind: KindTimeout, URL: rawURL, Err: err}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return &DownloadError{Kind: KindTruncatedBody, URL: rawURL, Err: err}
	}
	return &DownloadError{Kind: KindTransport, URL: rawURL, Err: err}
}
