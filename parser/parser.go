package parser

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aluiziolira/go-fenix-files/models"
)

const stagedSeparator = "."

var (
	// ErrMalformedStagedName marks a staging entry without course and section prefixes.
	ErrMalformedStagedName = errors.New("malformed staged name")
	// ErrNoFileName is returned for links whose path has no last segment.
	ErrNoFileName = errors.New("link has no file name")
)

// StagedParts is a staged filename split into its fields.
type StagedParts struct {
	Course       string
	Section      string
	OriginalName string
}

// StagedName encodes course and section in front of the original file name.
func StagedName(course, section, originalName string) string {
	return course + stagedSeparator + section + stagedSeparator + originalName
}

// ParseStagedName splits name into at most three parts. The original name
// keeps any dots it contains but may not be "." or "..".
func ParseStagedName(name string) (StagedParts, error) {
	fields := strings.SplitN(name, stagedSeparator, 3)
	if len(fields) < 3 {
		return StagedParts{}, fmt.Errorf("%w: %q", ErrMalformedStagedName, name)
	}
	parts := StagedParts{Course: fields[0], Section: fields[1], OriginalName: fields[2]}
	if parts.Course == "" || parts.Section == "" || parts.OriginalName == "" || parts.OriginalName == "." || parts.OriginalName == ".." {
		return StagedParts{}, fmt.Errorf("%w: %q", ErrMalformedStagedName, name)
	}
	return parts, nil
}

// SanitizeField makes a course or section safe to embed in a staged name.
func SanitizeField(field string) string {
	field = strings.TrimSpace(field)
	field = strings.ReplaceAll(field, stagedSeparator, "-")
	return strings.ReplaceAll(field, "/", "-")
}

// NewDownloadTask builds the task for fileURL found on pageURL.
func NewDownloadTask(pageURL, fileURL string, tmpl *PathTemplate) (*models.DownloadTask, error) {
	page, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	course, section, err := tmpl.Match(page)
	if err != nil {
		return nil, err
	}

	file, err := url.Parse(fileURL)
	if err != nil {
		return nil, fmt.Errorf("parse file url: %w", err)
	}
	name := path.Base(file.Path)
	if name == "." || name == "/" || name == ".." || name == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoFileName, fileURL)
	}

	course = SanitizeField(course)
	section = SanitizeField(section)
	return &models.DownloadTask{
		URL:          file.String(),
		PageURL:      page.String(),
		Course:       course,
		Section:      section,
		OriginalName: name,
		StagedName:   StagedName(course, section, name),
	}, nil
}

// ValidateTask ensures a task carries everything the downloader needs.
func ValidateTask(t *models.DownloadTask) error {
	if t == nil {
		return fmt.Errorf("task is nil")
	}
	if strings.TrimSpace(t.URL) == "" {
		return fmt.Errorf("task missing url")
	}
	if t.Course == "" || t.Section == "" || t.OriginalName == "" {
		return fmt.Errorf("task missing course, section or name for %s", t.URL)
	}
	if strings.Contains(t.Course, stagedSeparator) || strings.Contains(t.Section, stagedSeparator) {
		return fmt.Errorf("task course or section contains %q for %s", stagedSeparator, t.URL)
	}
	if strings.ContainsAny(t.OriginalName, `/\`) {
		return fmt.Errorf("task file name %q contains a path separator", t.OriginalName)
	}
	if t.StagedName != StagedName(t.Course, t.Section, t.OriginalName) {
		return fmt.Errorf("task staged name %q does not encode its fields", t.StagedName)
	}
	return nil
}
