// Package models defines data structures shared by the crawler, downloader and organizer.
package models

import (
	"strings"
	"time"
)

// CourseRef names a course on the portal.
type CourseRef struct {
	ID string
}

// URL joins the course identifier onto the courses base URL.
func (c CourseRef) URL(base string) string {
	return base + c.ID
}

// Stage is a traversal phase.
type Stage int

const (
	StageLogin Stage = iota
	StageCourseSidebar
	StageFileList
)

func (s Stage) String() string {
	switch s {
	case StageLogin:
		return "LOGIN"
	case StageCourseSidebar:
		return "COURSE_SIDEBAR"
	case StageFileList:
		return "FILE_LIST"
	default:
		return "UNKNOWN"
	}
}

// CrawlTask asks for URL to be fetched and its links extracted with Rule.
type CrawlTask struct {
	URL   string
	Rule  string
	Stage Stage
}

// DownloadTask is a discovered file link ready to be staged.
type DownloadTask struct {
	URL          string `json:"url"`
	PageURL      string `json:"page_url"`
	Course       string `json:"course"`
	Section      string `json:"section"`
	OriginalName string `json:"original_name"`
	StagedName   string `json:"staged_name"`
}

// StagedFile is a file sitting in the staging directory.
type StagedFile struct {
	Path           string `json:"path"`
	Name           string `json:"name"`
	Bytes          int64  `json:"bytes"`
	AlreadyPresent bool   `json:"already_present"`
}

// CrawlResult summarises a crawl run.
type CrawlResult struct {
	State          string         `json:"state"`
	StartTime      time.Time      `json:"start_time"`
	EndTime        time.Time      `json:"end_time"`
	CoursePages    int            `json:"course_pages"`
	FilePages      int            `json:"file_pages"`
	TasksEmitted   int            `json:"tasks_emitted"`
	DiscardedLinks int            `json:"discarded_links"`
	SkippedLinks   int            `json:"skipped_links"`
	ErrorCount     int            `json:"error_count"`
	ErrorsByType   map[string]int `json:"errors_by_type"`
	FailedURLs     []string       `json:"failed_urls"`
	RequestCount   int            `json:"request_count"`
}

// DownloadStats summarises the download stage.
type DownloadStats struct {
	Downloaded     int64          `json:"downloaded"`
	AlreadyStaged  int64          `json:"already_staged"`
	DuplicateTasks int64          `json:"duplicate_tasks"`
	Failed         int64          `json:"failed"`
	Bytes          int64          `json:"bytes"`
	FailuresByKind map[string]int `json:"failures_by_kind"`
}

// OrganizeReport summarises one organizer pass.
type OrganizeReport struct {
	Filed      int      `json:"filed"`
	Duplicates int      `json:"duplicates"`
	Failed     int      `json:"failed"`
	FiledPaths []string `json:"filed_paths"`
	Errors     []error  `json:"-"`
}

// ErrorSummary joins the failure messages for display.
func (r *OrganizeReport) ErrorSummary() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, err := range r.Errors {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}
