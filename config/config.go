package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Config holds crawler and organizer configuration.
type Config struct {
	PortalURL       string
	CoursesURL      string
	Courses         []string
	AllowedDomains  []string
	SidebarSelector string
	FileSelector    string
	FileExtensions  []string
	SectionTemplate string
	LoginMarkers    []string
	SessionCookie   string

	StagingDir   string
	OrganizedDir string
	KeepCopy     bool

	Parallelism        int
	Delay              time.Duration
	RandomDelay        time.Duration
	Timeout            time.Duration
	DownloadTimeout    time.Duration
	PipelineBufferSize int
	DedupeMaxSize      int
	UserAgent          string

	Verbose     bool
	MetricsAddr string
	ReportFile  string
}

// DefaultConfig returns defaults for the Fenix portal.
func DefaultConfig() *Config {
	return &Config{
		PortalURL:  "https://fenix.tecnico.ulisboa.pt/",
		CoursesURL: "https://fenix.tecnico.ulisboa.pt/disciplinas/",
		AllowedDomains: []string{
			"fenix.tecnico.ulisboa.pt",
			"id.tecnico.ulisboa.pt",
		},
		SidebarSelector:    "div > main > nav > div:nth-of-type(2) a[href]",
		FileSelector:       "body > div:nth-of-type(3) > main > div > div a[href]",
		FileExtensions:     []string{".pdf", ".zip", ".jpg"},
		SectionTemplate:    "/disciplinas/{course}/*/*/{section}",
		LoginMarkers:       []string{"Notícias", "News", "Propinas", "Fees"},
		StagingDir:         "downloads",
		OrganizedDir:       "files",
		KeepCopy:           false,
		Parallelism:        4,
		Delay:              0,
		RandomDelay:        0,
		Timeout:            30 * time.Second,
		DownloadTimeout:    5 * time.Minute,
		PipelineBufferSize: 256,
		DedupeMaxSize:      10000,
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		Verbose:            false,
	}
}

var courseIDPattern = regexp.MustCompile(`^[^/?#\s]+$`)

// CourseURLs joins every configured course identifier onto CoursesURL.
func (c *Config) CourseURLs() []string {
	out := make([]string, 0, len(c.Courses))
	for _, course := range c.Courses {
		out = append(out, c.CoursesURL+course)
	}
	return out
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if err := validateURL("portal URL", c.PortalURL); err != nil {
		return err
	}
	if err := validateURL("courses URL", c.CoursesURL); err != nil {
		return err
	}
	if !strings.HasSuffix(c.CoursesURL, "/") {
		return fmt.Errorf("courses URL must end with a slash")
	}
	for _, course := range c.Courses {
		if !courseIDPattern.MatchString(course) {
			return fmt.Errorf("invalid course identifier %q", course)
		}
	}
	if strings.TrimSpace(c.SidebarSelector) == "" {
		return fmt.Errorf("sidebar selector cannot be empty")
	}
	if strings.TrimSpace(c.FileSelector) == "" {
		return fmt.Errorf("file selector cannot be empty")
	}
	if len(c.FileExtensions) == 0 {
		return fmt.Errorf("file extensions cannot be empty")
	}
	for _, ext := range c.FileExtensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return fmt.Errorf("file extension %q must start with a dot", ext)
		}
	}
	if !strings.Contains(c.SectionTemplate, "{course}") || !strings.Contains(c.SectionTemplate, "{section}") {
		return fmt.Errorf("section template must name {course} and {section}")
	}
	if len(c.LoginMarkers) == 0 && c.SessionCookie == "" {
		return fmt.Errorf("login markers cannot be empty without a session cookie")
	}
	if c.StagingDir == "" {
		return fmt.Errorf("staging directory cannot be empty")
	}
	if c.OrganizedDir == "" {
		return fmt.Errorf("organized directory cannot be empty")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.DownloadTimeout <= 0 {
		return fmt.Errorf("download timeout must be positive")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

func validateURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}
