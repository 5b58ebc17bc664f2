package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// AppName names the XDG config subdirectory.
const AppName = "fenix-files"

// DefaultConfigFile is looked up in the working directory.
const DefaultConfigFile = "fenix.yaml"

// LegacyConfigFile is the TOML file older installs keep next to the tool.
const LegacyConfigFile = "config.toml"

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// File mirrors the on-disk layout. YAML and TOML share the same keys.
type File struct {
	Courses struct {
		List []string `yaml:"list" toml:"list"`
	} `yaml:"courses" toml:"courses"`
	Directories struct {
		Downloads      string `yaml:"downloads" toml:"downloads"`
		OrganizedFiles string `yaml:"organized_files" toml:"organized_files"`
	} `yaml:"directories" toml:"directories"`
	Options struct {
		Debug    *bool `yaml:"debug" toml:"debug"`
		KeepCopy *bool `yaml:"keep_copy" toml:"keep_copy"`
	} `yaml:"options" toml:"options"`
	Crawl struct {
		PortalURL       string   `yaml:"portal_url" toml:"portal_url"`
		CoursesURL      string   `yaml:"courses_url" toml:"courses_url"`
		AllowedDomains  []string `yaml:"allowed_domains" toml:"allowed_domains"`
		SidebarSelector string   `yaml:"sidebar_selector" toml:"sidebar_selector"`
		FileSelector    string   `yaml:"file_selector" toml:"file_selector"`
		Extensions      []string `yaml:"extensions" toml:"extensions"`
		SectionTemplate string   `yaml:"section_template" toml:"section_template"`
		LoginMarkers    []string `yaml:"login_markers" toml:"login_markers"`
		SessionCookie   string   `yaml:"session_cookie" toml:"session_cookie"`
		Parallelism     int      `yaml:"parallelism" toml:"parallelism"`
		Timeout         string   `yaml:"timeout" toml:"timeout"`
		DownloadTimeout string   `yaml:"download_timeout" toml:"download_timeout"`
		Delay           string   `yaml:"delay" toml:"delay"`
		UserAgent       string   `yaml:"user_agent" toml:"user_agent"`
	} `yaml:"crawl" toml:"crawl"`
}

// LoadFile reads a configuration file. Files ending in .toml are decoded
// as TOML, anything else as YAML.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user supplied config path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var f File
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, &f)
	} else {
		err = yaml.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &f, nil
}

// FindConfigFile returns the explicit path if it exists, otherwise the first
// existing file among ./fenix.yaml, ./config.toml and the same two names
// under $XDG_CONFIG_HOME/fenix-files. An empty string means nothing was found.
func FindConfigFile(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	candidates := []string{
		DefaultConfigFile,
		LegacyConfigFile,
		filepath.Join(xdg.ConfigHome, AppName, "config.yaml"),
		filepath.Join(xdg.ConfigHome, AppName, LegacyConfigFile),
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// Apply overlays the values present in f onto cfg.
func (f *File) Apply(cfg *Config) error {
	if len(f.Courses.List) > 0 {
		cfg.Courses = append([]string(nil), f.Courses.List...)
	}
	if f.Directories.Downloads != "" {
		cfg.StagingDir = ExpandHome(f.Directories.Downloads)
	}
	if f.Directories.OrganizedFiles != "" {
		cfg.OrganizedDir = ExpandHome(f.Directories.OrganizedFiles)
	}
	if f.Options.Debug != nil {
		cfg.Verbose = *f.Options.Debug
	}
	if f.Options.KeepCopy != nil {
		cfg.KeepCopy = *f.Options.KeepCopy
	}

	c := f.Crawl
	setString(&cfg.PortalURL, c.PortalURL)
	setString(&cfg.CoursesURL, c.CoursesURL)
	setString(&cfg.SidebarSelector, c.SidebarSelector)
	setString(&cfg.FileSelector, c.FileSelector)
	setString(&cfg.SectionTemplate, c.SectionTemplate)
	setString(&cfg.SessionCookie, c.SessionCookie)
	setString(&cfg.UserAgent, c.UserAgent)
	if len(c.AllowedDomains) > 0 {
		cfg.AllowedDomains = append([]string(nil), c.AllowedDomains...)
	}
	if len(c.Extensions) > 0 {
		cfg.FileExtensions = normalizeExtensions(c.Extensions)
	}
	if len(c.LoginMarkers) > 0 {
		cfg.LoginMarkers = append([]string(nil), c.LoginMarkers...)
	}
	if c.Parallelism != 0 {
		cfg.Parallelism = c.Parallelism
	}

	durations := []struct {
		name  string
		raw   string
		field *time.Duration
	}{
		{"crawl.timeout", c.Timeout, &cfg.Timeout},
		{"crawl.download_timeout", c.DownloadTimeout, &cfg.DownloadTimeout},
		{"crawl.delay", c.Delay, &cfg.Delay},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.field = parsed
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	return out
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
