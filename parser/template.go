package parser

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrNoMatch is returned when a URL path does not fit the section template.
var ErrNoMatch = errors.New("url does not match section template")

// PathTemplate maps a page URL path to its course and section.
//
// Templates are slash separated. {course} and {section} capture one
// segment each, * matches any single segment and other segments must match
// literally. Paths may continue past the last template segment.
type PathTemplate struct {
	raw string
	re  *regexp.Regexp
}

// CompileTemplate parses a template such as "/disciplinas/{course}/*/*/{section}".
func CompileTemplate(tmpl string) (*PathTemplate, error) {
	segments := strings.Split(strings.Trim(tmpl, "/"), "/")
	parts := make([]string, 0, len(segments))
	var haveCourse, haveSection bool
	for _, seg := range segments {
		switch seg {
		case "":
			return nil, fmt.Errorf("template %q has an empty segment", tmpl)
		case "{course}":
			if haveCourse {
				return nil, fmt.Errorf("template %q repeats {course}", tmpl)
			}
			haveCourse = true
			parts = append(parts, `(?P<course>[^/]+)`)
		case "{section}":
			if haveSection {
				return nil, fmt.Errorf("template %q repeats {section}", tmpl)
			}
			haveSection = true
			parts = append(parts, `(?P<section>[^/]+)`)
		case "*":
			parts = append(parts, `[^/]+`)
		default:
			parts = append(parts, regexp.QuoteMeta(seg))
		}
	}
	if !haveCourse || !haveSection {
		return nil, fmt.Errorf("template %q must contain {course} and {section}", tmpl)
	}

	re, err := regexp.Compile(`^/` + strings.Join(parts, "/") + `(?:/.*)?$`)
	if err != nil {
		return nil, fmt.Errorf("compile template %q: %w", tmpl, err)
	}
	return &PathTemplate{raw: tmpl, re: re}, nil
}

// MustCompileTemplate is like CompileTemplate but panics on error.
func MustCompileTemplate(tmpl string) *PathTemplate {
	t, err := CompileTemplate(tmpl)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *PathTemplate) String() string {
	return t.raw
}

// Match extracts course and section from u's path.
func (t *PathTemplate) Match(u *url.URL) (course, section string, err error) {
	m := t.re.FindStringSubmatch(u.Path)
	if m == nil {
		return "", "", fmt.Errorf("%w: %s", ErrNoMatch, u.String())
	}
	course = m[t.re.SubexpIndex("course")]
	section = m[t.re.SubexpIndex("section")]
	return course, section, nil
}
