package parser

import (
	"bytes"
	"fmt"
	"iter"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Rule selects the relevant anchors of a page.
type Rule struct {
	Name     string
	Selector string
	// Extensions, when set, keeps only links whose path ends in one of them.
	Extensions []string
}

// SidebarRule selects a course's side navigation links.
func SidebarRule(selector string) Rule {
	return Rule{Name: "sidebar", Selector: selector}
}

// FileRule selects downloadable links ending in one of extensions.
func FileRule(selector string, extensions []string) Rule {
	exts := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		exts = append(exts, strings.ToLower(ext))
	}
	return Rule{Name: "files", Selector: selector, Extensions: exts}
}

// ExtractionError reports a page that yields nothing for a rule.
type ExtractionError struct {
	Rule string
	URL  string
	Err  error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract %s links from %s: %v", e.Rule, e.URL, e.Err)
	}
	return fmt.Sprintf("extract %s links from %s: selection is empty", e.Rule, e.URL)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Document is a parsed page together with the URL it was served from.
type Document struct {
	URL *url.URL
	Doc *goquery.Document
}

// ParseDocument parses body as HTML served from pageURL.
func ParseDocument(pageURL *url.URL, body []byte) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ExtractionError{Rule: "document", URL: pageURL.String(), Err: err}
	}
	return &Document{URL: pageURL, Doc: doc}, nil
}

// Check reports an ExtractionError when the rule selects nothing in d.
func (r Rule) Check(d *Document) error {
	if d.Doc.Find(r.Selector).Length() == 0 {
		return &ExtractionError{Rule: r.Name, URL: d.URL.String()}
	}
	return nil
}

// Links yields the absolute URL of every anchor selected by r, resolved
// against the document URL. Anchors with a missing or unparsable href are
// skipped. The sequence walks the document lazily.
func (r Rule) Links(d *Document) iter.Seq[string] {
	return func(yield func(string) bool) {
		d.Doc.Find(r.Selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, ok := s.Attr("href")
			if !ok {
				return true
			}
			href = strings.TrimSpace(href)
			if href == "" {
				return true
			}
			ref, err := url.Parse(href)
			if err != nil {
				return true
			}
			abs := d.URL.ResolveReference(ref)
			if abs.Scheme != "http" && abs.Scheme != "https" {
				return true
			}
			if !r.accepts(abs) {
				return true
			}
			return yield(abs.String())
		})
	}
}

func (r Rule) accepts(u *url.URL) bool {
	if len(r.Extensions) == 0 {
		return true
	}
	p := strings.ToLower(u.Path)
	for _, ext := range r.Extensions {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}
