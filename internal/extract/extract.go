// Package extract classifies hyperlinks found in course page markup.
package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"canvasrelay/internal/canonical"
)

var (
	// Document links carry a known attachment extension or point at a
	// file resource directly.
	extensionRE = regexp.MustCompile(`(?i)\.(pdf|doc|docx|ppt|pptx|xls|xlsx|png|jpg|jpeg|heic)$`)
	fileLinkRE  = regexp.MustCompile(`/files/\d+(?:/download)?(?:$|[?#])`)

	folderLinkRE = regexp.MustCompile(`/courses/\d+/files/folder`)
	paginationRE = regexp.MustCompile(`/courses/\d+/files[^"]*?[?&]page=\d+`)

	coursePageRE = regexp.MustCompile(`/courses/(\d+)/pages/([^'"#?]+)`)
)

// LinkSet holds the three disjoint classes of links the crawler cares
// about. All members are canonicalized where canonicalization matters for
// dedup (folders and pagination); documents keep their absolute form.
type LinkSet struct {
	Documents  map[string]struct{}
	Folders    map[string]struct{}
	Pagination map[string]struct{}
}

// NewLinkSet allocates an empty LinkSet.
func NewLinkSet() LinkSet {
	return LinkSet{
		Documents:  make(map[string]struct{}),
		Folders:    make(map[string]struct{}),
		Pagination: make(map[string]struct{}),
	}
}

// Links scans page markup for document, folder, and pagination links.
// Markup that fails to parse yields an empty set, never an error: a page
// the crawler cannot read is treated as a page with no links.
func Links(markup, base string) LinkSet {
	out := NewLinkSet()
	for _, href := range hrefs(markup) {
		abs, err := canonical.Absolutize(href, base)
		if err != nil {
			continue
		}
		switch {
		case folderLinkRE.MatchString(href):
			if c, err := canonical.Canonicalize(href, base); err == nil {
				out.Folders[c] = struct{}{}
			}
		case paginationRE.MatchString(href):
			if c, err := canonical.Canonicalize(href, base); err == nil {
				out.Pagination[c] = struct{}{}
			}
		case extensionRE.MatchString(abs) || fileLinkRE.MatchString(abs):
			out.Documents[abs] = struct{}{}
		}
	}
	return out
}

// DocumentLinks returns only the document class, for pages where folders
// and pagination are not expected (modules, assignments, syllabus, wiki).
func DocumentLinks(markup, base string) map[string]struct{} {
	return Links(markup, base).Documents
}

// CoursePageLinks returns absolute wiki-page URLs belonging to the given
// course. Links into other courses are dropped.
func CoursePageLinks(markup, base, courseID string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, href := range hrefs(markup) {
		m := coursePageRE.FindStringSubmatch(href)
		if m == nil || m[1] != courseID {
			continue
		}
		abs, err := canonical.Absolutize(href, base)
		if err != nil {
			continue
		}
		if i := strings.IndexByte(abs, '#'); i >= 0 {
			abs = abs[:i]
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	return out
}

// IsDocumentTarget reports whether a collected URL is worth downloading:
// a known attachment extension or any file-resource path segment.
func IsDocumentTarget(u string) bool {
	return extensionRE.MatchString(u) || strings.Contains(u, "/files/")
}

// SameCoursePage reports whether u is a wiki page of the given course.
func SameCoursePage(u, courseID string) bool {
	m := coursePageRE.FindStringSubmatch(u)
	return m != nil && m[1] == courseID
}

func hrefs(markup string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil
	}
	var out []string
	doc.Find("[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		out = append(out, href)
	})
	return out
}
