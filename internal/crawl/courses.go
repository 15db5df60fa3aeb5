package crawl

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"canvasrelay/internal/session"
	"canvasrelay/pkg/types"
)

var (
	courseHrefRE = regexp.MustCompile(`^(?:https?://[^/]+)?/courses/(\d+)/?$`)

	// Course codes look like "CPSC 4390"; used to cut titles that repeat
	// the code and name back to back.
	courseCodeRE = regexp.MustCompile(`\b[A-Za-z]{2,4}\s*\d{3,4}\b`)
)

// discoverCourses enumerates the courses visible to the session. The
// dashboard is authoritative; the course list page fills in anything the
// dashboard hides, and an explicit published filter is the last resort.
// When term patterns are configured, each candidate's landing page is
// checked against them; a filter that matches nothing falls back to the
// full list rather than silently crawling zero courses.
func (e *Engine) discoverCourses(ctx context.Context, r PageRenderer) ([]types.CourseRef, error) {
	found := make(map[string]string)
	var order []string

	scrape := func(url string) error {
		if err := r.Navigate(ctx, url); err != nil {
			return err
		}
		if loc, err := r.Location(ctx); err == nil && session.IsLoginPage(loc, "") {
			return session.ErrSessionExpired
		}
		markup, err := r.HTML(ctx)
		if err != nil {
			return err
		}
		for _, a := range courseAnchors(markup) {
			if existing, ok := found[a.id]; !ok {
				found[a.id] = a.title
				order = append(order, a.id)
			} else if existing == "" && a.title != "" {
				found[a.id] = a.title
			}
		}
		return nil
	}

	if err := scrape(e.base + "/"); err != nil {
		return nil, fmt.Errorf("scrape dashboard: %w", err)
	}
	if err := scrape(e.base + "/courses"); err != nil {
		e.logger.Warn("course list page failed", "error", err)
	}
	if len(found) == 0 {
		if err := scrape(e.base + "/courses?include%5B%5D=published"); err != nil {
			e.logger.Warn("published course fallback failed", "error", err)
		}
	}
	if len(found) == 0 {
		return nil, errors.New("no courses visible; check the base URL and session state")
	}

	courses := make([]types.CourseRef, 0, len(found))
	for _, id := range order {
		courses = append(courses, types.CourseRef{ID: id, Title: cleanTitle(found[id], id)})
	}

	if len(e.termPatterns) == 0 {
		return courses, nil
	}
	matched := e.filterByTerm(ctx, r, courses)
	if len(matched) == 0 {
		e.logger.Warn("term patterns matched no courses; crawling all", "patterns", len(e.termPatterns))
		return courses, nil
	}
	return matched, nil
}

func (e *Engine) filterByTerm(ctx context.Context, r PageRenderer, courses []types.CourseRef) []types.CourseRef {
	var matched []types.CourseRef
	for _, course := range courses {
		if ctx.Err() != nil {
			break
		}
		url := fmt.Sprintf("%s/courses/%s", e.base, course.ID)
		if err := r.Navigate(ctx, url); err != nil {
			e.logger.Warn("term check render failed", "course_id", course.ID, "error", err)
			continue
		}
		markup, err := r.HTML(ctx)
		if err != nil {
			continue
		}
		for _, pattern := range e.termPatterns {
			if pattern.MatchString(markup) || pattern.MatchString(course.Title) {
				matched = append(matched, course)
				break
			}
		}
	}
	return matched
}

type courseAnchor struct {
	id    string
	title string
}

func courseAnchors(markup string) []courseAnchor {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil
	}
	var out []courseAnchor
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		m := courseHrefRE.FindStringSubmatch(strings.TrimSpace(href))
		if m == nil {
			return
		}
		title := strings.TrimSpace(s.Text())
		if title == "" {
			title = strings.TrimSpace(s.AttrOr("aria-label", ""))
		}
		out = append(out, courseAnchor{id: m[1], title: title})
	})
	return out
}

// cleanTitle reduces a scraped anchor text to a stable folder-friendly
// course title. Dashboard cards concatenate the name, the code, and the
// term, so the text is cut at the last ")" or ":" and de-duplicated when
// the course code repeats.
func cleanTitle(raw, id string) string {
	title := raw
	if lines := strings.Split(strings.TrimSpace(raw), "\n"); len(lines) > 0 {
		title = strings.TrimSpace(lines[0])
	}
	if i := strings.LastIndex(title, ")"); i >= 0 {
		title = strings.TrimSpace(title[:i+1])
	} else if i := strings.LastIndex(title, ":"); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	if len([]rune(title)) > 80 {
		if m := courseCodeRE.FindStringIndex(title); m != nil {
			code := title[m[0]:m[1]]
			if again := strings.Index(title[m[1]:], code); again >= 0 {
				title = strings.TrimSpace(title[:m[1]+again])
			}
		}
	}
	if title == "" {
		return "Course " + id
	}
	return title
}
