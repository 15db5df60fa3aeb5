package crawl

import (
	"context"
	"regexp"
	"strings"
	"testing"
)

func mustCompilePatterns(t *testing.T, raw []string) []*regexp.Regexp {
	t.Helper()
	out := make([]*regexp.Regexp, 0, len(raw))
	for _, p := range raw {
		pattern, err := regexp.Compile("(?i)" + p)
		if err != nil {
			t.Fatalf("compile %q: %v", p, err)
		}
		out = append(out, pattern)
	}
	return out
}

func TestCleanTitle(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "cut at last paren",
			raw:  "Systems Programming (CPSC 4390) Fall 2025 Section 01",
			want: "Systems Programming (CPSC 4390)",
		},
		{
			name: "cut at last colon when no paren",
			raw:  "CPSC 4390 Systems Programming: everything after",
			want: "CPSC 4390 Systems Programming",
		},
		{
			name: "first line only",
			raw:  "Systems Programming (CPSC 4390)\nnickname row",
			want: "Systems Programming (CPSC 4390)",
		},
		{
			name: "duplicated card text cut at repeated code",
			raw:  strings.Repeat("CPSC 4390 Systems Programming And Advanced Operating Systems Design ", 2),
			want: "CPSC 4390 Systems Programming And Advanced Operating Systems Design",
		},
		{
			name: "empty falls back to id",
			raw:  "   ",
			want: "Course 101",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := cleanTitle(tc.raw, "101"); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestCourseAnchors(t *testing.T) {
	markup := `<html><body>
<a href="/courses/101">Systems Programming</a>
<a href="/courses/101">Systems Programming duplicate</a>
<a href="https://canvas.example.edu/courses/202/">Databases</a>
<a href="/courses/303/assignments">Not a course root</a>
<a href="/groups/55">Not a course</a>
</body></html>`

	anchors := courseAnchors(markup)
	ids := make(map[string]int)
	for _, a := range anchors {
		ids[a.id]++
	}
	if ids["101"] != 2 || ids["202"] != 1 {
		t.Fatalf("unexpected anchor ids %v", ids)
	}
	if _, ok := ids["303"]; ok {
		t.Fatal("course sub-page must not count as a course link")
	}
	if _, ok := ids["55"]; ok {
		t.Fatal("group link must not count as a course link")
	}
}

func TestDiscoverCoursesDedupesAcrossSources(t *testing.T) {
	dashboard := `<a href="/courses/101">Systems Programming (CPSC 4390)</a>`
	courseList := `
<a href="/courses/101">Systems Programming (CPSC 4390)</a>
<a href="/courses/202">Databases (CPSC 4330)</a>`

	r := &fakeRenderer{pages: map[string]*fakePage{
		testBase + "/":        {html: dashboard},
		testBase + "/courses": {html: courseList},
	}}

	courses, err := testEngine().discoverCourses(context.Background(), r)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(courses) != 2 {
		t.Fatalf("expected 2 unique courses, got %d: %v", len(courses), courses)
	}
	if courses[0].ID != "101" || courses[0].Title != "Systems Programming (CPSC 4390)" {
		t.Fatalf("unexpected first course %+v", courses[0])
	}
	if courses[1].ID != "202" {
		t.Fatalf("unexpected second course %+v", courses[1])
	}
}

func TestDiscoverCoursesTermFilter(t *testing.T) {
	r := &fakeRenderer{pages: map[string]*fakePage{
		testBase + "/": {html: `
<a href="/courses/101">Old Course</a>
<a href="/courses/202">Current Course</a>`},
		testBase + "/courses":     {html: ``},
		testBase + "/courses/101": {html: `<div>Spring 2024</div>`},
		testBase + "/courses/202": {html: `<div>Fall 2025</div>`},
	}}

	engine := testEngine()
	engine.cfg.Crawl.TermPatterns = []string{`Fall\s*2025`}
	// NewEngine compiles patterns; mirror that here.
	engine.termPatterns = mustCompilePatterns(t, engine.cfg.Crawl.TermPatterns)

	courses, err := engine.discoverCourses(context.Background(), r)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(courses) != 1 || courses[0].ID != "202" {
		t.Fatalf("expected only the Fall 2025 course, got %v", courses)
	}
}
