package types

import (
	"fmt"
	"sort"
	"strings"
)

// CourseRef identifies a course discovered for the current run.
type CourseRef struct {
	ID    string
	Title string
}

// FileIdentity is the stable identity of a logical file, independent of
// which version or URL represents it.
type FileIdentity struct {
	CourseID string
	FileID   string
}

// FrontierEntry is a not-yet-visited crawl node.
type FrontierEntry struct {
	URL   string
	Depth int
}

// SessionCookie is a single persisted browser cookie.
type SessionCookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

// Cookies maps cookie names to values. It is captured once after
// authentication and shared read-only across workers.
type Cookies map[string]string

// CookiesFrom flattens persisted cookie records into a name to value map.
func CookiesFrom(records []SessionCookie) Cookies {
	out := make(Cookies, len(records))
	for _, c := range records {
		out[c.Name] = c.Value
	}
	return out
}

// Header renders the cookie set as a Cookie request header value.
// Names are sorted so the header is deterministic.
func (c Cookies) Header() string {
	if len(c) == 0 {
		return ""
	}
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+c[name])
	}
	return strings.Join(pairs, "; ")
}

// OutcomeKind tags the result of relaying a single download target.
type OutcomeKind int

const (
	OutcomeUploaded OutcomeKind = iota
	OutcomeAlreadyExists
	OutcomeFailed
)

// Outcome reports what happened to one download target. It is produced
// exactly once per target and never retried above the transport layer.
type Outcome struct {
	Kind        OutcomeKind
	Target      string
	Filename    string
	ContentType string
	SizeBytes   int64
	Err         error
}

// String renders the operator-facing outcome line.
func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeUploaded:
		return fmt.Sprintf("✓ %s (%s) [%s]", o.Filename, o.ContentType, formatSize(o.SizeBytes))
	case OutcomeAlreadyExists:
		return fmt.Sprintf("- %s (already exists)", o.Filename)
	default:
		return fmt.Sprintf("✗ %s: %v", o.Target, o.Err)
	}
}

func formatSize(n int64) string {
	if n <= 0 {
		return "unknown size"
	}
	if n < 1024*1024 {
		return fmt.Sprintf("%d B", n)
	}
	return fmt.Sprintf("%.2f MB", float64(n)/(1024*1024))
}
