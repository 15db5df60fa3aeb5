// Package canonical derives normalized URL identities used as dedup keys
// for crawl nodes and download targets.
package canonical

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
)

var (
	courseFileRE = regexp.MustCompile(`/courses/(\d+)/files/(\d+)`)
	bareFileRE   = regexp.MustCompile(`/files/(\d+)`)
)

// Absolutize resolves a raw href against the site base URL.
func Absolutize(raw, base string) (string, error) {
	b, err := url.Parse(strings.TrimSuffix(base, "/") + "/")
	if err != nil {
		return "", fmt.Errorf("parse base %q: %w", base, err)
	}
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse href %q: %w", raw, err)
	}
	return b.ResolveReference(ref).String(), nil
}

// Canonicalize turns a raw hyperlink into a normalized, comparable identity:
// absolute URL, HTML-entity and percent decoded, query reduced to the
// pagination parameter, trailing slash stripped, fragment dropped.
// The result is idempotent: Canonicalize(Canonicalize(x)) == Canonicalize(x).
func Canonicalize(raw, base string) (string, error) {
	abs, err := Absolutize(raw, base)
	if err != nil {
		return "", err
	}
	decoded := html.UnescapeString(abs)
	if unescaped, err := url.PathUnescape(decoded); err == nil {
		decoded = unescaped
	}

	u, err := url.Parse(decoded)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", decoded, err)
	}

	// Pagination identity must ignore incidental query noise: only the
	// "page" parameter survives, whatever its case.
	kept := url.Values{}
	for key, values := range u.Query() {
		if !strings.EqualFold(key, "page") {
			continue
		}
		for _, v := range values {
			kept.Add(key, v)
		}
	}

	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	u.RawQuery = kept.Encode()
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// EnsureDownload rewrites any file reference to its canonical /download
// form. URLs that do not reference a file pass through unchanged.
func EnsureDownload(raw, base string) string {
	root := strings.TrimSuffix(base, "/")
	if m := courseFileRE.FindStringSubmatch(raw); m != nil {
		return fmt.Sprintf("%s/courses/%s/files/%s/download", root, m[1], m[2])
	}
	if m := bareFileRE.FindStringSubmatch(raw); m != nil {
		return fmt.Sprintf("%s/files/%s/download", root, m[1])
	}
	return raw
}

// FileIdentity extracts the course and file ids from a file URL.
func FileIdentity(u string) (courseID, fileID string, ok bool) {
	m := courseFileRE.FindStringSubmatch(u)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
