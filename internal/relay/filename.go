package relay

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

const (
	defaultFilename = "file.pdf"
	maxNameLength   = 80
)

// filenameRE matches both the plain and the RFC 5987 extended form of the
// Content-Disposition filename parameter.
var filenameRE = regexp.MustCompile(`(?i)filename\*?=(?:UTF-8'')?(.+)$`)

var unsafeCharsRE = regexp.MustCompile(`[^\p{L}\p{N}_.\- ()]+`)

// FilenameFromHeaders derives the destination filename from the
// Content-Disposition header, falling back to the effective URL path and
// finally to a synthesized default.
func FilenameFromHeaders(effectiveURL, contentDisposition string) string {
	if m := filenameRE.FindStringSubmatch(contentDisposition); m != nil {
		name := strings.Trim(strings.TrimSpace(m[1]), `"`)
		if decoded, err := url.QueryUnescape(name); err == nil {
			name = decoded
		}
		if name != "" {
			return name
		}
	}

	var name string
	if u, err := url.Parse(effectiveURL); err == nil {
		name = path.Base(u.Path)
		if name == "." || name == "/" {
			name = ""
		}
		if decoded, err := url.PathUnescape(name); err == nil {
			name = decoded
		}
	}
	if name != "" && !strings.Contains(name, ".") {
		name += ".pdf"
	}
	if name == "" {
		return defaultFilename
	}
	return name
}

// SafeName reduces a string to a bounded-length, filesystem and URL safe
// form: word characters, dots, hyphens, parentheses, and spaces only.
func SafeName(s string) string {
	cleaned := strings.TrimSpace(unsafeCharsRE.ReplaceAllString(s, "_"))
	runes := []rune(cleaned)
	if len(runes) > maxNameLength {
		runes = runes[:maxNameLength]
	}
	return string(runes)
}
