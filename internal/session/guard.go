package session

import (
	"regexp"
	"strings"
)

var loginPathMarkers = []string{"/login", "idp", "sso", "shib", "duo", "authenticate"}

var loginBodyRE = regexp.MustCompile(`(?i)password|duo|shibboleth|single sign[- ]on`)

// IsLoginPage classifies a fetched page as a login or SSO interstitial,
// either by its URL or by textual signatures in the body.
func IsLoginPage(rawURL, body string) bool {
	u := strings.ToLower(rawURL)
	for _, marker := range loginPathMarkers {
		if strings.Contains(u, marker) {
			return true
		}
	}
	return loginBodyRE.MatchString(body)
}
