package session

import "errors"

// ErrSessionExpired signals that an authenticated fetch was redirected to
// a login page. It must surface to the caller rather than being treated
// as an empty result.
var ErrSessionExpired = errors.New("session expired: redirected to login")
