package session

import (
	"io"
	"net/http"
	"time"
)

var retryStatuses = map[int]struct{}{
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

var retryMethods = map[string]struct{}{
	http.MethodGet:  {},
	http.MethodHead: {},
	http.MethodPost: {},
	http.MethodPut:  {},
}

// retryTransport retries transient failures transparently: HTTP
// 429/500/502/503/504 and transport errors, with exponential backoff,
// for GET/HEAD/POST/PUT only. Other 4xx responses pass through untouched.
type retryTransport struct {
	next     http.RoundTripper
	attempts int
	backoff  time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if _, ok := retryMethods[req.Method]; !ok {
		return t.next.RoundTrip(req)
	}

	var resp *http.Response
	var err error
	for attempt := 0; attempt < t.attempts; attempt++ {
		if attempt > 0 {
			wait := t.backoff << (attempt - 1)
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				return nil, req.Context().Err()
			}
			if req.Body != nil {
				body, bodyErr := req.GetBody()
				if bodyErr != nil {
					return resp, err
				}
				req.Body = body
			}
		}

		resp, err = t.next.RoundTrip(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			if req.Body != nil && req.GetBody == nil {
				return nil, err
			}
			continue
		}
		if _, transient := retryStatuses[resp.StatusCode]; !transient {
			return resp, nil
		}
		if attempt == t.attempts-1 {
			break
		}
		// A request whose body cannot be replayed keeps its first result.
		if req.Body != nil && req.GetBody == nil {
			return resp, nil
		}
		// Drain so the connection can be reused before the retry.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}
	return resp, err
}
