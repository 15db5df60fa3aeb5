// Package storage talks to the object-storage side of the relay: signed
// upload URL negotiation, the upload PUT itself, and an optional local
// manifest of already-relayed paths.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrAlreadyExists reports that the gateway already holds an object at
// the requested path. Callers treat it as a skip, never as a failure.
var ErrAlreadyExists = errors.New("object already exists in storage")

// ErrMissingCredentials is a startup-time fatal condition: crawling
// without upload credentials would only waste work.
var ErrMissingCredentials = errors.New("storage credentials missing")

const defaultContentType = "application/octet-stream"

// Gateway negotiates signed upload URLs with the storage edge function.
type Gateway struct {
	negotiateURL string
	authToken    string
}

// NewGateway validates credentials eagerly so a misconfigured run fails
// before any crawling begins.
func NewGateway(negotiateURL, authToken string) (*Gateway, error) {
	if strings.TrimSpace(negotiateURL) == "" || strings.TrimSpace(authToken) == "" {
		return nil, ErrMissingCredentials
	}
	return &Gateway{negotiateURL: negotiateURL, authToken: authToken}, nil
}

type negotiateRequest struct {
	Path        string `json:"path"`
	ContentType string `json:"contentType"`
}

type negotiateResponse struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// NegotiateUpload asks for a signed upload URL for the given object path.
// A 400/409 response carrying an "already exists" marker returns
// ErrAlreadyExists so the caller can short-circuit without downloading
// further bytes.
func (g *Gateway) NegotiateUpload(ctx context.Context, client *http.Client, path, contentType string) (string, error) {
	if contentType == "" {
		contentType = defaultContentType
	}
	payload, err := json.Marshal(negotiateRequest{
		Path:        strings.TrimPrefix(path, "/"),
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("encode negotiation payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.negotiateURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build negotiation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.authToken)
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("negotiate upload: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read negotiation response: %w", err)
	}

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusConflict {
		var decoded negotiateResponse
		if jsonErr := json.Unmarshal(body, &decoded); jsonErr == nil {
			if strings.Contains(decoded.Error, "already exists") {
				return "", ErrAlreadyExists
			}
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("negotiation failed (status %d): %s", resp.StatusCode, truncate(body, 200))
	}

	var decoded negotiateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode negotiation response: %w", err)
	}
	if decoded.URL == "" {
		return "", fmt.Errorf("no signed URL in response: %s", truncate(body, 200))
	}
	return decoded.URL, nil
}

// Upload streams the object bytes to the signed URL. The body is relayed
// without buffering the whole file in memory.
func (g *Gateway) Upload(ctx context.Context, client *http.Client, signedURL string, body io.Reader, contentType string) error {
	if contentType == "" {
		contentType = defaultContentType
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signedURL, body)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upload failed (status %d)", resp.StatusCode)
	}
	return nil
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "…"
	}
	return s
}
