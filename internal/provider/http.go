// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/apidesk/internal/credential"
)

const (
	// DefaultTimeout bounds every provider call, including a full chat stream.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize caps how much of a response body is read.
	MaxResponseSize = 10 * 1024 * 1024

	defaultUserAgent = "apidesk/1.0"
)

// sharedHTTPClient pools connections across all providers. It carries no
// client timeout; deadlines come from the request context.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// endpoint is the HTTP plumbing shared by the feature clients: one provider,
// one base URL.
type endpoint struct {
	provider  string
	baseURL   string
	http      *http.Client
	logger    zerolog.Logger
	userAgent string
}

func newEndpoint(providerID, baseURL string) endpoint {
	return endpoint{
		provider:  providerID,
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      sharedHTTPClient,
		logger:    zerolog.Nop(),
		userAgent: defaultUserAgent,
	}
}

// secret fetches this endpoint's key. A missing key comes back as the
// keyring's error so callers see a MissingCredentialError.
func (e *endpoint) secret(keys Keyring) (string, error) {
	if keys == nil {
		return "", &credential.MissingCredentialError{Providers: []string{e.provider}}
	}
	return keys.Get(e.provider)
}

func (e *endpoint) url(path string, query url.Values) string {
	u := e.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// newRequest builds a request with a JSON body when body is non-nil.
func (e *endpoint) newRequest(ctx context.Context, method, rawURL string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", e.userAgent)
	return req, nil
}

// send performs req and returns the response when the status is 2xx.
// Any other status is read, closed and turned into a KindHTTPStatus error.
// The query string is never logged; some providers carry the key in it.
func (e *endpoint) send(req *http.Request, fingerprint string) (*http.Response, error) {
	start := time.Now()
	resp, err := e.http.Do(req)
	if err != nil {
		e.logger.Debug().
			Str("provider", e.provider).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Str("key", fingerprint).
			Dur("duration", time.Since(start)).
			Err(err).
			Msg("PROVIDER_CALL_FAILED")
		return nil, classify(e.provider, err)
	}

	e.logger.Debug().
		Str("provider", e.provider).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Str("key", fingerprint).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("PROVIDER_CALL")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, readErr := readResponse(resp.Body)
		resp.Body.Close()
		if readErr != nil && len(body) == 0 {
			body = []byte(http.StatusText(resp.StatusCode))
		}
		return nil, statusError(e.provider, resp.StatusCode, body)
	}
	return resp, nil
}

// fetchJSON performs req and decodes a 2xx JSON body into out.
// The raw body is returned for callers that inspect it further.
func (e *endpoint) fetchJSON(req *http.Request, fingerprint string, out any) ([]byte, error) {
	resp, err := e.send(req, fingerprint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readResponse(resp.Body)
	if err != nil {
		return nil, classifyRead(req.Context(), e.provider, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return body, decodeError(e.provider, body, err)
	}
	return body, nil
}

// getJSON is fetchJSON for a GET with optional extra headers.
func (e *endpoint) getJSON(ctx context.Context, path string, query url.Values, header http.Header, fingerprint string, out any) ([]byte, error) {
	req, err := e.newRequest(ctx, http.MethodGet, e.url(path, query), nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return e.fetchJSON(req, fingerprint, out)
}

// openDownload starts an unauthenticated GET of a file the provider linked
// to. The URL must be absolute http or https. The caller closes the body and
// then calls cancel.
func (e *endpoint) openDownload(ctx context.Context, rawURL string, timeout time.Duration) (*http.Response, context.CancelFunc, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, nil, &Error{Provider: e.provider, Kind: KindTransport, Message: "invalid download url", Err: err}
	}

	ctx, cancel := withTimeout(ctx, timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.send(req, "none")
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return resp, cancel, nil
}

// readResponse reads at most MaxResponseSize bytes of body.
func readResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// withTimeout applies the per-call deadline. A non-positive timeout leaves
// ctx unchanged.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func trimBase(url, fallback string) string {
	url = strings.TrimSpace(url)
	if url == "" {
		return fallback
	}
	return strings.TrimRight(url, "/")
}
