// Package lifecycle implements the rule fetch/apply lifecycle (spec
// §4.6, C7): initial cached-document load, conditional-GET pointer
// polling, immutable-document fetch on version change, and a jittered
// auto-refresh timer.
package lifecycle

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/vitaliisemenov/featureflag/internal/model"
)

// PointerResult is the outcome of one pointer-document fetch attempt.
type PointerResult struct {
	NotModified bool
	ETag        string
	Pointer     model.PointerDocument
	Country     string // from the response's Country header, if present
}

// Fetcher is the transport the lifecycle manager drives. The production
// HTTP transport is an external collaborator (spec §1 Out of scope);
// httpFetcher below is the reference implementation exercised by
// internal/lifecycle/testfixture, and tests may substitute a stub.
type Fetcher interface {
	FetchPointer(ctx context.Context, etag string) (*PointerResult, error)
	FetchDocument(ctx context.Context, version string) ([]byte, error)
}

// CountryDetector is an optional auxiliary lookup used only when a
// pointer response carries no Country header (spec §5: "5s for
// auxiliary country-detection").
type CountryDetector func(ctx context.Context) (string, error)

// httpFetcher is the reference Fetcher: HTTPS with an API key header
// and a no-store cache directive, mirroring the teacher's webhook
// client's transport tuning but without its retry loop — a fetch
// failure here simply leaves the installed rule set intact and is
// retried at the next scheduled interval, never immediately.
type httpFetcher struct {
	client      *http.Client
	pointerURL  string
	documentURL func(version string) string
	apiKey      string
}

// NewHTTPFetcher builds the reference Fetcher. documentURL derives an
// immutable document's path from its version (spec §6: content-
// addressed by version).
func NewHTTPFetcher(pointerURL string, documentURL func(version string) string, apiKey string) Fetcher {
	return &httpFetcher{
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       30 * time.Second,
				DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				TLSHandshakeTimeout:   5 * time.Second,
				ResponseHeaderTimeout: 10 * time.Second,
			},
		},
		pointerURL:  pointerURL,
		documentURL: documentURL,
		apiKey:      apiKey,
	}
}

func (f *httpFetcher) FetchPointer(ctx context.Context, etag string) (*PointerResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.pointerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: build pointer request: %w", err)
	}
	req.Header.Set("X-API-Key", f.apiKey)
	req.Header.Set("Cache-Control", "no-store")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: fetch pointer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &PointerResult{NotModified: true, ETag: etag}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("lifecycle: pointer fetch: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: read pointer body: %w", err)
	}

	var ptr model.PointerDocument
	if err := json.Unmarshal(body, &ptr); err != nil {
		return nil, fmt.Errorf("lifecycle: parse pointer document: %w", err)
	}

	return &PointerResult{
		Pointer: ptr,
		ETag:    resp.Header.Get("ETag"),
		Country: resp.Header.Get("Country"),
	}, nil
}

func (f *httpFetcher) FetchDocument(ctx context.Context, version string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.documentURL(version), nil)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: build document request: %w", err)
	}
	req.Header.Set("X-API-Key", f.apiKey)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: fetch document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("lifecycle: document fetch: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: read document body: %w", err)
	}
	return body, nil
}
