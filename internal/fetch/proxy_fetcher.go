// Package fetch implements the direct/proxy-relay HTTP fetcher that sits
// in front of the browser pool for endpoints that don't need a real
// browser.
package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/asepharyana/gatewayd/internal/apierr"
	"github.com/asepharyana/gatewayd/internal/cache"
	"github.com/asepharyana/gatewayd/internal/ratelimit"
	"github.com/asepharyana/gatewayd/internal/security"
	"github.com/asepharyana/gatewayd/pkg/version"
)

// proxyCacheTTL bounds how long a successful fetch is cached under
// fetch:proxy:<url>, the response-cache tier ProxyFetcher owns in front of
// ScrapingGateway's own endpoint-level cache.
const proxyCacheTTL = 120 * time.Second

// Result is a fetched document: the decoded body plus the content type the
// origin reported.
type Result struct {
	Body        string `json:"body"`
	ContentType string `json:"content_type"`
	StatusCode  int    `json:"status_code"`
}

// blockedSignatures are substrings that identify an ISP/provider
// "internet blocked" interstitial rather than the requested page. Matched
// the same lowercase-substring way the browser package's challenge
// detector matches Cloudflare interstitials, but against a distinct
// pattern set — these are not solvable by a browser, only by a different
// network path.
var blockedSignatures = []string{
	"internet positif",
	"situs diblokir",
	"content blocked by your provider",
	"access to this site has been restricted",
	"diblokir oleh kominfo",
}

// Fetcher performs direct and proxy-relay fetches with a gzip inflation
// step run off the calling goroutine.
type Fetcher struct {
	direct      *http.Client
	proxy       *http.Client
	relayBase   string
	inflatePool chan struct{}
	validateURL func(ctx context.Context, rawURL string) error
	cache       *cache.Cache
}

// New builds a Fetcher. relayBase, if non-empty, is prefixed onto the
// target URL for FetchWithProxyOnly. inflateConcurrency bounds how many
// gzip inflations may run at once, keeping decompression off the request
// goroutine pool the same way ImageReingest bounds its worker pool. c is the
// response-cache tier Fetch/FetchWithProxyOnly read through and write back
// to under fetch:proxy:<url>; a nil c disables caching (tests, or a
// deployment that wants every fetch to hit the origin).
func New(relayBase string, inflateConcurrency int, c *cache.Cache) *Fetcher {
	if inflateConcurrency < 1 {
		inflateConcurrency = 4
	}
	return &Fetcher{
		direct:      &http.Client{Timeout: 10 * time.Second},
		proxy:       &http.Client{Timeout: 30 * time.Second},
		relayBase:   relayBase,
		inflatePool: make(chan struct{}, inflateConcurrency),
		validateURL: security.ValidateURLWithContext,
		cache:       c,
	}
}

// SetURLValidator overrides the outbound URL validator. Production callers
// never need this; it exists so tests can point Fetch/FetchWithProxyOnly at
// an httptest server's loopback address without relaxing the real
// private-IP/localhost/cloud-metadata guard used everywhere else.
func (f *Fetcher) SetURLValidator(v func(ctx context.Context, rawURL string) error) {
	f.validateURL = v
}

// Fetch issues a direct GET with standard headers, going through the
// fetch:proxy:<url> cache tier when one is configured: a cache hit skips the
// request entirely, and a successful fetch is written back with a
// proxyCacheTTL expiry. On an uncached or cache-miss path it runs a
// blockpage check before returning; a detected blockpage is surfaced as a
// terminal error and, being an error, is never written to the cache. url is
// validated against the private-IP/localhost/cloud-metadata blocklist
// before any request leaves the process.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Result, error) {
	return f.FetchWithHeaders(ctx, url, nil)
}

// FetchWithHeaders is Fetch plus caller-supplied request headers. headers is
// validated with security.ValidateHeaders before being merged onto the
// request, rejecting the same connection-control, auth-bypass, and
// origin-spoofing header names the teacher validated before forwarding a
// request's custom headers to the browser.
func (f *Fetcher) FetchWithHeaders(ctx context.Context, url string, headers map[string]string) (*Result, error) {
	if err := f.validateURL(ctx, url); err != nil {
		return nil, fmt.Errorf("%w: %v", apierr.ErrInvalidURL, err)
	}
	if err := security.ValidateHeaders(headers); err != nil {
		return nil, fmt.Errorf("%w: %v", apierr.ErrInvalidRequest, err)
	}
	return f.cachedDo(ctx, f.direct, url, "fetch:proxy:"+url, headers)
}

// FetchWithProxyOnly prefixes url with the configured relay endpoint and
// re-issues with the longer proxy timeout. It is a distinct entry point,
// not a fallback invoked automatically by Fetch. url is a path/query suffix
// appended to the operator-configured relayBase, not itself the request's
// destination host, so it is not subject to the same outbound-URL
// validation as Fetch's absolute url; the relay endpoint is responsible for
// any further validation of what it is asked to retrieve. Shares the same
// fetch:proxy:<url> cache tier as Fetch.
func (f *Fetcher) FetchWithProxyOnly(ctx context.Context, url string) (*Result, error) {
	if f.relayBase == "" {
		return nil, fmt.Errorf("%w: no relay endpoint configured", apierr.ErrInvalidRequest)
	}
	return f.cachedDo(ctx, f.proxy, f.relayBase+url, "fetch:proxy:"+url, nil)
}

// cachedDo runs do through the response cache when one is configured,
// falling back to an uncached call otherwise. A request carrying custom
// headers is never cached keyed only on url, since two callers could ask
// for the same URL with different headers and expect different bodies;
// cache lookup/write is skipped whenever headers is non-empty.
func (f *Fetcher) cachedDo(ctx context.Context, client *http.Client, url, cacheKey string, headers map[string]string) (*Result, error) {
	if f.cache == nil || len(headers) > 0 {
		return f.do(ctx, client, url, headers)
	}
	return cache.GetOrSet(ctx, f.cache, cacheKey, proxyCacheTTL, func(ctx context.Context) (*Result, error) {
		return f.do(ctx, client, url, headers)
	})
}

func (f *Fetcher) do(ctx context.Context, client *http.Client, url string, headers map[string]string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apierr.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	body, err := f.decode(ctx, raw)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if info := ratelimit.Detect(resp.StatusCode, body); info.Detected {
			return nil, classifyRateLimitError(info, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: status %d", apierr.ErrFetchFailed, resp.StatusCode)
	}

	if isBlockedBody(body) {
		return nil, apierr.ErrBlockpageDetected
	}

	return &Result{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}, nil
}

// decode inflates a gzip-magic-prefixed body on the bounded inflate pool
// and decodes the result as UTF-8, lossily.
func (f *Fetcher) decode(ctx context.Context, raw []byte) (string, error) {
	if len(raw) >= 2 && raw[0] == 0x1f && raw[1] == 0x8b {
		select {
		case f.inflatePool <- struct{}{}:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		defer func() { <-f.inflatePool }()

		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return "", fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()

		inflated, err := io.ReadAll(gz)
		if err != nil {
			return "", fmt.Errorf("gzip inflate: %w", err)
		}
		raw = inflated
	}
	return string(raw), nil
}

func isBlockedBody(body string) bool {
	lower := strings.ToLower(body)
	for _, sig := range blockedSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// classifyRateLimitError maps a detected upstream error pattern to the
// matching terminal-upstream sentinel so callers can distinguish a
// rate limit (worth a longer single-flight TTL on retry) from an access
// denial or CAPTCHA wall.
func classifyRateLimitError(info ratelimit.Info, statusCode int) error {
	switch info.Category {
	case ratelimit.CategoryRateLimit:
		return fmt.Errorf("%w: %s (status %d)", apierr.ErrRateLimited, info.Description, statusCode)
	case ratelimit.CategoryGeoBlocked:
		return fmt.Errorf("%w: %s (status %d)", apierr.ErrGeoBlocked, info.Description, statusCode)
	case ratelimit.CategoryCaptcha:
		return fmt.Errorf("%w: %s (status %d)", apierr.ErrChallengePresent, info.Description, statusCode)
	default:
		return fmt.Errorf("%w: %s (status %d)", apierr.ErrAccessDenied, info.Description, statusCode)
	}
}
