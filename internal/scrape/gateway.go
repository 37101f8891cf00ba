// Package scrape composes Cache, ProxyFetcher, and BrowserPool behind a
// pure function per endpoint: scrape(spec) -> ParsedResult.
package scrape

import (
	"context"
	"errors"
	"time"

	"github.com/asepharyana/gatewayd/internal/apierr"
	"github.com/asepharyana/gatewayd/internal/browser"
	"github.com/asepharyana/gatewayd/internal/cache"
	"github.com/asepharyana/gatewayd/internal/fetch"
	"github.com/asepharyana/gatewayd/internal/reingest"
	"github.com/asepharyana/gatewayd/internal/selectors"
	"github.com/asepharyana/gatewayd/internal/telemetry"
)

// Item is one parsed scrape result, carrying an origin image URL that may
// be rewritten in-place to a reingested CDN URL before the response goes
// out.
type Item struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Poster   string `json:"poster,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// Pagination describes whether more pages exist beyond this result.
type Pagination struct {
	HasNextPage bool `json:"has_next_page"`
	NextCursor  string `json:"next_cursor,omitempty"`
}

// ParsedResult is a scrape endpoint's output.
type ParsedResult struct {
	Items      []Item     `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// Parser is a total function over raw HTML bytes: unknown structure
// returns an empty item list and has_next_page=false rather than failing.
type Parser func(html []byte) ([]Item, Pagination)

// EndpointSpec describes one scrape endpoint's cache key template, TTL,
// fetch strategy, and parser.
type EndpointSpec struct {
	Name     string
	URL      string
	CacheKey string
	TTL      time.Duration
	Guarded  bool // true: fetch via BrowserPool instead of ProxyFetcher
	// Headers are extra request headers forwarded to the origin on an
	// unguarded (ProxyFetcher) fetch; ignored on a Guarded fetch, which
	// goes through a real browser tab instead of a raw HTTP request.
	Headers map[string]string
	Parse   Parser
}

// Gateway composes the CORE components behind one scrape call.
type Gateway struct {
	cache     *cache.Cache
	fetcher   *fetch.Fetcher
	pool      *browser.Pool
	reingest  *reingest.Reingest
	proxy     *browser.ProxyConfig

	selectorsManager *selectors.Manager
}

// New builds a Gateway. reingestPipeline may be nil, in which case poster
// URLs are left untouched (used in tests and deployments without object
// storage configured). proxy may be nil, in which case guarded fetches use
// the pool's browsers directly with no upstream proxy.
func New(c *cache.Cache, f *fetch.Fetcher, p *browser.Pool, r *reingest.Reingest, proxy *browser.ProxyConfig) *Gateway {
	return &Gateway{cache: c, fetcher: f, pool: p, reingest: r, proxy: proxy}
}

// SetSelectorsManager attaches the hot-reloadable challenge-pattern manager
// used to classify guarded (browser-fetched) HTML. A nil manager (the
// default) falls back to the embedded selectors singleton.
func (g *Gateway) SetSelectorsManager(m *selectors.Manager) {
	g.selectorsManager = m
}

func (g *Gateway) selectorPatterns() *selectors.Selectors {
	if g.selectorsManager != nil {
		return g.selectorsManager.Get()
	}
	return selectors.Get()
}

// Scrape runs spec's fetch strategy, parses the result, and rewrites
// poster URLs to already-cached object-store URLs where available. Any
// origin URL not yet cached is left as-is; ImageReingest will process it
// in the background so a later request sees the rewritten form.
func (g *Gateway) Scrape(ctx context.Context, spec EndpointSpec) (*ParsedResult, error) {
	html, err := cache.GetOrSet(ctx, g.cache, spec.CacheKey, spec.TTL, func(ctx context.Context) (string, error) {
		return g.fetchHTML(ctx, spec)
	})
	if err != nil {
		recordScrapeFailure(err)
		return nil, err
	}

	items, pagination := spec.Parse([]byte(html))

	if g.reingest != nil {
		g.rewritePosters(ctx, items)
	}

	return &ParsedResult{Items: items, Pagination: pagination}, nil
}

func (g *Gateway) fetchHTML(ctx context.Context, spec EndpointSpec) (string, error) {
	if spec.Guarded {
		tab, err := browser.NewTab(ctx, g.pool, &browser.TabOptions{Proxy: g.proxy})
		if err != nil {
			return "", err
		}
		defer tab.Close()

		if err := tab.Navigate(ctx, spec.URL); err != nil {
			return "", err
		}
		html, err := tab.Content()
		if err != nil {
			return "", err
		}
		accessDenied, challenge := browser.ClassifyBody(html, g.selectorPatterns())
		if accessDenied {
			return "", apierr.ErrAccessDenied
		}
		if challenge {
			return "", apierr.ErrChallengePresent
		}
		return html, nil
	}

	result, err := g.fetcher.FetchWithHeaders(ctx, spec.URL, spec.Headers)
	if err != nil {
		return "", err
	}
	return result.Body, nil
}

// rewritePosters submits every item's poster to ImageReingest.CacheBatchLazy
// and rewrites the ones that came back cached synchronously.
func (g *Gateway) rewritePosters(ctx context.Context, items []Item) {
	urls := make([]string, 0, len(items))
	indices := make([]int, 0, len(items))
	for i, item := range items {
		if item.Poster == "" {
			continue
		}
		urls = append(urls, item.Poster)
		indices = append(indices, i)
	}
	if len(urls) == 0 {
		return
	}

	cached := g.reingest.CacheBatchLazy(ctx, urls)
	for i, stored := range cached {
		if stored == nil {
			continue
		}
		items[indices[i]].Poster = *stored
	}
}

// recordScrapeFailure classifies err into one of the terminal-upstream
// reasons tracked by the scrape_failures metric (the challenge, access-denied,
// blockpage, rate-limit and geo-block sentinels), falling back to "other"
// for anything else.
func recordScrapeFailure(err error) {
	switch {
	case errors.Is(err, apierr.ErrChallengePresent):
		metrics.RecordScrapeFailure("challenge_present")
	case errors.Is(err, apierr.ErrAccessDenied):
		metrics.RecordScrapeFailure("access_denied")
	case errors.Is(err, apierr.ErrChallengeTimeout):
		metrics.RecordScrapeFailure("challenge_timeout")
	case errors.Is(err, apierr.ErrChallengeUnsolvable):
		metrics.RecordScrapeFailure("challenge_unsolvable")
	case errors.Is(err, apierr.ErrBlockpageDetected):
		metrics.RecordScrapeFailure("blockpage_detected")
	case errors.Is(err, apierr.ErrRateLimited):
		metrics.RecordScrapeFailure("rate_limited")
	case errors.Is(err, apierr.ErrGeoBlocked):
		metrics.RecordScrapeFailure("geo_blocked")
	default:
		metrics.RecordScrapeFailure("other")
	}
}
