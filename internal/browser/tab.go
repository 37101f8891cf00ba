package browser

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/asepharyana/gatewayd/internal/apierr"
	"github.com/asepharyana/gatewayd/internal/security"
	"github.com/asepharyana/gatewayd/internal/selectors"
)

// Tab is a short-lived handle to one page in a browser that the Pool hands
// to this tab alone until Close.
// It is the only way callers touch a *rod.Page: the page is closed and the
// underlying browser returned to the Pool when the handle is dropped on any
// exit path, mirroring the session package's refcounted page ownership.
type Tab struct {
	pool    *Pool
	browser *rod.Browser
	page    *rod.Page

	createdAt time.Time
	closing   atomic.Bool
	closeOnce sync.Once

	opTimeout time.Duration
	opts      TabOptions

	stealthApplied bool
	proxyCleanup   func()
}

// TabOptions configures per-tab retry/timeout behavior and an optional
// upstream proxy applied to the page via CDP auth interception.
type TabOptions struct {
	OpTimeout   time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Proxy       *ProxyConfig
}

func defaultTabOptions() TabOptions {
	return TabOptions{
		OpTimeout:   30 * time.Second,
		MaxRetries:  3,
		BaseBackoff: 250 * time.Millisecond,
		MaxBackoff:  4 * time.Second,
	}
}

// NewTab acquires a browser from the pool and opens a blank page for it.
// It fails with ErrBrowserUnavailable if the pool cannot hand out a browser.
func NewTab(ctx context.Context, pool *Pool, opts *TabOptions) (*Tab, error) {
	o := defaultTabOptions()
	if opts != nil {
		if opts.OpTimeout > 0 {
			o.OpTimeout = opts.OpTimeout
		}
		if opts.MaxRetries > 0 {
			o.MaxRetries = opts.MaxRetries
		}
		if opts.BaseBackoff > 0 {
			o.BaseBackoff = opts.BaseBackoff
		}
		if opts.MaxBackoff > 0 {
			o.MaxBackoff = opts.MaxBackoff
		}
		o.Proxy = opts.Proxy
	}

	b, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apierr.ErrBrowserUnavailable, err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		pool.Release(b)
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	t := &Tab{
		pool:      pool,
		browser:   b,
		page:      page,
		createdAt: time.Now(),
		opTimeout: o.OpTimeout,
		opts:      o,
	}

	if o.Proxy != nil {
		cleanup, err := SetPageProxy(ctx, page, o.Proxy)
		if err != nil {
			log.Warn().Err(err).Msg("proxy setup failed, continuing without proxy auth")
		} else {
			t.proxyCleanup = cleanup
		}
	}

	return t, nil
}

// applyStealth runs the fingerprint-override script sequence exactly once
// per tab, before the first navigation, and sleeps a random jitter — once,
// not per-operation — so the tab's observable fingerprint is stable for its
// whole lifetime.
func (t *Tab) applyStealth(ctx context.Context) error {
	if t.stealthApplied {
		return nil
	}
	t.stealthApplied = true

	if err := ApplyFingerprintToPage(t.page); err != nil {
		log.Warn().Err(err).Msg("fingerprint setup failed, continuing with page defaults")
	}

	if err := ApplyStealthToPage(t.page); err != nil {
		return fmt.Errorf("stealth setup failed: %w", err)
	}

	jitter := time.Duration(150+rand.IntN(350)) * time.Millisecond
	waitContext(ctx, jitter)
	return nil
}

// withRetry runs op with exponential backoff, checking for a challenge
// after every failed attempt; if one is detected it returns a terminal
// error immediately instead of continuing to retry.
func (t *Tab) withRetry(ctx context.Context, o TabOptions, op func(ctx context.Context) error) error {
	if t.closing.Load() {
		return apierr.ErrTabClosed
	}

	backoff := o.BaseBackoff
	var lastErr error
	for attempt := 0; attempt <= o.MaxRetries; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, t.opTimeout)
		err := op(opCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if detectChallengeOnPage(t.page) {
			return apierr.New(apierr.KindTerminalUpstream, "CHALLENGE_PRESENT",
				"challenge present on page, not retrying", apierr.ErrChallengePresent)
		}

		if attempt == o.MaxRetries {
			break
		}
		if !waitContext(ctx, backoff) {
			return apierr.ErrContextCanceled
		}
		backoff *= 2
		if backoff > o.MaxBackoff {
			backoff = o.MaxBackoff
		}
	}
	return fmt.Errorf("operation failed after %d attempts: %w", o.MaxRetries+1, lastErr)
}

// Navigate goes to url with a timeout; on timeout or transport error it
// retries with exponential backoff, capped attempts. Detects a challenge
// after each failure and aborts early with a terminal error rather than
// retrying into it.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	if err := security.ValidateURLWithContext(ctx, url); err != nil {
		return fmt.Errorf("%w: %v", apierr.ErrInvalidURL, err)
	}

	o := t.opts

	if err := t.applyStealth(ctx); err != nil {
		log.Warn().Err(err).Msg("stealth setup failed, navigating anyway")
	}

	return t.withRetry(ctx, o, func(opCtx context.Context) error {
		return t.page.Context(opCtx).Navigate(url)
	})
}

// Content returns the current page HTML, same retry discipline as Navigate.
func (t *Tab) Content() (string, error) {
	if t.closing.Load() {
		return "", apierr.ErrTabClosed
	}
	var html string
	err := t.withRetry(context.Background(), t.opts, func(opCtx context.Context) error {
		h, err := t.page.Context(opCtx).HTML()
		html = h
		return err
	})
	return html, err
}

// Evaluate runs js on the page and returns the decoded JSON result.
func (t *Tab) Evaluate(ctx context.Context, js string) (gson.JSON, error) {
	if t.closing.Load() {
		return gson.JSON{}, apierr.ErrTabClosed
	}
	res, err := t.page.Context(ctx).Eval(js)
	if err != nil {
		return gson.JSON{}, err
	}
	return res.Value, nil
}

// Screenshot captures the current viewport as PNG bytes.
func (t *Tab) Screenshot() ([]byte, error) {
	if t.closing.Load() {
		return nil, apierr.ErrTabClosed
	}
	return t.page.Screenshot(false, nil)
}

// DetectChallenge reports whether the page currently shows a Cloudflare-class
// interstitial, via title and selector checks.
func (t *Tab) DetectChallenge() bool {
	return detectChallengeOnPage(t.page)
}

// ClassifyBody classifies already-fetched HTML against the hot-reloadable
// pattern tables, distinguishing a blockpage from a solvable challenge.
func ClassifyBody(html string, sel *selectors.Selectors) (accessDenied, challenge bool) {
	return detectChallengeInBody(html, sel)
}

// Close closes the page and releases the browser back to the pool. Safe to
// call more than once; only the first call has effect. Operations on a
// dropped tab fail with ErrTabClosed.
func (t *Tab) Close() {
	t.closeOnce.Do(func() {
		t.closing.Store(true)
		if t.proxyCleanup != nil {
			t.proxyCleanup()
		}
		if t.page != nil {
			if err := t.page.Close(); err != nil {
				log.Debug().Err(err).Msg("tab page close error")
			}
		}
		t.pool.Release(t.browser)
	})
}
