package browser

import (
	"context"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"github.com/asepharyana/gatewayd/internal/selectors"
)

// challengeTitles are page titles that indicate a Cloudflare-class
// interstitial is being shown instead of the requested page.
var challengeTitles = []string{
	"just a moment",
	"checking your browser",
	"ddos-guard",
	"please wait",
	"attention required",
}

// challengeSelectors are DOM selectors that indicate the same.
var challengeSelectors = []string{
	"#cf-challenge-running",
	".ray_id",
	"#turnstile-wrapper",
	".cf-turnstile",
	"#cf-wrapper",
	"#challenge-running",
	"#challenge-stage",
	"#cf-spinner-please-wait",
	"#cf-spinner-redirecting",
	"div[class*=challenge]",
	"cf-browser-verification",
}

// pageTitle safely reads the page title.
func pageTitle(page *rod.Page) (string, error) {
	info, err := page.Info()
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

// findChallengeSelector checks whether any challenge selector is present.
// The timeout budget for all selectors combined is bounded by the page's
// context deadline (or a 5s default) and divided across the selector list,
// so a chain of per-selector lookups cannot stack into a much longer wait
// than the caller's own timeout.
func findChallengeSelector(page *rod.Page) string {
	ctx := page.GetContext()
	totalTimeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < totalTimeout {
			totalTimeout = remaining
		}
	}

	perSelector := totalTimeout / time.Duration(len(challengeSelectors)+1)
	if perSelector < 100*time.Millisecond {
		perSelector = 100 * time.Millisecond
	}

	for _, selector := range challengeSelectors {
		select {
		case <-ctx.Done():
			return ""
		default:
		}
		if has, _, _ := page.Timeout(perSelector).Has(selector); has {
			return selector
		}
	}
	return ""
}

// detectChallengeOnPage is the JS predicate from the contract: it returns
// true when the DOM currently matches a Cloudflare-style interstitial,
// checked via title text and DOM selectors rather than a single JS
// expression, matching how the rest of the pool already probes pages.
func detectChallengeOnPage(page *rod.Page) bool {
	title, err := pageTitle(page)
	if err == nil {
		lower := strings.ToLower(title)
		for _, t := range challengeTitles {
			if strings.Contains(lower, t) {
				return true
			}
		}
	}
	return findChallengeSelector(page) != ""
}

// detectChallengeInBody classifies decoded HTML against the hot-reloadable
// pattern tables in the selectors package, distinguishing an access-denied
// blockpage from a solvable JS/Turnstile challenge.
func detectChallengeInBody(html string, sel *selectors.Selectors) (accessDenied, challenge bool) {
	lower := strings.ToLower(html)
	for _, pattern := range sel.AccessDenied {
		if strings.Contains(lower, pattern) && strings.Contains(lower, "cloudflare") {
			return true, false
		}
	}
	for _, pattern := range sel.Turnstile {
		if strings.Contains(lower, pattern) {
			return false, true
		}
	}
	for _, pattern := range sel.JavaScript {
		if strings.Contains(lower, pattern) {
			return false, true
		}
	}
	return false, false
}

// waitContext sleeps for d or returns false early if ctx is done.
func waitContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
