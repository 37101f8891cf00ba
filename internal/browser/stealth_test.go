package browser

import (
	"context"
	"testing"

	"github.com/go-rod/rod/lib/proto"
)

func TestApplyFingerprintToPageSetsAUserAgentFromTheAllowlist(t *testing.T) {
	skipCI(t)

	pool, err := NewPool(testConfig())
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Close()

	b, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Failed to acquire browser: %v", err)
	}
	defer pool.Release(b)

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		t.Fatalf("Failed to open page: %v", err)
	}
	defer page.Close()

	if err := ApplyFingerprintToPage(page); err != nil {
		t.Fatalf("ApplyFingerprintToPage failed: %v", err)
	}

	ua, err := page.Eval("() => navigator.userAgent")
	if err != nil {
		t.Fatalf("Failed to read navigator.userAgent: %v", err)
	}

	found := false
	for _, allowed := range userAgentAllowlist {
		if ua.Value.Str() == allowed {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("page user agent %q is not in userAgentAllowlist", ua.Value.Str())
	}
}

func TestViewportAllowlistPairsAreNonZero(t *testing.T) {
	for _, vp := range viewportAllowlist {
		if vp[0] <= 0 || vp[1] <= 0 {
			t.Errorf("invalid viewport entry %v", vp)
		}
	}
}
