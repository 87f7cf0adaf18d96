// Package cdpdomain holds small CDP helpers that are scoped to the browser
// session as a whole rather than to any single target, so they don't belong
// in internal/target or internal/network.
package cdpdomain

import (
	"context"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"golang.org/x/sync/singleflight"
)

// BrowserInfo is the subset of Browser.getVersion the mapper surfaces.
type BrowserInfo struct {
	Product         string
	ProtocolVersion string
	UserAgent       string
}

// BrowserInfoFetcher fetches BrowserInfo, deduping concurrent callers onto a
// single Browser.getVersion round trip. Every browsing-context target
// unblocks concurrently on attach (spec §4.2), and the admin introspection
// server can be polled at any time, so without dedup a burst of attaches
// would each ask CDP the same question at once.
type BrowserInfoFetcher struct {
	client cdp.Executor
	group  singleflight.Group
}

func NewBrowserInfoFetcher(client cdp.Executor) *BrowserInfoFetcher {
	return &BrowserInfoFetcher{client: client}
}

// GetBrowserInfo returns the browser's version info, issuing
// Browser.getVersion at most once per outstanding burst of callers.
func (f *BrowserInfoFetcher) GetBrowserInfo(ctx context.Context) (BrowserInfo, error) {
	v, err, _ := f.group.Do("browser-info", func() (interface{}, error) {
		protocolVersion, product, _, userAgent, _, err := browser.GetVersion().Do(cdp.WithExecutor(ctx, f.client))
		if err != nil {
			return BrowserInfo{}, err
		}
		return BrowserInfo{Product: product, ProtocolVersion: protocolVersion, UserAgent: userAgent}, nil
	})
	if err != nil {
		return BrowserInfo{}, err
	}
	return v.(BrowserInfo), nil
}
