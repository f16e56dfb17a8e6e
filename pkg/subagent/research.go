package subagent

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"
)

// WebFetchResult is the extracted, readable content of a fetched page.
type WebFetchResult struct {
	URL     string
	Title   string
	Content string
}

const webFetchTimeout = 30 * time.Second

// WebFetch renders target in a headless browser and extracts its main
// readable content, the researcher profile's default browsing tool. It is
// invoked by the researcher subagent binary, not the orchestrator itself.
func WebFetch(ctx context.Context, target string) (WebFetchResult, error) {
	parsed, err := url.Parse(target)
	if err != nil || !strings.HasPrefix(parsed.Scheme, "http") {
		return WebFetchResult{}, fmt.Errorf("subagent: invalid fetch target %q", target)
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	timeoutCtx, cancelTimeout := context.WithTimeout(browserCtx, webFetchTimeout)
	defer cancelTimeout()

	var html string
	if err := chromedp.Run(timeoutCtx,
		chromedp.Navigate(target),
		chromedp.OuterHTML("html", &html),
	); err != nil {
		return WebFetchResult{}, fmt.Errorf("subagent: fetch %s: %w", target, err)
	}

	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		return WebFetchResult{}, fmt.Errorf("subagent: extract content from %s: %w", target, err)
	}

	return WebFetchResult{URL: target, Title: article.Title, Content: article.TextContent}, nil
}
