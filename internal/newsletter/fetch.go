// Package newsletter retrieves the daily newsletter page and turns it into a
// structured Document plus a rendered Message for delivery.
package newsletter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "tldrbot/pkg/logx"
)

type Fetcher struct {
	url      string
	hc       *http.Client
	denylist []string
	log      logx.Logger
}

// NewFetcher creates a fetcher. url may be empty for DefaultURL; denylist may
// be nil for DefaultDenylist.
func NewFetcher(url string, timeout time.Duration, denylist []string, log logx.Logger) *Fetcher {
	u := strings.TrimSpace(url)
	if u == "" {
		u = DefaultURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if denylist == nil {
		denylist = DefaultDenylist
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fetcher{
		url:      u,
		hc:       &http.Client{Timeout: timeout},
		denylist: denylist,
		log:      log,
	}
}

// Fetch retrieves and parses the day's newsletter.
// Fails with ErrFetch when the page is unreachable and ErrParse when no
// section contains usable articles.
func (f *Fetcher) Fetch(ctx context.Context) (*Document, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	resp, err := f.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrFetch, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrFetch, err)
	}

	doc, err := Parse(strings.NewReader(string(body)), f.denylist)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, s := range doc.Sections {
		total += len(s.Articles)
	}
	f.log.Info("newsletter fetched",
		logx.String("date", doc.Date),
		logx.Int("sections", len(doc.Sections)),
		logx.Int("articles", total),
		logx.Duration("took", time.Since(start)),
	)
	return doc, nil
}
