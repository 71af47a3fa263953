package adapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/boulderstats/occupancy-crawler/config"
	"github.com/boulderstats/occupancy-crawler/internal/fetcher"
	"github.com/boulderstats/occupancy-crawler/internal/model"
)

const webclimberUrlFormat = "https://%s.webclimber.de/de/trafficlight?key=%s"

// WebclimberAdapter reconstructs slot counts from the traffic-light status
// page. The page is built for human eyes: the free count is printed for
// most locations but not all, and the active count is never printed and
// has to be derived from the width of the occupancy bar.
type WebclimberAdapter struct {
	pages fetcher.PageFetcher
}

func NewWebclimberAdapter(pages fetcher.PageFetcher) *WebclimberAdapter {
	return &WebclimberAdapter{pages: pages}
}

func (a *WebclimberAdapter) Vendor() model.VendorType {
	return model.Webclimber
}

func (a *WebclimberAdapter) PageURL(site *config.SiteConfig) string {
	return fmt.Sprintf(webclimberUrlFormat, site.ClientID, site.Token)
}

func (a *WebclimberAdapter) Crawl(ctx context.Context, siteName string,
	site *config.SiteConfig) (model.CrawlResult, error) {
	if site.ClientID == "" {
		return model.CrawlResult{}, &ConfigurationError{Site: siteName,
			Detail: "webclimber sites require client_id"}
	}

	url := a.PageURL(site)
	body, err := a.pages.FetchPage(ctx, url)
	if err != nil {
		return model.CrawlResult{}, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return model.CrawlResult{}, &ExtractionError{Site: siteName, Detail: err.Error(), Body: body}
	}

	free, err := extractFreeSlots(doc, siteName)
	if err != nil {
		return model.CrawlResult{}, withPageBody(err, body)
	}
	occupiedPct, err := extractBarWidth(doc, siteName)
	if err != nil {
		return model.CrawlResult{}, withPageBody(err, body)
	}

	return reconcile(free, occupiedPct), nil
}

// extractFreeSlots reads the first token of the status text as an integer.
// A non-numeric token is not an error: some locations omit the count, which
// marks the value unknown and selects the percentage-only branch.
func extractFreeSlots(doc *goquery.Document, siteName string) (model.FreeCount, error) {
	sel := doc.Find("div.status_text").First()
	if sel.Length() == 0 {
		return model.FreeCount{}, &ExtractionError{Site: siteName,
			Detail: "no status_text element found"}
	}
	tokens := strings.Fields(strings.TrimSpace(sel.Text()))
	if len(tokens) == 0 {
		return model.UnknownFree(), nil
	}
	n, err := strconv.Atoi(tokens[0])
	if err != nil || n < 0 {
		return model.UnknownFree(), nil
	}

	return model.KnownFree(n), nil
}

// extractBarWidth parses the inline style of the occupancy bar and returns
// its width percentage, the share of capacity currently in use.
func extractBarWidth(doc *goquery.Document, siteName string) (int, error) {
	sel := doc.Find("div.bar").First()
	if sel.Length() == 0 {
		return 0, &ExtractionError{Site: siteName, Detail: "no bar element found"}
	}
	style, ok := sel.Attr("style")
	if !ok {
		return 0, &ExtractionError{Site: siteName, Detail: "bar element has no style attribute"}
	}

	width, ok := parseStyle(style)["width"]
	if !ok {
		return 0, &ExtractionError{Site: siteName, Detail: "bar style has no width property"}
	}
	width = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(width), "%"))
	pct, err := strconv.Atoi(width)
	if err != nil || pct < 0 || pct > 100 {
		return 0, &ExtractionError{Site: siteName,
			Detail: fmt.Sprintf("bar width %q is not a percentage", width)}
	}

	return pct, nil
}

// parseStyle splits an inline style attribute into its property:value pairs.
func parseStyle(style string) map[string]string {
	attrs := make(map[string]string)
	for _, entry := range strings.Split(style, ";") {
		property, value, found := strings.Cut(entry, ":")
		if !found {
			continue
		}
		attrs[strings.TrimSpace(property)] = value
	}

	return attrs
}

// reconcile turns the partial readings into totals.
//
// With no free count the capacity is normalized to 100 slots and the bar
// percentage is the active count. With a known free count the total is
// reconstructed from the ratio the bar implies, floor(free/pct)*100, the
// percentage-as-hundredths convention of the platform. A zero-width bar
// with a known free count would divide by zero; that page shape means the
// gym is empty, so the defined result is active=0.
func reconcile(free model.FreeCount, occupiedPct int) model.CrawlResult {
	if !free.Known {
		return model.CrawlResult{Free: 100 - occupiedPct, Active: occupiedPct}
	}
	if occupiedPct == 0 {
		return model.CrawlResult{Free: free.N, Active: 0}
	}

	total := (free.N / occupiedPct) * 100
	active := total - free.N
	if active < 0 {
		active = 0
	}

	return model.CrawlResult{Free: free.N, Active: active}
}
