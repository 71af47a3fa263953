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

const boulderadoUrlFormat = "https://www.boulderado.de/boulderadoweb/gym-clientcounter/index.php?mode=get&token=%s"

// BoulderadoAdapter reads the gym client counter page. Both counts are
// printed directly in the markup, so no derivation is needed.
type BoulderadoAdapter struct {
	pages fetcher.PageFetcher
}

func NewBoulderadoAdapter(pages fetcher.PageFetcher) *BoulderadoAdapter {
	return &BoulderadoAdapter{pages: pages}
}

func (a *BoulderadoAdapter) Vendor() model.VendorType {
	return model.Boulderado
}

func (a *BoulderadoAdapter) PageURL(site *config.SiteConfig) string {
	return fmt.Sprintf(boulderadoUrlFormat, site.Token)
}

func (a *BoulderadoAdapter) Crawl(ctx context.Context, siteName string,
	site *config.SiteConfig) (model.CrawlResult, error) {
	url := a.PageURL(site)
	body, err := a.pages.FetchPage(ctx, url)
	if err != nil {
		return model.CrawlResult{}, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return model.CrawlResult{}, &ExtractionError{Site: siteName, Detail: err.Error(), Body: body}
	}

	counts := make(map[string]int, 2)
	for _, counter := range []string{"act", "free"} {
		sel := doc.Find(fmt.Sprintf("div.%scounter-content span", counter)).First()
		if sel.Length() == 0 {
			return model.CrawlResult{}, &ExtractionError{Site: siteName,
				Detail: fmt.Sprintf("no %scounter-content element found", counter), Body: body}
		}
		count, err := strconv.Atoi(strings.TrimSpace(sel.Text()))
		if err != nil {
			return model.CrawlResult{}, &ExtractionError{Site: siteName,
				Detail: fmt.Sprintf("%scounter-content is not a number: %q", counter, sel.Text()), Body: body}
		}
		counts[counter] = count
	}

	return model.CrawlResult{Free: counts["free"], Active: counts["act"]}, nil
}
