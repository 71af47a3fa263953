// Package adapter extracts free and active visitor-slot counts from the
// occupancy pages of the supported booking platforms. One adapter per
// vendor; the dispatcher selects by the site's declared type and fails
// closed on anything it does not recognize.
package adapter

import (
	"context"
	"fmt"

	"github.com/boulderstats/occupancy-crawler/config"
	"github.com/boulderstats/occupancy-crawler/internal/fetcher"
	"github.com/boulderstats/occupancy-crawler/internal/model"
)

type Adapter interface {
	Crawl(ctx context.Context, siteName string, site *config.SiteConfig) (model.CrawlResult, error)
	// PageURL builds the vendor occupancy-page URL for a site.
	PageURL(site *config.SiteConfig) string
	Vendor() model.VendorType
}

// ForSite maps a site's vendor type to its adapter. Exhaustive over the
// closed vendor enum; an unknown type is a per-site ConfigurationError for
// the caller to log and skip.
func ForSite(siteName string, site *config.SiteConfig, pages fetcher.PageFetcher) (Adapter, error) {
	switch model.VendorType(site.Type) {
	case model.Boulderado:
		return NewBoulderadoAdapter(pages), nil
	case model.Webclimber:
		return NewWebclimberAdapter(pages), nil
	default:
		return nil, &ConfigurationError{
			Site:   siteName,
			Detail: fmt.Sprintf("unknown boulder arena type: %s", site.Type),
		}
	}
}
