package store

import (
	"time"

	"github.com/boulderstats/occupancy-crawler/config"
	"github.com/boulderstats/occupancy-crawler/internal/model"
	client "github.com/influxdata/influxdb1-client/v2"
)

const Measurement = "boulder_center_utilization"

// BuildPoint maps one crawl result into a timestamped utilization point.
// The location tag falls back to the site name; the area tag is only set
// when the site declares one.
func BuildPoint(siteName string, site *config.SiteConfig, result model.CrawlResult,
	ts time.Time) (*client.Point, error) {
	location := site.Location
	if location == "" {
		location = siteName
	}
	tags := map[string]string{"location": location}
	if site.Area != "" {
		tags["area"] = site.Area
	}
	fields := map[string]interface{}{
		"free":   result.Free,
		"active": result.Active,
	}

	return client.NewPoint(Measurement, tags, fields, ts.UTC())
}
