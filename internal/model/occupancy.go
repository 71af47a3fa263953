package model

import "time"

type FetchMechanism int

const (
	Curl FetchMechanism = iota
	HeadlessBrowser
)

func (fm FetchMechanism) String() string {
	return [...]string{"curl", "headless browser"}[fm]
}

// VendorType is the booking platform a gym runs. It decides which adapter
// parses the occupancy page.
type VendorType string

const (
	Boulderado VendorType = "boulderado"
	Webclimber VendorType = "webclimber"
)

// CrawlResult holds the two slot counts recovered from one occupancy page.
// Both values are non-negative; active+free equals the platform's total
// capacity (reconstructed for webclimber).
type CrawlResult struct {
	Free   int `json:"free"`
	Active int `json:"active"`
}

// FreeCount is an optional free-slot reading. Some webclimber locations
// omit the number, which selects the percentage-only branch rather than
// raising an error.
type FreeCount struct {
	N     int
	Known bool
}

func KnownFree(n int) FreeCount {
	return FreeCount{N: n, Known: true}
}

func UnknownFree() FreeCount {
	return FreeCount{}
}

// CrawlRecord is the per-site crawl outcome streamed to kafka and upserted
// into the history table. Err is empty on success.
type CrawlRecord struct {
	Site         string    `json:"site"`
	Location     string    `json:"location"`
	Vendor       string    `json:"vendor"`
	Free         int       `json:"free"`
	Active       int       `json:"active"`
	TimeToCrawl  int64     `json:"time_to_crawl"` // in milliseconds
	Err          string    `json:"err,omitempty"`
	CrawledAt    time.Time `json:"crawled_at"`
	CrawlVersion string    `json:"crawl_version"`
}
