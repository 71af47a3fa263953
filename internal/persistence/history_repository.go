package persistence

import (
	"database/sql"
	"log/slog"

	"github.com/boulderstats/occupancy-crawler/internal/model"
)

type HistoryStorage interface {
	Save(*model.CrawlRecord)
}

// HistoryRepository keeps the latest crawl outcome per site for operational
// queries (which sites are failing, when a site was last seen).
type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (hr *HistoryRepository) Save(record *model.CrawlRecord) {
	_, err := hr.db.Exec(`INSERT INTO occupancy_crawler.crawl_history
    (site, location, vendor, free, active, time_to_crawl, err, crawled_at, crawl_version)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (site) DO UPDATE
	SET location = EXCLUDED.location,
	    vendor = EXCLUDED.vendor,
	    free = EXCLUDED.free,
		active = EXCLUDED.active,
		time_to_crawl = EXCLUDED.time_to_crawl,
		err = EXCLUDED.err,
		crawled_at = EXCLUDED.crawled_at,
		crawl_version = EXCLUDED.crawl_version;`,
		record.Site,
		record.Location,
		record.Vendor,
		record.Free,
		record.Active,
		record.TimeToCrawl,
		record.Err,
		record.CrawledAt,
		record.CrawlVersion)
	if err != nil {
		slog.Error("failed to save crawl history to database.", slog.String("err", err.Error()))
		return
	}
	slog.Debug("crawl history saved to db.")
}

// NoopHistory is used when the database is disabled.
type NoopHistory struct{}

func (NoopHistory) Save(*model.CrawlRecord) {}
