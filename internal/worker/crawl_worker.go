package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/boulderstats/occupancy-crawler/config"
	"github.com/boulderstats/occupancy-crawler/internal/adapter"
	"github.com/boulderstats/occupancy-crawler/internal/aws_s3"
	"github.com/boulderstats/occupancy-crawler/internal/cache"
	"github.com/boulderstats/occupancy-crawler/internal/fetcher"
	"github.com/boulderstats/occupancy-crawler/internal/model"
	"github.com/boulderstats/occupancy-crawler/internal/persistence"
	"github.com/boulderstats/occupancy-crawler/internal/store"
	"github.com/boulderstats/occupancy-crawler/internal/telemetry"
	client "github.com/influxdata/influxdb1-client/v2"
)

// SiteTask is one site to crawl in the current cycle.
type SiteTask struct {
	Name string
	Site *config.SiteConfig
}

type CrawlWorker struct {
	SiteChan   <-chan *SiteTask
	PointChan  chan<- *client.Point
	RecordChan chan<- *model.CrawlRecord // nil when kafka export is disabled
	Cfg        *config.Config
	Pages      fetcher.PageFetcher
	Guard      cache.GuardClient
	History    persistence.HistoryStorage
	Snapshots  aws_s3.SnapshotClient
	Metrics    *telemetry.AppMetrics
	Wg         *sync.WaitGroup
}

func (w *CrawlWorker) Run() {
	defer w.Wg.Done()
	slog.Debug("starting crawl worker.")

	for task := range w.SiteChan {
		if !w.Guard.Acquire(task.Name, w.Cfg.SchedulerSettings.PollInterval) {
			w.Metrics.SkippedByGuardCounter(1)
			continue
		}
		w.crawlSite(task)
	}
}

// crawlSite runs one adapter, isolates its failure, and turns the outcome
// into a utilization point plus a crawl record. A failing site never aborts
// the cycle.
func (w *CrawlWorker) crawlSite(task *SiteTask) {
	startTime := time.Now()
	record := &model.CrawlRecord{
		Site:         task.Name,
		Location:     locationOf(task),
		Vendor:       task.Site.Type,
		CrawlVersion: w.Cfg.Version,
	}

	result, err := w.crawlWithRetry(task)
	record.TimeToCrawl = time.Since(startTime).Milliseconds()
	record.CrawledAt = time.Now().UTC()
	if err != nil {
		slog.Error("failed to crawl site: "+task.Name, slog.String("err", err.Error()))
		w.archiveOnExtractionFailure(task, err)
		record.Err = err.Error()
		w.finishRecord(record)
		w.Metrics.FailedSiteCounter(1)
		return
	}
	slog.Info("crawled site.", slog.String("site", task.Name),
		slog.Int("free", result.Free), slog.Int("active", result.Active))

	point, err := store.BuildPoint(task.Name, task.Site, result, record.CrawledAt)
	if err != nil {
		slog.Error("failed to build point.", slog.String("site", task.Name),
			slog.String("err", err.Error()))
		record.Err = err.Error()
		w.finishRecord(record)
		w.Metrics.FailedSiteCounter(1)
		return
	}

	record.Free = result.Free
	record.Active = result.Active
	w.finishRecord(record)
	w.PointChan <- point
	w.Metrics.SuccessfullyCrawledSiteCnt(1)
}

// crawlWithRetry retries transport failures with a doubling delay. Parse
// and configuration errors are deterministic for a given page and are never
// retried.
func (w *CrawlWorker) crawlWithRetry(task *SiteTask) (model.CrawlResult, error) {
	ad, err := adapter.ForSite(task.Name, task.Site, w.Pages)
	if err != nil {
		return model.CrawlResult{}, err
	}

	result, err := ad.Crawl(context.Background(), task.Name, task.Site)
	for retry, delay := w.Cfg.WorkerSettings.RetryAttempts, w.Cfg.WorkerSettings.RetryDelay; err != nil &&
		isTransport(err) && retry > 0; retry, delay = retry-1, delay*2 {
		slog.Warn("transport failure. retrying...", slog.String("site", task.Name),
			slog.Int("attempts left", retry))
		w.Metrics.RetriedFetchCounter(1)
		time.Sleep(delay)
		result, err = ad.Crawl(context.Background(), task.Name, task.Site)
	}

	return result, err
}

// archiveOnExtractionFailure stores the offending markup for offline
// diagnosis of vendor format drift. The error carries the page body the
// adapter failed on, so the archived markup is exactly what broke and the
// vendor is not fetched again.
func (w *CrawlWorker) archiveOnExtractionFailure(task *SiteTask, crawlErr error) {
	var extractionErr *adapter.ExtractionError
	if !errors.As(crawlErr, &extractionErr) || extractionErr.Body == "" {
		return
	}
	if _, err := w.Snapshots.WriteSnapshot(task.Name, extractionErr.Body); err != nil {
		slog.Error("failed to archive snapshot.", slog.String("site", task.Name),
			slog.String("err", err.Error()))
	}
}

func (w *CrawlWorker) finishRecord(record *model.CrawlRecord) {
	w.History.Save(record)
	if w.RecordChan != nil {
		w.RecordChan <- record
	}
}

func isTransport(err error) bool {
	var transportErr *fetcher.TransportError
	return errors.As(err, &transportErr)
}

func locationOf(task *SiteTask) string {
	if task.Site.Location != "" {
		return task.Site.Location
	}
	return task.Name
}
