package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boulderstats/occupancy-crawler/config"
	"github.com/boulderstats/occupancy-crawler/internal/cache"
	"github.com/boulderstats/occupancy-crawler/internal/fetcher"
	"github.com/boulderstats/occupancy-crawler/internal/model"
	"github.com/boulderstats/occupancy-crawler/internal/persistence"
	"github.com/boulderstats/occupancy-crawler/internal/telemetry"
	client "github.com/influxdata/influxdb1-client/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const counterPage = `<div class="actcounter-content"><span>12</span></div>
<div class="freecounter-content"><span>8</span></div>`

// countingFetcher fails the first `fails` fetches with a transport error.
type countingFetcher struct {
	mu       sync.Mutex
	attempts int
	fails    int
	body     string
}

func (f *countingFetcher) FetchPage(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.fails {
		return "", &fetcher.TransportError{URL: url, Err: errors.New("transient error")}
	}
	return f.body, nil
}

type fakeSnapshots struct {
	mu     sync.Mutex
	sites  []string
	bodies []string
}

func (f *fakeSnapshots) WriteSnapshot(siteName string, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sites = append(f.sites, siteName)
	f.bodies = append(f.bodies, body)
	return "key", nil
}

type recordingHistory struct {
	mu      sync.Mutex
	records []*model.CrawlRecord
}

func (h *recordingHistory) Save(record *model.CrawlRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, record)
}

func testMetrics(success, fail, retried *atomic.Int64) *telemetry.AppMetrics {
	return &telemetry.AppMetrics{
		SuccessfullyCrawledSiteCnt: func(count int64) { success.Add(count) },
		FailedSiteCounter:          func(count int64) { fail.Add(count) },
		RetriedFetchCounter:        func(count int64) { retried.Add(count) },
		SkippedByGuardCounter:      func(int64) {},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Version: "test",
		WorkerSettings: &config.WorkerConfig{
			RetryAttempts: 2,
			RetryDelay:    time.Millisecond,
		},
		SchedulerSettings: &config.SchedulerConfig{PollInterval: time.Minute},
	}
}

func runWorker(t *testing.T, w *CrawlWorker, tasks ...*SiteTask) {
	t.Helper()
	siteChan := make(chan *SiteTask, len(tasks))
	w.SiteChan = siteChan
	w.Wg = &sync.WaitGroup{}
	w.Wg.Add(1)
	go w.Run()
	for _, task := range tasks {
		siteChan <- task
	}
	close(siteChan)
	w.Wg.Wait()
}

func TestWorkerRetriesTransportFailures(t *testing.T) {
	t.Parallel()

	pages := &countingFetcher{fails: 2, body: counterPage}
	pointChan := make(chan *client.Point, 1)
	var success, fail, retried atomic.Int64
	w := &CrawlWorker{
		PointChan: pointChan,
		Cfg:       testConfig(),
		Pages:     pages,
		Guard:     cache.NoopGuard{},
		History:   persistence.NoopHistory{},
		Snapshots: &fakeSnapshots{},
		Metrics:   testMetrics(&success, &fail, &retried),
	}

	runWorker(t, w, &SiteTask{Name: "ost", Site: &config.SiteConfig{Token: "t", Type: "boulderado"}})

	require.Len(t, pointChan, 1)
	point := <-pointChan
	fields, err := point.Fields()
	require.NoError(t, err)
	assert.Equal(t, int64(8), fields["free"])
	assert.Equal(t, int64(12), fields["active"])
	assert.Equal(t, 3, pages.attempts)
	assert.Equal(t, int64(2), retried.Load())
	assert.Equal(t, int64(1), success.Load())
	assert.Equal(t, int64(0), fail.Load())
}

func TestWorkerDoesNotRetryExtractionErrors(t *testing.T) {
	t.Parallel()

	pages := &countingFetcher{body: `<html><body>under maintenance</body></html>`}
	snapshots := &fakeSnapshots{}
	history := &recordingHistory{}
	pointChan := make(chan *client.Point, 1)
	var success, fail, retried atomic.Int64
	w := &CrawlWorker{
		PointChan: pointChan,
		Cfg:       testConfig(),
		Pages:     pages,
		Guard:     cache.NoopGuard{},
		History:   history,
		Snapshots: snapshots,
		Metrics:   testMetrics(&success, &fail, &retried),
	}

	runWorker(t, w, &SiteTask{Name: "ost", Site: &config.SiteConfig{Token: "t", Type: "boulderado"}})

	assert.Len(t, pointChan, 0)
	assert.Equal(t, int64(0), retried.Load())
	assert.Equal(t, int64(1), fail.Load())
	// The exact markup that broke extraction is archived for diagnosis,
	// taken from the failed crawl itself rather than a second fetch.
	assert.Equal(t, 1, pages.attempts)
	assert.Equal(t, []string{"ost"}, snapshots.sites)
	require.Len(t, snapshots.bodies, 1)
	assert.Equal(t, pages.body, snapshots.bodies[0])
	require.Len(t, history.records, 1)
	assert.NotEmpty(t, history.records[0].Err)
}

func TestWorkerIsolatesFailingSites(t *testing.T) {
	t.Parallel()

	pages := &countingFetcher{body: counterPage}
	pointChan := make(chan *client.Point, 2)
	recordChan := make(chan *model.CrawlRecord, 2)
	var success, fail, retried atomic.Int64
	w := &CrawlWorker{
		PointChan:  pointChan,
		RecordChan: recordChan,
		Cfg:        testConfig(),
		Pages:      pages,
		Guard:      cache.NoopGuard{},
		History:    persistence.NoopHistory{},
		Snapshots:  &fakeSnapshots{},
		Metrics:    testMetrics(&success, &fail, &retried),
	}

	runWorker(t, w,
		&SiteTask{Name: "broken", Site: &config.SiteConfig{Token: "t", Type: "kletterpro"}},
		&SiteTask{Name: "ost", Site: &config.SiteConfig{Token: "t", Type: "boulderado"}})

	// The unknown vendor fails its own site only; the healthy one still
	// produces a point, and both outcomes are exported.
	assert.Equal(t, int64(1), fail.Load())
	assert.Equal(t, int64(1), success.Load())
	assert.Len(t, pointChan, 1)
	require.Len(t, recordChan, 2)
}

type denyingGuard struct{}

func (denyingGuard) Acquire(string, time.Duration) bool { return false }

func (denyingGuard) Close() {}

func TestWorkerSkipsSitesClaimedByAnotherReplica(t *testing.T) {
	t.Parallel()

	pages := &countingFetcher{body: counterPage}
	pointChan := make(chan *client.Point, 1)
	var success, fail, retried atomic.Int64
	w := &CrawlWorker{
		PointChan: pointChan,
		Cfg:       testConfig(),
		Pages:     pages,
		Guard:     denyingGuard{},
		History:   persistence.NoopHistory{},
		Snapshots: &fakeSnapshots{},
		Metrics:   testMetrics(&success, &fail, &retried),
	}

	runWorker(t, w, &SiteTask{Name: "ost", Site: &config.SiteConfig{Token: "t", Type: "boulderado"}})

	assert.Equal(t, 0, pages.attempts)
	assert.Len(t, pointChan, 0)
}
