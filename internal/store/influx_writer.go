package store

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/boulderstats/occupancy-crawler/config"
	"github.com/boulderstats/occupancy-crawler/internal/telemetry"
	client "github.com/influxdata/influxdb1-client/v2"
)

// NewInfluxClient connects to the metrics store and verifies the connection
// with a ping before any worker starts.
func NewInfluxClient(cfg *config.InfluxConfig) client.Client {
	slog.Info("connecting to influxdb...")
	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port),
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		slog.Error("failed to create influxdb client.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	if _, _, err := c.Ping(cfg.Timeout); err != nil {
		slog.Error("connection to influxdb is failed.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	slog.Info("connected to influxdb!")

	return c
}

// InfluxWriter accumulates utilization points from the workers and writes
// them in batches, one Write call per batch. A failed write loses that
// batch; the failure is logged and counted, never escalated.
type InfluxWriter struct {
	pointChan <-chan *client.Point
	influx    client.Client
	metrics   *telemetry.InfluxWriterMetrics
	cfg       *config.InfluxConfig
	wg        *sync.WaitGroup
}

func NewInfluxWriter(pointChan <-chan *client.Point, influx client.Client,
	metrics *telemetry.InfluxWriterMetrics, cfg *config.InfluxConfig, wg *sync.WaitGroup) *InfluxWriter {
	return &InfluxWriter{
		pointChan: pointChan,
		influx:    influx,
		metrics:   metrics,
		cfg:       cfg,
		wg:        wg,
	}
}

func (w *InfluxWriter) Run() {
	slog.Info("starting influx writer...", slog.String("database", w.cfg.Database))
	defer w.wg.Done()

	batch := make([]*client.Point, 0, w.cfg.BatchSize)
	batchTicker := time.NewTicker(w.cfg.BatchTimeout)
	defer batchTicker.Stop()
	for {
		select {
		case <-batchTicker.C:
			if len(batch) == 0 {
				continue
			}
			w.writeBatch(batch)
			batch = batch[:0]
		case point, ok := <-w.pointChan:
			if !ok {
				if len(batch) > 0 {
					w.writeBatch(batch)
				}
				slog.Info("stopping influx writer.")
				return
			}
			batch = append(batch, point)
			if len(batch) >= w.cfg.BatchSize {
				w.writeBatch(batch)
				batch = batch[:0]
				batchTicker.Reset(w.cfg.BatchTimeout)
			}
		}
	}
}

func (w *InfluxWriter) writeBatch(batch []*client.Point) {
	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:  w.cfg.Database,
		Precision: "ms",
	})
	if err != nil {
		slog.Error("failed to create batch points.", slog.String("err", err.Error()))
		w.metrics.FailedWritePointsCnt(int64(len(batch)))
		return
	}
	bp.AddPoints(batch)

	if err := w.influx.Write(bp); err != nil {
		slog.Error("failed to write points to influxdb.", slog.String("err", err.Error()))
		w.metrics.FailedWritePointsCnt(int64(len(batch)))
		return
	}
	w.metrics.SuccessfullyWritePointsCnt(int64(len(batch)))
	slog.Debug("successfully wrote points to influxdb.", slog.Int("batch length", len(batch)))
}
