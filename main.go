package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	_ "net/http/pprof"

	"github.com/boulderstats/occupancy-crawler/config"
	"github.com/boulderstats/occupancy-crawler/internal/aws_s3"
	"github.com/boulderstats/occupancy-crawler/internal/broker"
	cacheClient "github.com/boulderstats/occupancy-crawler/internal/cache"
	"github.com/boulderstats/occupancy-crawler/internal/fetcher"
	"github.com/boulderstats/occupancy-crawler/internal/model"
	"github.com/boulderstats/occupancy-crawler/internal/persistence"
	"github.com/boulderstats/occupancy-crawler/internal/store"
	"github.com/boulderstats/occupancy-crawler/internal/telemetry"
	"github.com/boulderstats/occupancy-crawler/internal/worker"
	client "github.com/influxdata/influxdb1-client/v2"
	_ "github.com/lib/pq"
	"github.com/lmittmann/tint"
)

var (
	cfg       *config.Config
	db        *sql.DB
	snapshots aws_s3.SnapshotClient
	guard     cacheClient.GuardClient
	history   persistence.HistoryStorage
	influx    client.Client
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg = config.MustLoad()
	setupLogger()
	metrics := telemetry.SetupMetrics(context.Background(), cfg)
	defer metrics.Close()
	setupOptionalClients()
	defer closeClients()
	influx = store.NewInfluxClient(cfg.InfluxSettings)
	pages := fetcher.NewPageClient(cfg, getHttpTransport())
	slog.Info("starting application on port "+cfg.Port, slog.String("env", cfg.Env),
		slog.Int("sites", len(cfg.Sites)))

	threadNum := parallelWorkers()
	siteChan := make(chan *worker.SiteTask, threadNum*2)
	pointChan := make(chan *client.Point, threadNum*2)
	var recordChan chan *model.CrawlRecord

	sinkWg := &sync.WaitGroup{}
	sinkWg.Add(1)
	influxWriter := store.NewInfluxWriter(pointChan, influx, metrics.InfluxWriterMetrics,
		cfg.InfluxSettings, sinkWg)
	go influxWriter.Run()

	if cfg.KafkaSettings.Enabled {
		recordChan = make(chan *model.CrawlRecord, threadNum*2)
		sinkWg.Add(1)
		kafkaExport := broker.NewKafkaExport(recordChan, metrics.KafkaProducerMetrics,
			cfg.KafkaSettings, sinkWg)
		go kafkaExport.Run()
	}

	workerWg := &sync.WaitGroup{}
	crawlWorker := &worker.CrawlWorker{
		SiteChan:   siteChan,
		PointChan:  pointChan,
		RecordChan: recordChan,
		Cfg:        cfg,
		Pages:      pages,
		Guard:      guard,
		History:    history,
		Snapshots:  snapshots,
		Metrics:    metrics.AppMetrics,
		Wg:         workerWg,
	}
	for i := 0; i < threadNum; i++ {
		workerWg.Add(1)
		go crawlWorker.Run()
	}

	go runScheduler(ctx, siteChan)
	go healthCheckHandler()

	// Graceful shutdown.
	// 1. Scheduler stops on signal (or after one cycle in run_once mode). Close siteChan
	// 2. Wait till all Workers processed all sites from siteChan. Close pointChan and recordChan
	// 3. Wait till the Influx writer and Kafka export flush their batches
	// 4. Close database, memcached and influx connections
	workerWg.Wait()
	slog.Info("stopping server...")
	close(pointChan)
	slog.Info("close pointChan.")
	if recordChan != nil {
		close(recordChan)
		slog.Info("close recordChan.")
	}
	sinkWg.Wait()
	slog.Info("server stopped.")
}

// runScheduler enqueues every configured site once per poll interval. In
// run_once mode a single cycle is enqueued, reproducing the one-shot crawl.
func runScheduler(ctx context.Context, siteChan chan<- *worker.SiteTask) {
	defer close(siteChan)

	enqueueCycle := func() {
		for name, site := range cfg.Sites {
			select {
			case siteChan <- &worker.SiteTask{Name: name, Site: site}:
			case <-ctx.Done():
				return
			}
		}
	}

	enqueueCycle()
	if cfg.SchedulerSettings.RunOnce {
		slog.Info("run_once mode. stopping scheduler after one cycle.")
		return
	}

	ticker := time.NewTicker(cfg.SchedulerSettings.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping scheduler.")
			return
		case <-ticker.C:
			enqueueCycle()
		}
	}
}

func setupLogger() *slog.Logger {
	envLogLevel := strings.ToLower(cfg.LogLevel)
	var slogLevel slog.Level
	err := slogLevel.UnmarshalText([]byte(envLogLevel))
	if err != nil {
		log.Printf("encountenred log level: '%s'. The package does not support custom log levels", envLogLevel)
		slogLevel = slog.LevelDebug
	}
	log.Printf("slog level overwritten to '%v'", slogLevel)
	slog.SetLogLoggerLevel(slogLevel)

	replaceAttrs := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		return a
	}

	var logger *slog.Logger
	if strings.ToLower(cfg.LogType) == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource:   true,
			Level:       slogLevel,
			ReplaceAttr: replaceAttrs}))
	} else {
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			AddSource:   true,
			Level:       slogLevel,
			ReplaceAttr: replaceAttrs,
			NoColor: func() bool {
				if cfg.Env == "local" {
					return false
				}
				return true
			}()}))
	}

	slog.SetDefault(logger)
	logger.Debug("debug messages are enabled.")

	return logger
}

func setupOptionalClients() {
	if cfg.DbSettings.Enabled {
		db = setupDatabase()
		history = persistence.NewHistoryRepository(db)
	} else {
		history = persistence.NoopHistory{}
	}
	if cfg.S3Settings.Enabled {
		snapshots = aws_s3.NewS3SnapshotClient(cfg)
	} else {
		snapshots = aws_s3.NoopSnapshotClient{}
	}
	if cfg.GuardSettings.Enabled {
		guard = cacheClient.NewMemcachedGuard(cfg.GuardSettings)
	} else {
		guard = cacheClient.NoopGuard{}
	}
}

func setupDatabase() *sql.DB {
	slog.Info("connecting to the database...")
	connStr := fmt.Sprintf("user=%s password=%s host=%s port=%s dbname=%s sslmode=disable",
		cfg.DbSettings.User,
		cfg.DbSettings.Password,
		cfg.DbSettings.Host,
		cfg.DbSettings.Port,
		cfg.DbSettings.Name,
	)
	database, err := sql.Open("postgres", connStr)
	if err != nil {
		slog.Error("failed to establish database connection.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	database.SetConnMaxLifetime(cfg.DbSettings.ConnMaxLifetime)
	database.SetMaxOpenConns(cfg.DbSettings.MaxOpenConns)
	database.SetMaxIdleConns(cfg.DbSettings.MaxIdleConns)

	maxRetry := 6
	for i := 1; i <= maxRetry; i++ {
		slog.Info("ping the database.", slog.String("attempt", fmt.Sprintf("%d/%d", i, maxRetry)))
		pingErr := database.Ping()
		if pingErr != nil {
			slog.Error("not responding.", slog.String("err", pingErr.Error()))
			if i == maxRetry {
				slog.Error("failed to establish database connection.")
				os.Exit(1)
			}
			slog.Info(fmt.Sprintf("wait %d seconds", 5*i))
			time.Sleep(time.Duration(5*i) * time.Second)
		} else {
			break
		}
	}
	slog.Info("connected to the database!")

	return database
}

func closeClients() {
	if db != nil {
		slog.Info("closing database connection.")
		if err := db.Close(); err != nil {
			slog.Error("failed to close database connection.", slog.String("err", err.Error()))
		}
	}
	if guard != nil {
		guard.Close()
	}
	if influx != nil {
		slog.Info("closing influxdb connection.")
		if err := influx.Close(); err != nil {
			slog.Error("failed to close influxdb connection.", slog.String("err", err.Error()))
		}
	}
}

// Set -1 to use all available CPUs
func parallelWorkers() int {
	customNumCPU := cfg.WorkerSettings.WorkersNum
	if customNumCPU == -1 {
		return runtime.NumCPU()
	}
	if customNumCPU <= 0 {
		slog.Error("workers number is 0 or less than -1")
		os.Exit(1)
	}

	return customNumCPU
}

func healthCheckHandler() {
	http.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})
	if err := http.ListenAndServe(":"+cfg.Port, nil); err != nil {
		slog.Error("http server error", slog.String("err", err.Error()))
	}
}

func getHttpTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:        cfg.HttpClientSettings.MaxIdleConnections,
		MaxIdleConnsPerHost: cfg.HttpClientSettings.MaxIdleConnectionsPerHost,
		MaxConnsPerHost:     cfg.HttpClientSettings.MaxConnectionsPerHost,
		IdleConnTimeout:     cfg.HttpClientSettings.IdleConnectionTimeout,
		TLSHandshakeTimeout: cfg.HttpClientSettings.TlsHandshakeTimeout,
		DialContext: (&net.Dialer{
			Timeout:   cfg.HttpClientSettings.DialTimeout,
			KeepAlive: cfg.HttpClientSettings.DialKeepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.HttpClientSettings.TlsInsecureSkipVerify,
		},
	}
}
