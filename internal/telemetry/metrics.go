package telemetry

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"

	"go.opentelemetry.io/contrib/detectors/aws/ecs"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/boulderstats/occupancy-crawler/config"
	"github.com/google/uuid"
)

var meter metric.Meter

type MetricsProvider struct {
	AppMetrics           *AppMetrics
	InfluxWriterMetrics  *InfluxWriterMetrics
	KafkaProducerMetrics *KafkaProducerMetrics
	Close                func()
}

type AppMetrics struct {
	SuccessfullyCrawledSiteCnt func(count int64)
	FailedSiteCounter          func(count int64)
	RetriedFetchCounter        func(count int64)
	SkippedByGuardCounter      func(count int64)
}

type InfluxWriterMetrics struct {
	SuccessfullyWritePointsCnt func(count int64)
	FailedWritePointsCnt       func(count int64)
}

type KafkaProducerMetrics struct {
	SuccessfullySendMsgCnt func(count int64)
	FailedSendMsgCnt       func(count int64)
}

func SetupMetrics(ctx context.Context, cfg *config.Config) *MetricsProvider {
	metricsProvider := new(MetricsProvider)
	var meterProvider *sdkmetric.MeterProvider

	if cfg.TelemetrySettings.Enabled {
		r, err := newResource(cfg)
		if err != nil {
			slog.Error("failed to get resource.", slog.String("err", err.Error()))
			os.Exit(1)
		}
		exporter, err := newMetricExporter(ctx, cfg.TelemetrySettings)
		if err != nil {
			slog.Error("failed to get metric exporter.", slog.String("err", err.Error()))
			os.Exit(1)
		}
		meterProvider = newMeterProvider(exporter, *r)
		otel.SetMeterProvider(meterProvider)
	}

	meter = otel.Meter(cfg.ServiceName)
	metricsProvider.Close = func() {
		if meterProvider != nil {
			err := meterProvider.Shutdown(ctx)
			if err != nil {
				slog.Error("failed to shutdown metrics provider.", slog.String("err", err.Error()))
			}
		}
	}

	// Set up crawl worker metrics
	siteSuccessCounter, err := meter.Int64Counter("occupancy-crawler.sites.success",
		metric.WithDescription("The number of sites crawled successfully"),
		metric.WithUnit("{sites}"))
	siteFailCounter, err := meter.Int64Counter("occupancy-crawler.sites.fail",
		metric.WithDescription("The number of sites that could not be crawled"),
		metric.WithUnit("{sites}"))
	retriedFetchCounter, err := meter.Int64Counter("occupancy-crawler.sites.retried",
		metric.WithDescription("The number of fetches retried after a transport failure"),
		metric.WithUnit("{fetches}"))
	skippedByGuardCounter, err := meter.Int64Counter("occupancy-crawler.sites.skipped",
		metric.WithDescription("The number of sites skipped because another replica crawled them this cycle"),
		metric.WithUnit("{sites}"))
	if err != nil {
		slog.Error("failed to create telemetry counters for crawl worker.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	metricsProvider.AppMetrics = &AppMetrics{
		SuccessfullyCrawledSiteCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				siteSuccessCounter.Add(ctx, count)
			}
		},
		FailedSiteCounter: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				siteFailCounter.Add(ctx, count)
			}
		},
		RetriedFetchCounter: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				retriedFetchCounter.Add(ctx, count)
			}
		},
		SkippedByGuardCounter: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				skippedByGuardCounter.Add(ctx, count)
			}
		},
	}

	// Set up influx writer metrics
	influxSuccessCounter, err := meter.Int64Counter("occupancy-crawler.influx.write.success",
		metric.WithDescription("The number of points written to the metrics store"),
		metric.WithUnit("{points}"))
	influxFailCounter, err := meter.Int64Counter("occupancy-crawler.influx.write.fail",
		metric.WithDescription("The number of points lost to failed batch writes"),
		metric.WithUnit("{points}"))
	if err != nil {
		slog.Error("failed to create telemetry counters for influx writer.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	metricsProvider.InfluxWriterMetrics = &InfluxWriterMetrics{
		SuccessfullyWritePointsCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				influxSuccessCounter.Add(ctx, count)
			}
		},
		FailedWritePointsCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				influxFailCounter.Add(ctx, count)
			}
		},
	}

	// Set up kafka producer metrics
	kafkaProducerSuccessCounter, err := meter.Int64Counter("occupancy-crawler.kafka.send.success",
		metric.WithDescription("The number of crawl records the kafka producer successfully sent"),
		metric.WithUnit("{messages}"))
	kafkaProducerFailCounter, err := meter.Int64Counter("occupancy-crawler.kafka.send.fail",
		metric.WithDescription("The number of crawl records the kafka producer could not send"),
		metric.WithUnit("{messages}"))
	if err != nil {
		slog.Error("failed to create telemetry counters for kafka producer.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	metricsProvider.KafkaProducerMetrics = &KafkaProducerMetrics{
		SuccessfullySendMsgCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				kafkaProducerSuccessCounter.Add(ctx, count)
			}
		},
		FailedSendMsgCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				kafkaProducerFailCounter.Add(ctx, count)
			}
		},
	}

	return metricsProvider
}

func newResource(cfg *config.Config) (*resource.Resource, error) {
	ecsResourceDetector := ecs.NewResourceDetector()
	ecsResource, err := ecsResourceDetector.Detect(context.Background())
	if err != nil {
		slog.Error("ecs detection failed", slog.String("err", err.Error()))
	}
	mergedResource, err := resource.Merge(ecsResource, resource.Default())
	if err != nil {
		slog.Error("failed to merge resources", slog.String("err", err.Error()))
	}
	keyValue, found := ecsResource.Set().Value("container.id")
	var serviceId string
	if found {
		serviceId = keyValue.AsString()
	} else {
		serviceId = uuid.New().String()
	}
	return resource.Merge(mergedResource,
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Env),
			semconv.ServiceInstanceID(serviceId),
		))
}

func newMetricExporter(ctx context.Context, cfg *config.TelemetryConfig) (sdkmetric.Exporter, error) {
	return otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.CollectorUrl),
		otlpmetrichttp.WithInsecure())
}

func newMeterProvider(meterExporter sdkmetric.Exporter, resource resource.Resource) *sdkmetric.MeterProvider {
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(meterExporter)),
		sdkmetric.WithResource(&resource),
	)
	return meterProvider
}
