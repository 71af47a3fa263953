package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/boulderstats/occupancy-crawler/config"
	"github.com/boulderstats/occupancy-crawler/internal/model"
	"github.com/boulderstats/occupancy-crawler/internal/telemetry"
	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress/lz4"
)

// messageWriter is the part of kafka.Writer the export loop uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaExportClient streams every crawl outcome, failed sites included, to
// a topic so downstream consumers can follow crawl health without querying
// the metrics store.
type KafkaExportClient struct {
	recordChan  <-chan *model.CrawlRecord
	kafkaWriter messageWriter
	metrics     *telemetry.KafkaProducerMetrics
	cfg         *config.KafkaConfig
	wg          *sync.WaitGroup
}

func NewKafkaExport(recordChan <-chan *model.CrawlRecord, metrics *telemetry.KafkaProducerMetrics,
	cfg *config.KafkaConfig, wg *sync.WaitGroup) *KafkaExportClient {
	kafkaWriter := kafka.Writer{
		Addr:         kafka.TCP(cfg.Addr...),
		Topic:        cfg.TopicName,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.MaxAttempts,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: 100 * time.Millisecond,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAsks),
		Async:        cfg.Async,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				slog.Error("failed to send records to kafka.", slog.String("err", err.Error()))
			}
		},
		Compression: kafka.Compression(new(lz4.Codec).Code()),
	}
	return &KafkaExportClient{
		recordChan:  recordChan,
		kafkaWriter: &kafkaWriter,
		metrics:     metrics,
		cfg:         cfg,
		wg:          wg,
	}
}

func (p *KafkaExportClient) Run() {
	slog.Info("starting kafka export...", slog.String("topic", p.cfg.TopicName))
	defer func() {
		err := p.kafkaWriter.Close()
		if err != nil {
			slog.Error("failed to close kafka writer.", slog.String("err", err.Error()))
		}
	}()
	defer p.wg.Done()

	batch := make([]kafka.Message, 0, p.cfg.BatchSize)
	batchTicker := time.NewTicker(p.cfg.BatchTimeout)
	defer batchTicker.Stop()
	for {
		select {
		case <-batchTicker.C:
			if len(batch) == 0 {
				continue
			}
			p.writeMessage(batch)
			batch = batch[:0]
		case record, ok := <-p.recordChan:
			if !ok {
				if len(batch) > 0 {
					p.writeMessage(batch)
				}
				slog.Info("stopping kafka export.")
				return
			}
			body, err := jsoniter.Marshal(record)
			if err != nil {
				slog.Error("marshaling error.", slog.String("err", err.Error()), slog.Any("record", record))
				p.metrics.FailedSendMsgCnt(1)
				continue
			}
			batch = append(batch, kafka.Message{
				Key:   []byte(record.Site),
				Value: body,
			})
			if len(batch) >= p.cfg.BatchSize {
				p.writeMessage(batch)
				batch = batch[:0]
				batchTicker.Reset(p.cfg.BatchTimeout)
			}
		}
	}
}

func (p *KafkaExportClient) writeMessage(batch []kafka.Message) {
	err := p.kafkaWriter.WriteMessages(context.Background(), batch...)
	if err != nil {
		slog.Error("failed to send records to kafka.", slog.String("err", err.Error()))
		p.metrics.FailedSendMsgCnt(int64(len(batch)))
		return
	}
	p.metrics.SuccessfullySendMsgCnt(int64(len(batch)))
	slog.Debug("successfully sent records to kafka.", slog.Int("batch length", len(batch)))
}
