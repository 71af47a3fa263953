package aws_s3

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	crd "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/boulderstats/occupancy-crawler/config"
)

// SnapshotClient archives the raw markup of pages that failed extraction so
// vendor format drift can be diagnosed without re-crawling.
type SnapshotClient interface {
	WriteSnapshot(siteName string, body string) (string, error)
}

type S3SnapshotClient struct {
	client *s3.Client
	cfg    *config.Config
}

func NewS3SnapshotClient(cfg *config.Config) *S3SnapshotClient {
	slog.Info("connecting to s3...")

	c, err := connect(cfg)
	if err != nil {
		slog.Error("failed to connect to s3.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	return &S3SnapshotClient{
		client: c,
		cfg:    cfg,
	}
}

func (sc *S3SnapshotClient) WriteSnapshot(siteName string, body string) (string, error) {
	s3Key := fmt.Sprintf("%s/%s/%s/%s", sc.cfg.S3Settings.KeyPrefix, siteName,
		time.Now().UTC().Format("2006-01-02T15-04-05"), "page.html")

	_, err := sc.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: &sc.cfg.S3Settings.BucketName,
		Key:    &s3Key,
		Body:   strings.NewReader(body),
	})
	if err != nil {
		slog.Error("failed to save snapshot to s3.", slog.String("err", err.Error()))
		return "", err
	}
	slog.Debug("snapshot saved to s3.", slog.String("key", s3Key))

	return s3Key, nil
}

func connect(cfg *config.Config) (*s3.Client, error) {
	s3Config, err := awsCfg.LoadDefaultConfig(context.Background(), awsCfg.WithRegion(cfg.S3Settings.Region))
	if err != nil {
		slog.Error("failed to load s3 config.", slog.String("err", err.Error()))
		return nil, err
	}

	if cfg.Env == "local" {
		s3Config.BaseEndpoint = &cfg.S3Settings.AwsBaseEndpoint // for LocalStack
		s3Config.Credentials = crd.NewStaticCredentialsProvider("test", "test", "")
		// LocalStack does not support `virtual host addressing style` that uses s3 by default.
		// For test purposes use configuration with disabled 'virtual hosted bucket addressing'.
		// Set 'local' Env variable to use this configuration.
		slog.Warn("test configuration for S3")
		return s3.NewFromConfig(s3Config, func(o *s3.Options) {
			o.UsePathStyle = true
		}), nil
	}

	return s3.NewFromConfig(s3Config), nil
}

// NoopSnapshotClient is used when the archive is disabled.
type NoopSnapshotClient struct{}

func (NoopSnapshotClient) WriteSnapshot(string, string) (string, error) { return "", nil }
