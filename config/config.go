package config

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/boulderstats/occupancy-crawler/internal/model"
	"github.com/spf13/viper"
)

type Config struct {
	Env                string                 `mapstructure:"env"`
	LogLevel           string                 `mapstructure:"log_level"`
	LogType            string                 `mapstructure:"log_type"`
	ServiceName        string                 `mapstructure:"service_name"`
	Port               string                 `mapstructure:"port"`
	Version            string                 `mapstructure:"version"`
	WorkerSettings     *WorkerConfig          `mapstructure:"worker"`
	SchedulerSettings  *SchedulerConfig       `mapstructure:"scheduler"`
	FetcherSettings    *FetcherConfig         `mapstructure:"fetcher"`
	InfluxSettings     *InfluxConfig          `mapstructure:"influx"`
	KafkaSettings      *KafkaConfig           `mapstructure:"kafka"`
	GuardSettings      *GuardConfig           `mapstructure:"guard"`
	DbSettings         *DatabaseConfig        `mapstructure:"database"`
	S3Settings         *S3Config              `mapstructure:"s3"`
	TelemetrySettings  *TelemetryConfig       `mapstructure:"telemetry"`
	HttpClientSettings *HttpClientConfig      `mapstructure:"http_client"`
	Sites              map[string]*SiteConfig `mapstructure:"sites"`
}

// SiteConfig is the static per-gym definition. One entry per configured
// site, keyed by the site name used as the default location tag.
type SiteConfig struct {
	Token    string `mapstructure:"token"`
	Type     string `mapstructure:"type"`
	Area     string `mapstructure:"area"`
	ClientID string `mapstructure:"client_id"`
	Location string `mapstructure:"location"`
}

type WorkerConfig struct {
	WorkersNum    int           `mapstructure:"workers_num"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	UserAgent     string        `mapstructure:"user_agent"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	RunOnce      bool          `mapstructure:"run_once"`
}

type FetcherConfig struct {
	Mechanism    int           `mapstructure:"mechanism"`
	PageCacheTtl time.Duration `mapstructure:"page_cache_ttl"`
}

type InfluxConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	Database     string        `mapstructure:"database"`
	Timeout      time.Duration `mapstructure:"timeout"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         []string      `mapstructure:"addr"`
	TopicName    string        `mapstructure:"topic_name"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RequiredAsks int           `mapstructure:"required_acks"`
	Async        bool          `mapstructure:"async"`
}

type GuardConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Servers []string `mapstructure:"servers"`
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
}

type S3Config struct {
	Enabled         bool   `mapstructure:"enabled"`
	AwsBaseEndpoint string `mapstructure:"aws_base_endpoint"`
	Region          string `mapstructure:"region"`
	BucketName      string `mapstructure:"bucket_name"`
	KeyPrefix       string `mapstructure:"key_prefix"`
}

type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	CollectorUrl string `mapstructure:"collector_url"`
}

type HttpClientConfig struct {
	RequestTimeout            time.Duration `mapstructure:"request_timeout"`
	MaxIdleConnections        int           `mapstructure:"max_idle_connections"`
	MaxIdleConnectionsPerHost int           `mapstructure:"max_idle_connections_per_host"`
	MaxConnectionsPerHost     int           `mapstructure:"max_connections_per_host"`
	IdleConnectionTimeout     time.Duration `mapstructure:"idle_connection_timeout"`
	TlsHandshakeTimeout       time.Duration `mapstructure:"tls_handshake_timeout"`
	DialTimeout               time.Duration `mapstructure:"dial_timeout"`
	DialKeepAlive             time.Duration `mapstructure:"dial_keep_alive"`
	TlsInsecureSkipVerify     bool          `mapstructure:"tls_insecure_skip_verify"`
}

func MustLoad() *Config {
	cfg, err := Load(path.Join("."))
	if err != nil {
		slog.Error("can't initialize config.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	return cfg
}

func Load(dir string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validateSites(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validateSites() error {
	if len(c.Sites) == 0 {
		return fmt.Errorf("no sites configured")
	}
	for name, site := range c.Sites {
		if site.Token == "" {
			return fmt.Errorf("site %s: token is required", name)
		}
		if site.Type == "" {
			return fmt.Errorf("site %s: type is required", name)
		}
		if site.Type == string(model.Webclimber) && site.ClientID == "" {
			return fmt.Errorf("site %s: webclimber sites require client_id", name)
		}
	}

	return nil
}
