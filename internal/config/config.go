package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/souravs72/broadflix/internal/catalog"
)

const (
	SourceMemory        = "memory"
	SourceElasticsearch = "elasticsearch"
	SourceFirestore     = "firestore"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Search        SearchConfig        `yaml:"search"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Firestore     FirestoreConfig     `yaml:"firestore"`
	Redis         RedisConfig         `yaml:"redis"`
	ClickHouse    ClickHouseConfig    `yaml:"clickhouse"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	PublicURL       string        `yaml:"public_url"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
}

type CatalogConfig struct {
	Source            string              `yaml:"source"`
	SeedFile          string              `yaml:"seed_file"`
	RefreshSchedule   string              `yaml:"refresh_schedule"`
	RefreshTimeout    time.Duration       `yaml:"refresh_timeout"`
	Facets            map[string][]string `yaml:"facets"`
	Parallelism       int                 `yaml:"parallelism"`
	ParallelThreshold int                 `yaml:"parallel_threshold"`
}

type SearchConfig struct {
	DefaultPageSize int                  `yaml:"default_page_size"`
	MaxPageSize     int                  `yaml:"max_page_size"`
	QueryTimeout    time.Duration        `yaml:"query_timeout"`
	RelatedLimit    int                  `yaml:"related_limit"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry           RetryConfig          `yaml:"retry"`
	SlowQuery       SlowQueryConfig      `yaml:"slow_query"`
}

type CircuitBreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	InitialWait time.Duration `yaml:"initial_wait"`
	MaxWait     time.Duration `yaml:"max_wait"`
	Multiplier  float64       `yaml:"multiplier"`
}

type SlowQueryConfig struct {
	WarningThreshold  time.Duration `yaml:"warning_threshold"`
	CriticalThreshold time.Duration `yaml:"critical_threshold"`
}

type ElasticsearchConfig struct {
	Addresses         []string      `yaml:"addresses"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	Index             string        `yaml:"index"`
	ScanPageSize      int           `yaml:"scan_page_size"`
	Mirror            bool          `yaml:"mirror"`
	BulkSize          int           `yaml:"bulk_size"`
	BulkFlushInterval time.Duration `yaml:"bulk_flush_interval"`
}

type FirestoreConfig struct {
	ProjectID       string        `yaml:"project_id"`
	CredentialsFile string        `yaml:"credentials_file"`
	Collection      string        `yaml:"collection"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	Listen          bool          `yaml:"listen"`
}

type RedisConfig struct {
	Enabled      bool           `yaml:"enabled"`
	Addresses    []string       `yaml:"addresses"`
	Password     string         `yaml:"password"`
	DB           int            `yaml:"db"`
	PoolSize     int            `yaml:"pool_size"`
	MinIdleConns int            `yaml:"min_idle_conns"`
	DialTimeout  time.Duration  `yaml:"dial_timeout"`
	ReadTimeout  time.Duration  `yaml:"read_timeout"`
	WriteTimeout time.Duration  `yaml:"write_timeout"`
	TTL          CacheTTLConfig `yaml:"ttl"`
}

type CacheTTLConfig struct {
	SearchResults time.Duration `yaml:"search_results"`
	Watchlist     time.Duration `yaml:"watchlist"`
	Related       time.Duration `yaml:"related"`
	StaleFallback time.Duration `yaml:"stale_fallback"`
}

type ClickHouseConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addresses    []string      `yaml:"addresses"`
	Database     string        `yaml:"database"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
}

type KafkaConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	TopicChanges  string        `yaml:"topic_changes"`
	TopicDLQ      string        `yaml:"topic_dlq"`
	ConsumerGroup string        `yaml:"consumer_group"`
	BatchSize     int           `yaml:"batch_size"`
	BatchTimeout  time.Duration `yaml:"batch_timeout"`
	MaxRetries    int           `yaml:"max_retries"`
}

type ObservabilityConfig struct {
	LogLevel         string  `yaml:"log_level"`
	ServiceName      string  `yaml:"service_name"`
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// LoadEnvFile exports the variables of a dotenv file for ${VAR} expansion in
// the config file. Variables already set in the environment win; a missing
// file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			PublicURL:       "http://localhost:8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimitRPS:    50,
			RateLimitBurst:  100,
		},
		Catalog: CatalogConfig{
			Source:            SourceMemory,
			SeedFile:          "configs/catalog.yaml",
			RefreshSchedule:   "@every 5m",
			RefreshTimeout:    30 * time.Second,
			Parallelism:       4,
			ParallelThreshold: 5000,
		},
		Search: SearchConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
			QueryTimeout:    200 * time.Millisecond,
			RelatedLimit:    10,
			CircuitBreaker: CircuitBreakerConfig{
				MaxRequests:      100,
				Interval:         30 * time.Second,
				Timeout:          30 * time.Second,
				FailureThreshold: 5,
			},
			Retry: RetryConfig{
				MaxAttempts: 2,
				InitialWait: 50 * time.Millisecond,
				MaxWait:     500 * time.Millisecond,
				Multiplier:  2.0,
			},
			SlowQuery: SlowQueryConfig{
				WarningThreshold:  50 * time.Millisecond,
				CriticalThreshold: 200 * time.Millisecond,
			},
		},
		Elasticsearch: ElasticsearchConfig{
			Addresses:         []string{"http://localhost:9200"},
			MaxRetries:        3,
			RequestTimeout:    2 * time.Second,
			Index:             "catalog",
			ScanPageSize:      500,
			BulkSize:          500,
			BulkFlushInterval: 5 * time.Second,
		},
		Firestore: FirestoreConfig{
			Collection:     "titles",
			RequestTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Addresses:    []string{"localhost:6379"},
			PoolSize:     50,
			MinIdleConns: 5,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  1 * time.Second,
			WriteTimeout: 1 * time.Second,
			TTL: CacheTTLConfig{
				SearchResults: 2 * time.Minute,
				Watchlist:     30 * time.Second,
				Related:       10 * time.Minute,
				StaleFallback: 1 * time.Hour,
			},
		},
		ClickHouse: ClickHouseConfig{
			Addresses:    []string{"localhost:9000"},
			Database:     "catalog_analytics",
			DialTimeout:  5 * time.Second,
			QueryTimeout: 2 * time.Second,
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			TopicChanges:  "catalog.changes",
			TopicDLQ:      "catalog.changes.dlq",
			ConsumerGroup: "catalog-indexer",
			BatchSize:     100,
			BatchTimeout:  1 * time.Second,
			MaxRetries:    3,
		},
		Observability: ObservabilityConfig{
			LogLevel:         "info",
			ServiceName:      "broadflix-catalog",
			TraceSampleRatio: 0.1,
		},
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}

	switch c.Catalog.Source {
	case SourceMemory:
		if c.Catalog.SeedFile == "" {
			return fmt.Errorf("memory catalog source requires a seed file")
		}
	case SourceElasticsearch:
		if len(c.Elasticsearch.Addresses) == 0 {
			return fmt.Errorf("at least one elasticsearch address required")
		}
		if c.Elasticsearch.Index == "" {
			return fmt.Errorf("elasticsearch index required")
		}
	case SourceFirestore:
		if c.Firestore.ProjectID == "" {
			return fmt.Errorf("firestore project id required")
		}
		if c.Firestore.Collection == "" {
			return fmt.Errorf("firestore collection required")
		}
	default:
		return fmt.Errorf("unknown catalog source %q", c.Catalog.Source)
	}
	if c.Catalog.Source != SourceMemory {
		if _, err := cron.ParseStandard(c.Catalog.RefreshSchedule); err != nil {
			return fmt.Errorf("invalid refresh schedule %q: %w", c.Catalog.RefreshSchedule, err)
		}
	}
	if c.Catalog.Parallelism < 1 {
		return fmt.Errorf("catalog parallelism must be at least 1")
	}
	if _, err := c.Vocabulary(); err != nil {
		return err
	}

	if c.Search.DefaultPageSize <= 0 {
		return fmt.Errorf("default page size must be positive")
	}
	if c.Search.MaxPageSize <= 0 || c.Search.MaxPageSize > 1000 {
		return fmt.Errorf("max page size must be between 1 and 1000")
	}
	if c.Search.DefaultPageSize > c.Search.MaxPageSize {
		return fmt.Errorf("default page size %d exceeds max page size %d", c.Search.DefaultPageSize, c.Search.MaxPageSize)
	}

	if c.Redis.Enabled && len(c.Redis.Addresses) == 0 {
		return fmt.Errorf("at least one redis address required")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("at least one kafka broker required")
	}
	if c.ClickHouse.Enabled && len(c.ClickHouse.Addresses) == 0 {
		return fmt.Errorf("at least one clickhouse address required")
	}
	if c.Observability.TraceSampleRatio < 0 || c.Observability.TraceSampleRatio > 1 {
		return fmt.Errorf("trace sample ratio must be between 0 and 1")
	}
	return nil
}

// Vocabulary builds the facet vocabulary from catalog.facets. Facet keys may
// use singular or plural names; facets left out keep the defaults.
func (c *Config) Vocabulary() (*catalog.Vocabulary, error) {
	values := make(map[catalog.Facet][]string, len(c.Catalog.Facets))
	for name, list := range c.Catalog.Facets {
		f, ok := catalog.ParseFacet(name)
		if !ok {
			return nil, fmt.Errorf("unknown facet %q in catalog.facets", name)
		}
		values[f] = list
	}
	vocab, err := catalog.NewVocabulary(values)
	if err != nil {
		return nil, fmt.Errorf("catalog.facets: %w", err)
	}
	return vocab, nil
}
