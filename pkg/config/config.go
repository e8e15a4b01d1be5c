package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Postgres struct {
		DSN          string        `yaml:"dsn"`
		MaxConns     int           `yaml:"max_conns"`
		ConnLifetime time.Duration `yaml:"conn_lifetime"`
	} `yaml:"postgres"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled          bool     `yaml:"enabled"`
		Brokers          []string `yaml:"brokers"`
		FeaturesTopic    string   `yaml:"features_topic"`
		PredictionsTopic string   `yaml:"predictions_topic"`
		LogsTopic        string   `yaml:"logs_topic"`
		RequiredAcks     int      `yaml:"required_acks"`
		Compression      string   `yaml:"compression"`
		Producer         struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Feed struct {
		Enabled        bool          `yaml:"enabled"`
		URL            string        `yaml:"url"`
		Symbols        []string      `yaml:"symbols"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		PingInterval   time.Duration `yaml:"ping_interval"`
	} `yaml:"feed"`
	Serving struct {
		Objective           string        `yaml:"objective"`
		FeatureCacheTTL     time.Duration `yaml:"feature_cache_ttl"`
		ResultCacheTTL      time.Duration `yaml:"result_cache_ttl"`
		NeutralBand         float64       `yaml:"neutral_band"`
		ConfidenceThreshold float64       `yaml:"confidence_threshold"`
		CachedBudget        time.Duration `yaml:"cached_budget"`
		UncachedBudget      time.Duration `yaml:"uncached_budget"`
		BatchChunkSize      int           `yaml:"batch_chunk_size"`
		BatchParallelism    int           `yaml:"batch_parallelism"`
	} `yaml:"serving"`
	ModelCache struct {
		Capacity    int           `yaml:"capacity"`
		HitLatency  time.Duration `yaml:"hit_latency_target"`
		ArtifactDir string        `yaml:"artifact_dir"`
	} `yaml:"model_cache"`
	WorkerPool struct {
		Workers     int           `yaml:"workers"`
		QueueCap    int           `yaml:"queue_cap"`
		TaskTimeout time.Duration `yaml:"task_timeout"`
	} `yaml:"worker_pool"`
	Ensemble struct {
		Window            int           `yaml:"window"`
		RecomputeInterval time.Duration `yaml:"recompute_interval"`
		MinWeight         float64       `yaml:"min_weight"`
	} `yaml:"ensemble"`
	Registry struct {
		ValidationFloor  float64 `yaml:"validation_floor"`
		MaxArtifactBytes int64   `yaml:"max_artifact_bytes"`
	} `yaml:"registry"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("FEED_SYMBOLS"); v != "" {
		c.Feed.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("ARTIFACT_DIR"); v != "" {
		c.ModelCache.ArtifactDir = v
	}

	return c, nil
}

// applyDefaults fills the serving knobs the config file may omit.
// Thresholds stay externally configurable; these are fallbacks only.
func (c *Config) applyDefaults() {
	s := &c.Serving
	if s.Objective == "" {
		s.Objective = "DIRECTION"
	}
	if s.FeatureCacheTTL <= 0 {
		s.FeatureCacheTTL = 15 * time.Minute
	}
	if s.ResultCacheTTL <= 0 {
		s.ResultCacheTTL = time.Hour
	}
	if s.NeutralBand <= 0 {
		s.NeutralBand = 0.1
	}
	if s.ConfidenceThreshold <= 0 {
		s.ConfidenceThreshold = 0.5
	}
	if s.CachedBudget <= 0 {
		s.CachedBudget = 150 * time.Millisecond
	}
	if s.UncachedBudget <= 0 {
		s.UncachedBudget = 800 * time.Millisecond
	}
	if s.BatchChunkSize <= 0 {
		s.BatchChunkSize = 16
	}
	if s.BatchParallelism <= 0 {
		s.BatchParallelism = 4
	}
	if c.ModelCache.Capacity <= 0 {
		c.ModelCache.Capacity = 5
	}
	if c.ModelCache.HitLatency <= 0 {
		c.ModelCache.HitLatency = 50 * time.Millisecond
	}
	if c.WorkerPool.Workers <= 0 {
		c.WorkerPool.Workers = 4
	}
	if c.WorkerPool.QueueCap <= 0 {
		c.WorkerPool.QueueCap = 100
	}
	if c.WorkerPool.TaskTimeout <= 0 {
		c.WorkerPool.TaskTimeout = 5 * time.Second
	}
	if c.Ensemble.Window <= 0 {
		c.Ensemble.Window = 100
	}
	if c.Ensemble.RecomputeInterval <= 0 {
		c.Ensemble.RecomputeInterval = time.Minute
	}
	if c.Registry.ValidationFloor <= 0 {
		c.Registry.ValidationFloor = 0.55
	}
	if c.Registry.MaxArtifactBytes <= 0 {
		c.Registry.MaxArtifactBytes = 50 << 20
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required")
	}
	if c.ModelCache.ArtifactDir == "" {
		return fmt.Errorf("model_cache.artifact_dir is required")
	}
	if c.Serving.NeutralBand >= 1 {
		return fmt.Errorf("serving.neutral_band must be below 1, got %v", c.Serving.NeutralBand)
	}
	if c.Serving.ConfidenceThreshold > 1 {
		return fmt.Errorf("serving.confidence_threshold must be within [0,1]")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Feed.Enabled && c.Feed.URL == "" {
		return fmt.Errorf("feed.url is required when feed is enabled")
	}
	return nil
}
