package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App     AppConfig     `yaml:"app"`
	Logging LoggingConfig `yaml:"logging"`
	Engine  EngineConfig  `yaml:"engine"`
	AMM     AMMConfig     `yaml:"amm"`
	Router  RouterConfig  `yaml:"router"`
	Oracle  OracleConfig  `yaml:"oracle"`
	Dedupe  DedupeConfig  `yaml:"dedupe"`
	Stores  StoresConfig  `yaml:"stores"`
	PubSub  PubSubConfig  `yaml:"pubsub"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type AppConfig struct {
	InstanceID      string        `yaml:"instance_id"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

type EngineConfig struct {
	Pairs       []string `yaml:"pairs"`        // whitelisted pairs, "BTC/USD" form
	DepthLevels int      `yaml:"depth_levels"` // max levels per side in broadcast snapshots
}

type AMMConfig struct {
	FeeBps      uint64 `yaml:"fee_bps"`       // default swap fee, 30 = 0.3%
	RatioTolBps uint64 `yaml:"ratio_tol_bps"` // deposit ratio tolerance
	MinAmp      uint64 `yaml:"min_amp"`       // StableSwap amplification lower bound
	MaxAmp      uint64 `yaml:"max_amp"`       // StableSwap amplification upper bound
}

type RouterConfig struct {
	Algorithm    string        `yaml:"algorithm"` // dijkstra|bellman-ford
	MaxHops      int           `yaml:"max_hops"`
	SearchBudget time.Duration `yaml:"search_budget"`
}

type OracleConfig struct {
	Window          time.Duration `yaml:"window"`
	MaxObservations int           `yaml:"max_observations"`
}

type DedupeConfig struct {
	Prefix string        `yaml:"prefix"`
	TTL    time.Duration `yaml:"ttl"`
}

type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type ClickHouseWriterConfig struct {
	BatchMaxRows     int           `yaml:"batch_max_rows"`
	BatchMaxInterval time.Duration `yaml:"batch_max_interval"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
}

type ClickHouseConfig struct {
	DSN    string                 `yaml:"dsn"`
	Writer ClickHouseWriterConfig `yaml:"writer"`
}

type StoresConfig struct {
	Redis      RedisConfig      `yaml:"redis"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

type NATSConfig struct {
	URL             string `yaml:"url"`
	BroadcastPrefix string `yaml:"broadcast_prefix"`
}

type PubSubConfig struct {
	NATS NATSConfig `yaml:"nats"`
}

type PyroscopeConfig struct {
	Enabled    bool              `yaml:"enabled"`
	AppName    string            `yaml:"app_name"`
	ServerAddr string            `yaml:"server_addr"`
	AuthToken  string            `yaml:"auth_token"`
	Tags       map[string]string `yaml:"tags"`
}

type MetricsConfig struct {
	Prometheus string          `yaml:"prometheus"` // listen addr, example ":9100"
	Pyroscope  PyroscopeConfig `yaml:"pyroscope"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err = yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
