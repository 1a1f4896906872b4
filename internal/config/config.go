package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Redis      RedisConfig      `yaml:"redis"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	GeoIP      GeoIPConfig      `yaml:"geoip"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Batch      BatchConfig      `yaml:"batch"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Log        LogConfig        `yaml:"log"`
	Sinks      SinksConfig      `yaml:"sinks"`
	Tracker    TrackerConfig    `yaml:"tracker"`
}

// TrackerConfig holds the detection thresholds of a single engine instance.
type TrackerConfig struct {
	Session     SessionConfig     `yaml:"session"`
	Frustration FrustrationConfig `yaml:"frustration"`
	Performance PerformanceConfig `yaml:"performance"`
}

type SessionConfig struct {
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	ActivityThrottle time.Duration `yaml:"activity_throttle"`
}

type FrustrationConfig struct {
	RageClick  RageClickConfig  `yaml:"rage_click"`
	RapidClick RapidClickConfig `yaml:"rapid_clicks"`
}

type RageClickConfig struct {
	Enabled      bool  `yaml:"enabled"`
	MinClicks    int   `yaml:"min_clicks"`
	TimeWindowMs int64 `yaml:"time_window_ms"`
	RadiusPx     int   `yaml:"radius_px"`
	CooldownMs   int64 `yaml:"cooldown_ms"`
}

type RapidClickConfig struct {
	Enabled      bool  `yaml:"enabled"`
	MinClicks    int   `yaml:"min_clicks"`
	TimeWindowMs int64 `yaml:"time_window_ms"`
	CooldownMs   int64 `yaml:"cooldown_ms"`
}

type PerformanceConfig struct {
	TTFBThresholdMs      float64 `yaml:"ttfb_threshold_ms"`
	LCPThresholdMs       float64 `yaml:"lcp_threshold_ms"`
	CLSThreshold         float64 `yaml:"cls_threshold"`
	LongTaskThresholdMs  float64 `yaml:"long_task_threshold_ms"`
	LongTaskCriticalMs   float64 `yaml:"long_task_critical_ms"`
	LongTaskCountTrigger int     `yaml:"long_task_count_trigger"`
}

type ServerConfig struct {
	HTTPPort    int           `yaml:"http_port"`
	InstanceTTL time.Duration `yaml:"instance_ttl"`
	MaxBodySize int64         `yaml:"max_body_size"`
}

type KafkaConfig struct {
	Brokers       []string          `yaml:"brokers"`
	Topics        map[string]string `yaml:"topics"`
	ConsumerGroup string            `yaml:"consumer_group"`
}

type ClickHouseConfig struct {
	Addr         string `yaml:"addr"`
	Database     string `yaml:"database"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type GeoIPConfig struct {
	DatabasePath string `yaml:"database_path"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	Burst             int `yaml:"burst"`
}

type BatchConfig struct {
	Size          int           `yaml:"size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type DispatchConfig struct {
	QueueSize       int           `yaml:"queue_size"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// SinksConfig selects where the collector delivers signals.
type SinksConfig struct {
	Log        bool `yaml:"log"`
	Kafka      bool `yaml:"kafka"`
	ClickHouse bool `yaml:"clickhouse"`
	Redis      bool `yaml:"redis"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.InstanceTTL == 0 {
		cfg.Server.InstanceTTL = 30 * time.Minute
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = 1 << 20
	}
	if cfg.Batch.Size == 0 {
		cfg.Batch.Size = 1000
	}
	if cfg.Batch.FlushInterval == 0 {
		cfg.Batch.FlushInterval = 5 * time.Second
	}
	if cfg.ClickHouse.MaxOpenConns == 0 {
		cfg.ClickHouse.MaxOpenConns = 10
	}
	if cfg.ClickHouse.MaxIdleConns == 0 {
		cfg.ClickHouse.MaxIdleConns = 5
	}
	if cfg.Redis.SessionTTL == 0 {
		cfg.Redis.SessionTTL = time.Hour
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 100
	}
	if cfg.Dispatch.QueueSize == 0 {
		cfg.Dispatch.QueueSize = 1024
	}
	if cfg.Dispatch.DeliveryTimeout == 0 {
		cfg.Dispatch.DeliveryTimeout = 5 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "gosight-signal-writer"
	}

	// Enable the log sink when nothing else is configured
	if !cfg.Sinks.Log && !cfg.Sinks.Kafka && !cfg.Sinks.ClickHouse && !cfg.Sinks.Redis {
		cfg.Sinks.Log = true
	}

	cfg.Tracker.applyDefaults()
}

func (t *TrackerConfig) applyDefaults() {
	if t.Session.IdleTimeout == 0 {
		t.Session.IdleTimeout = 5 * time.Minute
	}
	if t.Session.ActivityThrottle == 0 {
		t.Session.ActivityThrottle = 30 * time.Second
	}

	// Both frustration tests run unless explicitly configured
	rc := &t.Frustration.RageClick
	if rc.MinClicks == 0 {
		rc.Enabled = true
		rc.MinClicks = 3
	}
	if rc.TimeWindowMs == 0 {
		rc.TimeWindowMs = 1000
	}
	if rc.RadiusPx == 0 {
		rc.RadiusPx = 50
	}
	if rc.CooldownMs == 0 {
		rc.CooldownMs = 5000
	}
	rp := &t.Frustration.RapidClick
	if rp.MinClicks == 0 {
		rp.Enabled = true
		rp.MinClicks = 5
	}
	if rp.TimeWindowMs == 0 {
		rp.TimeWindowMs = 2000
	}
	if rp.CooldownMs == 0 {
		rp.CooldownMs = 5000
	}

	p := &t.Performance
	if p.TTFBThresholdMs == 0 {
		p.TTFBThresholdMs = 600
	}
	if p.LCPThresholdMs == 0 {
		p.LCPThresholdMs = 2500
	}
	if p.CLSThreshold == 0 {
		p.CLSThreshold = 0.25
	}
	if p.LongTaskThresholdMs == 0 {
		p.LongTaskThresholdMs = 200
	}
	if p.LongTaskCriticalMs == 0 {
		p.LongTaskCriticalMs = 1000
	}
	if p.LongTaskCountTrigger == 0 {
		p.LongTaskCountTrigger = 5
	}
}

// DefaultTracker returns the reference detection thresholds.
func DefaultTracker() TrackerConfig {
	var t TrackerConfig
	t.applyDefaults()
	return t
}
