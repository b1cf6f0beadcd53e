package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 聚合运行时配置。优先级从高到低：LIVE_ 前缀环境变量、config.toml、内置默认值。
type Config struct {
	App       AppConfig
	Log       LogConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Outbox    OutboxConfig
	Ingest    IngestConfig
	Pipeline  PipelineConfig
	Catalog   CatalogConfig
	Payment   PaymentConfig
	RateLimit RateLimitConfig
}

type AppConfig struct {
	Name     string
	Env      string
	HTTPAddr string
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr or a file path
}

type DatabaseConfig struct {
	Driver          string // sqlite, postgres
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	// OrderTopic 接收 outbox 转发的订单 / 支付事件
	OrderTopic string
	// PaymentTopic 支付服务发布的支付状态变更
	PaymentTopic   string
	PaymentGroupID string
	// CommentTopicPrefix + 平台名，供 kafka 评论接入使用
	CommentTopicPrefix string
	CommentGroupPrefix string
}

// OutboxConfig 订单事件进入 Kafka 前经过的 Redis Stream
type OutboxConfig struct {
	Stream   string
	Group    string
	Consumer string
	MaxLen   int64
	Buffer   int
}

type IngestConfig struct {
	Driver          string // push, redis, kafka
	Buffer          int
	Rate            float64
	Burst           int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	BackoffAttempts int
	PushBuffer      int
	PushBatch       int
	RedisBlock      time.Duration
}

type PipelineConfig struct {
	Platforms        []string
	ReorderWindow    time.Duration
	Buffer           int
	CommentHistory   int
	SubscriberBuffer int
}

type CatalogConfig struct {
	RefreshInterval time.Duration
	SeedFile        string
}

type PaymentConfig struct {
	WebhookSecret string
}

type RateLimitConfig struct {
	FeedLimit  int
	FeedWindow time.Duration
}

// Load 读取（可选的）config.toml，叠加环境变量并校验，缺失时使用默认值。
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper 从已填充的 viper 实例构建 Config。
func FromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("LIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		App: AppConfig{
			Name:     v.GetString("app.name"),
			Env:      v.GetString("app.env"),
			HTTPAddr: v.GetString("app.http_addr"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(v.GetString("database.driver")),
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Kafka: KafkaConfig{
			Enabled:            v.GetBool("kafka.enabled"),
			Brokers:            stringList(v, "kafka.brokers"),
			OrderTopic:         v.GetString("kafka.order_topic"),
			PaymentTopic:       v.GetString("kafka.payment_topic"),
			PaymentGroupID:     v.GetString("kafka.payment_group_id"),
			CommentTopicPrefix: v.GetString("kafka.comment_topic_prefix"),
			CommentGroupPrefix: v.GetString("kafka.comment_group_prefix"),
		},
		Outbox: OutboxConfig{
			Stream:   v.GetString("outbox.stream"),
			Group:    v.GetString("outbox.group"),
			Consumer: v.GetString("outbox.consumer"),
			MaxLen:   v.GetInt64("outbox.max_len"),
			Buffer:   v.GetInt("outbox.buffer"),
		},
		Ingest: IngestConfig{
			Driver:          strings.ToLower(v.GetString("ingest.driver")),
			Buffer:          v.GetInt("ingest.buffer"),
			Rate:            v.GetFloat64("ingest.rate"),
			Burst:           v.GetInt("ingest.burst"),
			BackoffBase:     v.GetDuration("ingest.backoff_base"),
			BackoffMax:      v.GetDuration("ingest.backoff_max"),
			BackoffAttempts: v.GetInt("ingest.backoff_attempts"),
			PushBuffer:      v.GetInt("ingest.push_buffer"),
			PushBatch:       v.GetInt("ingest.push_batch"),
			RedisBlock:      v.GetDuration("ingest.redis_block"),
		},
		Pipeline: PipelineConfig{
			Platforms:        stringList(v, "pipeline.platforms"),
			ReorderWindow:    v.GetDuration("pipeline.reorder_window"),
			Buffer:           v.GetInt("pipeline.buffer"),
			CommentHistory:   v.GetInt("pipeline.comment_history"),
			SubscriberBuffer: v.GetInt("pipeline.subscriber_buffer"),
		},
		Catalog: CatalogConfig{
			RefreshInterval: v.GetDuration("catalog.refresh_interval"),
			SeedFile:        v.GetString("catalog.seed_file"),
		},
		Payment: PaymentConfig{
			WebhookSecret: v.GetString("payment.webhook_secret"),
		},
		RateLimit: RateLimitConfig{
			FeedLimit:  v.GetInt("ratelimit.feed_limit"),
			FeedWindow: v.GetDuration("ratelimit.feed_window"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "live-commerce")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.http_addr", ":8000")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "live_commerce.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.order_topic", "live-orders")
	v.SetDefault("kafka.payment_topic", "live-payments")
	v.SetDefault("kafka.payment_group_id", "live-payment-consumer")
	v.SetDefault("kafka.comment_topic_prefix", "live-comments-")
	v.SetDefault("kafka.comment_group_prefix", "live-ingest")

	v.SetDefault("outbox.stream", "live:order_events")
	v.SetDefault("outbox.group", "live-relay-group")
	v.SetDefault("outbox.consumer", "live-relay-1")
	v.SetDefault("outbox.max_len", 100000)
	v.SetDefault("outbox.buffer", 1024)

	v.SetDefault("ingest.driver", "push")
	v.SetDefault("ingest.buffer", 256)
	v.SetDefault("ingest.rate", 200)
	v.SetDefault("ingest.burst", 50)
	v.SetDefault("ingest.backoff_base", 200*time.Millisecond)
	v.SetDefault("ingest.backoff_max", 10*time.Second)
	v.SetDefault("ingest.backoff_attempts", 8)
	v.SetDefault("ingest.push_buffer", 1024)
	v.SetDefault("ingest.push_batch", 32)
	v.SetDefault("ingest.redis_block", 2*time.Second)

	v.SetDefault("pipeline.platforms", "facebook,youtube,instagram")
	v.SetDefault("pipeline.reorder_window", 200*time.Millisecond)
	v.SetDefault("pipeline.buffer", 256)
	v.SetDefault("pipeline.comment_history", 500)
	v.SetDefault("pipeline.subscriber_buffer", 64)

	v.SetDefault("catalog.refresh_interval", 30*time.Second)
	v.SetDefault("catalog.seed_file", "")

	v.SetDefault("payment.webhook_secret", "dev-webhook-secret")

	v.SetDefault("ratelimit.feed_limit", 1000)
	v.SetDefault("ratelimit.feed_window", time.Second)
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must not be empty")
	}
	switch c.Ingest.Driver {
	case "push":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("ingest.driver redis requires redis.enabled")
		}
	case "kafka":
		if !c.Kafka.Enabled {
			return fmt.Errorf("ingest.driver kafka requires kafka.enabled")
		}
	default:
		return fmt.Errorf("ingest.driver must be push, redis or kafka, got %q", c.Ingest.Driver)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must not be empty")
	}
	if c.Ingest.Buffer <= 0 {
		return fmt.Errorf("ingest.buffer must be > 0")
	}
	if c.Ingest.BackoffAttempts <= 0 {
		return fmt.Errorf("ingest.backoff_attempts must be > 0")
	}
	if c.Ingest.BackoffBase <= 0 || c.Ingest.BackoffMax < c.Ingest.BackoffBase {
		return fmt.Errorf("ingest.backoff_base must be > 0 and <= ingest.backoff_max")
	}
	if len(c.Pipeline.Platforms) == 0 {
		return fmt.Errorf("pipeline.platforms must not be empty")
	}
	if c.Pipeline.ReorderWindow < 0 {
		return fmt.Errorf("pipeline.reorder_window must be >= 0")
	}
	if c.Pipeline.CommentHistory <= 0 {
		return fmt.Errorf("pipeline.comment_history must be > 0")
	}
	if c.Catalog.RefreshInterval <= 0 {
		return fmt.Errorf("catalog.refresh_interval must be > 0")
	}
	if c.RateLimit.FeedLimit <= 0 {
		return fmt.Errorf("ratelimit.feed_limit must be > 0")
	}
	if c.RateLimit.FeedWindow <= 0 {
		return fmt.Errorf("ratelimit.feed_window must be > 0")
	}
	return nil
}

// IsProduction 是否为生产环境
func (c *Config) IsProduction() bool { return c.App.Env == "production" }

// stringList 同时支持 TOML 数组与逗号分隔字符串。
func stringList(v *viper.Viper, key string) []string {
	if s, ok := v.Get(key).(string); ok {
		return splitCSV(s)
	}
	return v.GetStringSlice(key)
}

// splitCSV 将逗号分隔字符串解析为字符串切片（去空白、去空项）。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
