package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config 应用配置，启动时构造一次后显式传递
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Twitter   TwitterConfig   `mapstructure:"twitter"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Log       LogConfig       `mapstructure:"log"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	Mode            string        `mapstructure:"mode" validate:"oneof=debug release test"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 数据库配置；URL 优先于分散字段
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"min=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level" validate:"oneof=silent error warn info"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// TwitterConfig 发帖 API 凭证
type TwitterConfig struct {
	BaseURL           string        `mapstructure:"base_url" validate:"required,url"`
	BearerToken       string        `mapstructure:"bearer_token"`
	ConsumerKey       string        `mapstructure:"consumer_key"`
	ConsumerSecret    string        `mapstructure:"consumer_secret"`
	AccessToken       string        `mapstructure:"access_token"`
	AccessTokenSecret string        `mapstructure:"access_token_secret"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type QueueConfig struct {
	// ClaimTTL 超过该时长仍处于 claimed 的条目视为遗弃
	ClaimTTL time.Duration `mapstructure:"claim_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	StatsTTL time.Duration `mapstructure:"stats_ttl"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type RateLimitConfig struct {
	ProcessRPS   float64 `mapstructure:"process_rps" validate:"gte=0"`
	ProcessBurst int     `mapstructure:"process_burst" validate:"gte=0"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

// legacyEnv 部署环境中已有的变量名
var legacyEnv = map[string][]string{
	"server.port":                 {"PORT", "SERVER_PORT"},
	"database.url":                {"DATABASE_URL"},
	"database.driver":             {"DB_DRIVER"},
	"database.host":               {"DB_HOST"},
	"database.port":               {"DB_PORT"},
	"database.name":               {"DB_NAME"},
	"database.user":               {"DB_USER"},
	"database.password":           {"DB_PASSWORD"},
	"database.sslmode":            {"DB_SSLMODE"},
	"twitter.bearer_token":        {"TWITTER_BEARER_TOKEN"},
	"twitter.consumer_key":        {"TWITTER_CONSUMER_KEY"},
	"twitter.consumer_secret":     {"TWITTER_CONSUMER_SECRET"},
	"twitter.access_token":        {"TWITTER_ACCESS_TOKEN"},
	"twitter.access_token_secret": {"TWITTER_ACCESS_TOKEN_SECRET"},
	"redis.addr":                  {"REDIS_ADDR"},
	"jwt.secret":                  {"JWT_SECRET"},
	"sentry.dsn":                  {"SENTRY_DSN"},
	"tracing.endpoint":            {"OTEL_EXPORTER_OTLP_ENDPOINT"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("twitter.base_url", "https://api.twitter.com")
	v.SetDefault("twitter.bearer_token", "")
	v.SetDefault("twitter.consumer_key", "")
	v.SetDefault("twitter.consumer_secret", "")
	v.SetDefault("twitter.access_token", "")
	v.SetDefault("twitter.access_token_secret", "")
	v.SetDefault("twitter.timeout", 15*time.Second)

	v.SetDefault("queue.claim_ttl", 10*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stats_ttl", 30*time.Second)

	v.SetDefault("jwt.secret", "")

	v.SetDefault("ratelimit.process_rps", 1.0)
	v.SetDefault("ratelimit.process_burst", 1)

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.service_name", "tweet-queue")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Load 读取配置：默认值 < config.yaml < 环境变量
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range legacyEnv {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验字段取值以及数据库连接参数是否齐全
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Database.Driver == "postgres" && c.Database.URL == "" && c.Database.Name == "" {
		return errors.New("invalid config: database.url or database.name is required")
	}
	if c.Database.Driver == "sqlite" && c.Database.URL == "" && c.Database.Name == "" {
		return errors.New("invalid config: sqlite requires database.url or database.name as file path")
	}
	return nil
}

// HasOAuth1 是否提供了完整的用户上下文凭证
func (t TwitterConfig) HasOAuth1() bool {
	return t.ConsumerKey != "" && t.ConsumerSecret != "" && t.AccessToken != "" && t.AccessTokenSecret != ""
}
