package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Sentry   SentryConfig   `mapstructure:"sentry"`
	Log      LogConfig      `mapstructure:"log"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port     int `mapstructure:"port"`
	WorkerID int `mapstructure:"worker_id"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

// DSN 拼接 go-sql-driver 连接串
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	Movements string `mapstructure:"movements"`
	Alerts    string `mapstructure:"alerts"`
}

// GatewayConfig 资金扣款网关
type GatewayConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	Timeout          time.Duration `mapstructure:"timeout"`
	BreakerFailures  uint32        `mapstructure:"breaker_failures"`
	BreakerOpenFor   time.Duration `mapstructure:"breaker_open_for"`
	BreakerHalfOpens uint32        `mapstructure:"breaker_half_opens"`
}

type LedgerConfig struct {
	GiftCardValidityDays int           `mapstructure:"gift_card_validity_days"`
	LockTTL              time.Duration `mapstructure:"lock_ttl"`
	LockRetryInterval    time.Duration `mapstructure:"lock_retry_interval"`
	LockMaxRetries       int           `mapstructure:"lock_max_retries"`
	IsolationLevel       string        `mapstructure:"isolation_level"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type BusinessConfig struct {
	OutboxBatchSize int           `mapstructure:"outbox_batch_size"`
	OutboxInterval  time.Duration `mapstructure:"outbox_interval"`
	MaxRetryCount   int           `mapstructure:"max_retry_count"`
	AuditInterval   time.Duration `mapstructure:"audit_interval"`
	AuditLookback   time.Duration `mapstructure:"audit_lookback"`
	AuditBatchSize  int           `mapstructure:"audit_batch_size"`
}

// 余额检查与写入必须在同一快照内，最低 REPEATABLE READ
var isolationLevels = map[string]bool{
	"":                true,
	"repeatable_read": true,
	"serializable":    true,
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.log_level", "warn")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("kafka.topic.movements", "ledger.movements")
	v.SetDefault("kafka.topic.alerts", "ledger.alerts")
	v.SetDefault("gateway.timeout", 10*time.Second)
	v.SetDefault("gateway.breaker_failures", 5)
	v.SetDefault("gateway.breaker_open_for", 30*time.Second)
	v.SetDefault("gateway.breaker_half_opens", 1)
	v.SetDefault("ledger.gift_card_validity_days", 15)
	v.SetDefault("ledger.lock_ttl", 10*time.Second)
	v.SetDefault("ledger.lock_retry_interval", 50*time.Millisecond)
	v.SetDefault("ledger.lock_max_retries", 40)
	v.SetDefault("ledger.isolation_level", "repeatable_read")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("business.outbox_batch_size", 100)
	v.SetDefault("business.outbox_interval", 500*time.Millisecond)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.audit_interval", 10*time.Minute)
	v.SetDefault("business.audit_lookback", 24*time.Hour)
	v.SetDefault("business.audit_batch_size", 200)
}

// LoadConfig 加载配置文件，环境变量 LEDGER_* 覆盖同名配置项
func LoadConfig(configPath string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 启动前校验
func (c *Config) Validate() error {
	var errs []error
	if c.MySQL.Host == "" || c.MySQL.User == "" || c.MySQL.Database == "" {
		errs = append(errs, errors.New("mysql.host, mysql.user and mysql.database are required"))
	}
	if c.Ledger.GiftCardValidityDays <= 0 {
		errs = append(errs, fmt.Errorf("ledger.gift_card_validity_days must be positive, got %d", c.Ledger.GiftCardValidityDays))
	}
	if !isolationLevels[strings.ToLower(c.Ledger.IsolationLevel)] {
		errs = append(errs, fmt.Errorf("unknown ledger.isolation_level %q", c.Ledger.IsolationLevel))
	}
	if c.Business.MaxRetryCount <= 0 {
		errs = append(errs, errors.New("business.max_retry_count must be positive"))
	}
	return errors.Join(errs...)
}

// GiftCardValidity 礼品卡有效期
func (c LedgerConfig) GiftCardValidity() time.Duration {
	return time.Duration(c.GiftCardValidityDays) * 24 * time.Hour
}
