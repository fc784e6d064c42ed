package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"AgentLedger-Chain/internal/auth"
	"AgentLedger-Chain/internal/coin"
	xerrors "AgentLedger-Chain/internal/errors"
	"AgentLedger-Chain/internal/registry"
	"AgentLedger-Chain/pkg/logger"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "AGENTLEDGER_CONFIG"

// 覆盖敏感字段的环境变量。
const (
	EnvMySQLDSN      = "AGENTLEDGER_MYSQL_DSN"
	EnvRedisPassword = "AGENTLEDGER_REDIS_PASSWORD"
	EnvRabbitMQURL   = "AGENTLEDGER_RABBITMQ_URL"
	EnvJWTSecret     = "AGENTLEDGER_JWT_SECRET"
	EnvAlertWebhook  = "AGENTLEDGER_ALERT_WEBHOOK"
)

// Config 描述了账本节点在启动阶段需要加载的核心配置。
type Config struct {
	Server        ServerConfig        `json:"server" yaml:"server"`
	Logging       LoggingConfig       `json:"logging" yaml:"logging"`
	Auth          AuthConfig          `json:"auth" yaml:"auth"`
	Storage       StorageConfig       `json:"storage" yaml:"storage"`
	Queue         QueueConfig         `json:"queue" yaml:"queue"`
	Registry      RegistryConfig      `json:"registry" yaml:"registry"`
	Alerting      AlertingConfig      `json:"alerting" yaml:"alerting"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
	Settlement    SettlementConfig    `json:"settlement" yaml:"settlement"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address" yaml:"address"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level       string      `json:"level" yaml:"level"`
	Format      string      `json:"format" yaml:"format"`
	OutputPaths []string    `json:"output_paths" yaml:"output_paths"`
	Audit       AuditConfig `json:"audit" yaml:"audit"`
}

// AuditConfig 控制审计日志文件及其滚动策略。
type AuditConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

// AuthConfig 选择调用方身份来源。
type AuthConfig struct {
	Mode string    `json:"mode" yaml:"mode"`
	JWT  JWTConfig `json:"jwt" yaml:"jwt"`
}

// JWTConfig 描述 HS256 令牌参数。
type JWTConfig struct {
	Secret           string   `json:"secret" yaml:"secret"`
	Issuer           string   `json:"issuer" yaml:"issuer"`
	Audience         []string `json:"audience" yaml:"audience"`
	AccessTTLSeconds int64    `json:"access_ttl_seconds" yaml:"access_ttl_seconds"`
}

// StorageConfig 统一描述账本状态后端的连接信息。
type StorageConfig struct {
	Driver  string        `json:"driver" yaml:"driver"`
	DataDir string        `json:"data_dir" yaml:"data_dir"`
	LevelDB LevelDBConfig `json:"leveldb" yaml:"leveldb"`
	MySQL   MySQLConfig   `json:"mysql" yaml:"mysql"`
	Redis   RedisConfig   `json:"redis" yaml:"redis"`
	SQLite  SQLiteConfig  `json:"sqlite" yaml:"sqlite"`
}

// LevelDBConfig 描述磁盘 LevelDB 后端。
type LevelDBConfig struct {
	Path       string `json:"path" yaml:"path"`
	SyncWrites bool   `json:"sync_writes" yaml:"sync_writes"`
}

// MySQLConfig 描述 MySQL 后端。
type MySQLConfig struct {
	DSN                    string `json:"dsn" yaml:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds"`
	PageSize               int    `json:"page_size" yaml:"page_size"`
}

// RedisConfig 描述 Redis 连接，状态后端与队列共用。
type RedisConfig struct {
	Address   string `json:"address" yaml:"address"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	Namespace string `json:"namespace" yaml:"namespace"`
	PageSize  int    `json:"page_size" yaml:"page_size"`
}

// SQLiteConfig 描述 SQLite 后端。
type SQLiteConfig struct {
	Path string `json:"path" yaml:"path"`
}

// QueueConfig 选择转账指令与事件的投递通道。
type QueueConfig struct {
	Driver     string         `json:"driver" yaml:"driver"`
	BufferSize int            `json:"buffer_size" yaml:"buffer_size"`
	Redis      RedisQueue     `json:"redis" yaml:"redis"`
	RabbitMQ   RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RedisQueue 描述 Redis list 队列。
type RedisQueue struct {
	Address          string `json:"address" yaml:"address"`
	Password         string `json:"password" yaml:"password"`
	DB               int    `json:"db" yaml:"db"`
	Queue            string `json:"queue" yaml:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds" yaml:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL        string `json:"url" yaml:"url"`
	Queue      string `json:"queue" yaml:"queue"`
	Prefetch   int    `json:"prefetch" yaml:"prefetch"`
	Durable    bool   `json:"durable" yaml:"durable"`
	AutoDelete bool   `json:"auto_delete" yaml:"auto_delete"`
}

// RegistryConfig 是账本的创世参数。
type RegistryConfig struct {
	ChainID         string `json:"chain_id" yaml:"chain_id"`
	Admin           string `json:"admin" yaml:"admin"`
	SettlementDenom string `json:"settlement_denom" yaml:"settlement_denom"`
	MinAgentBalance string `json:"min_agent_balance" yaml:"min_agent_balance"`
	FeeBps          uint64 `json:"fee_bps" yaml:"fee_bps"`
}

// AlertingConfig 控制告警通道。
type AlertingConfig struct {
	WebhookURL     string `json:"webhook_url" yaml:"webhook_url"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// ObservabilityConfig 控制指标暴露方式。
type ObservabilityConfig struct {
	MetricsEnabled bool `json:"metrics_enabled" yaml:"metrics_enabled"`
	// MetricsAddress 非空时在独立端口暴露 /metrics。
	MetricsAddress string `json:"metrics_address" yaml:"metrics_address"`
	RuntimeMetrics bool   `json:"runtime_metrics" yaml:"runtime_metrics"`
}

// SettlementConfig 控制结算处理器。
type SettlementConfig struct {
	Disabled                 bool `json:"disabled" yaml:"disabled"`
	Workers                  int  `json:"workers" yaml:"workers"`
	MaxRetries               int  `json:"max_retries" yaml:"max_retries"`
	RedeliverIntervalSeconds int  `json:"redeliver_interval_seconds" yaml:"redeliver_interval_seconds"`
}

// Load 负责解析指定路径的配置文件，.json 使用 JSON，其余按 YAML 解析。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(content, &cfg)
	} else {
		err = yaml.Unmarshal(content, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv 读取 AGENTLEDGER_CONFIG 指向的文件，未设置时使用默认配置。
func LoadFromEnv() (*Config, error) {
	if path, ok := os.LookupEnv(EnvConfigPath); ok && strings.TrimSpace(path) != "" {
		return Load(strings.TrimSpace(path))
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("获取工作目录失败: %w", err)
	}
	cfg := &Config{}
	cfg.applyDefaults(wd)
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = "audit.log"
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = string(auth.ModeDisabled)
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	c.Storage.DataDir = resolve(baseDir, c.Storage.DataDir, "data")
	c.Storage.LevelDB.Path = resolve(c.Storage.DataDir, c.Storage.LevelDB.Path, "ledger.db")
	c.Storage.SQLite.Path = resolve(c.Storage.DataDir, c.Storage.SQLite.Path, "ledger.sqlite")
	if c.Logging.Audit.Path != "" {
		c.Logging.Audit.Path = resolve(c.Storage.DataDir, c.Logging.Audit.Path, "audit.log")
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.BufferSize <= 0 {
		c.Queue.BufferSize = 1024
	}

	if c.Registry.ChainID == "" {
		c.Registry.ChainID = "agentledger-1"
	}
	if c.Registry.Admin == "" {
		c.Registry.Admin = "admin"
	}
	if c.Registry.SettlementDenom == "" {
		c.Registry.SettlementDenom = "uusd"
	}
	if c.Registry.MinAgentBalance == "" {
		c.Registry.MinAgentBalance = "0"
	}

	if c.Alerting.TimeoutSeconds <= 0 {
		c.Alerting.TimeoutSeconds = 5
	}
	if c.Settlement.Workers <= 0 {
		c.Settlement.Workers = 4
	}
	if c.Settlement.MaxRetries <= 0 {
		c.Settlement.MaxRetries = 3
	}
	if c.Settlement.RedeliverIntervalSeconds <= 0 {
		c.Settlement.RedeliverIntervalSeconds = 30
	}
}

// resolve 把相对路径解析到 base 下，空值使用 fallback。
func resolve(base, value, fallback string) string {
	if value == "" {
		value = fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(base, value)
}

// applyEnv 使用环境变量覆盖 DSN 与密钥。
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, target *string) {
		if v, ok := lookup(key); ok && v != "" {
			*target = v
		}
	}
	set(EnvMySQLDSN, &c.Storage.MySQL.DSN)
	set(EnvRedisPassword, &c.Storage.Redis.Password)
	set(EnvRedisPassword, &c.Queue.Redis.Password)
	set(EnvRabbitMQURL, &c.Queue.RabbitMQ.URL)
	set(EnvJWTSecret, &c.Auth.JWT.Secret)
	set(EnvAlertWebhook, &c.Alerting.WebhookURL)
}

// Validate 检查驱动名称与创世参数。
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return xerrors.Newf(xerrors.CodeMisconfiguration, format, args...)
	}
	switch c.Storage.Driver {
	case "memory", "leveldb", "sqlite":
	case "mysql":
		if c.Storage.MySQL.DSN == "" {
			return invalid("storage.mysql.dsn is required")
		}
	case "redis":
		if c.Storage.Redis.Address == "" {
			return invalid("storage.redis.address is required")
		}
	default:
		return invalid("unsupported storage driver %q", c.Storage.Driver)
	}
	switch c.Queue.Driver {
	case "memory":
	case "redis":
		if c.Queue.Redis.Address == "" {
			return invalid("queue.redis.address is required")
		}
	case "rabbitmq":
		if c.Queue.RabbitMQ.URL == "" {
			return invalid("queue.rabbitmq.url is required")
		}
	default:
		return invalid("unsupported queue driver %q", c.Queue.Driver)
	}
	switch auth.Mode(strings.ToLower(c.Auth.Mode)) {
	case auth.ModeDisabled:
	case auth.ModeJWT:
		if c.Auth.JWT.Secret == "" {
			return invalid("auth.jwt.secret is required in jwt mode")
		}
	default:
		return invalid("unsupported auth mode %q", c.Auth.Mode)
	}
	if c.Registry.FeeBps > coin.BasisPoints {
		return invalid("registry.fee_bps must not exceed %d", coin.BasisPoints)
	}
	if _, err := coin.ParseAmount(c.Registry.MinAgentBalance); err != nil {
		return invalid("registry.min_agent_balance: %v", err)
	}
	return nil
}

// Genesis 返回初始化账本使用的消息。
func (c *Config) Genesis() registry.InstantiateMsg {
	minBalance, _ := coin.ParseAmount(c.Registry.MinAgentBalance)
	return registry.InstantiateMsg{
		Admin:           c.Registry.Admin,
		SettlementDenom: c.Registry.SettlementDenom,
		MinAgentBalance: minBalance,
		FeeBps:          c.Registry.FeeBps,
	}
}

// LoggerConfig 转换为 pkg/logger 的配置。
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:       c.Logging.Level,
		Format:      c.Logging.Format,
		OutputPaths: c.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    c.Logging.Audit.Enabled,
			Path:       c.Logging.Audit.Path,
			MaxSizeMB:  c.Logging.Audit.MaxSizeMB,
			MaxBackups: c.Logging.Audit.MaxBackups,
			MaxAgeDays: c.Logging.Audit.MaxAgeDays,
			Compress:   c.Logging.Audit.Compress,
		},
	}
}

// AuthServiceConfig 转换为 auth 服务的配置。
func (c *Config) AuthServiceConfig() auth.Config {
	return auth.Config{
		Mode: auth.Mode(strings.ToLower(c.Auth.Mode)),
		JWT: auth.JWTOptions{
			Secret:    c.Auth.JWT.Secret,
			Issuer:    c.Auth.JWT.Issuer,
			Audience:  c.Auth.JWT.Audience,
			AccessTTL: c.Auth.JWT.AccessTTLSeconds,
		},
	}
}

// RedeliverInterval 返回 outbox 重投间隔。
func (c *Config) RedeliverInterval() time.Duration {
	return time.Duration(c.Settlement.RedeliverIntervalSeconds) * time.Second
}
