package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "CONTRACTHUB_CONFIG"

// DefaultPath 是未显式指定时使用的配置文件。
var DefaultPath = filepath.Join("configs", "contracthub.json")

// Config 描述了 ContractHub 在启动阶段需要加载的核心配置。
type Config struct {
	Server      ServerConfig      `json:"server"`
	Logging     LoggingConfig     `json:"logging"`
	Web3        Web3Config        `json:"web3"`
	Contracts   ContractsConfig   `json:"contracts"`
	Storage     StorageConfig     `json:"storage"`
	AddressBook AddressBookConfig `json:"address_book"`
	JobQueue    JobQueueConfig    `json:"job_queue"`
	Alerting    AlertingConfig    `json:"alerting"`
	Runtime     RuntimeConfig     `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// LoggingConfig 对应 pkg/logger 的初始化参数。
type LoggingConfig struct {
	Level   string      `json:"level"`
	Format  string      `json:"format"`
	Outputs []string    `json:"outputs"`
	Audit   AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志的落盘与轮转。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// Web3Config 包含访问区块链节点与签名所需的信息。
type Web3Config struct {
	RPCURL             string         `json:"rpc_url"`
	ChainConfig        string         `json:"chain_config"`
	DefaultChain       string         `json:"default_chain"`
	ChainID            int64          `json:"chain_id"`
	Confirmations      uint64         `json:"confirmations"`
	PollIntervalMillis int            `json:"poll_interval_ms"`
	Accounts           AccountsConfig `json:"accounts"`
}

// PollInterval 返回确认轮询间隔。
func (w Web3Config) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMillis) * time.Millisecond
}

// AccountsConfig 列出可用于签名的私钥。
type AccountsConfig struct {
	Keys    []string `json:"keys"`
	KeysEnv string   `json:"keys_env"`
}

// ResolveKeys 合并配置中的私钥与环境变量中逗号分隔的私钥。
func (a AccountsConfig) ResolveKeys() []string {
	keys := make([]string, 0, len(a.Keys))
	for _, key := range a.Keys {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	if a.KeysEnv != "" {
		for _, key := range strings.Split(os.Getenv(a.KeysEnv), ",") {
			if trimmed := strings.TrimSpace(key); trimmed != "" {
				keys = append(keys, trimmed)
			}
		}
	}
	return keys
}

// ContractsConfig 指向合约制品清单。
type ContractsConfig struct {
	Manifest string `json:"manifest"`
}

// StorageConfig 统一描述任务存储与操作账本的后端。
type StorageConfig struct {
	JobStore JobStoreConfig `json:"job_store"`
	Ledger   LedgerConfig   `json:"ledger"`
}

// JobStoreConfig 支持内存与 MySQL 两种实现。
type JobStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
	Retries                int    `json:"retries"`
}

// ConnMaxLifetime 返回连接最大存活时间。
func (j JobStoreConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(j.ConnMaxLifetimeSeconds) * time.Second
}

// ConnMaxIdleTime 返回连接最大空闲时间。
func (j JobStoreConfig) ConnMaxIdleTime() time.Duration {
	return time.Duration(j.ConnMaxIdleTimeSeconds) * time.Second
}

// LedgerConfig 描述操作账本的存储方式。
type LedgerConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
	Path   string `json:"path"`
}

// AddressBookConfig 描述已部署地址的缓存位置。
type AddressBookConfig struct {
	Driver string      `json:"driver"`
	Redis  RedisConfig `json:"redis"`
	Key    string      `json:"key"`
}

// RedisConfig 是 Redis 连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// JobQueueConfig 选择任务队列实现及其参数。
type JobQueueConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Buffer   int            `json:"buffer"`
	Redis    RedisQueue     `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisQueue 描述基于 Redis 列表的队列。
type RedisQueue struct {
	RedisConfig
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// AlertingConfig 配置告警渠道；审计日志渠道始终启用。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// ResolvePath 按 flag、环境变量、默认路径的顺序确定配置文件。
func ResolvePath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return env
	}
	return DefaultPath
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 检查驱动名称等取值是否受支持。
func (c *Config) Validate() error {
	checks := []struct {
		field   string
		value   string
		allowed []string
	}{
		{"storage.job_store.driver", c.Storage.JobStore.Driver, []string{"memory", "mysql"}},
		{"storage.ledger.driver", c.Storage.Ledger.Driver, []string{"memory", "mysql"}},
		{"address_book.driver", c.AddressBook.Driver, []string{"memory", "redis"}},
		{"job_queue.driver", c.JobQueue.Driver, []string{"memory", "redis", "rabbitmq"}},
	}
	var errs []error
	for _, check := range checks {
		if !contains(check.allowed, check.value) {
			errs = append(errs, fmt.Errorf("%s 不支持取值 %q", check.field, check.value))
		}
	}
	if c.Storage.JobStore.Driver == "mysql" && c.Storage.JobStore.DSN == "" {
		errs = append(errs, errors.New("storage.job_store.dsn 不能为空"))
	}
	if c.Storage.Ledger.Driver == "mysql" && c.Storage.Ledger.DSN == "" {
		errs = append(errs, errors.New("storage.ledger.dsn 不能为空"))
	}
	return errors.Join(errs...)
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
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
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path != "" {
		c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path)
	}

	if c.Web3.Confirmations == 0 {
		c.Web3.Confirmations = 1
	}
	if c.Web3.PollIntervalMillis <= 0 {
		c.Web3.PollIntervalMillis = 1000
	}
	if c.Web3.ChainConfig != "" {
		c.Web3.ChainConfig = resolve(baseDir, c.Web3.ChainConfig)
	}

	if c.Contracts.Manifest == "" {
		c.Contracts.Manifest = filepath.Join(baseDir, "contracts.yaml")
	} else {
		c.Contracts.Manifest = resolve(baseDir, c.Contracts.Manifest)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir)
	}

	if c.Storage.JobStore.Driver == "" {
		c.Storage.JobStore.Driver = "memory"
	}
	if c.Storage.JobStore.Retries <= 0 {
		c.Storage.JobStore.Retries = 3
	}
	if c.Storage.Ledger.Driver == "" {
		c.Storage.Ledger.Driver = "memory"
	}
	if c.Storage.Ledger.Path == "" {
		c.Storage.Ledger.Path = filepath.Join(c.Runtime.DataDir, "ledger.jsonl")
	} else {
		c.Storage.Ledger.Path = resolve(baseDir, c.Storage.Ledger.Path)
	}

	if c.AddressBook.Driver == "" {
		c.AddressBook.Driver = "memory"
	}
	if c.AddressBook.Key == "" {
		c.AddressBook.Key = "contracthub:addresses"
	}

	if c.JobQueue.Driver == "" {
		c.JobQueue.Driver = "memory"
	}
	if c.JobQueue.Worker <= 0 {
		c.JobQueue.Worker = 4
	}
	if c.JobQueue.Buffer <= 0 {
		c.JobQueue.Buffer = 1024
	}
	if c.JobQueue.Redis.Queue == "" {
		c.JobQueue.Redis.Queue = "contracthub:jobs"
	}
	if c.JobQueue.RabbitMQ.Queue == "" {
		c.JobQueue.RabbitMQ.Queue = "contracthub.jobs"
	}
}

func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
