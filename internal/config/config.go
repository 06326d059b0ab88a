package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int // 0 表示使用 go-redis 默认值
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// LoadFromEnv 从环境变量加载配置
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	c.Host = getEnv(prefix+"_HOST", c.Host)
	c.Port = getEnvInt(prefix+"_PORT", c.Port)
	c.User = getEnv(prefix+"_USER", c.User)
	c.Password = getEnv(prefix+"_PASSWORD", c.Password)
	c.Database = getEnv(prefix+"_NAME", c.Database)
	c.SSLMode = getEnv(prefix+"_SSLMODE", c.SSLMode)
	c.MaxConns = getEnvInt(prefix+"_MAX_CONNS", c.MaxConns)
	c.MaxIdle = getEnvInt(prefix+"_MAX_IDLE", c.MaxIdle)
}

// LoadFromEnv 从环境变量加载Redis配置
func (c *RedisConfig) LoadFromEnv(prefix string) {
	c.Addr = getEnv(prefix+"_ADDR", c.Addr)
	c.Password = getEnv(prefix+"_PASSWORD", c.Password)
	c.DB = getEnvInt(prefix+"_DB", c.DB)
	c.PoolSize = getEnvInt(prefix+"_POOL_SIZE", c.PoolSize)
}

// LoadFromEnv 从环境变量加载MQTT配置
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	c.Broker = getEnv(prefix+"_BROKER", c.Broker)
	c.ClientID = getEnv(prefix+"_CLIENT_ID", c.ClientID)
	c.Username = getEnv(prefix+"_USERNAME", c.Username)
	c.Password = getEnv(prefix+"_PASSWORD", c.Password)
	c.QoS = byte(getEnvInt(prefix+"_QOS", int(c.QoS)))
}

// 存储后端
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config 风险评估服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	// 存储后端：postgres | memory
	Storage struct {
		Driver string
	}

	HTTP struct {
		Addr string
	}

	Risk struct {
		Scoring struct {
			MaxTextLength int // 单条文本最大字符数，默认 10000
			HistorySize   int // 参考的最近用户消息条数，默认 6
		}

		// SLA 巡检
		Sweep struct {
			Enabled         bool
			Interval        time.Duration // 巡检周期，默认 1分钟
			Concurrency     int           // 同时处理的报警数量上限，默认 8
			DispatchTimeout time.Duration // 单次通知超时，默认 10秒
			LeaseTTL        time.Duration // 分布式租约时长，默认 2倍巡检周期
			ShutdownGrace   time.Duration // 停机时等待在途巡检的时间，默认 30秒
			LeaseKey        string
			CheckpointKey   string
		}

		// Redis Streams
		Streams struct {
			ChatEnabled     bool
			ChatStream      string // 聊天消息输入流
			ChatGroup       string
			ChatConsumer    string
			BatchSize       int64
			BlockTime       time.Duration
			PendingInterval time.Duration // 定期重试未确认消息的间隔
			RetryDelay      time.Duration // 处理失败后首次重试的延迟
			AuditStream     string        // 审计事件流（为空表示不写）
			HistoryKey      string        // 会话历史键前缀
		}

		// 通知投递
		Notify struct {
			WebhookURL     string // email/sms 网关
			WebhookTimeout time.Duration
			WebhookRetries int
			MQTTTopic      string // 应用内通知主题前缀
			MQTTEnabled    bool
		}
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database = DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "owlrd",
		SSLMode:  "disable",
		MaxConns: 20,
		MaxIdle:  5,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = MQTTConfig{Broker: "tcp://localhost:1883", ClientID: "wisefido-risk", QoS: 1}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Storage.Driver = getEnv("STORAGE_DRIVER", StoragePostgres)
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8090")

	cfg.Risk.Scoring.MaxTextLength = getEnvInt("RISK_MAX_TEXT_LENGTH", 10000)
	cfg.Risk.Scoring.HistorySize = getEnvInt("RISK_HISTORY_SIZE", 6)

	cfg.Risk.Sweep.Enabled = getEnvBool("RISK_SWEEP_ENABLED", true)
	cfg.Risk.Sweep.Interval = getEnvDuration("RISK_SWEEP_INTERVAL", time.Minute)
	cfg.Risk.Sweep.Concurrency = getEnvInt("RISK_SWEEP_CONCURRENCY", 8)
	cfg.Risk.Sweep.DispatchTimeout = getEnvDuration("RISK_SWEEP_DISPATCH_TIMEOUT", 10*time.Second)
	cfg.Risk.Sweep.LeaseTTL = getEnvDuration("RISK_SWEEP_LEASE_TTL", 2*cfg.Risk.Sweep.Interval)
	cfg.Risk.Sweep.ShutdownGrace = getEnvDuration("RISK_SWEEP_SHUTDOWN_GRACE", 30*time.Second)
	cfg.Risk.Sweep.LeaseKey = getEnv("RISK_SWEEP_LEASE_KEY", "risk:sweep:lease")
	cfg.Risk.Sweep.CheckpointKey = getEnv("RISK_SWEEP_CHECKPOINT_KEY", "risk:sweep:checkpoint")

	cfg.Risk.Streams.ChatEnabled = getEnvBool("RISK_CHAT_ENABLED", false)
	cfg.Risk.Streams.ChatStream = getEnv("RISK_CHAT_STREAM", "risk:chat:messages")
	cfg.Risk.Streams.ChatGroup = getEnv("RISK_CHAT_GROUP", "wisefido-risk")
	cfg.Risk.Streams.ChatConsumer = getEnv("RISK_CHAT_CONSUMER", hostnameOr("wisefido-risk-1"))
	cfg.Risk.Streams.BatchSize = int64(getEnvInt("RISK_CHAT_BATCH_SIZE", 10))
	cfg.Risk.Streams.BlockTime = getEnvDuration("RISK_CHAT_BLOCK", 2*time.Second)
	cfg.Risk.Streams.PendingInterval = getEnvDuration("RISK_CHAT_PENDING_INTERVAL", 30*time.Second)
	cfg.Risk.Streams.RetryDelay = getEnvDuration("RISK_CHAT_RETRY_DELAY", time.Second)
	cfg.Risk.Streams.AuditStream = getEnv("RISK_AUDIT_STREAM", "risk:audit")
	cfg.Risk.Streams.HistoryKey = getEnv("RISK_HISTORY_KEY_PREFIX", "risk:history:")

	cfg.Risk.Notify.WebhookURL = getEnv("RISK_NOTIFY_WEBHOOK_URL", "")
	cfg.Risk.Notify.WebhookTimeout = getEnvDuration("RISK_NOTIFY_WEBHOOK_TIMEOUT", 5*time.Second)
	cfg.Risk.Notify.WebhookRetries = getEnvInt("RISK_NOTIFY_WEBHOOK_RETRIES", 2)
	cfg.Risk.Notify.MQTTTopic = getEnv("RISK_NOTIFY_MQTT_TOPIC", "wisefido/risk/notify")
	cfg.Risk.Notify.MQTTEnabled = getEnvBool("RISK_NOTIFY_MQTT_ENABLED", false)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("invalid STORAGE_DRIVER: %q", c.Storage.Driver)
	}
	if c.Risk.Scoring.MaxTextLength <= 0 {
		return fmt.Errorf("RISK_MAX_TEXT_LENGTH must be positive")
	}
	if c.Risk.Sweep.Interval <= 0 {
		return fmt.Errorf("RISK_SWEEP_INTERVAL must be positive")
	}
	if c.Risk.Sweep.Concurrency <= 0 {
		return fmt.Errorf("RISK_SWEEP_CONCURRENCY must be positive")
	}
	if c.Risk.Sweep.LeaseTTL < c.Risk.Sweep.Interval {
		return fmt.Errorf("RISK_SWEEP_LEASE_TTL (%s) must not be shorter than RISK_SWEEP_INTERVAL (%s)",
			c.Risk.Sweep.LeaseTTL, c.Risk.Sweep.Interval)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func hostnameOr(fallback string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}
