package config

import (
	"errors"
	"fmt"
	"time"

	pkgconfig "github.com/weiawesome/wes-io-live/messenger-service/pkg/config"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/database"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/jwt"
	pkglog "github.com/weiawesome/wes-io-live/messenger-service/pkg/log"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/pubsub"
)

// History sink modes.
const (
	HistoryModeDirect = "direct"
	HistoryModeKafka  = "kafka"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Call      CallConfig      `mapstructure:"call"`
	Database  database.Config `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	History   HistoryConfig   `mapstructure:"history"`
	Push      PushConfig      `mapstructure:"push"`
	ICE       ICEConfig       `mapstructure:"ice"`
	Log       pkglog.Config   `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBufferSize int           `mapstructure:"send_buffer_size"`
}

type AuthConfig struct {
	JWT             jwt.Config    `mapstructure:"jwt"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	DevTokens       bool          `mapstructure:"dev_tokens"`
}

type CallConfig struct {
	RingTimeout time.Duration `mapstructure:"ring_timeout"`
	// TerminalRetention is how long an ended channel id stays reserved.
	TerminalRetention time.Duration `mapstructure:"terminal_retention"`
}

type RedisConfig struct {
	pubsub.RedisConfig  `mapstructure:",squash"`
	Enabled             bool          `mapstructure:"enabled"`
	CachePrefix         string        `mapstructure:"cache_prefix"`
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
	PresencePrefix      string        `mapstructure:"presence_prefix"`
	PresenceTTL         time.Duration `mapstructure:"presence_ttl"`
	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval"`
	DeactivationChannel string        `mapstructure:"deactivation_channel"`
}

type KafkaConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Brokers      string `mapstructure:"brokers"`
	CallTopic    string `mapstructure:"call_topic"`
	MessageTopic string `mapstructure:"message_topic"`
	Partitions   int    `mapstructure:"partitions"`
	GroupID      string `mapstructure:"group_id"`
}

type HistoryConfig struct {
	Mode string `mapstructure:"mode"`
}

type PushConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ProjectID       string        `mapstructure:"project_id"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	Endpoint        string        `mapstructure:"endpoint"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type ICEConfig struct {
	Servers []ICEServer `mapstructure:"servers"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

// Load reads ./config/config.yaml and the environment.
func Load() (*Config, error) {
	return LoadFrom("./config", "config")
}

// LoadFrom reads configName.yaml from configPath and the environment.
func LoadFrom(configPath, configName string) (*Config, error) {
	v, err := pkgconfig.Load(configPath, configName)
	if err != nil {
		return nil, err
	}

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("websocket.send_buffer_size", 256)
	v.SetDefault("auth.jwt.issuer", "messenger-service")
	v.SetDefault("auth.jwt.access_ttl", "15m")
	v.SetDefault("auth.jwt.refresh_ttl", "720h")
	v.SetDefault("auth.refresh_interval", "14m")
	v.SetDefault("auth.dev_tokens", false)
	v.SetDefault("call.ring_timeout", "3m")
	v.SetDefault("call.terminal_retention", "24h")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "messenger.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.cache_prefix", "messenger:user")
	v.SetDefault("redis.cache_ttl", "10m")
	v.SetDefault("redis.presence_prefix", "messenger:presence")
	v.SetDefault("redis.presence_ttl", "90s")
	v.SetDefault("redis.heartbeat_interval", "30s")
	v.SetDefault("redis.deactivation_channel", "user:deactivated")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.call_topic", "call-events")
	v.SetDefault("kafka.message_topic", "chat-messages")
	v.SetDefault("kafka.partitions", 4)
	v.SetDefault("kafka.group_id", "messenger-call-history")
	v.SetDefault("history.mode", HistoryModeDirect)
	v.SetDefault("push.enabled", false)
	v.SetDefault("push.endpoint", "https://fcm.googleapis.com")
	v.SetDefault("push.timeout", "5s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "messenger-service")

	if err := pkgconfig.BindEnvs(v, map[string]string{
		"server.port":               "PORT",
		"database.driver":           "DATABASE_DRIVER",
		"database.host":             "DATABASE_HOST",
		"database.port":             "DATABASE_PORT",
		"database.user":             "DATABASE_USER",
		"database.password":         "DATABASE_PASSWORD",
		"database.dbname":           "DATABASE_NAME",
		"redis.address":             "REDIS_ADDRESS",
		"redis.password":            "REDIS_PASSWORD",
		"kafka.brokers":             "KAFKA_BROKERS",
		"auth.jwt.private_key_path": "JWT_PRIVATE_KEY_PATH",
		"auth.jwt.public_key_path":  "JWT_PUBLIC_KEY_PATH",
		"push.project_id":           "FCM_PROJECT_ID",
		"push.credentials_file":     "GOOGLE_APPLICATION_CREDENTIALS",
		"log.level":                 "LOG_LEVEL",
	}); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be positive")
	}
	if c.Call.RingTimeout <= 0 {
		return errors.New("call.ring_timeout must be positive")
	}
	if c.Call.TerminalRetention < c.Call.RingTimeout {
		return errors.New("call.terminal_retention must not be shorter than call.ring_timeout")
	}
	if c.Auth.RefreshInterval <= 0 {
		return errors.New("auth.refresh_interval must be positive")
	}
	if c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		return errors.New("websocket.ping_interval must be shorter than websocket.pong_wait")
	}
	switch c.History.Mode {
	case HistoryModeDirect:
	case HistoryModeKafka:
		if !c.Kafka.Enabled {
			return errors.New("history.mode kafka requires kafka.enabled")
		}
	default:
		return fmt.Errorf("unknown history.mode %q", c.History.Mode)
	}
	if c.Push.Enabled && c.Push.ProjectID == "" {
		return errors.New("push.project_id is required when push is enabled")
	}
	return nil
}
