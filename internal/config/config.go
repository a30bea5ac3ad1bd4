package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/oportunyfam/chatsync/pkg/constant"
)

// EnvPrefix prefixes environment overrides, e.g. CHATSYNC_REDIS_HOST
const EnvPrefix = "CHATSYNC"

// Config holds all configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	API       APIConfig       `mapstructure:"api"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Sync      SyncConfig      `mapstructure:"sync"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	HTTPPort       int      `mapstructure:"http_port"`
	Mode           string   `mapstructure:"mode"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// APIConfig points at the OportunyFam REST backend
type APIConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Addr returns the Redis address
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// WebSocketConfig holds WebSocket configuration
type WebSocketConfig struct {
	MaxConnNum       int64         `mapstructure:"max_conn_num"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	WriteChannelSize int           `mapstructure:"write_channel_size"`
}

// SyncConfig holds conversation sync configuration
type SyncConfig struct {
	RealtimeDriver  string        `mapstructure:"realtime_driver"`
	MirrorQueueSize int           `mapstructure:"mirror_queue_size"`
	MirrorWorkerNum int           `mapstructure:"mirror_worker_num"`
	MirrorTimeout   time.Duration `mapstructure:"mirror_timeout"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
}

// Global config instance
var GlobalConfig *Config

// Load loads configuration from file. A .env file in the working directory, if any,
// is loaded first so its variables can override file values.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	GlobalConfig = &cfg
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.API.DialTimeout == 0 {
		cfg.API.DialTimeout = 10 * time.Second
	}
	if cfg.API.ReadTimeout == 0 {
		cfg.API.ReadTimeout = 30 * time.Second
	}
	if cfg.API.WriteTimeout == 0 {
		cfg.API.WriteTimeout = 30 * time.Second
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "127.0.0.1"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "oportunyfam:"
	}
	if cfg.WebSocket.MaxConnNum == 0 {
		cfg.WebSocket.MaxConnNum = 10000
	}
	if cfg.WebSocket.MaxMessageSize == 0 {
		cfg.WebSocket.MaxMessageSize = 51200
	}
	if cfg.WebSocket.WriteWait == 0 {
		cfg.WebSocket.WriteWait = 10 * time.Second
	}
	if cfg.WebSocket.PongWait == 0 {
		cfg.WebSocket.PongWait = 30 * time.Second
	}
	if cfg.WebSocket.PingPeriod == 0 {
		cfg.WebSocket.PingPeriod = (cfg.WebSocket.PongWait * 9) / 10
	}
	if cfg.WebSocket.WriteChannelSize == 0 {
		cfg.WebSocket.WriteChannelSize = 256
	}
	if cfg.Sync.RealtimeDriver == "" {
		cfg.Sync.RealtimeDriver = constant.RealtimeDriverRedis
	}
	if cfg.Sync.MirrorQueueSize == 0 {
		cfg.Sync.MirrorQueueSize = 1024
	}
	if cfg.Sync.MirrorWorkerNum == 0 {
		cfg.Sync.MirrorWorkerNum = 4
	}
	if cfg.Sync.MirrorTimeout == 0 {
		cfg.Sync.MirrorTimeout = 5 * time.Second
	}
	if cfg.Sync.RetryBackoff == 0 {
		cfg.Sync.RetryBackoff = time.Second
	}
}

// Validate rejects configurations the service cannot start with
func (cfg *Config) Validate() error {
	if cfg.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if cfg.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	switch cfg.Sync.RealtimeDriver {
	case constant.RealtimeDriverRedis, constant.RealtimeDriverMemory:
	default:
		return fmt.Errorf("unknown sync.realtime_driver: %q", cfg.Sync.RealtimeDriver)
	}
	if cfg.WebSocket.PingPeriod >= cfg.WebSocket.PongWait {
		return fmt.Errorf("websocket.ping_period must be less than websocket.pong_wait")
	}
	return nil
}
