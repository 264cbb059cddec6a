package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Secondary storage backends.
const (
	SecondaryRedis  = "redis"
	SecondarySQLite = "sqlite"
	SecondaryMemory = "memory"
)

const envPrefix = "CHATROOM_"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Env       string          `yaml:"env"`
	HTTP      HTTPConfig      `yaml:"http"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Storage   StorageConfig   `yaml:"storage"`
	Room      RoomConfig      `yaml:"room"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// FUNCTIONAL DISCOVERY: HTTP configuration balances performance and reliability
type HTTPConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongWait       time.Duration `yaml:"pong_wait"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	BufferSize     int           `yaml:"buffer_size"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// StorageConfig selects the tiers. An empty PrimaryPath keeps the primary
// tier in memory.
type StorageConfig struct {
	PrimaryPath  string        `yaml:"primary_path"`
	Secondary    string        `yaml:"secondary"`
	RedisURL     string        `yaml:"redis_url"`
	SQLitePath   string        `yaml:"sqlite_path"`
	SecondaryTTL time.Duration `yaml:"secondary_ttl"`
	QueueSize    int           `yaml:"queue_size"`
	IndexCap     int           `yaml:"index_cap"`
}

type RoomConfig struct {
	Name             string        `yaml:"name"`
	RateLimit        int           `yaml:"rate_limit"`
	RateWindow       time.Duration `yaml:"rate_window"`
	Cooldown         time.Duration `yaml:"cooldown"`
	EditWindow       time.Duration `yaml:"edit_window"`
	MaxContentLength int           `yaml:"max_content_length"`
	MaxGifLength     int           `yaml:"max_gif_length"`
	RecentReplies    int           `yaml:"recent_replies"`
}

type APIConfig struct {
	InternalSecret string   `yaml:"internal_secret"`
	RateLimit      float64  `yaml:"rate_limit"`
	RateBurst      int      `yaml:"rate_burst"`
	CORSOrigins    []string `yaml:"cors_origins"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// FUNCTIONAL DISCOVERY: Production-ready defaults. Primary in memory, secondary
// in a local SQLite file, so a bare binary runs without external services
func DefaultConfig() *Config {
	return &Config{
		Env: "production",
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval:   30 * time.Second,
			PongWait:       60 * time.Second,
			WriteTimeout:   5 * time.Second,
			BufferSize:     100,
			MaxMessageSize: 16 * 1024,
		},
		Storage: StorageConfig{
			Secondary:    SecondarySQLite,
			SQLitePath:   "./chatroom.db",
			SecondaryTTL: 365 * 24 * time.Hour,
			QueueSize:    1024,
			IndexCap:     100,
		},
		Room: RoomConfig{
			Name:             "main",
			RateLimit:        10,
			RateWindow:       10 * time.Second,
			Cooldown:         30 * time.Second,
			EditWindow:       15 * time.Minute,
			MaxContentLength: 1000,
			MaxGifLength:     500,
			RecentReplies:    3,
		},
		API: APIConfig{
			RateLimit: 20,
			RateBurst: 40,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// IsDevelopment reports whether human-friendly output is wanted.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development" || c.Env == "dev"
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return c.HTTP.Host + ":" + strconv.Itoa(c.HTTP.Port)
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	// port 0 binds a free port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PongWait <= 0 {
		return fmt.Errorf("WebSocket heartbeat durations must be positive")
	}
	if c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		return fmt.Errorf("WebSocket ping interval must be shorter than pong wait")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	switch c.Storage.Secondary {
	case SecondaryRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("storage.redis_url is required for the redis secondary")
		}
	case SecondarySQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite secondary")
		}
	case SecondaryMemory:
	default:
		return fmt.Errorf("unknown secondary storage %q", c.Storage.Secondary)
	}
	if c.Storage.SecondaryTTL < 0 || c.Storage.QueueSize <= 0 || c.Storage.IndexCap <= 0 {
		return fmt.Errorf("storage TTL, queue size and index cap must be positive")
	}

	if c.Room.RateLimit <= 0 || c.Room.RateWindow <= 0 || c.Room.Cooldown <= 0 {
		return fmt.Errorf("room rate limit settings must be positive")
	}
	if c.Room.EditWindow <= 0 {
		return fmt.Errorf("room edit window must be positive")
	}
	if c.Room.MaxContentLength <= 0 || c.Room.MaxGifLength <= 0 {
		return fmt.Errorf("room content limits must be positive")
	}
	if c.Room.RecentReplies < 0 {
		return fmt.Errorf("room recent replies cannot be negative")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("logging format must be json or console")
	}
	return nil
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
// A .env file in the working directory is loaded first; real environment
// variables win over it
func LoadFromEnv() *Config {
	_ = godotenv.Load()
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(c *Config) {
	envString("ENV", &c.Env)

	envString("HTTP_HOST", &c.HTTP.Host)
	envInt("HTTP_PORT", &c.HTTP.Port)
	envDuration("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	envDuration("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)
	envDuration("HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout)

	envDuration("WEBSOCKET_PING_INTERVAL", &c.WebSocket.PingInterval)
	envDuration("WEBSOCKET_PONG_WAIT", &c.WebSocket.PongWait)
	envDuration("WEBSOCKET_WRITE_TIMEOUT", &c.WebSocket.WriteTimeout)
	envInt("WEBSOCKET_BUFFER_SIZE", &c.WebSocket.BufferSize)
	envList("WEBSOCKET_ALLOWED_ORIGINS", &c.WebSocket.AllowedOrigins)

	envString("STORAGE_PRIMARY_PATH", &c.Storage.PrimaryPath)
	envString("STORAGE_SECONDARY", &c.Storage.Secondary)
	envString("REDIS_URL", &c.Storage.RedisURL)
	envString("SQLITE_PATH", &c.Storage.SQLitePath)
	envDuration("STORAGE_SECONDARY_TTL", &c.Storage.SecondaryTTL)
	envInt("STORAGE_QUEUE_SIZE", &c.Storage.QueueSize)

	envString("ROOM_NAME", &c.Room.Name)
	envInt("ROOM_RATE_LIMIT", &c.Room.RateLimit)
	envDuration("ROOM_RATE_WINDOW", &c.Room.RateWindow)
	envDuration("ROOM_COOLDOWN", &c.Room.Cooldown)
	envDuration("ROOM_EDIT_WINDOW", &c.Room.EditWindow)

	envString("INTERNAL_SECRET", &c.API.InternalSecret)
	if v := os.Getenv(envPrefix + "API_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.API.RateLimit = f
		}
	}
	envInt("API_RATE_BURST", &c.API.RateBurst)
	envList("CORS_ORIGINS", &c.API.CORSOrigins)

	envString("LOG_LEVEL", &c.Logging.Level)
	envString("LOG_FORMAT", &c.Logging.Format)
}

// Malformed values are ignored and the previous value kept.
func envString(name string, dst *string) {
	if v := os.Getenv(envPrefix + name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(envPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(envPrefix + name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envList(name string, dst *[]string) {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

// LoadFromFile reads a YAML file over the defaults. Durations are written as
// Go duration strings ("30s", "15m").
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(c *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults
// A missing file is not an error; an unreadable or invalid one is
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := LoadFromEnv()

	if path != "" {
		err := applyFile(config, path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
