package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the system-wide settings tree.
type Config struct {
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Redis     *RedisConfig     `json:"redis"`
	Storage   *StorageConfig   `json:"storage"`
	Room      *RoomConfig      `json:"room"`
}

type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// WebSocketConfig controls session liveness and write behavior.
// ReadTimeout is the liveness window: a session with no inbound traffic
// for longer is forcibly disconnected.
type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	SendBuffer     int           `json:"send_buffer"`
	MaxMessageSize int64         `json:"max_message_size"`
}

type RedisConfig struct {
	Addr string `json:"addr"`
	DB   int    `json:"db"`
}

type StorageConfig struct {
	Path string `json:"path"`
}

// RoomConfig controls room lifecycle and document history retention.
type RoomConfig struct {
	IdleGrace       time.Duration `json:"idle_grace"`
	ReapInterval    time.Duration `json:"reap_interval"`
	MaxHistory      int           `json:"max_history"`
	DefaultLanguage string        `json:"default_language"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			SendBuffer:     100,
			MaxMessageSize: 1024 * 1024,
		},
		Redis: &RedisConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		Storage: &StorageConfig{
			Path: "./coedit.db",
		},
		Room: &RoomConfig{
			IdleGrace:       24 * time.Hour,
			ReapInterval:    time.Minute,
			MaxHistory:      1024,
			DefaultLanguage: "python",
		},
	}
}

// Validate checks the configuration for values that would fail at
// runtime.
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("WebSocket send buffer must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}

	if c.Redis == nil || c.Redis.Addr == "" {
		return fmt.Errorf("redis address cannot be empty")
	}

	if c.Storage == nil || c.Storage.Path == "" {
		return fmt.Errorf("storage path cannot be empty")
	}

	if c.Room == nil {
		return fmt.Errorf("room configuration is required")
	}
	if c.Room.IdleGrace <= 0 {
		return fmt.Errorf("room idle grace must be positive")
	}
	if c.Room.ReapInterval <= 0 {
		return fmt.Errorf("room reap interval must be positive")
	}
	if c.Room.MaxHistory <= 0 {
		return fmt.Errorf("room max history must be positive")
	}

	return nil
}

// LoadFromEnv returns defaults overridden by COEDIT_* environment
// variables. Unparseable values fall back to the default.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if host := os.Getenv("COEDIT_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}
	if port := os.Getenv("COEDIT_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}
	envDuration("COEDIT_HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("COEDIT_HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)

	envDuration("COEDIT_WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("COEDIT_WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("COEDIT_WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	if size := os.Getenv("COEDIT_WEBSOCKET_SEND_BUFFER"); size != "" {
		if n, err := strconv.Atoi(size); err == nil {
			config.WebSocket.SendBuffer = n
		}
	}
	if size := os.Getenv("COEDIT_WEBSOCKET_MAX_MESSAGE_SIZE"); size != "" {
		if n, err := strconv.ParseInt(size, 10, 64); err == nil {
			config.WebSocket.MaxMessageSize = n
		}
	}

	if addr := os.Getenv("COEDIT_REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if db := os.Getenv("COEDIT_REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			config.Redis.DB = n
		}
	}

	if path := os.Getenv("COEDIT_DATABASE_PATH"); path != "" {
		config.Storage.Path = path
	}

	envDuration("COEDIT_ROOM_IDLE_GRACE", &config.Room.IdleGrace)
	envDuration("COEDIT_ROOM_REAP_INTERVAL", &config.Room.ReapInterval)
	if history := os.Getenv("COEDIT_ROOM_MAX_HISTORY"); history != "" {
		if n, err := strconv.Atoi(history); err == nil {
			config.Room.MaxHistory = n
		}
	}
	if language := os.Getenv("COEDIT_ROOM_DEFAULT_LANGUAGE"); language != "" {
		config.Room.DefaultLanguage = language
	}

	return config
}

func envDuration(key string, dst *time.Duration) {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			*dst = d
		}
	}
}

// configFile mirrors Config with string durations for JSON parsing.
type configFile struct {
	HTTP *struct {
		Host         string `json:"host"`
		Port         int    `json:"port"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval   string `json:"ping_interval"`
		ReadTimeout    string `json:"read_timeout"`
		WriteTimeout   string `json:"write_timeout"`
		SendBuffer     int    `json:"send_buffer"`
		MaxMessageSize int64  `json:"max_message_size"`
	} `json:"websocket"`
	Redis *struct {
		Addr string `json:"addr"`
		DB   int    `json:"db"`
	} `json:"redis"`
	Storage *struct {
		Path string `json:"path"`
	} `json:"storage"`
	Room *struct {
		IdleGrace       string `json:"idle_grace"`
		ReapInterval    string `json:"reap_interval"`
		MaxHistory      int    `json:"max_history"`
		DefaultLanguage string `json:"default_language"`
	} `json:"room"`
}

// LoadFromFile parses a JSON config file on top of the defaults and
// validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config := DefaultConfig()

	if file.HTTP != nil {
		if file.HTTP.Host != "" {
			config.HTTP.Host = file.HTTP.Host
		}
		if file.HTTP.Port > 0 {
			config.HTTP.Port = file.HTTP.Port
		}
		fileDuration(file.HTTP.ReadTimeout, &config.HTTP.ReadTimeout)
		fileDuration(file.HTTP.WriteTimeout, &config.HTTP.WriteTimeout)
	}
	if file.WebSocket != nil {
		fileDuration(file.WebSocket.PingInterval, &config.WebSocket.PingInterval)
		fileDuration(file.WebSocket.ReadTimeout, &config.WebSocket.ReadTimeout)
		fileDuration(file.WebSocket.WriteTimeout, &config.WebSocket.WriteTimeout)
		if file.WebSocket.SendBuffer > 0 {
			config.WebSocket.SendBuffer = file.WebSocket.SendBuffer
		}
		if file.WebSocket.MaxMessageSize > 0 {
			config.WebSocket.MaxMessageSize = file.WebSocket.MaxMessageSize
		}
	}
	if file.Redis != nil {
		if file.Redis.Addr != "" {
			config.Redis.Addr = file.Redis.Addr
		}
		config.Redis.DB = file.Redis.DB
	}
	if file.Storage != nil && file.Storage.Path != "" {
		config.Storage.Path = file.Storage.Path
	}
	if file.Room != nil {
		fileDuration(file.Room.IdleGrace, &config.Room.IdleGrace)
		fileDuration(file.Room.ReapInterval, &config.Room.ReapInterval)
		if file.Room.MaxHistory > 0 {
			config.Room.MaxHistory = file.Room.MaxHistory
		}
		if file.Room.DefaultLanguage != "" {
			config.Room.DefaultLanguage = file.Room.DefaultLanguage
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func fileDuration(value string, dst *time.Duration) {
	if value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			*dst = d
		}
	}
}

// LoadConfigWithPrecedence resolves configuration as file > environment
// > defaults. File errors are ignored so environment and defaults still
// work without one.
func LoadConfigWithPrecedence(path string) *Config {
	config := LoadFromEnv()
	if path != "" {
		if fileConfig, err := LoadFromFile(path); err == nil {
			config = fileConfig
		}
	}
	return config
}
