// Package config carries the runtime settings for the sync client:
// endpoints, transport timers, reconnection policy and queue limits.
// Precedence is defaults, then environment, then an optional JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    *ServerConfig    `json:"server"`
	API       *APIConfig       `json:"api"`
	Transport *TransportConfig `json:"transport"`
	Reconnect *ReconnectConfig `json:"reconnect"`
	Queue     *QueueConfig     `json:"queue"`
	Store     *StoreConfig     `json:"store"`
}

// ServerConfig locates the realtime channel server.
type ServerConfig struct {
	BaseURL string `json:"base_url"`
}

// APIConfig locates the lesson persistence service.
type APIConfig struct {
	BaseURL   string `json:"base_url"`
	AuthToken string `json:"auth_token"`
}

// TransportConfig tunes a single socket.
type TransportConfig struct {
	ConnectTimeout    time.Duration `json:"connect_timeout"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	PongTimeout       time.Duration `json:"pong_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
}

// ReconnectConfig tunes the backoff schedule.
type ReconnectConfig struct {
	BackoffBase time.Duration `json:"backoff_base"`
	BackoffCap  time.Duration `json:"backoff_cap"`
	MaxAttempts int           `json:"max_attempts"`
}

// QueueConfig bounds the offline sync queue.
type QueueConfig struct {
	MaxAttempts int           `json:"max_attempts"`
	Capacity    int           `json:"capacity"`
	DrainPause  time.Duration `json:"drain_pause"`
}

// StoreConfig locates the local SQLite database.
type StoreConfig struct {
	Path string `json:"path"`
}

// DefaultConfig returns production defaults: 30s heartbeat with a 10s
// pong window, linear backoff capped at 15s over five attempts, and a
// five-try retry ceiling on queued tasks.
func DefaultConfig() *Config {
	return &Config{
		Server: &ServerConfig{
			BaseURL: "http://localhost:8080",
		},
		API: &APIConfig{
			BaseURL: "http://localhost:8081",
		},
		Transport: &TransportConfig{
			ConnectTimeout:    10 * time.Second,
			HeartbeatInterval: 30 * time.Second,
			PongTimeout:       10 * time.Second,
			WriteTimeout:      5 * time.Second,
		},
		Reconnect: &ReconnectConfig{
			BackoffBase: time.Second,
			BackoffCap:  15 * time.Second,
			MaxAttempts: 5,
		},
		Queue: &QueueConfig{
			MaxAttempts: 5,
			Capacity:    1000,
			DrainPause:  50 * time.Millisecond,
		},
		Store: &StoreConfig{
			Path: "./lessonsync.db",
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Server == nil || c.Server.BaseURL == "" {
		return fmt.Errorf("server base URL is required")
	}

	if c.API == nil || c.API.BaseURL == "" {
		return fmt.Errorf("API base URL is required")
	}

	if c.Transport == nil {
		return fmt.Errorf("transport configuration is required")
	}
	if c.Transport.ConnectTimeout <= 0 {
		return fmt.Errorf("transport connect timeout must be positive")
	}
	if c.Transport.HeartbeatInterval <= 0 {
		return fmt.Errorf("transport heartbeat interval must be positive")
	}
	if c.Transport.PongTimeout <= 0 {
		return fmt.Errorf("transport pong timeout must be positive")
	}
	if c.Transport.WriteTimeout <= 0 {
		return fmt.Errorf("transport write timeout must be positive")
	}

	if c.Reconnect == nil {
		return fmt.Errorf("reconnect configuration is required")
	}
	if c.Reconnect.BackoffBase <= 0 {
		return fmt.Errorf("reconnect backoff base must be positive")
	}
	if c.Reconnect.BackoffCap < c.Reconnect.BackoffBase {
		return fmt.Errorf("reconnect backoff cap must be at least the base")
	}
	if c.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("reconnect max attempts must be positive")
	}

	if c.Queue == nil {
		return fmt.Errorf("queue configuration is required")
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue max attempts must be positive")
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue capacity must be positive")
	}
	if c.Queue.DrainPause < 0 {
		return fmt.Errorf("queue drain pause cannot be negative")
	}

	if c.Store == nil || c.Store.Path == "" {
		return fmt.Errorf("store path is required")
	}

	return nil
}

// LoadFromEnv layers environment variables over the defaults.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if url := os.Getenv("LESSONSYNC_SERVER_URL"); url != "" {
		config.Server.BaseURL = url
	}

	if url := os.Getenv("LESSONSYNC_API_URL"); url != "" {
		config.API.BaseURL = url
	}

	if token := os.Getenv("LESSONSYNC_API_TOKEN"); token != "" {
		config.API.AuthToken = token
	}

	if path := os.Getenv("LESSONSYNC_STORE_PATH"); path != "" {
		config.Store.Path = path
	}

	if v := os.Getenv("LESSONSYNC_CONNECT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Transport.ConnectTimeout = d
		}
	}

	if v := os.Getenv("LESSONSYNC_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Transport.HeartbeatInterval = d
		}
	}

	if v := os.Getenv("LESSONSYNC_PONG_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Transport.PongTimeout = d
		}
	}

	if v := os.Getenv("LESSONSYNC_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Transport.WriteTimeout = d
		}
	}

	if v := os.Getenv("LESSONSYNC_BACKOFF_BASE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Reconnect.BackoffBase = d
		}
	}

	if v := os.Getenv("LESSONSYNC_BACKOFF_CAP"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Reconnect.BackoffCap = d
		}
	}

	if v := os.Getenv("LESSONSYNC_RECONNECT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Reconnect.MaxAttempts = n
		}
	}

	if v := os.Getenv("LESSONSYNC_QUEUE_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Queue.MaxAttempts = n
		}
	}

	if v := os.Getenv("LESSONSYNC_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Queue.Capacity = n
		}
	}

	return config
}

// configFile mirrors Config with string durations so JSON files stay
// human-editable.
type configFile struct {
	Server    *ServerConfig  `json:"server"`
	API       *APIConfig     `json:"api"`
	Transport *transportFile `json:"transport"`
	Reconnect *reconnectFile `json:"reconnect"`
	Queue     *queueFile     `json:"queue"`
	Store     *StoreConfig   `json:"store"`
}

type transportFile struct {
	ConnectTimeout    string `json:"connect_timeout"`
	HeartbeatInterval string `json:"heartbeat_interval"`
	PongTimeout       string `json:"pong_timeout"`
	WriteTimeout      string `json:"write_timeout"`
}

type reconnectFile struct {
	BackoffBase string `json:"backoff_base"`
	BackoffCap  string `json:"backoff_cap"`
	MaxAttempts int    `json:"max_attempts"`
}

type queueFile struct {
	MaxAttempts int    `json:"max_attempts"`
	Capacity    int    `json:"capacity"`
	DrainPause  string `json:"drain_pause"`
}

// LoadFromFile layers a JSON config file over the defaults.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	if file.Server != nil && file.Server.BaseURL != "" {
		config.Server.BaseURL = file.Server.BaseURL
	}

	if file.API != nil {
		if file.API.BaseURL != "" {
			config.API.BaseURL = file.API.BaseURL
		}
		if file.API.AuthToken != "" {
			config.API.AuthToken = file.API.AuthToken
		}
	}

	if file.Transport != nil {
		setDuration(&config.Transport.ConnectTimeout, file.Transport.ConnectTimeout)
		setDuration(&config.Transport.HeartbeatInterval, file.Transport.HeartbeatInterval)
		setDuration(&config.Transport.PongTimeout, file.Transport.PongTimeout)
		setDuration(&config.Transport.WriteTimeout, file.Transport.WriteTimeout)
	}

	if file.Reconnect != nil {
		setDuration(&config.Reconnect.BackoffBase, file.Reconnect.BackoffBase)
		setDuration(&config.Reconnect.BackoffCap, file.Reconnect.BackoffCap)
		if file.Reconnect.MaxAttempts > 0 {
			config.Reconnect.MaxAttempts = file.Reconnect.MaxAttempts
		}
	}

	if file.Queue != nil {
		if file.Queue.MaxAttempts > 0 {
			config.Queue.MaxAttempts = file.Queue.MaxAttempts
		}
		if file.Queue.Capacity > 0 {
			config.Queue.Capacity = file.Queue.Capacity
		}
		setDuration(&config.Queue.DrainPause, file.Queue.DrainPause)
	}

	if file.Store != nil && file.Store.Path != "" {
		config.Store.Path = file.Store.Path
	}

	return config, nil
}

func setDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}
