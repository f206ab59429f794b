// Package config holds all configuration types and loading logic for aochat.
// Config structure never shrinks: fields are only added, never renamed or removed.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for an aochat client instance.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Chat    ChatConfig    `yaml:"chat"`
	History HistoryConfig `yaml:"history"`
	State   StateConfig   `yaml:"state"`
	Server  ServerConfig  `yaml:"server"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// NodeConfig addresses the remote HyperBEAM node and the chat process on it.
type NodeConfig struct {
	URL       string `yaml:"url"`
	ProcessID string `yaml:"process_id"`
	TimeoutMs int    `yaml:"timeout_ms"`
	// CountPath is the segment under /now/ that reports the message count.
	CountPath string `yaml:"count_path"`
	// PushAction is the action tag attached to every chat push.
	PushAction string `yaml:"push_action"`
	// RequestRate paces outgoing requests (per second). 0 disables pacing.
	RequestRate  float64 `yaml:"request_rate"`
	RequestBurst int     `yaml:"request_burst"`
}

// ChatConfig controls identity and the reconciliation engine.
type ChatConfig struct {
	Username      string `yaml:"username"`
	WalletAddress string `yaml:"wallet_address"`

	MaxContentLength   int `yaml:"max_content_length"`
	MaxDisplayMessages int `yaml:"max_display_messages"`
	PollIntervalMs     int `yaml:"poll_interval_ms"`
	PendingTimeoutMs   int `yaml:"pending_timeout_ms"`
	RecheckDelayMs     int `yaml:"recheck_delay_ms"`
	// ConfirmLookback is how many of the latest remote rows are scanned when
	// confirming a push immediately.
	ConfirmLookback   int `yaml:"confirm_lookback"`
	DuplicateWindowMs int `yaml:"duplicate_window_ms"`
}

// HistoryConfig controls the history store cache and initial load.
type HistoryConfig struct {
	CacheSize   int `yaml:"cache_size"`
	CacheTTLMs  int `yaml:"cache_ttl_ms"`
	InitialLoad int `yaml:"initial_load"`
	// SlotScanLimit bounds how many slots one legacy scan may compute.
	SlotScanLimit int `yaml:"slot_scan_limit"`
}

// StateConfig locates persisted local state.
type StateConfig struct {
	DataDir string `yaml:"data_dir"`
}

// ServerConfig controls the local HTTP/WebSocket surface.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	// SendRate is sends per second accepted per client IP.
	SendRate  int `yaml:"send_rate"`
	SendBurst int `yaml:"send_burst"`
	// MaxBodyKB caps request bodies on the local surface.
	MaxBodyKB int `yaml:"max_body_kb"`
	// APIKey, when set, is required in the X-Api-Key header of every request.
	APIKey string `yaml:"api_key"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogConfig controls the slog handler installed at startup.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
}

// Default returns a Config populated with safe, sensible defaults.
// It is the canonical source of truth for default values.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			URL:          "http://localhost:8734",
			TimeoutMs:    10_000,
			CountPath:    "messageCount",
			PushAction:   "chat-message",
			RequestRate:  0,
			RequestBurst: 10,
		},
		Chat: ChatConfig{
			Username:           "",
			MaxContentLength:   1_000,
			MaxDisplayMessages: 150,
			PollIntervalMs:     2_000,
			PendingTimeoutMs:   15_000,
			RecheckDelayMs:     1_500,
			ConfirmLookback:    3,
			DuplicateWindowMs:  1_000,
		},
		History: HistoryConfig{
			CacheSize:     500,
			CacheTTLMs:    5_000,
			InitialLoad:   150,
			SlotScanLimit: 25,
		},
		State: StateConfig{
			DataDir: "./data",
		},
		Server: ServerConfig{
			Enabled:   false,
			Host:      "127.0.0.1",
			Port:      8080,
			SendRate:  5,
			SendBurst: 10,
			MaxBodyKB: 64,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML config file at path and overlays it on top of Default().
// If the file does not exist the default config is returned without error.
//
// After loading the file, environment variables are applied as overrides:
//
//	AOCHAT_NODE_URL     sets node.url
//	AOCHAT_PROCESS_ID   sets node.process_id
//	AOCHAT_USERNAME     sets chat.username
//	AOCHAT_WALLET       sets chat.wallet_address
//	AOCHAT_DATA_DIR     sets state.data_dir
//	AOCHAT_PORT         sets server.port
//	AOCHAT_API_KEY      sets server.api_key
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays environment variable overrides onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("AOCHAT_NODE_URL"); v != "" {
		cfg.Node.URL = v
	}
	if v := os.Getenv("AOCHAT_PROCESS_ID"); v != "" {
		cfg.Node.ProcessID = v
	}
	if v := os.Getenv("AOCHAT_USERNAME"); v != "" {
		cfg.Chat.Username = v
	}
	if v := os.Getenv("AOCHAT_WALLET"); v != "" {
		cfg.Chat.WalletAddress = v
	}
	if v := os.Getenv("AOCHAT_DATA_DIR"); v != "" {
		cfg.State.DataDir = v
	}
	if v := os.Getenv("AOCHAT_PORT"); v != "" {
		var p int
		if _, err := fmt.Sscanf(v, "%d", &p); err == nil && p > 0 {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("AOCHAT_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
}

// Validate checks that the config values are consistent and within acceptable
// ranges. It returns the first error found.
func (c *Config) Validate() error {
	if c.Node.URL == "" {
		return errors.New("node.url must not be empty")
	}
	if !strings.HasPrefix(c.Node.URL, "http://") && !strings.HasPrefix(c.Node.URL, "https://") {
		return errors.New("node.url must start with http:// or https://")
	}
	if c.Node.ProcessID == "" {
		return errors.New("node.process_id must not be empty")
	}
	if strings.ContainsAny(c.Node.ProcessID, "/&=~ ") {
		return errors.New("node.process_id must not contain path separators")
	}
	if c.Node.TimeoutMs < 1 {
		return errors.New("node.timeout_ms must be at least 1")
	}
	if c.Node.PushAction == "" {
		return errors.New("node.push_action must not be empty")
	}
	if c.Node.RequestRate < 0 {
		return errors.New("node.request_rate must be >= 0")
	}
	if c.Chat.MaxContentLength < 1 {
		return errors.New("chat.max_content_length must be at least 1")
	}
	if c.Chat.MaxDisplayMessages < 1 {
		return errors.New("chat.max_display_messages must be at least 1")
	}
	if c.Chat.PollIntervalMs < 1 {
		return errors.New("chat.poll_interval_ms must be at least 1")
	}
	if c.Chat.PendingTimeoutMs < 1 {
		return errors.New("chat.pending_timeout_ms must be at least 1")
	}
	if c.Chat.RecheckDelayMs < 0 {
		return errors.New("chat.recheck_delay_ms must be >= 0")
	}
	if c.Chat.ConfirmLookback < 1 {
		return errors.New("chat.confirm_lookback must be at least 1")
	}
	if c.Chat.DuplicateWindowMs < 0 {
		return errors.New("chat.duplicate_window_ms must be >= 0")
	}
	if c.History.CacheSize < c.History.InitialLoad {
		return errors.New("history.cache_size must not be smaller than history.initial_load")
	}
	if c.History.InitialLoad < 1 {
		return errors.New("history.initial_load must be at least 1")
	}
	if c.History.SlotScanLimit < 1 {
		return errors.New("history.slot_scan_limit must be at least 1")
	}
	if c.State.DataDir == "" {
		return errors.New("state.data_dir must not be empty")
	}
	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return errors.New("metrics.port must be between 1 and 65535")
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return errors.New(`log.format must be one of "json", "text"`)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New(`log.level must be one of "debug", "info", "warn", "error"`)
	}
	return nil
}

// Duration converts a millisecond config field to a time.Duration.
func Duration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
