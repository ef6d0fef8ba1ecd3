package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration, stored at ~/.livechat/config.toml.
type Config struct {
	// ServerURL is the WebSocket endpoint, including any API key the
	// provider embeds in the URL. The daemon treats the key as opaque.
	ServerURL string `toml:"server_url"`

	// DefaultChatID receives inbound frames that carry no chat id.
	DefaultChatID string `toml:"default_chat_id"`

	// DataDir holds the sqlite database, lock file and logs.
	DataDir string `toml:"data_dir"`

	Retry RetryConfig `toml:"retry"`
}

// RetryConfig parameterizes the send-retry scheduler.
type RetryConfig struct {
	// BackoffSeconds is the base delay. The first attempt runs as soon as
	// the network is reachable; attempt n then waits base * 2^(n-2).
	BackoffSeconds int `toml:"backoff_seconds"`
	// MaxAttempts is the per-job attempt cap before the job is abandoned.
	MaxAttempts int `toml:"max_attempts"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		ServerURL:     "wss://s14465.blr1.piesocket.com/v3/1?api_key=JPQrNpeEViEtk9oHHd8CBaE8F4gAZSQenJIt7kcW&notify_self=false",
		DefaultChatID: "supportBot",
		DataDir:       filepath.Join(home, ".livechat"),
		Retry: RetryConfig{
			BackoffSeconds: 10,
			MaxAttempts:    3,
		},
	}
}

// Load reads config from the given path, filling unset fields from Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("config %s: server_url is required", path)
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// DBPath returns the sqlite database path under the data dir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "livechat.db")
}

// LogPath returns the daemon log file path under the data dir.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "livechatd.log")
}
