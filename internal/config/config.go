package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds configuration for the bot process.
type Config struct {
	Token              string `yaml:"token"`
	APIHost            string `yaml:"api_host"`
	APIPort            int    `yaml:"api_port"`
	BufferSize         int    `yaml:"buffer_size"`
	TickSeconds        int    `yaml:"tick_seconds"`
	ReadWaitMillis     int    `yaml:"read_wait_millis"`
	DialTimeoutSeconds int    `yaml:"dial_timeout_seconds"`
	WaitNetworkSeconds int    `yaml:"wait_network_seconds"`
	NetworkInterface   string `yaml:"network_interface"`
	DBPath             string `yaml:"db_path"`
	Debug              bool   `yaml:"debug"`
	ReplyPrefix        string `yaml:"reply_prefix"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		APIHost:            "api.telegram.org",
		APIPort:            443,
		BufferSize:         4096,
		TickSeconds:        1,
		ReadWaitMillis:     20,
		DialTimeoutSeconds: 10,
		WaitNetworkSeconds: 30,
		ReplyPrefix:        "Ehi! ",
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (or TINYBOT_CONFIG_FILE when path is empty), then environment variables.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("TINYBOT_CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.Token = envOrDefault("TELEGRAM_BOT_TOKEN", cfg.Token)
	cfg.APIHost = envOrDefault("TINYBOT_API_HOST", cfg.APIHost)
	cfg.APIPort = envIntOrDefault("TINYBOT_API_PORT", cfg.APIPort)
	cfg.BufferSize = envIntOrDefault("TINYBOT_BUFFER_SIZE", cfg.BufferSize)
	cfg.TickSeconds = envIntOrDefault("TINYBOT_TICK_SECONDS", cfg.TickSeconds)
	cfg.ReadWaitMillis = envIntOrDefault("TINYBOT_READ_WAIT_MILLIS", cfg.ReadWaitMillis)
	cfg.DialTimeoutSeconds = envIntOrDefault("TINYBOT_DIAL_TIMEOUT_SECONDS", cfg.DialTimeoutSeconds)
	cfg.WaitNetworkSeconds = envIntOrDefault("TINYBOT_WAIT_NETWORK_SECONDS", cfg.WaitNetworkSeconds)
	cfg.NetworkInterface = envOrDefault("TINYBOT_NETWORK_INTERFACE", cfg.NetworkInterface)
	cfg.DBPath = envOrDefault("TINYBOT_DB_PATH", cfg.DBPath)
	cfg.Debug = envBoolOrDefault("TINYBOT_DEBUG", cfg.Debug)
	cfg.ReplyPrefix = envOrDefault("TINYBOT_REPLY_PREFIX", cfg.ReplyPrefix)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields that would otherwise fail late.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required in environment or config file")
	}
	if strings.TrimSpace(c.APIHost) == "" {
		return fmt.Errorf("TINYBOT_API_HOST must not be empty")
	}
	if c.APIPort < 1 || c.APIPort > 65535 {
		return fmt.Errorf("TINYBOT_API_PORT must be in 1..65535, got %d", c.APIPort)
	}
	if c.BufferSize < 512 {
		return fmt.Errorf("TINYBOT_BUFFER_SIZE must be >= 512, got %d", c.BufferSize)
	}
	if c.TickSeconds <= 0 {
		return fmt.Errorf("TINYBOT_TICK_SECONDS must be > 0, got %d", c.TickSeconds)
	}
	if c.ReadWaitMillis <= 0 {
		return fmt.Errorf("TINYBOT_READ_WAIT_MILLIS must be > 0, got %d", c.ReadWaitMillis)
	}
	if c.DialTimeoutSeconds <= 0 {
		return fmt.Errorf("TINYBOT_DIAL_TIMEOUT_SECONDS must be > 0, got %d", c.DialTimeoutSeconds)
	}
	if c.WaitNetworkSeconds < 0 {
		return fmt.Errorf("TINYBOT_WAIT_NETWORK_SECONDS must be >= 0, got %d", c.WaitNetworkSeconds)
	}
	return nil
}

func (c Config) TickInterval() time.Duration { return time.Duration(c.TickSeconds) * time.Second }
func (c Config) ReadWait() time.Duration     { return time.Duration(c.ReadWaitMillis) * time.Millisecond }
func (c Config) DialTimeout() time.Duration  { return time.Duration(c.DialTimeoutSeconds) * time.Second }
func (c Config) WaitNetwork() time.Duration  { return time.Duration(c.WaitNetworkSeconds) * time.Second }

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}
