package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Wiz             WizConfig      `yaml:"wiz"`
	Fade            FadeConfig     `yaml:"fade"`
	Database        DatabaseConfig `yaml:"database"`
	Log             LogConfig      `yaml:"log"`
	API             APIConfig      `yaml:"api"`
	MQTT            MQTTConfig     `yaml:"mqtt"`
	History         HistoryConfig  `yaml:"history"`
	EventBus        EventBusConfig `yaml:"eventbus"`
	Script          string         `yaml:"script"`           // Lua scene script, empty = disabled
	ShutdownTimeout Duration       `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// WizConfig contains bulb protocol settings
type WizConfig struct {
	Port             int      `yaml:"port"`              // UDP control port (default: 38899)
	Broadcast        string   `yaml:"broadcast"`         // Discovery broadcast address (default: 255.255.255.255)
	Timeout          Duration `yaml:"timeout"`           // Per-command reply timeout (default: 1s)
	DiscoveryTimeout Duration `yaml:"discovery_timeout"` // How long a scan collects replies (default: 3.5s)
}

// FadeConfig contains transition defaults
type FadeConfig struct {
	Steps    int      `yaml:"steps"`    // Intermediate steps per transition (default: 20)
	Duration Duration `yaml:"duration"` // Default transition length (default: 1s)
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"` // Structured output instead of the console writer
	Colors bool   `yaml:"colors"`
}

// APIConfig contains HTTP API server settings
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MQTTConfig contains Home Assistant bridge settings
type MQTTConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Broker          string   `yaml:"broker"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	TopicPrefix     string   `yaml:"topic_prefix"`     // Autodiscovery prefix (default: homeassistant)
	RefreshInterval Duration `yaml:"refresh_interval"` // Bulb state poll interval (default: 30s)
}

// HistoryConfig contains operation history settings
type HistoryConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./wizd.sqlite"
	}

	// Wiz defaults
	if cfg.Wiz.Port == 0 {
		cfg.Wiz.Port = 38899
	}
	if cfg.Wiz.Broadcast == "" {
		cfg.Wiz.Broadcast = "255.255.255.255"
	}
	if cfg.Wiz.Timeout == 0 {
		cfg.Wiz.Timeout = Duration(1 * time.Second)
	}
	if cfg.Wiz.DiscoveryTimeout == 0 {
		cfg.Wiz.DiscoveryTimeout = Duration(3500 * time.Millisecond)
	}

	// Fade defaults
	if cfg.Fade.Steps == 0 {
		cfg.Fade.Steps = 20
	}
	if cfg.Fade.Duration == 0 {
		cfg.Fade.Duration = Duration(1 * time.Second)
	}

	// API defaults
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}
	if cfg.API.Host == "" {
		cfg.API.Host = "0.0.0.0"
	}

	// MQTT defaults
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "homeassistant"
	}
	if cfg.MQTT.RefreshInterval == 0 {
		cfg.MQTT.RefreshInterval = Duration(30 * time.Second)
	}

	// History defaults
	if cfg.History.CleanupInterval == 0 {
		cfg.History.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.History.RetentionDays == 0 {
		cfg.History.RetentionDays = 30
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	return &cfg, nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

// ExpandEnvString expands a single string with environment variables
func ExpandEnvString(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return expandEnvVars(s)
	}
	return s
}
