package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the mapper's launch-time configuration: where to find the
// browser's CDP endpoint, and how to expose the BiDi and admin surfaces.
type Config struct {
	// BiDiPort is the port the BiDi websocket transport listens on.
	BiDiPort string `json:"bidi_port" yaml:"bidi_port"`

	// AdminPort is the port the read-only introspection HTTP API listens on.
	AdminPort string `json:"admin_port" yaml:"admin_port"`

	// BrowserURL is the base CDP endpoint (http(s) or ws(s)); the actual
	// browser-level websocket URL is fetched from /json/version.
	BrowserURL string `json:"browser_url" yaml:"browser_url"`

	MaxMessageSize           int `json:"max_message_size" yaml:"max_message_size"`
	ConnectionTimeoutSeconds int `json:"connection_timeout_seconds" yaml:"connection_timeout_seconds"`

	// LogBufferPerContext bounds the per-(module,context) event buffer used
	// by the event manager before any subscriber exists (spec §4.6).
	LogBufferPerContext int `json:"log_buffer_per_context" yaml:"log_buffer_per_context"`

	AcceptInsecureCerts bool `json:"accept_insecure_certs" yaml:"accept_insecure_certs"`

	// SelfTargetID, if set, is the mapper's own CDP target id (spec §4.3:
	// "If targetInfo.targetId equals the mapper's own self-target id,
	// release the debugger and detach"). Left empty when the mapper runs as
	// a standalone process with no browser-hosted tab of its own, in which
	// case no target is ever self-excluded.
	SelfTargetID string `json:"self_target_id" yaml:"self_target_id"`
}

// Load loads configuration from CONFIG_PATH (JSON or YAML, by extension) if
// set, falling back to environment variables, falling back to defaults.
func Load() (*Config, error) {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		cfg, err := loadFile(path)
		if err == nil {
			return cfg, nil
		}
	}
	return loadFromEnv(), nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	switch {
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing json config: %w", err)
		}
	}
	return cfg, nil
}

func loadFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("BIDI_PORT"); v != "" {
		cfg.BiDiPort = v
	}
	if v := os.Getenv("ADMIN_PORT"); v != "" {
		cfg.AdminPort = v
	}
	if v := os.Getenv("BROWSER_URL"); v != "" {
		cfg.BrowserURL = v
	}
	if v := os.Getenv("MAX_MESSAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxMessageSize = n
		}
	}
	if v := os.Getenv("CONNECTION_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ConnectionTimeoutSeconds = n
		}
	}
	if v := os.Getenv("ACCEPT_INSECURE_CERTS"); v != "" {
		cfg.AcceptInsecureCerts = v == "1" || v == "true"
	}
	if v := os.Getenv("SELF_TARGET_ID"); v != "" {
		cfg.SelfTargetID = v
	}

	return cfg
}

// DefaultConfig returns the mapper's default configuration.
func DefaultConfig() *Config {
	return &Config{
		BiDiPort:                 "9222",
		AdminPort:                "9223",
		BrowserURL:               "http://localhost:9222",
		MaxMessageSize:           1024 * 1024,
		ConnectionTimeoutSeconds: 10,
		LogBufferPerContext:      1024,
		AcceptInsecureCerts:      false,
	}
}
