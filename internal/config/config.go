package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NetworkConfig describes how camera Wi-Fi networks are found and watched.
type NetworkConfig struct {
	Backend          string   `yaml:"backend"`            // "nmcli" or "mock"
	Suffix           string   `yaml:"suffix"`             // camera SSID marker, e.g. ".OSC"
	PollIntervalMs   int      `yaml:"poll_interval_ms"`   // watcher tick
	ConnectTimeoutMs int      `yaml:"connect_timeout_ms"` // wait for association after a connect request
	MockNetworks     []string `yaml:"mock_networks"`      // configured SSIDs for the mock backend
	MockGateway      string   `yaml:"mock_gateway"`       // gateway reported by the mock backend
}

// CameraConfig describes how to talk to the camera.
// Type selects a concrete implementation.
type CameraConfig struct {
	Type             string `yaml:"type"`               // "osc", or "mock" for a simulated camera
	Host             string `yaml:"host"`               // overrides the Wi-Fi gateway when set
	ModelMarker      string `yaml:"model_marker"`       // substring required in /osc/info model
	SessionTimeoutS  int    `yaml:"session_timeout_s"`  // camera.startSession timeout parameter
	StatusIntervalMs int    `yaml:"status_interval_ms"` // delay between status polls
	StatusRetries    int    `yaml:"status_retries"`     // status poll budget
	RequestTimeoutMs int    `yaml:"request_timeout_ms"` // per HTTP request
}

// PanelConfig is the optional status LED and shutter button.
type PanelConfig struct {
	Enabled      bool `yaml:"enabled"`
	LEDPin       int  `yaml:"led_pin"`        // BCM pin, active HIGH
	ButtonPin    int  `yaml:"button_pin"`     // BCM pin, pressed = LOW
	ButtonPollMs int  `yaml:"button_poll_ms"` // button sampling period
}

// HistoryConfig locates the capture history database. Empty path disables it.
type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"` // pruned at startup, 0 keeps everything
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Network  NetworkConfig  `yaml:"network"`
	Camera   CameraConfig   `yaml:"camera"`
	Panel    PanelConfig    `yaml:"panel"`
	History  HistoryConfig  `yaml:"history"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath rejects config paths that are not a .yaml file
// directly inside a "configs" directory, or that contain "..".
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if strings.Contains(filepath.ToSlash(path), "..") {
		return fmt.Errorf("config path must not contain '..': %s", path)
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path must end with .yaml: %s", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config file must live in a configs/ directory: %s", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	// Network defaults
	if cfg.Network.Backend == "" {
		cfg.Network.Backend = "nmcli"
	}
	if cfg.Network.Backend != "nmcli" && cfg.Network.Backend != "mock" {
		return nil, fmt.Errorf("network.backend must be nmcli or mock, got %q", cfg.Network.Backend)
	}
	if cfg.Network.Suffix == "" {
		cfg.Network.Suffix = ".OSC"
	}
	if cfg.Network.PollIntervalMs <= 0 {
		cfg.Network.PollIntervalMs = 1000
	}
	if cfg.Network.ConnectTimeoutMs <= 0 {
		cfg.Network.ConnectTimeoutMs = 20000
	}

	// Camera defaults
	if cfg.Camera.Type == "" {
		cfg.Camera.Type = "osc"
	}
	if cfg.Camera.Type != "osc" && cfg.Camera.Type != "mock" {
		return nil, fmt.Errorf("camera.type must be osc or mock, got %q", cfg.Camera.Type)
	}
	if cfg.Camera.ModelMarker == "" {
		cfg.Camera.ModelMarker = "THETA"
	}
	if cfg.Camera.SessionTimeoutS < 0 {
		return nil, fmt.Errorf("camera.session_timeout_s must be >= 0, got %d", cfg.Camera.SessionTimeoutS)
	}
	if cfg.Camera.SessionTimeoutS == 0 {
		cfg.Camera.SessionTimeoutS = 50
	}
	if cfg.Camera.StatusIntervalMs <= 0 {
		cfg.Camera.StatusIntervalMs = 250
	}
	if cfg.Camera.StatusRetries < 0 {
		return nil, fmt.Errorf("camera.status_retries must be >= 0, got %d", cfg.Camera.StatusRetries)
	}
	if cfg.Camera.StatusRetries == 0 {
		cfg.Camera.StatusRetries = 20
	}
	if cfg.Camera.RequestTimeoutMs <= 0 {
		cfg.Camera.RequestTimeoutMs = 5000
	}

	// Panel
	if cfg.Panel.Enabled {
		if cfg.Panel.LEDPin <= 0 && cfg.Panel.ButtonPin <= 0 {
			return nil, errors.New("panel.enabled requires led_pin or button_pin")
		}
		if cfg.Panel.LEDPin > 0 && cfg.Panel.LEDPin == cfg.Panel.ButtonPin {
			return nil, fmt.Errorf("panel.led_pin and panel.button_pin must differ, both %d", cfg.Panel.LEDPin)
		}
	}
	if cfg.Panel.ButtonPollMs <= 0 {
		cfg.Panel.ButtonPollMs = 50
	}

	if cfg.History.RetentionDays < 0 {
		return nil, fmt.Errorf("history.retention_days must be >= 0, got %d", cfg.History.RetentionDays)
	}

	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return nil, fmt.Errorf("debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}

	return &cfg, nil
}

// PollInterval returns the watcher tick period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Network.PollIntervalMs) * time.Millisecond
}

// ConnectTimeout returns how long to wait for association after a connect request.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Network.ConnectTimeoutMs) * time.Millisecond
}

// SessionTimeout returns the session timeout sent with camera.startSession.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Camera.SessionTimeoutS) * time.Second
}

// StatusInterval returns the delay between two status polls.
func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.Camera.StatusIntervalMs) * time.Millisecond
}

// RequestTimeout returns the per-request HTTP timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Camera.RequestTimeoutMs) * time.Millisecond
}

// ButtonPoll returns the button sampling period.
func (c *Config) ButtonPoll() time.Duration {
	return time.Duration(c.Panel.ButtonPollMs) * time.Millisecond
}

// PollBudget is the longest a capture may spend polling status
// (retries x interval), not counting request time.
func (c *Config) PollBudget() time.Duration {
	return time.Duration(c.Camera.StatusRetries) * c.StatusInterval()
}
