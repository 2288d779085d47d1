// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads and saves the YAML configuration shared by every
// command. Command line flags override the values read from the file.
//
// # File Location
//
//   - Linux: $XDG_CONFIG_HOME/lumen/config.yaml or $HOME/.config/lumen/config.yaml
//   - macOS: $HOME/.config/lumen/config.yaml
//   - Windows: %LOCALAPPDATA%\lumen\config.yaml
//
// A missing file is not an error; defaults are returned instead.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ColdFireHunter/HS-PROJECT-INFO2/pkg/lumen"
)

const (
	appName        = "lumen"
	configFile     = "config.yaml"
	currentVersion = 1
)

// Mutex for file writes
var fileMutex sync.Mutex

// Duration is a time.Duration stored as a Go duration string ("2.5s")
type Duration time.Duration

// UnmarshalYAML accepts a duration string or integer milliseconds
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if parsed, err := time.ParseDuration(s); err == nil {
		*d = Duration(parsed)
		return nil
	}
	var ms int64
	if err := value.Decode(&ms); err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// MarshalYAML writes the duration string form
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the whole configuration file
type Config struct {
	Version int           `yaml:"version"`
	Link    LinkConfig    `yaml:"link"`
	Client  ClientConfig  `yaml:"client"`
	Gateway GatewayConfig `yaml:"gateway"`
	Node    NodeConfig    `yaml:"node"`
	Hub     HubConfig     `yaml:"hub"`
}

// LinkConfig selects the client-to-gateway connection
type LinkConfig struct {
	Port        string `yaml:"port,omitempty"` // serial device
	Baud        int    `yaml:"baud"`
	URL         string `yaml:"url,omitempty"` // ws:// or wss:// gateway endpoint
	Username    string `yaml:"username,omitempty"`
	NoSSLVerify bool   `yaml:"no_ssl_verify,omitempty"`
}

// ClientConfig controls the operator-side driver
type ClientConfig struct {
	Timeout    Duration `yaml:"timeout"`     // outer bound on a single request
	MaxResends int      `yaml:"max_resends"` // NACK resends before giving up
}

// GatewayConfig controls the relay state machine and its transports
type GatewayConfig struct {
	Address       string   `yaml:"address"`          // own mesh address, used for SRCH
	Deadline      Duration `yaml:"deadline"`         // per-command deadline
	BusyDeadline  Duration `yaml:"busy_deadline"`    // deadline after a node reports BUSY
	PollInterval  Duration `yaml:"poll_interval"`    // receive/route tick
	SendInterval  Duration `yaml:"send_interval"`    // broadcast tick
	Buttons       []bool   `yaml:"buttons"`          // local button bitmap for hosts without GPIO
	Listen        string   `yaml:"listen,omitempty"` // serve the link over websocket instead of serial
	Mesh          string   `yaml:"mesh,omitempty"`   // hub URL, empty browses mDNS
	Capture       string   `yaml:"capture,omitempty"`
	StatsInterval Duration `yaml:"stats_interval"`
}

// NodeConfig controls a simulated fixture node
type NodeConfig struct {
	Address   string   `yaml:"address,omitempty"` // empty derives one from the host
	Mesh      string   `yaml:"mesh,omitempty"`
	JitterMin Duration `yaml:"jitter_min"`
	JitterMax Duration `yaml:"jitter_max"`
}

// HubConfig controls the websocket broadcast hub
type HubConfig struct {
	Listen    string `yaml:"listen"`
	Advertise bool   `yaml:"advertise"`
	Instance  string `yaml:"instance"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Version: currentVersion,
		Link: LinkConfig{
			Baud: 115200,
		},
		Client: ClientConfig{
			Timeout:    Duration(15 * time.Second),
			MaxResends: 3,
		},
		Gateway: GatewayConfig{
			Address:       "02:00:00:00:00:01",
			Deadline:      Duration(2500 * time.Millisecond),
			BusyDeadline:  Duration(10 * time.Second),
			PollInterval:  Duration(100 * time.Millisecond),
			SendInterval:  Duration(100 * time.Millisecond),
			Buttons:       []bool{false, false, false, false},
			StatsInterval: Duration(time.Minute),
		},
		Node: NodeConfig{
			JitterMin: Duration(50 * time.Millisecond),
			JitterMax: Duration(500 * time.Millisecond),
		},
		Hub: HubConfig{
			Listen:    ":7420",
			Advertise: true,
			Instance:  "lumen-mesh",
		},
	}
}

// Validate checks values the protocol depends on
func (c *Config) Validate() error {
	if c.Version != currentVersion {
		return fmt.Errorf("unsupported config version: %d (expected %d)", c.Version, currentVersion)
	}
	if len(c.Gateway.Address) != lumen.AddressSize {
		return fmt.Errorf("gateway.address %q must be %d characters", c.Gateway.Address, lumen.AddressSize)
	}
	if c.Node.Address != "" && len(c.Node.Address) != lumen.AddressSize {
		return fmt.Errorf("node.address %q must be %d characters", c.Node.Address, lumen.AddressSize)
	}
	if c.Gateway.Deadline <= 0 || c.Gateway.BusyDeadline <= 0 {
		return fmt.Errorf("gateway deadlines must be positive")
	}
	if c.Gateway.PollInterval <= 0 || c.Gateway.SendInterval <= 0 {
		return fmt.Errorf("gateway tick intervals must be positive")
	}
	if c.Node.JitterMax < c.Node.JitterMin {
		return fmt.Errorf("node.jitter_max must not be below node.jitter_min")
	}
	if c.Client.MaxResends < 0 {
		return fmt.Errorf("client.max_resends must not be negative")
	}
	return nil
}

// GetConfigDir returns the OS-appropriate configuration directory
func GetConfigDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
			return filepath.Join(dir, appName), nil
		}
		profile := os.Getenv("USERPROFILE")
		if profile == "" {
			return "", fmt.Errorf("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
		}
		return filepath.Join(profile, "AppData", "Local", appName), nil
	case "darwin":
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", appName), nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// Load reads the configuration at path, or the default path when empty.
// Fields absent from the file keep their default values.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get config path: %w", err)
		}
		path = p
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration atomically (temp file and rename)
func (c *Config) Save(path string) error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return fmt.Errorf("failed to get config path: %w", err)
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	header := "# Lumen fixture network configuration\n"
	data = append([]byte(header), data...)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename temp config file: %w", err)
	}
	return nil
}
