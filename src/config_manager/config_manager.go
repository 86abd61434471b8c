// Package config_manager loads and persists the daemon configuration file.
// CLI flags take precedence over file values; the file records the defaults
// so a deployment can be tuned without changing the unit file.
package config_manager

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	version "github.com/hashicorp/go-version"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("module", "config_manager")

// CurrentConfigVersion is the latest version of the config.json format.
const CurrentConfigVersion = "v0.1.0"

// Resolver selects the link directory implementation.
const (
	ResolverDBus    = "dbus"
	ResolverNetlink = "netlink"
)

// Config holds every tunable of the daemon.
type Config struct {
	ConfigVersion string `json:"config_version"`

	// ScriptDir is the hook root, one <state>.d directory per state.
	ScriptDir string `json:"script_dir"`

	// TimeoutSeconds is the wait-policy script execution timeout.
	TimeoutSeconds uint64 `json:"timeout_seconds"`

	// DescribeTimeoutSeconds bounds each per-link describe call.
	DescribeTimeoutSeconds uint64 `json:"describe_timeout_seconds"`

	RunStartupTriggers bool `json:"run_startup_triggers"`

	// PassJSON exports the raw link description to hooks via NWD_JSON.
	PassJSON bool `json:"pass_json"`

	LogLevel string `json:"log_level"`

	// Resolver is "dbus" (default) or "netlink".
	Resolver string `json:"resolver"`

	// RequiredUID/RequiredGID are the owner a hook script must have.
	RequiredUID uint32 `json:"required_uid"`
	RequiredGID uint32 `json:"required_gid"`

	QueueSize int `json:"queue_size"`
}

// DefaultConfig returns the daemon's built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		ConfigVersion:          CurrentConfigVersion,
		ScriptDir:              "/etc/networkd/broker.d",
		TimeoutSeconds:         20,
		DescribeTimeoutSeconds: 10,
		RunStartupTriggers:     false,
		PassJSON:               true,
		LogLevel:               "warn",
		Resolver:               ResolverDBus,
		RequiredUID:            0,
		RequiredGID:            0,
		QueueSize:              1024,
	}
}

// ConfigManager owns one config file.
type ConfigManager struct {
	path   string
	config *Config
}

// NewConfigManager loads the config at path, writing the defaults there first
// when the file does not exist yet.
func NewConfigManager(path string) (*ConfigManager, error) {
	cm := &ConfigManager{path: path}

	config, err := cm.LoadConfig()
	if err != nil {
		return nil, err
	}
	cm.config = config

	return cm, nil
}

// GetConfig returns the loaded configuration.
func (cm *ConfigManager) GetConfig() *Config {
	return cm.config
}

// LoadConfig reads and validates the config file, creating it with defaults
// when absent.
func (cm *ConfigManager) LoadConfig() (*Config, error) {
	data, err := os.ReadFile(cm.path)
	if err != nil {
		if os.IsNotExist(err) {
			config := DefaultConfig()
			if saveErr := cm.SaveConfig(config); saveErr != nil {
				logger.WithError(saveErr).Warn("Could not write default config")
			}
			return config, nil
		}
		return nil, fmt.Errorf("read config %s: %w", cm.path, err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", cm.path, err)
	}

	if err := checkVersion(&config); err != nil {
		return nil, err
	}

	applyFallbacks(&config)
	return &config, nil
}

// SaveConfig writes the config back, creating the directory when needed.
func (cm *ConfigManager) SaveConfig(config *Config) error {
	dir := filepath.Dir(cm.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory %s: %w", dir, err)
		}
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(cm.path, data, 0o644)
}

// checkVersion compares the file's format version against the current one.
// Older formats are accepted with a warning, newer ones rejected.
func checkVersion(config *Config) error {
	if config.ConfigVersion == "" {
		logger.Warn("Config has no config_version, assuming current format")
		config.ConfigVersion = CurrentConfigVersion
		return nil
	}

	fileVersion, err := version.NewVersion(config.ConfigVersion)
	if err != nil {
		return fmt.Errorf("invalid config_version %q: %w", config.ConfigVersion, err)
	}

	currentVersion, err := version.NewVersion(CurrentConfigVersion)
	if err != nil {
		return err
	}

	if fileVersion.GreaterThan(currentVersion) {
		return fmt.Errorf("config_version %s is newer than supported %s",
			config.ConfigVersion, CurrentConfigVersion)
	}

	if fileVersion.LessThan(currentVersion) {
		logger.WithFields(logrus.Fields{
			"file_version":    config.ConfigVersion,
			"current_version": CurrentConfigVersion,
		}).Warn("Config format is older than current, using compatible defaults for new fields")
	}

	return nil
}

// applyFallbacks fills zero values that would otherwise disable the daemon.
func applyFallbacks(config *Config) {
	defaults := DefaultConfig()

	if config.ScriptDir == "" {
		config.ScriptDir = defaults.ScriptDir
	}
	if config.TimeoutSeconds == 0 {
		config.TimeoutSeconds = defaults.TimeoutSeconds
	}
	if config.DescribeTimeoutSeconds == 0 {
		config.DescribeTimeoutSeconds = defaults.DescribeTimeoutSeconds
	}
	if config.LogLevel == "" {
		config.LogLevel = defaults.LogLevel
	}
	if config.Resolver == "" {
		config.Resolver = defaults.Resolver
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
}
