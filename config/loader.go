package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFormat represents the configuration file format
type ConfigFormat string

const (
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json"
)

// Loader handles configuration loading from various sources
type Loader struct {
	// Configuration search paths
	searchPaths []string

	// Environment variable prefix
	envPrefix string

	// Default configuration
	defaultConfig *Config
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		searchPaths: []string{
			".",
			"./config",
			"./configs",
			"/etc/strand",
			os.Getenv("HOME") + "/.strand",
		},
		envPrefix:     "STRAND",
		defaultConfig: DefaultConfig(),
	}
}

// SetSearchPaths sets the configuration file search paths
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix sets the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetDefaultConfig sets the default configuration
func (l *Loader) SetDefaultConfig(config *Config) *Loader {
	l.defaultConfig = config
	return l
}

// Load loads configuration from the specified file. An empty filename
// yields the defaults plus environment overrides.
func (l *Loader) Load(filename string) (*Config, error) {
	if filename == "" {
		return l.finish(l.defaults())
	}
	config, err := l.loadFromFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from file %s: %w", filename, err)
	}
	return config, nil
}

// LoadFromFile loads configuration from a specific file
func (l *Loader) LoadFromFile(filename string) (*Config, error) {
	return l.loadFromFile(filename)
}

// LoadFromReader loads configuration from an io.Reader. The result is
// merged with the defaults but not validated.
func (l *Loader) LoadFromReader(reader io.Reader, format ConfigFormat) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration data: %w", err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, err
	}
	return l.mergeConfig(l.defaults(), config), nil
}

// AutoLoad automatically discovers and loads configuration
func (l *Loader) AutoLoad() (*Config, error) {
	configFile, err := l.findConfigFile()
	if errors.Is(err, ErrConfigFileNotFound) {
		return l.finish(l.defaults())
	}
	if err != nil {
		return nil, err
	}
	return l.loadFromFile(configFile)
}

// findConfigFile searches for configuration files in search paths
func (l *Loader) findConfigFile() (string, error) {
	filenames := []string{
		"strand.yaml", "strand.yml",
		"config.yaml", "config.yml",
		"strand.json", "config.json",
	}

	for _, searchPath := range l.searchPaths {
		for _, filename := range filenames {
			fullPath := filepath.Join(searchPath, filename)
			if _, err := os.Stat(fullPath); err == nil {
				return fullPath, nil
			}
		}
	}

	return "", ErrConfigFileNotFound
}

func formatOf(filename string) (ConfigFormat, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported config file format: %s", ext)
	}
}

// loadFromFile loads configuration from a file
func (l *Loader) loadFromFile(filename string) (*Config, error) {
	format, err := formatOf(filename)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, filename)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, err
	}

	// Merge with default config to fill missing fields
	return l.finish(l.mergeConfig(l.defaults(), config))
}

// finish applies environment overrides and validates.
func (l *Loader) finish(config *Config) (*Config, error) {
	if err := l.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigValidateError, err)
	}
	return config, nil
}

func (l *Loader) defaults() *Config {
	if l.defaultConfig == nil {
		return DefaultConfig()
	}
	merged := *l.defaultConfig
	merged.Services = make(map[string]interface{}, len(l.defaultConfig.Services))
	for k, v := range l.defaultConfig.Services {
		merged.Services[k] = v
	}
	return &merged
}

// parseConfig parses configuration data based on format
func (l *Loader) parseConfig(data []byte, format ConfigFormat) (*Config, error) {
	config := &Config{}

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: yaml: %v", ErrConfigParseError, err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: json: %v", ErrConfigParseError, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", format)
	}

	return config, nil
}

// loadFromEnv loads configuration overrides from environment variables
func (l *Loader) loadFromEnv(config *Config) error {
	env := func(name string) string {
		return os.Getenv(l.envPrefix + "_" + name)
	}

	// App configuration
	if val := env("APP_NAME"); val != "" {
		config.App.Name = val
	}
	if val := env("APP_VERSION"); val != "" {
		config.App.Version = val
	}
	if val := env("APP_ENVIRONMENT"); val != "" {
		config.App.Environment = Environment(val)
	}
	if val := env("APP_DEBUG"); val != "" {
		config.App.Debug = strings.ToLower(val) == "true"
	}

	// Log configuration
	if val := env("LOG_LEVEL"); val != "" {
		config.Log.Level = LogLevel(val)
	}
	if val := env("LOG_FORMAT"); val != "" {
		config.Log.Format = val
	}
	if val := env("LOG_OUTPUT"); val != "" {
		config.Log.Output = val
	}

	// Runtime configuration
	if val := env("RUNTIME_THREADS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%w: %s_RUNTIME_THREADS=%q", ErrEnvironmentVarError, l.envPrefix, val)
		}
		config.Runtime.Threads = n
	}
	if val := env("RUNTIME_NET_THREADS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%w: %s_RUNTIME_NET_THREADS=%q", ErrEnvironmentVarError, l.envPrefix, val)
		}
		config.Runtime.NetThreads = n
	}
	if val := env("RUNTIME_BOOT"); val != "" {
		config.Runtime.Boot = val
	}

	// Network configuration
	if val := env("NETWORK_TCP_ADDRESS"); val != "" {
		config.Network.TCP.Address = val
	}
	if val := env("NETWORK_TCP_PORT"); val != "" {
		port, err := parsePort(val)
		if err != nil {
			return fmt.Errorf("%w: %s_NETWORK_TCP_PORT: %v", ErrEnvironmentVarError, l.envPrefix, err)
		}
		config.Network.TCP.Port = port
	}
	if val := env("NETWORK_UDP_PORT"); val != "" {
		port, err := parsePort(val)
		if err != nil {
			return fmt.Errorf("%w: %s_NETWORK_UDP_PORT: %v", ErrEnvironmentVarError, l.envPrefix, err)
		}
		config.Network.UDP.Port = port
	}

	return nil
}

// Helper function to parse port number
func parsePort(val string) (int, error) {
	port, err := strconv.Atoi(val)
	if err != nil {
		return 0, err
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port number: %d", port)
	}
	return port, nil
}

// mergeConfig merges user config with default config
func (l *Loader) mergeConfig(defaultConfig, userConfig *Config) *Config {
	merged := *defaultConfig

	// App config
	if userConfig.App.Name != "" {
		merged.App.Name = userConfig.App.Name
	}
	if userConfig.App.Version != "" {
		merged.App.Version = userConfig.App.Version
	}
	if userConfig.App.Environment != "" {
		merged.App.Environment = userConfig.App.Environment
	}
	if userConfig.App.Description != "" {
		merged.App.Description = userConfig.App.Description
	}
	merged.App.Debug = userConfig.App.Debug

	// Log config
	if userConfig.Log.Level != "" {
		merged.Log.Level = userConfig.Log.Level
	}
	if userConfig.Log.Format != "" {
		merged.Log.Format = userConfig.Log.Format
	}
	if userConfig.Log.Output != "" {
		merged.Log.Output = userConfig.Log.Output
	}
	if userConfig.Log.Fields != nil {
		merged.Log.Fields = userConfig.Log.Fields
	}

	// Runtime config
	if userConfig.Runtime.Threads != 0 {
		merged.Runtime.Threads = userConfig.Runtime.Threads
	}
	if userConfig.Runtime.NetThreads != 0 {
		merged.Runtime.NetThreads = userConfig.Runtime.NetThreads
	}
	if userConfig.Runtime.Boot != "" {
		merged.Runtime.Boot = userConfig.Runtime.Boot
	}
	if userConfig.Runtime.ShutdownTimeout != 0 {
		merged.Runtime.ShutdownTimeout = userConfig.Runtime.ShutdownTimeout
	}

	// Network config
	mergeTCP(&merged.Network.TCP, userConfig.Network.TCP)
	if userConfig.Network.UDP.Address != "" {
		merged.Network.UDP.Address = userConfig.Network.UDP.Address
	}
	if userConfig.Network.UDP.Port != 0 {
		merged.Network.UDP.Port = userConfig.Network.UDP.Port
	}
	if userConfig.Network.UDP.Group != "" {
		merged.Network.UDP.Group = userConfig.Network.UDP.Group
	}
	mergeDuration(&merged.Network.Timeouts.Read, userConfig.Network.Timeouts.Read)
	mergeDuration(&merged.Network.Timeouts.Write, userConfig.Network.Timeouts.Write)
	mergeDuration(&merged.Network.Timeouts.Dial, userConfig.Network.Timeouts.Dial)

	// Timer config
	if userConfig.Timer.RegisterName != "" {
		merged.Timer.RegisterName = userConfig.Timer.RegisterName
	}

	// Service settings
	if userConfig.Services != nil {
		services := make(map[string]interface{}, len(merged.Services)+len(userConfig.Services))
		for k, v := range merged.Services {
			services[k] = v
		}
		for k, v := range userConfig.Services {
			services[k] = v
		}
		merged.Services = services
	}

	return &merged
}

func mergeTCP(dst *TCPConfig, src TCPConfig) {
	if src.Address != "" {
		dst.Address = src.Address
	}
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.KeepAliveInterval != 0 {
		dst.KeepAliveInterval = src.KeepAliveInterval
	}
	if src.MaxConnections != 0 {
		dst.MaxConnections = src.MaxConnections
	}
	if src.MaxSessions != 0 {
		dst.MaxSessions = src.MaxSessions
	}
}

func mergeDuration(dst *time.Duration, src time.Duration) {
	if src != 0 {
		*dst = src
	}
}
