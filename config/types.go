// Package config provides configuration management for strand processes
package config

import (
	"time"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelFatal:
		return true
	default:
		return false
	}
}

// Config represents the complete process configuration
type Config struct {
	// Application configuration
	App AppConfig `yaml:"app" json:"app"`

	// Logging configuration
	Log LogConfig `yaml:"log" json:"log"`

	// Runtime configuration
	Runtime RuntimeConfig `yaml:"runtime" json:"runtime"`

	// Network configuration
	Network NetworkConfig `yaml:"network" json:"network"`

	// Timer service configuration
	Timer TimerConfig `yaml:"timer" json:"timer"`

	// Free-form per-service settings, read through Context.Config
	Services map[string]interface{} `yaml:"services,omitempty" json:"services,omitempty"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	// Application name
	Name string `yaml:"name" json:"name"`

	// Application version
	Version string `yaml:"version" json:"version"`

	// Deployment environment
	Environment Environment `yaml:"environment" json:"environment"`

	// Debug mode
	Debug bool `yaml:"debug" json:"debug"`

	// Application description
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level"`

	// Log format (json, text)
	Format string `yaml:"format" json:"format"`

	// Output destination (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`

	// Fields to include in every record
	Fields map[string]interface{} `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// RuntimeConfig sizes the executors and names the boot service
type RuntimeConfig struct {
	// Actor worker count; 0 means twice the CPU count
	Threads int `yaml:"threads" json:"threads"`

	// Network worker count; 0 means the CPU count
	NetThreads int `yaml:"net_threads" json:"net_threads"`

	// Name of the service started after logger and timer
	Boot string `yaml:"boot" json:"boot"`

	// Upper bound on graceful shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// NetworkConfig contains network-related configuration
type NetworkConfig struct {
	// TCP listener configuration
	TCP TCPConfig `yaml:"tcp" json:"tcp"`

	// UDP endpoint configuration
	UDP UDPConfig `yaml:"udp" json:"udp"`

	// Timeouts
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`
}

// TCPConfig contains TCP-specific configuration
type TCPConfig struct {
	// Listening address
	Address string `yaml:"address" json:"address"`

	// Listening port
	Port int `yaml:"port" json:"port"`

	// Enable TCP keep-alive
	KeepAlive bool `yaml:"keep_alive" json:"keep_alive"`

	// Keep-alive interval
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval" json:"keep_alive_interval"`

	// Maximum concurrent connections
	MaxConnections int `yaml:"max_connections" json:"max_connections"`

	// Size of the session id pool
	MaxSessions int `yaml:"max_sessions" json:"max_sessions"`
}

// UDPConfig contains UDP-specific configuration
type UDPConfig struct {
	// Listening address
	Address string `yaml:"address" json:"address"`

	// Listening port; 0 disables the endpoint
	Port int `yaml:"port" json:"port"`

	// Multicast group to join, if any
	Group string `yaml:"group,omitempty" json:"group,omitempty"`
}

// TimeoutConfig contains timeout settings
type TimeoutConfig struct {
	// Read timeout
	Read time.Duration `yaml:"read" json:"read"`

	// Write timeout
	Write time.Duration `yaml:"write" json:"write"`

	// Dial timeout
	Dial time.Duration `yaml:"dial" json:"dial"`
}

// TimerConfig contains timer service settings
type TimerConfig struct {
	// Name the timer service registers under
	RegisterName string `yaml:"register_name" json:"register_name"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "strand-app",
			Version:     "1.0.0",
			Environment: EnvDevelopment,
			Debug:       true,
			Description: "strand application",
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "text",
			Output: "stdout",
		},
		Runtime: RuntimeConfig{
			Boot:            "launcher",
			ShutdownTimeout: 30 * time.Second,
		},
		Network: NetworkConfig{
			TCP: TCPConfig{
				Address:           "0.0.0.0",
				Port:              8080,
				KeepAlive:         true,
				KeepAliveInterval: 60 * time.Second,
				MaxConnections:    1000,
				MaxSessions:       4096,
			},
			UDP: UDPConfig{
				Address: "0.0.0.0",
				Port:    8081,
			},
			Timeouts: TimeoutConfig{
				Dial: 10 * time.Second,
			},
		},
		Timer: TimerConfig{
			RegisterName: "Timer",
		},
		Services: make(map[string]interface{}),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate app config
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}

	// Validate log config
	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return ErrInvalidLogFormat
	}

	// Validate runtime config
	if c.Runtime.Threads < 0 || c.Runtime.NetThreads < 0 {
		return ErrInvalidThreads
	}
	if c.Runtime.Boot == "" {
		return ErrInvalidBoot
	}

	// Validate network config
	if c.Network.TCP.Port < 0 || c.Network.TCP.Port > 65535 {
		return ErrInvalidPort
	}
	if c.Network.UDP.Port < 0 || c.Network.UDP.Port > 65535 {
		return ErrInvalidPort
	}
	if c.Network.TCP.MaxConnections < 0 {
		return ErrInvalidMaxConnections
	}
	if c.Network.TCP.MaxSessions <= 0 || c.Network.TCP.MaxSessions > 4096 {
		return ErrInvalidMaxSessions
	}

	return nil
}

// Settings flattens the runtime keys and the per-service settings into
// the map a Context reads with Config.
func (c *Config) Settings() map[string]interface{} {
	settings := make(map[string]interface{}, len(c.Services)+2)
	for k, v := range c.Services {
		settings[k] = v
	}
	if _, ok := settings["boot"]; !ok {
		settings["boot"] = c.Runtime.Boot
	}
	if _, ok := settings["timer"]; !ok && c.Timer.RegisterName != "" {
		settings["timer"] = map[string]interface{}{"register_name": c.Timer.RegisterName}
	}
	return settings
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// GetLogLevel returns the log level
func (c *Config) GetLogLevel() LogLevel {
	return c.Log.Level
}

// IsDebugEnabled returns true if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.App.Environment == EnvDevelopment
}
