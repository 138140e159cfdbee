package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	HTTP    HTTPConfig    `yaml:"http"`
	Stream  StreamConfig  `yaml:"stream"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains TCP listener configuration
type ServerConfig struct {
	BindAddress    string `yaml:"bind_address"`
	Port           int    `yaml:"port"`
	AcceptTimeout  int    `yaml:"accept_timeout"`   // seconds
	ReadTimeout    int    `yaml:"read_timeout"`     // seconds
	ReadBufferSize int    `yaml:"read_buffer_size"` // bytes
}

// HTTPConfig contains the monitoring HTTP API configuration
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// StreamConfig contains stream health tracking parameters
type StreamConfig struct {
	FPSWindow    float64 `yaml:"fps_window"`    // seconds
	StaleTimeout float64 `yaml:"stale_timeout"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the built-in configuration: listen on all interfaces on
// port 5000, monitoring API on localhost, 1-second fps windows and a
// 2-second staleness threshold.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:    "0.0.0.0",
			Port:           5000,
			AcceptTimeout:  1,
			ReadTimeout:    5,
			ReadBufferSize: 512 * 1024,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Address: "127.0.0.1",
			Port:    8080,
		},
		Stream: StreamConfig{
			FPSWindow:    1.0,
			StaleTimeout: 2.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file. Fields absent from the file
// keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.AcceptTimeout < 1 {
		return fmt.Errorf("accept_timeout must be at least 1 second, got %d", s.AcceptTimeout)
	}

	if s.ReadTimeout < 1 {
		return fmt.Errorf("read_timeout must be at least 1 second, got %d", s.ReadTimeout)
	}

	if s.ReadBufferSize < 4096 {
		return fmt.Errorf("read_buffer_size must be at least 4096 bytes, got %d", s.ReadBufferSize)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates stream tracking configuration
func (s *StreamConfig) Validate() error {
	if s.FPSWindow <= 0 {
		return fmt.Errorf("fps_window must be positive, got %f", s.FPSWindow)
	}

	if s.StaleTimeout <= s.FPSWindow {
		return fmt.Errorf("stale_timeout (%f) must be greater than fps_window (%f)",
			s.StaleTimeout, s.FPSWindow)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Output accepts stdout, stderr, or a file path; nothing to reject here.
	return nil
}

// ListenAddr returns the TCP listen address in host:port form.
func (s *ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.BindAddress, s.Port)
}

// GetAcceptTimeout returns the accept timeout as a time.Duration
func (s *ServerConfig) GetAcceptTimeout() time.Duration {
	return time.Duration(s.AcceptTimeout) * time.Second
}

// GetReadTimeout returns the per-connection read timeout as a time.Duration
func (s *ServerConfig) GetReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// GetFPSWindow returns the fps window as a time.Duration
func (s *StreamConfig) GetFPSWindow() time.Duration {
	return time.Duration(s.FPSWindow * float64(time.Second))
}

// GetStaleTimeout returns the staleness threshold as a time.Duration
func (s *StreamConfig) GetStaleTimeout() time.Duration {
	return time.Duration(s.StaleTimeout * float64(time.Second))
}
