package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bryanchriswhite/browsercast/internal/logger"
	"gopkg.in/yaml.v3"
)

// CaptureMode selects how frames are pulled out of the browser
type CaptureMode string

const (
	// CaptureModePoll captures screenshots on a fixed tick
	CaptureModePoll CaptureMode = "poll"
	// CaptureModePush uses the browser's native screencast feed
	CaptureModePush CaptureMode = "push"
)

// BrowserConfig holds the settings handed to the rendering backend
type BrowserConfig struct {
	ExecPath            string `json:"exec_path" yaml:"exec_path"`
	LandingURL          string `json:"landing_url" yaml:"landing_url"`
	ViewportWidth       int    `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight      int    `json:"viewport_height" yaml:"viewport_height"`
	NavigationTimeoutMs int    `json:"navigation_timeout_ms" yaml:"navigation_timeout_ms"`
	CommandTimeoutMs    int    `json:"command_timeout_ms" yaml:"command_timeout_ms"`
	FailureThreshold    int    `json:"failure_threshold" yaml:"failure_threshold"`
}

// NavigationTimeout returns the navigation timeout as a duration
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return time.Duration(b.NavigationTimeoutMs) * time.Millisecond
}

// CommandTimeout returns the per-command timeout as a duration
func (b BrowserConfig) CommandTimeout() time.Duration {
	return time.Duration(b.CommandTimeoutMs) * time.Millisecond
}

// CaptureConfig holds frame acquisition settings
type CaptureConfig struct {
	Mode                CaptureMode `json:"mode" yaml:"mode"`
	TickIntervalMs      int         `json:"tick_interval_ms" yaml:"tick_interval_ms"`
	Quality             int         `json:"quality" yaml:"quality"`
	SimilarityTolerance int         `json:"similarity_tolerance" yaml:"similarity_tolerance"`
}

// TickInterval returns the poll interval as a duration
func (c CaptureConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

// StreamConfig holds viewer-facing streaming settings
type StreamConfig struct {
	QueueDepth int `json:"queue_depth" yaml:"queue_depth"`
}

// Config represents the application configuration
type Config struct {
	ServerPort int           `json:"server_port" yaml:"server_port"`
	LogLevel   string        `json:"log_level" yaml:"log_level"`
	Browser    BrowserConfig `json:"browser" yaml:"browser"`
	Capture    CaptureConfig `json:"capture" yaml:"capture"`
	Stream     StreamConfig  `json:"stream" yaml:"stream"`
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager. An empty configFile falls
// back to ~/.config/browsercast/config.yaml, created with defaults if absent.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir := filepath.Join(homeDir, ".config", "browsercast")
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
		actualConfigPath = filepath.Join(configDir, "config.yaml")
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := m.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("capture_mode", string(m.config.Capture.Mode)).
		Msg("Config loaded")

	return m, nil
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		Browser: BrowserConfig{
			ExecPath:            "",
			LandingURL:          "https://duckduckgo.com",
			ViewportWidth:       1280,
			ViewportHeight:      720,
			NavigationTimeoutMs: 20000,
			CommandTimeoutMs:    5000,
			FailureThreshold:    5,
		},
		Capture: CaptureConfig{
			Mode:                CaptureModePoll,
			TickIntervalMs:      33,
			Quality:             80,
			SimilarityTolerance: 64,
		},
		Stream: StreamConfig{
			QueueDepth: 8,
		},
	}
}

// Validate checks the configuration for values the runtime cannot work with
func (c *Config) Validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("server_port %d out of range", c.ServerPort)
	}
	if c.Capture.Mode != CaptureModePoll && c.Capture.Mode != CaptureModePush {
		return fmt.Errorf("capture mode %q not recognized (want %q or %q)",
			c.Capture.Mode, CaptureModePoll, CaptureModePush)
	}
	if c.Capture.Quality < 1 || c.Capture.Quality > 100 {
		return fmt.Errorf("capture quality %d out of range 1-100", c.Capture.Quality)
	}
	if c.Capture.TickIntervalMs <= 0 {
		return fmt.Errorf("tick_interval_ms must be positive, got %d", c.Capture.TickIntervalMs)
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("viewport %dx%d invalid",
			c.Browser.ViewportWidth, c.Browser.ViewportHeight)
	}
	if c.Stream.QueueDepth <= 0 {
		return fmt.Errorf("stream queue_depth must be positive, got %d", c.Stream.QueueDepth)
	}
	return nil
}

// load reads the config file from disk
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Save writes the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	data, err := yaml.Marshal(m.config)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.config
}

// GetConfigPath returns the path of the loaded config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// SetPort overrides the server port
func (m *Manager) SetPort(port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.ServerPort = port
}

// SetLogLevel overrides the log level
func (m *Manager) SetLogLevel(level string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.LogLevel = level
}

// SetChromePath overrides the browser executable location
func (m *Manager) SetChromePath(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.Browser.ExecPath = path
}

// SetLandingURL overrides the default landing address
func (m *Manager) SetLandingURL(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.Browser.LandingURL = url
}

// SetCaptureMode overrides the capture mode
func (m *Manager) SetCaptureMode(mode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.Capture.Mode = CaptureMode(mode)
}
