package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/expression-portal-server/internal/domain"
)

// EnvPrefix prefixes every environment variable read by the manager.
const EnvPrefix = "PORTAL"

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v          *viper.Viper
	configFile string
	config     *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	return NewManagerFromFile("")
}

// NewManagerFromFile creates a configuration manager reading an explicit config file. An empty path
// searches the default locations, where a missing file is not an error.
func NewManagerFromFile(path string) (*Manager, error) {
	m := &Manager{configFile: path}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from defaults, the optional config file and the environment
func (m *Manager) loadConfig() error {
	v := viper.New()

	if m.configFile != "" {
		v.SetConfigFile(m.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/expression-portal/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The key is also read from the variable names the Gemini tooling uses.
	if err := v.BindEnv("insight.api_key", EnvPrefix+"_INSIGHT_API_KEY", "API_KEY", "GEMINI_API_KEY"); err != nil {
		return fmt.Errorf("error binding api key: %w", err)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if m.configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "45s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Insight defaults
	v.SetDefault("insight.api_key", "")
	v.SetDefault("insight.model", "gemini-3-flash-preview")
	v.SetDefault("insight.timeout", "30s")
	v.SetDefault("insight.rate_limit", 2.0)
	v.SetDefault("insight.burst", 4)
	v.SetDefault("insight.breaker.max_requests", 1)
	v.SetDefault("insight.breaker.interval", "60s")
	v.SetDefault("insight.breaker.timeout", "30s")
	v.SetDefault("insight.breaker.min_requests", 3)
	v.SetDefault("insight.breaker.failure_ratio", 0.6)

	// Session defaults
	v.SetDefault("session.max_sessions", 1000)
	v.SetDefault("session.ttl", "2h")
	v.SetDefault("session.cookie_name", "portal_session")

	// Synthetic data defaults
	v.SetDefault("synth.seed", 0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// MCP defaults
	v.SetDefault("mcp.server_name", "expression-portal")
	v.SetDefault("mcp.server_version", "1.0.0")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetInsightConfig returns insight client configuration
func (m *Manager) GetInsightConfig() *domain.InsightConfig {
	return &m.config.Insight
}

// GetSessionConfig returns session store configuration
func (m *Manager) GetSessionConfig() *domain.SessionConfig {
	return &m.config.Session
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server request timeout must be positive")
	}

	if config.Insight.Timeout <= 0 {
		return fmt.Errorf("insight timeout must be positive")
	}
	if config.Insight.RateLimit < 0 {
		return fmt.Errorf("invalid insight rate limit: %v", config.Insight.RateLimit)
	}
	if r := config.Insight.Breaker.FailureRatio; r <= 0 || r > 1 {
		return fmt.Errorf("invalid breaker failure ratio: %v", r)
	}

	if config.Session.MaxSessions <= 0 {
		return fmt.Errorf("session max_sessions must be positive")
	}
	if config.Session.TTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	if config.Session.CookieName == "" {
		return fmt.Errorf("session cookie name is required")
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}
	if f := strings.ToLower(config.Logging.Format); f != "json" && f != "text" {
		return fmt.Errorf("invalid log format: %s", config.Logging.Format)
	}

	return nil
}

// HasInsightKey reports whether a generative-language API key is configured.
func (m *Manager) HasInsightKey() bool {
	return m.config.Insight.APIKey != ""
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}
