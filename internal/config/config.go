// Package config loads and validates the application configuration,
// including the clinical parameter tables every case depends on. All
// validation happens here, at load time: a missing per-drug field is a
// case-blocking error, never a tick-time fault.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/noa-infusion-supervisor/internal/domain"
)

// Manager loads configuration using Viper and holds the validated clinical
// parameter snapshot for the lifetime of the process.
type Manager struct {
	config *domain.Config
	params *domain.ClinicalParameters
}

// NewManager creates a configuration manager from the default search paths.
func NewManager() (*Manager, error) {
	return NewManagerFromFile("")
}

// NewManagerFromFile creates a configuration manager from an explicit file
// path. An empty path falls back to the default search paths.
func NewManagerFromFile(path string) (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(path); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from file and environment sources.
func (m *Manager) loadConfig(path string) error {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/noa-supervisor/")
	}

	v.SetEnvPrefix("NOA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Unlike server settings, the clinical tables have no defaults: the
	// file must be present and complete.
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	params, err := config.ClinicalParameters()
	if err != nil {
		return fmt.Errorf("invalid clinical parameters: %w", err)
	}

	m.config = config
	m.params = params
	return nil
}

// setDefaults sets default values for the non-clinical sections.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.rate_limit", 50)
	v.SetDefault("server.rate_burst", 100)

	// Control loop defaults: 1-second tick cadence, matching the PK
	// integration step the intervention thresholds were tuned for.
	v.SetDefault("case.tick_period", "1s")
	v.SetDefault("case.vitals_failure_trip_at", 3)
	v.SetDefault("case.vitals_recovery_timeout", "5s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// GetConfig returns the complete configuration.
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns the HTTP server configuration.
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetCaseConfig returns the per-case control loop configuration.
func (m *Manager) GetCaseConfig() *domain.CaseConfig {
	return &m.config.Case
}

// ClinicalParameters returns the validated clinical parameter snapshot.
// The snapshot is immutable and safe to share read-only across cases.
func (m *Manager) ClinicalParameters() *domain.ClinicalParameters {
	return m.params
}

// Validate validates the non-clinical configuration sections. Clinical
// parameter validation already happened during load.
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Case.TickPeriod <= 0 {
		return fmt.Errorf("invalid tick period: %v", config.Case.TickPeriod)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}
	if f := strings.ToLower(config.Logging.Format); f != "json" && f != "text" {
		return fmt.Errorf("invalid log format: %s", config.Logging.Format)
	}

	return nil
}
