/*
 * Copyright (c) 2026, the policy-gate authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a valid configuration for testing
func validConfig() *Config {
	return &Config{
		PolicyGate: PolicyGate{
			Server: Server{
				Port:         8080,
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
			},
			Admin: Admin{
				Enabled:    true,
				Port:       9002,
				AllowedIPs: []string{"127.0.0.1"},
			},
			Metrics: Metrics{
				Enabled: false,
				Port:    9003,
			},
			Filter: Filter{
				DecisionService: "decision-service:9091",
				CheckTimeout:    5 * time.Second,
			},
			Routes: Routes{
				Path: "configs/routes.yaml",
			},
			Logging: Logging{
				Level:  "info",
				Format: "json",
			},
		},
	}
}

// TestValidate_ValidConfig tests that a valid configuration passes validation
func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	err := cfg.Validate()
	assert.NoError(t, err)
}

// TestValidate_ServerPort tests listener port validation
func TestValidate_ServerPort(t *testing.T) {
	tests := []struct {
		name      string
		port      int
		expectErr bool
		errMsg    string
	}{
		{
			name:      "valid port",
			port:      8080,
			expectErr: false,
		},
		{
			name:      "minimum valid port",
			port:      1,
			expectErr: false,
		},
		{
			name:      "maximum valid port",
			port:      65535,
			expectErr: false,
		},
		{
			name:      "zero port",
			port:      0,
			expectErr: true,
			errMsg:    "invalid server.port",
		},
		{
			name:      "negative port",
			port:      -1,
			expectErr: true,
			errMsg:    "invalid server.port",
		},
		{
			name:      "port exceeds maximum",
			port:      65536,
			expectErr: true,
			errMsg:    "invalid server.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.PolicyGate.Server.Port = tt.port

			err := cfg.Validate()
			if tt.expectErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestValidate_AdminConfig tests admin server validation
func TestValidate_AdminConfig(t *testing.T) {
	tests := []struct {
		name      string
		enabled   bool
		port      int
		expectErr bool
	}{
		{
			name:      "enabled with valid port",
			enabled:   true,
			port:      9002,
			expectErr: false,
		},
		{
			name:      "enabled with invalid port",
			enabled:   true,
			port:      0,
			expectErr: true,
		},
		{
			name:      "disabled ignores invalid port",
			enabled:   false,
			port:      0,
			expectErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.PolicyGate.Admin.Enabled = tt.enabled
			cfg.PolicyGate.Admin.Port = tt.port

			err := cfg.Validate()
			if tt.expectErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "invalid admin.port")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestValidate_MetricsConfig tests metrics server validation
func TestValidate_MetricsConfig(t *testing.T) {
	cfg := validConfig()
	cfg.PolicyGate.Metrics.Enabled = true
	cfg.PolicyGate.Metrics.Port = 0
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid metrics.port")

	cfg.PolicyGate.Metrics.Enabled = false
	assert.NoError(t, cfg.Validate())
}

// TestValidate_LoggingConfig tests logging level and format validation
func TestValidate_LoggingConfig(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		expectErr bool
	}{
		{name: "debug json", level: "debug", format: "json"},
		{name: "info text", level: "info", format: "text"},
		{name: "warn json", level: "warn", format: "json"},
		{name: "error text", level: "error", format: "text"},
		{name: "invalid level", level: "verbose", format: "json", expectErr: true},
		{name: "empty level", level: "", format: "json", expectErr: true},
		{name: "invalid format", level: "info", format: "logfmt", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.PolicyGate.Logging.Level = tt.level
			cfg.PolicyGate.Logging.Format = tt.format

			err := cfg.Validate()
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestValidate_CheckTimeout tests the filter check timeout bound
func TestValidate_CheckTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.PolicyGate.Filter.CheckTimeout = -1 * time.Second
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "check_timeout")

	cfg.PolicyGate.Filter.CheckTimeout = 0
	assert.NoError(t, cfg.Validate())
}

// TestValidate_SamplingRate tests the tracing sampling rate bounds
func TestValidate_SamplingRate(t *testing.T) {
	tests := []struct {
		name      string
		rate      float64
		expectErr bool
	}{
		{name: "zero", rate: 0},
		{name: "half", rate: 0.5},
		{name: "one", rate: 1},
		{name: "negative", rate: -0.1, expectErr: true},
		{name: "above one", rate: 1.1, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.PolicyGate.Tracing.SamplingRate = tt.rate

			err := cfg.Validate()
			if tt.expectErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "sampling_rate")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestLoad_ValidConfigFile tests loading a complete TOML file
func TestLoad_ValidConfigFile(t *testing.T) {
	configContent := `
[policy_gate.server]
port = 8085
read_timeout = "10s"
write_timeout = "20s"

[policy_gate.filter]
decision_service = "localhost:9091"
check_timeout = "2s"

[policy_gate.filter.static_attributes]
mesh = "edge"

[policy_gate.filter.forward_attributes]
source = "gateway"

[policy_gate.routes]
path = "testdata/routes.yaml"

[policy_gate.logging]
level = "debug"
format = "text"
`
	configPath := filepath.Join(t.TempDir(), "config.toml")
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8085, cfg.PolicyGate.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.PolicyGate.Server.ReadTimeout)
	assert.Equal(t, 20*time.Second, cfg.PolicyGate.Server.WriteTimeout)
	assert.Equal(t, "localhost:9091", cfg.PolicyGate.Filter.DecisionService)
	assert.Equal(t, 2*time.Second, cfg.PolicyGate.Filter.CheckTimeout)
	assert.Equal(t, map[string]string{"mesh": "edge"}, cfg.PolicyGate.Filter.StaticAttributes)
	assert.Equal(t, map[string]string{"source": "gateway"}, cfg.PolicyGate.Filter.ForwardAttributes)
	assert.Equal(t, "testdata/routes.yaml", cfg.PolicyGate.Routes.Path)
	assert.Equal(t, "debug", cfg.PolicyGate.Logging.Level)
	assert.Equal(t, "text", cfg.PolicyGate.Logging.Format)

	// Untouched sections keep their defaults
	assert.Equal(t, 9002, cfg.PolicyGate.Admin.Port)
	assert.False(t, cfg.PolicyGate.Metrics.Enabled)
}

// TestLoad_EmptyPath tests that an empty path yields the defaults
func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

// TestLoad_NonExistentFile tests loading a missing file
func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")
}

// TestLoad_InvalidTOML tests loading a malformed file
func TestLoad_InvalidTOML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	err := os.WriteFile(configPath, []byte("[policy_gate.server\nport = 1"), 0644)
	require.NoError(t, err)

	_, err = Load(configPath)
	assert.Error(t, err)
}

// TestLoad_InvalidConfig tests that validation runs on loaded files
func TestLoad_InvalidConfig(t *testing.T) {
	configContent := `
[policy_gate.logging]
level = "verbose"
`
	configPath := filepath.Join(t.TempDir(), "config.toml")
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	_, err = Load(configPath)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

// TestLoad_EnvOverride tests environment variable overrides
func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("POLICY_GATE_POLICY__GATE_LOGGING_LEVEL", "debug")
	t.Setenv("POLICY_GATE_POLICY__GATE_SERVER_PORT", "8099")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.PolicyGate.Logging.Level)
	assert.Equal(t, 8099, cfg.PolicyGate.Server.Port)
}

// TestDefaultConfig tests that the built-in defaults validate
func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.PolicyGate.Server.Port)
	assert.Equal(t, "info", cfg.PolicyGate.Logging.Level)
	assert.Equal(t, "json", cfg.PolicyGate.Logging.Format)
	assert.Equal(t, 5*time.Second, cfg.PolicyGate.Filter.CheckTimeout)
}
