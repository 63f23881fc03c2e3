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

// Package config loads and validates the process configuration from a TOML
// file with POLICY_GATE_ environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables that override file
// configuration, e.g. POLICY_GATE_POLICY_GATE.SERVER.PORT.
const EnvPrefix = "POLICY_GATE_"

// Config is the root configuration.
type Config struct {
	PolicyGate PolicyGate `koanf:"policy_gate"`
}

// PolicyGate groups the engine configuration.
type PolicyGate struct {
	Server  Server  `koanf:"server"`
	Admin   Admin   `koanf:"admin"`
	Metrics Metrics `koanf:"metrics"`
	Filter  Filter  `koanf:"filter"`
	Routes  Routes  `koanf:"routes"`
	Logging Logging `koanf:"logging"`
	Tracing Tracing `koanf:"tracing"`
}

// Server configures the listener the host proxy serves on.
type Server struct {
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// Admin configures the admin HTTP server.
type Admin struct {
	Enabled    bool     `koanf:"enabled"`
	Port       int      `koanf:"port"`
	AllowedIPs []string `koanf:"allowed_ips"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Enabled bool `koanf:"enabled"`
	Port    int  `koanf:"port"`
}

// Filter configures the policy filter shared across all requests on the
// listener. DecisionService is required; its absence is surfaced at filter
// construction time, not here, so that a misconfigured process still starts.
type Filter struct {
	DecisionService   string            `koanf:"decision_service"`
	StaticAttributes  map[string]string `koanf:"static_attributes"`
	ForwardAttributes map[string]string `koanf:"forward_attributes"`
	CheckTimeout      time.Duration     `koanf:"check_timeout"`
}

// Routes points at the route table file.
type Routes struct {
	Path string `koanf:"path"`
}

// Logging configures the process-wide logger.
type Logging struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Tracing configures the OpenTelemetry exporter.
type Tracing struct {
	Enabled            bool          `koanf:"enabled"`
	Endpoint           string        `koanf:"endpoint"`
	Insecure           bool          `koanf:"insecure"`
	ServiceName        string        `koanf:"service_name"`
	ServiceVersion     string        `koanf:"service_version"`
	SamplingRate       float64       `koanf:"sampling_rate"`
	BatchTimeout       time.Duration `koanf:"batch_timeout"`
	MaxExportBatchSize int           `koanf:"max_export_batch_size"`
}

// Default returns the built-in configuration. File and environment values
// are merged on top of it.
func Default() *Config {
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
				CheckTimeout: 5 * time.Second,
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

// Load reads the TOML file at path, applies POLICY_GATE_ environment
// overrides and validates the result. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ToLower(s)

		// A double underscore is a literal underscore inside a key; a
		// single underscore separates nesting levels.
		s = strings.ReplaceAll(s, "__", "%UNDERSCORE%")
		s = strings.ReplaceAll(s, "_", ".")
		s = strings.ReplaceAll(s, "%UNDERSCORE%", "_")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work at all.
func (c *Config) Validate() error {
	pg := &c.PolicyGate

	if err := validatePort("server.port", pg.Server.Port); err != nil {
		return err
	}
	if pg.Admin.Enabled {
		if err := validatePort("admin.port", pg.Admin.Port); err != nil {
			return err
		}
	}
	if pg.Metrics.Enabled {
		if err := validatePort("metrics.port", pg.Metrics.Port); err != nil {
			return err
		}
	}

	switch pg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q: must be one of debug, info, warn, error", pg.Logging.Level)
	}
	switch pg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging.format %q: must be json or text", pg.Logging.Format)
	}

	if pg.Filter.CheckTimeout < 0 {
		return fmt.Errorf("invalid filter.check_timeout %v: must not be negative", pg.Filter.CheckTimeout)
	}
	if pg.Tracing.SamplingRate < 0 || pg.Tracing.SamplingRate > 1 {
		return fmt.Errorf("invalid tracing.sampling_rate %v: must be within [0, 1]", pg.Tracing.SamplingRate)
	}
	return nil
}

func validatePort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid %s %d: must be between 1 and 65535", name, port)
	}
	return nil
}
