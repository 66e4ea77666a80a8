// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package observability wires OpenTelemetry tracing and Prometheus
// metrics around the turn engine, tool execution, and model calls,
// degrading to a no-op implementation when unconfigured.
package observability

import "errors"

var errInvalidSamplingRate = errors.New("observability: sampling_rate must be between 0 and 1")

// TracingConfig configures the OTLP span exporter.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	ServiceName  string  `yaml:"service_name"`
}

// MetricsConfig configures the Prometheus registry/HTTP handler.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Config is the top-level observability configuration.
type Config struct {
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// SetDefaults fills unset fields with sensible defaults, mirroring the
// teacher's SetDefaults/Validate config pair convention.
func (c *Config) SetDefaults() {
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "cortex-agent"
	}
	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = 1.0
	}
}

// Validate rejects an out-of-range configuration.
func (c *Config) Validate() error {
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return errInvalidSamplingRate
	}
	return nil
}
