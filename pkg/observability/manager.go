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

package observability

import (
	"context"
	"fmt"
	"log/slog"
)

// Manager owns the lifecycle of the Tracer and Recorder a process
// constructs once at startup and threads through the turn engine.
type Manager struct {
	Tracer   *Tracer
	Recorder Recorder
}

// NewManager builds a Manager from cfg. A nil cfg, or one with both
// sub-configs disabled, yields a fully no-op Manager.
func NewManager(ctx context.Context, cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("observability: invalid config: %w", err)
	}

	tracer, err := NewTracer(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("observability: init tracer: %w", err)
	}
	if cfg.Tracing.Enabled {
		slog.Info("observability: tracing initialized", "endpoint", cfg.Tracing.Endpoint, "sampling_rate", cfg.Tracing.SamplingRate)
	}

	var recorder Recorder = NoopRecorder{}
	if cfg.Metrics.Enabled {
		recorder = NewMetrics()
		slog.Info("observability: metrics initialized")
	}

	return &Manager{Tracer: tracer, Recorder: recorder}, nil
}

// NoopManager returns a Manager that does nothing, for code paths that
// need a non-nil Manager without running NewManager's config dance.
func NoopManager() *Manager {
	provider, _ := NewTracer(context.Background(), TracingConfig{})
	return &Manager{Tracer: provider, Recorder: NoopRecorder{}}
}

// Shutdown releases the tracer's exporter, if any.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.Tracer == nil {
		return nil
	}
	return m.Tracer.Shutdown(ctx)
}
