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
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface the turn engine, tool registry, and
// LLM client report against. NoopRecorder satisfies it with no-ops.
type Recorder interface {
	RecordTurn(conversationID string, duration time.Duration, outcome string)
	RecordModelCall(provider, model string, duration time.Duration, inputTokens, outputTokens int)
	RecordToolCall(toolName string, duration time.Duration, outcome string)
	Handler() http.Handler
}

// Metrics is the Prometheus-backed Recorder.
type Metrics struct {
	registry *prometheus.Registry

	turns            *prometheus.CounterVec
	turnDuration     *prometheus.HistogramVec
	modelCalls       *prometheus.CounterVec
	modelDuration    *prometheus.HistogramVec
	modelTokensIn    *prometheus.CounterVec
	modelTokensOut   *prometheus.CounterVec
	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
}

// NewMetrics builds and registers every Prometheus collector against a
// fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cortex_turns_total", Help: "Total turns run, by outcome.",
		}, []string{"outcome"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "cortex_turn_duration_seconds", Help: "Turn duration.",
		}, []string{"outcome"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cortex_model_calls_total", Help: "LLM completion calls.",
		}, []string{"provider", "model"}),
		modelDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "cortex_model_call_duration_seconds", Help: "LLM completion call duration.",
		}, []string{"provider", "model"}),
		modelTokensIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cortex_model_input_tokens_total", Help: "Input tokens sent to the model.",
		}, []string{"provider", "model"}),
		modelTokensOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cortex_model_output_tokens_total", Help: "Output tokens received from the model.",
		}, []string{"provider", "model"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cortex_tool_calls_total", Help: "Tool invocations, by outcome.",
		}, []string{"tool", "outcome"}),
		toolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "cortex_tool_call_duration_seconds", Help: "Tool invocation duration.",
		}, []string{"tool"}),
	}
	reg.MustRegister(m.turns, m.turnDuration, m.modelCalls, m.modelDuration, m.modelTokensIn, m.modelTokensOut, m.toolCalls, m.toolCallDuration)
	return m
}

func (m *Metrics) RecordTurn(_ string, duration time.Duration, outcome string) {
	m.turns.WithLabelValues(outcome).Inc()
	m.turnDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *Metrics) RecordModelCall(provider, model string, duration time.Duration, inputTokens, outputTokens int) {
	m.modelCalls.WithLabelValues(provider, model).Inc()
	m.modelDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	m.modelTokensIn.WithLabelValues(provider, model).Add(float64(inputTokens))
	m.modelTokensOut.WithLabelValues(provider, model).Add(float64(outputTokens))
}

func (m *Metrics) RecordToolCall(toolName string, duration time.Duration, outcome string) {
	m.toolCalls.WithLabelValues(toolName, outcome).Inc()
	m.toolCallDuration.WithLabelValues(toolName).Observe(duration.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NoopRecorder discards every measurement, used when metrics are
// disabled.
type NoopRecorder struct{}

func (NoopRecorder) RecordTurn(string, time.Duration, string)                       {}
func (NoopRecorder) RecordModelCall(string, string, time.Duration, int, int)        {}
func (NoopRecorder) RecordToolCall(string, time.Duration, string)                   {}
func (NoopRecorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("metrics not enabled"))
	})
}

var (
	_ Recorder = (*Metrics)(nil)
	_ Recorder = NoopRecorder{}
)
