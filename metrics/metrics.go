// Package metrics holds the Prometheus collectors for generation traffic.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "webforge"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	promptTokens    *prometheus.HistogramVec
	projectWrites   *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "requests_total",
				Help:      "Total number of requests to the generation service.",
			},
			[]string{"provider", "model", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "request_duration_seconds",
				Help:      "Generation request durations.",
				Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 80},
			},
			[]string{"provider", "model"},
		),
		promptTokens: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "prompt_tokens",
				Help:      "Estimated token count of outbound prompts.",
				Buckets:   prometheus.LinearBuckets(250, 250, 20),
			},
			[]string{"model"},
		),
		projectWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "projects",
				Name:      "writes_total",
				Help:      "Project store writes by operation and outcome.",
			},
			[]string{"op", "status"},
		),
	}
	for _, c := range []prometheus.Collector{m.requestsTotal, m.requestDuration, m.promptTokens, m.projectWrites} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveRequest records one call to the generation service.
func (m *Metrics) ObserveRequest(provider, model, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(provider, model, status).Inc()
	m.requestDuration.WithLabelValues(provider, model).Observe(d.Seconds())
}

// ObservePrompt records the estimated size of an outbound prompt.
func (m *Metrics) ObservePrompt(model string, texts ...string) {
	if m == nil {
		return
	}
	n := 0
	for _, t := range texts {
		n += CountTokens(t)
	}
	m.promptTokens.WithLabelValues(model).Observe(float64(n))
}

// ObserveProjectWrite records a project store mutation.
func (m *Metrics) ObserveProjectWrite(op string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.projectWrites.WithLabelValues(op, status).Inc()
}

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// CountTokens estimates tokens with the cl100k_base encoding. The BPE ranks
// are embedded, so counting never touches the network. When the encoding
// cannot be loaded it falls back to roughly four bytes per token.
func CountTokens(text string) int {
	encOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	if enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (len(strings.TrimSpace(text)) + 3) / 4
}
