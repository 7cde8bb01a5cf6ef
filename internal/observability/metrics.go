package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/chorus-backend/internal/platform/envutil"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
)

// Metrics holds the process counters for the chat API. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge

	turns        *CounterVec
	turnLatency  *HistogramVec
	generations  *CounterVec
	tokens       *CounterVec
	toolCalls    *CounterVec
	stopRequests *CounterVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

// Current returns the process metrics, or nil when Init was not called.
func Current() *Metrics {
	return instance
}

func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = NewMetrics()
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

// NewMetrics builds an unregistered set. Init is the process-wide entry point.
func NewMetrics() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("chorus_api_requests_total", "API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"chorus_api_request_duration_seconds",
			"API request latency in seconds by method/route.",
			[]string{"method", "route"},
			[]float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 120},
		),
		apiInflight: NewGauge("chorus_api_inflight_requests", "In-flight API requests."),

		turns: NewCounterVec("chorus_chat_turns_total", "Chat turns by outcome (ok, partial, failed).", []string{"outcome"}),
		turnLatency: NewHistogramVec(
			"chorus_chat_turn_duration_seconds",
			"Wall time of a chat turn until persistence.",
			[]string{"outcome"},
			[]float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		),
		generations:  NewCounterVec("chorus_chat_generations_total", "Per-agent generations by model/status.", []string{"model", "status"}),
		tokens:       NewCounterVec("chorus_chat_tokens_total", "Tokens by model/kind.", []string{"model", "kind"}),
		toolCalls:    NewCounterVec("chorus_chat_tool_calls_total", "Tool executions by source/status.", []string{"source", "status"}),
		stopRequests: NewCounterVec("chorus_chat_stop_requests_total", "Stop signals by whether a local run was cancelled.", []string{"cancelled"}),
	}
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	writers := []interface{ WritePrometheus(io.Writer) error }{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.turns, m.turnLatency, m.generations, m.tokens, m.toolCalls, m.stopRequests,
	}
	for _, wr := range writers {
		if err := wr.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route)
}

func (m *Metrics) APIInflight(delta float64) {
	if m == nil {
		return
	}
	m.apiInflight.Add(delta)
}

// ObserveChatTurn records a finished turn. outcome is "ok", "partial" or "failed".
func (m *Metrics) ObserveChatTurn(outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.turns.Inc(outcome)
	m.turnLatency.Observe(dur.Seconds(), outcome)
}

func (m *Metrics) ObserveGeneration(model, status string, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.generations.Inc(model, status)
	m.tokens.Add(float64(inputTokens), model, "input")
	m.tokens.Add(float64(outputTokens), model, "output")
}

func (m *Metrics) IncToolCall(source, status string) {
	if m == nil {
		return
	}
	m.toolCalls.Inc(source, status)
}

func (m *Metrics) IncStopRequest(cancelled bool) {
	if m == nil {
		return
	}
	v := "false"
	if cancelled {
		v = "true"
	}
	m.stopRequests.Inc(v)
}
