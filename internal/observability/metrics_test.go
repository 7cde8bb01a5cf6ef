package observability

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics()
	m.ObserveChatTurn("ok", 1500*time.Millisecond)
	m.ObserveChatTurn("partial", time.Second)
	m.ObserveGeneration("mock/mock-1", "ok", 10, 4)
	m.IncToolCall("mcp", "ok")
	m.IncToolCall("mcp", "ok")
	m.ObserveAPI("POST", "/api/chat", "200", 20*time.Millisecond)

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`chorus_chat_turns_total{outcome="ok"} 1`,
		`chorus_chat_turns_total{outcome="partial"} 1`,
		`chorus_chat_turn_duration_seconds_bucket{outcome="ok",le="2"} 1`,
		`chorus_chat_tokens_total{model="mock/mock-1",kind="input"} 10`,
		`chorus_chat_tool_calls_total{source="mcp",status="ok"} 2`,
		`chorus_api_requests_total{method="POST",route="/api/chat",status="200"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveChatTurn("ok", time.Second)
	m.IncStopRequest(true)
	if err := m.WritePrometheus(&bytes.Buffer{}); err != nil {
		t.Fatalf("nil metrics: %v", err)
	}
}

func TestLabelStringEscapes(t *testing.T) {
	got := labelString([]string{"a", "b"}, []string{`x"y`})
	if got != `{a="x\"y",b="unknown"}` {
		t.Fatalf("labelString: got=%s", got)
	}
}
