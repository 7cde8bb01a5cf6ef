package config

import (
	"strings"
	"testing"
	"time"
)

func TestParseYAML(t *testing.T) {
	doc := `
default_model:
  provider: local
  model: small
models:
  - provider: local
    id: small
    engine:
      type: openai_http
      base_url: http://vllm:8000/
      stream_timeout: 90s
  - provider: local
    id: tiny
    tool_calls: false
    upstream_model: tiny-q4
    engine:
      type: mock
      timeout: 1000000000
`
	cfg, err := Parse([]byte(doc), ".yaml")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	small := cfg.Models[0]
	if small.Engine.Type != "oai_http" || small.Engine.BaseURL != "http://vllm:8000" {
		t.Fatalf("engine: got=%+v", small.Engine)
	}
	if small.Engine.ChatCompletionsPath != "/v1/chat/completions" || small.Engine.Timeout.Duration != 60*time.Second {
		t.Fatalf("defaults: got=%+v", small.Engine)
	}
	if small.Engine.StreamTimeout.Duration != 90*time.Second {
		t.Fatalf("stream_timeout: want=90s got=%s", small.Engine.StreamTimeout.Duration)
	}
	if small.UpstreamModel != "small" || !small.SupportsToolCalls() {
		t.Fatalf("small: got=%+v", small)
	}
	tiny := cfg.Models[1]
	if tiny.SupportsToolCalls() || tiny.UpstreamModel != "tiny-q4" || tiny.Engine.Timeout.Duration != time.Second {
		t.Fatalf("tiny: got=%+v", tiny)
	}
}

func TestParseJSON(t *testing.T) {
	doc := `{"models":[{"provider":"p","id":"m","engine":{"type":"mock","timeout":"2s"}}]}`
	cfg, err := Parse([]byte(doc), ".json")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Models[0].Engine.Timeout.Duration != 2*time.Second {
		t.Fatalf("timeout: got=%s", cfg.Models[0].Engine.Timeout.Duration)
	}
}

func TestParseRejectsInvalidCatalogs(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", `models: []`, "at least one model"},
		{"no provider", "models:\n  - id: a\n    engine: {type: mock}", "missing provider"},
		{"duplicate", "models:\n  - {provider: p, id: a, engine: {type: mock}}\n  - {provider: p, id: a, engine: {type: mock}}", "duplicate"},
		{"no base url", "models:\n  - {provider: p, id: a, engine: {type: oai_http}}", "base_url"},
		{"unknown engine", "models:\n  - {provider: p, id: a, engine: {type: grpc}}", "unsupported"},
		{"bad default", "default_model: {provider: p, model: b}\nmodels:\n  - {provider: p, id: a, engine: {type: mock}}", "not in the catalog"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc), ".yaml")
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err: want contains %q got=%v", tc.want, err)
			}
		})
	}
}

func TestLoadFallsBackToMock(t *testing.T) {
	t.Setenv("CHAT_CONFIG_PATH", "")
	t.Chdir(t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Models) != 1 || cfg.Models[0].Engine.Type != "mock" {
		t.Fatalf("models: got=%+v", cfg.Models)
	}
}
