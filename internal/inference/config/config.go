package config

import "time"

type Duration struct {
	Duration time.Duration
}

type EngineConfig struct {
	Type string `json:"type" yaml:"type"`

	// BaseURL is the upstream base URL for "oai_http" engines.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// APIKey is optional; when set it is sent as `Authorization: Bearer <api_key>`.
	// A value of the form "env:NAME" is read from the environment at load time.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	ChatCompletionsPath string `json:"chat_completions_path,omitempty" yaml:"chat_completions_path,omitempty"`

	// Timeout bounds non-streaming calls. Streaming calls rely on caller cancellation
	// unless StreamTimeout is set.
	Timeout       Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	StreamTimeout Duration `json:"stream_timeout,omitempty" yaml:"stream_timeout,omitempty"`
}

type ModelConfig struct {
	Provider string `json:"provider" yaml:"provider"`
	ID       string `json:"id" yaml:"id"`

	// UpstreamModel overrides the model name sent to the engine. Defaults to ID.
	UpstreamModel string `json:"upstream_model,omitempty" yaml:"upstream_model,omitempty"`

	// ToolCalls defaults to true when omitted.
	ToolCalls *bool `json:"tool_calls,omitempty" yaml:"tool_calls,omitempty"`

	Engine EngineConfig `json:"engine" yaml:"engine"`
}

func (m ModelConfig) SupportsToolCalls() bool {
	return m.ToolCalls == nil || *m.ToolCalls
}

type DefaultModel struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`
}

type Config struct {
	DefaultModel DefaultModel  `json:"default_model" yaml:"default_model"`
	Models       []ModelConfig `json:"models" yaml:"models"`
}
