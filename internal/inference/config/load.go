package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		d.Duration = 0
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		u, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		return d.parse(u)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("duration must be a string like \"5s\" or an int nanoseconds: %w", err)
	}
	d.Duration = time.Duration(n)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar (line %d)", node.Line)
	}
	if node.Tag == "!!int" {
		n, err := strconv.ParseInt(node.Value, 10, 64)
		if err != nil {
			return err
		}
		d.Duration = time.Duration(n)
		return nil
	}
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		d.Duration = 0
		return nil
	}
	dd, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dd
	return nil
}

func defaultConfig() *Config {
	return &Config{
		DefaultModel: DefaultModel{Provider: "mock", Model: "mock-1"},
		Models: []ModelConfig{
			{Provider: "mock", ID: "mock-1", Engine: EngineConfig{Type: "mock"}},
		},
	}
}

// Load reads the model catalog from CHAT_CONFIG_PATH (or ./config/models.yaml when
// present), falling back to a single offline mock model.
func Load() (*Config, error) {
	cfgPath := strings.TrimSpace(os.Getenv("CHAT_CONFIG_PATH"))
	if cfgPath == "" {
		if wd, err := os.Getwd(); err == nil {
			for _, name := range []string{"models.yaml", "models.yml", "models.json"} {
				p := filepath.Join(wd, "config", name)
				if _, err := os.Stat(p); err == nil {
					cfgPath = p
					break
				}
			}
		}
	}
	if cfgPath == "" {
		return Normalize(defaultConfig())
	}
	b, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, err
	}
	return Parse(b, filepath.Ext(cfgPath))
}

// Parse decodes a catalog document. ext selects JSON for ".json" and YAML otherwise.
func Parse(b []byte, ext string) (*Config, error) {
	var loaded Config
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(b, &loaded); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal(b, &loaded); err != nil {
			return nil, err
		}
	}
	return Normalize(&loaded)
}

func Normalize(cfg *Config) (*Config, error) {
	if cfg == nil || len(cfg.Models) == 0 {
		return nil, errors.New("config must define at least one model")
	}
	seen := map[string]bool{}
	for i := range cfg.Models {
		m := &cfg.Models[i]
		m.Provider = strings.TrimSpace(m.Provider)
		m.ID = strings.TrimSpace(m.ID)
		if m.ID == "" {
			return nil, errors.New("model id is required")
		}
		if m.Provider == "" {
			return nil, fmt.Errorf("model %q missing provider", m.ID)
		}
		key := m.Provider + "/" + m.ID
		if seen[key] {
			return nil, fmt.Errorf("duplicate model %q", key)
		}
		seen[key] = true
		if strings.TrimSpace(m.Engine.Type) == "" {
			return nil, fmt.Errorf("model %q missing engine.type", key)
		}
		if strings.TrimSpace(m.UpstreamModel) == "" {
			m.UpstreamModel = m.ID
		}

		m.Engine.Type = strings.ToLower(strings.TrimSpace(m.Engine.Type))
		m.Engine.BaseURL = strings.TrimRight(strings.TrimSpace(m.Engine.BaseURL), "/")
		m.Engine.ChatCompletionsPath = strings.TrimSpace(m.Engine.ChatCompletionsPath)
		if name, ok := strings.CutPrefix(strings.TrimSpace(m.Engine.APIKey), "env:"); ok {
			m.Engine.APIKey = strings.TrimSpace(os.Getenv(name))
		}

		switch m.Engine.Type {
		case "mock":
		case "openai_http", "oai_http":
			m.Engine.Type = "oai_http"
			if m.Engine.BaseURL == "" {
				return nil, fmt.Errorf("model %q (oai_http) missing engine.base_url", key)
			}
			if m.Engine.ChatCompletionsPath == "" {
				m.Engine.ChatCompletionsPath = "/v1/chat/completions"
			}
			if m.Engine.Timeout.Duration <= 0 {
				m.Engine.Timeout = Duration{Duration: 60 * time.Second}
			}
			if m.Engine.StreamTimeout.Duration < 0 {
				return nil, fmt.Errorf("model %q invalid engine.stream_timeout", key)
			}
		default:
			return nil, fmt.Errorf("model %q unsupported engine.type=%q", key, m.Engine.Type)
		}
	}

	cfg.DefaultModel.Provider = strings.TrimSpace(cfg.DefaultModel.Provider)
	cfg.DefaultModel.Model = strings.TrimSpace(cfg.DefaultModel.Model)
	if cfg.DefaultModel.Model != "" && !seen[cfg.DefaultModel.Provider+"/"+cfg.DefaultModel.Model] {
		return nil, fmt.Errorf("default_model %s/%s is not in the catalog", cfg.DefaultModel.Provider, cfg.DefaultModel.Model)
	}
	return cfg, nil
}
