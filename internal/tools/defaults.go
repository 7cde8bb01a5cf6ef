package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yungbote/chorus-backend/internal/domain/chat"
)

const (
	ToolkitHTTP          = "http"
	ToolkitVisualization = "visualization"
	ToolkitTime          = "time"
)

// DefaultProvider serves the built-in toolkits.
type DefaultProvider struct {
	httpClient *http.Client
	now        func() time.Time
	toolkits   map[string]Set
}

func NewDefaultProvider(httpClient *http.Client) *DefaultProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	p := &DefaultProvider{httpClient: httpClient, now: time.Now}
	p.toolkits = map[string]Set{
		ToolkitHTTP:          {"http_fetch": p.httpFetch()},
		ToolkitVisualization: {"create_table": createTable(), "create_bar_chart": createBarChart()},
		ToolkitTime:          {"current_time": p.currentTime()},
	}
	return p
}

func (p *DefaultProvider) Source() Source { return SourceDefault }

func (p *DefaultProvider) Load(ctx context.Context, req LoadRequest) (Set, error) {
	out := Set{}
	mentioned := false
	for _, m := range req.Mentions {
		if m.Kind != chat.MentionTool || m.Source != chat.ToolSourceDefault {
			continue
		}
		mentioned = true
		for kit, set := range p.toolkits {
			if m.Toolkit != "" && m.Toolkit != kit {
				continue
			}
			if t, ok := set[m.Name]; ok {
				out[m.Name] = t
			}
		}
	}
	if mentioned {
		return out, nil
	}

	kits := req.AllowedToolkits
	if kits == nil {
		for kit := range p.toolkits {
			kits = append(kits, kit)
		}
	}
	for _, kit := range kits {
		for name, t := range p.toolkits[kit] {
			out[name] = t
		}
	}
	return out, nil
}

func (p *DefaultProvider) httpFetch() Tool {
	return New(Spec{
		Name:        "http_fetch",
		Description: "Fetch a public http(s) URL and return the status and the beginning of the response body.",
		Parameters: objectSchema(map[string]any{
			"url":    map[string]any{"type": "string", "description": "absolute http or https URL"},
			"method": map[string]any{"type": "string", "enum": []string{"GET", "HEAD"}},
		}, "url"),
		Source:  SourceDefault,
		Toolkit: ToolkitHTTP,
	}, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		var in struct {
			URL    string `json:"url"`
			Method string `json:"method"`
		}
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
		u, err := url.Parse(strings.TrimSpace(in.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, errors.New("url must be an absolute http(s) URL")
		}
		method := strings.ToUpper(strings.TrimSpace(in.Method))
		if method == "" {
			method = http.MethodGet
		}
		if method != http.MethodGet && method != http.MethodHead {
			return nil, fmt.Errorf("unsupported method %q", method)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
		if err != nil {
			return nil, err
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		const limit = 64 << 10
		body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
		if err != nil {
			return nil, err
		}
		truncated := len(body) > limit
		if truncated {
			body = body[:limit]
		}
		text := string(body)
		if !utf8.ValidString(text) {
			text = strings.ToValidUTF8(text, "")
		}
		return json.Marshal(map[string]any{
			"status":      resp.StatusCode,
			"contentType": resp.Header.Get("Content-Type"),
			"body":        text,
			"truncated":   truncated,
		})
	})
}

func (p *DefaultProvider) currentTime() Tool {
	return New(Spec{
		Name:        "current_time",
		Description: "Return the current date and time, optionally in an IANA time zone.",
		Parameters: objectSchema(map[string]any{
			"timezone": map[string]any{"type": "string", "description": "IANA zone such as Europe/Paris"},
		}),
		Source:  SourceDefault,
		Toolkit: ToolkitTime,
	}, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		var in struct {
			Timezone string `json:"timezone"`
		}
		if len(input) > 0 {
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fmt.Errorf("invalid input: %w", err)
			}
		}
		loc := time.UTC
		if tz := strings.TrimSpace(in.Timezone); tz != "" {
			l, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q", tz)
			}
			loc = l
		}
		now := p.now().In(loc)
		return json.Marshal(map[string]any{
			"iso":      now.Format(time.RFC3339),
			"timezone": loc.String(),
			"weekday":  now.Weekday().String(),
		})
	})
}

// Visualization tools validate their input and echo it back; the client renders it.
func createTable() Tool {
	return New(Spec{
		Name:        "create_table",
		Description: "Render a table for the user.",
		Parameters: objectSchema(map[string]any{
			"title":   map[string]any{"type": "string"},
			"columns": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"rows":    map[string]any{"type": "array", "items": map[string]any{"type": "array"}},
		}, "columns", "rows"),
		Source:  SourceDefault,
		Toolkit: ToolkitVisualization,
	}, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		var in struct {
			Title   string   `json:"title"`
			Columns []string `json:"columns"`
			Rows    [][]any  `json:"rows"`
		}
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
		if len(in.Columns) == 0 {
			return nil, errors.New("at least one column is required")
		}
		for i, r := range in.Rows {
			if len(r) != len(in.Columns) {
				return nil, fmt.Errorf("row %d has %d cells, want %d", i, len(r), len(in.Columns))
			}
		}
		return json.Marshal(map[string]any{"kind": "table", "title": in.Title, "columns": in.Columns, "rows": in.Rows})
	})
}

func createBarChart() Tool {
	return New(Spec{
		Name:        "create_bar_chart",
		Description: "Render a bar chart for the user.",
		Parameters: objectSchema(map[string]any{
			"title": map[string]any{"type": "string"},
			"data": map[string]any{
				"type": "array",
				"items": objectSchema(map[string]any{
					"label": map[string]any{"type": "string"},
					"value": map[string]any{"type": "number"},
				}, "label", "value"),
			},
		}, "data"),
		Source:  SourceDefault,
		Toolkit: ToolkitVisualization,
	}, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		var in struct {
			Title string `json:"title"`
			Data  []struct {
				Label string  `json:"label"`
				Value float64 `json:"value"`
			} `json:"data"`
		}
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
		if len(in.Data) == 0 {
			return nil, errors.New("data must not be empty")
		}
		return json.Marshal(map[string]any{"kind": "bar-chart", "title": in.Title, "data": in.Data})
	})
}
