package oaihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/yungbote/chorus-backend/internal/inference/config"
	"github.com/yungbote/chorus-backend/internal/inference/engine"
)

// Engine talks to any OpenAI-compatible chat completions endpoint.
type Engine struct {
	baseURL string
	apiKey  string

	chatCompletionsPath string

	timeout       time.Duration
	streamTimeout time.Duration

	strictRetries int

	httpClient *http.Client
}

func New(cfg config.EngineConfig) (*Engine, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("oai_http: base_url required")
	}

	chatPath := strings.TrimSpace(cfg.ChatCompletionsPath)
	if chatPath == "" {
		chatPath = "/v1/chat/completions"
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Engine{
		baseURL:             baseURL,
		apiKey:              strings.TrimSpace(cfg.APIKey),
		chatCompletionsPath: chatPath,
		timeout:             timeout,
		streamTimeout:       cfg.StreamTimeout.Duration,
		strictRetries:       2,
		httpClient:          &http.Client{Transport: tr},
	}, nil
}

// NewWithHTTPClient is intended for tests; it avoids network access by using a custom RoundTripper.
func NewWithHTTPClient(cfg config.EngineConfig, httpClient *http.Client) (*Engine, error) {
	e, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		e.httpClient = httpClient
	}
	return e, nil
}

// ---------------- Wire types ----------------

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type wireFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type wireToolCall struct {
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function wireFunctionCall `json:"function"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatCompletionRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Tools         []wireTool     `json:"tools,omitempty"`
	Temperature   float64        `json:"temperature,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`

	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type wireUsage struct {
	PromptTokens            int `json:"prompt_tokens"`
	CompletionTokens        int `json:"completion_tokens"`
	TotalTokens             int `json:"total_tokens"`
	CompletionTokensDetails *struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"completion_tokens_details,omitempty"`
}

func (u *wireUsage) toEngine() *engine.Usage {
	if u == nil {
		return nil
	}
	out := &engine.Usage{InputTokens: u.PromptTokens, OutputTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.InputTokens + out.OutputTokens
	}
	if u.CompletionTokensDetails != nil {
		out.ReasoningTokens = u.CompletionTokensDetails.ReasoningTokens
	}
	return out
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content,omitempty"`
		} `json:"message,omitempty"`
		Text string `json:"text,omitempty"`
	} `json:"choices"`
}

type chatCompletionStreamChunk struct {
	ID             string `json:"id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Choices        []struct {
		Delta struct {
			Content          string         `json:"content,omitempty"`
			ReasoningContent string         `json:"reasoning_content,omitempty"`
			Reasoning        string         `json:"reasoning,omitempty"`
			ToolCalls        []wireToolCall `json:"tool_calls,omitempty"`
		} `json:"delta,omitempty"`
		Text         string  `json:"text,omitempty"`
		FinishReason *string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage,omitempty"`
	Error any        `json:"error,omitempty"`
}

// ---------------- Text generation ----------------

func (e *Engine) GenerateText(ctx context.Context, model string, messages []engine.Message, opts engine.GenerateOptions) (string, error) {
	chatMsgs := toChatMessages(messages)
	if len(chatMsgs) == 0 {
		return "", errors.New("no messages")
	}

	attempts := 1
	if opts.JSONSchema != nil && opts.JSONSchema.Strict {
		attempts = 1 + e.strictRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		reqBody := chatCompletionRequest{Model: model, Messages: chatMsgs, Temperature: opts.Temperature}
		if s := opts.JSONSchema; s != nil && s.Schema != nil {
			reqBody.ResponseFormat = map[string]any{
				"type":        "json_schema",
				"json_schema": map[string]any{"name": s.Name, "schema": s.Schema, "strict": s.Strict},
			}
		}

		var resp chatCompletionResponse
		if err := e.doJSON(ctx, e.timeout, http.MethodPost, e.chatCompletionsPath, reqBody, nil, &resp); err != nil {
			lastErr = err
			continue
		}

		text := extractChatText(resp)
		if strings.TrimSpace(text) == "" {
			lastErr = errors.New("empty upstream completion")
			continue
		}

		if opts.JSONSchema != nil && opts.JSONSchema.Strict {
			clean := sanitizeJSONText(text)
			if err := validateJSON(clean); err != nil {
				lastErr = err
				continue
			}
			return clean, nil
		}
		return text, nil
	}

	if lastErr == nil {
		lastErr = errors.New("generation failed")
	}
	return "", lastErr
}

// ---------------- Streaming chat with tools ----------------

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

func (e *Engine) StreamChat(ctx context.Context, req engine.ChatRequest, onChunk func(engine.Chunk) error) error {
	chatMsgs := toChatMessages(req.Messages)
	if len(chatMsgs) == 0 {
		return errors.New("no messages")
	}
	if onChunk == nil {
		onChunk = func(engine.Chunk) error { return nil }
	}

	reqBody := chatCompletionRequest{
		Model:         req.Model,
		Messages:      chatMsgs,
		Tools:         toWireTools(req.Tools),
		Temperature:   req.Temperature,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return err
	}

	ctx2 := ctx
	if e.streamTimeout > 0 {
		var cancel context.CancelFunc
		ctx2, cancel = context.WithTimeout(ctx, e.streamTimeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx2, http.MethodPost, e.baseURL+e.chatCompletionsPath, &buf)
	if err != nil {
		return err
	}
	e.setHeaders(httpReq, "application/json", "text/event-stream", req.Headers)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var (
		calls        = map[int]*pendingCall{}
		finishReason string
		usage        *engine.Usage
		conversation string
		responseID   string
	)

	err = streamSSE(resp.Body, func(_ string, data string) error {
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			return nil
		}
		var chunk chatCompletionStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil
		}
		if chunk.Error != nil {
			b, _ := json.Marshal(chunk.Error)
			return &StreamError{Raw: string(b)}
		}
		if chunk.ConversationID != "" {
			conversation = chunk.ConversationID
		}
		if chunk.ID != "" {
			responseID = chunk.ID
		}
		if chunk.Usage != nil {
			usage = chunk.Usage.toEngine()
		}

		for _, c := range chunk.Choices {
			if r := c.Delta.ReasoningContent + c.Delta.Reasoning; r != "" {
				if err := onChunk(engine.Chunk{Type: engine.ChunkReasoning, Text: r}); err != nil {
					return err
				}
			}
			text := c.Delta.Content
			if text == "" {
				text = c.Text
			}
			if text != "" {
				if err := onChunk(engine.Chunk{Type: engine.ChunkText, Text: text}); err != nil {
					return err
				}
			}
			for i, tc := range c.Delta.ToolCalls {
				idx := i
				if tc.Index != nil {
					idx = *tc.Index
				}
				pc, ok := calls[idx]
				if !ok {
					pc = &pendingCall{id: tc.ID, name: tc.Function.Name}
					if pc.id == "" {
						pc.id = fmt.Sprintf("call_%d", idx)
					}
					calls[idx] = pc
					if err := onChunk(engine.Chunk{Type: engine.ChunkToolCallStart, ID: pc.id, Name: pc.name}); err != nil {
						return err
					}
				} else if pc.name == "" && tc.Function.Name != "" {
					pc.name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					pc.args.WriteString(tc.Function.Arguments)
					if err := onChunk(engine.Chunk{Type: engine.ChunkToolCallDelta, ID: pc.id, ArgsDelta: tc.Function.Arguments}); err != nil {
						return err
					}
				}
			}
			if c.FinishReason != nil && *c.FinishReason != "" {
				finishReason = normalizeFinishReason(*c.FinishReason)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	indexes := make([]int, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		pc := calls[idx]
		args := strings.TrimSpace(pc.args.String())
		if args == "" || !json.Valid([]byte(args)) {
			args = "{}"
		}
		if err := onChunk(engine.Chunk{Type: engine.ChunkToolCall, ID: pc.id, Name: pc.name, Arguments: json.RawMessage(args)}); err != nil {
			return err
		}
	}
	if finishReason == "" {
		finishReason = "stop"
		if len(calls) > 0 {
			finishReason = "tool-calls"
		}
	}

	var meta map[string]any
	if conversation != "" || responseID != "" {
		meta = map[string]any{}
		if conversation != "" {
			meta["conversationId"] = conversation
		}
		if responseID != "" {
			meta["responseId"] = responseID
		}
	}
	return onChunk(engine.Chunk{
		Type:             engine.ChunkFinish,
		FinishReason:     finishReason,
		Usage:            usage,
		ConversationID:   conversation,
		ProviderMetadata: meta,
	})
}

func normalizeFinishReason(r string) string {
	switch strings.ToLower(strings.TrimSpace(r)) {
	case "tool_calls", "function_call":
		return "tool-calls"
	case "content_filter":
		return "content-filter"
	default:
		return strings.ToLower(strings.TrimSpace(r))
	}
}

func toWireTools(defs []engine.ToolDef) []wireTool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(defs))
	for _, d := range defs {
		params := d.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, wireTool{
			Type:     "function",
			Function: wireFunction{Name: d.Name, Description: d.Description, Parameters: params},
		})
	}
	return out
}

func toChatMessages(messages []engine.Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		role := strings.TrimSpace(m.Role)
		if role == "" {
			continue
		}
		msg := chatMessage{Role: role, ToolCallID: m.ToolCallID}
		content := strings.TrimSpace(m.Content)

		var images []contentPart
		for _, f := range m.Files {
			if strings.HasPrefix(strings.ToLower(f.MediaType), "image/") && f.URL != "" {
				images = append(images, contentPart{Type: "image_url", ImageURL: &imageURL{URL: f.URL}})
			}
		}
		switch {
		case len(images) > 0:
			parts := make([]contentPart, 0, len(images)+1)
			if content != "" {
				parts = append(parts, contentPart{Type: "text", Text: content})
			}
			msg.Content = append(parts, images...)
		case content != "":
			msg.Content = content
		}

		for _, tc := range m.ToolCalls {
			args := string(tc.Arguments)
			if args == "" {
				args = "{}"
			}
			msg.ToolCalls = append(msg.ToolCalls, wireToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: wireFunctionCall{Name: tc.Name, Arguments: args},
			})
		}
		if msg.Content == nil && len(msg.ToolCalls) == 0 {
			if role != "tool" {
				continue
			}
			msg.Content = ""
		}
		out = append(out, msg)
	}
	return out
}

func extractChatText(resp chatCompletionResponse) string {
	for _, c := range resp.Choices {
		if strings.TrimSpace(c.Message.Content) != "" {
			return c.Message.Content
		}
		if strings.TrimSpace(c.Text) != "" {
			return c.Text
		}
	}
	return ""
}

func sanitizeJSONText(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	firstNL := strings.IndexByte(s, '\n')
	if firstNL == -1 {
		return strings.TrimSpace(strings.Trim(s, "`"))
	}
	s = s[firstNL+1:]
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func validateJSON(s string) error {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

// ---------------- HTTP helpers ----------------

func (e *Engine) setHeaders(req *http.Request, contentType string, accept string, extra map[string]string) {
	for k, v := range extra {
		if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
			req.Header.Set(k, v)
		}
	}
	if strings.TrimSpace(contentType) != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if strings.TrimSpace(accept) != "" {
		req.Header.Set("Accept", accept)
	}
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
}

func (e *Engine) doJSON(ctx context.Context, timeout time.Duration, method string, path string, body any, headers map[string]string, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	ctx2 := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx2, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx2, method, e.baseURL+path, &buf)
	if err != nil {
		return err
	}
	e.setHeaders(req, "application/json", "application/json", headers)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
