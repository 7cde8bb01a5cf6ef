package mock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/chorus-backend/internal/inference/engine"
)

// Engine is a deterministic offline engine. It echoes the last user message and,
// when that message reads "/tool <name> <json>" and the tool is offered, calls it.
type Engine struct {
	ChunkSize int
}

func New() *Engine {
	return &Engine{ChunkSize: 16}
}

func (e *Engine) GenerateText(ctx context.Context, model string, messages []engine.Message, opts engine.GenerateOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if opts.JSONSchema != nil {
		b, _ := json.Marshal(map[string]any{"ok": true, "schema": opts.JSONSchema.Name})
		return string(b), nil
	}
	user := lastUser(messages)
	if strings.TrimSpace(user) == "" {
		return "mock: ok", nil
	}
	return fmt.Sprintf("mock: %s", user), nil
}

func (e *Engine) StreamChat(ctx context.Context, req engine.ChatRequest, onChunk func(engine.Chunk) error) error {
	if onChunk == nil {
		onChunk = func(engine.Chunk) error { return nil }
	}
	conv := strings.TrimSpace(req.Headers["X-Conversation-Id"])
	if conv == "" {
		h := sha256.Sum256([]byte(req.Model + "\n" + lastUser(req.Messages)))
		conv = "mock-" + hex.EncodeToString(h[:6])
	}

	finish := func(reason string, out int) error {
		in := 0
		for _, m := range req.Messages {
			in += len(strings.Fields(m.Content))
		}
		return onChunk(engine.Chunk{
			Type:           engine.ChunkFinish,
			FinishReason:   reason,
			Usage:          &engine.Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out},
			ConversationID: conv,
		})
	}

	if call, ok := toolCall(req); ok {
		if err := onChunk(engine.Chunk{Type: engine.ChunkToolCallStart, ID: call.ID, Name: call.Name}); err != nil {
			return err
		}
		if err := onChunk(engine.Chunk{Type: engine.ChunkToolCallDelta, ID: call.ID, ArgsDelta: string(call.Arguments)}); err != nil {
			return err
		}
		if err := onChunk(engine.Chunk{Type: engine.ChunkToolCall, ID: call.ID, Name: call.Name, Arguments: call.Arguments}); err != nil {
			return err
		}
		return finish("tool-calls", 1)
	}

	var full string
	if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == "tool" {
		full = "mock: tool result " + strings.TrimSpace(req.Messages[n-1].Content)
	} else {
		var err error
		full, err = e.GenerateText(ctx, req.Model, req.Messages, engine.GenerateOptions{Temperature: req.Temperature})
		if err != nil {
			return err
		}
	}
	size := e.ChunkSize
	if size <= 0 {
		size = 16
	}
	for i := 0; i < len(full); i += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(i+size, len(full))
		if err := onChunk(engine.Chunk{Type: engine.ChunkText, Text: full[i:end]}); err != nil {
			return err
		}
	}
	return finish("stop", len(strings.Fields(full)))
}

func lastUser(messages []engine.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if strings.EqualFold(messages[i].Role, "user") {
			return messages[i].Content
		}
	}
	return ""
}

// toolCall only fires on a fresh user turn so the loop terminates after the result.
func toolCall(req engine.ChatRequest) (engine.ToolCall, bool) {
	n := len(req.Messages)
	if n == 0 || req.Messages[n-1].Role != "user" {
		return engine.ToolCall{}, false
	}
	rest, ok := strings.CutPrefix(strings.TrimSpace(req.Messages[n-1].Content), "/tool ")
	if !ok {
		return engine.ToolCall{}, false
	}
	name, args, _ := strings.Cut(strings.TrimSpace(rest), " ")
	offered := false
	for _, t := range req.Tools {
		if t.Name == name {
			offered = true
			break
		}
	}
	if !offered {
		return engine.ToolCall{}, false
	}
	args = strings.TrimSpace(args)
	if args == "" || !json.Valid([]byte(args)) {
		args = "{}"
	}
	h := sha256.Sum256([]byte(req.Model + "\n" + name + args))
	return engine.ToolCall{ID: "call_" + hex.EncodeToString(h[:6]), Name: name, Arguments: json.RawMessage(args)}, true
}
