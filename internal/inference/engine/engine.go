package engine

import (
	"context"
	"encoding/json"
)

// File is an attachment forwarded to the model alongside a message.
type File struct {
	URL       string
	MediaType string
	Filename  string
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

type Message struct {
	Role       string
	Content    string
	Files      []File
	ToolCalls  []ToolCall
	ToolCallID string
}

type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type JSONSchema struct {
	Name   string
	Schema map[string]any
	Strict bool
}

type GenerateOptions struct {
	Temperature float64
	JSONSchema  *JSONSchema
}

type ChatRequest struct {
	Model       string
	Messages    []Message
	Tools       []ToolDef
	Headers     map[string]string
	Temperature float64
}

type Usage struct {
	InputTokens     int
	OutputTokens    int
	TotalTokens     int
	ReasoningTokens int
}

type ChunkType string

const (
	ChunkText          ChunkType = "text"
	ChunkReasoning     ChunkType = "reasoning"
	ChunkToolCallStart ChunkType = "tool-call-start"
	ChunkToolCallDelta ChunkType = "tool-call-delta"
	ChunkToolCall      ChunkType = "tool-call"
	ChunkFinish        ChunkType = "finish"
)

// Chunk is one streamed unit of a chat completion. Tool calls arrive as
// start, zero or more deltas, then a complete tool-call chunk.
type Chunk struct {
	Type ChunkType

	Text string

	ID        string
	Name      string
	ArgsDelta string
	Arguments json.RawMessage

	FinishReason     string
	Usage            *Usage
	ConversationID   string
	ProviderMetadata map[string]any
}

type Engine interface {
	GenerateText(ctx context.Context, model string, messages []Message, opts GenerateOptions) (string, error)
	// StreamChat blocks until the upstream stream ends. Returning an error from
	// onChunk aborts the stream with that error.
	StreamChat(ctx context.Context, req ChatRequest, onChunk func(Chunk) error) error
}
