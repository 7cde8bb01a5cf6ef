package chat

type MentionKind string

const (
	MentionAgent    MentionKind = "agent"
	MentionTool     MentionKind = "tool"
	MentionWorkflow MentionKind = "workflow"
)

type ToolSource string

const (
	ToolSourceMCP     ToolSource = "mcp"
	ToolSourceDefault ToolSource = "default"
)

// Mention selects an agent, tool or workflow for a turn. Tool mentions carry their
// source: remote tools name their server, built-in tools name their toolkit.
type Mention struct {
	Kind     MentionKind `json:"kind"`
	ID       string      `json:"id,omitempty"`
	Name     string      `json:"name,omitempty"`
	Source   ToolSource  `json:"source,omitempty"`
	ServerID string      `json:"serverId,omitempty"`
	Toolkit  string      `json:"toolkit,omitempty"`
}

func FilterMentions(ms []Mention, kind MentionKind) []Mention {
	var out []Mention
	for _, m := range ms {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

type AttachmentType string

const (
	AttachmentFile      AttachmentType = "file"
	AttachmentSourceURL AttachmentType = "source-url"
)

type Attachment struct {
	Type      AttachmentType `json:"type"`
	URL       string         `json:"url"`
	MediaType string         `json:"mediaType,omitempty"`
	Filename  string         `json:"filename,omitempty"`
	Title     string         `json:"title,omitempty"`
}

// AllowedServer restricts which tools of one remote server may be loaded.
// Servers absent from the map, and servers with an empty Tools list, expose nothing.
type AllowedServer struct {
	Tools []string `json:"tools"`
}

type ImageToolOption struct {
	Model string `json:"model,omitempty"`
}
