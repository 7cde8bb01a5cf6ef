package uistream

import (
	"encoding/json"
	"strings"

	"github.com/yungbote/chorus-backend/internal/domain/chat"
)

// Assembler folds a stream of events into the ordered part list of one message.
// Parts keep the order in which their first event was applied.
type Assembler struct {
	msg *chat.Message

	blocks map[string]int
	tools  map[string]int
	data   map[string]int
	inputs map[string]*strings.Builder
}

// NewAssembler starts from base (which is cloned); existing tool invocations can be
// completed by later tool-output events.
func NewAssembler(base *chat.Message) *Assembler {
	a := &Assembler{
		msg:    base.Clone(),
		blocks: map[string]int{},
		tools:  map[string]int{},
		data:   map[string]int{},
		inputs: map[string]*strings.Builder{},
	}
	if a.msg == nil {
		a.msg = &chat.Message{Role: chat.RoleAssistant}
	}
	for i, p := range a.msg.Parts {
		if p.Type == chat.PartToolInvocation && p.ToolCallID != "" {
			a.tools[p.ToolCallID] = i
		}
	}
	return a
}

func (a *Assembler) Apply(ev Event) {
	switch ev.Type {
	case TypeStepStart:
		a.push(chat.Part{Type: chat.PartStepStart})
	case TypeTextStart:
		a.block(chat.PartText, ev.ID)
	case TypeReasoningStart:
		a.block(chat.PartReasoning, ev.ID)
	case TypeTextDelta:
		i := a.block(chat.PartText, ev.ID)
		a.msg.Parts[i].Text += ev.Delta
	case TypeReasoningDelta:
		i := a.block(chat.PartReasoning, ev.ID)
		a.msg.Parts[i].Text += ev.Delta
	case TypeToolInputStart:
		a.tool(ev.ToolCallID, ev.ToolName)
	case TypeToolInputDelta:
		a.tool(ev.ToolCallID, ev.ToolName)
		b, ok := a.inputs[ev.ToolCallID]
		if !ok {
			b = &strings.Builder{}
			a.inputs[ev.ToolCallID] = b
		}
		b.WriteString(ev.Delta)
	case TypeToolInputAvailable:
		p := a.tool(ev.ToolCallID, ev.ToolName)
		p.Input = ev.Input
		if len(p.Input) == 0 {
			if b, ok := a.inputs[ev.ToolCallID]; ok && json.Valid([]byte(b.String())) {
				p.Input = json.RawMessage(b.String())
			}
		}
		if !p.Resolved() {
			p.State = chat.ToolInputAvailable
		}
	case TypeToolOutputAvailable:
		p := a.tool(ev.ToolCallID, ev.ToolName)
		p.Output = ev.Output
		p.ErrorText = ""
		p.State = chat.ToolOutputAvailable
	case TypeToolOutputError:
		p := a.tool(ev.ToolCallID, ev.ToolName)
		p.ErrorText = ev.ErrorText
		p.State = chat.ToolOutputError
	case TypeFile:
		a.push(chat.Part{Type: chat.PartFile, URL: ev.URL, MediaType: ev.MediaType})
	case TypeSourceURL:
		a.push(chat.Part{Type: chat.PartSourceURL, SourceID: ev.SourceID, URL: ev.URL, Title: ev.Title})
	case TypeError:
		a.push(chat.Part{Type: chat.PartError, ErrorText: ev.ErrorText})
	case TypeAgentTag:
		if ev.Tag == nil {
			return
		}
		a.upsertData(string(ev.Type)+":"+ev.ID, chat.Part{
			Type:       chat.PartAgentTag,
			ID:         ev.ID,
			AgentID:    ev.Tag.AgentID,
			AgentName:  ev.Tag.AgentName,
			BlockID:    ev.Tag.BlockID,
			ToolCallID: ev.Tag.ToolCallID,
			Kind:       string(ev.Tag.Kind),
		})
	case TypeAgentFinish:
		if ev.Finish == nil {
			return
		}
		a.upsertData(string(ev.Type)+":"+ev.ID, chat.Part{
			Type:      chat.PartAgentFinish,
			ID:        ev.ID,
			AgentID:   ev.Finish.AgentID,
			AgentName: ev.Finish.AgentName,
			Usage:     ev.Finish.Usage,
		})
	}
}

// Message returns the assembled message. The assembler must not be used afterwards.
func (a *Assembler) Message() *chat.Message { return a.msg }

func (a *Assembler) push(p chat.Part) int {
	a.msg.Parts = append(a.msg.Parts, p)
	return len(a.msg.Parts) - 1
}

func (a *Assembler) block(kind chat.PartType, id string) int {
	key := string(kind) + ":" + id
	if i, ok := a.blocks[key]; ok {
		return i
	}
	i := a.push(chat.Part{Type: kind, ID: id})
	a.blocks[key] = i
	return i
}

func (a *Assembler) tool(callID, name string) *chat.Part {
	i, ok := a.tools[callID]
	if !ok {
		i = a.push(chat.Part{Type: chat.PartToolInvocation, ToolCallID: callID, ToolName: name, State: chat.ToolInputStreaming})
		a.tools[callID] = i
	}
	p := &a.msg.Parts[i]
	if p.ToolName == "" {
		p.ToolName = name
	}
	return p
}

// upsertData replaces a data part with the same type and id in place.
func (a *Assembler) upsertData(key string, p chat.Part) {
	if p.ID != "" {
		if i, ok := a.data[key]; ok {
			a.msg.Parts[i] = p
			return
		}
	}
	i := a.push(p)
	if p.ID != "" {
		a.data[key] = i
	}
}
