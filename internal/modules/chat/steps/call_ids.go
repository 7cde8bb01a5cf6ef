package steps

import (
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/chorus-backend/internal/domain/chat"
)

// CallIDs hands out tool-call ids that are unique within one turn. Engines may
// repeat an id across agents or steps, and the assembler keys tool parts by id.
type CallIDs struct {
	mu   sync.Mutex
	used map[string]bool
}

// NewCallIDs reserves the tool-call ids already present in msgs.
func NewCallIDs(msgs ...*chat.Message) *CallIDs {
	c := &CallIDs{used: map[string]bool{}}
	for _, m := range msgs {
		if m == nil {
			continue
		}
		for _, p := range m.Parts {
			if p.Type == chat.PartToolInvocation && p.ToolCallID != "" {
				c.used[p.ToolCallID] = true
			}
		}
	}
	return c
}

// Claim returns id when it is still free, otherwise a suffixed variant.
func (c *CallIDs) Claim(id string) string {
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.used[id] {
		id = id + "_" + uuid.NewString()[:8]
	}
	c.used[id] = true
	return id
}
