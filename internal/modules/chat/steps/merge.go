package steps

import (
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/chorus-backend/internal/domain/chat"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
	"github.com/yungbote/chorus-backend/internal/realtime/uistream"
)

// Source is one agent's event sequence as seen by the merger.
type Source struct {
	AgentID   string
	AgentName string
	Events    <-chan uistream.Event
	// Usage is called once Events is closed.
	Usage func() *chat.Usage
}

func TaskSource(t *Task) Source {
	return Source{
		AgentID:   t.AgentID,
		AgentName: t.AgentName,
		Events:    t.Events,
		Usage:     func() *chat.Usage { return t.Result().Metadata.Usage },
	}
}

// tagState is the per-source cursor of the tagger.
type tagState struct {
	blockID    string
	toolCallID string
}

// taggable is the set of block boundaries that get an agent tag. Continuation
// events (deltas of tool input, block ends, finish-step, finish) inherit the most
// recent tag for their block or tool call.
var taggable = map[uistream.Type]bool{
	uistream.TypeTextStart:           true,
	uistream.TypeTextDelta:           true,
	uistream.TypeStepStart:           true,
	uistream.TypeReasoningStart:      true,
	uistream.TypeToolInputStart:      true,
	uistream.TypeToolOutputAvailable: true,
	uistream.TypeError:               true,
}

func shouldTag(t uistream.Type) bool {
	return taggable[t] || t.IsTool()
}

// reduceTag advances the cursor for ev and returns the tag to emit before it, if any.
// The tag's id is left for the caller to assign.
func reduceTag(s tagState, agentID, agentName string, ev uistream.Event) (tagState, *uistream.AgentTag) {
	if !shouldTag(ev.Type) {
		return s, nil
	}
	tag := &uistream.AgentTag{
		AgentID:    agentID,
		AgentName:  agentName,
		BlockID:    s.blockID,
		ToolCallID: s.toolCallID,
		Kind:       ev.Type,
	}
	if ev.ID != "" {
		s.blockID = ev.ID
		tag.BlockID = ev.ID
	}
	if ev.ToolCallID != "" {
		s.toolCallID = ev.ToolCallID
		tag.ToolCallID = ev.ToolCallID
	}
	return s, tag
}

// tagID is stable for a block or tool call so repeated tags upsert one part.
func tagID(agentID string, ev uistream.Event) string {
	ref := ev.ID
	if ref == "" {
		ref = ev.ToolCallID
	}
	if ref == "" {
		ref = uuid.NewString()
	}
	return "tag-" + agentID + "-" + ref
}

// Merge fans the sources into one sequence. Each source is drained by its own
// goroutine, so events of one agent keep their order while agents interleave
// freely. Every boundary event is preceded by a data-agent-tag, every source that
// ends is followed by one data-agent-finish, and the output closes after all
// sources have ended.
func Merge(log *logger.Logger, sources []Source) <-chan uistream.Event {
	out := make(chan uistream.Event, eventBuffer)
	if log == nil {
		log = logger.Nop()
	}
	var g errgroup.Group
	for _, src := range sources {
		g.Go(func() error {
			drainSource(log, src, out)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(out)
	}()
	return out
}

func drainSource(log *logger.Logger, src Source, out chan<- uistream.Event) {
	var st tagState
	send := func(ev uistream.Event) {
		var tag *uistream.AgentTag
		st, tag = reduceTag(st, src.AgentID, src.AgentName, ev)
		if tag != nil {
			out <- uistream.Event{Type: uistream.TypeAgentTag, ID: tagID(src.AgentID, ev), Tag: tag}
		}
		out <- ev
	}
	finish := func(usage *chat.Usage) {
		out <- uistream.Event{
			Type:   uistream.TypeAgentFinish,
			ID:     "finish-" + src.AgentID,
			Finish: &uistream.AgentFinish{AgentID: src.AgentID, AgentName: src.AgentName, Usage: usage},
		}
	}

	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		log.Error("agent stream merge panicked", "agent_id", src.AgentID, "panic", fmt.Sprint(rec))
		// Unblock the producer.
		go func() {
			for range src.Events {
			}
		}()
		send(uistream.ErrorEvent(fmt.Sprintf("agent %s stream failed", src.AgentName)))
		finish(nil)
	}()

	for ev := range src.Events {
		send(ev)
	}

	var usage *chat.Usage
	if src.Usage != nil {
		usage = src.Usage()
	}
	finish(usage)
}
