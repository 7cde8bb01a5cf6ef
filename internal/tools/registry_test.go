package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/yungbote/chorus-backend/internal/platform/logger"
)

type staticProvider struct {
	src  Source
	set  Set
	err  error
	boom bool
}

func (p staticProvider) Source() Source { return p.src }

func (p staticProvider) Load(ctx context.Context, req LoadRequest) (Set, error) {
	if p.boom {
		panic("provider exploded")
	}
	return p.set, p.err
}

func echoTool(src Source, desc string) Tool {
	return New(Spec{Name: "x", Description: desc, Source: src}, func(ctx context.Context, in json.RawMessage) (json.RawMessage, error) {
		return in, nil
	})
}

func TestRegistryFoldsInPrecedenceOrder(t *testing.T) {
	r := NewRegistry(logger.Nop(),
		staticProvider{src: SourceDefault, set: Set{"shared": echoTool(SourceDefault, "default"), "clock": echoTool(SourceDefault, "clock")}},
		staticProvider{src: SourceRemote, set: Set{"shared": echoTool(SourceRemote, "remote"), "search": echoTool(SourceRemote, "search")}},
		staticProvider{src: SourceWorkflow, set: Set{"report": echoTool(SourceWorkflow, "report")}},
	)
	set := r.Load(context.Background(), LoadRequest{}, nil)
	if got := set.Names(); len(got) != 4 {
		t.Fatalf("names: got=%v", got)
	}
	if desc := set["shared"].Spec().Description; desc != "default" {
		t.Fatalf("collision: want later source (default) got=%s", desc)
	}
}

func TestRegistryIsolatesFailures(t *testing.T) {
	r := NewRegistry(logger.Nop(),
		staticProvider{src: SourceRemote, err: errors.New("server down")},
		staticProvider{src: SourceWorkflow, boom: true},
		staticProvider{src: SourceDefault, set: Set{"clock": echoTool(SourceDefault, "clock")}},
	)
	set := r.Load(context.Background(), LoadRequest{}, nil)
	if len(set) != 1 || set["clock"] == nil {
		t.Fatalf("set: got=%v", set.Names())
	}
}

func TestRegistryGate(t *testing.T) {
	r := NewRegistry(logger.Nop(),
		staticProvider{src: SourceDefault, set: Set{"clock": echoTool(SourceDefault, "clock")}},
		staticProvider{src: SourceImage, set: Set{"generate_image": echoTool(SourceImage, "img")}},
	)
	set := r.Load(context.Background(), LoadRequest{}, func(s Source) bool { return s == SourceImage })
	if len(set) != 1 || set["generate_image"] == nil {
		t.Fatalf("set: got=%v", set.Names())
	}
}

func TestRequireApproval(t *testing.T) {
	set := RequireApproval(Set{"a": echoTool(SourceDefault, "a")})
	if !NeedsApproval(set["a"]) {
		t.Fatalf("expected approval wrapper")
	}
	again := RequireApproval(set)
	if _, nested := again["a"].(approvalTool).Tool.(approvalTool); nested {
		t.Fatalf("approval wrapper must not nest")
	}
	out, err := set["a"].Execute(context.Background(), json.RawMessage(`{"v":1}`))
	if err != nil || string(out) != `{"v":1}` {
		t.Fatalf("execute: out=%s err=%v", out, err)
	}
}

func TestToolName(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{[]string{"GitHub", "search issues"}, "GitHub_search_issues"},
		{[]string{"my-server", "run"}, "my-server_run"},
		{[]string{"  ", "weather"}, "weather"},
		{[]string{"a/b", "c.d"}, "a_b_c_d"},
	}
	for _, tc := range cases {
		if got := ToolName(tc.in...); got != tc.want {
			t.Fatalf("ToolName(%v): want=%s got=%s", tc.in, tc.want, got)
		}
	}
}
