package realtime

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestRunsCancel(t *testing.T) {
	runs := NewRuns()
	thread := uuid.New()
	other := uuid.New()

	ctxA, cancelA := context.WithCancel(context.Background())
	ctxB, cancelB := context.WithCancel(context.Background())
	ctxC, cancelC := context.WithCancel(context.Background())
	defer cancelC()
	runs.Register(thread, cancelA)
	releaseB := runs.Register(thread, cancelB)
	runs.Register(other, cancelC)

	releaseB()
	releaseB()
	if n := runs.Cancel(thread); n != 1 {
		t.Fatalf("cancelled: want=1 got=%d", n)
	}
	if ctxA.Err() == nil {
		t.Fatalf("run A should be cancelled")
	}
	if ctxB.Err() != nil {
		t.Fatalf("released run B should not be cancelled")
	}
	if ctxC.Err() != nil {
		t.Fatalf("other thread should not be cancelled")
	}
	if runs.Active(thread) {
		t.Fatalf("thread should have no active runs")
	}
	if !runs.Active(other) {
		t.Fatalf("other thread should still be active")
	}
}
