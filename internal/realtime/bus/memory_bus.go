package bus

import (
	"context"
	"fmt"
	"sync"
)

// memoryBus delivers signals to forwarders of the same process.
type memoryBus struct {
	mu     sync.RWMutex
	subs   map[int]func(StopSignal)
	nextID int
	closed bool
}

func NewMemoryBus() Bus {
	return &memoryBus{subs: map[int]func(StopSignal){}}
}

func (b *memoryBus) Publish(ctx context.Context, sig StopSignal) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("stop bus closed")
	}
	for _, fn := range b.subs {
		fn(sig)
	}
	return nil
}

func (b *memoryBus) StartForwarder(ctx context.Context, onMsg func(sig StopSignal)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("stop bus closed")
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = onMsg
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()
	return nil
}

func (b *memoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = map[int]func(StopSignal){}
	return nil
}
