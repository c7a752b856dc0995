package bus

import (
	"context"
	"sync"
)

// Local is an in-process bus. It connects dispatchers living in the same
// process and is the default for single-node deployments.
type Local struct {
	mu   sync.RWMutex
	subs map[int]func(string, []byte)
	next int
}

func NewLocal() *Local {
	return &Local{subs: make(map[int]func(string, []byte))}
}

func (l *Local) Publish(_ context.Context, convID string, payload []byte) error {
	l.mu.RLock()
	handlers := make([]func(string, []byte), 0, len(l.subs))
	for _, h := range l.subs {
		handlers = append(handlers, h)
	}
	l.mu.RUnlock()
	for _, h := range handlers {
		h(convID, payload)
	}
	return nil
}

func (l *Local) Subscribe(ctx context.Context, handler func(string, []byte)) error {
	l.mu.Lock()
	id := l.next
	l.next++
	l.subs[id] = handler
	l.mu.Unlock()

	<-ctx.Done()

	l.mu.Lock()
	delete(l.subs, id)
	l.mu.Unlock()
	return nil
}

func (l *Local) Subscribers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs)
}

func (l *Local) Close() error { return nil }
