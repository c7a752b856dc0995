package hub

import (
	"sync"

	"github.com/fathima-sithara/jobboard-chat/internal/metrics"
	"github.com/fathima-sithara/jobboard-chat/internal/protocol"
)

// Conn is one live subscriber of a conversation.
type Conn interface {
	UserID() string
	// Deliver queues frame without blocking and reports whether it was accepted.
	Deliver(frame []byte) bool
}

type group struct {
	mu    sync.Mutex
	conns map[Conn]struct{}
	// dead is set once the group is reaped so a racing Register retries on a fresh one.
	dead bool
}

// Registry maps conversation ids to their live connections. The top-level
// map is only locked to find, create or reap a group; membership changes and
// fan-out lock the group alone.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]*group
	frame  func(ev protocol.Event, userID string) ([]byte, error)
}

func NewRegistry() *Registry {
	return &Registry{
		groups: make(map[string]*group),
		frame:  protocol.Event.Frame,
	}
}

func (r *Registry) groupFor(convID string) *group {
	r.mu.RLock()
	g, ok := r.groups[convID]
	r.mu.RUnlock()
	if ok {
		return g
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok = r.groups[convID]; ok {
		return g
	}
	g = &group{conns: make(map[Conn]struct{})}
	r.groups[convID] = g
	return g
}

func (r *Registry) Register(convID string, c Conn) {
	for {
		g := r.groupFor(convID)
		g.mu.Lock()
		if g.dead {
			g.mu.Unlock()
			continue
		}
		g.conns[c] = struct{}{}
		g.mu.Unlock()
		return
	}
}

// Deregister is a no-op for connections that are not registered.
func (r *Registry) Deregister(convID string, c Conn) {
	r.mu.RLock()
	g, ok := r.groups[convID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	g.mu.Lock()
	delete(g.conns, c)
	empty := len(g.conns) == 0 && !g.dead
	g.mu.Unlock()
	if empty {
		r.reap(convID, g)
	}
}

func (r *Registry) reap(convID string, g *group) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.conns) == 0 && r.groups[convID] == g {
		g.dead = true
		delete(r.groups, convID)
	}
}

func (r *Registry) snapshot(convID string) []Conn {
	r.mu.RLock()
	g, ok := r.groups[convID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Conn, 0, len(g.conns))
	for c := range g.conns {
		out = append(out, c)
	}
	return out
}

// Broadcast delivers ev to every connection registered for convID at the
// time of the call. Connections that refuse delivery are deregistered.
// It returns the number of connections that accepted the frame.
func (r *Registry) Broadcast(convID string, ev protocol.Event) int {
	conns := r.snapshot(convID)
	frames := make(map[string][]byte, 2)
	delivered := 0
	var dead []Conn
	for _, c := range conns {
		uid := c.UserID()
		frame, ok := frames[uid]
		if !ok {
			var err error
			if frame, err = r.frame(ev, uid); err != nil {
				frame = nil
			}
			frames[uid] = frame
		}
		if frame == nil {
			// nothing to send this user; the rest of the group still gets theirs
			continue
		}
		if c.Deliver(frame) {
			delivered++
		} else {
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		metrics.DeliveriesDropped.Inc()
		r.Deregister(convID, c)
	}
	return delivered
}

func (r *Registry) Count(convID string) int {
	return len(r.snapshot(convID))
}

func (r *Registry) Conversations() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}
