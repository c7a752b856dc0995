package hub

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/fathima-sithara/jobboard-chat/internal/metrics"
	"github.com/fathima-sithara/jobboard-chat/internal/protocol"
)

// Bus carries broadcasts between server processes.
type Bus interface {
	Publish(ctx context.Context, convID string, payload []byte) error
	// Subscribe calls handler for every payload published by any process
	// until ctx is done.
	Subscribe(ctx context.Context, handler func(convID string, payload []byte)) error
}

type envelope struct {
	Origin         string         `json:"origin"`
	ConversationID string         `json:"conversation_id"`
	Event          protocol.Event `json:"event"`
}

// Dispatcher fans events out to local connections and to the other
// processes sharing the bus.
type Dispatcher struct {
	registry *Registry
	bus      Bus
	nodeID   string
	logger   *zap.SugaredLogger
}

// NewDispatcher returns a dispatcher. A nil bus keeps delivery in process.
func NewDispatcher(registry *Registry, bus Bus, nodeID string, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{registry: registry, bus: bus, nodeID: nodeID, logger: logger}
}

func (d *Dispatcher) Registry() *Registry { return d.registry }

func (d *Dispatcher) Publish(ctx context.Context, convID string, ev protocol.Event) {
	d.registry.Broadcast(convID, ev)
	metrics.Broadcasts.WithLabelValues(ev.Kind, "local").Inc()
	if d.bus == nil {
		return
	}
	b, err := json.Marshal(envelope{Origin: d.nodeID, ConversationID: convID, Event: ev})
	if err != nil {
		d.logger.Errorw("encode broadcast envelope", "conversation_id", convID, "error", err)
		return
	}
	if err := d.bus.Publish(ctx, convID, b); err != nil {
		d.logger.Warnw("bus publish failed", "conversation_id", convID, "kind", ev.Kind, "error", err)
	}
}

// HandleRemote delivers a payload received from the bus. Envelopes this
// node published itself were already delivered locally and are skipped.
func (d *Dispatcher) HandleRemote(convID string, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		d.logger.Warnw("drop undecodable bus payload", "conversation_id", convID, "error", err)
		return
	}
	if env.Origin == d.nodeID {
		return
	}
	if env.ConversationID == "" {
		env.ConversationID = convID
	}
	d.registry.Broadcast(env.ConversationID, env.Event)
	metrics.Broadcasts.WithLabelValues(env.Event.Kind, "remote").Inc()
}

// Run consumes the bus until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.bus == nil {
		<-ctx.Done()
		return nil
	}
	return d.bus.Subscribe(ctx, d.HandleRemote)
}
