package bus

import (
	"context"
	"strings"

	"github.com/nats-io/nats.go"
)

// NATS publishes each conversation on <prefix>.conv.<id>.
type NATS struct {
	nc     *nats.Conn
	prefix string
}

func NewNATS(nc *nats.Conn, prefix string) *NATS {
	return &NATS{nc: nc, prefix: prefix}
}

func (n *NATS) subjectPrefix() string { return n.prefix + ".conv." }

func (n *NATS) Publish(_ context.Context, convID string, payload []byte) error {
	return n.nc.Publish(n.subjectPrefix()+convID, payload)
}

func (n *NATS) Subscribe(ctx context.Context, handler func(string, []byte)) error {
	sub, err := n.nc.Subscribe(n.subjectPrefix()+"*", func(m *nats.Msg) {
		handler(strings.TrimPrefix(m.Subject, n.subjectPrefix()), m.Data)
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	return sub.Unsubscribe()
}

func (n *NATS) Close() error {
	if err := n.nc.Drain(); err != nil {
		n.nc.Close()
		return err
	}
	return nil
}
