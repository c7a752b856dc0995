package bus

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Redis publishes each conversation on <prefix>:conv:<id> and consumes all
// of them with one pattern subscription.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) channelPrefix() string { return r.prefix + ":conv:" }

func (r *Redis) Publish(ctx context.Context, convID string, payload []byte) error {
	return r.client.Publish(ctx, r.channelPrefix()+convID, payload).Err()
}

func (r *Redis) Subscribe(ctx context.Context, handler func(string, []byte)) error {
	ps := r.client.PSubscribe(ctx, r.channelPrefix()+"*")
	defer ps.Close()
	// wait for the subscription confirmation so nothing published after
	// Subscribe returns control is missed
	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handler(strings.TrimPrefix(msg.Channel, r.channelPrefix()), []byte(msg.Payload))
		}
	}
}

func (r *Redis) Close() error { return nil }
