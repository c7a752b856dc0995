package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fathima-sithara/jobboard-chat/internal/metrics"
)

// Writer is the part of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

func NewKafkaWriter(brokers []string, topic string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		Async:        false,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// Producer queues events in memory and writes them from a single worker
// through a circuit breaker, so a broker outage costs dropped events rather
// than stalled chat handlers.
type Producer struct {
	writer       Writer
	cb           *gobreaker.CircuitBreaker
	queue        chan Event
	done         chan struct{}
	stopped      chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	logger       *zap.SugaredLogger
}

func NewProducer(w Writer, buffer int, logger *zap.SugaredLogger) *Producer {
	if buffer <= 0 {
		buffer = 1024
	}
	p := &Producer{
		writer:       w,
		queue:        make(chan Event, buffer),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
		writeTimeout: 5 * time.Second,
		logger:       logger,
	}
	p.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kafka-events",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnw("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
	go p.run()
	return p
}

func (p *Producer) Publish(_ context.Context, ev Event) {
	select {
	case <-p.done:
		metrics.EventsPublished.WithLabelValues("closed").Inc()
		return
	default:
	}
	select {
	case p.queue <- ev:
		metrics.EventsPublished.WithLabelValues("queued").Inc()
	default:
		metrics.EventsPublished.WithLabelValues("dropped").Inc()
		p.logger.Warnw("event queue full, dropping", "type", ev.Type, "conversation_id", ev.ConversationID)
	}
}

func (p *Producer) run() {
	defer close(p.stopped)
	for {
		select {
		case ev := <-p.queue:
			p.write(ev)
		case <-p.done:
			for {
				select {
				case ev := <-p.queue:
					p.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *Producer) write(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		p.logger.Errorw("encode event", "type", ev.Type, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
	defer cancel()
	_, err = p.cb.Execute(func() (interface{}, error) {
		return nil, p.writer.WriteMessages(ctx, kafkago.Message{
			Key:   []byte(ev.ConversationID),
			Value: b,
			Time:  ev.At,
		})
	})
	if err != nil {
		metrics.EventsPublished.WithLabelValues("failed").Inc()
		p.logger.Warnw("publish event failed", "type", ev.Type, "conversation_id", ev.ConversationID, "error", err)
		return
	}
	metrics.EventsPublished.WithLabelValues("written").Inc()
}

// Close flushes what is queued, bounded by ctx, then closes the writer.
func (p *Producer) Close(ctx context.Context) error {
	p.closeOnce.Do(func() { close(p.done) })
	select {
	case <-p.stopped:
	case <-ctx.Done():
	}
	return p.writer.Close()
}
