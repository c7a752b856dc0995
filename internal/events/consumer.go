package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ApplicationCreated is published by the applications service when a job
// seeker applies to a job.
type ApplicationCreated struct {
	ApplicationID   string `json:"application_id" validate:"required"`
	JobID           string `json:"job_id" validate:"required"`
	JobTitle        string `json:"job_title" validate:"required"`
	RecruiterID     string `json:"recruiter_id" validate:"required"`
	JobSeekerID     string `json:"job_seeker_id" validate:"required,nefield=RecruiterID"`
	SeekerFirstName string `json:"seeker_first_name"`
	CoverLetter     string `json:"cover_letter"`
}

var validate = validator.New()

func (a ApplicationCreated) Validate() error { return validate.Struct(a) }

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

func NewKafkaReader(brokers []string, groupID, topic string) *kafkago.Reader {
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
}

type ApplicationHandler func(ctx context.Context, ev ApplicationCreated) error

// Consumer feeds application.created records to a handler. Records that do
// not decode or validate are committed and skipped; handler failures are
// retried a few times before the record is committed anyway, since the
// handler is idempotent and a poison record must not stall the partition.
type Consumer struct {
	reader  Reader
	handle  ApplicationHandler
	logger  *zap.SugaredLogger
	retries uint64
}

func NewConsumer(r Reader, h ApplicationHandler, logger *zap.SugaredLogger) *Consumer {
	return &Consumer{reader: r, handle: h, logger: logger, retries: 3}
}

func (c *Consumer) Run(ctx context.Context) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Warnw("fetch application event", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		c.process(ctx, m)
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Warnw("commit application event", "offset", m.Offset, "error", err)
		}
	}
}

func (c *Consumer) process(ctx context.Context, m kafkago.Message) {
	var ev ApplicationCreated
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		c.logger.Warnw("skip undecodable application event", "offset", m.Offset, "error", err)
		return
	}
	if err := ev.Validate(); err != nil {
		c.logger.Warnw("skip invalid application event", "offset", m.Offset, "error", err)
		return
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.retries), ctx)
	err := backoff.Retry(func() error { return c.handle(ctx, ev) }, b)
	if err != nil {
		c.logger.Errorw("application event not handled", "application_id", ev.ApplicationID, "error", err)
	}
}

func (c *Consumer) Close() error { return c.reader.Close() }
