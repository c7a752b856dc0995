package database

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

func ConnectNATS(ctx context.Context, url, name string, maxElapsed time.Duration, logger *zap.SugaredLogger) (*nats.Conn, error) {
	var nc *nats.Conn
	err := retry(ctx, "nats", maxElapsed, logger, func(context.Context) error {
		c, err := nats.Connect(url,
			nats.Name(name),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Warnw("nats disconnected", "error", err)
				}
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				logger.Infow("nats reconnected", "url", c.ConnectedUrl())
			}),
		)
		if err != nil {
			return err
		}
		nc = c
		return nil
	})
	if err != nil {
		logger.Errorf("NATS connection failed: %v", err)
		return nil, err
	}
	logger.Info("NATS connected successfully")
	return nc, nil
}
