// Package notify fans session broadcasts out over NATS so spectators and
// other services can follow a game without holding a websocket.
package notify

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/amil1105/tombala-sub000/internal/types"
)

const subjectPrefix = "tombala.session."

// Subject is where one session's broadcasts are published.
func Subject(sessionID string) string { return subjectPrefix + sessionID }

// AllSessions subscribes to every session.
const AllSessions = subjectPrefix + "*"

type Publisher struct {
	nc  *nats.Conn
	log *zap.Logger
}

func Connect(url string, log *zap.Logger) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("tombala"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &Publisher{nc: nc, log: log}, nil
}

// Publish sends the delivery in its wire encoding; subscribers decode it
// with types.DecodeDelivery.
func (p *Publisher) Publish(sessionID string, d types.Delivery) error {
	data, err := types.EncodeDelivery(d)
	if err != nil {
		return err
	}
	return p.nc.Publish(Subject(sessionID), data)
}

// Subscribe decodes every delivery published for sessionID.
func (p *Publisher) Subscribe(sessionID string, fn func(types.Delivery)) (*nats.Subscription, error) {
	return p.nc.Subscribe(Subject(sessionID), func(m *nats.Msg) {
		d, err := types.DecodeDelivery(m.Data)
		if err != nil {
			p.log.Warn("bad delivery on nats", zap.String("subject", m.Subject), zap.Error(err))
			return
		}
		fn(d)
	})
}

// Close flushes pending publishes before closing.
func (p *Publisher) Close() error {
	return p.nc.Drain()
}
