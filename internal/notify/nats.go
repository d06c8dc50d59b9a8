package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSPublisher mirrors hub traffic onto a NATS subject tree so other
// services can consume indexed events without a database connection.
// Subjects follow {prefix}.{topic with ':' replaced by '.'}, e.g.
// zeitgeist.events.round.settled.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

func NewNATSPublisher(url, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "zeitgeist.events"
	}
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}, nil
}

// Run drains a hub subscription until the context ends. Publish failures
// are logged and skipped; consumers can always fall back to the event
// log table.
func (p *NATSPublisher) Run(ctx context.Context, sub *Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sub.C:
			if err := p.publish(msg); err != nil {
				p.logger.Warn("nats publish failed",
					zap.String("topic", msg.Topic),
					zap.Error(err))
			}
		}
	}
}

func (p *NATSPublisher) publish(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	subject := p.prefix + "." + strings.ReplaceAll(msg.Topic, ":", ".")
	return p.conn.Publish(subject, data)
}

func (p *NATSPublisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Drain()
}
