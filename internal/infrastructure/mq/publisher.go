package mq

import (
	"context"

	"earnsystem/pkg/logger"

	"go.uber.org/zap"
)

// Message is one outbox row on its way to the transport. ID is unique per
// message; Key groups messages of one recipient.
type Message struct {
	ID      string
	Topic   string
	Key     string
	Payload []byte
}

// Publisher hands one notification message to the transport.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// LogPublisher drops messages after logging them. Used with transport "none".
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, msg Message) error {
	logger.Debug("notification dropped", zap.String("topic", msg.Topic), zap.String("id", msg.ID), zap.Int("bytes", len(msg.Payload)))
	return nil
}

func (LogPublisher) Close() error { return nil }
