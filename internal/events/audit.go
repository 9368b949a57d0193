package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// RunAudit subscribes to topics and logs every message until ctx ends.
func RunAudit(ctx context.Context, sub message.Subscriber, log *zap.Logger, topics ...string) error {
	if log == nil {
		log = zap.NewNop()
	}
	if len(topics) == 0 {
		topics = AllTopics
	}
	for _, topic := range topics {
		ch, err := sub.Subscribe(ctx, topic)
		if err != nil {
			return err
		}
		go consume(topic, ch, log)
	}
	return nil
}

func consume(topic string, ch <-chan *message.Message, log *zap.Logger) {
	for msg := range ch {
		log.Info("audit",
			zap.String("topic", topic),
			zap.String("message_id", msg.UUID),
			zap.String("request_id", msg.Metadata.Get(metadataRequestID)),
			zap.ByteString("payload", msg.Payload),
		)
		msg.Ack()
	}
}
