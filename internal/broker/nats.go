package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATS - канал между процессами поверх nats.go.
// Подписки с одной группой делят поток сообщений (queue group)
type NATS struct {
	conn   *nats.Conn
	zaplog *zap.Logger
	policy RetryPolicy
}

func NewNATS(url string, zaplog *zap.Logger, policy RetryPolicy) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.Name("loyalty"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &NATS{
		conn:   conn,
		zaplog: zaplog,
		policy: policy.normalized(),
	}, nil
}

func (n *NATS) Publish(_ context.Context, topic string, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Key:       key,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	return n.publishMessage(msg)
}

func (n *NATS) publishMessage(msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(msg.Topic, raw); err != nil {
		n.zaplog.Error("nats publish failed",
			zap.String("topic", msg.Topic),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (n *NATS) Subscribe(topic string, group string, handler Handler) error {
	_, err := n.conn.QueueSubscribe(topic, group, func(raw *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(raw.Data, &msg); err != nil {
			n.zaplog.Error("malformed message envelope",
				zap.String("topic", topic),
				zap.Error(err),
			)
			return
		}
		err := deliver(context.Background(), n.zaplog, n.policy, handler, msg)
		if err != nil {
			n.deadLetter(msg, err)
		}
	})
	return err
}

func (n *NATS) deadLetter(msg Message, cause error) {
	if isDLQTopic(msg.Topic) {
		n.zaplog.Error("dropping dead-letter message",
			zap.String("topic", msg.Topic),
			zap.String("message_id", msg.ID),
			zap.Error(cause),
		)
		return
	}
	n.zaplog.Error("message exhausted retry budget, sending to dead-letter",
		zap.String("topic", msg.Topic),
		zap.String("message_id", msg.ID),
		zap.Error(cause),
	)
	dead := msg
	dead.Topic = DLQTopic(msg.Topic)
	if err := n.publishMessage(dead); err != nil {
		n.zaplog.Error("dead-letter publish failed",
			zap.String("topic", dead.Topic),
			zap.Error(err),
		)
	}
}

func (n *NATS) Close(_ context.Context) error {
	return n.conn.Drain()
}
