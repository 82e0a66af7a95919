package broker

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Конверт сообщения. Key - ключ упорядочивания (id клиента):
// порядок гарантируется в пределах подписки, глобального порядка нет
type Message struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Key       string          `json:"key,omitempty"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handler вызывается на каждую доставку. Доставка at-least-once:
// обработчик обязан быть идемпотентным
type Handler func(ctx context.Context, msg Message) error

type Broker interface {
	Publish(ctx context.Context, topic string, key string, payload any) error
	Subscribe(topic string, group string, handler Handler) error
	Close(ctx context.Context) error
}

var ErrClosed = errors.New("broker is closed")

// Политика повторной доставки. После исчерпания попыток сообщение
// уходит в dead-letter топик
type RetryPolicy struct {
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	HandlerTimeout time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = 100 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 5 * time.Second
	}
	return p
}

const dlqSuffix = ".dlq"

func DLQTopic(topic string) string {
	return topic + dlqSuffix
}

func isDLQTopic(topic string) bool {
	return len(topic) > len(dlqSuffix) && topic[len(topic)-len(dlqSuffix):] == dlqSuffix
}

// Permanent помечает ошибку как неповторяемую: сообщение сразу
// уходит в dead-letter без повторных попыток
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var perr *permanentError
	return errors.As(err, &perr)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return "permanent: " + e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}
