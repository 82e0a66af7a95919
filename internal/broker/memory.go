package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Memory - канал в пределах процесса. Каждая подписка получает свою
// очередь и своего диспетчера, порядок доставки в пределах подписки
// совпадает с порядком публикации
type Memory struct {
	zaplog *zap.Logger
	policy RetryPolicy

	mu     sync.Mutex
	subs   map[string][]*memorySub
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type memorySub struct {
	topic   string
	handler Handler

	mu      sync.Mutex
	backlog []Message
	notify  chan struct{}
}

func NewMemory(zaplog *zap.Logger, policy RetryPolicy) *Memory {
	ctx, cancel := context.WithCancel(context.Background())
	return &Memory{
		zaplog: zaplog,
		policy: policy.normalized(),
		subs:   map[string][]*memorySub{},
		ctx:    ctx,
		cancel: cancel,
	}
}

func (m *Memory) Publish(_ context.Context, topic string, key string, payload any) error {
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
	return m.publishMessage(msg)
}

func (m *Memory) publishMessage(msg Message) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	subs := m.subs[msg.Topic]
	m.mu.Unlock()

	for _, sub := range subs {
		sub.enqueue(msg)
	}
	return nil
}

// Группа в пределах процесса не играет роли, параметр сохранен
// ради общего интерфейса с NATS
func (m *Memory) Subscribe(topic string, _ string, handler Handler) error {
	sub := &memorySub{
		topic:   topic,
		handler: handler,
		notify:  make(chan struct{}, 1),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.subs[topic] = append(m.subs[topic], sub)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.dispatch(sub)
	return nil
}

func (m *Memory) dispatch(sub *memorySub) {
	defer m.wg.Done()
	for {
		msg, ok := sub.next()
		if !ok {
			select {
			case <-m.ctx.Done():
				return
			case <-sub.notify:
			}
			continue
		}

		err := deliver(m.ctx, m.zaplog, m.policy, sub.handler, msg)
		if err != nil && m.ctx.Err() == nil {
			m.deadLetter(msg, err)
		}
	}
}

func (m *Memory) deadLetter(msg Message, cause error) {
	if isDLQTopic(msg.Topic) {
		// dead-letter для dead-letter не заводим
		m.zaplog.Error("dropping dead-letter message",
			zap.String("topic", msg.Topic),
			zap.String("message_id", msg.ID),
			zap.Error(cause),
		)
		return
	}
	m.zaplog.Error("message exhausted retry budget, sending to dead-letter",
		zap.String("topic", msg.Topic),
		zap.String("message_id", msg.ID),
		zap.Error(cause),
	)
	dead := msg
	dead.Topic = DLQTopic(msg.Topic)
	if err := m.publishMessage(dead); err != nil {
		m.zaplog.Error("dead-letter publish failed",
			zap.String("topic", dead.Topic),
			zap.Error(err),
		)
	}
}

func (m *Memory) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *memorySub) enqueue(msg Message) {
	s.mu.Lock()
	s.backlog = append(s.backlog, msg)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memorySub) next() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.backlog) == 0 {
		return Message{}, false
	}
	msg := s.backlog[0]
	s.backlog = s.backlog[1:]
	return msg, true
}
