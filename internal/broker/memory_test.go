package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBroker(t *testing.T) *Memory {
	m := NewMemory(zap.NewNop(), RetryPolicy{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Close(ctx)
	})
	return m
}

type testPayload struct {
	Value int `json:"value"`
}

func TestMemoryPublishSubscribe(t *testing.T) {
	m := newTestBroker(t)

	got := make(chan Message, 1)
	err := m.Subscribe("orders.test", "g", func(_ context.Context, msg Message) error {
		got <- msg
		return nil
	})
	require.NoError(t, err)

	err = m.Publish(context.Background(), "orders.test", "customer-1", testPayload{Value: 42})
	require.NoError(t, err)

	select {
	case msg := <-got:
		require.Equal(t, "orders.test", msg.Topic)
		require.Equal(t, "customer-1", msg.Key)
		require.NotEmpty(t, msg.ID)
		var payload testPayload
		require.NoError(t, json.Unmarshal(msg.Data, &payload))
		require.Equal(t, 42, payload.Value)
	case <-time.After(time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestMemoryDeliveryOrder(t *testing.T) {
	m := newTestBroker(t)

	var mu sync.Mutex
	var seen []int
	done := make(chan struct{})
	err := m.Subscribe("orders.test", "g", func(_ context.Context, msg Message) error {
		var payload testPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return err
		}
		mu.Lock()
		seen = append(seen, payload.Value)
		if len(seen) == 10 {
			close(done)
		}
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, m.Publish(context.Background(), "orders.test", "k", testPayload{Value: i}))
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not all messages delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, v := range seen {
		require.Equal(t, i, v)
	}
}

func TestMemoryRetryThenSuccess(t *testing.T) {
	m := newTestBroker(t)

	var attempts atomic.Int32
	done := make(chan struct{})
	err := m.Subscribe("orders.test", "g", func(_ context.Context, _ Message) error {
		if attempts.Add(1) < 3 {
			return errors.New("temporary")
		}
		close(done)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, m.Publish(context.Background(), "orders.test", "", testPayload{}))

	select {
	case <-done:
		require.Equal(t, int32(3), attempts.Load())
	case <-time.After(time.Second):
		t.Fatal("handler never succeeded")
	}
}

func TestMemoryDeadLetterAfterRetryBudget(t *testing.T) {
	m := newTestBroker(t)

	var attempts atomic.Int32
	err := m.Subscribe("orders.test", "g", func(_ context.Context, _ Message) error {
		attempts.Add(1)
		return errors.New("broken")
	})
	require.NoError(t, err)

	dead := make(chan Message, 1)
	err = m.Subscribe(DLQTopic("orders.test"), "g", func(_ context.Context, msg Message) error {
		dead <- msg
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, m.Publish(context.Background(), "orders.test", "k", testPayload{Value: 7}))

	select {
	case msg := <-dead:
		require.Equal(t, "orders.test.dlq", msg.Topic)
		require.Equal(t, int32(3), attempts.Load())
		var payload testPayload
		require.NoError(t, json.Unmarshal(msg.Data, &payload))
		require.Equal(t, 7, payload.Value)
	case <-time.After(time.Second):
		t.Fatal("message never reached dead-letter")
	}
}

// Неповторяемая ошибка уходит в dead-letter без повторных попыток
func TestMemoryPermanentErrorSkipsRetries(t *testing.T) {
	m := newTestBroker(t)

	var attempts atomic.Int32
	err := m.Subscribe("orders.test", "g", func(_ context.Context, _ Message) error {
		attempts.Add(1)
		return Permanent(errors.New("bad payload"))
	})
	require.NoError(t, err)

	dead := make(chan Message, 1)
	err = m.Subscribe(DLQTopic("orders.test"), "g", func(_ context.Context, msg Message) error {
		dead <- msg
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, m.Publish(context.Background(), "orders.test", "", testPayload{}))

	select {
	case <-dead:
		require.Equal(t, int32(1), attempts.Load())
	case <-time.After(time.Second):
		t.Fatal("message never reached dead-letter")
	}
}

// Паника обработчика не роняет диспетчер: сообщение уходит
// в dead-letter, следующие доставляются
func TestMemoryHandlerPanicGoesToDeadLetter(t *testing.T) {
	m := newTestBroker(t)

	var attempts atomic.Int32
	got := make(chan Message, 1)
	err := m.Subscribe("orders.test", "g", func(_ context.Context, msg Message) error {
		if attempts.Add(1) == 1 {
			panic("counter cannot decrease in value")
		}
		got <- msg
		return nil
	})
	require.NoError(t, err)

	dead := make(chan Message, 1)
	err = m.Subscribe(DLQTopic("orders.test"), "g", func(_ context.Context, msg Message) error {
		dead <- msg
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, m.Publish(context.Background(), "orders.test", "", testPayload{Value: 1}))

	select {
	case <-dead:
		// без повторных попыток
		require.Equal(t, int32(1), attempts.Load())
	case <-time.After(time.Second):
		t.Fatal("message never reached dead-letter")
	}

	require.NoError(t, m.Publish(context.Background(), "orders.test", "", testPayload{Value: 2}))
	select {
	case msg := <-got:
		var payload testPayload
		require.NoError(t, json.Unmarshal(msg.Data, &payload))
		require.Equal(t, 2, payload.Value)
	case <-time.After(time.Second):
		t.Fatal("dispatcher died after handler panic")
	}
}

func TestMemoryFanOut(t *testing.T) {
	m := newTestBroker(t)

	first := make(chan Message, 1)
	second := make(chan Message, 1)
	require.NoError(t, m.Subscribe("orders.test", "a", func(_ context.Context, msg Message) error {
		first <- msg
		return nil
	}))
	require.NoError(t, m.Subscribe("orders.test", "b", func(_ context.Context, msg Message) error {
		second <- msg
		return nil
	}))

	require.NoError(t, m.Publish(context.Background(), "orders.test", "", testPayload{Value: 1}))

	for _, ch := range []chan Message{first, second} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive message")
		}
	}
}

func TestMemoryClosedBroker(t *testing.T) {
	m := NewMemory(zap.NewNop(), RetryPolicy{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Close(ctx))

	err := m.Publish(context.Background(), "orders.test", "", testPayload{})
	require.ErrorIs(t, err, ErrClosed)
	err = m.Subscribe("orders.test", "g", func(_ context.Context, _ Message) error { return nil })
	require.ErrorIs(t, err, ErrClosed)
}

func TestPermanentUnwrap(t *testing.T) {
	base := errors.New("cause")
	err := Permanent(base)
	require.True(t, IsPermanent(err))
	require.ErrorIs(t, err, base)
	require.False(t, IsPermanent(base))
	require.Nil(t, Permanent(nil))
}
