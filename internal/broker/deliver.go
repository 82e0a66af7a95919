package broker

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// deliver выполняет обработчик с таймаутом и ограниченным числом
// повторов с экспоненциальной паузой и джиттером. Возвращает последнюю
// ошибку, если попытки исчерпаны - вызывающий решает про dead-letter
func deliver(ctx context.Context, zaplog *zap.Logger, policy RetryPolicy, handler Handler, msg Message) error {
	policy = policy.normalized()

	var err error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		hctx := ctx
		cancel := func() {}
		if policy.HandlerTimeout > 0 {
			hctx, cancel = context.WithTimeout(ctx, policy.HandlerTimeout)
		}
		err = invoke(hctx, handler, msg)
		cancel()
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		backoff := policy.BaseBackoff << (attempt - 1)
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
		backoff += time.Duration(rand.Int63n(int64(backoff)/2 + 1))
		zaplog.Warn("message handler failed, retrying",
			zap.String("topic", msg.Topic),
			zap.String("message_id", msg.ID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

// invoke превращает панику обработчика в неповторяемую ошибку:
// сообщение уходит в dead-letter, диспетчер остается жив
func invoke(ctx context.Context, handler Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return handler(ctx, msg)
}
