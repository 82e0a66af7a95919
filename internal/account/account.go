package account

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/orbisretail/loyalty/internal/broker"
	"github.com/orbisretail/loyalty/internal/model"
	"github.com/orbisretail/loyalty/internal/store"
)

// Accounts - единственный владелец баллов и ступени клиента.
// Все мутации идут через него
type Accounts interface {
	ApplySale(ctx context.Context, customerID string, saleID string, amountCents int64) (store.ApplyResult, error)
	AdjustPoints(ctx context.Context, customerID string, delta int, reason string) (store.ApplyResult, error)
}

var ErrNegativeAmount = errors.New("negative sale amount")

const (
	conflictAttempts = 3
	conflictBackoff  = 50 * time.Millisecond

	publishAttempts = 3
	publishBackoff  = 50 * time.Millisecond
)

type accounts struct {
	store  store.Store
	broker broker.Broker
	zaplog *zap.Logger
}

func NewAccounts(store store.Store, broker broker.Broker, zaplog *zap.Logger) Accounts {
	return &accounts{
		store:  store,
		broker: broker,
		zaplog: zaplog,
	}
}

func (a *accounts) ApplySale(ctx context.Context, customerID string, saleID string, amountCents int64) (store.ApplyResult, error) {
	if amountCents < 0 {
		return store.ApplyResult{}, ErrNegativeAmount
	}

	result, err := a.withConflictRetry(ctx, func() (store.ApplyResult, error) {
		return a.store.ApplySale(ctx, customerID, saleID, amountCents)
	})
	if err != nil {
		return store.ApplyResult{}, err
	}

	if result.TierChanged && !result.Replayed {
		a.publishTierChange(ctx, result)
	}
	return result, nil
}

func (a *accounts) AdjustPoints(ctx context.Context, customerID string, delta int, reason string) (store.ApplyResult, error) {
	result, err := a.withConflictRetry(ctx, func() (store.ApplyResult, error) {
		return a.store.AdjustPoints(ctx, customerID, delta, reason)
	})
	if err != nil {
		return store.ApplyResult{}, err
	}

	if result.TierChanged {
		a.publishTierChange(ctx, result)
	}
	return result, nil
}

// Конфликт сериализации повторяем ограниченное число раз с паузой
// и джиттером, дальше отдаем наверх - канал доставит сообщение снова
func (a *accounts) withConflictRetry(ctx context.Context, mutate func() (store.ApplyResult, error)) (store.ApplyResult, error) {
	var result store.ApplyResult
	var err error
	for attempt := 1; attempt <= conflictAttempts; attempt++ {
		result, err = mutate()
		if !errors.Is(err, store.ErrConflict) || attempt == conflictAttempts {
			return result, err
		}

		backoff := conflictBackoff << (attempt - 1)
		backoff += time.Duration(rand.Int63n(int64(backoff)/2 + 1))
		a.zaplog.Warn("points mutation conflict, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			return store.ApplyResult{}, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return result, err
}

// Публикация после фиксации транзакции. Ошибка публикации не
// откатывает мутацию: запись tier.changed остается неопубликованной,
// сверка опубликует ее повторно
func (a *accounts) publishTierChange(ctx context.Context, result store.ApplyResult) {
	event := model.TierChanged{
		CustomerID:   result.Customer.ID,
		CustomerName: result.Customer.Name,
		OldTier:      result.OldTier,
		NewTier:      result.NewTier,
		Points:       result.NewPoints,
		Timestamp:    time.Now().UTC(),
	}

	var err error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		err = a.broker.Publish(ctx, model.TopicTierChanged, result.Customer.ID, event)
		if err == nil || attempt == publishAttempts {
			break
		}
		a.zaplog.Warn("tier change publish failed, retrying",
			zap.String("customer_id", result.Customer.ID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(publishBackoff << (attempt - 1)):
		}
	}
	if err != nil {
		a.zaplog.Error("tier change publish failed, reconciliation will re-emit",
			zap.String("customer_id", result.Customer.ID),
			zap.String("old_tier", result.OldTier),
			zap.String("new_tier", result.NewTier),
			zap.Error(err),
		)
		return
	}

	// Флаг снимается только после успешной публикации. Если снять
	// не удалось, сверка опубликует событие еще раз - доставка
	// и так at-least-once
	if result.TierEventID != 0 {
		if err := a.store.MarkTierChangePublished(ctx, result.TierEventID); err != nil {
			a.zaplog.Error("mark tier change published failed",
				zap.Int64("event_id", result.TierEventID),
				zap.Error(err),
			)
		}
	}
	a.zaplog.Info("tier changed",
		zap.String("customer_id", result.Customer.ID),
		zap.String("old_tier", result.OldTier),
		zap.String("new_tier", result.NewTier),
		zap.Int("points", result.NewPoints),
	)
}
