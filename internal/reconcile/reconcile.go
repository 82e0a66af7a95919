package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/orbisretail/loyalty/internal/broker"
	"github.com/orbisretail/loyalty/internal/model"
	"github.com/orbisretail/loyalty/internal/store"
)

// Reconciler периодически выравнивает ступень по баллам и заново
// публикует записи tier.changed, публикация которых не подтверждена.
// Публикация после фиксации не гарантирована, сверка делает канал
// самовосстанавливающимся
type Reconciler struct {
	store    store.Store
	broker   broker.Broker
	zaplog   *zap.Logger
	interval time.Duration
}

func NewReconciler(store store.Store, broker broker.Broker, interval time.Duration, zaplog *zap.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		broker:   broker,
		zaplog:   zaplog,
		interval: interval,
	}
}

func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.SweepOnce(ctx); err != nil {
				r.zaplog.Error("reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}

func (r *Reconciler) SweepOnce(ctx context.Context) error {
	active := true
	customers, err := r.store.CustomerList(ctx, store.CustomerFilter{Active: &active})
	if err != nil {
		return err
	}

	var repaired int
	for _, customer := range customers {
		result, err := r.store.RepairTier(ctx, customer.ID)
		if err != nil {
			r.zaplog.Error("tier repair failed",
				zap.String("customer_id", customer.ID),
				zap.Error(err),
			)
			continue
		}
		if !result.TierChanged {
			continue
		}
		// ремонт заводит свою неопубликованную запись tier.changed,
		// ее подхватит второй этап
		repaired++
		r.zaplog.Warn("tier drift repaired",
			zap.String("customer_id", customer.ID),
			zap.String("old_tier", result.OldTier),
			zap.String("new_tier", result.NewTier),
		)
	}

	republished, err := r.republishPending(ctx)
	if err != nil {
		return err
	}

	if repaired > 0 || republished > 0 {
		r.zaplog.Info("reconciliation sweep finished",
			zap.Int("customers", len(customers)),
			zap.Int("repaired", repaired),
			zap.Int("republished", republished),
		)
	}
	return nil
}

// republishPending заново публикует записи tier.changed без
// подтвержденной публикации - потерянные после фиксации события
func (r *Reconciler) republishPending(ctx context.Context) (int, error) {
	pending, err := r.store.UnpublishedTierChanges(ctx)
	if err != nil {
		return 0, err
	}

	var republished int
	for _, rec := range pending {
		err := r.broker.Publish(ctx, model.TopicTierChanged, rec.CustomerID, model.TierChanged{
			CustomerID:   rec.CustomerID,
			CustomerName: rec.CustomerName,
			OldTier:      rec.OldTier,
			NewTier:      rec.NewTier,
			Points:       rec.Points,
			Timestamp:    rec.CreatedAt,
		})
		if err != nil {
			// следующий проход попробует снова
			r.zaplog.Error("tier change re-publish failed",
				zap.String("customer_id", rec.CustomerID),
				zap.Int64("event_id", rec.EventID),
				zap.Error(err),
			)
			continue
		}
		if err := r.store.MarkTierChangePublished(ctx, rec.EventID); err != nil {
			r.zaplog.Error("mark tier change published failed",
				zap.Int64("event_id", rec.EventID),
				zap.Error(err),
			)
			continue
		}
		republished++
	}
	return republished, nil
}
