package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/orbisretail/loyalty/internal/broker"
	"github.com/orbisretail/loyalty/internal/config"
	"github.com/orbisretail/loyalty/internal/model"
)

// Notifier доставляет события смены ступени на внешний webhook.
// Без настроенного адреса подписка не создается
type Notifier struct {
	client *resty.Client
	url    string
	zaplog *zap.Logger
}

func NewNotifier(cfg config.NotifierConfig, zaplog *zap.Logger) *Notifier {
	client := resty.New().
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(2)
	return &Notifier{
		client: client,
		url:    cfg.WebhookURL,
		zaplog: zaplog,
	}
}

func (n *Notifier) Start(b broker.Broker, group string) error {
	if n.url == "" {
		n.zaplog.Warn("webhook url is not configured, notifier disabled")
		return nil
	}
	return b.Subscribe(model.TopicTierChanged, group, n.handleTierChanged)
}

func (n *Notifier) handleTierChanged(ctx context.Context, msg broker.Message) error {
	var change model.TierChanged
	if err := json.Unmarshal(msg.Data, &change); err != nil {
		return broker.Permanent(err)
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(change).
		Post(n.url)
	if err != nil {
		return err
	}
	if resp.StatusCode() >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook status: %d", resp.StatusCode())
	}

	n.zaplog.Info("tier change notification delivered",
		zap.String("customer_id", change.CustomerID),
		zap.String("new_tier", change.NewTier),
	)
	return nil
}
