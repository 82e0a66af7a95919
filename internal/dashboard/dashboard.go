package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orbisretail/loyalty/internal/broker"
	"github.com/orbisretail/loyalty/internal/ledger"
	"github.com/orbisretail/loyalty/internal/model"
)

// Скользящие счетчики за день для панели управления
type Summary struct {
	Date             string  `json:"date"`
	SalesCount       int     `json:"sales_count"`
	Revenue          float64 `json:"revenue"`
	NewCustomers     int     `json:"new_customers"`
	TierUpgrades     int     `json:"tier_upgrades"`
	TierDowngrades   int     `json:"tier_downgrades"`
	InventoryUpdates int     `json:"inventory_updates"`
	Transactions     int     `json:"transactions"`
}

type Dashboard struct {
	ledger *ledger.Ledger
	zaplog *zap.Logger

	mu   sync.Mutex
	days map[string]*Summary
}

func New(led *ledger.Ledger, zaplog *zap.Logger) *Dashboard {
	return &Dashboard{
		ledger: led,
		zaplog: zaplog,
		days:   map[string]*Summary{},
	}
}

func (d *Dashboard) Start(b broker.Broker, group string) error {
	subscriptions := map[string]broker.Handler{
		model.TopicSaleCompleted:       d.handleSale,
		model.TopicTierChanged:         d.handleTierChanged,
		model.TopicCustomerRegistered:  d.handleRegistered,
		model.TopicInventoryUpdated:    d.handleInventory,
		model.TopicTransactionRecorded: d.handleTransaction,
	}
	for topic, handler := range subscriptions {
		if err := b.Subscribe(topic, group, handler); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dashboard) Summary() Summary {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *d.today()
}

// today возвращает счетчики текущего дня, d.mu уже взят
func (d *Dashboard) today() *Summary {
	date := time.Now().UTC().Format("2006-01-02")
	day, ok := d.days[date]
	if !ok {
		day = &Summary{Date: date}
		d.days[date] = day
	}
	return day
}

func (d *Dashboard) handleSale(_ context.Context, msg broker.Message) error {
	var sale model.SaleCompleted
	if err := json.Unmarshal(msg.Data, &sale); err != nil {
		return broker.Permanent(err)
	}
	if sale.Total < 0 {
		// prometheus-счетчик не принимает отрицательные значения
		return broker.Permanent(fmt.Errorf("negative sale total: %v", sale.Total))
	}

	d.mu.Lock()
	day := d.today()
	day.SalesCount++
	day.Revenue += sale.Total
	d.mu.Unlock()

	salesCompletedTotal.Inc()
	salesRevenueTotal.Add(sale.Total)
	return nil
}

func (d *Dashboard) handleTierChanged(_ context.Context, msg broker.Message) error {
	var change model.TierChanged
	if err := json.Unmarshal(msg.Data, &change); err != nil {
		return broker.Permanent(err)
	}

	up := d.ledger.Compare(change.NewTier, change.OldTier) > 0

	d.mu.Lock()
	day := d.today()
	if up {
		day.TierUpgrades++
	} else {
		day.TierDowngrades++
	}
	d.mu.Unlock()

	if up {
		tierUpgradesTotal.Inc()
	} else {
		tierDowngradesTotal.Inc()
	}
	return nil
}

func (d *Dashboard) handleRegistered(_ context.Context, msg broker.Message) error {
	var event model.CustomerRegistered
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return broker.Permanent(err)
	}

	d.mu.Lock()
	d.today().NewCustomers++
	d.mu.Unlock()

	customersRegisteredTotal.Inc()
	return nil
}

// Склад и бухгалтерия - внешние сервисы, их полезная нагрузка
// здесь только считается
func (d *Dashboard) handleInventory(_ context.Context, _ broker.Message) error {
	d.mu.Lock()
	d.today().InventoryUpdates++
	d.mu.Unlock()

	inventoryUpdatesTotal.Inc()
	return nil
}

func (d *Dashboard) handleTransaction(_ context.Context, _ broker.Message) error {
	d.mu.Lock()
	d.today().Transactions++
	d.mu.Unlock()

	transactionsRecordedTotal.Inc()
	return nil
}
