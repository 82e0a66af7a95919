package dashboard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	salesCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_sales_completed_total",
		Help: "Sale events observed by the dashboard aggregation.",
	})
	salesRevenueTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_sales_revenue_total",
		Help: "Accumulated sale totals in currency units.",
	})
	customersRegisteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_customers_registered_total",
		Help: "Customer registration events.",
	})
	tierUpgradesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_tier_upgrades_total",
		Help: "Tier change events moving a customer up.",
	})
	tierDowngradesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_tier_downgrades_total",
		Help: "Tier change events moving a customer down.",
	})
	inventoryUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_inventory_updates_total",
		Help: "Inventory update events from the inventory service.",
	})
	transactionsRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_transactions_recorded_total",
		Help: "Transaction events from the accounting service.",
	})
)
