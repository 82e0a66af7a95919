package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Счетчики пропущенных продаж: сколько событий подтверждено без
// начисления баллов и почему
var (
	salesSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_sales_skipped_total",
		Help: "Sale events without customer_id, acknowledged without awarding points.",
	})
	salesUnknownCustomerTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_sales_unknown_customer_total",
		Help: "Sale events referencing a customer that does not exist.",
	})
)
