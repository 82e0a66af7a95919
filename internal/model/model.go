package model

import "time"

// Клиент программы лояльности

type Customer struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	CardNumber string    `json:"card_number,omitempty"`
	TotalSpent int64     `json:"total_spent_cents"`
	Points     int       `json:"points"`
	Tier       string    `json:"tier"`
	Active     bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Ступень лояльности. MaxPoints = nil для верхней (неограниченной) ступени
type Tier struct {
	Name         string  `json:"name" yaml:"name"`
	MinPoints    int     `json:"min_points" yaml:"min_points"`
	MaxPoints    *int    `json:"max_points" yaml:"max_points"`
	DiscountRate float64 `json:"discount_rate" yaml:"discount_rate"`
}

// Журнал событий клиента

type CustomerEvent struct {
	ID         int64     `json:"id"`
	Type       string    `json:"event_type"`
	CustomerID string    `json:"customer_id"`
	SaleID     string    `json:"sale_id,omitempty"`
	Payload    []byte    `json:"payload,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	EventCustomerRegistered  = "customer.registered"
	EventCustomerUpdated     = "customer.updated"
	EventCustomerDeactivated = "customer.deactivated"
	EventPointsAdded         = "points.added"
	EventPointsAdjusted      = "points.adjusted"
	EventTierChanged         = "tier.changed"
)

// Топики обмена между сервисами

const (
	TopicSaleCompleted       = "sale.completed"
	TopicTierChanged         = "customer.tier-upgraded"
	TopicCustomerRegistered  = "customer.registered"
	TopicInventoryUpdated    = "inventory.updated"
	TopicTransactionRecorded = "transaction.recorded"
)

// Продажа завершена. CustomerID может быть пустым (гостевая покупка),
// Total в денежных единицах (доллары)
type SaleCompleted struct {
	SaleID     string    `json:"sale_id"`
	CustomerID string    `json:"customer_id"`
	ProductID  string    `json:"product_id,omitempty"`
	Quantity   int       `json:"quantity,omitempty"`
	Total      float64   `json:"total"`
	Date       string    `json:"date,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Смена ступени. Публикуется и при понижении: NewTier ниже OldTier
type TierChanged struct {
	CustomerID   string    `json:"customer_id"`
	CustomerName string    `json:"customer_name"`
	OldTier      string    `json:"old_tier"`
	NewTier      string    `json:"new_tier"`
	Points       int       `json:"points"`
	Timestamp    time.Time `json:"timestamp"`
}

// Регистрация клиента
type CustomerRegistered struct {
	CustomerID string    `json:"customer_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Tier       string    `json:"tier"`
	Timestamp  time.Time `json:"timestamp"`
}

// Сводная аналитика по клиентам
type Analytics struct {
	TotalCustomers    int            `json:"total_customers"`
	ActiveCustomers   int            `json:"active_customers"`
	InactiveCustomers int            `json:"inactive_customers"`
	TierDistribution  map[string]int `json:"loyalty_distribution"`
}
