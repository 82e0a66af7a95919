package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/theplant/luhn"
	"go.uber.org/zap"

	"github.com/orbisretail/loyalty/internal/account"
	"github.com/orbisretail/loyalty/internal/broker"
	"github.com/orbisretail/loyalty/internal/ledger"
	"github.com/orbisretail/loyalty/internal/model"
	"github.com/orbisretail/loyalty/internal/store"
)

type Service interface {
	Register(ctx context.Context, reg Registration) (model.Customer, error)
	GetCustomer(ctx context.Context, id string) (model.Customer, []model.CustomerEvent, error)
	ListCustomers(ctx context.Context, filter store.CustomerFilter) ([]model.Customer, error)
	UpdateCustomer(ctx context.Context, id string, upd store.CustomerUpdate) (model.Customer, error)
	DeactivateCustomer(ctx context.Context, id string) (model.Customer, error)
	AdjustPoints(ctx context.Context, id string, delta int, reason string) (store.ApplyResult, error)
	Tiers(ctx context.Context) ([]model.Tier, error)
	Analytics(ctx context.Context) (model.Analytics, error)
	Start() error
}

var (
	ErrInsufficientData    = errors.New("insufficient data")
	ErrUnprocessableEntity = errors.New("unprocessable entity")
	ErrAlreadyExists       = errors.New("already exists")
	ErrNotFound            = errors.New("not found")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrConflict            = errors.New("conflict")
)

type Registration struct {
	Name       string
	Email      string
	CardNumber string
}

type service struct {
	store    store.Store
	accounts account.Accounts
	broker   broker.Broker
	ledger   *ledger.Ledger
	group    string
	zaplog   *zap.Logger
}

func NewService(store store.Store, accounts account.Accounts, broker broker.Broker, led *ledger.Ledger, group string, zaplog *zap.Logger) Service {
	return &service{
		store:    store,
		accounts: accounts,
		broker:   broker,
		ledger:   led,
		group:    group,
		zaplog:   zaplog,
	}
}

// Start подписывает сервис на входящие продажи
func (service *service) Start() error {
	return service.broker.Subscribe(model.TopicSaleCompleted, service.group, service.handleSaleCompleted)
}

func (service *service) Register(ctx context.Context, reg Registration) (model.Customer, error) {
	if reg.Name == "" || reg.Email == "" {
		return model.Customer{}, ErrInsufficientData
	}
	if err := validateCardNumber(reg.CardNumber); err != nil {
		return model.Customer{}, err
	}

	now := time.Now().UTC()
	customer := model.Customer{
		ID:         uuid.NewString(),
		Name:       reg.Name,
		Email:      reg.Email,
		CardNumber: reg.CardNumber,
		Tier:       service.ledger.Lowest().Name,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := service.store.CustomerCreate(ctx, customer); err != nil {
		return model.Customer{}, mapStoreErr(err)
	}

	// Уведомление подписчикам, состояние уже зафиксировано
	err := service.broker.Publish(ctx, model.TopicCustomerRegistered, customer.ID, model.CustomerRegistered{
		CustomerID: customer.ID,
		Name:       customer.Name,
		Email:      customer.Email,
		Tier:       customer.Tier,
		Timestamp:  now,
	})
	if err != nil {
		service.zaplog.Error("customer registered publish failed",
			zap.String("customer_id", customer.ID),
			zap.Error(err),
		)
	}

	return customer, nil
}

func (service *service) GetCustomer(ctx context.Context, id string) (model.Customer, []model.CustomerEvent, error) {
	customer, err := service.store.CustomerGet(ctx, id)
	if err != nil {
		return model.Customer{}, nil, mapStoreErr(err)
	}
	events, err := service.store.EventsGet(ctx, id)
	if err != nil {
		return model.Customer{}, nil, err
	}
	return customer, events, nil
}

func (service *service) ListCustomers(ctx context.Context, filter store.CustomerFilter) ([]model.Customer, error) {
	return service.store.CustomerList(ctx, filter)
}

func (service *service) UpdateCustomer(ctx context.Context, id string, upd store.CustomerUpdate) (model.Customer, error) {
	if upd.CardNumber != nil {
		if err := validateCardNumber(*upd.CardNumber); err != nil {
			return model.Customer{}, err
		}
	}
	customer, err := service.store.CustomerUpdate(ctx, id, upd)
	if err != nil {
		return model.Customer{}, mapStoreErr(err)
	}
	return customer, nil
}

func (service *service) DeactivateCustomer(ctx context.Context, id string) (model.Customer, error) {
	customer, err := service.store.CustomerDeactivate(ctx, id)
	if err != nil {
		return model.Customer{}, mapStoreErr(err)
	}
	return customer, nil
}

func (service *service) AdjustPoints(ctx context.Context, id string, delta int, reason string) (store.ApplyResult, error) {
	if reason == "" {
		return store.ApplyResult{}, ErrInsufficientData
	}
	result, err := service.accounts.AdjustPoints(ctx, id, delta, reason)
	if err != nil {
		return store.ApplyResult{}, mapStoreErr(err)
	}
	return result, nil
}

func (service *service) Tiers(ctx context.Context) ([]model.Tier, error) {
	return service.store.TiersGet(ctx)
}

func (service *service) Analytics(ctx context.Context) (model.Analytics, error) {
	return service.store.Analytics(ctx)
}

// handleSaleCompleted - обработчик топика sale.completed.
// Идемпотентность обеспечивает аггрегат по sale_id, поэтому повторная
// доставка безопасна
func (service *service) handleSaleCompleted(ctx context.Context, msg broker.Message) error {
	var sale model.SaleCompleted
	if err := json.Unmarshal(msg.Data, &sale); err != nil {
		return broker.Permanent(err)
	}

	if sale.CustomerID == "" {
		// гостевая покупка: подтверждаем и считаем
		service.zaplog.Warn("sale event missing customer_id, skipping loyalty points",
			zap.String("sale_id", sale.SaleID),
		)
		salesSkippedTotal.Inc()
		return nil
	}
	if sale.SaleID == "" {
		return broker.Permanent(errors.New("sale event missing sale_id"))
	}
	if sale.Total < 0 {
		return broker.Permanent(account.ErrNegativeAmount)
	}
	amountCents := int64(math.Round(sale.Total * 100))

	result, err := service.accounts.ApplySale(ctx, sale.CustomerID, sale.SaleID, amountCents)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNoRows):
			// клиента нет: повтор не поможет, подтверждаем и считаем
			service.zaplog.Warn("customer not found for points addition",
				zap.String("customer_id", sale.CustomerID),
				zap.String("sale_id", sale.SaleID),
			)
			salesUnknownCustomerTotal.Inc()
			return nil
		case errors.Is(err, store.ErrAlreadyExists):
			return broker.Permanent(err)
		case errors.Is(err, account.ErrNegativeAmount):
			return broker.Permanent(err)
		default:
			// в том числе исчерпанный ErrConflict: канал доставит снова
			return err
		}
	}

	if result.Replayed {
		service.zaplog.Info("sale already applied, replay acknowledged",
			zap.String("sale_id", sale.SaleID),
		)
		return nil
	}
	service.zaplog.Info("points added",
		zap.String("customer_id", sale.CustomerID),
		zap.String("sale_id", sale.SaleID),
		zap.Int("points_added", result.PointsAdded),
		zap.Int("points", result.NewPoints),
	)
	return nil
}

// Номер карты лояльности проверяется по алгоритму Луна
func validateCardNumber(card string) error {
	if card == "" {
		return nil
	}
	n, err := strconv.Atoi(card)
	if err != nil || n < 0 {
		return ErrUnprocessableEntity
	}
	if !luhn.Valid(n) {
		return ErrUnprocessableEntity
	}
	return nil
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNoRows):
		return ErrNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		return ErrAlreadyExists
	case errors.Is(err, store.ErrPointsIncorrect):
		return ErrInvalidArgument
	case errors.Is(err, account.ErrNegativeAmount):
		return ErrInvalidArgument
	case errors.Is(err, store.ErrConflict):
		return ErrConflict
	default:
		return err
	}
}
