package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/orbisretail/loyalty/internal/config"
	"github.com/orbisretail/loyalty/internal/ledger"
	"github.com/orbisretail/loyalty/internal/model"
)

type Store interface {
	CustomerCreate(ctx context.Context, customer model.Customer) error
	CustomerGet(ctx context.Context, id string) (model.Customer, error)
	CustomerList(ctx context.Context, filter CustomerFilter) ([]model.Customer, error)
	CustomerUpdate(ctx context.Context, id string, upd CustomerUpdate) (model.Customer, error)
	CustomerDeactivate(ctx context.Context, id string) (model.Customer, error)
	ApplySale(ctx context.Context, customerID string, saleID string, amountCents int64) (ApplyResult, error)
	AdjustPoints(ctx context.Context, customerID string, delta int, reason string) (ApplyResult, error)
	RepairTier(ctx context.Context, customerID string) (ApplyResult, error)
	UnpublishedTierChanges(ctx context.Context) ([]TierChangeRecord, error)
	MarkTierChangePublished(ctx context.Context, eventID int64) error
	EventsGet(ctx context.Context, customerID string) ([]model.CustomerEvent, error)
	TiersGet(ctx context.Context) ([]model.Tier, error)
	Analytics(ctx context.Context) (model.Analytics, error)
	Close() error
}

var (
	ErrNoRows          = errors.New("no rows")
	ErrAlreadyExists   = errors.New("already exists")
	ErrPointsIncorrect = errors.New("points value is incorrect")
	ErrConflict        = errors.New("concurrent modification")
)

type CustomerFilter struct {
	Active *bool
	Tier   string
}

type CustomerUpdate struct {
	Name       *string
	Email      *string
	CardNumber *string
}

// ApplyResult - итог мутации баллов. Replayed = true, если sale_id
// уже был применен и состояние не менялось. TierEventID - id записи
// tier.changed в журнале, 0 если ступень не менялась
type ApplyResult struct {
	Customer    model.Customer
	PointsAdded int
	OldPoints   int
	NewPoints   int
	OldTier     string
	NewTier     string
	TierChanged bool
	TierEventID int64
	Replayed    bool
}

// Запись tier.changed, публикация которой не подтверждена.
// Смена ступени фиксируется вместе с баллами, а публикуется после
// коммита; эта запись закрывает разрыв между ними
type TierChangeRecord struct {
	EventID      int64
	CustomerID   string
	CustomerName string
	OldTier      string
	NewTier      string
	Points       int
	CreatedAt    time.Time
}

type store struct {
	database *sql.DB
	ledger   *ledger.Ledger
}

func NewStore(cfg config.StoreConfig, led *ledger.Ledger) (Store, error) {
	db, err := sql.Open("pgx", cfg.DBDsn)
	if err != nil {
		return nil, err
	}

	// Таблица клиентов
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS customers (" +
			" id VARCHAR (36) PRIMARY KEY," +
			" name VARCHAR (100) NOT NULL," +
			" email VARCHAR (100) NOT NULL UNIQUE," +
			" card_number VARCHAR (20)," +
			" total_spent BIGINT NOT NULL DEFAULT 0," +
			" points INTEGER NOT NULL DEFAULT 0 CHECK (points >= 0)," +
			" tier VARCHAR (20) NOT NULL," +
			" active BOOLEAN NOT NULL DEFAULT TRUE," +
			" created_at TIMESTAMP NOT NULL," +
			" updated_at TIMESTAMP NOT NULL" +
			" );")
	if err != nil {
		return nil, err
	}

	// Журнал событий клиента.
	// Только добавление записей: журнал служит аудитом и защитой
	// от повторного применения продажи (уникальный sale_id)
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS customer_events (" +
			" id BIGSERIAL PRIMARY KEY," +
			" event_type VARCHAR (30) NOT NULL," +
			" customer_id VARCHAR (36) NOT NULL," +
			" sale_id VARCHAR (36)," +
			" payload JSONB," +
			" published BOOLEAN NOT NULL DEFAULT FALSE," +
			" created_at TIMESTAMP NOT NULL" +
			" );")
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS customer_events_sale_id" +
			" ON customer_events (sale_id) WHERE sale_id IS NOT NULL;")
	if err != nil {
		return nil, err
	}

	// Таблица ступеней. Заполняется один раз из таблицы в памяти,
	// дальше только чтение
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS loyalty_tiers (" +
			" name VARCHAR (20) PRIMARY KEY," +
			" min_points INTEGER NOT NULL," +
			" max_points INTEGER," +
			" discount_rate NUMERIC (5, 2) NOT NULL DEFAULT 0" +
			" );")
	if err != nil {
		return nil, err
	}
	for _, tier := range led.Tiers() {
		_, err = db.Exec(
			"INSERT INTO loyalty_tiers (name, min_points, max_points, discount_rate)"+
				" VALUES ($1, $2, $3, $4)"+
				" ON CONFLICT (name) DO NOTHING",
			tier.Name, tier.MinPoints, tier.MaxPoints, tier.DiscountRate)
		if err != nil {
			return nil, err
		}
	}

	return &store{
		database: db,
		ledger:   led,
	}, nil
}

func (store *store) Close() error {
	return store.database.Close()
}

func (store *store) CustomerCreate(ctx context.Context, customer model.Customer) error {
	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO customers (id, name, email, card_number, total_spent, points, tier, active, created_at, updated_at)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		customer.ID,
		customer.Name,
		customer.Email,
		customer.CardNumber,
		customer.TotalSpent,
		customer.Points,
		customer.Tier,
		customer.Active,
		customer.CreatedAt,
		customer.UpdatedAt)
	if err != nil {
		// Проверка: уже существует
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return err
	}

	payload, _ := json.Marshal(customer)
	err = appendEvent(ctx, tx, model.CustomerEvent{
		Type:       model.EventCustomerRegistered,
		CustomerID: customer.ID,
		Payload:    payload,
	})
	if err != nil {
		return err
	}

	return tx.Commit()
}

const customerColumns = "id, name, email, COALESCE(card_number, ''), total_spent, points, tier, active, created_at, updated_at"

func scanCustomer(row interface{ Scan(...any) error }) (model.Customer, error) {
	var c model.Customer
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.CardNumber, &c.TotalSpent,
		&c.Points, &c.Tier, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (store *store) CustomerGet(ctx context.Context, id string) (model.Customer, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT "+customerColumns+" FROM customers WHERE id = $1", id)
	customer, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Customer{}, ErrNoRows
		}
		return model.Customer{}, err
	}
	return customer, nil
}

func (store *store) CustomerList(ctx context.Context, filter CustomerFilter) ([]model.Customer, error) {
	query := "SELECT " + customerColumns + " FROM customers WHERE TRUE"
	args := []any{}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		query += fmt.Sprintf(" AND active = $%d", len(args))
	}
	if filter.Tier != "" {
		args = append(args, filter.Tier)
		query += fmt.Sprintf(" AND tier = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := store.database.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []model.Customer
	for rows.Next() {
		customer, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, customer)
	}
	return customers, rows.Err()
}

func (store *store) CustomerUpdate(ctx context.Context, id string, upd CustomerUpdate) (model.Customer, error) {
	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return model.Customer{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		"SELECT "+customerColumns+" FROM customers WHERE id = $1 FOR UPDATE", id)
	customer, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Customer{}, ErrNoRows
		}
		return model.Customer{}, err
	}

	updates := map[string]string{}
	if upd.Name != nil {
		customer.Name = *upd.Name
		updates["name"] = *upd.Name
	}
	if upd.Email != nil {
		customer.Email = *upd.Email
		updates["email"] = *upd.Email
	}
	if upd.CardNumber != nil {
		customer.CardNumber = *upd.CardNumber
		updates["card_number"] = *upd.CardNumber
	}
	if len(updates) == 0 {
		return customer, nil
	}
	customer.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx,
		"UPDATE customers SET name = $1, email = $2, card_number = $3, updated_at = $4 WHERE id = $5",
		customer.Name, customer.Email, customer.CardNumber, customer.UpdatedAt, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.Customer{}, ErrAlreadyExists
		}
		return model.Customer{}, err
	}

	payload, _ := json.Marshal(map[string]any{"updates": updates})
	err = appendEvent(ctx, tx, model.CustomerEvent{
		Type:       model.EventCustomerUpdated,
		CustomerID: id,
		Payload:    payload,
	})
	if err != nil {
		return model.Customer{}, err
	}

	return customer, tx.Commit()
}

// Мягкое удаление: запись остается ради ссылочной целостности журнала
func (store *store) CustomerDeactivate(ctx context.Context, id string) (model.Customer, error) {
	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return model.Customer{}, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	row := tx.QueryRowContext(ctx,
		"UPDATE customers SET active = FALSE, updated_at = $1 WHERE id = $2"+
			" RETURNING "+customerColumns, now, id)
	customer, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Customer{}, ErrNoRows
		}
		return model.Customer{}, err
	}

	payload, _ := json.Marshal(map[string]any{"deactivated_at": now})
	err = appendEvent(ctx, tx, model.CustomerEvent{
		Type:       model.EventCustomerDeactivated,
		CustomerID: id,
		Payload:    payload,
	})
	if err != nil {
		return model.Customer{}, err
	}

	return customer, tx.Commit()
}

type pointsPayload struct {
	SaleID      string `json:"sale_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
	AmountCents int64  `json:"amount_cents,omitempty"`
	PointsAdded int    `json:"points_added"`
	OldPoints   int    `json:"old_points"`
	NewPoints   int    `json:"new_points"`
	OldTier     string `json:"old_tier"`
	NewTier     string `json:"new_tier"`
}

// ApplySale - атомарное начисление баллов за продажу.
// Блокировка строки клиента сериализует конкурентные продажи одного
// клиента; запись в журнал с уникальным sale_id в той же транзакции
// гарантирует ровно одно применение
func (store *store) ApplySale(ctx context.Context, customerID string, saleID string, amountCents int64) (ApplyResult, error) {
	delta, err := ledger.PointsForAmount(amountCents)
	if err != nil {
		return ApplyResult{}, ErrPointsIncorrect
	}

	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return ApplyResult{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		"SELECT "+customerColumns+" FROM customers WHERE id = $1 FOR UPDATE", customerID)
	customer, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ApplyResult{}, ErrNoRows
		}
		return ApplyResult{}, asConflict(err)
	}

	// Проверка: продажа уже применена
	var prevCustomer string
	var prevPayload []byte
	err = tx.QueryRowContext(ctx,
		"SELECT customer_id, payload FROM customer_events"+
			" WHERE event_type = $1 AND sale_id = $2",
		model.EventPointsAdded, saleID).Scan(&prevCustomer, &prevPayload)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return ApplyResult{}, asConflict(err)
	}
	if err == nil {
		if prevCustomer != customerID {
			return ApplyResult{}, ErrAlreadyExists
		}
		var prev pointsPayload
		if err := json.Unmarshal(prevPayload, &prev); err != nil {
			return ApplyResult{}, err
		}
		return ApplyResult{
			Customer:    customer,
			PointsAdded: prev.PointsAdded,
			OldPoints:   prev.OldPoints,
			NewPoints:   prev.NewPoints,
			OldTier:     prev.OldTier,
			NewTier:     prev.NewTier,
			Replayed:    true,
		}, nil
	}

	result, err := store.mutatePoints(ctx, tx, customer, delta, pointsPayload{
		SaleID:      saleID,
		AmountCents: amountCents,
	}, model.EventPointsAdded, saleID)
	if err != nil {
		return ApplyResult{}, err
	}
	result.Customer.TotalSpent += amountCents
	_, err = tx.ExecContext(ctx,
		"UPDATE customers SET total_spent = total_spent + $1 WHERE id = $2",
		amountCents, customerID)
	if err != nil {
		return ApplyResult{}, asConflict(err)
	}

	if err := tx.Commit(); err != nil {
		return ApplyResult{}, asConflict(err)
	}
	return result, nil
}

// AdjustPoints - административная корректировка, без ключа идемпотентности.
// delta может быть отрицательной, но баланс не уходит ниже нуля
func (store *store) AdjustPoints(ctx context.Context, customerID string, delta int, reason string) (ApplyResult, error) {
	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return ApplyResult{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		"SELECT "+customerColumns+" FROM customers WHERE id = $1 FOR UPDATE", customerID)
	customer, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ApplyResult{}, ErrNoRows
		}
		return ApplyResult{}, asConflict(err)
	}

	if customer.Points+delta < 0 {
		return ApplyResult{}, ErrPointsIncorrect
	}

	result, err := store.mutatePoints(ctx, tx, customer, delta, pointsPayload{
		Reason: reason,
	}, model.EventPointsAdjusted, "")
	if err != nil {
		return ApplyResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return ApplyResult{}, asConflict(err)
	}
	return result, nil
}

// mutatePoints выполняет общую часть начисления/корректировки внутри
// открытой транзакции: пересчет ступени, запись клиента, запись журнала
func (store *store) mutatePoints(ctx context.Context, tx *sql.Tx, customer model.Customer, delta int, payload pointsPayload, eventType string, saleID string) (ApplyResult, error) {
	oldPoints := customer.Points
	newPoints := oldPoints + delta
	change, err := store.ledger.DetectTierChange(oldPoints, newPoints)
	if err != nil {
		return ApplyResult{}, ErrPointsIncorrect
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		"UPDATE customers SET points = $1, tier = $2, updated_at = $3 WHERE id = $4",
		newPoints, change.NewTier.Name, now, customer.ID)
	if err != nil {
		return ApplyResult{}, asConflict(err)
	}

	payload.PointsAdded = delta
	payload.OldPoints = oldPoints
	payload.NewPoints = newPoints
	payload.OldTier = change.OldTier.Name
	payload.NewTier = change.NewTier.Name
	payloadJSON, _ := json.Marshal(payload)
	err = appendEventTx(ctx, tx, eventType, customer.ID, saleID, payloadJSON, now)
	if err != nil {
		return ApplyResult{}, err
	}

	var tierEventID int64
	if change.Changed {
		tierPayload, _ := json.Marshal(map[string]any{
			"old_tier": change.OldTier.Name,
			"new_tier": change.NewTier.Name,
			"points":   newPoints,
		})
		tierEventID, err = appendTierChangeTx(ctx, tx, customer.ID, tierPayload, now)
		if err != nil {
			return ApplyResult{}, err
		}
	}

	customer.Points = newPoints
	customer.Tier = change.NewTier.Name
	customer.UpdatedAt = now
	return ApplyResult{
		Customer:    customer,
		PointsAdded: delta,
		OldPoints:   oldPoints,
		NewPoints:   newPoints,
		OldTier:     change.OldTier.Name,
		NewTier:     change.NewTier.Name,
		TierChanged: change.Changed,
		TierEventID: tierEventID,
	}, nil
}

// RepairTier выравнивает ступень по текущим баллам (сверка).
// TierChanged = true, если было расхождение
func (store *store) RepairTier(ctx context.Context, customerID string) (ApplyResult, error) {
	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return ApplyResult{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		"SELECT "+customerColumns+" FROM customers WHERE id = $1 FOR UPDATE", customerID)
	customer, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ApplyResult{}, ErrNoRows
		}
		return ApplyResult{}, asConflict(err)
	}

	want, err := store.ledger.TierForPoints(customer.Points)
	if err != nil {
		return ApplyResult{}, ErrPointsIncorrect
	}
	result := ApplyResult{
		Customer:  customer,
		OldPoints: customer.Points,
		NewPoints: customer.Points,
		OldTier:   customer.Tier,
		NewTier:   want.Name,
	}
	if want.Name == customer.Tier {
		return result, tx.Commit()
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		"UPDATE customers SET tier = $1, updated_at = $2 WHERE id = $3",
		want.Name, now, customerID)
	if err != nil {
		return ApplyResult{}, asConflict(err)
	}
	payload, _ := json.Marshal(map[string]any{
		"old_tier": customer.Tier,
		"new_tier": want.Name,
		"points":   customer.Points,
		"reason":   "reconciliation",
	})
	result.TierEventID, err = appendTierChangeTx(ctx, tx, customerID, payload, now)
	if err != nil {
		return ApplyResult{}, err
	}

	result.Customer.Tier = want.Name
	result.Customer.UpdatedAt = now
	result.TierChanged = true
	return result, tx.Commit()
}

// UnpublishedTierChanges - записи tier.changed, публикация которых
// не подтверждена. Их дожимает сверка
func (store *store) UnpublishedTierChanges(ctx context.Context) ([]TierChangeRecord, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT e.id, e.customer_id, c.name,"+
			" e.payload->>'old_tier', e.payload->>'new_tier',"+
			" (e.payload->>'points')::int, e.created_at"+
			" FROM customer_events e"+
			" JOIN customers c ON c.id = e.customer_id"+
			" WHERE e.event_type = $1 AND NOT e.published"+
			" ORDER BY e.id",
		model.EventTierChanged)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TierChangeRecord
	for rows.Next() {
		var rec TierChangeRecord
		err := rows.Scan(&rec.EventID, &rec.CustomerID, &rec.CustomerName,
			&rec.OldTier, &rec.NewTier, &rec.Points, &rec.CreatedAt)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (store *store) MarkTierChangePublished(ctx context.Context, eventID int64) error {
	_, err := store.database.ExecContext(ctx,
		"UPDATE customer_events SET published = TRUE WHERE id = $1", eventID)
	return err
}

func (store *store) EventsGet(ctx context.Context, customerID string) ([]model.CustomerEvent, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT id, event_type, customer_id, COALESCE(sale_id, ''), payload, created_at"+
			" FROM customer_events"+
			" WHERE customer_id = $1"+
			" ORDER BY id",
		customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.CustomerEvent
	for rows.Next() {
		var event model.CustomerEvent
		err := rows.Scan(&event.ID, &event.Type, &event.CustomerID,
			&event.SaleID, &event.Payload, &event.CreatedAt)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (store *store) TiersGet(ctx context.Context) ([]model.Tier, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT name, min_points, max_points, discount_rate"+
			" FROM loyalty_tiers ORDER BY min_points")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiers []model.Tier
	for rows.Next() {
		var tier model.Tier
		err := rows.Scan(&tier.Name, &tier.MinPoints, &tier.MaxPoints, &tier.DiscountRate)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, tier)
	}
	return tiers, rows.Err()
}

func (store *store) Analytics(ctx context.Context) (model.Analytics, error) {
	analytics := model.Analytics{TierDistribution: map[string]int{}}

	row := store.database.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(*) FILTER (WHERE active) FROM customers")
	err := row.Scan(&analytics.TotalCustomers, &analytics.ActiveCustomers)
	if err != nil {
		return model.Analytics{}, err
	}
	analytics.InactiveCustomers = analytics.TotalCustomers - analytics.ActiveCustomers

	rows, err := store.database.QueryContext(ctx,
		"SELECT tier, COUNT(*) FROM customers GROUP BY tier")
	if err != nil {
		return model.Analytics{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var tier string
		var count int
		if err := rows.Scan(&tier, &count); err != nil {
			return model.Analytics{}, err
		}
		analytics.TierDistribution[tier] = count
	}
	return analytics, rows.Err()
}

func appendEvent(ctx context.Context, tx *sql.Tx, event model.CustomerEvent) error {
	return appendEventTx(ctx, tx, event.Type, event.CustomerID, event.SaleID, event.Payload, time.Now().UTC())
}

// appendTierChangeTx заводит запись tier.changed неопубликованной;
// флаг снимает только подтвержденная публикация
func appendTierChangeTx(ctx context.Context, tx *sql.Tx, customerID string, payload []byte, at time.Time) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		"INSERT INTO customer_events (event_type, customer_id, payload, created_at)"+
			" VALUES ($1, $2, $3, $4) RETURNING id",
		model.EventTierChanged, customerID, payload, at).Scan(&id)
	if err != nil {
		return 0, asConflict(err)
	}
	return id, nil
}

// appendEventTx пишет события, за публикацией которых никто не следит,
// поэтому сразу published = TRUE
func appendEventTx(ctx context.Context, tx *sql.Tx, eventType, customerID, saleID string, payload []byte, at time.Time) error {
	var saleIDArg any
	if saleID != "" {
		saleIDArg = saleID
	}
	_, err := tx.ExecContext(ctx,
		"INSERT INTO customer_events (event_type, customer_id, sale_id, payload, published, created_at)"+
			" VALUES ($1, $2, $3, $4, TRUE, $5)",
		eventType, customerID, saleIDArg, payload, at)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// гонка по sale_id между транзакциями: отдадим наверх
			// как конфликт, повтор увидит запись журнала
			return ErrConflict
		}
		return err
	}
	return nil
}

// asConflict переводит ошибки сериализации/взаимоблокировки в ErrConflict,
// остальное отдает как есть
func asConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return ErrConflict
		}
	}
	return err
}
