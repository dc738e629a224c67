package store

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"preorder_hub/constants"
	"preorder_hub/model"
)

// OrderFilter is the predicate shared by the order queries. Zero values match everything.
type OrderFilter struct {
	PurchaseTypes []string
	Search        string // case-insensitive substring of customer email
	Status        string
	OwnerID       string
	OwnerEmail    string
}

func (f OrderFilter) apply(db *gorm.DB) *gorm.DB {
	if len(f.PurchaseTypes) > 0 {
		db = db.Where("orders.purchase_type IN ?", f.PurchaseTypes)
	}
	if f.Search != "" {
		db = db.Where("LOWER(orders.customer_email) LIKE ?", "%"+strings.ToLower(f.Search)+"%")
	}
	if f.Status != "" {
		db = db.Where("orders.status = ?", f.Status)
	}
	switch {
	case f.OwnerID != "" && f.OwnerEmail != "":
		db = db.Where("(orders.customer_id = ? OR orders.customer_email = ?)", f.OwnerID, f.OwnerEmail)
	case f.OwnerID != "":
		db = db.Where("orders.customer_id = ?", f.OwnerID)
	case f.OwnerEmail != "":
		db = db.Where("orders.customer_email = ?", f.OwnerEmail)
	}
	return db
}

type OrderStats struct {
	TotalRevenue    decimal.Decimal
	CompletedOrders int64
}

// OrderTransactionRow is one row of orders LEFT JOIN transactions.
type OrderTransactionRow struct {
	OrderID              uint
	OrderNumber          string
	CustomerEmail        *string
	CustomerID           *string
	ProductName          string
	PurchaseType         string
	Amount               decimal.Decimal
	Currency             string
	Status               string
	CreatedAt            time.Time
	TransactionID        *uint
	PaymentID            *string
	TransactionStatus    *string
	FailureReason        *string
	TransactionCreatedAt *time.Time
}

func (s *Store) InsertOrder(ctx context.Context, order *model.Order) error {
	err := s.db.WithContext(ctx).Create(order).Error
	return translateError(err, constants.ORDER_NUMBER_EXISTS)
}

func (s *Store) InsertTransaction(ctx context.Context, txn *model.Transaction) error {
	err := s.db.WithContext(ctx).Create(txn).Error
	return translateError(err, constants.PAYMENT_ID_EXISTS)
}

// InsertOrderIfAbsent inserts unless the order number exists; it reports whether a row was written.
// Unlike InsertOrder it leaves an enclosing transaction usable on conflict.
func (s *Store) InsertOrderIfAbsent(ctx context.Context, order *model.Order) (bool, error) {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_number"}}, DoNothing: true}).
		Create(order)
	return result.RowsAffected > 0, result.Error
}

func (s *Store) InsertTransactionIfAbsent(ctx context.Context, txn *model.Transaction) (bool, error) {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "payment_id"}}, DoNothing: true}).
		Create(txn)
	return result.RowsAffected > 0, result.Error
}

// QueryOrders returns the matching orders; limit <= 0 means unbounded.
func (s *Store) QueryOrders(ctx context.Context, filter OrderFilter, orderBy string, limit int, offset int) ([]model.Order, error) {
	query := filter.apply(s.db.WithContext(ctx).Model(&model.Order{}))
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	orders := make([]model.Order, 0)
	if err := query.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) CountOrders(ctx context.Context, filter OrderFilter) (int64, error) {
	var total int64
	err := filter.apply(s.db.WithContext(ctx).Model(&model.Order{})).Count(&total).Error
	return total, err
}

// OrderStats aggregates revenue and completed orders over every matching row.
func (s *Store) OrderStats(ctx context.Context, filter OrderFilter) (OrderStats, error) {
	row := struct {
		TotalRevenue    decimal.Decimal
		CompletedOrders int64
	}{}
	err := filter.apply(s.db.WithContext(ctx).Model(&model.Order{})).
		Select("COALESCE(SUM(orders.amount), 0) AS total_revenue, "+
			"COUNT(CASE WHEN orders.status = ? THEN 1 END) AS completed_orders", constants.ORDER_STATUS_COMPLETED).
		Scan(&row).Error
	if err != nil {
		return OrderStats{}, err
	}
	return OrderStats{TotalRevenue: row.TotalRevenue, CompletedOrders: row.CompletedOrders}, nil
}

// QueryOrdersJoinTransactions left-joins transactions so orders without one still appear.
// Rows are ordered by order creation ascending, newest transaction first within an order.
func (s *Store) QueryOrdersJoinTransactions(ctx context.Context, filter OrderFilter) ([]OrderTransactionRow, error) {
	rows := make([]OrderTransactionRow, 0)
	err := filter.apply(s.db.WithContext(ctx).Model(&model.Order{})).
		Select("orders.id AS order_id, orders.order_number, orders.customer_email, orders.customer_id, " +
			"orders.product_name, orders.purchase_type, orders.amount, orders.currency, orders.status, orders.created_at, " +
			"transactions.id AS transaction_id, transactions.payment_id, transactions.status AS transaction_status, " +
			"transactions.failure_reason, transactions.created_at AS transaction_created_at").
		Joins("LEFT JOIN transactions ON transactions.order_id = orders.id").
		Order("orders.created_at ASC, orders.id ASC, transactions.created_at DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) FindOrderByNumber(ctx context.Context, orderNumber string) (*model.Order, error) {
	order := model.Order{}
	err := s.db.WithContext(ctx).Where("order_number = ?", orderNumber).First(&order).Error
	if err != nil {
		return nil, translateError(err, "")
	}
	return &order, nil
}

// TransitionOrderStatus moves an order from one status to another. It fails with
// ErrStatusChanged when the order is no longer in the expected status.
func (s *Store) TransitionOrderStatus(ctx context.Context, orderNumber string, from string, to string) error {
	result := s.db.WithContext(ctx).Model(&model.Order{}).
		Where("order_number = ? AND status = ?", orderNumber, from).
		Update("status", to)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusChanged
	}
	return nil
}

// ListPendingOrdersBefore returns pending orders created before the cutoff. Orders bound to a
// payment intent are left out, the processor settles those with its own events.
func (s *Store) ListPendingOrdersBefore(ctx context.Context, before time.Time) ([]model.Order, error) {
	orders := make([]model.Order, 0)
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ? AND payment_intent_id IS NULL", constants.ORDER_STATUS_PENDING, before).
		Order("created_at ASC").
		Find(&orders).Error
	return orders, err
}

// LatestTransactionsByOrder maps each order id to its most recent transaction.
func (s *Store) LatestTransactionsByOrder(ctx context.Context, orderIDs []uint) (map[uint]model.Transaction, error) {
	latest := make(map[uint]model.Transaction)
	if len(orderIDs) == 0 {
		return latest, nil
	}
	txns := make([]model.Transaction, 0)
	err := s.db.WithContext(ctx).
		Where("order_id IN ?", orderIDs).
		Order("created_at DESC, id DESC").
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	for _, txn := range txns {
		if txn.OrderID == nil {
			continue
		}
		if _, seen := latest[*txn.OrderID]; !seen {
			latest[*txn.OrderID] = txn
		}
	}
	return latest, nil
}
