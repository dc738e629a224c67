package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/DATA-DOG/go-sqlmock.v1"
	"preorder_hub/constants"
	"preorder_hub/custom/util"
	"preorder_hub/model"
)

func newTestStore(t *testing.T) *Store {
	return New(util.SqliteMock(t))
}

func testOrder(number string, email string, purchaseType string, amount string, status string) *model.Order {
	return &model.Order{
		OrderNumber:   number,
		CustomerEmail: util.GetStringPtr(email),
		ProductName:   "Monthly Subscription",
		PurchaseType:  purchaseType,
		Amount:        decimal.RequireFromString(amount),
		Currency:      "usd",
		Status:        status,
	}
}

func TestInsertOrderDuplicateNumber(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertOrder(ctx, testOrder("ORD-1", "a@x.com", constants.PURCHASE_TYPE_ONE_TIME, "10.50", constants.ORDER_STATUS_PENDING)))
	err := s.InsertOrder(ctx, testOrder("ORD-1", "b@x.com", constants.PURCHASE_TYPE_ONE_TIME, "99.00", constants.ORDER_STATUS_COMPLETED))

	assert.ErrorIs(t, err, ErrConflict)
	assert.EqualError(t, err, constants.ORDER_NUMBER_EXISTS)
	order, err := s.FindOrderByNumber(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", util.StringValue(order.CustomerEmail), "duplicate insert must not overwrite")
	assert.True(t, decimal.RequireFromString("10.50").Equal(order.Amount))
}

func TestInsertOrderDuplicateNumberPostgres(t *testing.T) {
	sqlDB, gormDB, mock := util.DbMock(t)
	defer sqlDB.Close()
	s := New(gormDB)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "orders"`).WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	err := s.InsertOrder(context.Background(), testOrder("ORD-1", "a@x.com", constants.PURCHASE_TYPE_ONE_TIME, "10.50", constants.ORDER_STATUS_PENDING))

	assert.ErrorIs(t, err, ErrConflict)
	assert.EqualError(t, err, constants.ORDER_NUMBER_EXISTS)
	assert.Nil(t, mock.ExpectationsWereMet())
}

func TestInsertTransactionDuplicatePaymentID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	txn := model.Transaction{PaymentID: "ch_1", PaymentIntentID: "pi_1", Amount: decimal.NewFromInt(5), Currency: "usd", Status: constants.TRANSACTION_STATUS_SUCCESS}

	first := txn
	require.NoError(t, s.InsertTransaction(ctx, &first))
	second := txn
	err := s.InsertTransaction(ctx, &second)

	assert.ErrorIs(t, err, ErrConflict)
	assert.EqualError(t, err, constants.PAYMENT_ID_EXISTS)
}

func TestInsertIfAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inserted, err := s.InsertOrderIfAbsent(ctx, testOrder("ORD-2", "a@x.com", constants.PURCHASE_TYPE_ONE_TIME, "1.00", constants.ORDER_STATUS_PENDING))
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = s.InsertOrderIfAbsent(ctx, testOrder("ORD-2", "a@x.com", constants.PURCHASE_TYPE_ONE_TIME, "1.00", constants.ORDER_STATUS_PENDING))
	require.NoError(t, err)
	assert.False(t, inserted)

	txn := model.Transaction{PaymentID: "ch_2", PaymentIntentID: "pi_2", Amount: decimal.NewFromInt(1), Currency: "usd", Status: constants.TRANSACTION_STATUS_SUCCESS}
	first := txn
	inserted, err = s.InsertTransactionIfAbsent(ctx, &first)
	require.NoError(t, err)
	assert.True(t, inserted)
	second := txn
	inserted, err = s.InsertTransactionIfAbsent(ctx, &second)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestTransitionOrderStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertOrder(ctx, testOrder("ORD-3", "a@x.com", constants.PURCHASE_TYPE_ONE_TIME, "1.00", constants.ORDER_STATUS_PENDING)))

	require.NoError(t, s.TransitionOrderStatus(ctx, "ORD-3", constants.ORDER_STATUS_PENDING, constants.ORDER_STATUS_COMPLETED))
	err := s.TransitionOrderStatus(ctx, "ORD-3", constants.ORDER_STATUS_PENDING, constants.ORDER_STATUS_FAILED)

	assert.ErrorIs(t, err, ErrStatusChanged)
	order, err := s.FindOrderByNumber(ctx, "ORD-3")
	require.NoError(t, err)
	assert.Equal(t, constants.ORDER_STATUS_COMPLETED, order.Status)

	_, err = s.FindOrderByNumber(ctx, "ORD-404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueryOrdersFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertOrder(ctx, testOrder("ORD-A1", "Alice@x.com", constants.PURCHASE_TYPE_MONTHLY, "10.50", constants.ORDER_STATUS_COMPLETED)))
	require.NoError(t, s.InsertOrder(ctx, testOrder("ORD-A2", "alice@x.com", constants.PURCHASE_TYPE_PRE_ORDER, "20.25", constants.ORDER_STATUS_PENDING)))
	require.NoError(t, s.InsertOrder(ctx, testOrder("ORD-B1", "bob@x.com", constants.PURCHASE_TYPE_ONE_TIME, "5.00", constants.ORDER_STATUS_COMPLETED)))

	filter := OrderFilter{
		PurchaseTypes: []string{constants.PURCHASE_TYPE_MONTHLY, constants.PURCHASE_TYPE_PRE_ORDER},
		Search:        "ALICE",
	}
	total, err := s.CountOrders(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	orders, err := s.QueryOrders(ctx, filter, "created_at DESC, id DESC", 1, 1)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "ORD-A1", orders[0].OrderNumber)

	stats, err := s.OrderStats(ctx, filter)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("30.75").Equal(stats.TotalRevenue), stats.TotalRevenue.String())
	assert.Equal(t, int64(1), stats.CompletedOrders)

	stats, err = s.OrderStats(ctx, OrderFilter{Search: "nobody"})
	require.NoError(t, err)
	assert.True(t, stats.TotalRevenue.IsZero())
	assert.Equal(t, int64(0), stats.CompletedOrders)
}

func TestQueryOrdersJoinTransactions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	withTxn := testOrder("ORD-J1", "carol@x.com", constants.PURCHASE_TYPE_MONTHLY, "10.00", constants.ORDER_STATUS_COMPLETED)
	withTxn.CreatedAt = base
	require.NoError(t, s.InsertOrder(ctx, withTxn))
	without := testOrder("ORD-J2", "carol@x.com", constants.PURCHASE_TYPE_MONTHLY, "10.00", constants.ORDER_STATUS_COMPLETED)
	without.CreatedAt = base.Add(time.Hour)
	require.NoError(t, s.InsertOrder(ctx, without))

	for i, paymentID := range []string{"ch_old", "ch_new"} {
		txn := model.Transaction{
			OrderID:   &withTxn.ID,
			PaymentID: paymentID,
			Amount:    decimal.NewFromInt(10),
			Currency:  "usd",
			Status:    constants.TRANSACTION_STATUS_SUCCESS,
			CreatedAt: base.Add(time.Duration(i+1) * time.Minute),
		}
		require.NoError(t, s.InsertTransaction(ctx, &txn))
	}

	rows, err := s.QueryOrdersJoinTransactions(ctx, OrderFilter{OwnerEmail: "carol@x.com", Status: constants.ORDER_STATUS_COMPLETED})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "ORD-J1", rows[0].OrderNumber)
	assert.Equal(t, "ch_new", util.StringValue(rows[0].PaymentID))
	assert.Equal(t, "ORD-J2", rows[2].OrderNumber)
	assert.Nil(t, rows[2].TransactionID)
	assert.Nil(t, rows[2].TransactionCreatedAt)

	latest, err := s.LatestTransactionsByOrder(ctx, []uint{withTxn.ID, without.ID})
	require.NoError(t, err)
	assert.Len(t, latest, 1)
	assert.Equal(t, "ch_new", latest[withTxn.ID].PaymentID)
}

func TestListPendingOrdersBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	stale := testOrder("ORD-P1", "a@x.com", constants.PURCHASE_TYPE_ONE_TIME, "1.00", constants.ORDER_STATUS_PENDING)
	stale.CreatedAt = now.Add(-48 * time.Hour)
	fresh := testOrder("ORD-P2", "a@x.com", constants.PURCHASE_TYPE_ONE_TIME, "1.00", constants.ORDER_STATUS_PENDING)
	fresh.CreatedAt = now.Add(-time.Hour)
	done := testOrder("ORD-P3", "a@x.com", constants.PURCHASE_TYPE_ONE_TIME, "1.00", constants.ORDER_STATUS_COMPLETED)
	done.CreatedAt = now.Add(-72 * time.Hour)
	processing := testOrder("ORD-P4", "a@x.com", constants.PURCHASE_TYPE_ONE_TIME, "1.00", constants.ORDER_STATUS_PENDING)
	processing.CreatedAt = now.Add(-72 * time.Hour)
	processing.PaymentIntentID = util.GetStringPtr("pi_slow")
	for _, o := range []*model.Order{stale, fresh, done, processing} {
		require.NoError(t, s.InsertOrder(ctx, o))
	}

	orders, err := s.ListPendingOrdersBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "ORD-P1", orders[0].OrderNumber)
}

func insertTestUser(t *testing.T, s *Store, leaks int) *model.User {
	user := &model.User{ID: "user-" + t.Name(), Email: t.Name() + "@x.com", PasswordHash: "hash", Leaks: leaks, Role: constants.ROLE_USER, IsActive: true}
	require.NoError(t, s.InsertUser(context.Background(), user))
	return user
}

func TestUpdateUserLeaksSequential(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := insertTestUser(t, s, 3)

	for i := 3; i > 0; i-- {
		updated, err := s.UpdateUserLeaks(ctx, user.ID, -1)
		require.NoError(t, err)
		assert.Equal(t, i-1, updated.Leaks)
	}
	_, err := s.UpdateUserLeaks(ctx, user.ID, -1)
	assert.ErrorIs(t, err, ErrInsufficientLeaks)
	assert.EqualError(t, err, constants.INSUFFICIENT_LEAKS)

	found, err := s.FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, found.Leaks)

	updated, err := s.UpdateUserLeaks(ctx, user.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, updated.Leaks)
}

func TestUpdateUserLeaksConcurrent(t *testing.T) {
	s := newTestStore(t)
	user := insertTestUser(t, s, 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.UpdateUserLeaks(context.Background(), user.ID, -1)
		}(i)
	}
	wg.Wait()

	succeeded, insufficient := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientLeaks):
			insufficient++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)
	found, err := s.FindUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, found.Leaks)
}

func TestUpdateUserLeaksUnknownUser(t *testing.T) {
	s := newTestStore(t)

	_, err := s.UpdateUserLeaks(context.Background(), "missing", -1)

	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateUserLeaksSQL(t *testing.T) {
	sqlDB, gormDB, mock := util.DbMock(t)
	defer sqlDB.Close()
	s := New(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "users" SET "leaks"=leaks \+ \$1 WHERE id = \$2 AND leaks \+ \$3 >= 0`).
		WithArgs(-2, "user-1", -2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	rows := sqlmock.NewRows([]string{"id", "email", "leaks", "role", "is_active"}).
		AddRow("user-1", "a@x.com", 3, constants.ROLE_USER, true)
	mock.ExpectQuery(`SELECT \* FROM "users" WHERE id = \$1`).WithArgs("user-1", 1).WillReturnRows(rows)

	user, err := s.UpdateUserLeaks(context.Background(), "user-1", -2)

	require.NoError(t, err)
	assert.Equal(t, 3, user.Leaks)
	assert.Nil(t, mock.ExpectationsWereMet())
}

func TestInsertUserDuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertUser(ctx, &model.User{ID: "u1", Email: "dup@x.com", PasswordHash: "h", Role: constants.ROLE_USER, IsActive: true}))

	err := s.InsertUser(ctx, &model.User{ID: "u2", Email: "dup@x.com", PasswordHash: "h", Role: constants.ROLE_USER, IsActive: true})

	assert.ErrorIs(t, err, ErrConflict)
	assert.EqualError(t, err, constants.EMAIL_EXISTS)
	_, err = s.FindUserByEmail(ctx, "none@x.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRecordPaymentEventDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordPaymentEvent(ctx, &model.WebhookEvent{EventID: "evt_1", Type: constants.EVENT_PAYMENT_SUCCEEDED}))
	err := s.RecordPaymentEvent(ctx, &model.WebhookEvent{EventID: "evt_1", Type: constants.EVENT_PAYMENT_SUCCEEDED})

	assert.ErrorIs(t, err, ErrDuplicateEvent)
}

func TestTransactionRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Transaction(ctx, func(tx *Store) error {
		if err := tx.InsertOrder(ctx, testOrder("ORD-T1", "a@x.com", constants.PURCHASE_TYPE_ONE_TIME, "1.00", constants.ORDER_STATUS_PENDING)); err != nil {
			return err
		}
		return errors.New("abort")
	})

	assert.EqualError(t, err, "abort")
	_, err = s.FindOrderByNumber(ctx, "ORD-T1")
	assert.ErrorIs(t, err, ErrNotFound)
}
