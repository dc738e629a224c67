package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/romana/rlog"
	"golang.org/x/sync/errgroup"
	"preorder_hub/constants"
	"preorder_hub/custom/auth"
	"preorder_hub/custom/store"
	"preorder_hub/custom/util"
	"preorder_hub/model"
)

var (
	ErrUnauthorized  = errors.New(constants.UNAUTHORIZED)
	ErrInvalidFilter = errors.New("invalid order filter")
)

type ListFilter struct {
	Type   string
	Search string
	Page   int
	Limit  int
}

type Pagination struct {
	Page        int   `json:"page"`
	Limit       int   `json:"limit"`
	Total       int64 `json:"total"`
	TotalPages  int   `json:"totalPages"`
	HasNextPage bool  `json:"hasNextPage"`
	HasPrevPage bool  `json:"hasPrevPage"`
}

type Stats struct {
	TotalRevenue    float64 `json:"totalRevenue"`
	CompletedOrders int64   `json:"completedOrders"`
	TotalOrders     int64   `json:"totalOrders"`
}

// OrderView is an order with the decimal amount as a number and nullable fields defaulted.
type OrderView struct {
	ID               uint      `json:"id"`
	OrderNumber      string    `json:"orderNumber"`
	CustomerEmail    string    `json:"customerEmail"`
	CustomerID       string    `json:"customerId"`
	StripeCustomerID string    `json:"stripeCustomerId"`
	SubscriptionID   string    `json:"subscriptionId"`
	ProductName      string    `json:"productName"`
	PurchaseType     string    `json:"purchaseType"`
	Amount           float64   `json:"amount"`
	Currency         string    `json:"currency"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"createdAt"`
}

type ListResult struct {
	Data       []OrderView `json:"data"`
	Pagination Pagination  `json:"pagination"`
	Stats      Stats       `json:"stats"`
}

type AdminOrderView struct {
	OrderView
	PaymentID            string     `json:"paymentId"`
	TransactionStatus    string     `json:"transactionStatus"`
	FailureReason        string     `json:"failureReason"`
	TransactionCreatedAt *time.Time `json:"transactionCreatedAt"`
}

type SubscriptionView struct {
	ID              uint       `json:"id"`
	OrderNumber     string     `json:"orderNumber"`
	PlanName        string     `json:"planName"`
	Amount          float64    `json:"amount"`
	Currency        string     `json:"currency"`
	Status          string     `json:"status"`
	StartDate       time.Time  `json:"startDate"`
	EndDate         time.Time  `json:"endDate"`
	LastPaymentDate time.Time  `json:"lastPaymentDate"`
	NextBillingDate *time.Time `json:"nextBillingDate,omitempty"`
}

// Service answers order queries for admins and users.
type Service struct {
	store *store.Store
	now   func() time.Time
}

func NewService(s *store.Store) *Service {
	return &Service{store: s, now: time.Now}
}

func purchaseTypesFor(filterType string) ([]string, error) {
	switch filterType {
	case "", constants.ORDER_FILTER_ALL:
		return nil, nil
	case constants.ORDER_FILTER_SUBSCRIPTIONS:
		return []string{constants.PURCHASE_TYPE_MONTHLY, constants.PURCHASE_TYPE_PRE_ORDER}, nil
	case constants.ORDER_FILTER_ONETIME:
		return []string{constants.PURCHASE_TYPE_ONE_TIME}, nil
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidFilter, filterType)
}

func (f ListFilter) storeFilter() (store.OrderFilter, error) {
	purchaseTypes, err := purchaseTypesFor(f.Type)
	if err != nil {
		return store.OrderFilter{}, err
	}
	return store.OrderFilter{PurchaseTypes: purchaseTypes, Search: strings.TrimSpace(f.Search)}, nil
}

func normalizePage(page int, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = constants.DEFAULT_PAGE_SIZE
	}
	if limit > constants.MAX_PAGE_SIZE {
		limit = constants.MAX_PAGE_SIZE
	}
	return page, limit
}

// ListOrders returns one page of matching orders. Count and stats cover every matching row.
func (s *Service) ListOrders(ctx context.Context, filter ListFilter) (*ListResult, error) {
	predicate, err := filter.storeFilter()
	if err != nil {
		return nil, err
	}
	page, limit := normalizePage(filter.Page, filter.Limit)

	var total int64
	var stats store.OrderStats
	var orders []model.Order
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		total, err = s.store.CountOrders(gctx, predicate)
		return err
	})
	g.Go(func() error {
		var err error
		stats, err = s.store.OrderStats(gctx, predicate)
		return err
	})
	g.Go(func() error {
		var err error
		orders, err = s.store.QueryOrders(gctx, predicate, "orders.created_at DESC, orders.id DESC", limit, (page-1)*limit)
		return err
	})
	if err = g.Wait(); err != nil {
		rlog.Error("List orders failed:", err.Error())
		return nil, err
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	data := make([]OrderView, 0, len(orders))
	for i := range orders {
		data = append(data, toOrderView(&orders[i]))
	}
	return &ListResult{
		Data: data,
		Pagination: Pagination{
			Page:        page,
			Limit:       limit,
			Total:       total,
			TotalPages:  totalPages,
			HasNextPage: page < totalPages,
			HasPrevPage: page > 1,
		},
		Stats: Stats{
			TotalRevenue:    stats.TotalRevenue.InexactFloat64(),
			CompletedOrders: stats.CompletedOrders,
			TotalOrders:     total,
		},
	}, nil
}

// ListSubscriptionsForUser derives subscription records from the caller's completed orders.
func (s *Service) ListSubscriptionsForUser(ctx context.Context, principal *auth.Principal) ([]SubscriptionView, error) {
	if principal == nil || (principal.UserID == "" && principal.Email == "") {
		return nil, ErrUnauthorized
	}
	rows, err := s.store.QueryOrdersJoinTransactions(ctx, store.OrderFilter{
		Status:     constants.ORDER_STATUS_COMPLETED,
		OwnerID:    principal.UserID,
		OwnerEmail: principal.Email,
	})
	if err != nil {
		rlog.Errorf("Query subscriptions for user %s failed: %s", principal.UserID, err.Error())
		return nil, err
	}

	subscriptions := make([]SubscriptionView, 0)
	seen := make(map[uint]bool)
	for _, row := range rows {
		// the first row of an order carries its newest transaction
		if seen[row.OrderID] {
			continue
		}
		seen[row.OrderID] = true
		subscriptions = append(subscriptions, toSubscriptionView(row))
	}
	return subscriptions, nil
}

func toSubscriptionView(row store.OrderTransactionRow) SubscriptionView {
	lastPayment := row.CreatedAt
	if row.TransactionCreatedAt != nil {
		lastPayment = *row.TransactionCreatedAt
	}
	view := SubscriptionView{
		ID:              row.OrderID,
		OrderNumber:     row.OrderNumber,
		PlanName:        row.ProductName,
		Amount:          row.Amount.InexactFloat64(),
		Currency:        row.Currency,
		Status:          row.Status,
		StartDate:       row.CreatedAt,
		EndDate:         lastPayment,
		LastPaymentDate: lastPayment,
	}
	if row.Status == constants.ORDER_STATUS_COMPLETED {
		next := row.CreatedAt.AddDate(0, 1, 0)
		view.NextBillingDate = &next
	}
	return view
}

// AdminOrders lists every order, newest first, with its latest transaction.
func (s *Service) AdminOrders(ctx context.Context) ([]AdminOrderView, error) {
	orders, err := s.store.QueryOrders(ctx, store.OrderFilter{}, "orders.created_at DESC, orders.id DESC", 0, 0)
	if err != nil {
		rlog.Error("Query orders failed:", err.Error())
		return nil, err
	}
	ids := make([]uint, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	latest, err := s.store.LatestTransactionsByOrder(ctx, ids)
	if err != nil {
		rlog.Error("Query transactions failed:", err.Error())
		return nil, err
	}

	views := make([]AdminOrderView, 0, len(orders))
	for i := range orders {
		view := AdminOrderView{OrderView: toOrderView(&orders[i])}
		if txn, ok := latest[orders[i].ID]; ok {
			createdAt := txn.CreatedAt
			view.PaymentID = txn.PaymentID
			view.TransactionStatus = txn.Status
			view.FailureReason = util.StringValue(txn.FailureReason)
			view.TransactionCreatedAt = &createdAt
		}
		views = append(views, view)
	}
	return views, nil
}

// UpdateStatus applies an admin status change through the order state machine.
func (s *Service) UpdateStatus(ctx context.Context, orderNumber string, to string) (*model.Order, error) {
	o, err := s.store.FindOrderByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if err = Transition(o.Status, to); err != nil {
		return nil, err
	}
	if err = s.store.TransitionOrderStatus(ctx, orderNumber, o.Status, to); err != nil {
		return nil, err
	}
	rlog.Infof("Order %s state was set to %s", orderNumber, to)
	o.Status = to
	return o, nil
}

func toOrderView(o *model.Order) OrderView {
	return OrderView{
		ID:               o.ID,
		OrderNumber:      o.OrderNumber,
		CustomerEmail:    util.StringValue(o.CustomerEmail),
		CustomerID:       util.StringValue(o.CustomerID),
		StripeCustomerID: util.StringValue(o.ProcessorCustomerID),
		SubscriptionID:   util.StringValue(o.SubscriptionID),
		ProductName:      o.ProductName,
		PurchaseType:     o.PurchaseType,
		Amount:           o.Amount.InexactFloat64(),
		Currency:         o.Currency,
		Status:           o.Status,
		CreatedAt:        o.CreatedAt,
	}
}

type Dashboard struct {
	Stats             Stats           `json:"stats"`
	ActiveSubscribers int64           `json:"activeSubscribers"`
	LatestPreorder    *model.Preorder `json:"latestPreorder"`
}

// Dashboard summarizes orders, the mailing list and the countdown target for the admin home page.
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	dashboard := &Dashboard{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		total, err := s.store.CountOrders(gctx, store.OrderFilter{})
		if err != nil {
			return err
		}
		stats, err := s.store.OrderStats(gctx, store.OrderFilter{})
		if err != nil {
			return err
		}
		dashboard.Stats = Stats{
			TotalRevenue:    stats.TotalRevenue.InexactFloat64(),
			CompletedOrders: stats.CompletedOrders,
			TotalOrders:     total,
		}
		return nil
	})
	g.Go(func() error {
		var err error
		dashboard.ActiveSubscribers, err = s.store.CountSubscribers(gctx, constants.EMAIL_STATUS_ACTIVE)
		return err
	})
	g.Go(func() error {
		preorder, err := s.store.LatestPreorder(gctx)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		dashboard.LatestPreorder = preorder
		return err
	})
	if err := g.Wait(); err != nil {
		rlog.Error("Build dashboard failed:", err.Error())
		return nil, err
	}
	return dashboard, nil
}
