package purchase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"preorder_hub/constants"
	"preorder_hub/custom/auth"
	"preorder_hub/custom/processor"
)

type fakeProcessor struct {
	mu sync.Mutex

	customers     []processor.Customer
	products      []processor.Product
	prices        []processor.Price
	subscriptions []processor.SubscriptionParams
	intents       []processor.PaymentIntentParams
	tagged        map[string]map[string]string

	createdCustomers int
	createdProducts  int
	createdPrices    int
	calls            int

	listCustomersErr  error
	createCustomerErr error
	subscriptionErr   error
	tagErr            error
	omitInvoiceIntent bool
}

func (f *fakeProcessor) ListCustomersByEmail(ctx context.Context, email string, limit int64) ([]processor.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.listCustomersErr != nil {
		return nil, f.listCustomersErr
	}
	found := make([]processor.Customer, 0)
	for _, c := range f.customers {
		if c.Email == email && int64(len(found)) < limit {
			found = append(found, c)
		}
	}
	return found, nil
}

func (f *fakeProcessor) CreateCustomer(ctx context.Context, params processor.CustomerParams) (*processor.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.createCustomerErr != nil {
		return nil, f.createCustomerErr
	}
	f.createdCustomers++
	c := processor.Customer{ID: fmt.Sprintf("cus_%d", f.createdCustomers), Email: params.Email}
	f.customers = append(f.customers, c)
	return &c, nil
}

func (f *fakeProcessor) ListActiveProducts(ctx context.Context, limit int64) ([]processor.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return append([]processor.Product(nil), f.products...), nil
}

func (f *fakeProcessor) CreateProduct(ctx context.Context, params processor.ProductParams) (*processor.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.createdProducts++
	p := processor.Product{ID: fmt.Sprintf("prod_%d", f.createdProducts), Name: params.Name, Description: params.Description}
	f.products = append(f.products, p)
	return &p, nil
}

func (f *fakeProcessor) ListActivePricesForProduct(ctx context.Context, productID string, limit int64) ([]processor.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	found := make([]processor.Price, 0)
	for _, p := range f.prices {
		if p.ProductID == productID {
			found = append(found, p)
		}
	}
	return found, nil
}

func (f *fakeProcessor) CreateRecurringPrice(ctx context.Context, params processor.PriceParams) (*processor.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.createdPrices++
	p := processor.Price{
		ID:         fmt.Sprintf("price_%d", f.createdPrices),
		ProductID:  params.ProductID,
		UnitAmount: params.UnitAmount,
		Currency:   params.Currency,
		Interval:   params.Interval,
	}
	f.prices = append(f.prices, p)
	return &p, nil
}

func (f *fakeProcessor) CreateSubscription(ctx context.Context, params processor.SubscriptionParams) (*processor.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.subscriptionErr != nil {
		return nil, f.subscriptionErr
	}
	f.subscriptions = append(f.subscriptions, params)
	id := fmt.Sprintf("sub_%d", len(f.subscriptions))
	sub := &processor.Subscription{ID: id, Status: "incomplete", CustomerID: params.CustomerID}
	if !f.omitInvoiceIntent {
		sub.LatestPaymentIntent = &processor.PaymentIntent{ID: "pi_" + id, ClientSecret: "pi_" + id + "_secret", Status: "requires_payment_method"}
	}
	return sub, nil
}

func (f *fakeProcessor) CreatePaymentIntent(ctx context.Context, params processor.PaymentIntentParams) (*processor.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.intents = append(f.intents, params)
	id := fmt.Sprintf("pi_%d", len(f.intents))
	return &processor.PaymentIntent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       "requires_payment_method",
		Amount:       params.Amount,
		Currency:     params.Currency,
		CustomerID:   params.CustomerID,
	}, nil
}

func (f *fakeProcessor) UpdatePaymentIntentMetadata(ctx context.Context, paymentIntentID string, metadata map[string]string) (*processor.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.tagErr != nil {
		return nil, f.tagErr
	}
	if f.tagged == nil {
		f.tagged = make(map[string]map[string]string)
	}
	f.tagged[paymentIntentID] = metadata
	return &processor.PaymentIntent{ID: paymentIntentID, ClientSecret: paymentIntentID + "_secret", Status: "requires_payment_method"}, nil
}

var testPrincipal = &auth.Principal{UserID: "user-1", Email: "alice@x.com", Role: constants.ROLE_USER}

func TestInitiatePurchaseOneTime(t *testing.T) {
	fake := &fakeProcessor{}
	service := NewService(fake)

	result, err := service.InitiatePurchase(context.Background(), testPrincipal, Request{
		Amount: 9.99, Currency: "usd", ProductName: "Common", PurchaseType: constants.PURCHASE_TYPE_ONE_TIME, TotalLeaks: 1,
	})

	require.NoError(t, err)
	assert.Equal(t, constants.PURCHASE_TYPE_ONE_TIME, result.PurchaseType)
	assert.NotEmpty(t, result.ClientSecret)
	assert.Equal(t, "cus_1", result.CustomerID)
	assert.Equal(t, 1, fake.createdCustomers)
	require.Len(t, fake.intents, 1)
	intent := fake.intents[0]
	assert.Equal(t, int64(999), intent.Amount)
	assert.Equal(t, "usd", intent.Currency)
	assert.Equal(t, "cus_1", intent.CustomerID)
	assert.True(t, intent.AutomaticPaymentMethods)
	assert.Equal(t, "user-1", intent.Metadata[constants.META_USER_ID])
	assert.Equal(t, "Common", intent.Metadata[constants.META_PRODUCT_NAME])
	assert.Equal(t, "1", intent.Metadata[constants.META_TOTAL_LEAKS])
	assert.Equal(t, 0, fake.createdProducts)
	assert.Empty(t, fake.subscriptions)
}

func TestInitiatePurchaseReusesCustomer(t *testing.T) {
	fake := &fakeProcessor{customers: []processor.Customer{{ID: "cus_existing", Email: "alice@x.com"}}}
	service := NewService(fake)

	result, err := service.InitiatePurchase(context.Background(), testPrincipal, Request{
		Amount: 5, ProductName: "Common", PurchaseType: constants.PURCHASE_TYPE_ONE_TIME,
	})

	require.NoError(t, err)
	assert.Equal(t, "cus_existing", result.CustomerID)
	assert.Equal(t, 0, fake.createdCustomers)
	assert.Equal(t, constants.DEFAULT_CURRENCY, fake.intents[0].Currency)
}

func TestInitiatePurchaseMonthly(t *testing.T) {
	fake := &fakeProcessor{}
	service := NewService(fake)

	result, err := service.InitiatePurchase(context.Background(), testPrincipal, Request{
		Amount: 149.99, Currency: "usd", ProductName: "Monthly Subscription", PurchaseType: constants.PURCHASE_TYPE_MONTHLY,
	})

	require.NoError(t, err)
	assert.Equal(t, 1, fake.createdProducts)
	assert.Equal(t, 1, fake.createdPrices)
	require.Len(t, fake.prices, 1)
	assert.Equal(t, int64(14999), fake.prices[0].UnitAmount)
	assert.Equal(t, processor.INTERVAL_MONTH, fake.prices[0].Interval)
	require.Len(t, fake.subscriptions, 1)
	sub := fake.subscriptions[0]
	assert.Equal(t, processor.PAYMENT_BEHAVIOR_DEFAULT_INCOMPLETE, sub.PaymentBehavior)
	assert.True(t, sub.ExpandLatestInvoicePaymentIntent)
	assert.Equal(t, "price_1", sub.PriceID)
	assert.Equal(t, constants.PURCHASE_TYPE_MONTHLY, sub.Metadata[constants.META_SUBSCRIPTION_TYPE])

	assert.Equal(t, "sub_1", result.SubscriptionID)
	assert.Equal(t, "pi_sub_1_secret", result.ClientSecret)
	assert.Empty(t, fake.intents, "invoice intent must be used without a compensating intent")
	assert.Equal(t, "pi_sub_1", result.Subscription.PaymentIntentID)

	require.Contains(t, fake.tagged, "pi_sub_1")
	tags := fake.tagged["pi_sub_1"]
	assert.Equal(t, "user-1", tags[constants.META_USER_ID])
	assert.Equal(t, "alice@x.com", tags[constants.META_EMAIL])
	assert.Equal(t, "Monthly Subscription", tags[constants.META_PRODUCT_NAME])
	assert.Equal(t, constants.PURCHASE_TYPE_MONTHLY, tags[constants.META_PURCHASE_TYPE])
	assert.Equal(t, "sub_1", tags[constants.META_SUBSCRIPTION_ID])
}

func TestInitiatePurchaseTagInvoiceIntentFails(t *testing.T) {
	fake := &fakeProcessor{tagErr: errors.New("api timeout")}
	service := NewService(fake)

	_, err := service.InitiatePurchase(context.Background(), testPrincipal, Request{
		Amount: 149.99, ProductName: "Monthly Subscription", PurchaseType: constants.PURCHASE_TYPE_MONTHLY,
	})

	assert.ErrorIs(t, err, ErrCreationFailed)
	assert.Contains(t, err.Error(), "api timeout")
}

func TestSubscribeWithoutCustomer(t *testing.T) {
	fake := &fakeProcessor{listCustomersErr: errors.New("processor unavailable")}
	service := NewService(fake)

	_, err := service.InitiatePurchase(context.Background(), testPrincipal, Request{
		Amount: 149.99, ProductName: "Monthly Subscription", PurchaseType: constants.PURCHASE_TYPE_MONTHLY,
	})

	assert.ErrorIs(t, err, ErrCreationFailed)
	assert.Contains(t, err.Error(), "no processor customer")
	assert.Equal(t, 0, fake.createdProducts)
	assert.Equal(t, 0, fake.createdPrices)
	assert.Empty(t, fake.subscriptions)
}

func TestInitiatePurchaseCompensatingIntent(t *testing.T) {
	fake := &fakeProcessor{omitInvoiceIntent: true}
	service := NewService(fake)

	result, err := service.InitiatePurchase(context.Background(), testPrincipal, Request{
		Amount: 149.99, ProductName: "Monthly Subscription", PurchaseType: constants.PURCHASE_TYPE_PRE_ORDER,
	})

	require.NoError(t, err)
	require.Len(t, fake.intents, 1)
	assert.Equal(t, int64(14999), fake.intents[0].Amount)
	assert.Equal(t, "sub_1", fake.intents[0].Metadata[constants.META_SUBSCRIPTION_ID])
	assert.Equal(t, "pi_1_secret", result.ClientSecret)
	assert.Equal(t, "sub_1", result.SubscriptionID)
	assert.Equal(t, constants.PURCHASE_TYPE_PRE_ORDER, result.PurchaseType)
}

func TestReconciliationIsIdempotent(t *testing.T) {
	fake := &fakeProcessor{}
	service := NewService(fake)
	req := Request{Amount: 19.99, Currency: "USD", ProductName: "Monthly Subscription", PurchaseType: constants.PURCHASE_TYPE_MONTHLY}

	for i := 0; i < 3; i++ {
		_, err := service.InitiatePurchase(context.Background(), testPrincipal, req)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, fake.createdProducts)
	assert.Equal(t, 1, fake.createdPrices)
	assert.Len(t, fake.subscriptions, 3)

	// a different amount reuses the product but needs its own price
	req.Amount = 29.99
	_, err := service.InitiatePurchase(context.Background(), testPrincipal, req)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.createdProducts)
	assert.Equal(t, 2, fake.createdPrices)
}

func TestReconciliationConcurrent(t *testing.T) {
	fake := &fakeProcessor{}
	service := NewService(fake)
	req := Request{Amount: 9.99, ProductName: "Season Pass", PurchaseType: constants.PURCHASE_TYPE_MONTHLY}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.InitiatePurchase(context.Background(), testPrincipal, req)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fake.createdProducts)
	assert.Equal(t, 1, fake.createdPrices)
}

func TestInitiatePurchaseWithoutCustomer(t *testing.T) {
	fake := &fakeProcessor{listCustomersErr: errors.New("processor unavailable")}
	service := NewService(fake)

	result, err := service.InitiatePurchase(context.Background(), testPrincipal, Request{
		Amount: 9.99, ProductName: "Common", PurchaseType: constants.PURCHASE_TYPE_ONE_TIME,
	})

	require.NoError(t, err)
	assert.Empty(t, result.CustomerID)
	assert.Empty(t, fake.intents[0].CustomerID)
	assert.NotEmpty(t, result.ClientSecret)
}

func TestResolveCustomerCreateFails(t *testing.T) {
	fake := &fakeProcessor{createCustomerErr: errors.New("rate limited")}
	service := NewService(fake)

	customerID, ok := service.resolveCustomer(context.Background(), testPrincipal)

	assert.False(t, ok)
	assert.Empty(t, customerID)
}

func TestInitiatePurchaseUnauthorized(t *testing.T) {
	fake := &fakeProcessor{}
	service := NewService(fake)

	_, err := service.InitiatePurchase(context.Background(), nil, Request{
		Amount: 9.99, ProductName: "Common", PurchaseType: constants.PURCHASE_TYPE_ONE_TIME,
	})

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 0, fake.calls)
}

func TestInitiatePurchaseValidation(t *testing.T) {
	cases := []Request{
		{Amount: 0, ProductName: "Common", PurchaseType: constants.PURCHASE_TYPE_ONE_TIME},
		{Amount: -1, ProductName: "Common", PurchaseType: constants.PURCHASE_TYPE_ONE_TIME},
		{Amount: 0.001, ProductName: "Common", PurchaseType: constants.PURCHASE_TYPE_ONE_TIME},
		{Amount: 9.99, ProductName: "  ", PurchaseType: constants.PURCHASE_TYPE_ONE_TIME},
		{Amount: 9.99, ProductName: "Common", PurchaseType: "yearly"},
		{Amount: 9.99, ProductName: "Common", PurchaseType: constants.PURCHASE_TYPE_ONE_TIME, Currency: "dollars"},
		{Amount: 9.99, ProductName: "Common", PurchaseType: constants.PURCHASE_TYPE_ONE_TIME, TotalLeaks: -2},
	}
	for _, req := range cases {
		fake := &fakeProcessor{}
		_, err := NewService(fake).InitiatePurchase(context.Background(), testPrincipal, req)
		assert.ErrorIs(t, err, ErrValidation, "request %+v", req)
		assert.Equal(t, 0, fake.calls)
	}
}

func TestInitiatePurchaseSubscriptionFailure(t *testing.T) {
	fake := &fakeProcessor{subscriptionErr: errors.New("card declined")}
	service := NewService(fake)

	_, err := service.InitiatePurchase(context.Background(), testPrincipal, Request{
		Amount: 149.99, ProductName: "Monthly Subscription", PurchaseType: constants.PURCHASE_TYPE_MONTHLY,
	})

	assert.ErrorIs(t, err, ErrCreationFailed)
	assert.Contains(t, err.Error(), "card declined")
	// product and price stay on the processor for the retry
	assert.Equal(t, 1, fake.createdProducts)
	assert.Equal(t, 1, fake.createdPrices)
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(999), ToMinorUnits(9.99))
	assert.Equal(t, int64(14999), ToMinorUnits(149.99))
	assert.Equal(t, int64(1), ToMinorUnits(0.005))
	assert.Equal(t, int64(100), ToMinorUnits(1))
	assert.Equal(t, int64(1999), ToMinorUnits(19.99))
}

func TestCreatePaymentIntentHandler(t *testing.T) {
	fake := &fakeProcessor{}
	handlerCtx := HandlerContext{}
	handlerCtx.InitialHandlerContext(NewService(fake), "pk_test")

	body := []byte(`{"amount":9.99,"productName":"Common","purchaseType":"one_time","totalLeaks":1}`)
	r := httptest.NewRequest(http.MethodPost, "/create-payment-intent", bytes.NewBuffer(body))
	r = r.WithContext(auth.WithPrincipal(r.Context(), testPrincipal))
	w := httptest.NewRecorder()
	handlerCtx.CreatePaymentIntent(w, r)

	assert.Equal(t, http.StatusCreated, w.Code)
	resp := Result{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "pi_1_secret", resp.ClientSecret)
	assert.Equal(t, "pi_1", resp.PaymentIntentID)
	assert.Equal(t, int64(999), resp.Payment.Amount)
}

func TestCreatePaymentIntentHandlerErrors(t *testing.T) {
	fake := &fakeProcessor{}
	handlerCtx := HandlerContext{}
	handlerCtx.InitialHandlerContext(NewService(fake), "pk_test")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/create-payment-intent", bytes.NewBuffer([]byte(`{"amount":1}`)))
	handlerCtx.CreatePaymentIntent(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/create-payment-intent", bytes.NewBuffer([]byte(`{"amount":-1,"productName":"x","purchaseType":"one_time"}`)))
	r = r.WithContext(auth.WithPrincipal(r.Context(), testPrincipal))
	handlerCtx.CreatePaymentIntent(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, fake.calls)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/create-payment-intent", nil)
	handlerCtx.CreatePaymentIntent(w, r)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	fake.subscriptionErr = errors.New("upstream down")
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/create-payment-intent", bytes.NewBuffer([]byte(`{"amount":10,"productName":"x","purchaseType":"monthly"}`)))
	r = r.WithContext(auth.WithPrincipal(r.Context(), testPrincipal))
	handlerCtx.CreatePaymentIntent(w, r)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "upstream down")
}

func TestPaymentConfig(t *testing.T) {
	handlerCtx := HandlerContext{}
	handlerCtx.InitialHandlerContext(NewService(&fakeProcessor{}), "pk_test_123")

	w := httptest.NewRecorder()
	handlerCtx.PaymentConfig(w, httptest.NewRequest(http.MethodGet, "/payment/config", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"publishableKey":"pk_test_123"}`, w.Body.String())
}
