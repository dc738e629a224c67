package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"preorder_hub/model"
)

const PAYMENT_BEHAVIOR_DEFAULT_INCOMPLETE = "default_incomplete"
const INTERVAL_MONTH = "month"

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrUnsupportedEvent = errors.New("unsupported webhook event")
)

type Customer struct {
	ID    string
	Email string
}

type Product struct {
	ID          string
	Name        string
	Description string
}

type Price struct {
	ID         string
	ProductID  string
	UnitAmount int64
	Currency   string
	Interval   string // empty for one-time prices
}

type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       string
	Amount       int64
	Currency     string
	CustomerID   string
}

type Subscription struct {
	ID         string
	Status     string
	CustomerID string
	// LatestPaymentIntent is nil when the processor did not populate the expanded invoice intent.
	LatestPaymentIntent *PaymentIntent
}

type CustomerParams struct {
	Email          string
	Name           string
	Metadata       map[string]string
	IdempotencyKey string
}

type ProductParams struct {
	Name           string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

type PriceParams struct {
	ProductID      string
	UnitAmount     int64
	Currency       string
	Interval       string
	Metadata       map[string]string
	IdempotencyKey string
}

type SubscriptionParams struct {
	CustomerID                       string
	PriceID                          string
	PaymentBehavior                  string
	ExpandLatestInvoicePaymentIntent bool
	Metadata                         map[string]string
}

type PaymentIntentParams struct {
	Amount                  int64
	Currency                string
	CustomerID              string
	AutomaticPaymentMethods bool
	Metadata                map[string]string
}

// Processor is the payment processor capability the purchase flow consumes.
type Processor interface {
	ListCustomersByEmail(ctx context.Context, email string, limit int64) ([]Customer, error)
	CreateCustomer(ctx context.Context, params CustomerParams) (*Customer, error)
	ListActiveProducts(ctx context.Context, limit int64) ([]Product, error)
	CreateProduct(ctx context.Context, params ProductParams) (*Product, error)
	ListActivePricesForProduct(ctx context.Context, productID string, limit int64) ([]Price, error)
	CreateRecurringPrice(ctx context.Context, params PriceParams) (*Price, error)
	CreateSubscription(ctx context.Context, params SubscriptionParams) (*Subscription, error)
	CreatePaymentIntent(ctx context.Context, params PaymentIntentParams) (*PaymentIntent, error)
	// UpdatePaymentIntentMetadata merges metadata into an existing payment intent.
	UpdatePaymentIntentMetadata(ctx context.Context, paymentIntentID string, metadata map[string]string) (*PaymentIntent, error)
}

// EventParser verifies a webhook delivery and normalizes it. It returns ErrUnsupportedEvent for
// events the confirmation path does not handle.
type EventParser func(payload []byte, signature string) (*model.PaymentEvent, error)

// IdempotencyKey derives a stable key from the identifying parameters of a create call.
func IdempotencyKey(kind string, parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return kind + "-" + hex.EncodeToString(sum[:16])
}
