package purchase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/romana/rlog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"golang.org/x/sync/singleflight"
	"preorder_hub/constants"
	"preorder_hub/custom/auth"
	"preorder_hub/custom/processor"
)

var (
	ErrUnauthorized   = errors.New(constants.UNAUTHORIZED)
	ErrValidation     = errors.New("invalid purchase request")
	ErrCreationFailed = errors.New("creation failed")

	errNoCustomer = errors.New("no processor customer for the user")
)

type Request struct {
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency,omitempty"`
	ProductName  string  `json:"productName"`
	PurchaseType string  `json:"purchaseType"`
	TotalLeaks   int     `json:"totalLeaks,omitempty"`
}

type PaymentSummary struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type SubscriptionSummary struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	ProductID       string `json:"productId"`
	PriceID         string `json:"priceId"`
	PaymentIntentID string `json:"paymentIntentId"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Interval        string `json:"interval"`
}

// Result is identical in shape whether the client secret came from the invoice or a compensating intent.
type Result struct {
	ClientSecret    string               `json:"clientSecret"`
	PaymentIntentID string               `json:"paymentIntentId,omitempty"`
	SubscriptionID  string               `json:"subscriptionId,omitempty"`
	CustomerID      string               `json:"customerId,omitempty"`
	PurchaseType    string               `json:"purchaseType"`
	Payment         *PaymentSummary      `json:"payment,omitempty"`
	Subscription    *SubscriptionSummary `json:"subscription,omitempty"`
}

// Service drives a purchase to a payable state. It is safe for concurrent use.
type Service struct {
	processor processor.Processor
	products  singleflight.Group
	prices    singleflight.Group
}

func NewService(p processor.Processor) *Service {
	return &Service{processor: p}
}

// ToMinorUnits converts a major-unit amount to integer minor units, rounding half away from zero.
func ToMinorUnits(amount float64) int64 {
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func IsRecurring(purchaseType string) bool {
	return purchaseType == constants.PURCHASE_TYPE_MONTHLY || purchaseType == constants.PURCHASE_TYPE_PRE_ORDER
}

func (req *Request) normalize() error {
	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) || req.Amount <= 0 {
		return fmt.Errorf("%w: amount must be a positive number", ErrValidation)
	}
	if ToMinorUnits(req.Amount) < 1 {
		return fmt.Errorf("%w: amount is below the smallest currency unit", ErrValidation)
	}
	req.ProductName = strings.TrimSpace(req.ProductName)
	if req.ProductName == "" {
		return fmt.Errorf("%w: productName is required", ErrValidation)
	}
	switch req.PurchaseType {
	case constants.PURCHASE_TYPE_ONE_TIME, constants.PURCHASE_TYPE_MONTHLY, constants.PURCHASE_TYPE_PRE_ORDER:
	default:
		return fmt.Errorf("%w: unsupported purchaseType %q", ErrValidation, req.PurchaseType)
	}
	req.Currency = strings.ToLower(strings.TrimSpace(req.Currency))
	if req.Currency == "" {
		req.Currency = constants.DEFAULT_CURRENCY
	}
	if len(req.Currency) != 3 {
		return fmt.Errorf("%w: unsupported currency %q", ErrValidation, req.Currency)
	}
	if req.TotalLeaks < 0 {
		return fmt.Errorf("%w: totalLeaks must not be negative", ErrValidation)
	}
	return nil
}

// InitiatePurchase returns a client secret for a one-time payment or a new subscription.
// No processor call is made for anonymous callers or invalid requests.
func (s *Service) InitiatePurchase(ctx context.Context, principal *auth.Principal, req Request) (*Result, error) {
	if principal == nil || principal.UserID == "" {
		return nil, ErrUnauthorized
	}
	if err := req.normalize(); err != nil {
		return nil, err
	}

	customerID, ok := s.resolveCustomer(ctx, principal)
	if !ok {
		rlog.Infof("Continue purchase of %s for user %s without processor customer", req.ProductName, principal.UserID)
	}

	if IsRecurring(req.PurchaseType) {
		return s.subscribe(ctx, principal, req, customerID)
	}
	return s.payOnce(ctx, principal, req, customerID)
}

// resolveCustomer finds or creates the processor customer for the caller. ok is false when
// either step failed; the purchase then proceeds without a customer.
func (s *Service) resolveCustomer(ctx context.Context, principal *auth.Principal) (string, bool) {
	if principal.Email == "" {
		rlog.Errorf("User %s has no email, skip customer resolution", principal.UserID)
		return "", false
	}
	customers, err := s.processor.ListCustomersByEmail(ctx, principal.Email, 1)
	if err != nil {
		rlog.Errorf("List customers for user %s failed: %s", principal.UserID, err.Error())
		return "", false
	}
	if len(customers) > 0 {
		return customers[0].ID, true
	}

	customer, err := s.processor.CreateCustomer(ctx, processor.CustomerParams{
		Email: principal.Email,
		Metadata: map[string]string{
			constants.META_USER_ID: principal.UserID,
			constants.META_ROLE:    principal.Role,
		},
		IdempotencyKey: processor.IdempotencyKey("customer", principal.Email, principal.UserID, principal.Role),
	})
	if err != nil {
		rlog.Errorf("Create customer for user %s failed: %s", principal.UserID, err.Error())
		return "", false
	}
	rlog.Infof("Created processor customer %s for user %s", customer.ID, principal.UserID)
	return customer.ID, true
}

func (s *Service) payOnce(ctx context.Context, principal *auth.Principal, req Request, customerID string) (*Result, error) {
	amount := ToMinorUnits(req.Amount)
	pi, err := s.processor.CreatePaymentIntent(ctx, processor.PaymentIntentParams{
		Amount:                  amount,
		Currency:                req.Currency,
		CustomerID:              customerID,
		AutomaticPaymentMethods: true,
		Metadata:                purchaseMetadata(principal, req),
	})
	if err != nil {
		rlog.Errorf("Create payment intent for user %s failed: %s", principal.UserID, err.Error())
		return nil, creationError(constants.CREATE_PAYMENT_FAILED, err)
	}
	rlog.Infof("Created payment intent %s for user %s", pi.ID, principal.UserID)

	return &Result{
		ClientSecret:    pi.ClientSecret,
		PaymentIntentID: pi.ID,
		CustomerID:      customerID,
		PurchaseType:    req.PurchaseType,
		Payment: &PaymentSummary{
			ID:       pi.ID,
			Amount:   pi.Amount,
			Currency: pi.Currency,
			Status:   pi.Status,
		},
	}, nil
}

func (s *Service) subscribe(ctx context.Context, principal *auth.Principal, req Request, customerID string) (*Result, error) {
	if customerID == "" {
		rlog.Errorf("Skip subscription of %s for user %s, no processor customer", req.ProductName, principal.UserID)
		return nil, creationError(constants.CREATE_SUBSCRIPTION_FAILED, errNoCustomer)
	}
	amount := ToMinorUnits(req.Amount)
	product, err := s.reconcileProduct(ctx, principal, req)
	if err != nil {
		rlog.Errorf("Reconcile product %s failed: %s", req.ProductName, err.Error())
		return nil, creationError(constants.CREATE_SUBSCRIPTION_FAILED, err)
	}
	price, err := s.reconcilePrice(ctx, principal, req, product.ID, amount)
	if err != nil {
		rlog.Errorf("Reconcile price for product %s failed: %s", product.ID, err.Error())
		return nil, creationError(constants.CREATE_SUBSCRIPTION_FAILED, err)
	}

	metadata := purchaseMetadata(principal, req)
	metadata[constants.META_SUBSCRIPTION_TYPE] = req.PurchaseType
	sub, err := s.processor.CreateSubscription(ctx, processor.SubscriptionParams{
		CustomerID:                       customerID,
		PriceID:                          price.ID,
		PaymentBehavior:                  processor.PAYMENT_BEHAVIOR_DEFAULT_INCOMPLETE,
		ExpandLatestInvoicePaymentIntent: true,
		Metadata:                         metadata,
	})
	if err != nil {
		rlog.Errorf("Create subscription with price %s for user %s failed: %s", price.ID, principal.UserID, err.Error())
		return nil, creationError(constants.CREATE_SUBSCRIPTION_FAILED, err)
	}
	rlog.Infof("Created subscription %s for user %s", sub.ID, principal.UserID)

	// the confirmation path reads the purchase from the intent, which does not inherit subscription metadata
	intentMetadata := purchaseMetadata(principal, req)
	intentMetadata[constants.META_SUBSCRIPTION_ID] = sub.ID
	pi := sub.LatestPaymentIntent
	if pi != nil {
		pi, err = s.processor.UpdatePaymentIntentMetadata(ctx, pi.ID, intentMetadata)
		if err != nil {
			rlog.Errorf("Tag invoice payment intent of subscription %s failed: %s", sub.ID, err.Error())
			return nil, creationError(constants.CREATE_SUBSCRIPTION_FAILED, err)
		}
	} else {
		rlog.Infof("Subscription %s has no invoice payment intent, creating one", sub.ID)
		pi, err = s.processor.CreatePaymentIntent(ctx, processor.PaymentIntentParams{
			Amount:                  amount,
			Currency:                req.Currency,
			CustomerID:              customerID,
			AutomaticPaymentMethods: true,
			Metadata:                intentMetadata,
		})
		if err != nil {
			rlog.Errorf("Create payment intent for subscription %s failed: %s", sub.ID, err.Error())
			return nil, creationError(constants.CREATE_PAYMENT_FAILED, err)
		}
	}

	return &Result{
		ClientSecret:    pi.ClientSecret,
		PaymentIntentID: pi.ID,
		SubscriptionID:  sub.ID,
		CustomerID:      customerID,
		PurchaseType:    req.PurchaseType,
		Subscription: &SubscriptionSummary{
			ID:              sub.ID,
			Status:          sub.Status,
			ProductID:       product.ID,
			PriceID:         price.ID,
			PaymentIntentID: pi.ID,
			Amount:          amount,
			Currency:        req.Currency,
			Interval:        price.Interval,
		},
	}, nil
}

func purchaseMetadata(principal *auth.Principal, req Request) map[string]string {
	return map[string]string{
		constants.META_USER_ID:       principal.UserID,
		constants.META_EMAIL:         principal.Email,
		constants.META_ROLE:          principal.Role,
		constants.META_PRODUCT_NAME:  req.ProductName,
		constants.META_PURCHASE_TYPE: req.PurchaseType,
		constants.META_TOTAL_LEAKS:   cast.ToString(req.TotalLeaks),
	}
}

func creationError(step string, err error) error {
	return fmt.Errorf("%w: %s: %s", ErrCreationFailed, step, err.Error())
}
