package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/romana/rlog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"preorder_hub/custom/util"
	"preorder_hub/model"
)

// Stripe implements Processor on the Stripe API. One instance is shared by the process.
type Stripe struct {
	api           *client.API
	webhookSecret string
}

func NewStripe(cfg util.StripeConfig) *Stripe {
	return &Stripe{
		api:           client.New(cfg.SecretKey, nil),
		webhookSecret: cfg.WebhookSecret,
	}
}

func (s *Stripe) ListCustomersByEmail(ctx context.Context, email string, limit int64) ([]Customer, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(limit)
	params.Single = true

	customers := make([]Customer, 0)
	iter := s.api.Customers.List(params)
	for iter.Next() {
		c := iter.Customer()
		customers = append(customers, Customer{ID: c.ID, Email: c.Email})
	}
	return customers, iter.Err()
}

func (s *Stripe) CreateCustomer(ctx context.Context, p CustomerParams) (*Customer, error) {
	params := &stripe.CustomerParams{Email: stripe.String(p.Email)}
	params.Context = ctx
	if p.Name != "" {
		params.Name = stripe.String(p.Name)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	c, err := s.api.Customers.New(params)
	if err != nil {
		return nil, err
	}
	return &Customer{ID: c.ID, Email: c.Email}, nil
}

func (s *Stripe) ListActiveProducts(ctx context.Context, limit int64) ([]Product, error) {
	params := &stripe.ProductListParams{Active: stripe.Bool(true)}
	params.Context = ctx
	params.Limit = stripe.Int64(limit)
	params.Single = true

	products := make([]Product, 0)
	iter := s.api.Products.List(params)
	for iter.Next() {
		p := iter.Product()
		products = append(products, Product{ID: p.ID, Name: p.Name, Description: p.Description})
	}
	return products, iter.Err()
}

func (s *Stripe) CreateProduct(ctx context.Context, p ProductParams) (*Product, error) {
	params := &stripe.ProductParams{Name: stripe.String(p.Name)}
	params.Context = ctx
	if p.Description != "" {
		params.Description = stripe.String(p.Description)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	created, err := s.api.Products.New(params)
	if err != nil {
		return nil, err
	}
	return &Product{ID: created.ID, Name: created.Name, Description: created.Description}, nil
}

func (s *Stripe) ListActivePricesForProduct(ctx context.Context, productID string, limit int64) ([]Price, error) {
	params := &stripe.PriceListParams{
		Product: stripe.String(productID),
		Active:  stripe.Bool(true),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(limit)
	params.Single = true

	prices := make([]Price, 0)
	iter := s.api.Prices.List(params)
	for iter.Next() {
		prices = append(prices, toPrice(iter.Price()))
	}
	return prices, iter.Err()
}

func (s *Stripe) CreateRecurringPrice(ctx context.Context, p PriceParams) (*Price, error) {
	params := &stripe.PriceParams{
		Product:    stripe.String(p.ProductID),
		UnitAmount: stripe.Int64(p.UnitAmount),
		Currency:   stripe.String(p.Currency),
		Recurring: &stripe.PriceRecurringParams{
			Interval: stripe.String(p.Interval),
		},
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	created, err := s.api.Prices.New(params)
	if err != nil {
		return nil, err
	}
	price := toPrice(created)
	return &price, nil
}

func (s *Stripe) CreateSubscription(ctx context.Context, p SubscriptionParams) (*Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(p.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(p.PriceID)},
		},
		PaymentBehavior: stripe.String(p.PaymentBehavior),
		PaymentSettings: &stripe.SubscriptionPaymentSettingsParams{
			SaveDefaultPaymentMethod: stripe.String("on_subscription"),
		},
	}
	params.Context = ctx
	if p.ExpandLatestInvoicePaymentIntent {
		params.AddExpand("latest_invoice.payment_intent")
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	sub, err := s.api.Subscriptions.New(params)
	if err != nil {
		return nil, err
	}

	out := &Subscription{ID: sub.ID, Status: string(sub.Status)}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.LatestInvoice != nil {
		// an unexpanded intent carries only its id and no client secret
		if pi := sub.LatestInvoice.PaymentIntent; pi != nil && pi.ClientSecret != "" {
			out.LatestPaymentIntent = toPaymentIntent(pi)
		}
	}
	return out, nil
}

func (s *Stripe) CreatePaymentIntent(ctx context.Context, p PaymentIntentParams) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(p.Amount),
		Currency: stripe.String(p.Currency),
	}
	params.Context = ctx
	if p.CustomerID != "" {
		params.Customer = stripe.String(p.CustomerID)
	}
	if p.AutomaticPaymentMethods {
		params.AutomaticPaymentMethods = &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		}
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, err
	}
	return toPaymentIntent(pi), nil
}

func (s *Stripe) UpdatePaymentIntentMetadata(ctx context.Context, paymentIntentID string, metadata map[string]string) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	pi, err := s.api.PaymentIntents.Update(paymentIntentID, params)
	if err != nil {
		return nil, err
	}
	return toPaymentIntent(pi), nil
}

// ParseEvent verifies the Stripe-Signature header and normalizes payment intent events.
func (s *Stripe) ParseEvent(payload []byte, signature string) (*model.PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSignature, err.Error())
	}
	eventType := string(event.Type)
	if !strings.HasPrefix(eventType, "payment_intent.") || event.Data == nil {
		return nil, ErrUnsupportedEvent
	}

	pi := stripe.PaymentIntent{}
	if err = json.Unmarshal(event.Data.Raw, &pi); err != nil {
		rlog.Error("Unmarshal payment intent failed:", err.Error())
		return nil, err
	}

	out := &model.PaymentEvent{
		EventID:         event.ID,
		Type:            eventType,
		PaymentIntentID: pi.ID,
		Amount:          pi.Amount,
		Currency:        string(pi.Currency),
		Metadata:        pi.Metadata,
		OccurredAt:      time.Unix(event.Created, 0).UTC(),
	}
	if pi.Customer != nil {
		out.ProcessorCustomerID = pi.Customer.ID
	}
	if pi.LatestCharge != nil {
		out.ChargeID = pi.LatestCharge.ID
	}
	if pi.LastPaymentError != nil {
		out.FailureReason = pi.LastPaymentError.Msg
	}
	return out, nil
}

func toPrice(p *stripe.Price) Price {
	price := Price{
		ID:         p.ID,
		UnitAmount: p.UnitAmount,
		Currency:   string(p.Currency),
	}
	if p.Product != nil {
		price.ProductID = p.Product.ID
	}
	if p.Recurring != nil {
		price.Interval = string(p.Recurring.Interval)
	}
	return price
}

func toPaymentIntent(pi *stripe.PaymentIntent) *PaymentIntent {
	out := &PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
	}
	if pi.Customer != nil {
		out.CustomerID = pi.Customer.ID
	}
	return out
}
