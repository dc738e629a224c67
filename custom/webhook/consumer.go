package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/romana/rlog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"gorm.io/datatypes"
	"preorder_hub/constants"
	"preorder_hub/custom/order"
	"preorder_hub/custom/store"
	"preorder_hub/model"
)

const ORDER_NUMBER_PREFIX = "ORD-"
const UNKNOWN_PRODUCT = "Unknown product"

// Consumer persists confirmed payments as orders and transactions.
type Consumer struct {
	store *store.Store
}

func NewConsumer(s *store.Store) *Consumer {
	return &Consumer{store: s}
}

func OrderNumberFor(paymentIntentID string) string {
	return ORDER_NUMBER_PREFIX + paymentIntentID
}

func targetStatus(eventType string) (string, bool) {
	switch eventType {
	case constants.EVENT_PAYMENT_PROCESSING:
		return constants.ORDER_STATUS_PENDING, true
	case constants.EVENT_PAYMENT_SUCCEEDED:
		return constants.ORDER_STATUS_COMPLETED, true
	case constants.EVENT_PAYMENT_FAILED:
		// a declined attempt can still be retried on the same intent
		return constants.ORDER_STATUS_PENDING, true
	case constants.EVENT_PAYMENT_CANCELED:
		return constants.ORDER_STATUS_CANCELLED, true
	}
	return "", false
}

// Handle applies one event in a single database transaction. Redelivered events are no-ops.
func (c *Consumer) Handle(ctx context.Context, event *model.PaymentEvent) error {
	target, ok := targetStatus(event.Type)
	if !ok || event.PaymentIntentID == "" {
		rlog.Infof("Ignore event %s of type %s", event.EventID, event.Type)
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = c.store.Transaction(ctx, func(tx *store.Store) error {
		err := tx.RecordPaymentEvent(ctx, &model.WebhookEvent{
			EventID: event.EventID,
			Type:    event.Type,
			Payload: datatypes.JSON(payload),
		})
		if err != nil {
			return err
		}

		o, completedNow, err := applyOrderStatus(ctx, tx, event, target)
		if err != nil {
			return err
		}
		if err = recordTransaction(ctx, tx, event, o); err != nil {
			return err
		}
		if completedNow {
			return grantLeaks(ctx, tx, event)
		}
		return nil
	})
	if errors.Is(err, store.ErrDuplicateEvent) {
		rlog.Infof("Event %s already processed", event.EventID)
		return nil
	}
	return err
}

// applyOrderStatus creates the order in the target status or moves the existing one there.
// completedNow reports the first arrival in completed.
func applyOrderStatus(ctx context.Context, tx *store.Store, event *model.PaymentEvent, target string) (*model.Order, bool, error) {
	o := newOrder(event, target)
	inserted, err := tx.InsertOrderIfAbsent(ctx, o)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		rlog.Infof("Order %s created with state %s", o.OrderNumber, target)
		return o, target == constants.ORDER_STATUS_COMPLETED, nil
	}

	existing, err := tx.FindOrderByNumber(ctx, o.OrderNumber)
	if err != nil {
		return nil, false, err
	}
	if existing.Status == target {
		return existing, false, nil
	}
	if order.IsTerminal(existing.Status) {
		rlog.Infof("Skip event %s, order %s is already %s", event.EventID, existing.OrderNumber, existing.Status)
		return existing, false, nil
	}
	if err = order.Transition(existing.Status, target); err != nil {
		rlog.Errorf("Skip event %s for order %s: %s", event.EventID, existing.OrderNumber, err.Error())
		return existing, false, nil
	}
	if err = tx.TransitionOrderStatus(ctx, existing.OrderNumber, existing.Status, target); err != nil {
		return nil, false, err
	}
	rlog.Infof("Order %s state was set to %s", existing.OrderNumber, target)
	existing.Status = target
	return existing, target == constants.ORDER_STATUS_COMPLETED, nil
}

func recordTransaction(ctx context.Context, tx *store.Store, event *model.PaymentEvent, o *model.Order) error {
	var status string
	switch event.Type {
	case constants.EVENT_PAYMENT_SUCCEEDED:
		status = constants.TRANSACTION_STATUS_SUCCESS
	case constants.EVENT_PAYMENT_FAILED:
		status = constants.TRANSACTION_STATUS_FAILED
	default:
		return nil
	}

	paymentID := event.ChargeID
	if paymentID == "" {
		paymentID = event.PaymentIntentID
	}
	txn := &model.Transaction{
		OrderID:             &o.ID,
		PaymentID:           paymentID,
		PaymentIntentID:     event.PaymentIntentID,
		ProcessorCustomerID: optional(event.ProcessorCustomerID),
		Amount:              decimal.New(event.Amount, -2),
		Currency:            currencyOf(event),
		Status:              status,
		FailureReason:       optional(event.FailureReason),
	}
	inserted, err := tx.InsertTransactionIfAbsent(ctx, txn)
	if err != nil {
		return err
	}
	if !inserted {
		rlog.Infof("Transaction %s already recorded", paymentID)
	}
	return nil
}

func grantLeaks(ctx context.Context, tx *store.Store, event *model.PaymentEvent) error {
	userID := event.Metadata[constants.META_USER_ID]
	leaks := cast.ToInt(event.Metadata[constants.META_TOTAL_LEAKS])
	if userID == "" || leaks <= 0 {
		return nil
	}
	user, err := tx.UpdateUserLeaks(ctx, userID, leaks)
	if errors.Is(err, store.ErrUserNotFound) {
		rlog.Errorf("Skip granting %d leaks, user %s not found", leaks, userID)
		return nil
	}
	if err != nil {
		return err
	}
	rlog.Infof("Granted %d leaks to user %s, balance %d", leaks, userID, user.Leaks)
	return nil
}

func newOrder(event *model.PaymentEvent, status string) *model.Order {
	meta := event.Metadata
	productName := meta[constants.META_PRODUCT_NAME]
	if productName == "" {
		productName = UNKNOWN_PRODUCT
	}
	purchaseType := meta[constants.META_PURCHASE_TYPE]
	if purchaseType == "" {
		purchaseType = constants.PURCHASE_TYPE_ONE_TIME
	}
	var metadata datatypes.JSON
	if len(meta) > 0 {
		if raw, err := json.Marshal(meta); err == nil {
			metadata = datatypes.JSON(raw)
		}
	}
	o := &model.Order{
		OrderNumber:         OrderNumberFor(event.PaymentIntentID),
		CustomerEmail:       optional(strings.ToLower(meta[constants.META_EMAIL])),
		CustomerID:          optional(meta[constants.META_USER_ID]),
		ProcessorCustomerID: optional(event.ProcessorCustomerID),
		PaymentIntentID:     optional(event.PaymentIntentID),
		SubscriptionID:      optional(meta[constants.META_SUBSCRIPTION_ID]),
		ProductName:         productName,
		PurchaseType:        purchaseType,
		Amount:              decimal.New(event.Amount, -2),
		Currency:            currencyOf(event),
		Status:              status,
		Metadata:            metadata,
	}
	if !event.OccurredAt.IsZero() {
		o.CreatedAt = event.OccurredAt
	}
	return o
}

func currencyOf(event *model.PaymentEvent) string {
	if event.Currency == "" {
		return constants.DEFAULT_CURRENCY
	}
	return strings.ToLower(event.Currency)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
