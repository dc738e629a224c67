package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

var ALL_TABLES []interface{} = []interface{}{
	User{}, Order{}, Transaction{}, Preorder{}, EmailSubscriber{}, WebhookEvent{},
}

type User struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	Name         *string   `json:"name,omitempty"`
	Email        string    `json:"email" gorm:"uniqueIndex;size:255;not null"`
	PasswordHash string    `json:"-" gorm:"size:255;not null"`
	Leaks        int       `json:"leaks" gorm:"not null;default:0"`
	Role         string    `json:"role" gorm:"size:16;not null;default:'user'"`
	IsActive     bool      `json:"isActive" gorm:"not null;default:true"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Order struct {
	ID                  uint            `json:"id" gorm:"primaryKey;autoIncrement"`
	OrderNumber         string          `json:"orderNumber" gorm:"uniqueIndex;size:128;not null"`
	CustomerEmail       *string         `json:"customerEmail,omitempty" gorm:"index;size:255"`
	CustomerID          *string         `json:"customerId,omitempty" gorm:"index;size:36"`
	ProcessorCustomerID *string         `json:"stripeCustomerId,omitempty" gorm:"size:128"`
	PaymentIntentID     *string         `json:"paymentIntentId,omitempty" gorm:"index;size:128"`
	SubscriptionID      *string         `json:"subscriptionId,omitempty" gorm:"size:128"`
	ProductName         string          `json:"productName" gorm:"size:255;not null"`
	PurchaseType        string          `json:"purchaseType" gorm:"index;size:16;not null;default:'one_time'"`
	Amount              decimal.Decimal `json:"amount" gorm:"type:decimal(10,2);not null"`
	Currency            string          `json:"currency" gorm:"size:3;not null;default:'usd'"`
	Status              string          `json:"status" gorm:"index;size:16;not null;default:'pending'"`
	Metadata            datatypes.JSON  `json:"metadata,omitempty"`
	CreatedAt           time.Time       `json:"createdAt" gorm:"index"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

type Transaction struct {
	ID                  uint            `json:"id" gorm:"primaryKey;autoIncrement"`
	OrderID             *uint           `json:"orderId,omitempty" gorm:"index"`
	PaymentID           string          `json:"paymentId" gorm:"uniqueIndex;size:128;not null"`
	PaymentIntentID     string          `json:"paymentIntentId" gorm:"index;size:128"`
	ProcessorCustomerID *string         `json:"stripeCustomerId,omitempty" gorm:"size:128"`
	Amount              decimal.Decimal `json:"amount" gorm:"type:decimal(10,2);not null"`
	Currency            string          `json:"currency" gorm:"size:3;not null;default:'usd'"`
	Status              string          `json:"status" gorm:"size:16;not null"`
	FailureReason       *string         `json:"failureReason,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
}

type Preorder struct {
	ID           uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	Notes        *string    `json:"notes,omitempty"`
	SelectedDate *time.Time `json:"selectedDate,omitempty" gorm:"type:date"`
	ReleaseDate  *time.Time `json:"releaseDate,omitempty" gorm:"index"`
	CreatedAt    time.Time  `json:"createdAt" gorm:"index"`
}

type EmailSubscriber struct {
	ID             uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	Email          string     `json:"email" gorm:"uniqueIndex;size:255;not null"`
	Status         string     `json:"status" gorm:"size:16;not null;default:'active'"`
	SubscribedAt   time.Time  `json:"subscribedAt"`
	UnsubscribedAt *time.Time `json:"unsubscribedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// WebhookEvent is the dedupe ledger for processor events.
type WebhookEvent struct {
	ID        uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	EventID   string         `json:"eventId" gorm:"uniqueIndex;size:128;not null"`
	Type      string         `json:"type" gorm:"size:64;not null"`
	Payload   datatypes.JSON `json:"payload"`
	CreatedAt time.Time      `json:"createdAt"`
}

// PaymentEvent is a processor event normalized for the message queue. Amount is in minor units.
type PaymentEvent struct {
	EventID             string            `json:"event_id"`
	Type                string            `json:"type"`
	PaymentIntentID     string            `json:"payment_intent_id"`
	ChargeID            string            `json:"charge_id,omitempty"`
	ProcessorCustomerID string            `json:"customer_id,omitempty"`
	Amount              int64             `json:"amount"`
	Currency            string            `json:"currency"`
	FailureReason       string            `json:"failure_reason,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	OccurredAt          time.Time         `json:"occurred_at"`
}
