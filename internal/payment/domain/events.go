package domain

import "time"

// Outbox event types for payment lifecycle changes.
const (
	EventPaymentPending   = "PaymentPending"
	EventPaymentSucceeded = "PaymentSucceeded"
	EventPaymentFailed    = "PaymentFailed"
)

type PaymentPending struct {
	PaymentID string   `json:"payment_id"`
	OrderID   string   `json:"order_id"`
	Provider  Provider `json:"provider"`
	Amount    string   `json:"amount"`
}

type PaymentSucceeded struct {
	PaymentID   string    `json:"payment_id"`
	OrderID     string    `json:"order_id"`
	Provider    Provider  `json:"provider"`
	Amount      string    `json:"amount"`
	CompletedAt time.Time `json:"completed_at"`
}

type PaymentFailed struct {
	PaymentID string   `json:"payment_id"`
	OrderID   string   `json:"order_id"`
	Provider  Provider `json:"provider"`
}
