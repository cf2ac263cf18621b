package application

import (
	"time"

	"github.com/nelani/payment-gateway/internal/payment/domain"
	"github.com/nelani/payment-gateway/internal/provider"
)

// PaymentView is the client-facing shape of a payment. ClientID and
// ClientSecret are only populated on the initialize/resume paths; listings
// never carry them.
type PaymentView struct {
	OrderID      string          `json:"order_id"`
	ClientID     string          `json:"client_id,omitempty"`
	ClientSecret string          `json:"client_secret,omitempty"`
	Amount       string          `json:"amount"`
	Provider     domain.Provider `json:"provider"`
	Status       domain.Status   `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

func toView(p *domain.Payment, session *provider.SessionResult) *PaymentView {
	v := &PaymentView{
		OrderID:     p.OrderID,
		Amount:      p.Amount.StringFixed(2),
		Provider:    p.Provider,
		Status:      p.Status,
		CreatedAt:   p.CreatedAt,
		ExpiresAt:   p.ExpiresAt,
		CompletedAt: p.CompletedAt,
	}
	if session != nil {
		v.ClientID = session.Reference
		v.ClientSecret = session.ClientSecret
	}
	return v
}
