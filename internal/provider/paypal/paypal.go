// Package paypal implements the provider contract against the PayPal
// Orders API.
package paypal

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	paypalsdk "github.com/plutov/paypal/v4"

	"github.com/nelani/payment-gateway/internal/payment/domain"
	"github.com/nelani/payment-gateway/internal/provider"
)

type Config struct {
	ClientID string
	Secret   string
	// Live switches the API base from sandbox to production.
	Live bool
	// WebhookSecret authenticates deliveries from the webhook relay that
	// terminates PayPal's transmission-signature scheme in front of us.
	WebhookSecret string
	BrandName     string
	Currency      string
}

type Adapter struct {
	log           *slog.Logger
	client        *paypalsdk.Client
	webhookSecret string
	brandName     string
	currency      string
}

func New(log *slog.Logger, cfg Config) (*Adapter, error) {
	base := paypalsdk.APIBaseSandBox
	if cfg.Live {
		base = paypalsdk.APIBaseLive
	}
	c, err := paypalsdk.NewClient(cfg.ClientID, cfg.Secret, base)
	if err != nil {
		return nil, fmt.Errorf("paypal client: %w", err)
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "USD"
	}
	return &Adapter{
		log:           log,
		client:        c,
		webhookSecret: cfg.WebhookSecret,
		brandName:     cfg.BrandName,
		currency:      currency,
	}, nil
}

func (a *Adapter) Identify() domain.Provider { return domain.ProviderPayPal }

func (a *Adapter) SupportsResume() bool { return true }

// CreateSession opens a PayPal order with CAPTURE intent. The internal
// payment ID rides in custom_id and comes back on capture webhooks; the
// invoice ID doubles as PayPal's own duplicate guard for retried attempts.
func (a *Adapter) CreateSession(ctx context.Context, p *domain.Payment) (*provider.SessionResult, error) {
	a.log.Info("creating paypal order", "payment_id", p.ID, "order_id", p.OrderID)

	amount := p.Amount.StringFixed(2)
	units := []paypalsdk.PurchaseUnitRequest{{
		ReferenceID: p.OrderID,
		CustomID:    p.ID.String(),
		InvoiceID:   "INV-" + p.OrderID,
		Description: "Order payment",
		Amount: &paypalsdk.PurchaseUnitAmount{
			Currency: a.currency,
			Value:    amount,
		},
	}}
	appCtx := &paypalsdk.ApplicationContext{
		BrandName:          a.brandName,
		UserAction:         paypalsdk.UserActionPayNow,
		ShippingPreference: paypalsdk.ShippingPreferenceNoShipping,
	}

	order, err := a.client.CreateOrder(ctx, paypalsdk.OrderIntentCapture, units, nil, appCtx)
	if err != nil {
		return nil, a.translate(err, p)
	}

	a.log.Info("paypal order created", "payment_id", p.ID, "paypal_order_id", order.ID)
	// The order ID is what the client SDK needs to drive approval.
	return &provider.SessionResult{
		Provider:     domain.ProviderPayPal,
		Reference:    order.ID,
		ClientSecret: order.ID,
	}, nil
}

func (a *Adapter) ResumeSession(ctx context.Context, p *domain.Payment) (*provider.SessionResult, error) {
	a.log.Info("resuming paypal order", "payment_id", p.ID, "paypal_order_id", p.ProviderReference)

	order, err := a.client.GetOrder(ctx, p.ProviderReference)
	if err != nil {
		return nil, a.translate(err, p)
	}
	if order.Status == "COMPLETED" {
		a.log.Warn("resume attempted on completed order", "payment_id", p.ID, "paypal_order_id", order.ID)
		return nil, provider.ErrAlreadyCompleted
	}

	return &provider.SessionResult{
		Provider:     domain.ProviderPayPal,
		Reference:    order.ID,
		ClientSecret: order.ID,
	}, nil
}

// webhookEvent is the slice of a PayPal event the reconciler needs.
type webhookEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		CustomID string `json:"custom_id"`
	} `json:"resource"`
}

// VerifyAndParseWebhook authenticates the relay's HMAC-SHA256 over the
// payload and classifies capture events. Approval events are ignored;
// only captures are terminal.
func (a *Adapter) VerifyAndParseWebhook(payload []byte, signature string) (*provider.Event, error) {
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	mac.Write(payload)
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return nil, provider.ErrInvalidSignature
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		a.log.Warn("paypal webhook payload is not valid json")
		return nil, nil
	}

	var succeeded bool
	switch event.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		succeeded = true
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		succeeded = false
	default:
		a.log.Debug("unhandled paypal event type", "type", event.EventType)
		return nil, nil
	}

	if event.Resource.CustomID == "" {
		a.log.Warn("paypal event missing custom_id", "event_id", event.ID)
		return nil, nil
	}
	paymentID, err := uuid.Parse(event.Resource.CustomID)
	if err != nil {
		a.log.Warn("paypal event carries malformed custom_id", "event_id", event.ID)
		return nil, nil
	}

	return &provider.Event{ID: event.ID, PaymentID: paymentID, Succeeded: succeeded}, nil
}

func (a *Adapter) translate(err error, p *domain.Payment) error {
	var apiErr *paypalsdk.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		code := apiErr.Response.StatusCode
		switch {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			a.log.Error("paypal authentication failure", "payment_id", p.ID, "err", err)
			return provider.ErrMisconfigured
		case code >= http.StatusInternalServerError || code == http.StatusTooManyRequests:
			a.log.Warn("transient paypal failure", "payment_id", p.ID, "err", err)
			return fmt.Errorf("%w: paypal", provider.ErrTemporary)
		case code >= http.StatusBadRequest:
			a.log.Error("paypal rejected request", "payment_id", p.ID, "err", err)
			return provider.ErrInvalidRequest
		}
	}
	// Network issues, timeouts, DNS and the like.
	a.log.Warn("paypal call failed", "payment_id", p.ID, "err", err)
	return fmt.Errorf("%w: paypal", provider.ErrTemporary)
}
