// Package stripe implements the provider contract against the Stripe
// PaymentIntents API.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	stripeapi "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/nelani/payment-gateway/internal/payment/domain"
	"github.com/nelani/payment-gateway/internal/provider"
)

// metadataPaymentID is the only reliable link between a Stripe event and
// the internal payment record.
const metadataPaymentID = "payment_id"

type Config struct {
	SecretKey     string
	WebhookSecret string
	// Currency in ISO 4217 lowercase; defaults to zar.
	Currency string
}

type Adapter struct {
	log           *slog.Logger
	api           *client.API
	webhookSecret string
	currency      string
}

func New(log *slog.Logger, cfg Config) *Adapter {
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	currency := cfg.Currency
	if currency == "" {
		currency = string(stripeapi.CurrencyZAR)
	}
	return &Adapter{
		log:           log,
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		currency:      currency,
	}
}

func (a *Adapter) Identify() domain.Provider { return domain.ProviderStripe }

func (a *Adapter) SupportsResume() bool { return true }

// CreateSession opens a PaymentIntent for the payment. Stripe expects the
// amount in the smallest currency unit, and the idempotency key collapses
// retried attempts onto one intent.
func (a *Adapter) CreateSession(ctx context.Context, p *domain.Payment) (*provider.SessionResult, error) {
	a.log.Info("creating stripe payment intent", "payment_id", p.ID, "order_id", p.OrderID)

	cents := p.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	params := &stripeapi.PaymentIntentParams{
		Params:      stripeapi.Params{Context: ctx},
		Amount:      stripeapi.Int64(cents),
		Currency:    stripeapi.String(a.currency),
		Description: stripeapi.String("Order " + p.OrderID),
		AutomaticPaymentMethods: &stripeapi.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripeapi.Bool(true),
		},
	}
	params.AddMetadata(metadataPaymentID, p.ID.String())
	params.AddMetadata("order_id", p.OrderID)
	params.AddMetadata("expires_at", p.ExpiresAt.Format(time.RFC3339))
	params.SetIdempotencyKey(provider.IdempotencyKey(p))

	intent, err := a.api.PaymentIntents.New(params)
	if err != nil {
		return nil, a.translate(err, p)
	}

	a.log.Info("stripe payment intent created", "payment_id", p.ID, "intent_id", intent.ID)
	return &provider.SessionResult{
		Provider:     domain.ProviderStripe,
		Reference:    intent.ID,
		ClientSecret: intent.ClientSecret,
	}, nil
}

// ResumeSession retrieves the existing intent; it never creates a new one
// and is safe to retry.
func (a *Adapter) ResumeSession(ctx context.Context, p *domain.Payment) (*provider.SessionResult, error) {
	a.log.Info("resuming stripe payment intent", "payment_id", p.ID, "intent_id", p.ProviderReference)

	params := &stripeapi.PaymentIntentParams{Params: stripeapi.Params{Context: ctx}}
	intent, err := a.api.PaymentIntents.Get(p.ProviderReference, params)
	if err != nil {
		return nil, a.translate(err, p)
	}

	// Stripe already finalized this intent: resuming it would paper over a
	// local/remote mismatch.
	if intent.Status == stripeapi.PaymentIntentStatusSucceeded {
		a.log.Warn("resume attempted on completed intent", "payment_id", p.ID, "intent_id", intent.ID)
		return nil, provider.ErrAlreadyCompleted
	}

	return &provider.SessionResult{
		Provider:     domain.ProviderStripe,
		Reference:    intent.ID,
		ClientSecret: intent.ClientSecret,
	}, nil
}

// VerifyAndParseWebhook authenticates the delivery against the endpoint's
// signing secret and classifies payment intent lifecycle events. Anything
// else is ignored.
func (a *Adapter) VerifyAndParseWebhook(payload []byte, signature string) (*provider.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, a.webhookSecret)
	if err != nil {
		return nil, provider.ErrInvalidSignature
	}

	var succeeded bool
	switch event.Type {
	case "payment_intent.succeeded":
		succeeded = true
	case "payment_intent.payment_failed", "payment_intent.canceled":
		succeeded = false
	default:
		a.log.Debug("unhandled stripe event type", "type", event.Type)
		return nil, nil
	}

	var intent stripeapi.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		a.log.Warn("stripe event carries no payment intent", "event_id", event.ID)
		return nil, nil
	}

	raw, ok := intent.Metadata[metadataPaymentID]
	if !ok {
		a.log.Warn("stripe event missing payment_id metadata", "event_id", event.ID, "intent_id", intent.ID)
		return nil, nil
	}
	paymentID, err := uuid.Parse(raw)
	if err != nil {
		a.log.Warn("stripe event carries malformed payment_id", "event_id", event.ID, "intent_id", intent.ID)
		return nil, nil
	}

	return &provider.Event{ID: event.ID, PaymentID: paymentID, Succeeded: succeeded}, nil
}

// translate maps Stripe SDK errors onto the shared taxonomy. Provider
// error bodies stay in server-side logs only.
func (a *Adapter) translate(err error, p *domain.Payment) error {
	var sErr *stripeapi.Error
	if errors.As(err, &sErr) {
		switch {
		case sErr.HTTPStatusCode == http.StatusUnauthorized || sErr.HTTPStatusCode == http.StatusForbidden:
			a.log.Error("stripe authentication failure", "payment_id", p.ID, "err", err)
			return provider.ErrMisconfigured
		case sErr.HTTPStatusCode == http.StatusTooManyRequests || sErr.HTTPStatusCode >= http.StatusInternalServerError:
			a.log.Warn("transient stripe failure", "payment_id", p.ID, "err", err)
			return fmt.Errorf("%w: stripe", provider.ErrTemporary)
		case sErr.Type == stripeapi.ErrorTypeInvalidRequest || sErr.Type == stripeapi.ErrorTypeCard:
			a.log.Error("stripe rejected request", "payment_id", p.ID, "err", err)
			return provider.ErrInvalidRequest
		}
	}
	a.log.Warn("stripe call failed", "payment_id", p.ID, "err", err)
	return fmt.Errorf("%w: stripe", provider.ErrTemporary)
}
