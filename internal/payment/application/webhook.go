package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nelani/payment-gateway/internal/payment/domain"
	"github.com/nelani/payment-gateway/internal/provider"
)

// WebhookService reconciles asynchronous provider callbacks with local
// payment records. Unverifiable or irrelevant deliveries are discarded
// without error; a verified event naming an unknown payment is a real
// inconsistency and is surfaced.
type WebhookService struct {
	log      *slog.Logger
	store    PaymentStore
	registry *provider.Registry
	seen     SeenStore

	now func() time.Time
}

// NewWebhookService builds the reconciler. seen may be nil; dedup then
// falls back to the idempotent transitions alone.
func NewWebhookService(log *slog.Logger, store PaymentStore, registry *provider.Registry, seen SeenStore) *WebhookService {
	return &WebhookService{
		log:      log,
		store:    store,
		registry: registry,
		seen:     seen,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// HandleWebhook verifies the delivery with the provider's adapter and
// applies the terminal transition it reports. Redelivery of the same event
// is safe: the seen-store short-circuits it, and the transitions tolerate
// re-application even when it does not.
func (ws *WebhookService) HandleWebhook(ctx context.Context, providerID domain.Provider, payload []byte, signature string) error {
	adapter, err := ws.registry.Get(providerID)
	if err != nil {
		return err
	}

	event, err := adapter.VerifyAndParseWebhook(payload, signature)
	if err != nil {
		// Never log payload or signature contents here.
		if errors.Is(err, provider.ErrInvalidSignature) {
			ws.log.Warn("webhook signature verification failed", "provider", providerID)
		} else {
			ws.log.Warn("webhook rejected by adapter", "provider", providerID, "err", err)
		}
		return nil
	}
	if event == nil {
		// Irrelevant event type or unmappable metadata.
		return nil
	}

	if ws.seen != nil && event.ID != "" {
		key := fmt.Sprintf("webhook:%s:%s", providerID, event.ID)
		dup, err := ws.seen.Seen(ctx, key)
		if err != nil {
			ws.log.Warn("webhook dedup check failed, continuing", "provider", providerID, "err", err)
		} else if dup {
			ws.log.Info("duplicate webhook delivery skipped", "provider", providerID, "event_id", event.ID)
			return nil
		}
	}

	p, err := ws.store.Get(ctx, event.PaymentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			ws.log.Error("webhook names unknown payment", "provider", providerID, "payment_id", event.PaymentID)
		}
		return err
	}

	if err := ws.apply(ctx, p, event.Succeeded); err != nil {
		return err
	}

	ws.log.Info("webhook reconciled", "provider", providerID, "payment_id", p.ID, "succeeded", event.Succeeded)
	return nil
}

// apply performs the terminal transition and persists it under CAS,
// retrying the read-modify-write once on a version conflict.
func (ws *WebhookService) apply(ctx context.Context, p *domain.Payment, succeeded bool) error {
	for attempt := 0; ; attempt++ {
		// Already in the reported terminal state: nothing to persist, the
		// redelivery is acknowledged without a second transition.
		if succeeded && p.Status == domain.StatusSuccess {
			return nil
		}
		if !succeeded && p.Status == domain.StatusFailed {
			return nil
		}

		var ev EventRecord
		if succeeded {
			if err := p.MarkSuccess(ws.now()); err != nil {
				return err
			}
			ev = eventRecordFor(ctx, p, domain.EventPaymentSucceeded)
		} else {
			if err := p.MarkFailed(); err != nil {
				return err
			}
			ev = eventRecordFor(ctx, p, domain.EventPaymentFailed)
		}

		err := ws.store.Put(ctx, p, p.Version, ev)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) || attempt > 0 {
			return err
		}

		fresh, getErr := ws.store.Get(ctx, p.ID)
		if getErr != nil {
			return fmt.Errorf("reload after version conflict: %w", getErr)
		}
		p = fresh
	}
}

func eventRecordFor(ctx context.Context, p *domain.Payment, eventType string) EventRecord {
	switch eventType {
	case domain.EventPaymentSucceeded:
		completed := time.Now().UTC()
		if p.CompletedAt != nil {
			completed = *p.CompletedAt
		}
		return marshalEventRecord(ctx, eventType, domain.PaymentSucceeded{
			PaymentID:   p.ID.String(),
			OrderID:     p.OrderID,
			Provider:    p.Provider,
			Amount:      p.Amount.StringFixed(2),
			CompletedAt: completed,
		})
	default:
		return marshalEventRecord(ctx, eventType, domain.PaymentFailed{
			PaymentID: p.ID.String(),
			OrderID:   p.OrderID,
			Provider:  p.Provider,
		})
	}
}
