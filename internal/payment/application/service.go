package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/nelani/payment-gateway/internal/payment/domain"
	"github.com/nelani/payment-gateway/internal/provider"
)

// Orchestration errors surfaced to the transport layer as conflicts or
// bad requests.
var (
	ErrAlreadyPaid       = errors.New("order already paid")
	ErrResumeInstead     = errors.New("payment is pending, resume it instead")
	ErrSessionExpired    = errors.New("payment session expired")
	ErrNotResumable      = errors.New("payment cannot be resumed")
	ErrResumeUnsupported = errors.New("payment provider does not support resume")
)

// Service owns the payment lifecycle: it validates transition legality,
// drives provider calls and persists results. It holds no state across
// requests beyond its immutable collaborators.
type Service struct {
	log      *slog.Logger
	store    PaymentStore
	registry *provider.Registry
	ttl      time.Duration

	now func() time.Time
}

func NewService(log *slog.Logger, store PaymentStore, registry *provider.Registry, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = domain.DefaultSessionTTL
	}
	return &Service{
		log:      log,
		store:    store,
		registry: registry,
		ttl:      ttl,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Initialize creates or re-initializes the payment for orderID and opens a
// provider session for it. The operation is idempotent per order ID: a
// retried request lands on the same record, and the provider call carries a
// deterministic idempotency token, so no duplicate remote sessions appear.
func (s *Service) Initialize(ctx context.Context, orderID string, amount string, providerID domain.Provider) (*PaymentView, error) {
	now := s.now()

	p, err := s.store.GetByOrderID(ctx, orderID)
	switch {
	case errors.Is(err, ErrNotFound):
		p, err = newPayment(orderID, amount, providerID, s.ttl, now)
		if err != nil {
			return nil, err
		}
		if err := s.store.Create(ctx, p); err != nil {
			return nil, fmt.Errorf("create payment: %w", err)
		}
		s.log.Info("payment created", "payment_id", p.ID, "order_id", orderID, "provider", providerID)
	case err != nil:
		return nil, fmt.Errorf("load payment: %w", err)
	default:
		if p.ExpireIfNeeded(now) {
			if err := s.put(ctx, p); err != nil {
				return nil, err
			}
		}

		if p.CanBeReinitialized(now) {
			if err := p.MarkInitiating(now); err != nil {
				return nil, err
			}
			p.Provider = providerID
			// A re-initialized payment opens a fresh session, so it gets a
			// fresh lifetime; otherwise a reinit after expiry would produce
			// a session that is already unresumable.
			p.ExpiresAt = now.Add(s.ttl)
			if err := s.put(ctx, p); err != nil {
				return nil, err
			}
			s.log.Info("payment re-initialized", "payment_id", p.ID, "order_id", orderID, "provider", providerID)
		} else if p.Status == domain.StatusSuccess {
			return nil, ErrAlreadyPaid
		} else if p.Status == domain.StatusPending {
			return nil, ErrResumeInstead
		}
	}

	adapter, err := s.registry.Get(p.Provider)
	if err != nil {
		return nil, err
	}

	session, err := adapter.CreateSession(ctx, p)
	if err != nil {
		return nil, s.recordProviderFailure(ctx, p, err)
	}

	p.MarkPending(session.Provider, session.Reference)
	ev := marshalEventRecord(ctx, domain.EventPaymentPending, domain.PaymentPending{
		PaymentID: p.ID.String(),
		OrderID:   p.OrderID,
		Provider:  p.Provider,
		Amount:    p.Amount.StringFixed(2),
	})
	if err := s.putWithEvents(ctx, p, ev); err != nil {
		return nil, err
	}

	s.log.Info("payment session created", "payment_id", p.ID, "order_id", orderID, "provider", p.Provider)
	return toView(p, session), nil
}

// Resume re-fetches the live provider session for a pending payment. It
// never mutates the record beyond lazy expiry.
func (s *Service) Resume(ctx context.Context, orderID string) (*PaymentView, error) {
	now := s.now()

	p, err := s.store.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if p.ExpireIfNeeded(now) {
		if err := s.put(ctx, p); err != nil {
			return nil, err
		}
	}
	if p.Status == domain.StatusExpired {
		return nil, ErrSessionExpired
	}
	if !p.CanBeResumed(now) {
		return nil, fmt.Errorf("%w: current status %s", ErrNotResumable, p.Status)
	}

	adapter, err := s.registry.Get(p.Provider)
	if err != nil {
		return nil, err
	}
	if !adapter.SupportsResume() {
		return nil, ErrResumeUnsupported
	}

	session, err := adapter.ResumeSession(ctx, p)
	if err != nil {
		return nil, err
	}

	s.log.Info("payment session resumed", "payment_id", p.ID, "order_id", orderID, "provider", p.Provider)
	return toView(p, session), nil
}

// List returns one page of payments, sorted by the store. Views carry no
// client secrets.
func (s *Service) List(ctx context.Context, q ListQuery) ([]PaymentView, int64, error) {
	page, err := s.store.List(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	views := make([]PaymentView, 0, len(page.Items))
	for i := range page.Items {
		views = append(views, *toView(&page.Items[i], nil))
	}
	return views, page.Total, nil
}

func newPayment(orderID, amount string, providerID domain.Provider, ttl time.Duration, now time.Time) (*domain.Payment, error) {
	amt, err := parseAmount(amount)
	if err != nil {
		return nil, err
	}
	return domain.New(orderID, amt, providerID, ttl, now)
}

// recordProviderFailure keeps the local record consistent with the error
// category: failed attempts become FAILED so the order can be
// re-initialized, while configuration errors leave the record in
// INITIATING untouched until an operator intervenes.
func (s *Service) recordProviderFailure(ctx context.Context, p *domain.Payment, provErr error) error {
	if errors.Is(provErr, provider.ErrUnavailable) || errors.Is(provErr, provider.ErrInvalidRequest) {
		if err := p.MarkFailed(); err == nil {
			ev := marshalEventRecord(ctx, domain.EventPaymentFailed, domain.PaymentFailed{
				PaymentID: p.ID.String(),
				OrderID:   p.OrderID,
				Provider:  p.Provider,
			})
			if err := s.putWithEvents(ctx, p, ev); err != nil {
				s.log.Error("persist failed payment", "payment_id", p.ID, "err", err)
			}
		}
	}
	s.log.Warn("provider session creation failed", "payment_id", p.ID, "provider", p.Provider, "err", provErr)
	return provErr
}

// put persists p under CAS, retrying the read-modify-write once on a
// version conflict by carrying the already-applied state onto the fresh
// version. A second conflict is surfaced as-is.
func (s *Service) put(ctx context.Context, p *domain.Payment) error {
	return s.putWithEvents(ctx, p)
}

func (s *Service) putWithEvents(ctx context.Context, p *domain.Payment, events ...EventRecord) error {
	err := s.store.Put(ctx, p, p.Version, events...)
	if !errors.Is(err, ErrVersionConflict) {
		return err
	}

	fresh, getErr := s.store.Get(ctx, p.ID)
	if getErr != nil {
		return fmt.Errorf("reload after version conflict: %w", getErr)
	}
	// The racing writer may have moved the record into a state our
	// transition is no longer legal from; re-validate instead of blindly
	// overwriting.
	if fresh.Status == domain.StatusSuccess && p.Status != domain.StatusSuccess {
		return fmt.Errorf("%w: payment completed concurrently", domain.ErrInvalidStateTransition)
	}
	p.Version = fresh.Version
	return s.store.Put(ctx, p, p.Version, events...)
}

// marshalEventRecord marshals an outbox payload and attaches the current
// trace context so downstream consumers join the same trace.
func marshalEventRecord(ctx context.Context, eventType string, payload any) EventRecord {
	body, _ := json.Marshal(payload)
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return EventRecord{
		Type:        eventType,
		Payload:     body,
		Traceparent: carrier["traceparent"],
	}
}
