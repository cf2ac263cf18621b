package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusInitiating Status = "INITIATING"
	StatusPending    Status = "PENDING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
	StatusExpired    Status = "EXPIRED"
)

// Provider identifies the external payment provider that owns a session.
type Provider string

const (
	ProviderStripe  Provider = "STRIPE"
	ProviderPayPal  Provider = "PAYPAL"
	ProviderPayFast Provider = "PAYFAST"
	ProviderOzow    Provider = "OZOW"
	ProviderZapper  Provider = "ZAPPER"
)

// DefaultSessionTTL is how long a payment session stays completable.
const DefaultSessionTTL = 24 * time.Hour

var (
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrOrderIDRequired        = errors.New("order id is required")
	ErrOrderIDTooLong         = errors.New("order id must not exceed 100 characters")
	ErrAmountNotPositive      = errors.New("amount must be greater than zero")
)

// Payment is one payment attempt for an order. State only changes through
// the mark* transitions below; callers must persist after mutating.
type Payment struct {
	ID                uuid.UUID
	OrderID           string
	Amount            decimal.Decimal
	Provider          Provider
	ProviderReference string
	Status            Status
	CreatedAt         time.Time
	ExpiresAt         time.Time
	CompletedAt       *time.Time
	Version           int64
}

// New creates a payment in INITIATING with a freshly assigned ID.
func New(orderID string, amount decimal.Decimal, provider Provider, ttl time.Duration, now time.Time) (*Payment, error) {
	if orderID == "" {
		return nil, ErrOrderIDRequired
	}
	if len(orderID) > 100 {
		return nil, ErrOrderIDTooLong
	}
	if !amount.IsPositive() {
		return nil, ErrAmountNotPositive
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	now = now.UTC()
	return &Payment{
		ID:        uuid.New(),
		OrderID:   orderID,
		Amount:    amount,
		Provider:  provider,
		Status:    StatusInitiating,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// IsExpired reports whether the session lifetime has passed, regardless of
// whether the status field has been flipped to EXPIRED yet.
func (p *Payment) IsExpired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// ExpireIfNeeded lazily applies the time-based transition to EXPIRED.
// It reports whether the status changed, so callers know to persist.
// SUCCESS never expires; a completed payment stays completed.
func (p *Payment) ExpireIfNeeded(now time.Time) bool {
	if p.Status == StatusExpired || p.Status == StatusSuccess {
		return false
	}
	if !p.IsExpired(now) {
		return false
	}
	p.Status = StatusExpired
	return true
}

// MarkInitiating re-enters INITIATING for a fresh provider attempt.
// Active (unexpired PENDING) and completed payments cannot be re-initiated.
func (p *Payment) MarkInitiating(now time.Time) error {
	if p.Status == StatusSuccess {
		return fmt.Errorf("%w: cannot re-initiate a successful payment", ErrInvalidStateTransition)
	}
	if p.Status == StatusPending && !p.IsExpired(now) {
		return fmt.Errorf("%w: cannot re-initiate an active payment", ErrInvalidStateTransition)
	}
	p.Status = StatusInitiating
	return nil
}

// MarkPending records a successfully created provider session. The provider
// may differ from the one originally requested if routing changed.
func (p *Payment) MarkPending(provider Provider, providerRef string) {
	p.Status = StatusPending
	p.Provider = provider
	p.ProviderReference = providerRef
}

// MarkSuccess applies the terminal success transition and stamps
// CompletedAt. Re-applying it to an already successful payment is a no-op
// so that redelivered webhooks stay idempotent.
func (p *Payment) MarkSuccess(now time.Time) error {
	if p.Status == StatusSuccess {
		return nil
	}
	if p.Status == StatusExpired {
		return fmt.Errorf("%w: cannot complete an expired payment", ErrInvalidStateTransition)
	}
	completed := now.UTC()
	p.Status = StatusSuccess
	p.CompletedAt = &completed
	return nil
}

// MarkFailed applies the failure transition. A successful payment can never
// be demoted.
func (p *Payment) MarkFailed() error {
	if p.Status == StatusSuccess {
		return fmt.Errorf("%w: cannot fail a successful payment", ErrInvalidStateTransition)
	}
	p.Status = StatusFailed
	return nil
}

// CanBeResumed reports whether the existing provider session is still live.
func (p *Payment) CanBeResumed(now time.Time) bool {
	return p.Status == StatusPending && !p.IsExpired(now)
}

// CanBeReinitialized reports whether a new provider session may be opened
// under the same order ID. Clock expiry counts even if the status field has
// not been flipped yet.
func (p *Payment) CanBeReinitialized(now time.Time) bool {
	if p.Status == StatusExpired || p.Status == StatusFailed || p.Status == StatusInitiating {
		return true
	}
	return p.Status != StatusSuccess && p.IsExpired(now)
}
