package application

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/nelani/payment-gateway/internal/payment/domain"
)

// Store-level errors. The store never invents its own taxonomy; these are
// the only failures the core branches on.
var (
	ErrNotFound        = errors.New("payment not found")
	ErrDuplicateOrder  = errors.New("order id already has a payment")
	ErrVersionConflict = errors.New("payment was modified concurrently")
)

// SortField names a payment attribute listings can be ordered by.
type SortField string

const (
	SortByAmount      SortField = "amount"
	SortByStatus      SortField = "status"
	SortByProvider    SortField = "provider"
	SortByCreatedAt   SortField = "created_at"
	SortByExpiresAt   SortField = "expires_at"
	SortByCompletedAt SortField = "completed_at"
)

// ListQuery describes pagination and ordering for payment listings.
// Sorting and paging mechanics belong entirely to the store.
type ListQuery struct {
	SortBy     SortField
	Descending bool
	Page       int
	Size       int
}

// Page is one page of payments plus the total match count.
type Page struct {
	Items []domain.Payment
	Page  int
	Size  int
	Total int64
}

// EventRecord is an outbox row written atomically with a payment mutation.
type EventRecord struct {
	Type        string
	Payload     []byte
	Traceparent string
}

// PaymentStore is the durable collection of payment records, keyed by
// internal ID and unique order ID. Put applies a compare-and-swap on the
// record version and bumps it on success; writers racing on the same
// record see ErrVersionConflict and must re-read.
type PaymentStore interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error)
	Create(ctx context.Context, p *domain.Payment, events ...EventRecord) error
	Put(ctx context.Context, p *domain.Payment, expectedVersion int64, events ...EventRecord) error
	List(ctx context.Context, q ListQuery) (*Page, error)
}

// SeenStore short-circuits redelivered webhook events. Best effort: the
// reconciler stays idempotent without it.
type SeenStore interface {
	Seen(ctx context.Context, key string) (bool, error)
}
