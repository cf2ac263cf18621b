package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nelani/payment-gateway/internal/payment/domain"
)

// Error taxonomy shared by every adapter. Adapters must translate their
// SDK/transport errors into one of these before returning; nothing
// provider-specific leaks past this package.
var (
	// ErrTemporary marks network/timeout/5xx-class failures. Retryable.
	ErrTemporary = errors.New("provider temporarily unavailable")
	// ErrInvalidRequest marks requests the provider rejected as malformed
	// or against business rules. Not retryable.
	ErrInvalidRequest = errors.New("invalid provider request")
	// ErrMisconfigured marks auth/config failures. Not retryable and
	// alert-worthy.
	ErrMisconfigured = errors.New("provider configuration error")
	// ErrUnavailable is surfaced after the retry budget is exhausted.
	ErrUnavailable = errors.New("provider unavailable after retries")
	// ErrAlreadyCompleted signals a resume on a session the provider
	// reports as finalized; a local/remote mismatch, never retried.
	ErrAlreadyCompleted = errors.New("payment already completed at provider")
	// ErrInvalidSignature marks unauthenticated webhook payloads.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrUnsupported is returned by the registry for unknown providers.
	ErrUnsupported = errors.New("unsupported provider")
)

// SessionResult is what a provider hands back after opening or re-fetching
// a remote session. ClientSecret is the client-facing token (a Stripe
// client secret, a redirect URL, a QR string) and must never be logged.
type SessionResult struct {
	Provider     domain.Provider
	Reference    string
	ClientSecret string
}

// Event is a verified, relevant webhook translated into internal terms.
type Event struct {
	// ID is the provider's event identifier, used for delivery dedup.
	ID        string
	PaymentID uuid.UUID
	Succeeded bool
}

// Adapter is the uniform contract one payment provider implements.
type Adapter interface {
	Identify() domain.Provider

	// CreateSession opens a new remote session for the payment's amount
	// and order. Implementations must pass IdempotencyKey(p) so retries of
	// the same logical attempt never create duplicate remote sessions.
	CreateSession(ctx context.Context, p *domain.Payment) (*SessionResult, error)

	// SupportsResume reports whether the remote session can be fetched
	// again without creating a new one. A permanent capability flag, not
	// an error state.
	SupportsResume() bool

	// ResumeSession re-fetches the session named by p.ProviderReference.
	// Fails with ErrAlreadyCompleted if the provider reports it finalized.
	ResumeSession(ctx context.Context, p *domain.Payment) (*SessionResult, error)

	// VerifyAndParseWebhook authenticates payload against the provider's
	// signing scheme and classifies it. A nil Event with a nil error means
	// the event is irrelevant and safely ignored. Returns
	// ErrInvalidSignature on authentication failure; implementations must
	// not log payload or signature contents.
	VerifyAndParseWebhook(payload []byte, signature string) (*Event, error)
}

// IdempotencyKey derives the deterministic token adapters pass to their
// provider so remote-side retries collapse onto one session.
func IdempotencyKey(p *domain.Payment) string {
	return "payment-" + p.ID.String()
}

// Registry resolves a provider identifier to its adapter. Built once at
// startup and never mutated, so it is safe to share across requests.
type Registry struct {
	adapters map[domain.Provider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[domain.Provider]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Identify()] = a
	}
	return &Registry{adapters: m}
}

func (r *Registry) Get(id domain.Provider) (Adapter, error) {
	a, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, id)
	}
	return a, nil
}
