package application

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nelani/payment-gateway/internal/payment/domain"
	"github.com/nelani/payment-gateway/internal/provider"
)

type fakeSeen struct {
	keys map[string]bool
	err  error
}

func (f *fakeSeen) Seen(ctx context.Context, key string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.keys == nil {
		f.keys = map[string]bool{}
	}
	dup := f.keys[key]
	f.keys[key] = true
	return dup, nil
}

func webhookAdapter(id domain.Provider, event *provider.Event, err error) *fakeAdapter {
	a := happyAdapter(id)
	a.webhookFn = func(payload []byte, signature string) (*provider.Event, error) {
		return event, err
	}
	return a
}

func pendingPayment(t *testing.T, store *fakeStore) *domain.Payment {
	t.Helper()
	svc := newTestService(store, happyAdapter(domain.ProviderStripe))
	_, err := svc.Initialize(context.Background(), "ORD-1", "150.00", domain.ProviderStripe)
	require.NoError(t, err)
	p, err := store.GetByOrderID(context.Background(), "ORD-1")
	require.NoError(t, err)
	return p
}

func newTestWebhookService(store PaymentStore, seen SeenStore, adapters ...provider.Adapter) *WebhookService {
	ws := NewWebhookService(slog.New(slog.DiscardHandler), store, provider.NewRegistry(adapters...), seen)
	ws.now = func() time.Time { return testNow }
	return ws
}

func TestHandleWebhook_SuccessEvent(t *testing.T) {
	store := newFakeStore()
	p := pendingPayment(t, store)

	ws := newTestWebhookService(store, nil,
		webhookAdapter(domain.ProviderStripe, &provider.Event{ID: "evt-1", PaymentID: p.ID, Succeeded: true}, nil))

	err := ws.HandleWebhook(context.Background(), domain.ProviderStripe, []byte(`{}`), "sig")
	require.NoError(t, err)

	got, _ := store.Get(context.Background(), p.ID)
	assert.Equal(t, domain.StatusSuccess, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, testNow, *got.CompletedAt)
}

func TestHandleWebhook_DuplicateDeliveryIsIdempotent(t *testing.T) {
	store := newFakeStore()
	p := pendingPayment(t, store)

	ws := newTestWebhookService(store, nil,
		webhookAdapter(domain.ProviderStripe, &provider.Event{ID: "evt-1", PaymentID: p.ID, Succeeded: true}, nil))

	require.NoError(t, ws.HandleWebhook(context.Background(), domain.ProviderStripe, []byte(`{}`), "sig"))
	putsAfterFirst := store.puts

	require.NoError(t, ws.HandleWebhook(context.Background(), domain.ProviderStripe, []byte(`{}`), "sig"))
	assert.Equal(t, putsAfterFirst, store.puts, "second delivery must not persist a second transition")

	got, _ := store.Get(context.Background(), p.ID)
	assert.Equal(t, domain.StatusSuccess, got.Status)
}

func TestHandleWebhook_SeenStoreShortCircuits(t *testing.T) {
	store := newFakeStore()
	p := pendingPayment(t, store)
	seen := &fakeSeen{}

	ws := newTestWebhookService(store, seen,
		webhookAdapter(domain.ProviderStripe, &provider.Event{ID: "evt-1", PaymentID: p.ID, Succeeded: true}, nil))

	require.NoError(t, ws.HandleWebhook(context.Background(), domain.ProviderStripe, []byte(`{}`), "sig"))
	putsAfterFirst := store.puts

	require.NoError(t, ws.HandleWebhook(context.Background(), domain.ProviderStripe, []byte(`{}`), "sig"))
	assert.Equal(t, putsAfterFirst, store.puts)
}

func TestHandleWebhook_SeenStoreFailureFallsThrough(t *testing.T) {
	store := newFakeStore()
	p := pendingPayment(t, store)
	seen := &fakeSeen{err: context.DeadlineExceeded}

	ws := newTestWebhookService(store, seen,
		webhookAdapter(domain.ProviderStripe, &provider.Event{ID: "evt-1", PaymentID: p.ID, Succeeded: true}, nil))

	require.NoError(t, ws.HandleWebhook(context.Background(), domain.ProviderStripe, []byte(`{}`), "sig"))

	got, _ := store.Get(context.Background(), p.ID)
	assert.Equal(t, domain.StatusSuccess, got.Status, "dedup outage must not drop the event")
}

func TestHandleWebhook_FailureEvent(t *testing.T) {
	store := newFakeStore()
	p := pendingPayment(t, store)

	ws := newTestWebhookService(store, nil,
		webhookAdapter(domain.ProviderStripe, &provider.Event{ID: "evt-1", PaymentID: p.ID, Succeeded: false}, nil))

	require.NoError(t, ws.HandleWebhook(context.Background(), domain.ProviderStripe, []byte(`{}`), "sig"))

	got, _ := store.Get(context.Background(), p.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Nil(t, got.CompletedAt)
}

func TestHandleWebhook_FailureNeverDemotesSuccess(t *testing.T) {
	store := newFakeStore()
	p := pendingPayment(t, store)
	require.NoError(t, p.MarkSuccess(testNow))
	require.NoError(t, store.Put(context.Background(), p, p.Version))

	ws := newTestWebhookService(store, nil,
		webhookAdapter(domain.ProviderStripe, &provider.Event{ID: "evt-2", PaymentID: p.ID, Succeeded: false}, nil))

	err := ws.HandleWebhook(context.Background(), domain.ProviderStripe, []byte(`{}`), "sig")
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	got, _ := store.Get(context.Background(), p.ID)
	assert.Equal(t, domain.StatusSuccess, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestHandleWebhook_InvalidSignatureIsDiscarded(t *testing.T) {
	store := newFakeStore()
	pendingPayment(t, store)

	ws := newTestWebhookService(store, nil,
		webhookAdapter(domain.ProviderStripe, nil, provider.ErrInvalidSignature))

	err := ws.HandleWebhook(context.Background(), domain.ProviderStripe, []byte(`{}`), "bad-sig")
	assert.NoError(t, err, "unverifiable deliveries are terminal at the boundary")
}

func TestHandleWebhook_IrrelevantEventIsIgnored(t *testing.T) {
	store := newFakeStore()
	pendingPayment(t, store)
	putsBefore := store.puts

	ws := newTestWebhookService(store, nil, webhookAdapter(domain.ProviderStripe, nil, nil))

	require.NoError(t, ws.HandleWebhook(context.Background(), domain.ProviderStripe, []byte(`{}`), "sig"))
	assert.Equal(t, putsBefore, store.puts)
}

func TestHandleWebhook_UnknownPaymentIsSurfaced(t *testing.T) {
	store := newFakeStore()

	ws := newTestWebhookService(store, nil,
		webhookAdapter(domain.ProviderStripe, &provider.Event{ID: "evt-1", PaymentID: uuid.New(), Succeeded: true}, nil))

	err := ws.HandleWebhook(context.Background(), domain.ProviderStripe, []byte(`{}`), "sig")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHandleWebhook_UnsupportedProvider(t *testing.T) {
	ws := newTestWebhookService(newFakeStore(), nil, happyAdapter(domain.ProviderStripe))

	err := ws.HandleWebhook(context.Background(), domain.Provider("APPLEPAY"), []byte(`{}`), "sig")
	assert.ErrorIs(t, err, provider.ErrUnsupported)
}

func TestHandleWebhook_VersionConflictRetriesAgainstFreshState(t *testing.T) {
	store := newFakeStore()
	p := pendingPayment(t, store)

	// A racing writer completes the payment between our read and write.
	conflicted := false
	store.beforePut = func() error {
		if !conflicted {
			conflicted = true
			cur := store.byID[p.ID]
			require.NoError(t, cur.MarkSuccess(testNow))
			cur.Version++
			store.byID[p.ID] = cur
			return ErrVersionConflict
		}
		return nil
	}

	ws := newTestWebhookService(store, nil,
		webhookAdapter(domain.ProviderStripe, &provider.Event{ID: "evt-1", PaymentID: p.ID, Succeeded: false}, nil))

	err := ws.HandleWebhook(context.Background(), domain.ProviderStripe, []byte(`{}`), "sig")
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition, "retry must surface the state guard, not loop")

	got, _ := store.Get(context.Background(), p.ID)
	assert.Equal(t, domain.StatusSuccess, got.Status)
}
