package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nelani/payment-gateway/internal/payment/application"
	"github.com/nelani/payment-gateway/internal/payment/domain"
)

func newPayment(t *testing.T, orderID, amount string) *domain.Payment {
	t.Helper()
	p, err := domain.New(orderID, decimal.RequireFromString(amount), domain.ProviderStripe, 0, time.Now())
	require.NoError(t, err)
	return p
}

func TestStore_CreateAndGet(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	p := newPayment(t, "ORD-1", "150.00")
	require.NoError(t, s.Create(ctx, p))

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	byOrder, err := s.GetByOrderID(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byOrder.ID)

	err = s.Create(ctx, newPayment(t, "ORD-1", "9.99"))
	assert.ErrorIs(t, err, application.ErrDuplicateOrder)
}

func TestStore_PutCAS(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	p := newPayment(t, "ORD-1", "150.00")
	require.NoError(t, s.Create(ctx, p))

	p.MarkPending(domain.ProviderStripe, "pi_1")
	require.NoError(t, s.Put(ctx, p, 0))
	assert.EqualValues(t, 1, p.Version)

	stale := *p
	assert.ErrorIs(t, s.Put(ctx, &stale, 0), application.ErrVersionConflict)

	missing := newPayment(t, "ORD-2", "1.00")
	assert.ErrorIs(t, s.Put(ctx, missing, 0), application.ErrNotFound)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	p := newPayment(t, "ORD-1", "150.00")
	require.NoError(t, s.Create(ctx, p))

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	got.MarkPending(domain.ProviderStripe, "pi_1")

	again, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInitiating, again.Status, "mutating a read result must not touch the store")
}

func TestStore_ListSortsAndPaginates(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	for i, amount := range []string{"30.00", "10.00", "20.00"} {
		require.NoError(t, s.Create(ctx, newPayment(t, "ORD-"+string(rune('A'+i)), amount)))
	}

	page, err := s.List(ctx, application.ListQuery{SortBy: application.SortByAmount, Size: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	require.Len(t, page.Items, 2)
	assert.True(t, page.Items[0].Amount.Equal(decimal.RequireFromString("10.00")))

	second, err := s.List(ctx, application.ListQuery{SortBy: application.SortByAmount, Size: 2, Page: 1})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.True(t, second.Items[0].Amount.Equal(decimal.RequireFromString("30.00")))

	past, err := s.List(ctx, application.ListQuery{Size: 2, Page: 9})
	require.NoError(t, err)
	assert.Empty(t, past.Items)
}
