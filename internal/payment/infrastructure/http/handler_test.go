package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nelani/payment-gateway/internal/payment/application"
	"github.com/nelani/payment-gateway/internal/payment/domain"
	"github.com/nelani/payment-gateway/internal/provider"
)

type fakePayments struct {
	initialize func(ctx context.Context, orderID, amount string, providerID domain.Provider) (*application.PaymentView, error)
	resume     func(ctx context.Context, orderID string) (*application.PaymentView, error)
	list       func(ctx context.Context, q application.ListQuery) ([]application.PaymentView, int64, error)
}

func (f *fakePayments) Initialize(ctx context.Context, orderID, amount string, providerID domain.Provider) (*application.PaymentView, error) {
	return f.initialize(ctx, orderID, amount, providerID)
}

func (f *fakePayments) Resume(ctx context.Context, orderID string) (*application.PaymentView, error) {
	return f.resume(ctx, orderID)
}

func (f *fakePayments) List(ctx context.Context, q application.ListQuery) ([]application.PaymentView, int64, error) {
	return f.list(ctx, q)
}

type fakeWebhooks struct {
	handle func(ctx context.Context, providerID domain.Provider, payload []byte, signature string) error
}

func (f *fakeWebhooks) HandleWebhook(ctx context.Context, providerID domain.Provider, payload []byte, signature string) error {
	return f.handle(ctx, providerID, payload, signature)
}

func newServer(payments PaymentService, webhooks WebhookService) *httptest.Server {
	h := NewHandler(slog.New(slog.DiscardHandler), payments, webhooks)
	return httptest.NewServer(h.Routes())
}

func sampleView(status domain.Status) *application.PaymentView {
	return &application.PaymentView{
		OrderID:      "ORD-1",
		ClientID:     "pi_123",
		ClientSecret: "pi_123_secret",
		Amount:       "150.00",
		Provider:     domain.ProviderStripe,
		Status:       status,
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    time.Now().UTC().Add(24 * time.Hour),
	}
}

func TestInitializePayment(t *testing.T) {
	payments := &fakePayments{
		initialize: func(ctx context.Context, orderID, amount string, providerID domain.Provider) (*application.PaymentView, error) {
			assert.Equal(t, "ORD-1", orderID)
			assert.Equal(t, "150.00", amount)
			assert.Equal(t, domain.ProviderStripe, providerID)
			return sampleView(domain.StatusPending), nil
		},
	}
	srv := newServer(payments, nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/payments", "application/json",
		strings.NewReader(`{"order_id":"ORD-1","amount":"150.00","provider":"stripe"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view application.PaymentView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "pi_123_secret", view.ClientSecret)
	assert.Equal(t, domain.StatusPending, view.Status)
}

func TestInitializePayment_InvalidBody(t *testing.T) {
	srv := newServer(&fakePayments{}, nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/payments", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInitializePayment_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"already paid", application.ErrAlreadyPaid, http.StatusConflict},
		{"resume instead", application.ErrResumeInstead, http.StatusConflict},
		{"invalid amount", application.ErrInvalidAmount, http.StatusBadRequest},
		{"unknown provider", provider.ErrUnsupported, http.StatusBadRequest},
		{"order id missing", domain.ErrOrderIDRequired, http.StatusBadRequest},
		{"provider exhausted", fmt.Errorf("%w: stripe", provider.ErrUnavailable), http.StatusServiceUnavailable},
		{"misconfigured", provider.ErrMisconfigured, http.StatusInternalServerError},
		{"state transition", domain.ErrInvalidStateTransition, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payments := &fakePayments{
				initialize: func(ctx context.Context, orderID, amount string, providerID domain.Provider) (*application.PaymentView, error) {
					return nil, tc.err
				},
			}
			srv := newServer(payments, nil)
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/api/payments", "application/json",
				strings.NewReader(`{"order_id":"ORD-1","amount":"1.00","provider":"STRIPE"}`))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestResumePayment(t *testing.T) {
	payments := &fakePayments{
		resume: func(ctx context.Context, orderID string) (*application.PaymentView, error) {
			assert.Equal(t, "ORD-1", orderID)
			return sampleView(domain.StatusPending), nil
		},
	}
	srv := newServer(payments, nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/payments/resume?orderId=ORD-1", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestResumePayment_RequiresOrderID(t *testing.T) {
	srv := newServer(&fakePayments{}, nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/payments/resume", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResumePayment_NotFound(t *testing.T) {
	payments := &fakePayments{
		resume: func(ctx context.Context, orderID string) (*application.PaymentView, error) {
			return nil, application.ErrNotFound
		},
	}
	srv := newServer(payments, nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/payments/resume?orderId=ORD-9", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListPayments(t *testing.T) {
	payments := &fakePayments{
		list: func(ctx context.Context, q application.ListQuery) ([]application.PaymentView, int64, error) {
			assert.Equal(t, application.SortByAmount, q.SortBy)
			assert.True(t, q.Descending)
			assert.Equal(t, 2, q.Page)
			assert.Equal(t, 5, q.Size)
			view := sampleView(domain.StatusSuccess)
			view.ClientID = ""
			view.ClientSecret = ""
			return []application.PaymentView{*view}, 11, nil
		},
	}
	srv := newServer(payments, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/payments?sortBy=amount&order=desc&page=2&size=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body listResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.EqualValues(t, 11, body.Total)
	require.Len(t, body.Items, 1)
	assert.Empty(t, body.Items[0].ClientSecret)
}

func TestHandleWebhook(t *testing.T) {
	var gotProvider domain.Provider
	var gotSignature string
	webhooks := &fakeWebhooks{
		handle: func(ctx context.Context, providerID domain.Provider, payload []byte, signature string) error {
			gotProvider = providerID
			gotSignature = signature
			return nil
		},
	}
	srv := newServer(nil, webhooks)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`))
	require.NoError(t, err)
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.ProviderStripe, gotProvider)
	assert.Equal(t, "t=1,v1=abc", gotSignature)
}

func TestHandleWebhook_UnknownPaymentIs404(t *testing.T) {
	webhooks := &fakeWebhooks{
		handle: func(ctx context.Context, providerID domain.Provider, payload []byte, signature string) error {
			return application.ErrNotFound
		},
	}
	srv := newServer(nil, webhooks)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/webhooks/stripe", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleWebhook_GenericSignatureHeader(t *testing.T) {
	var gotSignature string
	webhooks := &fakeWebhooks{
		handle: func(ctx context.Context, providerID domain.Provider, payload []byte, signature string) error {
			gotSignature = signature
			return nil
		},
	}
	srv := newServer(nil, webhooks)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/ozow", strings.NewReader("{}"))
	require.NoError(t, err)
	req.Header.Set("X-Webhook-Signature", "cafe")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cafe", gotSignature)
}
