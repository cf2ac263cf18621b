package payfast

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nelani/payment-gateway/internal/payment/domain"
	"github.com/nelani/payment-gateway/internal/provider"
)

func newTestAdapter() *Adapter {
	return New(slog.New(slog.DiscardHandler), Config{
		MerchantID:  "10000100",
		MerchantKey: "46f0cd694581a",
		Passphrase:  "pass phrase",
		NotifyURL:   "https://gateway.example/webhooks/PAYFAST",
		Sandbox:     true,
	})
}

func testPayment(t *testing.T) *domain.Payment {
	t.Helper()
	p, err := domain.New("ORD-1", decimal.RequireFromString("150.00"), domain.ProviderPayFast, 0, time.Now())
	require.NoError(t, err)
	return p
}

func TestCreateSession_BuildsSignedRedirect(t *testing.T) {
	a := newTestAdapter()
	p := testPayment(t)

	res, err := a.CreateSession(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, p.ID.String(), res.Reference)
	require.True(t, strings.HasPrefix(res.ClientSecret, sandboxProcessURL+"?"))

	u, err := url.Parse(res.ClientSecret)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "150.00", q.Get("amount"))
	assert.Equal(t, p.ID.String(), q.Get("m_payment_id"))
	assert.NotEmpty(t, q.Get("signature"))
}

func TestCreateSession_IsDeterministicPerPayment(t *testing.T) {
	a := newTestAdapter()
	p := testPayment(t)

	first, err := a.CreateSession(context.Background(), p)
	require.NoError(t, err)
	second, err := a.CreateSession(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, first.ClientSecret, second.ClientSecret, "retried attempts must not mint new sessions")
}

func itnBody(a *Adapter, paymentID uuid.UUID, status string) string {
	fields := []field{
		{"m_payment_id", paymentID.String()},
		{"pf_payment_id", "1089250"},
		{"payment_status", status},
		{"amount_gross", "150.00"},
	}
	sig := signature(fields, a.cfg.Passphrase)
	return encode(fields) + "&signature=" + url.QueryEscape(sig)
}

func TestVerifyAndParseWebhook_Complete(t *testing.T) {
	a := newTestAdapter()
	paymentID := uuid.New()

	event, err := a.VerifyAndParseWebhook([]byte(itnBody(a, paymentID, statusComplete)), "")
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "1089250", event.ID)
	assert.Equal(t, paymentID, event.PaymentID)
	assert.True(t, event.Succeeded)
}

func TestVerifyAndParseWebhook_FailedAndCancelled(t *testing.T) {
	a := newTestAdapter()
	for _, status := range []string{statusFailed, statusCancelled} {
		event, err := a.VerifyAndParseWebhook([]byte(itnBody(a, uuid.New(), status)), "")
		require.NoError(t, err, status)
		require.NotNil(t, event, status)
		assert.False(t, event.Succeeded, status)
	}
}

func TestVerifyAndParseWebhook_TamperedBody(t *testing.T) {
	a := newTestAdapter()
	body := itnBody(a, uuid.New(), statusComplete)
	tampered := strings.Replace(body, "150.00", "1.00", 1)

	event, err := a.VerifyAndParseWebhook([]byte(tampered), "")
	assert.ErrorIs(t, err, provider.ErrInvalidSignature)
	assert.Nil(t, event)
}

func TestVerifyAndParseWebhook_UnknownStatusIgnored(t *testing.T) {
	a := newTestAdapter()

	event, err := a.VerifyAndParseWebhook([]byte(itnBody(a, uuid.New(), "PENDING")), "")
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestResumeSession_Unsupported(t *testing.T) {
	a := newTestAdapter()
	assert.False(t, a.SupportsResume())

	_, err := a.ResumeSession(context.Background(), testPayment(t))
	assert.ErrorIs(t, err, provider.ErrInvalidRequest)
}
