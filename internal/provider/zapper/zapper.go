// Package zapper implements the provider contract for Zapper QR
// payments. The QR code string is assembled locally from merchant and
// site identifiers; payment outcomes arrive on Zapper's webhook, signed
// with a shared HMAC key.
package zapper

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nelani/payment-gateway/internal/payment/domain"
	"github.com/nelani/payment-gateway/internal/provider"
)

const qrBaseURL = "https://2.zap.pe"

type Config struct {
	MerchantID string
	SiteID     string
	// WebhookKey is the shared HMAC key for webhook deliveries.
	WebhookKey string
}

type Adapter struct {
	log *slog.Logger
	cfg Config
}

func New(log *slog.Logger, cfg Config) *Adapter {
	return &Adapter{log: log, cfg: cfg}
}

func (a *Adapter) Identify() domain.Provider { return domain.ProviderZapper }

// SupportsResume is false: the QR string is deterministic per payment,
// so re-initialization reproduces it.
func (a *Adapter) SupportsResume() bool { return false }

// CreateSession builds the Zapper QR code string. The reference field
// carries the internal payment ID so webhook deliveries can be matched
// back; no remote call is involved.
func (a *Adapter) CreateSession(ctx context.Context, p *domain.Payment) (*provider.SessionResult, error) {
	a.log.Info("building zapper qr code", "payment_id", p.ID, "order_id", p.OrderID)

	// Zapper QR format: base:merchant:site?amount=<cents>&reference=<ref>.
	cents := p.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	qr := fmt.Sprintf("%s:%s:%s?amount=%d&reference=%s",
		qrBaseURL, a.cfg.MerchantID, a.cfg.SiteID, cents, p.ID)

	return &provider.SessionResult{
		Provider:     domain.ProviderZapper,
		Reference:    p.ID.String(),
		ClientSecret: qr,
	}, nil
}

func (a *Adapter) ResumeSession(ctx context.Context, p *domain.Payment) (*provider.SessionResult, error) {
	return nil, fmt.Errorf("%w: zapper sessions cannot be resumed", provider.ErrInvalidRequest)
}

type webhookEvent struct {
	PaymentID string `json:"paymentId"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// VerifyAndParseWebhook authenticates the HMAC-SHA256 signature over the
// raw payload and classifies the delivery.
func (a *Adapter) VerifyAndParseWebhook(payload []byte, signature string) (*provider.Event, error) {
	mac := hmac.New(sha256.New, []byte(a.cfg.WebhookKey))
	mac.Write(payload)
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(signature))) {
		return nil, provider.ErrInvalidSignature
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		a.log.Warn("zapper webhook payload is not valid json")
		return nil, nil
	}

	var succeeded bool
	switch event.Status {
	case "SUCCESSFUL":
		succeeded = true
	case "FAILED", "CANCELLED":
		succeeded = false
	default:
		a.log.Debug("unhandled zapper status", "status", event.Status)
		return nil, nil
	}

	paymentID, err := uuid.Parse(event.Reference)
	if err != nil {
		a.log.Warn("zapper webhook carries malformed reference")
		return nil, nil
	}

	return &provider.Event{ID: event.PaymentID, PaymentID: paymentID, Succeeded: succeeded}, nil
}
