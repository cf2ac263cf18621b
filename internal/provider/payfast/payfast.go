// Package payfast implements the provider contract for PayFast, a
// redirect-based processor. Sessions are signed URLs built locally; the
// terminal outcome arrives via PayFast's ITN callback.
package payfast

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/nelani/payment-gateway/internal/payment/domain"
	"github.com/nelani/payment-gateway/internal/provider"
)

const (
	processURL        = "https://www.payfast.co.za/eng/process"
	sandboxProcessURL = "https://sandbox.payfast.co.za/eng/process"

	statusComplete  = "COMPLETE"
	statusFailed    = "FAILED"
	statusCancelled = "CANCELLED"
)

type Config struct {
	MerchantID  string
	MerchantKey string
	Passphrase  string
	NotifyURL   string
	Sandbox     bool
}

type Adapter struct {
	log *slog.Logger
	cfg Config
}

func New(log *slog.Logger, cfg Config) *Adapter {
	return &Adapter{log: log, cfg: cfg}
}

func (a *Adapter) Identify() domain.Provider { return domain.ProviderPayFast }

// SupportsResume is false: PayFast has no session to re-fetch; the signed
// URL is deterministic and re-initialization rebuilds it.
func (a *Adapter) SupportsResume() bool { return false }

// CreateSession builds the signed process URL. No remote call happens
// here; m_payment_id carries the internal payment ID, which makes the
// session naturally idempotent per payment.
func (a *Adapter) CreateSession(ctx context.Context, p *domain.Payment) (*provider.SessionResult, error) {
	a.log.Info("building payfast session", "payment_id", p.ID, "order_id", p.OrderID)

	// PayFast signs fields in generation order, not alphabetically.
	fields := []field{
		{"merchant_id", a.cfg.MerchantID},
		{"merchant_key", a.cfg.MerchantKey},
		{"notify_url", a.cfg.NotifyURL},
		{"m_payment_id", p.ID.String()},
		{"amount", p.Amount.StringFixed(2)},
		{"item_name", "Order " + p.OrderID},
	}
	sig := signature(fields, a.cfg.Passphrase)
	fields = append(fields, field{"signature", sig})

	base := processURL
	if a.cfg.Sandbox {
		base = sandboxProcessURL
	}
	redirect := base + "?" + encode(fields)

	return &provider.SessionResult{
		Provider:     domain.ProviderPayFast,
		Reference:    p.ID.String(),
		ClientSecret: redirect,
	}, nil
}

func (a *Adapter) ResumeSession(ctx context.Context, p *domain.Payment) (*provider.SessionResult, error) {
	return nil, fmt.Errorf("%w: payfast sessions cannot be resumed", provider.ErrInvalidRequest)
}

// VerifyAndParseWebhook validates a PayFast ITN post. The signature is an
// MD5 over the form fields in their received order plus the passphrase, so
// the raw body is split by hand rather than through url.ParseQuery.
func (a *Adapter) VerifyAndParseWebhook(payload []byte, signatureHeader string) (*provider.Event, error) {
	fields, sig, err := parseITN(string(payload))
	if err != nil {
		return nil, provider.ErrInvalidSignature
	}
	if sig == "" {
		sig = signatureHeader
	}
	if signature(fields, a.cfg.Passphrase) != sig {
		return nil, provider.ErrInvalidSignature
	}

	values := map[string]string{}
	for _, f := range fields {
		values[f.key] = f.value
	}

	var succeeded bool
	switch values["payment_status"] {
	case statusComplete:
		succeeded = true
	case statusFailed, statusCancelled:
		succeeded = false
	default:
		a.log.Debug("unhandled payfast payment status", "status", values["payment_status"])
		return nil, nil
	}

	paymentID, err := uuid.Parse(values["m_payment_id"])
	if err != nil {
		a.log.Warn("payfast itn carries malformed m_payment_id")
		return nil, nil
	}

	return &provider.Event{
		ID:        values["pf_payment_id"],
		PaymentID: paymentID,
		Succeeded: succeeded,
	}, nil
}

type field struct {
	key   string
	value string
}

// signature is PayFast's MD5 over "k1=v1&k2=v2...&passphrase=p" with
// PHP-style urlencoding (spaces become '+').
func signature(fields []field, passphrase string) string {
	base := encode(fields)
	if passphrase != "" {
		base += "&passphrase=" + url.QueryEscape(passphrase)
	}
	sum := md5.Sum([]byte(base))
	return hex.EncodeToString(sum[:])
}

func encode(fields []field) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		parts = append(parts, f.key+"="+url.QueryEscape(f.value))
	}
	return strings.Join(parts, "&")
}

// parseITN splits the form body preserving field order and pulls the
// signature field out of the signed set.
func parseITN(body string) ([]field, string, error) {
	var fields []field
	var sig string
	for _, pair := range strings.Split(body, "&") {
		if pair == "" {
			continue
		}
		key, rawValue, found := strings.Cut(pair, "=")
		if !found {
			return nil, "", fmt.Errorf("malformed pair %q", key)
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, "", err
		}
		if key == "signature" {
			sig = value
			continue
		}
		fields = append(fields, field{key: key, value: value})
	}
	return fields, sig, nil
}
